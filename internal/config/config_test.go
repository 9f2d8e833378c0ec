package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"choreline/internal/domain"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default("home")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "home", cfg.Household.ID)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, domain.ResetWaitForAll, cfg.SharedResetOrder)
	require.Len(t, cfg.Chores, 2)
	assert.Equal(t, domain.RotationSimple, cfg.Chores[0].Rotation)
	assert.Equal(t, []string{"mon", "thu"}, cfg.Chores[1].Recurrence.Weekdays)
}

func TestFromYAMLAppliesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
household:
  id: flat
  timezone: Europe/Paris
chores:
  - id: plants
    assignees: [kim]
    recurrence:
      frequency: custom
      interval: 3
      unit: days
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultTick, cfg.Scanner.Tick)
	assert.Equal(t, DefaultRollover, cfg.Scanner.Rollover)
	assert.Equal(t, DefaultWorkers, cfg.Scanner.Workers)
	assert.Equal(t, "Europe/Paris", cfg.Location().String())
	c := cfg.Chores[0]
	assert.Equal(t, "plants", c.Name)
	assert.Equal(t, domain.CompletionIndependent, c.Completion)
	assert.Equal(t, domain.OverdueAtDueDate, c.Overdue)
	assert.Equal(t, domain.DefaultDueTime, c.Recurrence.DueTime)
}

func TestValidateRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"missing id":    "household: {timezone: UTC}\n",
		"bad timezone":  "household: {id: h, timezone: Mars/Base}\n",
		"bad driver":    "household: {id: h}\nstore: {driver: etcd}\n",
		"redis no addr": "household: {id: h}\nstore: {driver: redis}\n",
		"bad tick":      "household: {id: h}\nscanner: {tick: \"every now and then\"}\n",
		"bad order":     "household: {id: h}\nshared_reset_order: sometimes\n",
		"webhook url":   "household: {id: h}\nwebhooks: [{events: [chore.approved]}]\n",
		"bad chore":     "household: {id: h}\nchores: [{id: x}]\n",
		"duplicate chore": `household: {id: h}
chores:
  - {id: x, assignees: [a]}
  - {id: x, assignees: [b]}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadAndMarshal(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)

	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "home", cfg.Household.ID)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "choreline.yml"), []byte(GenerateDefault("casa")), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "casa", cfg.Household.ID)

	out, err := Marshal(cfg)
	require.NoError(t, err)
	again, err := FromYAML(out)
	require.NoError(t, err)
	assert.Equal(t, cfg.Chores, again.Chores)
}

func TestFromYAMLDropsEmptyRecurrenceLists(t *testing.T) {
	cfg, err := FromYAML([]byte(`household:
  id: home
chores:
  - id: dishes
    assignees: [ana]
    recurrence:
      frequency: daily
      weekdays: []
      time_slots: []
`))
	require.NoError(t, err)
	require.Len(t, cfg.Chores, 1)
	assert.Nil(t, cfg.Chores[0].Recurrence.Weekdays)
	assert.Nil(t, cfg.Chores[0].Recurrence.TimeSlots)
}
