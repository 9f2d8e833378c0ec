package app

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"choreline/internal/config"
	"choreline/internal/domain"
	"choreline/internal/scanner"
)

func openTemp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("home")), 0o644))
	a, err := Open(context.Background(), dir, Options{LogWriter: &bytes.Buffer{}})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestSyncChoresIsIdempotent(t *testing.T) {
	a := openTemp(t)
	ctx := context.Background()
	require.NotEmpty(t, a.Config.Chores)

	res, err := a.SyncChores(ctx, a.Config.Chores, "cli")
	require.NoError(t, err)
	assert.Len(t, res.Created, len(a.Config.Chores))

	res, err = a.SyncChores(ctx, a.Config.Chores, "cli")
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Updated)
	assert.Len(t, res.Unchanged, len(a.Config.Chores))

	changed := append(a.Config.Chores[:0:0], a.Config.Chores...)
	changed[0].Reward += 5
	res, err = a.SyncChores(ctx, changed, "cli")
	require.NoError(t, err)
	assert.Equal(t, []string{changed[0].ID}, res.Updated)
}

func TestOpenWiresScannerAndBalances(t *testing.T) {
	a := openTemp(t)
	ctx := context.Background()
	_, err := a.SyncChores(ctx, a.Config.Chores, "cli")
	require.NoError(t, err)

	report, err := a.Scanner.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, scanner.SweepTick, report.Sweep)
	assert.Positive(t, report.Pairs)
	assert.Empty(t, report.Failures)

	require.NotNil(t, a.Balances)
	balances, err := a.Balances.Balances(ctx)
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestOpenWithoutConfigUsesTemplate(t *testing.T) {
	a, err := Open(context.Background(), t.TempDir(), Options{LogWriter: &bytes.Buffer{}})
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "home", a.Config.Household.ID)
	assert.Equal(t, config.DriverSQLite, a.Config.Store.Driver)
}

func TestSyncChoresKeepsMonthlyAnchor(t *testing.T) {
	a := openTemp(t)
	ctx := context.Background()
	chores := []domain.Chore{{
		ID:         "filters",
		Assignees:  []string{"ana"},
		Recurrence: domain.Recurrence{Frequency: domain.FrequencyMonthly, DueTime: "20:00"},
	}}

	res, err := a.SyncChores(ctx, chores, "cli")
	require.NoError(t, err)
	assert.Equal(t, []string{"filters"}, res.Created)
	stored, err := a.Engine.GetChore(ctx, "filters")
	require.NoError(t, err)
	assert.Positive(t, stored.Recurrence.DayOfMonth)

	res, err = a.SyncChores(ctx, chores, "cli")
	require.NoError(t, err)
	assert.Equal(t, []string{"filters"}, res.Unchanged)
}
