package rotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"choreline/internal/domain"
)

func rotating(mode domain.RotationMode) domain.Chore {
	return domain.Chore{ID: "trash", Assignees: []string{"alice", "bob", "carol"}, Rotation: mode}
}

func TestAdvanceSimpleWrapsAround(t *testing.T) {
	c := rotating(domain.RotationSimple)
	rs := Init(c)
	assert.Equal(t, "alice", rs.Holder)

	rs = Advance(c, rs, "alice", nil)
	assert.Equal(t, "bob", rs.Holder)
	rs = Advance(c, rs, "bob", nil)
	rs = Advance(c, rs, "carol", nil)
	assert.Equal(t, "alice", rs.Holder)
}

func TestAdvanceStealContinuesFromApprover(t *testing.T) {
	c := rotating(domain.RotationSteal)
	rs := domain.RotationState{Holder: "alice"}
	rs = Advance(c, rs, "bob", nil)
	assert.Equal(t, "carol", rs.Holder)
}

func TestAdvanceClearsOverride(t *testing.T) {
	c := rotating(domain.RotationSimple)
	rs, err := Open(c, Init(c))
	require.NoError(t, err)
	assert.True(t, rs.Override)

	rs = Advance(c, rs, "carol", nil)
	assert.False(t, rs.Override)
	assert.Equal(t, "alice", rs.Holder)
}

func TestAdvanceSmartPicksLeastRecent(t *testing.T) {
	c := rotating(domain.RotationSmart)
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := old.Add(48 * time.Hour)
	now := old.Add(72 * time.Hour)

	rs := Advance(c, Init(c), "alice", map[string]domain.Instance{
		"alice": {LastApprovedAt: &now},
		"bob":   {LastApprovedAt: &newer},
		"carol": {LastApprovedAt: &old},
	})
	assert.Equal(t, "carol", rs.Holder)

	rs = Advance(c, rs, "alice", map[string]domain.Instance{
		"alice": {LastApprovedAt: &now},
		"bob":   {},
		"carol": {},
	})
	assert.Equal(t, "bob", rs.Holder, "never-approved assignees tie on configured order")
}

func TestHolderFallsBackWhenRemoved(t *testing.T) {
	c := rotating(domain.RotationSimple)
	rs := &domain.RotationState{Holder: "dave"}
	assert.Equal(t, "alice", Holder(c, rs))
	assert.Equal(t, "alice", Holder(c, nil))

	next := Advance(c, *rs, "dave", nil)
	assert.Equal(t, "bob", next.Holder)
}

func TestSetTurnAndReset(t *testing.T) {
	c := rotating(domain.RotationSimple)
	rs, err := SetTurn(c, Init(c), "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", rs.Holder)

	_, err = SetTurn(c, rs, "mallory")
	assert.ErrorIs(t, err, ErrUnknownAssignee)

	rs, err = Reset(c, rs)
	require.NoError(t, err)
	assert.Equal(t, "alice", rs.Holder)

	_, err = SetTurn(rotating(domain.RotationNone), rs, "bob")
	assert.ErrorIs(t, err, ErrNotRotating)
}

func TestTransition(t *testing.T) {
	c := rotating(domain.RotationSmart)
	current := &domain.RotationState{ChoreID: c.ID, Holder: "bob"}

	kept := Transition(domain.RotationSimple, domain.RotationSmart, c, current)
	require.NotNil(t, kept)
	assert.Equal(t, "bob", kept.Holder)

	assert.Nil(t, Transition(domain.RotationSimple, domain.RotationNone, c, current))

	started := Transition(domain.RotationNone, domain.RotationSteal, c, nil)
	require.NotNil(t, started)
	assert.Equal(t, "alice", started.Holder)
}
