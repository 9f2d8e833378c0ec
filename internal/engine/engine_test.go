package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"choreline/internal/config"
	"choreline/internal/db"
	"choreline/internal/domain"
	"choreline/internal/engine"
	"choreline/internal/events"
	"choreline/internal/migrate"
	"choreline/internal/repo"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type testEnv struct {
	Engine   engine.Engine
	Ledger   repo.Ledger
	Recorder *events.Recorder
	Clock    *testClock
	Ctx      context.Context
}

// monday is 2024-03-04 in UTC.
func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 4, hour, minute, 0, 0, time.UTC)
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default("home")
	cfg.Household.Timezone = "UTC"
	eng := engine.New(repo.New(conn), cfg)
	clock := &testClock{t: at(10, 0)}
	eng.Now = clock.Now
	rec := &events.Recorder{}
	eng.Publisher = rec
	l := repo.Ledger{DB: conn}
	eng.Ledger = l
	return testEnv{Engine: eng, Ledger: l, Recorder: rec, Clock: clock, Ctx: context.Background()}
}

func (env testEnv) save(t *testing.T, c domain.Chore) domain.Chore {
	t.Helper()
	saved, err := env.Engine.SaveChore(env.Ctx, c, "parent")
	require.NoError(t, err)
	return saved
}

func daily(id string, assignees ...string) domain.Chore {
	return domain.Chore{
		ID:         id,
		Assignees:  assignees,
		Recurrence: domain.Recurrence{Frequency: domain.FrequencyDaily, DueTime: "20:00"},
		Reward:     1,
	}
}

func stateOf(t *testing.T, env testEnv, choreID, assignee string) domain.State {
	t.Helper()
	st, err := env.Engine.State(env.Ctx, choreID)
	require.NoError(t, err)
	for _, r := range st.Assignees {
		if r.AssigneeID == assignee {
			return r.State
		}
	}
	t.Fatalf("assignee %s not in state of %s", assignee, choreID)
	return ""
}

func TestSharedFirstClaimBlocksPeersAndApprovalIsInherited(t *testing.T) {
	env := newTestEnv(t)
	c := daily("trash", "ana", "ben")
	c.Completion = domain.CompletionSharedFirst
	env.save(t, c)

	res, err := env.Engine.Claim(env.Ctx, "trash", "ana", "ana")
	require.NoError(t, err)
	assert.Equal(t, domain.StateClaimed, res.State)

	st, err := env.Engine.State(env.Ctx, "trash")
	require.NoError(t, err)
	assert.Equal(t, domain.StateClaimed, st.Assignees[1].State)
	assert.False(t, st.Assignees[1].Claimable)
	assert.Equal(t, "ana", st.Assignees[1].InheritedFrom)

	_, err = env.Engine.Claim(env.Ctx, "trash", "ben", "ben")
	var nc *engine.NotClaimableError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, domain.StateClaimed, nc.State)

	_, err = env.Engine.Approve(env.Ctx, "trash", "ana", "parent")
	require.NoError(t, err)

	st, err = env.Engine.State(env.Ctx, "trash")
	require.NoError(t, err)
	assert.Equal(t, domain.StateApproved, st.Summary.Status)
	assert.Equal(t, domain.StateApproved, st.Assignees[1].State)
	assert.Equal(t, "ana", st.Assignees[1].InheritedFrom)
}

func TestConcurrentApprovalsCommitOnce(t *testing.T) {
	env := newTestEnv(t)
	env.save(t, daily("dishes", "ana"))
	_, err := env.Engine.Claim(env.Ctx, "dishes", "ana", "ana")
	require.NoError(t, err)

	const approvers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []engine.ApproveResult
		errs    []error
	)
	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.Engine.Approve(env.Ctx, "dishes", "ana", "parent")
			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	fresh := 0
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].AlreadyApproved {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, env.Recorder.Count(domain.EventApproved))

	stored, err := env.Engine.Events(env.Ctx, domain.EventQuery{ChoreID: "dishes", Type: string(domain.EventApproved)})
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	balances, err := env.Ledger.Balances(env.Ctx)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, 1, balances[0].Postings)
	assert.Equal(t, 1.0, balances[0].Total)
}

func TestRejectAndMissingClaim(t *testing.T) {
	env := newTestEnv(t)
	env.save(t, daily("dishes", "ana"))

	_, err := env.Engine.Approve(env.Ctx, "dishes", "ana", "parent")
	assert.ErrorIs(t, err, engine.ErrNoPendingClaim)
	_, err = env.Engine.Reject(env.Ctx, "dishes", "ana", "parent")
	assert.ErrorIs(t, err, engine.ErrNoPendingClaim)

	_, err = env.Engine.Claim(env.Ctx, "dishes", "ana", "ana")
	require.NoError(t, err)
	res, err := env.Engine.Reject(env.Ctx, "dishes", "ana", "parent")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDue, res.State)
	assert.Equal(t, 1, env.Recorder.Count(domain.EventRejected))

	// A rejected claim is not a consumed one.
	_, err = env.Engine.Approve(env.Ctx, "dishes", "ana", "parent")
	assert.ErrorIs(t, err, engine.ErrNoPendingClaim)

	balances, err := env.Ledger.Balances(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestClaimRequiresAssignment(t *testing.T) {
	env := newTestEnv(t)
	env.save(t, daily("dishes", "ana"))
	_, err := env.Engine.Claim(env.Ctx, "dishes", "zoe", "zoe")
	assert.ErrorIs(t, err, engine.ErrNotAssigned)

	_, err = env.Engine.Claim(env.Ctx, "nope", "ana", "ana")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestClaimWindow(t *testing.T) {
	env := newTestEnv(t)
	c := daily("homework", "ana")
	c.ClaimWindowMinutes = 12 * 60
	env.Clock.Set(at(6, 0))
	env.save(t, c)

	env.Clock.Set(at(7, 0))
	_, err := env.Engine.Claim(env.Ctx, "homework", "ana", "ana")
	var nc *engine.NotClaimableError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, domain.StateWaiting, nc.State)
	assert.Equal(t, domain.LockWaiting, nc.LockReason)

	env.Clock.Set(at(9, 0))
	res, err := env.Engine.Claim(env.Ctx, "homework", "ana", "ana")
	require.NoError(t, err)
	assert.Equal(t, domain.StateClaimed, res.State)
}

func TestUponCompletionSharedAllWaitForAll(t *testing.T) {
	env := newTestEnv(t)
	c := daily("laundry", "ana", "ben")
	c.Completion = domain.CompletionSharedAll
	c.ApprovalReset = domain.ResetUponCompletion
	env.save(t, c)

	for _, a := range []string{"ana", "ben"} {
		_, err := env.Engine.Claim(env.Ctx, "laundry", a, a)
		require.NoError(t, err)
	}
	_, err := env.Engine.Approve(env.Ctx, "laundry", "ana", "parent")
	require.NoError(t, err)

	st, err := env.Engine.State(env.Ctx, "laundry")
	require.NoError(t, err)
	assert.Equal(t, domain.StateApproved, st.Assignees[0].State)
	assert.Equal(t, domain.StateClaimed, st.Summary.Status)

	_, err = env.Engine.Approve(env.Ctx, "laundry", "ben", "parent")
	require.NoError(t, err)

	st, err = env.Engine.State(env.Ctx, "laundry")
	require.NoError(t, err)
	tomorrow := at(20, 0).AddDate(0, 0, 1)
	for i, inst := range st.Instances {
		assert.False(t, inst.IsApprovedThisPeriod, st.Chore.Assignees[i])
		require.NotNil(t, inst.DueAt)
		assert.True(t, inst.DueAt.Equal(tomorrow))
		assert.Equal(t, domain.StatePending, st.Assignees[i].State)
	}
}

func TestUponCompletionSharedAllPerAssignee(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.ResetOrder = domain.ResetPerAssignee
	c := daily("laundry", "ana", "ben")
	c.Completion = domain.CompletionSharedAll
	c.ApprovalReset = domain.ResetUponCompletion
	env.save(t, c)

	_, err := env.Engine.Claim(env.Ctx, "laundry", "ana", "ana")
	require.NoError(t, err)
	_, err = env.Engine.Approve(env.Ctx, "laundry", "ana", "parent")
	require.NoError(t, err)

	st, err := env.Engine.State(env.Ctx, "laundry")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, st.Assignees[0].State)
	assert.True(t, st.Instances[0].DueAt.Equal(at(20, 0).AddDate(0, 0, 1)))
	assert.Equal(t, domain.StateDue, st.Assignees[1].State)
	assert.True(t, st.Instances[1].DueAt.Equal(at(20, 0)))
}

func TestRotationAdvanceAndOpenCycle(t *testing.T) {
	env := newTestEnv(t)
	c := daily("dishes", "ana", "ben")
	c.Rotation = domain.RotationSimple
	c.ApprovalReset = domain.ResetUponCompletion
	env.save(t, c)

	_, err := env.Engine.Claim(env.Ctx, "dishes", "ben", "ben")
	var nc *engine.NotClaimableError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, domain.StateNotMyTurn, nc.State)

	_, err = env.Engine.Claim(env.Ctx, "dishes", "ana", "ana")
	require.NoError(t, err)
	_, err = env.Engine.Approve(env.Ctx, "dishes", "ana", "parent")
	require.NoError(t, err)

	st, err := env.Engine.State(env.Ctx, "dishes")
	require.NoError(t, err)
	assert.Equal(t, "ben", st.Holder)
	assert.Equal(t, domain.StateNotMyTurn, st.Assignees[0].State)

	rs, err := env.Engine.OpenCycle(env.Ctx, "dishes", "parent")
	require.NoError(t, err)
	assert.True(t, rs.Override)
	assert.Equal(t, "ben", rs.Holder)

	env.Clock.Set(at(12, 0).AddDate(0, 0, 1))
	_, err = env.Engine.Claim(env.Ctx, "dishes", "ana", "ana")
	require.NoError(t, err)
	_, err = env.Engine.Approve(env.Ctx, "dishes", "ana", "parent")
	require.NoError(t, err)

	st, err = env.Engine.State(env.Ctx, "dishes")
	require.NoError(t, err)
	assert.False(t, st.Override)
	assert.Equal(t, "ben", st.Holder)

	rs, err = env.Engine.SetTurn(env.Ctx, "dishes", "ana", "parent")
	require.NoError(t, err)
	assert.Equal(t, "ana", rs.Holder)
	_, err = env.Engine.SetTurn(env.Ctx, "dishes", "zoe", "parent")
	assert.Error(t, err)

	rs, err = env.Engine.ResetTurn(env.Ctx, "dishes", "parent")
	require.NoError(t, err)
	assert.Equal(t, "ana", rs.Holder)
}

func TestSaveChoreRotationTransitions(t *testing.T) {
	env := newTestEnv(t)
	c := daily("dishes", "ana", "ben", "cy")
	c.Rotation = domain.RotationSmart
	env.save(t, c)
	_, err := env.Engine.SetTurn(env.Ctx, "dishes", "ben", "parent")
	require.NoError(t, err)

	// Mode change within rotation keeps the holder.
	c.Rotation = domain.RotationSteal
	env.save(t, c)
	st, err := env.Engine.State(env.Ctx, "dishes")
	require.NoError(t, err)
	assert.Equal(t, "ben", st.Holder)

	// Removing the holder falls back to the first remaining assignee.
	c.Assignees = []string{"cy", "ana"}
	env.save(t, c)
	st, err = env.Engine.State(env.Ctx, "dishes")
	require.NoError(t, err)
	assert.Equal(t, "cy", st.Holder)
	assert.Len(t, st.Instances, 2)

	c.Rotation = domain.RotationNone
	env.save(t, c)
	st, err = env.Engine.State(env.Ctx, "dishes")
	require.NoError(t, err)
	assert.Empty(t, st.Holder)
	assert.Equal(t, domain.StateDue, st.Assignees[1].State)

	c.Rotation = domain.RotationSimple
	env.save(t, c)
	st, err = env.Engine.State(env.Ctx, "dishes")
	require.NoError(t, err)
	assert.Equal(t, "cy", st.Holder)
}

func TestSaveChoreValidatesAndDelete(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SaveChore(env.Ctx, domain.Chore{ID: "empty"}, "parent")
	assert.True(t, errors.Is(err, engine.ErrInvalidChore))

	env.save(t, daily("dishes", "ana"))
	require.NoError(t, env.Engine.DeleteChore(env.Ctx, "dishes", "parent"))
	_, err = env.Engine.GetChore(env.Ctx, "dishes")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.ErrorIs(t, env.Engine.DeleteChore(env.Ctx, "dishes", "parent"), repo.ErrNotFound)

	audit, err := env.Engine.Events(env.Ctx, domain.EventQuery{ChoreID: "dishes"})
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, domain.EventChoreDeleted, audit[0].Type)
	assert.Equal(t, domain.EventChoreSaved, audit[1].Type)
}

func TestEventsPublishedWithSequence(t *testing.T) {
	env := newTestEnv(t)
	env.save(t, daily("dishes", "ana"))
	_, err := env.Engine.Claim(env.Ctx, "dishes", "ana", "")
	require.NoError(t, err)
	_, err = env.Engine.Approve(env.Ctx, "dishes", "ana", "parent")
	require.NoError(t, err)

	var got []domain.EventType
	for _, evt := range env.Recorder.Events() {
		assert.Positive(t, evt.Seq)
		assert.NotEmpty(t, evt.ID)
		got = append(got, evt.Type)
	}
	assert.Equal(t, []domain.EventType{domain.EventChoreSaved, domain.EventClaimed, domain.EventApproved}, got)
	approved := env.Recorder.Events()[2]
	assert.Equal(t, 1.0, approved.RewardWeight)
	assert.Equal(t, "parent", approved.ActorID)
	assert.Equal(t, "ana", env.Recorder.Events()[1].ActorID)
}

func TestOneOffChoreStaysApproved(t *testing.T) {
	env := newTestEnv(t)
	due := at(18, 0)
	env.save(t, domain.Chore{ID: "garage", Assignees: []string{"ana"}, DueAt: &due, ApprovalReset: domain.ResetUponCompletion})

	assert.Equal(t, domain.StateDue, stateOf(t, env, "garage", "ana"))
	_, err := env.Engine.Claim(env.Ctx, "garage", "ana", "ana")
	require.NoError(t, err)
	_, err = env.Engine.Approve(env.Ctx, "garage", "ana", "parent")
	require.NoError(t, err)
	assert.Equal(t, domain.StateApproved, stateOf(t, env, "garage", "ana"))
}

func TestSaveChorePinsMonthlyAnchor(t *testing.T) {
	env := newTestEnv(t)
	env.Clock.Set(time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC))
	c := domain.Chore{
		ID:         "filters",
		Assignees:  []string{"ana"},
		Recurrence: domain.Recurrence{Frequency: domain.FrequencyMonthly, DueTime: "20:00"},
	}
	saved := env.save(t, c)
	assert.Equal(t, 31, saved.Recurrence.DayOfMonth)

	st, err := env.Engine.State(env.Ctx, "filters")
	require.NoError(t, err)
	require.NotNil(t, st.Instances[0].DueAt)
	assert.Equal(t, time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC), st.Instances[0].DueAt.UTC())

	// re-saving the open definition later keeps the original anchor
	env.Clock.Set(time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC))
	c.Reward = 3
	saved = env.save(t, c)
	assert.Equal(t, 31, saved.Recurrence.DayOfMonth)
	stored, err := env.Engine.GetChore(env.Ctx, "filters")
	require.NoError(t, err)
	assert.Equal(t, 31, stored.Recurrence.DayOfMonth)
}
