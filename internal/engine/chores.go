package engine

import (
	"context"
	"fmt"
	"reflect"

	"choreline/internal/aggregate"
	"choreline/internal/domain"
	"choreline/internal/recurrence"
	"choreline/internal/resolver"
	"choreline/internal/rotation"
)

// ChoreState is the read model of one chore at an instant.
type ChoreState struct {
	Chore     domain.Chore          `json:"chore"`
	Holder    string                `json:"holder,omitempty"`
	Override  bool                  `json:"override,omitempty"`
	Assignees []resolver.Resolution `json:"assignees"`
	Instances []domain.Instance     `json:"instances"`
	Summary   aggregate.Summary     `json:"summary"`
}

// SaveChore creates or replaces a chore definition. Removed assignees lose
// their instances, rotation state follows the mode change, and pending
// instances are rescheduled when the schedule changed. A monthly chore
// without a day of month keeps the stored anchor, or is anchored to today.
func (e Engine) SaveChore(ctx context.Context, c domain.Chore, actorID string) (domain.Chore, error) {
	c.Normalize()
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidChore, err)
	}
	var saved domain.Chore
	err := e.mutateChore(ctx, c.ID, c.Assignees, true, func(tx *Tx) error {
		prev := tx.snap.Chore
		from := domain.RotationNone
		if tx.exists {
			c.CreatedAt = prev.CreatedAt
			from = prev.Rotation
		} else {
			c.CreatedAt = tx.Now()
		}
		c.UpdatedAt = tx.Now()
		if c.Recurrence.CalendarMonthly() && c.Recurrence.DayOfMonth == 0 {
			if tx.exists && prev.Recurrence.CalendarMonthly() && prev.Recurrence.DayOfMonth != 0 {
				c.Recurrence.DayOfMonth = prev.Recurrence.DayOfMonth
			} else {
				c.Recurrence = recurrence.Anchor(c.Recurrence, tx.Now(), e.location())
			}
		}
		tx.setChore(c)

		if tx.exists {
			for _, a := range prev.Assignees {
				if !c.HasAssignee(a) {
					tx.dropInstance(a)
				}
			}
		}
		switch next := rotation.Transition(from, c.Rotation, c, tx.rotation); {
		case next == nil && tx.rotation != nil:
			tx.clearRotation()
		case next != nil && (tx.rotation == nil || *next != *tx.rotation):
			tx.SetRotation(*next)
		}
		if tx.exists && scheduleChanged(prev, c) {
			for _, a := range c.Assignees {
				inst, ok := tx.snap.Instances[a]
				if !ok || inst.HasPendingClaim || inst.IsApprovedThisPeriod {
					continue
				}
				inst.DueAt = tx.firstDue(c)
				inst.ClaimWindowOpensAt = recurrence.WindowStart(inst.DueAt, c.ClaimWindowMinutes)
				inst.IsLockedMissed = false
				tx.Put(inst)
			}
		}
		tx.Emit(domain.Event{Type: domain.EventChoreSaved, ActorID: actorID, Payload: map[string]any{"created": !tx.exists}})
		saved = c
		return nil
	})
	return saved, err
}

func scheduleChanged(prev, next domain.Chore) bool {
	if prev.ClaimWindowMinutes != next.ClaimWindowMinutes || !reflect.DeepEqual(prev.Recurrence, next.Recurrence) {
		return true
	}
	switch {
	case prev.DueAt == nil && next.DueAt == nil:
		return false
	case prev.DueAt == nil || next.DueAt == nil:
		return true
	default:
		return !prev.DueAt.Equal(*next.DueAt)
	}
}

func (e Engine) DeleteChore(ctx context.Context, choreID, actorID string) error {
	return e.mutateChore(ctx, choreID, nil, false, func(tx *Tx) error {
		tx.deleteChore()
		tx.Emit(domain.Event{Type: domain.EventChoreDeleted, ActorID: actorID})
		return nil
	})
}

func (e Engine) GetChore(ctx context.Context, choreID string) (domain.Chore, error) {
	return e.Store.GetChore(ctx, choreID)
}

func (e Engine) ListChores(ctx context.Context) ([]domain.Chore, error) {
	return e.Store.ListChores(ctx)
}

func (e Engine) Events(ctx context.Context, q domain.EventQuery) ([]domain.Event, error) {
	return e.Store.Events(ctx, q)
}

// State resolves every assignee of the chore, persisting instances that did
// not exist yet.
func (e Engine) State(ctx context.Context, choreID string) (ChoreState, error) {
	var out ChoreState
	err := e.Mutate(ctx, choreID, "", func(tx *Tx) error {
		out = tx.state()
		return nil
	})
	return out, err
}

// States returns the state of every chore.
func (e Engine) States(ctx context.Context) ([]ChoreState, error) {
	chores, err := e.Store.ListChores(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ChoreState, 0, len(chores))
	for _, c := range chores {
		st, err := e.State(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (t *Tx) state() ChoreState {
	c := t.snap.Chore
	res := t.ResolveAll()
	st := ChoreState{Chore: c, Assignees: res}
	if c.Rotation.Active() {
		rs := t.Rotation()
		st.Holder = rotation.Holder(c, &rs)
		st.Override = rs.Override
	}
	for _, a := range c.Assignees {
		st.Instances = append(st.Instances, t.Instance(a))
	}
	st.Summary = aggregate.Aggregate(c, st.Holder, res)
	return st
}

// SetTurn hands the turn to assigneeID.
func (e Engine) SetTurn(ctx context.Context, choreID, assigneeID, actorID string) (domain.RotationState, error) {
	return e.rotate(ctx, choreID, actorID, "set", func(c domain.Chore, rs domain.RotationState) (domain.RotationState, error) {
		return rotation.SetTurn(c, rs, assigneeID)
	})
}

func (e Engine) ResetTurn(ctx context.Context, choreID, actorID string) (domain.RotationState, error) {
	return e.rotate(ctx, choreID, actorID, "reset", rotation.Reset)
}

// OpenCycle lets any assignee claim until the next approval.
func (e Engine) OpenCycle(ctx context.Context, choreID, actorID string) (domain.RotationState, error) {
	return e.rotate(ctx, choreID, actorID, "open", rotation.Open)
}

func (e Engine) rotate(ctx context.Context, choreID, actorID, reason string, op func(domain.Chore, domain.RotationState) (domain.RotationState, error)) (domain.RotationState, error) {
	var out domain.RotationState
	err := e.Mutate(ctx, choreID, "", func(tx *Tx) error {
		before := tx.Rotation()
		next, err := op(tx.Chore(), before)
		if err != nil {
			return err
		}
		tx.SetRotation(next)
		tx.Emit(domain.Event{Type: domain.EventRotationChanged, ActorID: actorID, Payload: map[string]any{
			"holder": next.Holder, "previous": before.Holder, "override": next.Override, "reason": reason,
		}})
		out = *tx.rotation
		return nil
	})
	return out, err
}
