package engine

import (
	"fmt"
	"time"

	"choreline/internal/domain"
	"choreline/internal/ledger"
	"choreline/internal/recurrence"
	"choreline/internal/resolver"
	"choreline/internal/rotation"
)

// Tx stages changes to one chore while its lock is held. Reads see staged
// writes.
type Tx struct {
	e      Engine
	now    time.Time
	snap   domain.Snapshot
	exists bool

	touched  []string
	dirty    map[string]bool
	rotation *domain.RotationState
	rotDirty bool
	rotClear bool
	chore    *domain.Chore
	deleted  bool
	dropped  []string
	events   []domain.Event
	postings []ledger.Posting
}

func (e Engine) newTx(snap domain.Snapshot, exists bool, scope []string) *Tx {
	if snap.Instances == nil {
		snap.Instances = map[string]domain.Instance{}
	}
	t := &Tx{
		e:        e,
		now:      e.now(),
		snap:     snap,
		exists:   exists,
		dirty:    map[string]bool{},
		rotation: snap.Rotation,
	}
	if !exists {
		return t
	}
	for _, a := range scope {
		if _, ok := snap.Instances[a]; ok {
			continue
		}
		t.Put(t.fresh(a))
	}
	return t
}

// fresh builds the first instance for a pair that was never evaluated.
func (t *Tx) fresh(assigneeID string) domain.Instance {
	c := t.snap.Chore
	inst := domain.Instance{ChoreID: c.ID, AssigneeID: assigneeID}
	inst.DueAt = t.firstDue(c)
	inst.ClaimWindowOpensAt = recurrence.WindowStart(inst.DueAt, c.ClaimWindowMinutes)
	return inst
}

func (t *Tx) firstDue(c domain.Chore) *time.Time {
	if c.Recurrence.Frequency == domain.FrequencyNone {
		if c.DueAt == nil {
			return nil
		}
		due := *c.DueAt
		return &due
	}
	next, err := recurrence.Next(c.Recurrence, t.now, t.e.location())
	if err != nil {
		t.e.Logger.Warn().Err(err).Str("chore", c.ID).Msg("cannot schedule first due date")
		return nil
	}
	return &next
}

func (t *Tx) Chore() domain.Chore { return t.snap.Chore }

func (t *Tx) Now() time.Time { return t.now }

func (t *Tx) Location() *time.Location { return t.e.location() }

// Instance returns the staged facts for assigneeID.
func (t *Tx) Instance(assigneeID string) domain.Instance {
	inst, ok := t.snap.Instances[assigneeID]
	if !ok {
		return domain.Instance{ChoreID: t.snap.Chore.ID, AssigneeID: assigneeID}
	}
	return inst
}

func (t *Tx) Instances() map[string]domain.Instance {
	out := make(map[string]domain.Instance, len(t.snap.Instances))
	for k, v := range t.snap.Instances {
		out[k] = v
	}
	return out
}

func (t *Tx) Put(inst domain.Instance) {
	inst.ChoreID = t.snap.Chore.ID
	inst.UpdatedAt = t.now
	t.snap.Instances[inst.AssigneeID] = inst
	if !t.dirty[inst.AssigneeID] {
		t.dirty[inst.AssigneeID] = true
		t.touched = append(t.touched, inst.AssigneeID)
	}
}

// Rotation returns the staged turn state, starting one when none exists yet.
func (t *Tx) Rotation() domain.RotationState {
	if t.rotation != nil {
		return *t.rotation
	}
	return rotation.Init(t.snap.Chore)
}

func (t *Tx) SetRotation(rs domain.RotationState) {
	rs.ChoreID = t.snap.Chore.ID
	rs.UpdatedAt = t.now
	t.rotation = &rs
	t.rotDirty = true
	t.rotClear = false
}

func (t *Tx) input(assigneeID string) resolver.Input {
	return resolver.Input{
		Now:        t.now,
		Location:   t.e.location(),
		Chore:      t.snap.Chore,
		Rotation:   t.rotation,
		AssigneeID: assigneeID,
		Instances:  t.snap.Instances,
	}
}

func (t *Tx) Resolve(assigneeID string) resolver.Resolution {
	return resolver.Resolve(t.input(assigneeID))
}

func (t *Tx) ResolveAll() []resolver.Resolution {
	return resolver.ResolveAll(t.input(""))
}

// Emit stages an event that is persisted with the facts and published after
// the lock is released.
func (t *Tx) Emit(evt domain.Event) {
	evt.ChoreID = t.snap.Chore.ID
	if evt.TS.IsZero() {
		evt.TS = t.now
	}
	t.events = append(t.events, evt)
}

// Rearm starts assigneeID's next period: approval and missed lock are cleared
// and the due date moves to the next occurrence after now. A one-off chore
// keeps its approval.
func (t *Tx) Rearm(assigneeID string) error {
	c := t.snap.Chore
	inst := t.Instance(assigneeID)
	inst.IsLockedMissed = false
	if c.Recurrence.Frequency == domain.FrequencyNone {
		t.Put(inst)
		return nil
	}
	base := t.now
	if inst.DueAt != nil {
		base = *inst.DueAt
	}
	if c.Recurrence.Frequency == domain.FrequencyCustomFromComplete && inst.LastApprovedAt != nil {
		base = *inst.LastApprovedAt
	}
	next, err := recurrence.NextAfter(c.Recurrence, base, t.now, t.e.location())
	if err != nil {
		return fmt.Errorf("reschedule %s/%s: %w", c.ID, assigneeID, err)
	}
	inst.IsApprovedThisPeriod = false
	inst.DueAt = &next
	inst.ClaimWindowOpensAt = recurrence.WindowStart(&next, c.ClaimWindowMinutes)
	t.Put(inst)
	return nil
}

// Approve consumes assigneeID's pending claim.
func (t *Tx) Approve(assigneeID, actorID string) error {
	c := t.snap.Chore
	inst := t.Instance(assigneeID)
	if !inst.HasPendingClaim {
		return ErrNoPendingClaim
	}
	now := t.now
	inst.HasPendingClaim = false
	inst.IsApprovedThisPeriod = true
	inst.LastApprovedAt = &now
	t.Put(inst)

	if c.Rotation.Active() {
		before := t.Rotation()
		next := rotation.Advance(c, before, assigneeID, t.snap.Instances)
		t.SetRotation(next)
		if next.Holder != before.Holder {
			t.Emit(domain.Event{Type: domain.EventRotationChanged, ActorID: actorID,
				Payload: map[string]any{"holder": next.Holder, "previous": before.Holder, "reason": "approval"}})
		}
	}
	if c.ApprovalReset == domain.ResetUponCompletion {
		if err := t.resetUponCompletion(assigneeID); err != nil {
			return err
		}
	}
	t.Emit(domain.Event{Type: domain.EventApproved, AssigneeID: assigneeID, ActorID: actorID, RewardWeight: c.Reward})
	t.postings = append(t.postings, ledger.Posting{AssigneeID: assigneeID, ChoreID: c.ID, Weight: c.Reward, At: now})
	return nil
}

func (t *Tx) resetUponCompletion(approver string) error {
	c := t.snap.Chore
	var rearm []string
	switch {
	case c.Completion == domain.CompletionSharedAll && t.e.ResetOrder == domain.ResetPerAssignee:
		rearm = []string{approver}
	case c.Completion == domain.CompletionSharedAll:
		for _, a := range c.Assignees {
			if !t.Instance(a).IsApprovedThisPeriod {
				return nil
			}
		}
		rearm = c.Assignees
	case c.Coupled():
		rearm = c.Assignees
	default:
		rearm = []string{approver}
	}
	for _, a := range rearm {
		if err := t.Rearm(a); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) setChore(c domain.Chore) {
	t.chore = &c
	t.snap.Chore = c
}

func (t *Tx) dropInstance(assigneeID string) {
	delete(t.snap.Instances, assigneeID)
	if t.dirty[assigneeID] {
		delete(t.dirty, assigneeID)
		kept := t.touched[:0]
		for _, a := range t.touched {
			if a != assigneeID {
				kept = append(kept, a)
			}
		}
		t.touched = kept
	}
	t.dropped = append(t.dropped, assigneeID)
}

func (t *Tx) clearRotation() {
	t.rotation = nil
	t.rotDirty = false
	t.rotClear = true
}

func (t *Tx) deleteChore() {
	t.deleted = true
	t.chore = nil
	t.touched = nil
	t.dirty = map[string]bool{}
	t.rotDirty = false
	t.rotClear = false
	t.dropped = nil
}

func (t *Tx) mutation() domain.Mutation {
	m := domain.Mutation{
		ChoreID:       t.snap.Chore.ID,
		Chore:         t.chore,
		Delete:        t.deleted,
		ClearRotation: t.rotClear,
		DropInstances: t.dropped,
		Events:        t.events,
	}
	if t.rotDirty && t.rotation != nil {
		rs := *t.rotation
		m.Rotation = &rs
	}
	for _, a := range t.touched {
		m.Instances = append(m.Instances, t.snap.Instances[a])
	}
	return m
}
