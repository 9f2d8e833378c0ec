// Package resolver derives the calculated state of one assignee's chore.
//
// Guards are evaluated in priority order and the first match wins:
//
//	approved > claimed > not_my_turn > missed > overdue > waiting > due > pending
package resolver

import (
	"time"

	"choreline/internal/domain"
	"choreline/internal/recurrence"
)

type Input struct {
	Now        time.Time
	Location   *time.Location
	Chore      domain.Chore
	Rotation   *domain.RotationState
	AssigneeID string
	// Instances holds the pair facts keyed by assignee id. Peers are only
	// consulted for coupled chores.
	Instances map[string]domain.Instance
}

type Resolution struct {
	AssigneeID string            `json:"assignee_id"`
	State      domain.State      `json:"state"`
	Claimable  bool              `json:"claimable"`
	LockReason domain.LockReason `json:"lock_reason,omitempty"`
	// InheritedFrom names the peer whose claim or approval produced the state.
	InheritedFrom string `json:"inherited_from,omitempty"`
}

var priority = func() map[domain.State]int {
	m := make(map[domain.State]int, len(domain.States))
	for i, s := range domain.States {
		m[s] = i + 1
	}
	return m
}()

// Priority returns the 1-based rank of s in the resolution table.
func Priority(s domain.State) int { return priority[s] }

func Resolve(in Input) Resolution {
	loc := in.Location
	if loc == nil {
		loc = time.Local
	}
	c := in.Chore
	inst := in.Instances[in.AssigneeID]
	multi := c.ApprovalReset.MultiCompletion()
	out := Resolution{AssigneeID: in.AssigneeID}

	if inst.IsApprovedThisPeriod && !multi {
		return out.with(domain.StateApproved, false, domain.LockNone)
	}
	if c.Coupled() && !multi {
		if peer, ok := firstPeer(c, in, func(p domain.Instance) bool { return p.IsApprovedThisPeriod }); ok {
			out.InheritedFrom = peer
			return out.with(domain.StateApproved, false, domain.LockNone)
		}
	}

	if inst.HasPendingClaim {
		return out.with(domain.StateClaimed, false, domain.LockNone)
	}
	if c.Coupled() {
		if peer, ok := firstPeer(c, in, func(p domain.Instance) bool { return p.HasPendingClaim }); ok {
			out.InheritedFrom = peer
			return out.with(domain.StateClaimed, false, domain.LockNone)
		}
	}

	// An approval under a multi-completion policy meets the period's obligation.
	pastDue := inst.DueAt != nil && in.Now.After(*inst.DueAt) && !(multi && inst.IsApprovedThisPeriod)

	if c.Rotation.Active() {
		override := in.Rotation != nil && in.Rotation.Override
		holder := ""
		if in.Rotation != nil {
			holder = in.Rotation.Holder
		}
		holder = domain.ResolveHolder(c.Assignees, holder)
		stolen := c.Rotation == domain.RotationSteal && pastDue
		if in.AssigneeID != holder && !override && !stolen {
			return out.with(domain.StateNotMyTurn, false, domain.LockNotMyTurn)
		}
	}

	if c.Overdue.Strict() && (inst.IsLockedMissed || pastDue) {
		return out.with(domain.StateMissed, false, domain.LockMissed)
	}
	if c.Overdue.ShowsOverdue() && pastDue {
		return out.with(domain.StateOverdue, true, domain.LockNone)
	}

	window := inst.ClaimWindowOpensAt
	if window == nil {
		window = recurrence.WindowStart(inst.DueAt, c.ClaimWindowMinutes)
	}
	if window != nil {
		if in.Now.Before(*window) {
			return out.with(domain.StateWaiting, false, domain.LockWaiting)
		}
		return out.with(domain.StateDue, true, domain.LockNone)
	}
	if inst.DueAt != nil && !in.Now.Before(startOfDay(*inst.DueAt, loc)) {
		return out.with(domain.StateDue, true, domain.LockNone)
	}
	return out.with(domain.StatePending, true, domain.LockNone)
}

// ResolveAll resolves every assignee of the chore in configured order.
func ResolveAll(in Input) []Resolution {
	res := make([]Resolution, 0, len(in.Chore.Assignees))
	for _, a := range in.Chore.Assignees {
		in.AssigneeID = a
		res = append(res, Resolve(in))
	}
	return res
}

func (r Resolution) with(s domain.State, claimable bool, reason domain.LockReason) Resolution {
	r.State = s
	r.Claimable = claimable
	r.LockReason = reason
	return r
}

func firstPeer(c domain.Chore, in Input, match func(domain.Instance) bool) (string, bool) {
	for _, a := range c.Assignees {
		if a == in.AssigneeID {
			continue
		}
		if p, ok := in.Instances[a]; ok && match(p) {
			return a, true
		}
	}
	return "", false
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
