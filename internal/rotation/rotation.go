package rotation

import (
	"errors"
	"fmt"
	"time"

	"choreline/internal/domain"
)

var (
	ErrNotRotating     = errors.New("chore is not in a rotation mode")
	ErrUnknownAssignee = errors.New("assignee is not part of the rotation")
)

// Init starts a rotation on the first configured assignee.
func Init(c domain.Chore) domain.RotationState {
	rs := domain.RotationState{ChoreID: c.ID}
	if len(c.Assignees) > 0 {
		rs.Holder = c.Assignees[0]
	}
	return rs
}

// Holder returns the current turn holder, falling back to the first remaining
// assignee when the stored holder was removed.
func Holder(c domain.Chore, rs *domain.RotationState) string {
	stored := ""
	if rs != nil {
		stored = rs.Holder
	}
	return domain.ResolveHolder(c.Assignees, stored)
}

// Advance passes the turn on after approver's approval and clears any manual
// override. instances must already carry approver's new LastApprovedAt.
func Advance(c domain.Chore, rs domain.RotationState, approver string, instances map[string]domain.Instance) domain.RotationState {
	rs.ChoreID = c.ID
	rs.Override = false
	if len(c.Assignees) == 0 {
		rs.Holder = ""
		return rs
	}
	switch c.Rotation {
	case domain.RotationSmart:
		rs.Holder = leastRecent(c.Assignees, instances)
	default:
		from := approver
		if !c.HasAssignee(from) {
			from = Holder(c, &rs)
		}
		rs.Holder = after(c.Assignees, from)
	}
	return rs
}

func SetTurn(c domain.Chore, rs domain.RotationState, assignee string) (domain.RotationState, error) {
	if !c.Rotation.Active() {
		return rs, ErrNotRotating
	}
	if !c.HasAssignee(assignee) {
		return rs, fmt.Errorf("%w: %s", ErrUnknownAssignee, assignee)
	}
	rs.ChoreID = c.ID
	rs.Holder = assignee
	return rs, nil
}

// Reset hands the turn back to the first assignee.
func Reset(c domain.Chore, rs domain.RotationState) (domain.RotationState, error) {
	if !c.Rotation.Active() {
		return rs, ErrNotRotating
	}
	first := Init(c)
	first.Override = rs.Override
	return first, nil
}

// Open lets any assignee claim the current cycle until the next approval.
func Open(c domain.Chore, rs domain.RotationState) (domain.RotationState, error) {
	if !c.Rotation.Active() {
		return rs, ErrNotRotating
	}
	rs.ChoreID = c.ID
	rs.Holder = Holder(c, &rs)
	rs.Override = true
	return rs, nil
}

// Transition applies a rotation mode change. A nil result means the rotation
// state must be cleared.
func Transition(from, to domain.RotationMode, c domain.Chore, current *domain.RotationState) *domain.RotationState {
	switch {
	case !to.Active():
		return nil
	case from.Active() && current != nil:
		next := *current
		next.ChoreID = c.ID
		next.Holder = Holder(c, current)
		return &next
	default:
		next := Init(c)
		return &next
	}
}

func after(order []string, id string) string {
	for i, a := range order {
		if a == id {
			return order[(i+1)%len(order)]
		}
	}
	return order[0]
}

// leastRecent picks the assignee whose last approval is oldest; assignees that
// never completed the chore come first and ties keep configured order.
func leastRecent(order []string, instances map[string]domain.Instance) string {
	best := order[0]
	var bestAt *time.Time
	for i, a := range order {
		at := instances[a].LastApprovedAt
		if i == 0 {
			bestAt = at
			continue
		}
		if bestAt == nil {
			break
		}
		if at == nil || at.Before(*bestAt) {
			best, bestAt = a, at
		}
	}
	return best
}
