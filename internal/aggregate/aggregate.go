// Package aggregate folds per-assignee states into one chore-level status for
// display. The result is never persisted.
package aggregate

import (
	"choreline/internal/domain"
	"choreline/internal/resolver"
)

type Summary struct {
	Status   domain.State `json:"status"`
	Holder   string       `json:"holder,omitempty"`
	Approved int          `json:"approved"`
	Claimed  int          `json:"claimed"`
	Total    int          `json:"total"`
}

var precedence = []domain.State{
	domain.StateApproved,
	domain.StateClaimed,
	domain.StateOverdue,
	domain.StateMissed,
	domain.StateDue,
	domain.StateWaiting,
	domain.StatePending,
	domain.StateNotMyTurn,
}

// Aggregate combines resolutions for chore c. holder is the current turn
// holder and is only used for rotating chores.
func Aggregate(c domain.Chore, holder string, res []resolver.Resolution) Summary {
	sum := Summary{Total: len(res)}
	seen := make(map[domain.State]bool, len(precedence))
	for _, r := range res {
		seen[r.State] = true
		switch r.State {
		case domain.StateApproved:
			sum.Approved++
		case domain.StateClaimed:
			sum.Claimed++
		}
	}
	if len(res) == 0 {
		sum.Status = domain.StatePending
		return sum
	}

	if c.Rotation.Active() {
		sum.Holder = holder
		for _, r := range res {
			if r.AssigneeID == holder {
				sum.Status = r.State
				return sum
			}
		}
	}

	if c.Completion == domain.CompletionSharedAll {
		switch {
		case sum.Approved == sum.Total:
			sum.Status = domain.StateApproved
			return sum
		case sum.Approved+sum.Claimed == sum.Total:
			sum.Status = domain.StateClaimed
			return sum
		}
		// Members still outstanding decide the status.
		delete(seen, domain.StateApproved)
		delete(seen, domain.StateClaimed)
	}

	for _, s := range precedence {
		if seen[s] {
			sum.Status = s
			return sum
		}
	}
	sum.Status = domain.StatePending
	return sum
}
