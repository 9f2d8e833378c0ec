// Package ledger defines the reward journal that approvals post to.
package ledger

import (
	"context"
	"time"
)

// Posting is one reward credited after a committed approval.
type Posting struct {
	ID         string    `json:"id"`
	AssigneeID string    `json:"assignee_id"`
	ChoreID    string    `json:"chore_id"`
	Weight     float64   `json:"weight"`
	At         time.Time `json:"at" format:"date-time"`
}

// Ledger receives postings. Implementations must treat a repeated posting for
// the same (assignee, chore, at) as a no-op.
type Ledger interface {
	Post(ctx context.Context, p Posting) error
}

// Balance is an assignee's accumulated reward.
type Balance struct {
	AssigneeID string  `json:"assignee_id"`
	Total      float64 `json:"total"`
	Postings   int     `json:"postings"`
}

// Balancer is implemented by ledgers that can report totals.
type Balancer interface {
	Balances(ctx context.Context) ([]Balance, error)
}

// Nop discards postings.
type Nop struct{}

func (Nop) Post(context.Context, Posting) error { return nil }
