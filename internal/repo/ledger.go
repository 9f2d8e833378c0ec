package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"choreline/internal/ledger"
)

// Ledger stores reward postings next to the chore tables.
type Ledger struct {
	DB *sql.DB
}

// Post records p once; a repeat for the same assignee, chore and instant is ignored.
func (l Ledger) Post(ctx context.Context, p ledger.Posting) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := l.DB.ExecContext(ctx, `INSERT OR IGNORE INTO reward_postings(id,assignee_id,chore_id,weight,posted_at) VALUES (?,?,?,?,?)`,
		p.ID, p.AssigneeID, p.ChoreID, p.Weight, formatTime(p.At))
	if err != nil {
		return fmt.Errorf("post reward: %w", err)
	}
	return nil
}

func (l Ledger) Balances(ctx context.Context) ([]ledger.Balance, error) {
	rows, err := l.DB.QueryContext(ctx, `SELECT assignee_id, COALESCE(SUM(weight),0), COUNT(*) FROM reward_postings GROUP BY assignee_id ORDER BY assignee_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ledger.Balance
	for rows.Next() {
		var b ledger.Balance
		if err := rows.Scan(&b.AssigneeID, &b.Total, &b.Postings); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// Postings lists one assignee's postings, newest first.
func (l Ledger) Postings(ctx context.Context, assigneeID string) ([]ledger.Posting, error) {
	rows, err := l.DB.QueryContext(ctx, `SELECT id,assignee_id,chore_id,weight,posted_at FROM reward_postings WHERE assignee_id=? ORDER BY posted_at DESC`, assigneeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ledger.Posting
	for rows.Next() {
		var (
			p  ledger.Posting
			at string
		)
		if err := rows.Scan(&p.ID, &p.AssigneeID, &p.ChoreID, &p.Weight, &at); err != nil {
			return nil, err
		}
		p.At = parseTime(at)
		res = append(res, p)
	}
	return res, rows.Err()
}
