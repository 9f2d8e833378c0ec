package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"choreline/internal/domain"
	"choreline/internal/events"
)

// Repo is the SQLite-backed chore store.
type Repo struct {
	DB     *sql.DB
	Writer events.Writer
}

var ErrNotFound = errors.New("not found")

func New(db *sql.DB) Repo {
	return Repo{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChore(row rowScanner) (domain.Chore, error) {
	var (
		c                    domain.Chore
		def                  string
		createdAt, updatedAt string
	)
	if err := row.Scan(&def, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, ErrNotFound
		}
		return c, err
	}
	if err := json.Unmarshal([]byte(def), &c); err != nil {
		return c, fmt.Errorf("decode chore definition: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

func (r Repo) GetChore(ctx context.Context, id string) (domain.Chore, error) {
	c, err := scanChore(r.DB.QueryRowContext(ctx, `SELECT definition_json,created_at,updated_at FROM chores WHERE id=?`, id))
	if errors.Is(err, ErrNotFound) {
		return c, fmt.Errorf("chore %s: %w", id, ErrNotFound)
	}
	return c, err
}

func (r Repo) ListChores(ctx context.Context) ([]domain.Chore, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT definition_json,created_at,updated_at FROM chores ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Chore
	for rows.Next() {
		c, err := scanChore(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) LoadSnapshot(ctx context.Context, choreID string) (domain.Snapshot, error) {
	c, err := r.GetChore(ctx, choreID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap := domain.Snapshot{Chore: c, Instances: map[string]domain.Instance{}}

	rows, err := r.DB.QueryContext(ctx, `SELECT chore_id,assignee_id,has_pending_claim,is_approved,due_at,claim_window_opens_at,
		last_approved_at,last_claimed_at,is_locked_missed,overdue_notified_for,last_missed_at,updated_at
		FROM instances WHERE chore_id=?`, choreID)
	if err != nil {
		return snap, err
	}
	defer rows.Close()
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return snap, err
		}
		snap.Instances[inst.AssigneeID] = inst
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}
	rows.Close()

	var (
		rs        domain.RotationState
		override  int
		updatedAt string
	)
	err = r.DB.QueryRowContext(ctx, `SELECT chore_id,holder,override,updated_at FROM rotations WHERE chore_id=?`, choreID).
		Scan(&rs.ChoreID, &rs.Holder, &override, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return snap, err
	default:
		rs.Override = override != 0
		rs.UpdatedAt = parseTime(updatedAt)
		snap.Rotation = &rs
	}
	return snap, nil
}

func scanInstance(row rowScanner) (domain.Instance, error) {
	var (
		inst                               domain.Instance
		pending, approved, locked          int
		due, window, approvedAt, claimedAt sql.NullString
		notified, missedAt                 sql.NullString
		updatedAt                          string
	)
	if err := row.Scan(&inst.ChoreID, &inst.AssigneeID, &pending, &approved, &due, &window,
		&approvedAt, &claimedAt, &locked, &notified, &missedAt, &updatedAt); err != nil {
		return inst, err
	}
	inst.HasPendingClaim = pending != 0
	inst.IsApprovedThisPeriod = approved != 0
	inst.IsLockedMissed = locked != 0
	inst.DueAt = parseNullTime(due)
	inst.ClaimWindowOpensAt = parseNullTime(window)
	inst.LastApprovedAt = parseNullTime(approvedAt)
	inst.LastClaimedAt = parseNullTime(claimedAt)
	inst.OverdueNotifiedFor = parseNullTime(notified)
	inst.LastMissedAt = parseNullTime(missedAt)
	inst.UpdatedAt = parseTime(updatedAt)
	return inst, nil
}

// Commit applies m atomically and returns its events with ids and sequence
// numbers assigned.
func (r Repo) Commit(ctx context.Context, m domain.Mutation) ([]domain.Event, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if m.Delete {
		res, err := tx.ExecContext(ctx, `DELETE FROM chores WHERE id=?`, m.ChoreID)
		if err != nil {
			return nil, fmt.Errorf("delete chore: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("chore %s: %w", m.ChoreID, ErrNotFound)
		}
	}
	if m.Chore != nil {
		if err := upsertChore(ctx, tx, *m.Chore); err != nil {
			return nil, err
		}
	}
	for _, a := range m.DropInstances {
		if _, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE chore_id=? AND assignee_id=?`, m.ChoreID, a); err != nil {
			return nil, fmt.Errorf("drop instance %s: %w", a, err)
		}
	}
	for _, inst := range m.Instances {
		if err := upsertInstance(ctx, tx, inst); err != nil {
			return nil, err
		}
	}
	if m.ClearRotation {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rotations WHERE chore_id=?`, m.ChoreID); err != nil {
			return nil, fmt.Errorf("clear rotation: %w", err)
		}
	}
	if m.Rotation != nil {
		rs := m.Rotation
		if _, err := tx.ExecContext(ctx, `INSERT INTO rotations(chore_id,holder,override,updated_at) VALUES (?,?,?,?)
			ON CONFLICT(chore_id) DO UPDATE SET holder=excluded.holder, override=excluded.override, updated_at=excluded.updated_at`,
			m.ChoreID, rs.Holder, boolInt(rs.Override), formatTime(rs.UpdatedAt)); err != nil {
			return nil, fmt.Errorf("upsert rotation: %w", err)
		}
	}
	committed := make([]domain.Event, 0, len(m.Events))
	for _, evt := range m.Events {
		stored, err := r.Writer.Append(ctx, tx, evt)
		if err != nil {
			return nil, fmt.Errorf("append event: %w", err)
		}
		committed = append(committed, stored)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return committed, nil
}

func upsertChore(ctx context.Context, tx *sql.Tx, c domain.Chore) error {
	def, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode chore: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO chores(id,name,definition_json,created_at,updated_at) VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, definition_json=excluded.definition_json, updated_at=excluded.updated_at`,
		c.ID, c.Name, string(def), formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert chore: %w", err)
	}
	return nil
}

func upsertInstance(ctx context.Context, tx *sql.Tx, inst domain.Instance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO instances(chore_id,assignee_id,has_pending_claim,is_approved,due_at,claim_window_opens_at,
		last_approved_at,last_claimed_at,is_locked_missed,overdue_notified_for,last_missed_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(chore_id,assignee_id) DO UPDATE SET
		  has_pending_claim=excluded.has_pending_claim, is_approved=excluded.is_approved, due_at=excluded.due_at,
		  claim_window_opens_at=excluded.claim_window_opens_at, last_approved_at=excluded.last_approved_at,
		  last_claimed_at=excluded.last_claimed_at, is_locked_missed=excluded.is_locked_missed,
		  overdue_notified_for=excluded.overdue_notified_for, last_missed_at=excluded.last_missed_at,
		  updated_at=excluded.updated_at`,
		inst.ChoreID, inst.AssigneeID, boolInt(inst.HasPendingClaim), boolInt(inst.IsApprovedThisPeriod),
		nullTime(inst.DueAt), nullTime(inst.ClaimWindowOpensAt), nullTime(inst.LastApprovedAt), nullTime(inst.LastClaimedAt),
		boolInt(inst.IsLockedMissed), nullTime(inst.OverdueNotifiedFor), nullTime(inst.LastMissedAt), formatTime(inst.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert instance %s/%s: %w", inst.ChoreID, inst.AssigneeID, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
