package repo

import (
	"context"
	"database/sql"
	"strings"

	"choreline/internal/domain"
	"choreline/internal/events"
)

const defaultEventLimit = 50

// Events returns audit events newest first.
func (r Repo) Events(ctx context.Context, q domain.EventQuery) ([]domain.Event, error) {
	var (
		where []string
		args  []any
	)
	if q.ChoreID != "" {
		where = append(where, "chore_id=?")
		args = append(args, q.ChoreID)
	}
	if q.AssigneeID != "" {
		where = append(where, "assignee_id=?")
		args = append(args, q.AssigneeID)
	}
	if q.Type != "" {
		where = append(where, "type=?")
		args = append(args, q.Type)
	}
	if q.BeforeSeq > 0 {
		where = append(where, "seq<?")
		args = append(args, q.BeforeSeq)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	query := `SELECT seq,id,ts,type,chore_id,assignee_id,actor_id,payload_json FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var (
			evt              domain.Event
			ts, typ, payload string
			assignee, actor  sql.NullString
		)
		if err := rows.Scan(&evt.Seq, &evt.ID, &ts, &typ, &evt.ChoreID, &assignee, &actor, &payload); err != nil {
			return nil, err
		}
		evt.TS = parseTime(ts)
		evt.Type = domain.EventType(typ)
		evt.AssigneeID = assignee.String
		evt.ActorID = actor.String
		evt, err = events.Decode(evt, payload)
		if err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}
