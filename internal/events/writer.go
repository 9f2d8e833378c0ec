package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"choreline/internal/domain"
)

// Writer appends audit events inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evt domain.Event) (domain.Event, error) {
	evt = Stamp(evt, w.Now)
	data, err := json.Marshal(Payload(evt))
	if err != nil {
		return evt, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(id,ts,type,chore_id,assignee_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		evt.ID, evt.TS.UTC().Format(time.RFC3339Nano), string(evt.Type), evt.ChoreID,
		nullable(evt.AssigneeID), nullable(evt.ActorID), string(data))
	if err != nil {
		return evt, err
	}
	if seq, err := res.LastInsertId(); err == nil {
		evt.Seq = seq
	}
	return evt, nil
}

// Stamp assigns an id and timestamp to evt when missing.
func Stamp(evt domain.Event, now func() time.Time) domain.Event {
	if now == nil {
		now = time.Now
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.TS.IsZero() {
		evt.TS = now().UTC()
	}
	return evt
}

// Payload returns the stored payload for evt, folding in the reward weight.
func Payload(evt domain.Event) EventPayload {
	payload := EventPayload{}
	for k, v := range evt.Payload {
		payload[k] = v
	}
	if evt.RewardWeight != 0 {
		payload["reward_weight"] = evt.RewardWeight
	}
	return payload
}

// Decode restores the typed fields folded into a stored payload.
func Decode(evt domain.Event, payloadJSON string) (domain.Event, error) {
	if payloadJSON == "" {
		return evt, nil
	}
	var payload EventPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return evt, fmt.Errorf("decode event %s payload: %w", evt.ID, err)
	}
	if w, ok := payload["reward_weight"].(float64); ok {
		evt.RewardWeight = w
		delete(payload, "reward_weight")
	}
	if len(payload) > 0 {
		evt.Payload = payload
	}
	return evt, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
