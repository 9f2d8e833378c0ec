// Package notify delivers committed chore events to configured webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"choreline/internal/config"
	"choreline/internal/domain"
	"choreline/internal/events"
)

const defaultTimeout = 5 * time.Second

type Dispatcher struct {
	household string
	hooks     []config.WebhookConfig
	client    *http.Client
	logger    zerolog.Logger
}

func New(household string, hooks []config.WebhookConfig, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		household: household,
		hooks:     hooks,
		client:    &http.Client{Timeout: defaultTimeout},
		logger:    logger,
	}
}

// Attach subscribes every enabled hook to bus and returns a func that
// detaches them all.
func (d *Dispatcher) Attach(bus *events.Bus) func() {
	var unsubs []func()
	for _, hook := range d.hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		hook := hook
		types := eventTypes(hook.Events)
		unsubs = append(unsubs, bus.Subscribe(func(evt domain.Event) {
			if err := d.Deliver(context.Background(), hook, evt); err != nil {
				d.logger.Warn().Err(err).Str("url", hook.URL).Str("event", string(evt.Type)).Int64("seq", evt.Seq).Msg("webhook delivery failed")
			}
		}, types...))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func eventTypes(names []string) []domain.EventType {
	var out []domain.EventType
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		out = append(out, domain.EventType(n))
	}
	return out
}

type webhookEvent struct {
	Seq          int64          `json:"seq"`
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	HouseholdID  string         `json:"household_id"`
	ChoreID      string         `json:"chore_id"`
	AssigneeID   string         `json:"assignee_id,omitempty"`
	ActorID      string         `json:"actor_id,omitempty"`
	TS           string         `json:"ts"`
	RewardWeight float64        `json:"reward_weight,omitempty"`
	Payload      map[string]any `json:"payload"`
}

// Deliver posts evt to hook once.
func (d *Dispatcher) Deliver(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := evt.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(webhookEvent{
		Seq:          evt.Seq,
		ID:           evt.ID,
		Type:         string(evt.Type),
		HouseholdID:  d.household,
		ChoreID:      evt.ChoreID,
		AssigneeID:   evt.AssigneeID,
		ActorID:      evt.ActorID,
		TS:           evt.TS.UTC().Format(time.RFC3339),
		RewardWeight: evt.RewardWeight,
		Payload:      payload,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Choreline-Event", string(evt.Type))
	req.Header.Set("X-Choreline-Delivery", strconv.FormatInt(evt.Seq, 10))
	req.Header.Set("X-Choreline-Household", d.household)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Choreline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
