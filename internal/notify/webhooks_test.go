package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"choreline/internal/config"
	"choreline/internal/domain"
	"choreline/internal/events"
)

type delivery struct {
	header http.Header
	body   webhookEvent
}

func hookServer(t *testing.T, status int) (*httptest.Server, chan delivery) {
	t.Helper()
	got := make(chan delivery, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- delivery{header: r.Header.Clone(), body: body}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestDeliverSetsHeaders(t *testing.T) {
	srv, got := hookServer(t, http.StatusNoContent)
	d := New("home", nil, zerolog.Nop())
	hook := config.WebhookConfig{URL: srv.URL, Secret: "s3cret"}
	evt := domain.Event{Seq: 7, ID: "e7", Type: domain.EventApproved, ChoreID: "dishes", AssigneeID: "ana", TS: time.Now(), RewardWeight: 2}

	require.NoError(t, d.Deliver(context.Background(), hook, evt))
	dl := <-got
	assert.Equal(t, "chore.approved", dl.header.Get("X-Choreline-Event"))
	assert.Equal(t, "7", dl.header.Get("X-Choreline-Delivery"))
	assert.Equal(t, "home", dl.header.Get("X-Choreline-Household"))
	assert.Equal(t, "s3cret", dl.header.Get("X-Choreline-Secret"))
	assert.Equal(t, "dishes", dl.body.ChoreID)
	assert.Equal(t, 2.0, dl.body.RewardWeight)
}

func TestDeliverReportsStatus(t *testing.T) {
	srv, _ := hookServer(t, http.StatusBadGateway)
	d := New("home", nil, zerolog.Nop())
	err := d.Deliver(context.Background(), config.WebhookConfig{URL: srv.URL}, domain.Event{Type: domain.EventMissed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502: nope")
}

func TestAttachFiltersAndSkipsDisabled(t *testing.T) {
	srv, got := hookServer(t, http.StatusOK)
	off := false
	d := New("home", []config.WebhookConfig{
		{URL: srv.URL, Events: []string{"chore.missed"}},
		{URL: srv.URL, Enabled: &off},
	}, zerolog.Nop())
	bus := events.NewBus(4, zerolog.Nop())
	detach := d.Attach(bus)
	defer detach()

	bus.Publish(
		domain.Event{Type: domain.EventClaimed, ChoreID: "dishes"},
		domain.Event{Type: domain.EventMissed, ChoreID: "trash"},
	)
	select {
	case dl := <-got:
		assert.Equal(t, "chore.missed", dl.body.Type)
		assert.Equal(t, "trash", dl.body.ChoreID)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}
	select {
	case dl := <-got:
		t.Fatalf("unexpected delivery %s", dl.body.Type)
	case <-time.After(100 * time.Millisecond):
	}
}
