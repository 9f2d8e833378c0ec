package chorelinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimSendsTokenAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chores/dishes/claim", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ana", body["assignee_id"])
		_ = json.NewEncoder(w).Encode(Resolution{AssigneeID: "ana", State: "claimed"})
	}))
	defer srv.Close()

	res, err := New(srv.URL, "tok").Claim(context.Background(), "dishes", "ana")
	require.NoError(t, err)
	assert.Equal(t, "claimed", res.State)
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"not_claimable","message":"chore is not claimable (approved)"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Claim(context.Background(), "dishes", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "not_claimable", apiErr.Code)
}

func TestEventsPageQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dishes", r.URL.Query().Get("chore_id"))
		assert.Equal(t, "5", r.URL.Query().Get("cursor"))
		_ = json.NewEncoder(w).Encode(PaginatedEvents{Items: []Event{{Seq: 4, Type: "chore.claimed"}}, NextCursor: "4"})
	}))
	defer srv.Close()

	page, err := New(srv.URL, "").EventsPage(context.Background(), "dishes", 1, "5")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "4", page.NextCursor)
}
