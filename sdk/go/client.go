package chorelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Choreline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Resolution is the derived state of one assignee.
type Resolution struct {
	AssigneeID    string `json:"assignee_id"`
	State         string `json:"state"`
	Claimable     bool   `json:"claimable"`
	LockReason    string `json:"lock_reason,omitempty"`
	InheritedFrom string `json:"inherited_from,omitempty"`
}

// Summary is the chore-wide status.
type Summary struct {
	Status   string `json:"status"`
	Holder   string `json:"holder,omitempty"`
	Approved int    `json:"approved"`
	Claimed  int    `json:"claimed"`
	Total    int    `json:"total"`
}

// ChoreState represents the API chore state model (partial).
type ChoreState struct {
	Chore struct {
		ID        string   `json:"id"`
		Name      string   `json:"name"`
		Assignees []string `json:"assignees"`
		Reward    float64  `json:"reward"`
	} `json:"chore"`
	Holder    string       `json:"holder,omitempty"`
	Override  bool         `json:"override,omitempty"`
	Assignees []Resolution `json:"assignees"`
	Summary   Summary      `json:"summary"`
}

type ApproveResult struct {
	Resolution      Resolution `json:"resolution"`
	AlreadyApproved bool       `json:"already_approved"`
}

type Rotation struct {
	ChoreID  string `json:"chore_id"`
	Holder   string `json:"holder"`
	Override bool   `json:"override"`
}

// Report summarises a scanner sweep.
type Report struct {
	Sweep    string `json:"sweep"`
	Pairs    int    `json:"pairs"`
	Changed  int    `json:"changed"`
	Skipped  int    `json:"skipped"`
	Failures []struct {
		ChoreID    string `json:"chore_id"`
		AssigneeID string `json:"assignee_id"`
		Error      string `json:"error"`
	} `json:"failures,omitempty"`
}

// Event represents a log entry.
type Event struct {
	Seq          int64          `json:"seq"`
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	ChoreID      string         `json:"chore_id"`
	AssigneeID   string         `json:"assignee_id,omitempty"`
	ActorID      string         `json:"actor_id,omitempty"`
	TS           time.Time      `json:"ts"`
	RewardWeight float64        `json:"reward_weight,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

type Balance struct {
	AssigneeID string  `json:"assignee_id"`
	Total      float64 `json:"total"`
	Postings   int     `json:"postings"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

func (c *Client) Chores(ctx context.Context) ([]ChoreState, error) {
	var resp []ChoreState
	err := c.do(ctx, http.MethodGet, "chores", nil, &resp)
	return resp, err
}

func (c *Client) Chore(ctx context.Context, choreID string) (ChoreState, error) {
	var resp ChoreState
	err := c.do(ctx, http.MethodGet, chorePath(choreID, ""), nil, &resp)
	return resp, err
}

// SaveChore creates or replaces a chore; def uses the API's chore fields.
func (c *Client) SaveChore(ctx context.Context, choreID string, def map[string]any) (ChoreState, error) {
	var resp ChoreState
	err := c.do(ctx, http.MethodPut, chorePath(choreID, ""), def, &resp)
	return resp, err
}

func (c *Client) DeleteChore(ctx context.Context, choreID string) error {
	return c.do(ctx, http.MethodDelete, chorePath(choreID, ""), nil, nil)
}

// Claim claims the chore; an empty assignee claims for the token's actor.
func (c *Client) Claim(ctx context.Context, choreID, assigneeID string) (Resolution, error) {
	var resp Resolution
	err := c.do(ctx, http.MethodPost, chorePath(choreID, "claim"), assigneeBody(assigneeID), &resp)
	return resp, err
}

func (c *Client) Approve(ctx context.Context, choreID, assigneeID string) (ApproveResult, error) {
	var resp ApproveResult
	err := c.do(ctx, http.MethodPost, chorePath(choreID, "approve"), assigneeBody(assigneeID), &resp)
	return resp, err
}

func (c *Client) Reject(ctx context.Context, choreID, assigneeID string) (Resolution, error) {
	var resp Resolution
	err := c.do(ctx, http.MethodPost, chorePath(choreID, "reject"), assigneeBody(assigneeID), &resp)
	return resp, err
}

func (c *Client) SetTurn(ctx context.Context, choreID, assigneeID string) (Rotation, error) {
	var resp Rotation
	err := c.do(ctx, http.MethodPut, chorePath(choreID, "rotation/turn"), map[string]string{"assignee_id": assigneeID}, &resp)
	return resp, err
}

func (c *Client) ResetTurn(ctx context.Context, choreID string) (Rotation, error) {
	var resp Rotation
	err := c.do(ctx, http.MethodPost, chorePath(choreID, "rotation/reset"), nil, &resp)
	return resp, err
}

func (c *Client) OpenCycle(ctx context.Context, choreID string) (Rotation, error) {
	var resp Rotation
	err := c.do(ctx, http.MethodPost, chorePath(choreID, "rotation/open"), nil, &resp)
	return resp, err
}

// Scan runs a "tick" or "rollover" sweep.
func (c *Client) Scan(ctx context.Context, sweep string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, "scan/"+url.PathEscape(sweep), nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, choreID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if choreID != "" {
		q.Set("chore_id", choreID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Points(ctx context.Context) ([]Balance, error) {
	var resp struct {
		Items []Balance `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "points", nil, &resp)
	return resp.Items, err
}

func assigneeBody(assigneeID string) any {
	if assigneeID == "" {
		return nil
	}
	return map[string]string{"assignee_id": assigneeID}
}

func chorePath(choreID, sub string) string {
	p := "chores/" + url.PathEscape(choreID)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
