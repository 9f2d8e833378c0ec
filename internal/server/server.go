package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"choreline/internal/domain"
	"choreline/internal/engine"
	"choreline/internal/ledger"
	"choreline/internal/repo"
	"choreline/internal/rotation"
	"choreline/internal/scanner"
	"choreline/internal/schedule"
)

// Config for the HTTP API handler.
type Config struct {
	Engine engine.Engine
	// Scanner runs sweeps on demand; nil disables the scan endpoints.
	Scanner  schedule.Sweeper
	Balances ledger.Balancer
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_claimable"`
	Message string         `json:"message" example:"chore is not claimable (approved)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string { return e.Body.Message }

// New returns an HTTP handler exposing the Choreline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Choreline API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerChores(group, cfg.Engine)
	registerLifecycle(group, cfg.Engine)
	registerRotation(group, cfg.Engine)
	registerScan(group, cfg.Scanner)
	registerEvents(group, cfg.Engine)
	registerPoints(group, cfg.Balances)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var nc *engine.NotClaimableError
	if errors.As(err, &nc) {
		details := map[string]any{"state": nc.State}
		if nc.LockReason != domain.LockNone {
			details["lock_reason"] = nc.LockReason
		}
		return newAPIError(http.StatusConflict, "not_claimable", err.Error(), details)
	}
	msg := err.Error()
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrNotAssigned):
		return newAPIError(http.StatusForbidden, "not_assigned", msg, nil)
	case errors.Is(err, engine.ErrNoPendingClaim):
		return newAPIError(http.StatusConflict, "no_pending_claim", msg, nil)
	case errors.Is(err, engine.ErrLocked):
		return newAPIError(http.StatusConflict, "locked", msg, nil)
	case errors.Is(err, engine.ErrInvalidChore):
		return newAPIError(http.StatusBadRequest, "invalid_chore", msg, nil)
	case errors.Is(err, rotation.ErrNotRotating), errors.Is(err, rotation.ErrUnknownAssignee):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

func requirePermission(ctx context.Context, perm string) (Principal, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return Principal{}, authErr
	}
	if !hasPermission(principal.Permissions, perm) {
		return Principal{}, newAPIError(http.StatusForbidden, "forbidden", "permission required", map[string]any{"permission": perm})
	}
	return principal, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Choreline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Permissions: nonNilSlice(principal.Permissions),
			Source:      principal.Source,
		}}, nil
	})
}

type choreOutput struct {
	Body ChoreStateResponse `json:"body"`
}

func registerChores(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-chores",
		Method:      http.MethodGet,
		Path:        "/chores",
		Summary:     "List chores with their resolved state",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ChoreStateResponse `json:"body"`
	}, error) {
		states, err := e.States(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ChoreStateResponse `json:"body"`
		}{Body: nonNilSlice(states)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-chore",
		Method:      http.MethodGet,
		Path:        "/chores/{chore_id}",
		Summary:     "Chore state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ChoreID string `path:"chore_id"`
	}) (*choreOutput, error) {
		st, err := e.State(ctx, input.ChoreID)
		if err != nil {
			return nil, handleError(err)
		}
		return &choreOutput{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-chore",
		Method:      http.MethodPut,
		Path:        "/chores/{chore_id}",
		Summary:     "Create or replace a chore",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ChoreID string           `path:"chore_id"`
		Body    SaveChoreRequest `json:"body"`
	}) (*choreOutput, error) {
		principal, err := requirePermission(ctx, PermManage)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := e.SaveChore(ctx, input.Body.chore(input.ChoreID), principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		st, err := e.State(ctx, input.ChoreID)
		if err != nil {
			return nil, handleError(err)
		}
		return &choreOutput{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-chore",
		Method:        http.MethodDelete,
		Path:          "/chores/{chore_id}",
		Summary:       "Delete a chore",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ChoreID string `path:"chore_id"`
	}) (*struct{}, error) {
		principal, err := requirePermission(ctx, PermManage)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteChore(ctx, input.ChoreID, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

type assigneeInput struct {
	ChoreID string           `path:"chore_id"`
	Body    *AssigneeRequest `json:"body" required:"false"`
}

func (in *assigneeInput) assignee() string {
	if in.Body == nil {
		return ""
	}
	return strings.TrimSpace(in.Body.AssigneeID)
}

func registerLifecycle(api huma.API, e engine.Engine) {
	lifecycleErrors := []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict}

	huma.Register(api, huma.Operation{
		OperationID: "claim-chore",
		Method:      http.MethodPost,
		Path:        "/chores/{chore_id}/claim",
		Summary:     "Claim a chore for an assignee",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *assigneeInput) (*struct {
		Body ResolutionResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		assignee := input.assignee()
		if assignee == "" {
			assignee = principal.ActorID
		}
		if assignee != principal.ActorID && !hasPermission(principal.Permissions, PermManage) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "cannot claim for another assignee", map[string]any{"permission": PermManage})
		}
		res, err := e.Claim(ctx, input.ChoreID, assignee, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResolutionResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-chore",
		Method:      http.MethodPost,
		Path:        "/chores/{chore_id}/approve",
		Summary:     "Approve an assignee's pending claim",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *assigneeInput) (*struct {
		Body ApproveResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, PermApprove)
		if err != nil {
			return nil, handleError(err)
		}
		assignee := input.assignee()
		if assignee == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "assignee_id is required", nil)
		}
		res, err := e.Approve(ctx, input.ChoreID, assignee, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApproveResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-chore",
		Method:      http.MethodPost,
		Path:        "/chores/{chore_id}/reject",
		Summary:     "Reject an assignee's pending claim",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *assigneeInput) (*struct {
		Body ResolutionResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, PermApprove)
		if err != nil {
			return nil, handleError(err)
		}
		assignee := input.assignee()
		if assignee == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "assignee_id is required", nil)
		}
		res, err := e.Reject(ctx, input.ChoreID, assignee, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResolutionResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerRotation(api huma.API, e engine.Engine) {
	type rotationOutput struct {
		Body RotationResponse `json:"body"`
	}
	rotationErrors := []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound}

	huma.Register(api, huma.Operation{
		OperationID: "set-turn",
		Method:      http.MethodPut,
		Path:        "/chores/{chore_id}/rotation/turn",
		Summary:     "Hand the turn to an assignee",
		Errors:      rotationErrors,
	}, func(ctx context.Context, input *struct {
		ChoreID string      `path:"chore_id"`
		Body    TurnRequest `json:"body"`
	}) (*rotationOutput, error) {
		principal, err := requirePermission(ctx, PermManage)
		if err != nil {
			return nil, handleError(err)
		}
		rs, err := e.SetTurn(ctx, input.ChoreID, strings.TrimSpace(input.Body.AssigneeID), principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &rotationOutput{Body: rs}, nil
	})

	for _, op := range []struct {
		id, summary string
		run         func(context.Context, string, string) (domain.RotationState, error)
	}{
		{"reset", "Return the turn to the first assignee", e.ResetTurn},
		{"open", "Let any assignee claim until the next approval", e.OpenCycle},
	} {
		op := op
		huma.Register(api, huma.Operation{
			OperationID: "rotation-" + op.id,
			Method:      http.MethodPost,
			Path:        "/chores/{chore_id}/rotation/" + op.id,
			Summary:     op.summary,
			Errors:      rotationErrors,
		}, func(ctx context.Context, input *struct {
			ChoreID string `path:"chore_id"`
		}) (*rotationOutput, error) {
			principal, err := requirePermission(ctx, PermManage)
			if err != nil {
				return nil, handleError(err)
			}
			rs, err := op.run(ctx, input.ChoreID, principal.ActorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &rotationOutput{Body: rs}, nil
		})
	}
}

func registerScan(api huma.API, sw schedule.Sweeper) {
	huma.Register(api, huma.Operation{
		OperationID: "run-scan",
		Method:      http.MethodPost,
		Path:        "/scan/{sweep}",
		Summary:     "Run a scanner sweep now",
		Errors:      []int{http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Sweep string `path:"sweep" enum:"tick,rollover"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, PermManage); err != nil {
			return nil, handleError(err)
		}
		if sw == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "scanner_unavailable", "scanner not configured", nil)
		}
		var (
			report scanner.Report
			err    error
		)
		if scanner.Sweep(input.Sweep) == scanner.SweepRollover {
			report, err = sw.Rollover(ctx)
		} else {
			report, err = sw.Tick(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: report}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ChoreID    string `query:"chore_id"`
		AssigneeID string `query:"assignee_id"`
		Type       string `query:"type"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.Events(ctx, domain.EventQuery{
			ChoreID:    input.ChoreID,
			AssigneeID: input.AssigneeID,
			Type:       input.Type,
			Limit:      limit + 1,
			BeforeSeq:  before,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].Seq, 10)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerPoints(api huma.API, b ledger.Balancer) {
	huma.Register(api, huma.Operation{
		OperationID: "list-points",
		Method:      http.MethodGet,
		Path:        "/points",
		Summary:     "Reward balances per assignee",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body balancesResponse `json:"body"`
	}, error) {
		resp := balancesResponse{Items: []ledger.Balance{}}
		if b != nil {
			items, err := b.Balances(ctx)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Items = append(resp.Items, items...)
		}
		return &struct {
			Body balancesResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		ttl := 12 * time.Hour
		if input.Body.TTLMinutes > 0 {
			ttl = time.Duration(input.Body.TTLMinutes) * time.Minute
		}
		token, err := signToken(authCfg.JWTSecret, actor, input.Body.Permissions, ttl)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
