package server

import (
	"time"

	"choreline/internal/domain"
	"choreline/internal/engine"
	"choreline/internal/ledger"
	"choreline/internal/resolver"
	"choreline/internal/scanner"
)

// Request payloads

type RecurrenceRequest struct {
	Frequency  string   `json:"frequency" enum:"none,daily,daily_multi,weekly,biweekly,monthly,custom,custom_from_complete"`
	Interval   int      `json:"interval,omitempty"`
	Unit       string   `json:"unit,omitempty" enum:"hours,days,weeks,months"`
	Weekdays   []string `json:"weekdays,omitempty"`
	DueTime    string   `json:"due_time,omitempty" example:"19:00"`
	TimeSlots  []string `json:"time_slots,omitempty"`
	DayOfMonth int      `json:"day_of_month,omitempty"`
}

type SaveChoreRequest struct {
	Name               string            `json:"name"`
	Assignees          []string          `json:"assignees" minItems:"1"`
	Completion         string            `json:"completion,omitempty" enum:"independent,shared_all,shared_first"`
	Rotation           string            `json:"rotation,omitempty" enum:"none,simple,steal,smart"`
	Recurrence         RecurrenceRequest `json:"recurrence"`
	ApprovalReset      string            `json:"approval_reset,omitempty" enum:"at_midnight_once,at_midnight_multi,at_due_date_once,at_due_date_multi,upon_completion"`
	PendingClaim       string            `json:"pending_claim,omitempty" enum:"hold,clear,auto_approve"`
	Overdue            string            `json:"overdue,omitempty" enum:"at_due_date,never_overdue,clear_at_reset,missed_lock"`
	ClaimWindowMinutes int               `json:"claim_window_minutes,omitempty"`
	DueAt              *time.Time        `json:"due_at,omitempty" format:"date-time"`
	Reward             float64           `json:"reward,omitempty"`
}

func (r SaveChoreRequest) chore(id string) domain.Chore {
	return domain.Chore{
		ID:         id,
		Name:       r.Name,
		Assignees:  r.Assignees,
		Completion: domain.CompletionMode(r.Completion),
		Rotation:   domain.RotationMode(r.Rotation),
		Recurrence: domain.Recurrence{
			Frequency:  domain.Frequency(r.Recurrence.Frequency),
			Interval:   r.Recurrence.Interval,
			Unit:       domain.IntervalUnit(r.Recurrence.Unit),
			Weekdays:   r.Recurrence.Weekdays,
			DueTime:    r.Recurrence.DueTime,
			TimeSlots:  r.Recurrence.TimeSlots,
			DayOfMonth: r.Recurrence.DayOfMonth,
		},
		ApprovalReset:      domain.ApprovalReset(r.ApprovalReset),
		PendingClaim:       domain.PendingClaimPolicy(r.PendingClaim),
		Overdue:            domain.OverduePolicy(r.Overdue),
		ClaimWindowMinutes: r.ClaimWindowMinutes,
		DueAt:              r.DueAt,
		Reward:             r.Reward,
	}
}

type AssigneeRequest struct {
	// AssigneeID defaults to the authenticated actor.
	AssigneeID string `json:"assignee_id,omitempty"`
}

type TurnRequest struct {
	AssigneeID string `json:"assignee_id"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Permissions []string `json:"permissions,omitempty"`
	TTLMinutes  int      `json:"ttl_minutes,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type ChoreStateResponse = engine.ChoreState

type ResolutionResponse = resolver.Resolution

type ApproveResponse = engine.ApproveResult

type RotationResponse = domain.RotationState

type ReportResponse = scanner.Report

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type balancesResponse struct {
	Items []ledger.Balance `json:"items"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
