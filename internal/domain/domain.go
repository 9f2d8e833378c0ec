package domain

import "time"

// Chore is the shared definition of one recurring household task.
type Chore struct {
	ID                 string             `json:"id" yaml:"id"`
	Name               string             `json:"name" yaml:"name"`
	Assignees          []string           `json:"assignees" yaml:"assignees"`
	Completion         CompletionMode     `json:"completion" yaml:"completion" enum:"independent,shared_all,shared_first"`
	Rotation           RotationMode       `json:"rotation" yaml:"rotation" enum:"none,simple,steal,smart"`
	Recurrence         Recurrence         `json:"recurrence" yaml:"recurrence"`
	ApprovalReset      ApprovalReset      `json:"approval_reset" yaml:"approval_reset" enum:"at_midnight_once,at_midnight_multi,at_due_date_once,at_due_date_multi,upon_completion"`
	PendingClaim       PendingClaimPolicy `json:"pending_claim" yaml:"pending_claim" enum:"hold,clear,auto_approve"`
	Overdue            OverduePolicy      `json:"overdue" yaml:"overdue" enum:"at_due_date,never_overdue,clear_at_reset,missed_lock"`
	ClaimWindowMinutes int                `json:"claim_window_minutes,omitempty" yaml:"claim_window_minutes"`
	DueAt              *time.Time         `json:"due_at,omitempty" yaml:"due_at" format:"date-time"`
	Reward             float64            `json:"reward" yaml:"reward"`
	CreatedAt          time.Time          `json:"created_at" yaml:"-" format:"date-time"`
	UpdatedAt          time.Time          `json:"updated_at" yaml:"-" format:"date-time"`
}

// Recurrence describes when a chore falls due.
type Recurrence struct {
	Frequency  Frequency    `json:"frequency" yaml:"frequency" enum:"none,daily,daily_multi,weekly,biweekly,monthly,custom,custom_from_complete"`
	Interval   int          `json:"interval,omitempty" yaml:"interval"`
	Unit       IntervalUnit `json:"unit,omitempty" yaml:"unit"`
	Weekdays   []string     `json:"weekdays,omitempty" yaml:"weekdays"`
	DueTime    string       `json:"due_time,omitempty" yaml:"due_time"`
	TimeSlots  []string     `json:"time_slots,omitempty" yaml:"time_slots"`
	DayOfMonth int          `json:"day_of_month,omitempty" yaml:"day_of_month"`
}

// Instance holds the durable facts for one assignee of one chore.
// Everything else about the pair is derived at read time.
type Instance struct {
	ChoreID              string     `json:"chore_id"`
	AssigneeID           string     `json:"assignee_id"`
	HasPendingClaim      bool       `json:"has_pending_claim"`
	IsApprovedThisPeriod bool       `json:"is_approved_this_period"`
	DueAt                *time.Time `json:"due_at,omitempty" format:"date-time"`
	ClaimWindowOpensAt   *time.Time `json:"claim_window_opens_at,omitempty" format:"date-time"`
	LastApprovedAt       *time.Time `json:"last_approved_at,omitempty" format:"date-time"`
	LastClaimedAt        *time.Time `json:"last_claimed_at,omitempty" format:"date-time"`
	IsLockedMissed       bool       `json:"is_locked_missed"`
	// OverdueNotifiedFor is the due date whose overdue event was already emitted.
	OverdueNotifiedFor *time.Time `json:"overdue_notified_for,omitempty" format:"date-time"`
	LastMissedAt       *time.Time `json:"last_missed_at,omitempty" format:"date-time"`
	UpdatedAt          time.Time  `json:"updated_at" format:"date-time"`
}

// RotationState tracks whose turn it is for a rotating chore.
type RotationState struct {
	ChoreID   string    `json:"chore_id"`
	Holder    string    `json:"holder"`
	Override  bool      `json:"override"`
	UpdatedAt time.Time `json:"updated_at" format:"date-time"`
}

type Event struct {
	Seq          int64          `json:"seq"`
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	ChoreID      string         `json:"chore_id"`
	AssigneeID   string         `json:"assignee_id,omitempty"`
	ActorID      string         `json:"actor_id,omitempty"`
	TS           time.Time      `json:"ts" format:"date-time"`
	RewardWeight float64        `json:"reward_weight,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Snapshot is everything a resolver or mutation needs to know about one chore.
type Snapshot struct {
	Chore     Chore
	Rotation  *RotationState
	Instances map[string]Instance
}

// Mutation is one atomic write against the store.
type Mutation struct {
	ChoreID       string
	Chore         *Chore
	Delete        bool
	Instances     []Instance
	Rotation      *RotationState
	ClearRotation bool
	// DropInstances lists assignees whose instances are removed.
	DropInstances []string
	Events        []Event
}

// Empty reports whether the mutation writes nothing.
func (m Mutation) Empty() bool {
	return m.Chore == nil && !m.Delete && len(m.Instances) == 0 && m.Rotation == nil &&
		!m.ClearRotation && len(m.DropInstances) == 0 && len(m.Events) == 0
}

// EventQuery filters the audit log.
type EventQuery struct {
	ChoreID    string
	AssigneeID string
	Type       string
	Limit      int
	// BeforeSeq pages backwards; zero means from the latest event.
	BeforeSeq int64
}

// HasAssignee reports whether id is one of the chore's assignees.
func (c Chore) HasAssignee(id string) bool {
	for _, a := range c.Assignees {
		if a == id {
			return true
		}
	}
	return false
}

// Coupled reports whether one assignee's transitions change what peers see.
func (c Chore) Coupled() bool {
	return c.Completion == CompletionSharedFirst || c.Rotation.Active()
}

// ResolveHolder returns holder when it is still assigned, otherwise the first
// remaining assignee.
func ResolveHolder(assignees []string, holder string) string {
	for _, a := range assignees {
		if a == holder {
			return holder
		}
	}
	if len(assignees) == 0 {
		return ""
	}
	return assignees[0]
}
