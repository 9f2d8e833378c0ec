package domain

type CompletionMode string

const (
	CompletionIndependent CompletionMode = "independent"
	CompletionSharedAll   CompletionMode = "shared_all"
	CompletionSharedFirst CompletionMode = "shared_first"
)

func (m CompletionMode) Valid() bool {
	switch m {
	case CompletionIndependent, CompletionSharedAll, CompletionSharedFirst:
		return true
	}
	return false
}

type RotationMode string

const (
	RotationNone   RotationMode = "none"
	RotationSimple RotationMode = "simple"
	RotationSteal  RotationMode = "steal"
	RotationSmart  RotationMode = "smart"
)

func (m RotationMode) Valid() bool {
	switch m {
	case RotationNone, RotationSimple, RotationSteal, RotationSmart:
		return true
	}
	return false
}

// Active reports whether the mode restricts claims to a turn holder.
func (m RotationMode) Active() bool {
	return m == RotationSimple || m == RotationSteal || m == RotationSmart
}

type Frequency string

const (
	FrequencyNone               Frequency = "none"
	FrequencyDaily              Frequency = "daily"
	FrequencyDailyMulti         Frequency = "daily_multi"
	FrequencyWeekly             Frequency = "weekly"
	FrequencyBiweekly           Frequency = "biweekly"
	FrequencyMonthly            Frequency = "monthly"
	FrequencyCustom             Frequency = "custom"
	FrequencyCustomFromComplete Frequency = "custom_from_complete"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyNone, FrequencyDaily, FrequencyDailyMulti, FrequencyWeekly, FrequencyBiweekly,
		FrequencyMonthly, FrequencyCustom, FrequencyCustomFromComplete:
		return true
	}
	return false
}

type IntervalUnit string

const (
	UnitHours  IntervalUnit = "hours"
	UnitDays   IntervalUnit = "days"
	UnitWeeks  IntervalUnit = "weeks"
	UnitMonths IntervalUnit = "months"
)

func (u IntervalUnit) Valid() bool {
	switch u {
	case UnitHours, UnitDays, UnitWeeks, UnitMonths:
		return true
	}
	return false
}

type ApprovalReset string

const (
	ResetAtMidnightOnce  ApprovalReset = "at_midnight_once"
	ResetAtMidnightMulti ApprovalReset = "at_midnight_multi"
	ResetAtDueDateOnce   ApprovalReset = "at_due_date_once"
	ResetAtDueDateMulti  ApprovalReset = "at_due_date_multi"
	ResetUponCompletion  ApprovalReset = "upon_completion"
)

func (r ApprovalReset) Valid() bool {
	switch r {
	case ResetAtMidnightOnce, ResetAtMidnightMulti, ResetAtDueDateOnce, ResetAtDueDateMulti, ResetUponCompletion:
		return true
	}
	return false
}

// MultiCompletion reports whether an approval leaves the chore claimable for
// the rest of the period.
func (r ApprovalReset) MultiCompletion() bool {
	return r == ResetAtMidnightMulti || r == ResetAtDueDateMulti
}

// AtDueDate reports whether the period ends at the due date instead of midnight.
func (r ApprovalReset) AtDueDate() bool {
	return r == ResetAtDueDateOnce || r == ResetAtDueDateMulti
}

type OverduePolicy string

const (
	OverdueAtDueDate    OverduePolicy = "at_due_date"
	OverdueNever        OverduePolicy = "never_overdue"
	OverdueClearAtReset OverduePolicy = "clear_at_reset"
	OverdueMissedLock   OverduePolicy = "missed_lock"
)

func (p OverduePolicy) Valid() bool {
	switch p {
	case OverdueAtDueDate, OverdueNever, OverdueClearAtReset, OverdueMissedLock:
		return true
	}
	return false
}

// Strict reports whether passing the due date locks the chore.
func (p OverduePolicy) Strict() bool { return p == OverdueMissedLock }

// ShowsOverdue reports whether a relaxed policy surfaces the overdue state.
func (p OverduePolicy) ShowsOverdue() bool {
	return p == OverdueAtDueDate || p == OverdueClearAtReset
}

type PendingClaimPolicy string

const (
	PendingHold        PendingClaimPolicy = "hold"
	PendingClear       PendingClaimPolicy = "clear"
	PendingAutoApprove PendingClaimPolicy = "auto_approve"
)

func (p PendingClaimPolicy) Valid() bool {
	switch p {
	case PendingHold, PendingClear, PendingAutoApprove:
		return true
	}
	return false
}

// SharedResetOrder decides when an upon-completion reset fires for
// shared_all chores.
type SharedResetOrder string

const (
	// ResetWaitForAll re-arms every assignee once all of them are approved.
	ResetWaitForAll SharedResetOrder = "wait_for_all"
	// ResetPerAssignee re-arms each assignee as soon as they are approved.
	ResetPerAssignee SharedResetOrder = "per_assignee"
)

func (o SharedResetOrder) Valid() bool {
	return o == ResetWaitForAll || o == ResetPerAssignee
}

// State is the derived status of one (assignee, chore) pair.
type State string

const (
	StateApproved  State = "approved"
	StateClaimed   State = "claimed"
	StateNotMyTurn State = "not_my_turn"
	StateMissed    State = "missed"
	StateOverdue   State = "overdue"
	StateWaiting   State = "waiting"
	StateDue       State = "due"
	StatePending   State = "pending"
)

// States lists every state in resolution priority order.
var States = []State{
	StateApproved, StateClaimed, StateNotMyTurn, StateMissed,
	StateOverdue, StateWaiting, StateDue, StatePending,
}

type LockReason string

const (
	LockNone      LockReason = ""
	LockNotMyTurn LockReason = "not_my_turn"
	LockMissed    LockReason = "missed"
	LockWaiting   LockReason = "waiting"
)

type EventType string

const (
	EventClaimed         EventType = "chore.claimed"
	EventApproved        EventType = "chore.approved"
	EventRejected        EventType = "chore.rejected"
	EventOverdue         EventType = "chore.overdue"
	EventMissed          EventType = "chore.missed"
	EventChoreSaved      EventType = "chore.saved"
	EventChoreDeleted    EventType = "chore.deleted"
	EventRotationChanged EventType = "rotation.changed"
)
