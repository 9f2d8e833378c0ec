package domain

import (
	"fmt"
	"strings"
	"time"
)

const DefaultDueTime = "23:59"

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekday accepts three-letter or full English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if len(key) > 3 {
		key = key[:3]
	}
	d, ok := weekdayNames[key]
	if !ok {
		return 0, fmt.Errorf("invalid weekday %q", s)
	}
	return d, nil
}

// ParseClock parses an "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

// Normalize fills unset axes with their defaults.
func (c *Chore) Normalize() {
	if c.Completion == "" {
		c.Completion = CompletionIndependent
	}
	if c.Rotation == "" {
		c.Rotation = RotationNone
	}
	if c.ApprovalReset == "" {
		c.ApprovalReset = ResetAtMidnightOnce
	}
	if c.PendingClaim == "" {
		c.PendingClaim = PendingHold
	}
	if c.Overdue == "" {
		c.Overdue = OverdueAtDueDate
	}
	if c.Recurrence.Frequency == "" {
		c.Recurrence.Frequency = FrequencyNone
	}
	if c.Recurrence.Interval == 0 {
		c.Recurrence.Interval = 1
	}
	if c.Recurrence.DueTime == "" {
		c.Recurrence.DueTime = DefaultDueTime
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	if len(c.Recurrence.Weekdays) == 0 {
		c.Recurrence.Weekdays = nil
	}
	if len(c.Recurrence.TimeSlots) == 0 {
		c.Recurrence.TimeSlots = nil
	}
}

func (c Chore) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("chore id is required")
	}
	if len(c.Assignees) == 0 {
		return fmt.Errorf("chore %s: at least one assignee is required", c.ID)
	}
	seen := make(map[string]struct{}, len(c.Assignees))
	for _, a := range c.Assignees {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("chore %s: empty assignee id", c.ID)
		}
		if _, dup := seen[a]; dup {
			return fmt.Errorf("chore %s: duplicate assignee %s", c.ID, a)
		}
		seen[a] = struct{}{}
	}
	if !c.Completion.Valid() {
		return fmt.Errorf("chore %s: invalid completion mode %q", c.ID, c.Completion)
	}
	if !c.Rotation.Valid() {
		return fmt.Errorf("chore %s: invalid rotation mode %q", c.ID, c.Rotation)
	}
	if c.Rotation.Active() && c.Completion == CompletionSharedAll {
		return fmt.Errorf("chore %s: rotation cannot be combined with shared_all", c.ID)
	}
	if !c.ApprovalReset.Valid() {
		return fmt.Errorf("chore %s: invalid approval reset %q", c.ID, c.ApprovalReset)
	}
	if !c.PendingClaim.Valid() {
		return fmt.Errorf("chore %s: invalid pending claim policy %q", c.ID, c.PendingClaim)
	}
	if !c.Overdue.Valid() {
		return fmt.Errorf("chore %s: invalid overdue policy %q", c.ID, c.Overdue)
	}
	if c.ClaimWindowMinutes < 0 {
		return fmt.Errorf("chore %s: claim window must not be negative", c.ID)
	}
	if c.Reward < 0 {
		return fmt.Errorf("chore %s: reward must not be negative", c.ID)
	}
	if err := c.Recurrence.Validate(); err != nil {
		return fmt.Errorf("chore %s: %w", c.ID, err)
	}
	return nil
}

// CalendarMonthly reports whether r steps by calendar months from a
// day-of-month anchor.
func (r Recurrence) CalendarMonthly() bool {
	return r.Frequency == FrequencyMonthly || (r.Frequency == FrequencyCustom && r.Unit == UnitMonths)
}

func (r Recurrence) Validate() error {
	if !r.Frequency.Valid() {
		return fmt.Errorf("invalid frequency %q", r.Frequency)
	}
	if r.Interval < 1 {
		return fmt.Errorf("interval must be at least 1")
	}
	switch r.Frequency {
	case FrequencyCustom, FrequencyCustomFromComplete:
		if !r.Unit.Valid() {
			return fmt.Errorf("invalid interval unit %q", r.Unit)
		}
	case FrequencyDailyMulti:
		if len(r.TimeSlots) == 0 {
			return fmt.Errorf("daily_multi requires time_slots")
		}
	}
	if r.DueTime != "" {
		if _, _, err := ParseClock(r.DueTime); err != nil {
			return err
		}
	}
	for _, slot := range r.TimeSlots {
		if _, _, err := ParseClock(slot); err != nil {
			return err
		}
	}
	for _, d := range r.Weekdays {
		if _, err := ParseWeekday(d); err != nil {
			return err
		}
	}
	if r.DayOfMonth < 0 || r.DayOfMonth > 31 {
		return fmt.Errorf("day_of_month must be between 1 and 31")
	}
	return nil
}
