// Package recurrence computes due dates for chore recurrence descriptors.
//
// All functions are pure. Calendar steps are taken on wall-clock dates in the
// household location so that a chore due at 20:00 stays due at 20:00 across
// daylight-saving changes; hour-based intervals are absolute durations.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"choreline/internal/domain"
)

// ErrNoRecurrence is returned for descriptors that never fall due again.
var ErrNoRecurrence = errors.New("recurrence: chore does not recur")

// maxCatchUp bounds NextAfter's iteration over missed occurrences.
const maxCatchUp = 10000

type clock struct{ hour, minute int }

type plan struct {
	freq     domain.Frequency
	interval int
	unit     domain.IntervalUnit
	days     [7]bool
	anyDay   bool
	due      clock
	slots    []clock
	dom      int
	loc      *time.Location
}

func compile(r domain.Recurrence, loc *time.Location) (plan, error) {
	if err := r.Validate(); err != nil {
		return plan{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	p := plan{freq: r.Frequency, interval: r.Interval, unit: r.Unit, dom: r.DayOfMonth, loc: loc}
	dueTime := r.DueTime
	if dueTime == "" {
		dueTime = domain.DefaultDueTime
	}
	h, m, err := domain.ParseClock(dueTime)
	if err != nil {
		return plan{}, err
	}
	p.due = clock{h, m}
	for _, s := range r.TimeSlots {
		h, m, err := domain.ParseClock(s)
		if err != nil {
			return plan{}, err
		}
		p.slots = append(p.slots, clock{h, m})
	}
	sort.Slice(p.slots, func(i, j int) bool {
		if p.slots[i].hour != p.slots[j].hour {
			return p.slots[i].hour < p.slots[j].hour
		}
		return p.slots[i].minute < p.slots[j].minute
	})
	p.anyDay = len(r.Weekdays) == 0
	for _, name := range r.Weekdays {
		d, err := domain.ParseWeekday(name)
		if err != nil {
			return plan{}, err
		}
		p.days[d] = true
	}
	return p, nil
}

// Next returns the first occurrence strictly after ref.
//
// For custom_from_complete the caller passes the completion time as ref, so
// the interval is counted from the completion rather than from the calendar.
func Next(r domain.Recurrence, ref time.Time, loc *time.Location) (time.Time, error) {
	p, err := compile(r, loc)
	if err != nil {
		return time.Time{}, err
	}
	return p.next(ref.In(p.loc))
}

// NextAfter steps through occurrences starting at ref until one falls after
// notBefore.
func NextAfter(r domain.Recurrence, ref, notBefore time.Time, loc *time.Location) (time.Time, error) {
	p, err := compile(r, loc)
	if err != nil {
		return time.Time{}, err
	}
	t := ref.In(p.loc)
	for i := 0; i < maxCatchUp; i++ {
		t, err = p.next(t)
		if err != nil {
			return time.Time{}, err
		}
		if t.After(notBefore) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("recurrence: no occurrence after %s within %d steps", notBefore.Format(time.RFC3339), maxCatchUp)
}

// Anchor fixes an open day-of-month to ref's day in loc. Steps from a due
// date clamped to a short month then return to the anchor day.
func Anchor(r domain.Recurrence, ref time.Time, loc *time.Location) domain.Recurrence {
	if !r.CalendarMonthly() || r.DayOfMonth != 0 {
		return r
	}
	if loc == nil {
		loc = time.Local
	}
	r.DayOfMonth = ref.In(loc).Day()
	return r
}

// WindowStart returns when claims open for an occurrence due at due, or nil
// when the chore has no claim window.
func WindowStart(due *time.Time, minutes int) *time.Time {
	if due == nil || minutes <= 0 {
		return nil
	}
	start := due.Add(-time.Duration(minutes) * time.Minute)
	return &start
}

func (p plan) next(ref time.Time) (time.Time, error) {
	switch p.freq {
	case domain.FrequencyNone:
		return time.Time{}, ErrNoRecurrence
	case domain.FrequencyDaily:
		return p.stepDays(ref, p.interval), nil
	case domain.FrequencyDailyMulti:
		return p.nextSlot(ref), nil
	case domain.FrequencyWeekly:
		return p.weekly(ref, p.interval), nil
	case domain.FrequencyBiweekly:
		return p.weekly(ref, 2*p.interval), nil
	case domain.FrequencyMonthly:
		return p.snap(p.monthly(ref, p.interval)), nil
	case domain.FrequencyCustom:
		switch p.unit {
		case domain.UnitHours:
			return p.snap(ref.Add(time.Duration(p.interval) * time.Hour)), nil
		case domain.UnitDays:
			return p.stepDays(ref, p.interval), nil
		case domain.UnitWeeks:
			return p.stepDays(ref, 7*p.interval), nil
		case domain.UnitMonths:
			return p.snap(p.monthly(ref, p.interval)), nil
		}
	case domain.FrequencyCustomFromComplete:
		return p.fromCompletion(ref), nil
	}
	return time.Time{}, fmt.Errorf("recurrence: unsupported frequency %q", p.freq)
}

func (p plan) at(y int, m time.Month, d int, c clock) time.Time {
	return time.Date(y, m, d, c.hour, c.minute, 0, 0, p.loc)
}

func (p plan) applies(t time.Time) bool {
	return p.anyDay || p.days[t.Weekday()]
}

// snap moves t forward day by day, keeping its wall-clock time, until it
// lands on an applicable weekday.
func (p plan) snap(t time.Time) time.Time {
	c := clock{t.Hour(), t.Minute()}
	for i := 0; i < 7 && !p.applies(t); i++ {
		y, m, d := t.Date()
		t = p.at(y, m, d+1, c)
	}
	return t
}

// stepDays returns today's due time if still ahead, else the due time n days
// later, snapped to an applicable weekday.
func (p plan) stepDays(ref time.Time, n int) time.Time {
	y, m, d := ref.Date()
	cand := p.at(y, m, d, p.due)
	if !cand.After(ref) {
		cand = p.at(y, m, d+n, p.due)
	}
	return p.snap(cand)
}

func (p plan) weekly(ref time.Time, weeks int) time.Time {
	if p.anyDay {
		return p.stepDays(ref, 7*weeks)
	}
	y, m, d := ref.Date()
	cand := p.at(y, m, d, p.due)
	if !cand.After(ref) || !p.applies(cand) {
		cand = p.snap(p.at(y, m, d+1, p.due))
	}
	if weeks > 1 && weekIndex(cand) != weekIndex(ref) {
		cy, cm, cd := cand.Date()
		cand = p.at(cy, cm, cd+7*(weeks-1), p.due)
	}
	return cand
}

func (p plan) monthly(ref time.Time, months int) time.Time {
	y, m, d := ref.Date()
	anchor := p.dom
	if anchor == 0 {
		anchor = d
	}
	cand := p.monthDay(y, m, anchor)
	for k := 1; !cand.After(ref); k++ {
		cand = p.monthDay(y, m+time.Month(k*months), anchor)
	}
	return cand
}

// monthDay clamps day to the length of the month.
func (p plan) monthDay(y int, m time.Month, day int) time.Time {
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return p.at(first.Year(), first.Month(), day, p.due)
}

func (p plan) nextSlot(ref time.Time) time.Time {
	y, m, d := ref.Date()
	day := p.at(y, m, d, clock{})
	if p.applies(day) {
		for _, s := range p.slots {
			if t := p.at(y, m, d, s); t.After(ref) {
				return t
			}
		}
		day = p.at(y, m, d+p.interval, clock{})
	}
	day = p.snap(day)
	y, m, d = day.Date()
	return p.at(y, m, d, p.slots[0])
}

func (p plan) fromCompletion(ref time.Time) time.Time {
	y, m, d := ref.Date()
	switch p.unit {
	case domain.UnitHours:
		return p.snap(ref.Add(time.Duration(p.interval) * time.Hour))
	case domain.UnitWeeks:
		return p.snap(p.at(y, m, d+7*p.interval, p.due))
	case domain.UnitMonths:
		anchor := p.dom
		if anchor == 0 {
			anchor = d
		}
		return p.snap(p.monthDay(y, m+time.Month(p.interval), anchor))
	default:
		return p.snap(p.at(y, m, d+p.interval, p.due))
	}
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// weekIndex numbers Monday-based calendar weeks.
func weekIndex(t time.Time) int64 {
	y, m, d := t.Date()
	days := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
	return (days + 3) / 7
}
