package recurrence

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"choreline/internal/domain"
)

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestNextDaily(t *testing.T) {
	rec := domain.Recurrence{Frequency: domain.FrequencyDaily, Interval: 1, DueTime: "20:00"}

	got, err := Next(rec, at(2024, 3, 5, 10, 0), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 3, 5, 20, 0), got)

	got, err = Next(rec, got, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 3, 6, 20, 0), got)
}

func TestNextWeekdayRoundTripNeverSkipsOrRepeats(t *testing.T) {
	rec := domain.Recurrence{
		Frequency: domain.FrequencyDaily,
		Interval:  1,
		DueTime:   "09:00",
		Weekdays:  []string{"mon", "wed", "fri"},
	}
	applicable := map[time.Weekday]bool{time.Monday: true, time.Wednesday: true, time.Friday: true}

	ref := at(2024, 3, 3, 12, 0) // Sunday
	var got []time.Time
	for i := 0; i < 12; i++ {
		next, err := Next(rec, ref, time.UTC)
		require.NoError(t, err)
		got = append(got, next)
		ref = next
	}

	assert.Equal(t, at(2024, 3, 4, 9, 0), got[0])
	for i, ts := range got {
		assert.True(t, applicable[ts.Weekday()], "occurrence %d on %s", i, ts.Weekday())
		if i == 0 {
			continue
		}
		prev := got[i-1]
		require.True(t, ts.After(prev), "occurrence %d does not advance", i)
		for d := prev.AddDate(0, 0, 1); d.Before(ts); d = d.AddDate(0, 0, 1) {
			assert.False(t, applicable[d.Weekday()], "skipped applicable day %s", d.Format("2006-01-02"))
		}
	}
}

func TestNextWeeklyWithoutWeekdaysKeepsAnchor(t *testing.T) {
	rec := domain.Recurrence{Frequency: domain.FrequencyWeekly, Interval: 1, DueTime: "20:00"}
	got, err := Next(rec, at(2024, 3, 5, 21, 0), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 3, 12, 20, 0), got)
}

func TestNextBiweeklyAlternatesWeeks(t *testing.T) {
	rec := domain.Recurrence{
		Frequency: domain.FrequencyBiweekly,
		Interval:  1,
		DueTime:   "20:00",
		Weekdays:  []string{"monday", "thu"},
	}
	want := []time.Time{
		at(2024, 3, 4, 20, 0),
		at(2024, 3, 7, 20, 0),
		at(2024, 3, 18, 20, 0),
		at(2024, 3, 21, 20, 0),
	}
	ref := at(2024, 3, 4, 8, 0)
	for _, w := range want {
		next, err := Next(rec, ref, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, w, next)
		ref = next
	}
}

func TestNextMonthlyClampsToMonthLength(t *testing.T) {
	rec := domain.Recurrence{Frequency: domain.FrequencyMonthly, Interval: 1, DueTime: "23:59", DayOfMonth: 31}

	leap, err := Next(rec, at(2024, 1, 31, 23, 59), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 2, 29, 23, 59), leap)

	march, err := Next(rec, leap, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 3, 31, 23, 59), march)

	april, err := Next(rec, march, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 4, 30, 23, 59), april)

	plain, err := Next(rec, at(2023, 1, 31, 23, 59), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(2023, 2, 28, 23, 59), plain)
}

func TestAnchoredMonthlyReturnsToMonthEnd(t *testing.T) {
	open := domain.Recurrence{Frequency: domain.FrequencyMonthly, Interval: 1, DueTime: "23:59"}
	rec := Anchor(open, at(2024, 1, 31, 10, 0), time.UTC)
	require.Equal(t, 31, rec.DayOfMonth)

	want := []time.Time{
		at(2024, 1, 31, 23, 59),
		at(2024, 2, 29, 23, 59),
		at(2024, 3, 31, 23, 59),
		at(2024, 4, 30, 23, 59),
		at(2024, 5, 31, 23, 59),
	}
	ref := at(2024, 1, 31, 10, 0)
	for _, w := range want {
		got, err := Next(rec, ref, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, w, got)
		ref = got
	}

	pinned := domain.Recurrence{Frequency: domain.FrequencyMonthly, Interval: 1, DayOfMonth: 15}
	assert.Equal(t, 15, Anchor(pinned, at(2024, 1, 31, 10, 0), time.UTC).DayOfMonth)
	daily := domain.Recurrence{Frequency: domain.FrequencyDaily, Interval: 1}
	assert.Zero(t, Anchor(daily, at(2024, 1, 31, 10, 0), time.UTC).DayOfMonth)
}

func TestNextMonthlySnapsToWeekday(t *testing.T) {
	rec := domain.Recurrence{
		Frequency:  domain.FrequencyMonthly,
		Interval:   1,
		DueTime:    "18:00",
		DayOfMonth: 1,
		Weekdays:   []string{"mon", "tue", "wed", "thu", "fri"},
	}
	got, err := Next(rec, at(2024, 5, 31, 12, 0), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 6, 3, 18, 0), got)
}

func TestNextAcrossDaylightSaving(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	daily := domain.Recurrence{Frequency: domain.FrequencyDaily, Interval: 1, DueTime: "20:00"}
	before := time.Date(2024, 3, 9, 20, 0, 0, 0, ny)
	next, err := Next(daily, before, ny)
	require.NoError(t, err)
	assert.Equal(t, 20, next.In(ny).Hour())
	assert.Equal(t, 23*time.Hour, next.Sub(before))

	hourly := domain.Recurrence{Frequency: domain.FrequencyCustom, Interval: 24, Unit: domain.UnitHours}
	next, err = Next(hourly, before, ny)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, next.Sub(before))
	assert.Equal(t, 21, next.In(ny).Hour())
}

func TestNextFromCompletion(t *testing.T) {
	rec := domain.Recurrence{Frequency: domain.FrequencyCustomFromComplete, Interval: 3, Unit: domain.UnitDays, DueTime: "18:00"}
	got, err := Next(rec, at(2024, 3, 5, 10, 0), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 3, 8, 18, 0), got)
}

func TestNextDailyMultiSlots(t *testing.T) {
	rec := domain.Recurrence{Frequency: domain.FrequencyDailyMulti, Interval: 1, TimeSlots: []string{"18:00", "08:00"}}

	got, err := Next(rec, at(2024, 3, 5, 9, 0), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 3, 5, 18, 0), got)

	got, err = Next(rec, got, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 3, 6, 8, 0), got)
}

func TestNextNoneAndInvalid(t *testing.T) {
	_, err := Next(domain.Recurrence{Frequency: domain.FrequencyNone, Interval: 1}, at(2024, 1, 1, 0, 0), time.UTC)
	assert.ErrorIs(t, err, ErrNoRecurrence)

	_, err = Next(domain.Recurrence{Frequency: domain.FrequencyCustom, Interval: 2}, at(2024, 1, 1, 0, 0), time.UTC)
	assert.Error(t, err)
}

func TestNextAfterCatchesUp(t *testing.T) {
	rec := domain.Recurrence{Frequency: domain.FrequencyDaily, Interval: 1, DueTime: "20:00"}
	got, err := NextAfter(rec, at(2024, 3, 1, 20, 0), at(2024, 3, 5, 21, 0), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 3, 6, 20, 0), got)
}

func TestWindowStart(t *testing.T) {
	due := at(2024, 3, 5, 20, 0)
	start := WindowStart(&due, 12*60)
	require.NotNil(t, start)
	assert.Equal(t, at(2024, 3, 5, 8, 0), *start)
	assert.Nil(t, WindowStart(&due, 0))
	assert.Nil(t, WindowStart(nil, 30))
}
