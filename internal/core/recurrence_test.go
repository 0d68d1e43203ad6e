package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCalendar struct {
	holidays map[string]string
	err      error
}

func (c stubCalendar) IsHoliday(date time.Time) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	_, ok := c.holidays[date.Format(time.DateOnly)]
	return ok, nil
}

func (c stubCalendar) HolidayName(date time.Time) string {
	return c.holidays[date.Format(time.DateOnly)]
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func TestShouldSkipWeekday(t *testing.T) {
	e := NewRecurrenceEvaluator(nil, nil)
	saturday := date(2024, time.March, 16)

	skip, reason := e.ShouldSkip("1,2,3,4,5", false, "", saturday)
	assert.True(t, skip)
	assert.Contains(t, reason, "weekday")

	skip, reason = e.ShouldSkip("1,2,3,4,5", false, "", date(2024, time.March, 15))
	assert.False(t, skip)
	assert.Empty(t, reason)

	skip, _ = e.ShouldSkip("7", false, "", date(2024, time.March, 17))
	assert.False(t, skip, "sunday is ISO 7")
}

func TestShouldSkipFailOpen(t *testing.T) {
	e := NewRecurrenceEvaluator(nil, nil)
	saturday := date(2024, time.March, 16)

	for _, filter := range []string{"Mon,Tue", "0", "8", "1,x"} {
		skip, _ := e.ShouldSkip(filter, false, "", saturday)
		assert.False(t, skip, "weekday filter %q", filter)
	}
	for _, filter := range []string{"first", "0", "32", "1,?"} {
		skip, _ := e.ShouldSkip("", false, filter, saturday)
		assert.False(t, skip, "day filter %q", filter)
	}
}

func TestShouldSkipHoliday(t *testing.T) {
	cal := stubCalendar{holidays: map[string]string{"2024-05-03": "Constitution Memorial Day"}}
	e := NewRecurrenceEvaluator(cal, nil)

	skip, reason := e.ShouldSkip("", true, "", date(2024, time.May, 3))
	assert.True(t, skip)
	assert.Equal(t, "holiday: Constitution Memorial Day", reason)

	skip, _ = e.ShouldSkip("", false, "", date(2024, time.May, 3))
	assert.False(t, skip, "holiday flag off")

	skip, _ = e.ShouldSkip("", true, "", date(2024, time.May, 7))
	assert.False(t, skip)
}

func TestShouldSkipHolidayCalendarUnavailable(t *testing.T) {
	broken := NewRecurrenceEvaluator(stubCalendar{err: errors.New("no data")}, nil)
	skip, _ := broken.ShouldSkip("", true, "", date(2024, time.January, 1))
	assert.False(t, skip)

	missing := NewRecurrenceEvaluator(nil, nil)
	skip, _ = missing.ShouldSkip("", true, "", date(2024, time.January, 1))
	assert.False(t, skip)
}

func TestShouldSkipOrder(t *testing.T) {
	cal := stubCalendar{holidays: map[string]string{"2024-03-20": "Vernal Equinox Day"}}
	e := NewRecurrenceEvaluator(cal, nil)
	wednesday := date(2024, time.March, 20)

	_, reason := e.ShouldSkip("1", true, "1", wednesday)
	assert.Contains(t, reason, "weekday")

	_, reason = e.ShouldSkip("3", true, "1", wednesday)
	assert.Contains(t, reason, "holiday")

	_, reason = e.ShouldSkip("3", false, "1", wednesday)
	assert.Contains(t, reason, "day-of-month")
}

func TestDayOfMonthLastDay(t *testing.T) {
	e := NewRecurrenceEvaluator(nil, nil)
	cases := []struct {
		day  time.Time
		skip bool
	}{
		{date(2024, time.February, 29), false},
		{date(2024, time.February, 28), true},
		{date(2023, time.February, 28), false},
		{date(2024, time.April, 30), false},
		{date(2024, time.March, 30), true},
		{date(2024, time.December, 31), false},
	}
	for _, tc := range cases {
		skip, _ := e.ShouldSkip("", false, "l", tc.day)
		assert.Equal(t, tc.skip, skip, tc.day.Format(time.DateOnly))
	}

	skip, _ := e.ShouldSkip("", false, "1、15", date(2024, time.June, 15))
	assert.False(t, skip)
	skip, _ = e.ShouldSkip("", false, "1 15", date(2024, time.June, 14))
	assert.True(t, skip)
}

func TestParseFilters(t *testing.T) {
	days, err := ParseWeekdayFilter(" 1, 3 ,5 ")
	require.NoError(t, err)
	assert.Len(t, days, 3)
	assert.Contains(t, days, 3)

	days, err = ParseWeekdayFilter("")
	require.NoError(t, err)
	assert.Empty(t, days)

	f, err := ParseDayOfMonthFilter("10,L")
	require.NoError(t, err)
	assert.True(t, f.LastDay)
	assert.Contains(t, f.Days, 10)
	assert.False(t, f.Empty())

	f, err = ParseDayOfMonthFilter("")
	require.NoError(t, err)
	assert.True(t, f.Empty())
}

func TestEvaluateUsesTaskFilters(t *testing.T) {
	e := NewRecurrenceEvaluator(nil, nil)
	task := TaskRecord{WeekdayFilter: "6,7"}
	skip, _ := e.Evaluate(task, date(2024, time.March, 16))
	assert.False(t, skip)
	skip, _ = e.Evaluate(task, date(2024, time.March, 18))
	assert.True(t, skip)
}
