package core

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// LastDayOfMonth is the day-of-month filter token for the month's final day.
const LastDayOfMonth = "L"

// HolidayCalendar answers whether a date is a public holiday.
type HolidayCalendar interface {
	IsHoliday(date time.Time) (bool, error)
	HolidayName(date time.Time) string
}

// RecurrenceEvaluator decides whether today's calendar date permits a task.
// Malformed filters and an unavailable calendar never cause a skip.
type RecurrenceEvaluator struct {
	holidays HolidayCalendar
	logger   *slog.Logger
}

// NewRecurrenceEvaluator constructs an evaluator. holidays may be nil, in which
// case holiday filters always pass.
func NewRecurrenceEvaluator(holidays HolidayCalendar, logger *slog.Logger) *RecurrenceEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecurrenceEvaluator{holidays: holidays, logger: logger}
}

// Evaluate applies the task's filters to today.
func (e *RecurrenceEvaluator) Evaluate(task TaskRecord, today time.Time) (bool, string) {
	return e.ShouldSkip(task.WeekdayFilter, task.SkipOnHoliday, task.DayOfMonthFilter, today)
}

// ShouldSkip checks weekday, then holiday, then day-of-month and returns the
// first failing reason.
func (e *RecurrenceEvaluator) ShouldSkip(weekdayFilter string, skipOnHoliday bool, dayOfMonthFilter string, today time.Time) (bool, string) {
	if !e.weekdayAllowed(weekdayFilter, today) {
		return true, fmt.Sprintf("weekday filter excludes %s (ISO %d)", today.Weekday(), isoWeekday(today))
	}
	if skipOnHoliday {
		if name, holiday := e.holiday(today); holiday {
			return true, fmt.Sprintf("holiday: %s", name)
		}
	}
	if !e.dayOfMonthAllowed(dayOfMonthFilter, today) {
		return true, fmt.Sprintf("day-of-month filter excludes day %d", today.Day())
	}
	return false, ""
}

func (e *RecurrenceEvaluator) weekdayAllowed(filter string, today time.Time) bool {
	days, err := ParseWeekdayFilter(filter)
	if err != nil {
		e.logger.Warn("unparseable weekday filter, running anyway", "filter", filter, "err", err)
		return true
	}
	if len(days) == 0 {
		return true
	}
	_, ok := days[isoWeekday(today)]
	return ok
}

func (e *RecurrenceEvaluator) holiday(today time.Time) (string, bool) {
	if e.holidays == nil {
		e.logger.Warn("holiday calendar unavailable, holiday filter ignored")
		return "", false
	}
	holiday, err := e.holidays.IsHoliday(today)
	if err != nil {
		e.logger.Warn("holiday lookup failed, running anyway", "date", today.Format(time.DateOnly), "err", err)
		return "", false
	}
	if !holiday {
		return "", false
	}
	name := e.holidays.HolidayName(today)
	if name == "" {
		name = "public holiday"
	}
	return name, true
}

func (e *RecurrenceEvaluator) dayOfMonthAllowed(filter string, today time.Time) bool {
	f, err := ParseDayOfMonthFilter(filter)
	if err != nil {
		e.logger.Warn("unparseable day-of-month filter, running anyway", "filter", filter, "err", err)
		return true
	}
	return f.Matches(today)
}

// ParseWeekdayFilter parses a comma separated list of ISO weekdays (1=Monday
// .. 7=Sunday). An empty filter yields an empty set.
func ParseWeekdayFilter(filter string) (map[int]struct{}, error) {
	days := make(map[int]struct{})
	for _, token := range splitFilter(filter) {
		n, err := strconv.Atoi(token)
		if err != nil {
			return nil, fmt.Errorf("weekday %q is not a number", token)
		}
		if n < 1 || n > 7 {
			return nil, fmt.Errorf("weekday %d out of range 1-7", n)
		}
		days[n] = struct{}{}
	}
	return days, nil
}

// DayOfMonthFilter is a parsed day-of-month condition.
type DayOfMonthFilter struct {
	Days    map[int]struct{}
	LastDay bool
}

// Empty reports whether the filter allows every day.
func (f DayOfMonthFilter) Empty() bool {
	return len(f.Days) == 0 && !f.LastDay
}

// Matches reports whether date satisfies the filter.
func (f DayOfMonthFilter) Matches(date time.Time) bool {
	if f.Empty() {
		return true
	}
	if _, ok := f.Days[date.Day()]; ok {
		return true
	}
	return f.LastDay && date.Day() == daysInMonth(date)
}

// ParseDayOfMonthFilter parses tokens like "1,15,L".
func ParseDayOfMonthFilter(filter string) (DayOfMonthFilter, error) {
	f := DayOfMonthFilter{Days: make(map[int]struct{})}
	for _, token := range splitFilter(filter) {
		if strings.EqualFold(token, LastDayOfMonth) {
			f.LastDay = true
			continue
		}
		n, err := strconv.Atoi(token)
		if err != nil {
			return DayOfMonthFilter{}, fmt.Errorf("day %q is neither a number nor %q", token, LastDayOfMonth)
		}
		if n < 1 || n > 31 {
			return DayOfMonthFilter{}, fmt.Errorf("day %d out of range 1-31", n)
		}
		f.Days[n] = struct{}{}
	}
	return f, nil
}

func splitFilter(filter string) []string {
	normalized := strings.NewReplacer("、", ",", "，", ",", " ", ",").Replace(filter)
	var tokens []string
	for _, part := range strings.Split(normalized, ",") {
		if part = strings.TrimSpace(part); part != "" {
			tokens = append(tokens, part)
		}
	}
	return tokens
}

func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
