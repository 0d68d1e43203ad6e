package taskmaster

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"coworkerbot/internal/core"
)

var truthy = map[string]bool{
	"true": true, "1": true, "yes": true, "y": true, "on": true,
	"○": true, "◯": true, "はい": true, "有効": true,
}

func parseBool(value string) bool {
	return truthy[strings.ToLower(strings.TrimSpace(value))]
}

var (
	bareHour    = regexp.MustCompile(`^\d{1,2}$`)
	dayFraction = regexp.MustCompile(`^0?\.\d+$`)
)

// parseTime accepts clock strings, bare hours and spreadsheet day fractions.
func parseTime(value string) (core.TimeOfDay, error) {
	value = strings.TrimSpace(value)
	if bareHour.MatchString(value) {
		h, _ := strconv.Atoi(value)
		if h > 23 {
			return 0, fmt.Errorf("invalid time %q", value)
		}
		return core.NewTimeOfDay(h, 0), nil
	}
	// 0.5 is noon, not 00:05.
	if dayFraction.MatchString(value) {
		f, _ := strconv.ParseFloat(value, 64)
		return fromDayFraction(f), nil
	}
	if tod, err := core.ParseTimeOfDay(value); err == nil {
		return tod, nil
	}
	// Full timestamps as written by some exporters.
	for _, layout := range []string{time.DateTime, "2006/01/02 15:04:05", "2006/01/02 15:04"} {
		if t, err := time.Parse(layout, value); err == nil {
			return core.NewTimeOfDay(t.Hour(), t.Minute()), nil
		}
	}
	// A date serial whose fractional part is the time.
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	if _, frac := math.Modf(f); frac == 0 {
		return 0, fmt.Errorf("date serial %q has no time of day", value)
	}
	return fromDayFraction(f), nil
}

func fromDayFraction(f float64) core.TimeOfDay {
	_, frac := math.Modf(f)
	seconds := int(math.Round(frac * 24 * 60 * 60))
	return core.TimeOfDay(0).Add(time.Duration(seconds) * time.Second)
}

// normalize turns one raw row into a TaskRecord. Problems that do not prevent
// building a record are returned as warnings. Active is read from the row;
// callers decide the default when the column is absent.
func normalize(r row, rowNum int) (core.TaskRecord, []string) {
	var warnings []string

	id := r.get(fieldID)
	if id == "" {
		id = strconv.Itoa(rowNum)
	}

	start, err := parseTime(r.get(fieldStart))
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("start time: %v, using 00:00", err))
		start = 0
	}
	end := start.Add(core.DefaultSessionLength)
	if raw := r.get(fieldEnd); raw != "" {
		parsed, err := parseTime(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("end time: %v, using start+8h", err))
		} else {
			end = parsed
		}
	}

	return core.TaskRecord{
		ID:               id,
		Row:              rowNum,
		Group:            r.get(fieldGroup),
		Label:            r.get(fieldLabel),
		Start:            start,
		End:              end,
		ResourcePath:     r.get(fieldResource),
		TargetLocation:   r.get(fieldTarget),
		DataSource:       r.get(fieldSource),
		SearchKey:        r.get(fieldSearchKey),
		SkipFetch:        parseBool(r.get(fieldSkipFetch)),
		PostAction:       core.ParsePostAction(r.get(fieldPostAction)),
		PopupMessage:     r.get(fieldPopup),
		CloseAfter:       parseBool(r.get(fieldCloseAfter)),
		Macro:            r.get(fieldMacro),
		WeekdayFilter:    r.get(fieldWeekdays),
		SkipOnHoliday:    parseBool(r.get(fieldSkipHoliday)),
		DayOfMonthFilter: r.get(fieldDayOfMonth),
		Active:           parseBool(r.get(fieldActive)),
	}, warnings
}

func blank(r row) bool {
	for _, v := range r {
		if v != "" {
			return false
		}
	}
	return true
}
