package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// TimeOfDay is an offset from local midnight in the range [00:00, 24:00).
type TimeOfDay time.Duration

// NewTimeOfDay builds a TimeOfDay from hours and minutes.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// ClockOf returns the time-of-day component of t, at full precision.
func ClockOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond()))
}

// ParseTimeOfDay accepts HH:MM and HH:MM:SS. ';' and '.' are accepted as
// separators because spreadsheet users type them.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return 0, fmt.Errorf("empty time of day")
	}
	normalized := strings.NewReplacer(";", ":", ".", ":", "：", ":").Replace(raw)
	parts := strings.Split(normalized, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	fields := make([]int, 3)
	limits := []int{23, 59, 59}
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid time of day %q", value)
		}
		fields[i] = n
	}
	return TimeOfDay(time.Duration(fields[0])*time.Hour +
		time.Duration(fields[1])*time.Minute +
		time.Duration(fields[2])*time.Second), nil
}

// Add shifts the time of day, wrapping around midnight.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	v := (time.Duration(t) + d) % day
	if v < 0 {
		v += day
	}
	return TimeOfDay(v)
}

// Duration returns the offset from midnight.
func (t TimeOfDay) Duration() time.Duration { return time.Duration(t) }

func (t TimeOfDay) Hour() int   { return int(time.Duration(t) / time.Hour) }
func (t TimeOfDay) Minute() int { return int(time.Duration(t)%time.Hour) / int(time.Minute) }

// On returns t placed on the calendar date of ref, in ref's location.
func (t TimeOfDay) On(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ref.Location()).Add(time.Duration(t))
}

// String renders HH:MM, or HH:MM:SS when seconds are set.
func (t TimeOfDay) String() string {
	d := time.Duration(t)
	s := int(d%time.Minute) / int(time.Second)
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), s)
	}
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	v, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// WindowState is the answer to "may this task start now?".
type WindowState int

const (
	// WindowOpen means now lies inside the session.
	WindowOpen WindowState = iota
	// WindowWaiting means the session opens later today.
	WindowWaiting
	// WindowClosed means the session will not open again today.
	WindowClosed
)

func (s WindowState) String() string {
	switch s {
	case WindowOpen:
		return "open"
	case WindowWaiting:
		return "waiting"
	case WindowClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionWindow is the time-of-day interval a task may start in.
// Start > End means the window crosses midnight. Start == End is a window
// open at exactly that instant. Both bounds are inclusive.
type SessionWindow struct {
	Start TimeOfDay
	End   TimeOfDay
}

// CrossesMidnight reports whether the window wraps past 24:00.
func (w SessionWindow) CrossesMidnight() bool {
	return w.Start > w.End
}

// Contains reports whether the clock time of now lies inside the window.
func (w SessionWindow) Contains(now time.Time) bool {
	c := ClockOf(now)
	if w.CrossesMidnight() {
		return c >= w.Start || c <= w.End
	}
	return c >= w.Start && c <= w.End
}

// UntilOpen tells the caller whether to proceed, wait or give up. The
// duration is only meaningful for WindowWaiting.
func (w SessionWindow) UntilOpen(now time.Time) (time.Duration, WindowState) {
	if w.Contains(now) {
		return 0, WindowOpen
	}
	c := ClockOf(now)
	if c < w.Start {
		return time.Duration(w.Start - c), WindowWaiting
	}
	return 0, WindowClosed
}

func (w SessionWindow) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// IsWithinSession is the free-function form of SessionWindow.Contains.
func IsWithinSession(start, end TimeOfDay, now time.Time) bool {
	return SessionWindow{Start: start, End: end}.Contains(now)
}
