// Package holiday answers Japanese national holiday queries from the
// holiday_jp dataset and overlays an optional list of site specific closing
// days.
package holiday

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	jp "github.com/holiday-jp/holiday_jp-go"
	"gopkg.in/yaml.v3"
)

// Years covered by the holiday_jp dataset.
const (
	MinYear = 1970
	MaxYear = 2050
)

var ErrOutOfRange = errors.New("year outside supported holiday range")

// Calendar answers holiday queries. The zero value is not usable; call New.
type Calendar struct {
	mu    sync.RWMutex
	extra map[string]string // YYYY-MM-DD -> name
}

// New returns a calendar with national holidays only.
func New() *Calendar {
	return &Calendar{extra: make(map[string]string)}
}

type extraFile struct {
	Holidays []struct {
		Date string `yaml:"date"`
		Name string `yaml:"name"`
	} `yaml:"holidays"`
}

// LoadExtra reads additional closing days from a YAML file:
//
//	holidays:
//	  - date: 2024-12-30
//	    name: Year-end closing
func (c *Calendar) LoadExtra(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read holiday file: %w", err)
	}
	var file extraFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse holiday file: %w", err)
	}
	extra := make(map[string]string, len(file.Holidays))
	for i, h := range file.Holidays {
		d, err := time.Parse(time.DateOnly, h.Date)
		if err != nil {
			return fmt.Errorf("holiday entry %d: %w", i+1, err)
		}
		name := h.Name
		if name == "" {
			name = "Company holiday"
		}
		extra[d.Format(time.DateOnly)] = name
	}
	c.mu.Lock()
	c.extra = extra
	c.mu.Unlock()
	return nil
}

// AddExtra registers a single additional closing day.
func (c *Calendar) AddExtra(date time.Time, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extra[date.Format(time.DateOnly)] = name
}

// IsHoliday reports whether date is a national or extra holiday. Dates outside
// MinYear..MaxYear are an error unless listed as an extra holiday.
func (c *Calendar) IsHoliday(date time.Time) (bool, error) {
	name, err := c.lookup(date)
	if err != nil {
		return false, err
	}
	return name != "", nil
}

// HolidayName returns the holiday's name, or "" for working days and
// unsupported years.
func (c *Calendar) HolidayName(date time.Time) string {
	name, _ := c.lookup(date)
	return name
}

func (c *Calendar) lookup(date time.Time) (string, error) {
	c.mu.RLock()
	name, ok := c.extra[date.Format(time.DateOnly)]
	c.mu.RUnlock()
	if ok {
		return name, nil
	}
	if year := date.Year(); year < MinYear || year > MaxYear {
		return "", fmt.Errorf("holiday lookup %d: %w", year, ErrOutOfRange)
	}
	return nationalName(date), nil
}

// nationalName looks the calendar date of t up in the dataset, whatever t's
// location.
func nationalName(t time.Time) string {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if !jp.IsHoliday(day) {
		return ""
	}
	// The half-day margins match the entry whether it is stored at UTC or JST
	// midnight, and never reach a neighbouring date.
	for _, h := range jp.Between(day.Add(-12*time.Hour), day.Add(12*time.Hour)) {
		if h.Name != "" {
			return h.Name
		}
	}
	return "祝日"
}
