package holiday

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestNationalHolidays(t *testing.T) {
	c := New()
	for _, date := range []time.Time{
		d(2024, time.January, 1),
		d(2024, time.May, 3),
		d(2026, time.September, 22), // between Respect for the Aged Day and the equinox
		d(2026, time.May, 6),        // substitute for Sunday May 3
		d(2025, time.November, 24),  // substitute for Sunday November 23
		d(2024, time.February, 12),
		d(2019, time.April, 30),
		d(2019, time.May, 1),
		d(2019, time.May, 2),
	} {
		ok, err := c.IsHoliday(date)
		require.NoError(t, err)
		assert.True(t, ok, date.Format(time.DateOnly))
		assert.NotEmpty(t, c.HolidayName(date), date.Format(time.DateOnly))
	}
}

func TestHolidayNames(t *testing.T) {
	c := New()
	assert.Equal(t, "元日", c.HolidayName(d(2024, time.January, 1)))
	assert.Equal(t, "振替休日", c.HolidayName(d(2024, time.February, 12)))
	assert.Equal(t, "国民の休日", c.HolidayName(d(2026, time.September, 22)))
	assert.Empty(t, c.HolidayName(d(2019, time.December, 23)))
}

func TestHolidayIgnoresLocation(t *testing.T) {
	c := New()
	tokyo := time.FixedZone("JST", 9*60*60)
	ok, err := c.IsHoliday(time.Date(2024, time.January, 1, 8, 30, 0, 0, tokyo))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IsHoliday(time.Date(2024, time.January, 2, 23, 0, 0, 0, tokyo))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsHolidayWorkingDay(t *testing.T) {
	c := New()
	ok, err := c.IsHoliday(d(2024, time.March, 12))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsHolidayOutOfRange(t *testing.T) {
	c := New()
	_, err := c.IsHoliday(d(2150, time.January, 1))
	assert.ErrorIs(t, err, ErrOutOfRange)

	c.AddExtra(d(2150, time.January, 1), "Far future closing")
	ok, err := c.IsHoliday(d(2150, time.January, 1))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoadExtra(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holidays.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`holidays:
  - date: 2024-12-30
    name: Year-end closing
  - date: 2024-12-31
`), 0o644))

	c := New()
	require.NoError(t, c.LoadExtra(path))

	assert.Equal(t, "Year-end closing", c.HolidayName(d(2024, time.December, 30)))
	assert.Equal(t, "Company holiday", c.HolidayName(d(2024, time.December, 31)))
	ok, err := c.IsHoliday(d(2024, time.December, 27))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadExtraRejectsBadDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holidays.yaml")
	require.NoError(t, os.WriteFile(path, []byte("holidays:\n  - date: tomorrow\n"), 0o644))
	assert.Error(t, New().LoadExtra(path))
}
