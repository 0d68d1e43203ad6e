package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyFileRotates(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDailyFile(dir)
	require.NoError(t, err)
	defer d.Close()

	day := time.Date(2024, 3, 12, 23, 59, 0, 0, time.Local)
	d.now = func() time.Time { return day }
	_, err = d.Write([]byte("first\n"))
	require.NoError(t, err)

	day = day.Add(2 * time.Minute)
	_, err = d.Write([]byte("second\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "log_20240313.txt"), d.Path())

	first, err := os.ReadFile(filepath.Join(dir, "log_20240312.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(first))
	second, err := os.ReadFile(filepath.Join(dir, "log_20240313.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(second))
}

func TestNewWithFileWritesBoth(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	logger, closer, err := NewWithFile("warn", dir, &console)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("visible", "task", "t1")
	require.NoError(t, closer.Close())

	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "task=t1")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible")
}
