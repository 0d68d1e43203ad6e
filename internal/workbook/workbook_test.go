package workbook

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"coworkerbot/internal/core"
)

func newWorkbook(t *testing.T, sheets ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Report.xlsx")
	f := excelize.NewFile()
	for _, s := range sheets {
		_, err := f.NewSheet(s)
		require.NoError(t, err)
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation("Data")
	require.NoError(t, err)
	assert.Equal(t, Location{Sheet: "Data", Col: 1, Row: 1}, loc)

	loc, err = ParseLocation("'Raw Data'!$C$5")
	require.NoError(t, err)
	assert.Equal(t, Location{Sheet: "Raw Data", Col: 3, Row: 5}, loc)
	assert.Equal(t, "Raw Data!C5", loc.String())

	_, err = ParseLocation("!A1")
	assert.Error(t, err)
	_, err = ParseLocation("Data!nope")
	assert.Error(t, err)
}

func TestCellValue(t *testing.T) {
	assert.Equal(t, int64(42), cellValue("42"))
	assert.Equal(t, 3.5, cellValue("3.5"))
	assert.Equal(t, 0.25, cellValue("0.25"))
	assert.Equal(t, "00123", cellValue("00123"))
	assert.Equal(t, "-012", cellValue("-012"))
	assert.Equal(t, "+007", cellValue("+007"))
	assert.Equal(t, int64(-12), cellValue("-12"))
	assert.Equal(t, -0.5, cellValue("-0.5"))
	assert.Equal(t, "NaN", cellValue("NaN"))
	assert.Equal(t, "abc", cellValue("abc"))
}

func TestWriteSaveAndReopen(t *testing.T) {
	path := newWorkbook(t, "Data")
	artifact := writeCSV(t, "\ufeffcode,qty,name\n001,5,Apple\nA2,7.5,\"Banana, ripe\"\n")
	b := New(nil)
	ctx := context.Background()

	h, err := b.Open(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, path, h.Path())
	require.NoError(t, b.WriteFetchedData(ctx, h, "Data!B2", artifact))
	require.NoError(t, b.Close(h, true))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	header, err := f.GetCellValue("Data", "B2")
	require.NoError(t, err)
	assert.Equal(t, "code", header, "BOM is stripped")

	code, err := f.GetCellValue("Data", "B3")
	require.NoError(t, err)
	assert.Equal(t, "001", code)

	qty, err := f.GetCellType("Data", "C3")
	require.NoError(t, err)
	assert.NotEqual(t, excelize.CellTypeSharedString, qty)

	name, err := f.GetCellValue("Data", "D4")
	require.NoError(t, err)
	assert.Equal(t, "Banana, ripe", name)

	untouched, err := f.GetCellValue("Data", "A1")
	require.NoError(t, err)
	assert.Empty(t, untouched)
}

func TestWriteMissingSheet(t *testing.T) {
	path := newWorkbook(t)
	b := New(nil)
	h, err := b.Open(context.Background(), path)
	require.NoError(t, err)
	defer b.Close(h, false)

	err = b.WriteFetchedData(context.Background(), h, "Nope", writeCSV(t, "a\n"))
	assert.ErrorIs(t, err, ErrSheetNotFound)
}

func TestOpenErrors(t *testing.T) {
	b := New(nil)
	_, err := b.Open(context.Background(), filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = b.Open(context.Background(), writeCSV(t, "a,b\n"))
	assert.Error(t, err)
}

func TestRunMacroUnsupported(t *testing.T) {
	b := New(nil)
	h, err := b.Open(context.Background(), newWorkbook(t))
	require.NoError(t, err)
	defer b.Close(h, false)

	assert.ErrorIs(t, b.RunMacro(context.Background(), h, "Module1.Refresh"), core.ErrMacroUnsupported)
}

type otherHandle struct{}

func (otherHandle) Path() string { return "x" }

func TestForeignHandle(t *testing.T) {
	b := New(nil)
	assert.ErrorIs(t, b.Save(context.Background(), otherHandle{}), ErrNotWorkbook)
}
