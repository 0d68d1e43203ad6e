// Package workbook implements core.ResourceBackend over .xlsx documents.
package workbook

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"coworkerbot/internal/core"
)

var (
	ErrSheetNotFound = errors.New("sheet not found")
	ErrNotWorkbook   = errors.New("not a workbook handle")
)

var supported = map[string]bool{".xlsx": true, ".xlsm": true, ".xltx": true, ".xltm": true}

// Document is an open workbook.
type Document struct {
	path string
	file *excelize.File
}

func (d *Document) Path() string { return d.path }

// Backend opens and edits workbooks with excelize.
type Backend struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{logger: logger}
}

func (b *Backend) Open(ctx context.Context, path string) (core.ResourceHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !supported[strings.ToLower(filepath.Ext(path))] {
		return nil, fmt.Errorf("open %s: unsupported extension", path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("workbook opened", "resource", path, "sheets", len(f.GetSheetList()))
	return &Document{path: path, file: f}, nil
}

// WriteFetchedData pastes the CSV at artifactPath as values into location,
// which is "Sheet" or "Sheet!B2".
func (b *Backend) WriteFetchedData(ctx context.Context, h core.ResourceHandle, location, artifactPath string) error {
	doc, err := document(h)
	if err != nil {
		return err
	}
	target, err := ParseLocation(location)
	if err != nil {
		return err
	}
	if idx, err := doc.file.GetSheetIndex(target.Sheet); err != nil || idx < 0 {
		return fmt.Errorf("%q in %s: %w", target.Sheet, filepath.Base(doc.path), ErrSheetNotFound)
	}
	rows, err := readCSV(artifactPath)
	if err != nil {
		return err
	}
	for i, cells := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		cell, err := excelize.CoordinatesToCellName(target.Col, target.Row+i)
		if err != nil {
			return err
		}
		values := make([]any, len(cells))
		for j, v := range cells {
			values[j] = cellValue(v)
		}
		if err := doc.file.SetSheetRow(target.Sheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	b.logger.Info("data written", "resource", doc.path, "location", target.String(), "rows", len(rows))
	return nil
}

// RunMacro is not possible without a spreadsheet application.
func (b *Backend) RunMacro(_ context.Context, h core.ResourceHandle, name string) error {
	if _, err := document(h); err != nil {
		return err
	}
	return fmt.Errorf("run %s: %w", name, core.ErrMacroUnsupported)
}

func (b *Backend) Save(_ context.Context, h core.ResourceHandle) error {
	doc, err := document(h)
	if err != nil {
		return err
	}
	return doc.file.Save()
}

func (b *Backend) Close(h core.ResourceHandle, save bool) error {
	doc, err := document(h)
	if err != nil {
		return err
	}
	var saveErr error
	if save {
		saveErr = doc.file.Save()
	}
	return errors.Join(saveErr, doc.file.Close())
}

func document(h core.ResourceHandle) (*Document, error) {
	doc, ok := h.(*Document)
	if !ok || doc == nil || doc.file == nil {
		return nil, ErrNotWorkbook
	}
	return doc, nil
}

// Location is a sheet and the top-left cell to write from.
type Location struct {
	Sheet string
	Col   int
	Row   int
}

func (l Location) String() string {
	cell, _ := excelize.CoordinatesToCellName(l.Col, l.Row)
	return l.Sheet + "!" + cell
}

// ParseLocation splits "Sheet!B2". A bare sheet name anchors at A1.
func ParseLocation(location string) (Location, error) {
	location = strings.TrimSpace(location)
	sheet, cell, hasCell := strings.Cut(location, "!")
	sheet = strings.Trim(strings.TrimSpace(sheet), "'")
	if sheet == "" {
		return Location{}, fmt.Errorf("target location %q has no sheet", location)
	}
	loc := Location{Sheet: sheet, Col: 1, Row: 1}
	if hasCell {
		col, row, err := excelize.CellNameToCoordinates(strings.ReplaceAll(strings.TrimSpace(cell), "$", ""))
		if err != nil {
			return Location{}, fmt.Errorf("target location %q: %w", location, err)
		}
		loc.Col, loc.Row = col, row
	}
	return loc, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}
	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse artifact %s: %w", filepath.Base(path), err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// cellValue keeps numbers numeric so formulas over the pasted range work.
// Codes with leading zeros stay text.
func cellValue(v string) any {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}
	if digits := strings.TrimLeft(s, "+-"); len(digits) > 1 && digits[0] == '0' && digits[1] != '.' {
		return v
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return v
}
