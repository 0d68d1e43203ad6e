// Package taskmaster loads the task master file into core.TaskRecords.
package taskmaster

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"coworkerbot/internal/core"
)

// SheetName is the worksheet holding the task list in workbook masters.
const SheetName = "TaskList"

const (
	EnvProduction = "production"
	EnvTest       = "test"
)

var ErrUnsupportedFormat = errors.New("unsupported task master format")

// FileName returns the master file name used for an environment.
func FileName(env string) string {
	if env == EnvTest {
		return "Task_Master_test.xlsx"
	}
	return "Task_Master.xlsx"
}

// Record is a loaded row together with the warnings raised while normalizing it.
type Record struct {
	Task     core.TaskRecord
	Warnings []string
}

// Loader reads the task master, caching the parse until the file changes.
type Loader struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	modTime time.Time
	size    int64
	records []Record
}

// NewLoader returns a loader for the master file at path.
func NewLoader(path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{path: path, logger: logger}
}

// Path is the master file location.
func (l *Loader) Path() string { return l.path }

// LoadActiveTasks returns the active tasks in file order.
func (l *Loader) LoadActiveTasks(ctx context.Context) (core.TaskList, error) {
	records, err := l.Records(ctx)
	if err != nil {
		return nil, err
	}
	tasks := make(core.TaskList, 0, len(records))
	for _, r := range records {
		if r.Task.Active {
			tasks = append(tasks, r.Task)
		}
	}
	return tasks, nil
}

// Records returns every non-blank row, active or not.
func (l *Loader) Records(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("stat task master: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.records != nil && info.ModTime().Equal(l.modTime) && info.Size() == l.size {
		return l.records, nil
	}
	records, err := readFile(l.path)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		for _, w := range r.Warnings {
			l.logger.Warn("task master row", "row", r.Task.Row, "warning", w)
		}
	}
	l.logger.Info("task master loaded", "path", l.path, "rows", len(records))
	l.records = records
	l.modTime = info.ModTime()
	l.size = info.Size()
	return records, nil
}

// Invalidate drops the cached parse.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.records = nil
	l.mu.Unlock()
}

func readFile(path string) ([]Record, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readWorkbook(path)
	case ".csv":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read task master: %w", err)
		}
		return readCSV(bytes.NewReader(data))
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read task master: %w", err)
		}
		return readYAML(data)
	default:
		return nil, fmt.Errorf("load %s: %w", path, ErrUnsupportedFormat)
	}
}

func readWorkbook(path string) ([]Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open task master: %w", err)
	}
	defer f.Close()

	sheet := SheetName
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("task master %s has no sheets", path)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return fromTable(rows), nil
}

func readCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse task master csv: %w", err)
	}
	return fromTable(rows), nil
}

func fromTable(rows [][]string) []Record {
	if len(rows) == 0 {
		return nil
	}
	idx := newHeaderIndex(rows[0])
	var records []Record
	for i, cells := range rows[1:] {
		r := idx.row(cells)
		if blank(r) {
			continue
		}
		task, warnings := normalize(r, i+2)
		if !idx.has(fieldActive) {
			task.Active = true
		}
		records = append(records, Record{Task: task, Warnings: warnings})
	}
	return records
}

type yamlMaster struct {
	Tasks []map[string]any `yaml:"tasks"`
}

func readYAML(data []byte) ([]Record, error) {
	var master yamlMaster
	if err := yaml.Unmarshal(data, &master); err != nil {
		return nil, fmt.Errorf("parse task master yaml: %w", err)
	}
	var records []Record
	for i, entry := range master.Tasks {
		headers := make([]string, 0, len(entry))
		cells := make([]string, 0, len(entry))
		for k, v := range entry {
			headers = append(headers, k)
			cells = append(cells, yamlScalar(v))
		}
		idx := newHeaderIndex(headers)
		r := idx.row(cells)
		if blank(r) {
			continue
		}
		task, warnings := normalize(r, i+1)
		if !idx.has(fieldActive) {
			task.Active = true
		}
		records = append(records, Record{Task: task, Warnings: warnings})
	}
	return records, nil
}

func yamlScalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, yamlScalar(item))
		}
		return strings.Join(parts, ",")
	case time.Time:
		return val.Format(time.DateTime)
	default:
		return fmt.Sprint(val)
	}
}
