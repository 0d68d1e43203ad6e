package core

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// RunStatus describes the state of an individual task execution or a batch.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCanceled  RunStatus = "canceled"
)

// PostAction is what happens to the document once the data has been written.
type PostAction string

const (
	PostActionNone  PostAction = "none"
	PostActionSave  PostAction = "save"
	PostActionPause PostAction = "pause"
)

// ParsePostAction maps a configured value onto a PostAction.
// Blank and unrecognized values mean save.
func ParsePostAction(value string) PostAction {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "none", "nothing", "なし":
		return PostActionNone
	case "pause", "一時停止":
		return PostActionPause
	default:
		return PostActionSave
	}
}

// DefaultSessionLength is applied when a task has no end time.
const DefaultSessionLength = 8 * time.Hour

// TaskRecord is one validated row of the task master. It is never mutated
// once loaded.
type TaskRecord struct {
	ID               string
	Row              int
	Group            string
	Label            string
	Start            TimeOfDay
	End              TimeOfDay
	ResourcePath     string
	TargetLocation   string
	DataSource       string
	SearchKey        string
	SkipFetch        bool
	PostAction       PostAction
	PopupMessage     string
	CloseAfter       bool
	Macro            string
	WeekdayFilter    string
	SkipOnHoliday    bool
	DayOfMonthFilter string
	Active           bool
}

// Window returns the session window derived from the task's start and end.
func (t TaskRecord) Window() SessionWindow {
	return SessionWindow{Start: t.Start, End: t.End}
}

// ResourceKey identifies the target document for reuse decisions.
func (t TaskRecord) ResourceKey() string {
	return resourceKey(t.ResourcePath)
}

// ArtifactHints describes the local file a fetch is expected to produce.
func (t TaskRecord) ArtifactHints() ArtifactHints {
	key := strings.TrimSpace(t.SearchKey)
	if key == "" {
		base := path.Base(strings.SplitN(t.DataSource, "?", 2)[0])
		key = strings.TrimSuffix(base, path.Ext(base))
		if key == "." || key == "/" {
			key = ""
		}
	}
	return ArtifactHints{SearchKey: key, Extension: ".csv"}
}

// DisplayName is the human label used in logs, progress and history.
func (t TaskRecord) DisplayName() string {
	name := filepath.Base(t.ResourcePath)
	if t.Label != "" {
		name = t.Label
	}
	return fmt.Sprintf("[%s] %s - %s", t.Group, t.Start, name)
}

func resourceKey(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	return filepath.Clean(path)
}

// ArtifactHints narrows down which downloaded file belongs to a task.
type ArtifactHints struct {
	SearchKey string
	Extension string
}

// Stage is the furthest point a task reached in the dispatch state machine.
type Stage string

const (
	StagePending       Stage = "pending"
	StageAdmitted      Stage = "admitted"
	StageResourceReady Stage = "resource_ready"
	StageFetchDone     Stage = "fetch_done"
	StageWriteDone     Stage = "write_done"
	StageMacroDone     Stage = "macro_done"
	StagePostAction    Stage = "post_action_done"
	StageClosed        Stage = "closed"
	StageKeptOpen      Stage = "kept_open"
)

// TaskOutcome is the result of one task within a batch.
type TaskOutcome struct {
	Seq          int
	TaskID       string
	Label        string
	ResourcePath string
	Status       RunStatus
	Stage        Stage
	Reason       string
	Warnings     []string
	StartedAt    time.Time
	EndedAt      time.Time
}

// SkipRecord explains why a task was not attempted.
type SkipRecord struct {
	TaskID string
	Label  string
	Reason string
}

// ScheduleResult summarizes one coordinator run. It is not modified after
// RunBatch returns.
type ScheduleResult struct {
	Succeeded  int
	Failed     int
	Skipped    int
	Skips      []SkipRecord
	Outcomes   []TaskOutcome
	Cancelled  bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Elapsed reports the wall time the batch took.
func (r ScheduleResult) Elapsed() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Attempted is the number of tasks that were counted in any bucket.
func (r ScheduleResult) Attempted() int {
	return r.Succeeded + r.Failed + r.Skipped
}

// BatchMode records how a batch was requested.
type BatchMode string

const (
	BatchModeGroup    BatchMode = "group"
	BatchModeFrom     BatchMode = "from"
	BatchModeOnly     BatchMode = "only"
	BatchModeAuto     BatchMode = "auto"
	BatchModeSchedule BatchMode = "schedule" // whole schedule from a start time
)

// ParseBatchMode maps a requested mode name onto a BatchMode. Blank means
// group.
func ParseBatchMode(value string) (BatchMode, error) {
	switch mode := BatchMode(strings.ToLower(strings.TrimSpace(value))); mode {
	case "":
		return BatchModeGroup, nil
	case BatchModeGroup, BatchModeFrom, BatchModeOnly, BatchModeSchedule:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBatchMode, value)
	}
}

// Batch is a persisted record of one RunBatch invocation.
type Batch struct {
	ID         string
	Label      string
	Mode       BatchMode
	Force      bool
	Status     RunStatus
	Total      int
	Succeeded  int
	Failed     int
	Skipped    int
	StartedAt  time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}
