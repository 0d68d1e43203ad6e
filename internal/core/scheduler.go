package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// BatchRequest selects the tasks of one batch.
type BatchRequest struct {
	Mode   BatchMode
	Group  string
	TaskID string
	From   TimeOfDay
	Force  bool
}

// SchedulerDeps are the collaborators of the batch service.
type SchedulerDeps struct {
	Source      TaskSource
	Coordinator *Coordinator
	Store       Store
	Notifier    Notifier
	Progress    *ProgressTracker
	Logger      *slog.Logger
	Location    *time.Location
	Clock       Clock
	// AutoRun schedules every group daily at its earliest start time.
	AutoRun bool
}

// Status is a snapshot of the batch service.
type Status struct {
	Running         bool
	Batch           *Batch
	LastBatch       *Batch
	Paused          bool
	CancelRequested bool
	Progress        Progress
	AutoRun         bool
	AutoRunGroups   []string
}

// AutoRunPreview is the next daily trigger of one group.
type AutoRunPreview struct {
	Group string
	Start TimeOfDay
	Cron  string
	Next  []time.Time
}

// Scheduler owns batch lifecycles: it selects tasks, runs them through the
// coordinator one batch at a time, records history and notifies on completion.
// With auto-run enabled it also triggers each group via cron.
type Scheduler struct {
	source      TaskSource
	coordinator *Coordinator
	store       Store
	notifier    Notifier
	progress    *ProgressTracker
	logger      *slog.Logger
	location    *time.Location
	clock       Clock
	autoRun     bool

	cron    *cron.Cron
	entryMu sync.RWMutex
	entries map[string]cron.EntryID // group -> entry

	batchMu sync.Mutex
	current *Batch
	last    *Batch
	wg      sync.WaitGroup

	ctx context.Context
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock(deps.Location)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(deps.Location),
	)
	return &Scheduler{
		source:      deps.Source,
		coordinator: deps.Coordinator,
		store:       deps.Store,
		notifier:    deps.Notifier,
		progress:    deps.Progress,
		logger:      deps.Logger,
		location:    deps.Location,
		clock:       deps.Clock,
		autoRun:     deps.AutoRun,
		cron:        c,
		entries:     make(map[string]cron.EntryID),
	}
}

// Start begins the auto-run loop. ctx is used for background batches.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop stops the cron loop. The returned context is done once running cron
// jobs have returned; use Wait for batches launched in the background.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Wait blocks until every background batch has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Coordinator exposes the coordinator for control operations.
func (s *Scheduler) Coordinator() *Coordinator { return s.coordinator }

// Tasks loads the active tasks.
func (s *Scheduler) Tasks(ctx context.Context) (TaskList, error) {
	tasks, err := s.source.LoadActiveTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	return tasks, nil
}

// Sync reloads the task master and aligns the auto-run entries with its groups.
func (s *Scheduler) Sync(ctx context.Context) error {
	if !s.autoRun {
		return nil
	}
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return err
	}
	groups := tasks.Groups()
	wanted := make(map[string]struct{}, len(groups))
	for _, group := range groups {
		wanted[group] = struct{}{}
		start, _ := tasks.EarliestStart(group)
		s.unscheduleGroup(group)
		if err := s.scheduleGroup(group, start); err != nil {
			s.logger.Error("schedule group", "group", group, "err", err)
		}
	}
	for _, group := range s.scheduledGroups() {
		if _, ok := wanted[group]; !ok {
			s.unscheduleGroup(group)
		}
	}
	s.logger.Info("auto-run synced", "groups", len(groups))
	return nil
}

// Preview lists the next n daily triggers per group, whether or not auto-run
// is enabled.
func (s *Scheduler) Preview(ctx context.Context, n int) ([]AutoRunPreview, error) {
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().In(s.location)
	var previews []AutoRunPreview
	for _, group := range tasks.Groups() {
		start, _ := tasks.EarliestStart(group)
		expr := DailyAt(start)
		schedule, err := ParseCron(expr)
		if err != nil {
			return nil, err
		}
		previews = append(previews, AutoRunPreview{
			Group: group,
			Start: start,
			Cron:  expr,
			Next:  NextOccurrences(schedule, now, n),
		})
	}
	sort.SliceStable(previews, func(i, j int) bool { return previews[i].Start < previews[j].Start })
	return previews, nil
}

// Launch starts a batch in the background and returns its record.
func (s *Scheduler) Launch(ctx context.Context, req BatchRequest) (*Batch, error) {
	batch, tasks, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	snapshot := *batch
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(s.ctxOrBackground(), batch, tasks, req.Force)
	}()
	return &snapshot, nil
}

// Run executes a batch in the calling goroutine.
func (s *Scheduler) Run(ctx context.Context, req BatchRequest) (*Batch, ScheduleResult, error) {
	batch, tasks, err := s.begin(ctx, req)
	if err != nil {
		return nil, ScheduleResult{}, err
	}
	result := s.execute(ctx, batch, tasks, req.Force)
	return batch, result, nil
}

// Select resolves a request into its ordered task list and label.
func (s *Scheduler) Select(ctx context.Context, req BatchRequest) (TaskList, string, error) {
	all, err := s.Tasks(ctx)
	if err != nil {
		return nil, "", err
	}
	var (
		tasks TaskList
		label string
	)
	switch req.Mode {
	case BatchModeGroup, BatchModeAuto:
		tasks = all.OptimizedByGroup(req.Group)
		label = req.Group
	case BatchModeFrom:
		tasks, err = all.FromTask(req.TaskID)
		if err != nil {
			return nil, "", fmt.Errorf("select from %s: %w", req.TaskID, err)
		}
		label = "retry from " + tasks[0].DisplayName()
	case BatchModeOnly:
		task, err := all.Find(req.TaskID)
		if err != nil {
			return nil, "", fmt.Errorf("select %s: %w", req.TaskID, err)
		}
		tasks = TaskList{task}
		label = "only " + task.DisplayName()
	case BatchModeSchedule:
		tasks = all.FromStartTime(req.From)
		label = "schedule from " + req.From.String()
	default:
		return nil, "", fmt.Errorf("select %q: %w", req.Mode, ErrUnknownBatchMode)
	}
	if len(tasks) == 0 {
		return nil, "", fmt.Errorf("select %s %s: %w", req.Mode, label, ErrNoTasks)
	}
	return tasks, label, nil
}

// Status returns a snapshot of the running batch and control flags.
func (s *Scheduler) Status() Status {
	control := s.coordinator.Control()
	st := Status{
		Paused:          control.Paused(),
		CancelRequested: control.Cancelled(),
		AutoRun:         s.autoRun,
		AutoRunGroups:   s.scheduledGroups(),
	}
	if s.progress != nil {
		st.Progress = s.progress.Last()
	}
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	if s.current != nil {
		b := *s.current
		st.Running = true
		st.Batch = &b
	}
	if s.last != nil {
		b := *s.last
		st.LastBatch = &b
	}
	return st
}

func (s *Scheduler) begin(ctx context.Context, req BatchRequest) (*Batch, TaskList, error) {
	if req.Mode == BatchModeFrom || req.Mode == BatchModeOnly {
		req.Force = true
	}
	tasks, label, err := s.Select(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	if s.current != nil {
		return nil, nil, ErrBatchRunning
	}
	now := s.clock.Now().UTC()
	batch := &Batch{
		ID:        NewID(),
		Label:     label,
		Mode:      req.Mode,
		Force:     req.Force,
		Status:    RunStatusRunning,
		Total:     len(tasks),
		StartedAt: now,
		CreatedAt: now,
	}
	if err := s.store.InsertBatch(ctx, batch); err != nil {
		return nil, nil, fmt.Errorf("insert batch: %w", err)
	}
	s.current = batch
	s.logger.Info("batch queued", "batch_id", batch.ID, "label", label, "mode", req.Mode, "force", req.Force, "tasks", len(tasks))
	return batch, tasks, nil
}

func (s *Scheduler) execute(ctx context.Context, batch *Batch, tasks TaskList, force bool) ScheduleResult {
	result := s.coordinator.RunBatch(ctx, tasks, force || batch.Force)
	s.finish(batch, result)
	return result
}

func (s *Scheduler) finish(batch *Batch, result ScheduleResult) {
	// History is written even when the batch context was cancelled.
	ctx := context.WithoutCancel(s.ctxOrBackground())

	s.batchMu.Lock()
	finished := result.FinishedAt.UTC()
	batch.Succeeded = result.Succeeded
	batch.Failed = result.Failed
	batch.Skipped = result.Skipped
	batch.FinishedAt = &finished
	batch.Status = RunStatusCompleted
	if result.Cancelled {
		batch.Status = RunStatusCanceled
	}
	s.current = nil
	last := *batch
	s.last = &last
	s.batchMu.Unlock()

	if err := s.store.InsertTaskOutcomes(ctx, batch.ID, result.Outcomes); err != nil {
		s.logger.Error("record task outcomes", "batch_id", batch.ID, "err", err)
	}
	if err := s.store.CompleteBatch(ctx, batch); err != nil {
		s.logger.Error("complete batch", "batch_id", batch.ID, "err", err)
	}
	if err := s.store.PruneOldBatches(ctx); err != nil {
		s.logger.Warn("prune batch history", "err", err)
	}
	if s.notifier != nil {
		if err := s.notifier.Send(ctx, SummaryTitle(batch.Label, result), SummaryBody(result)); err != nil {
			s.logger.Warn("send batch summary", "batch_id", batch.ID, "err", err)
		}
	}
}

func (s *Scheduler) scheduleGroup(group string, start TimeOfDay) error {
	expr := DailyAt(start)
	schedule, err := ParseCron(expr)
	if err != nil {
		return err
	}
	job := func() { s.handleScheduledTrigger(group) }
	entryID := s.cron.Schedule(schedule, cron.FuncJob(job))
	s.setEntryID(group, entryID)
	s.logger.Debug("group scheduled", "group", group, "cron", expr)
	return nil
}

func (s *Scheduler) handleScheduledTrigger(group string) {
	ctx := s.ctxOrBackground()
	batch, err := s.Launch(ctx, BatchRequest{Mode: BatchModeAuto, Group: group})
	switch {
	case errors.Is(err, ErrBatchRunning):
		s.logger.Info("skipping auto-run because a batch is already running", "group", group)
		now := s.clock.Now().UTC()
		skipped := &Batch{
			ID:         NewID(),
			Label:      group,
			Mode:       BatchModeAuto,
			Status:     RunStatusSkipped,
			StartedAt:  now,
			FinishedAt: &now,
			CreatedAt:  now,
		}
		if err := s.store.InsertBatch(ctx, skipped); err != nil {
			s.logger.Error("record skipped batch", "group", group, "err", err)
		}
	case err != nil:
		s.logger.Error("auto-run", "group", group, "err", err)
	default:
		s.logger.Info("auto-run started", "group", group, "batch_id", batch.ID)
	}
}

func (s *Scheduler) setEntryID(group string, entryID cron.EntryID) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	s.entries[group] = entryID
}

func (s *Scheduler) scheduledGroups() []string {
	s.entryMu.RLock()
	defer s.entryMu.RUnlock()
	groups := make([]string, 0, len(s.entries))
	for group := range s.entries {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	return groups
}

func (s *Scheduler) unscheduleGroup(group string) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	if entryID, ok := s.entries[group]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, group)
	}
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
