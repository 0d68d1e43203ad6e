package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Dependencies are the collaborators a Coordinator drives.
type Dependencies struct {
	Resources ResourceBackend
	Fetcher   FetchBackend
	UI        UserInteraction
	Holidays  HolidayCalendar
	Clock     Clock
	Logger    *slog.Logger
}

// CoordinatorConfig tunes the polling loops and the fetch wait.
type CoordinatorConfig struct {
	// WaitStep bounds one sleep while waiting for a session to open.
	WaitStep time.Duration
	// PauseStep is the poll interval while the batch is paused.
	PauseStep time.Duration
	// FetchTimeout is passed to FetchBackend.AwaitArtifact.
	FetchTimeout time.Duration
	// PauseMessage overrides the default manual-work prompt.
	PauseMessage string
}

const (
	DefaultWaitStep     = 60 * time.Second
	DefaultPauseStep    = 500 * time.Millisecond
	DefaultFetchTimeout = 60 * time.Second
)

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.WaitStep <= 0 {
		c.WaitStep = DefaultWaitStep
	}
	if c.PauseStep <= 0 {
		c.PauseStep = DefaultPauseStep
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	return c
}

// Coordinator runs ordered task batches one task at a time. Control methods
// are safe to call from other goroutines while RunBatch is in progress.
type Coordinator struct {
	control    *RunControl
	evaluator  *RecurrenceEvaluator
	dispatcher *Dispatcher
	ui         UserInteraction
	clock      Clock
	logger     *slog.Logger
	pauseStep  time.Duration

	mu sync.Mutex // serializes RunBatch
}

// NewCoordinator wires a coordinator. Resources, Fetcher and UI are required.
func NewCoordinator(deps Dependencies, cfg CoordinatorConfig) *Coordinator {
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = SystemClock(time.Local)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	control := &RunControl{}
	return &Coordinator{
		control:    control,
		evaluator:  NewRecurrenceEvaluator(deps.Holidays, deps.Logger),
		dispatcher: newDispatcher(deps, control, cfg),
		ui:         deps.UI,
		clock:      deps.Clock,
		logger:     deps.Logger,
		pauseStep:  cfg.PauseStep,
	}
}

// Control exposes the flags polled by the batch loop.
func (c *Coordinator) Control() *RunControl { return c.control }

func (c *Coordinator) RequestCancel() {
	c.logger.Info("cancel requested")
	c.control.RequestCancel()
}

func (c *Coordinator) Pause() {
	c.logger.Info("pause requested")
	c.control.Pause()
}

func (c *Coordinator) Resume() {
	c.logger.Info("resume requested")
	c.control.Resume()
}

// RunBatch executes tasks in the given order. Task failures are recorded in the
// result and never abort the batch; cancellation and ctx termination stop it
// early with partial counts. Documents left open by the last task stay open.
func (c *Coordinator) RunBatch(ctx context.Context, tasks []TaskRecord, force bool) ScheduleResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.control.resetCancel()
	result := ScheduleResult{StartedAt: c.clock.Now()}
	total := len(tasks)
	c.logger.Info("batch started", "tasks", total, "force", force)

	for i, task := range tasks {
		pos := position{current: i + 1, total: total}
		if c.stopRequested(ctx) {
			result.Cancelled = true
			c.logger.Info("batch cancelled", "remaining", total-i)
			break
		}
		if !c.waitWhilePaused(ctx, pos) {
			result.Cancelled = true
			c.logger.Info("batch cancelled while paused", "remaining", total-i)
			break
		}

		today := c.clock.Now()
		if skip, reason := c.evaluator.Evaluate(task, today); skip {
			c.recordSkip(&result, task, pos, reason)
			continue
		}

		eligible, reason := c.dispatcher.CheckTime(ctx, task, force, pos)
		if !eligible {
			c.recordSkip(&result, task, pos, reason)
			if c.stopRequested(ctx) {
				result.Cancelled = true
				break
			}
			continue
		}

		outcome := c.dispatcher.Execute(ctx, task, effectiveCloseAfter(tasks, i), pos)
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Status == RunStatusSucceeded {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	result.FinishedAt = c.clock.Now()
	c.ui.NotifyProgress(total, total, fmt.Sprintf("batch finished: %d succeeded, %d failed, %d skipped",
		result.Succeeded, result.Failed, result.Skipped))
	c.logger.Info("batch finished",
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"cancelled", result.Cancelled,
		"elapsed", result.Elapsed().Round(time.Millisecond),
	)
	return result
}

// ReleaseResources closes a document left open by the previous batch.
func (c *Coordinator) ReleaseResources() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatcher.Release()
}

func (c *Coordinator) stopRequested(ctx context.Context) bool {
	return c.control.Cancelled() || ctx.Err() != nil
}

// waitWhilePaused blocks while a pause is in effect. It reports false when the
// batch should stop instead of continuing.
func (c *Coordinator) waitWhilePaused(ctx context.Context, pos position) bool {
	announced := false
	for c.control.Paused() {
		if c.stopRequested(ctx) {
			return false
		}
		if !announced {
			c.ui.NotifyProgress(pos.current, pos.total, "paused")
			c.logger.Info("batch paused", "next", pos.current)
			announced = true
		}
		if err := sleep(ctx, c.clock, c.pauseStep); err != nil {
			return false
		}
	}
	if announced {
		c.logger.Info("batch resumed", "next", pos.current)
	}
	return !c.stopRequested(ctx)
}

func (c *Coordinator) recordSkip(result *ScheduleResult, task TaskRecord, pos position, reason string) {
	now := c.clock.Now()
	result.Skipped++
	result.Skips = append(result.Skips, SkipRecord{TaskID: task.ID, Label: task.DisplayName(), Reason: reason})
	result.Outcomes = append(result.Outcomes, TaskOutcome{
		Seq:          pos.current,
		TaskID:       task.ID,
		Label:        task.DisplayName(),
		ResourcePath: task.ResourcePath,
		Status:       RunStatusSkipped,
		Stage:        StagePending,
		Reason:       reason,
		StartedAt:    now,
		EndedAt:      now,
	})
	c.ui.NotifyProgress(pos.current, pos.total, "skipped: "+task.DisplayName())
	c.logger.Info("task skipped", "task", task.DisplayName(), "reason", reason)
}
