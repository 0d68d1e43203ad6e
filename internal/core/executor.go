package core

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
)

const defaultPauseMessage = "Please finish the manual work.\n\nFile: %s\nLocation: %s\n\nPress OK when done."

type position struct {
	current int
	total   int
}

// Dispatcher runs a single task against the document and fetch backends. It
// keeps the last document open between tasks so consecutive tasks on the same
// file do not reopen it.
type Dispatcher struct {
	resources ResourceBackend
	fetcher   FetchBackend
	ui        UserInteraction
	control   *RunControl
	clock     Clock
	logger    *slog.Logger

	waitStep     time.Duration
	fetchTimeout time.Duration
	pauseMessage string

	open    ResourceHandle
	openKey string
}

func newDispatcher(deps Dependencies, control *RunControl, cfg CoordinatorConfig) *Dispatcher {
	return &Dispatcher{
		resources:    deps.Resources,
		fetcher:      deps.Fetcher,
		ui:           deps.UI,
		control:      control,
		clock:        deps.Clock,
		logger:       deps.Logger,
		waitStep:     cfg.WaitStep,
		fetchTimeout: cfg.FetchTimeout,
		pauseMessage: cfg.PauseMessage,
	}
}

// CheckTime decides whether the task may start. Force bypasses the session
// window. Otherwise it proceeds inside the window, gives up once the window
// has closed for today, and waits in bounded steps for a window that has not
// opened yet, abandoning the wait on cancellation.
func (d *Dispatcher) CheckTime(ctx context.Context, task TaskRecord, force bool, pos position) (bool, string) {
	if force {
		return true, ""
	}
	window := task.Window()
	waited := false
	for {
		now := d.clock.Now()
		remaining, state := window.UntilOpen(now)
		// A wait that ran to the start may wake just past a single-instant window.
		if state == WindowClosed && waited && overshoot(window.Start, now) <= d.waitStep {
			state = WindowOpen
		}
		switch state {
		case WindowOpen:
			return true, ""
		case WindowClosed:
			d.logger.Info("session closed for today", "task", task.DisplayName(), "window", window.String(), "now", now.Format(time.TimeOnly))
			return false, fmt.Sprintf("session %s closed at %s", window, ClockOf(now))
		}
		if d.control.Cancelled() || ctx.Err() != nil {
			return false, "cancelled while waiting for start time"
		}
		step := d.waitStep
		if remaining < step {
			step = remaining
		}
		msg := fmt.Sprintf("waiting for %s (%s remaining): %s", window.Start, remaining.Round(time.Second), task.DisplayName())
		if d.control.Paused() {
			msg = "paused; " + msg
		}
		d.ui.NotifyProgress(pos.current, pos.total, msg)
		if err := sleep(ctx, d.clock, step); err != nil {
			return false, "cancelled while waiting for start time"
		}
		waited = true
		if d.control.Cancelled() {
			return false, "cancelled while waiting for start time"
		}
	}
}

// overshoot is how far the clock of now has run past start.
func overshoot(start TimeOfDay, now time.Time) time.Duration {
	return time.Duration(ClockOf(now) - start)
}

// Execute performs open, fetch, write, macro, post-action and close for one
// task. Errors and panics become a failed outcome; nothing escapes.
func (d *Dispatcher) Execute(ctx context.Context, task TaskRecord, closeAfter bool, pos position) (out TaskOutcome) {
	out = TaskOutcome{
		Seq:          pos.current,
		TaskID:       task.ID,
		Label:        task.DisplayName(),
		ResourcePath: task.ResourcePath,
		Stage:        StageAdmitted,
		StartedAt:    d.clock.Now(),
	}
	defer func() {
		if r := recover(); r != nil {
			d.fail(ctx, &out, closeAfter, fmt.Errorf("panic: %v", r))
		}
		out.EndedAt = d.clock.Now()
	}()

	d.logger.Info("task started", "task", out.Label, "resource", task.ResourcePath, "close_after", closeAfter)
	if err := d.run(ctx, task, closeAfter, pos, &out); err != nil {
		d.fail(ctx, &out, closeAfter, err)
		return out
	}
	out.Status = RunStatusSucceeded
	d.ui.NotifyProgress(pos.current, pos.total, "done: "+filepath.Base(task.ResourcePath))
	d.logger.Info("task succeeded", "task", out.Label, "stage", out.Stage, "warnings", len(out.Warnings))
	return out
}

func (d *Dispatcher) run(ctx context.Context, task TaskRecord, closeAfter bool, pos position, out *TaskOutcome) error {
	name := filepath.Base(task.ResourcePath)

	d.ui.NotifyProgress(pos.current, pos.total, "opening: "+name)
	handle, err := d.acquire(ctx, task)
	if err != nil {
		return fmt.Errorf("open %s: %w", task.ResourcePath, err)
	}
	out.Stage = StageResourceReady

	if !task.SkipFetch {
		hints := task.ArtifactHints()
		d.ui.NotifyProgress(pos.current, pos.total, "fetching: "+hints.SearchKey)
		artifact, err := d.fetch(ctx, task, hints)
		if err != nil {
			return err
		}
		out.Stage = StageFetchDone

		d.ui.NotifyProgress(pos.current, pos.total, "writing: "+task.TargetLocation)
		if err := d.resources.WriteFetchedData(ctx, handle, task.TargetLocation, artifact); err != nil {
			return fmt.Errorf("write %s into %s: %w", filepath.Base(artifact), task.TargetLocation, err)
		}
		if err := d.fetcher.Discard(artifact); err != nil {
			d.logger.Warn("discard artifact", "path", artifact, "err", err)
		}
		out.Stage = StageWriteDone
	}

	if task.Macro != "" {
		d.ui.NotifyProgress(pos.current, pos.total, "running macro: "+task.Macro)
		if err := d.resources.RunMacro(ctx, handle, task.Macro); err != nil {
			warning := fmt.Sprintf("macro %s failed: %v", task.Macro, err)
			out.Warnings = append(out.Warnings, warning)
			d.logger.Warn("macro failed, continuing", "task", out.Label, "macro", task.Macro, "err", err)
			d.ui.ShowWarning("Macro failed", warning)
		}
		out.Stage = StageMacroDone
	}

	if err := d.postAction(ctx, task, handle, pos, out); err != nil {
		return err
	}
	out.Stage = StagePostAction

	if !closeAfter {
		out.Stage = StageKeptOpen
		return nil
	}
	if err := d.closeOpen(false); err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("close %s: %v", name, err))
		d.logger.Warn("close document", "resource", task.ResourcePath, "err", err)
	}
	out.Stage = StageClosed
	return nil
}

func (d *Dispatcher) acquire(ctx context.Context, task TaskRecord) (ResourceHandle, error) {
	key := task.ResourceKey()
	if d.open != nil && d.openKey == key {
		d.logger.Debug("reusing open document", "resource", task.ResourcePath)
		return d.open, nil
	}
	if d.open != nil {
		previous := d.open.Path()
		if err := d.closeOpen(false); err != nil {
			d.logger.Warn("close previous document", "resource", previous, "err", err)
		}
	}
	handle, err := d.resources.Open(ctx, task.ResourcePath)
	if err != nil {
		return nil, err
	}
	d.open = handle
	d.openKey = key
	return handle, nil
}

func (d *Dispatcher) fetch(ctx context.Context, task TaskRecord, hints ArtifactHints) (string, error) {
	if err := d.fetcher.Trigger(ctx, task.DataSource, hints); err != nil {
		return "", fmt.Errorf("trigger fetch %s: %w", task.DataSource, err)
	}
	artifact, err := d.fetcher.AwaitArtifact(ctx, hints, d.fetchTimeout)
	if err != nil {
		return "", fmt.Errorf("await artifact %q: %w", hints.SearchKey, err)
	}
	return artifact, nil
}

func (d *Dispatcher) postAction(ctx context.Context, task TaskRecord, handle ResourceHandle, pos position, out *TaskOutcome) error {
	name := filepath.Base(task.ResourcePath)
	switch task.PostAction {
	case PostActionNone:
		return nil
	case PostActionPause:
		message := task.PopupMessage
		if message == "" {
			message = d.pauseMessage
		}
		if message == "" {
			message = fmt.Sprintf(defaultPauseMessage, task.ResourcePath, task.TargetLocation)
		}
		d.ui.NotifyProgress(pos.current, pos.total, "waiting for manual work: "+name)
		if err := d.ui.ConfirmBlocking(ctx, "Manual work required", message); err != nil {
			return fmt.Errorf("await confirmation: %w", err)
		}
		// The manual work is done at this point; a failed save is only a warning.
		if err := d.resources.Save(ctx, handle); err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("save after manual work: %v", err))
			d.logger.Warn("save after manual work failed", "resource", task.ResourcePath, "err", err)
		}
		return nil
	default:
		d.ui.NotifyProgress(pos.current, pos.total, "saving: "+name)
		if err := d.resources.Save(ctx, handle); err != nil {
			return fmt.Errorf("save %s: %w", task.ResourcePath, err)
		}
		return nil
	}
}

func (d *Dispatcher) fail(ctx context.Context, out *TaskOutcome, closeAfter bool, err error) {
	out.Status = RunStatusFailed
	out.Reason = err.Error()
	d.logger.Error("task failed", "task", out.Label, "resource", out.ResourcePath, "stage", out.Stage, "err", err)
	d.ui.ShowError("Task failed", fmt.Sprintf("%s\n\n%v", out.Label, err))
	if !closeAfter && !d.control.Cancelled() && ctx.Err() == nil {
		return
	}
	if cerr := d.closeOpen(false); cerr != nil {
		d.logger.Warn("close after failure", "resource", out.ResourcePath, "err", cerr)
	}
}

func (d *Dispatcher) closeOpen(save bool) error {
	if d.open == nil {
		return nil
	}
	handle := d.open
	d.open = nil
	d.openKey = ""
	return d.resources.Close(handle, save)
}

// Release closes a document left open by the last task, without saving.
func (d *Dispatcher) Release() error {
	if err := d.closeOpen(false); err != nil {
		return fmt.Errorf("release document: %w", err)
	}
	return nil
}
