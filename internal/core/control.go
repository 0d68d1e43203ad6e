package core

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrBatchRunning     = errors.New("a batch is already running")
	ErrNoTasks          = errors.New("no active tasks selected")
	ErrUnknownBatchMode = errors.New("unknown batch mode")
	ErrMacroUnsupported = errors.New("macro execution is not supported by this backend")
)

// RunControl carries the cancel and pause requests for one coordinator. The
// setters may be called from any goroutine; the batch loop only polls.
type RunControl struct {
	cancel atomic.Bool
	pause  atomic.Bool
}

// RequestCancel asks the running batch to stop at the next check.
func (c *RunControl) RequestCancel() { c.cancel.Store(true) }

// Pause asks the batch to hold before starting the next task.
func (c *RunControl) Pause() { c.pause.Store(true) }

// Resume clears a pause request.
func (c *RunControl) Resume() { c.pause.Store(false) }

// Cancelled reports whether cancellation has been requested.
func (c *RunControl) Cancelled() bool { return c.cancel.Load() }

// Paused reports whether a pause is in effect.
func (c *RunControl) Paused() bool { return c.pause.Load() }

// resetCancel is called at the start of every batch. A pending pause request
// is kept.
func (c *RunControl) resetCancel() { c.cancel.Store(false) }

// Clock abstracts wall time so waits can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct {
	location *time.Location
}

// SystemClock returns a Clock reading the real time in location.
func SystemClock(location *time.Location) Clock {
	if location == nil {
		location = time.Local
	}
	return systemClock{location: location}
}

func (c systemClock) Now() time.Time { return time.Now().In(c.location) }

func (c systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func sleep(ctx context.Context, clock Clock, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
