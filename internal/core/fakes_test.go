package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockClock advances only when something waits on it.
type mockClock struct {
	mu      sync.Mutex
	now     time.Time
	waits   []time.Duration
	onAfter func(d time.Duration)
}

func newMockClock(now time.Time) *mockClock {
	return &mockClock{now: now}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	now := c.now
	hook := c.onAfter
	c.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *mockClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

type fakeHandle struct{ path string }

func (h *fakeHandle) Path() string { return h.path }

type fakeResources struct {
	mu       sync.Mutex
	events   []string
	opens    map[string]int
	openErr  map[string]error
	writeErr error
	macroErr error
	saveErr  error
	closeErr error
	panicOn  string
}

func newFakeResources() *fakeResources {
	return &fakeResources{opens: map[string]int{}, openErr: map[string]error{}}
}

func (r *fakeResources) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *fakeResources) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *fakeResources) Opens(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens[path]
}

func (r *fakeResources) Open(_ context.Context, path string) (ResourceHandle, error) {
	if path == r.panicOn {
		panic("backend exploded")
	}
	r.record("open %s", path)
	if err := r.openErr[path]; err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.opens[path]++
	r.mu.Unlock()
	return &fakeHandle{path: path}, nil
}

func (r *fakeResources) WriteFetchedData(_ context.Context, h ResourceHandle, location, artifact string) error {
	r.record("write %s %s %s", h.Path(), location, artifact)
	return r.writeErr
}

func (r *fakeResources) RunMacro(_ context.Context, h ResourceHandle, name string) error {
	r.record("macro %s %s", h.Path(), name)
	return r.macroErr
}

func (r *fakeResources) Save(_ context.Context, h ResourceHandle) error {
	r.record("save %s", h.Path())
	return r.saveErr
}

func (r *fakeResources) Close(h ResourceHandle, save bool) error {
	r.record("close %s save=%t", h.Path(), save)
	return r.closeErr
}

type fakeFetcher struct {
	mu        sync.Mutex
	triggered []string
	discarded []string
	awaitErr  error
}

func (f *fakeFetcher) Trigger(_ context.Context, source string, _ ArtifactHints) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, source)
	return nil
}

func (f *fakeFetcher) AwaitArtifact(_ context.Context, hints ArtifactHints, _ time.Duration) (string, error) {
	if f.awaitErr != nil {
		return "", f.awaitErr
	}
	return "/downloads/" + hints.SearchKey + hints.Extension, nil
}

func (f *fakeFetcher) Discard(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, path)
	return nil
}

type fakeUI struct {
	mu         sync.Mutex
	progress   []string
	warnings   []string
	errors     []string
	confirms   []string
	confirmErr error
}

func (u *fakeUI) NotifyProgress(current, total int, message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.progress = append(u.progress, fmt.Sprintf("%d/%d %s", current, total, message))
}

func (u *fakeUI) ShowInfo(string, string) {}

func (u *fakeUI) ShowWarning(_, message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.warnings = append(u.warnings, message)
}

func (u *fakeUI) ShowError(_, message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.errors = append(u.errors, message)
}

func (u *fakeUI) ConfirmBlocking(_ context.Context, _, message string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.confirms = append(u.confirms, message)
	return u.confirmErr
}

type harness struct {
	clock     *mockClock
	resources *fakeResources
	fetcher   *fakeFetcher
	ui        *fakeUI
	coord     *Coordinator
}

func newHarness(now time.Time, holidays HolidayCalendar) *harness {
	h := &harness{
		clock:     newMockClock(now),
		resources: newFakeResources(),
		fetcher:   &fakeFetcher{},
		ui:        &fakeUI{},
	}
	h.coord = NewCoordinator(Dependencies{
		Resources: h.resources,
		Fetcher:   h.fetcher,
		UI:        h.ui,
		Holidays:  holidays,
		Clock:     h.clock,
		Logger:    discardLogger(),
	}, CoordinatorConfig{})
	return h
}
