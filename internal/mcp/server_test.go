package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coworkerbot/internal/core"
	"coworkerbot/internal/interact"
	"coworkerbot/internal/store"
	"coworkerbot/internal/taskmaster"
)

type handle string

func (h handle) Path() string { return string(h) }

type nopResources struct{}

func (nopResources) Open(_ context.Context, path string) (core.ResourceHandle, error) {
	return handle(path), nil
}
func (nopResources) WriteFetchedData(context.Context, core.ResourceHandle, string, string) error {
	return nil
}
func (nopResources) RunMacro(context.Context, core.ResourceHandle, string) error { return nil }
func (nopResources) Save(context.Context, core.ResourceHandle) error             { return nil }
func (nopResources) Close(core.ResourceHandle, bool) error                       { return nil }

type nopFetcher struct{}

func (nopFetcher) Trigger(context.Context, string, core.ArtifactHints) error { return nil }
func (nopFetcher) AwaitArtifact(context.Context, core.ArtifactHints, time.Duration) (string, error) {
	return "", nil
}
func (nopFetcher) Discard(string) error { return nil }

func newTestServer(t *testing.T) (*MCPServer, *core.Scheduler, *interact.Prompts) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "Task_Master.csv")
	content := "ID,Group,StartTime,EndTime,FilePath,SkipDownload,ActionAfter\n" +
		"m1,Morning,08:00,09:00,A.xlsx,TRUE,none\n" +
		"e1,Evening,18:00,19:00,B.xlsx,TRUE,none\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	historyStore, err := store.Open(context.Background(), filepath.Join(dir, "state"), 10)
	require.NoError(t, err)
	t.Cleanup(func() { _ = historyStore.Close() })

	loader := taskmaster.NewLoader(path, logger)
	prompts := interact.NewPrompts(nil, logger)
	coord := core.NewCoordinator(core.Dependencies{
		Resources: nopResources{},
		Fetcher:   nopFetcher{},
		UI:        prompts,
		Logger:    logger,
	}, core.CoordinatorConfig{})
	scheduler := core.NewScheduler(core.SchedulerDeps{
		Source:      loader,
		Coordinator: coord,
		Store:       historyStore,
		Logger:      logger,
	})
	srv := NewMCPServer(Deps{
		Scheduler: scheduler,
		Store:     historyStore,
		Master:    loader,
		Prompts:   prompts,
	}, logger, time.UTC)
	return srv, scheduler, prompts
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	content, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return content.Text
}

func TestListTasksAndGroups(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	res, err := srv.handleListTasks(ctx, call(nil))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "2 active task(s)")
	assert.Less(t, strings.Index(out, "m1"), strings.Index(out, "e1"))

	res, err = srv.handleListTasks(ctx, call(map[string]any{"group": "Evening"}))
	require.NoError(t, err)
	assert.NotContains(t, text(t, res), "m1")

	res, err = srv.handleListGroups(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "Morning  first 08:00  tasks 1")
}

func TestStartBatchAndHistory(t *testing.T) {
	srv, scheduler, _ := newTestServer(t)
	ctx := context.Background()

	res, err := srv.handleStartBatch(ctx, call(map[string]any{"mode": "only", "task_id": "e1"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "Force: true")
	scheduler.Wait()

	res, err = srv.handleListBatches(ctx, call(nil))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "1 batch(es)")
	assert.Contains(t, out, "ok 1 / failed 0 / skipped 0 of 1")

	last := scheduler.Status().LastBatch
	require.NotNil(t, last)
	res, err = srv.handleGetBatch(ctx, call(map[string]any{"batch_id": last.ID}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "kept_open")
}

func TestStartBatchValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	for _, args := range []map[string]any{
		{"mode": "weekly"},
		{"mode": "group"},
		{"mode": "from"},
		{"mode": "schedule", "from": "later"},
		{"mode": "group", "group": "Night"},
	} {
		res, err := srv.handleStartBatch(ctx, call(args))
		require.NoError(t, err)
		assert.True(t, res.IsError, "%v", args)
	}

	res, err := srv.handleGetBatch(ctx, call(map[string]any{"batch_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestControlTools(t *testing.T) {
	srv, scheduler, _ := newTestServer(t)
	ctx := context.Background()

	res, err := srv.handlePause(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "Paused: true")
	assert.True(t, scheduler.Coordinator().Control().Paused())

	res, err = srv.handleResume(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "Paused: false")

	res, err = srv.handleCancel(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "Cancel requested: true")
}

func TestPromptTools(t *testing.T) {
	srv, _, prompts := newTestServer(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- prompts.ConfirmBlocking(context.Background(), "Manual work required", "finish B.xlsx") }()
	require.Eventually(t, func() bool { return len(prompts.List()) == 1 }, time.Second, 5*time.Millisecond)

	res, err := srv.handleListPrompts(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "finish B.xlsx")

	id := prompts.List()[0].ID
	res, err = srv.handleAckPrompt(ctx, call(map[string]any{"prompt_id": id}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.NoError(t, <-done)

	res, err = srv.handleAckPrompt(ctx, call(map[string]any{"prompt_id": id}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSchedulePreviewTool(t *testing.T) {
	srv, _, _ := newTestServer(t)
	res, err := srv.handleSchedulePreview(context.Background(), call(map[string]any{"count": float64(2)}))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, `Morning (08:00, cron "0 8 * * *")`)
	assert.Contains(t, out, "  2. ")
	assert.NotNil(t, srv.Handler())
}
