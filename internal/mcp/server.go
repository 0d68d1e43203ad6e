package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"coworkerbot/internal/core"
	"coworkerbot/internal/interact"
	"coworkerbot/internal/store"
	"coworkerbot/internal/taskmaster"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "coworkerbot"
	serverVersion = "1.0.0"
)

// Deps are the components the tools read from and control.
type Deps struct {
	Scheduler *core.Scheduler
	Store     *store.Store
	Master    *taskmaster.Loader
	Prompts   *interact.Prompts
}

// MCPServer exposes the batch control surface as MCP tools.
type MCPServer struct {
	scheduler *core.Scheduler
	store     *store.Store
	master    *taskmaster.Loader
	prompts   *interact.Prompts
	logger    *slog.Logger
	location  *time.Location

	server *server.MCPServer
}

// NewMCPServer creates a new MCP server instance with every tool registered.
func NewMCPServer(deps Deps, logger *slog.Logger, location *time.Location) *MCPServer {
	if location == nil {
		location = time.Local
	}
	s := &MCPServer{
		scheduler: deps.Scheduler,
		store:     deps.Store,
		master:    deps.Master,
		prompts:   deps.Prompts,
		logger:    logger,
		location:  location,
		server: server.NewMCPServer(
			serverName,
			serverVersion,
			server.WithToolCapabilities(true),
		),
	}
	s.registerTools()
	return s
}

// Run serves the MCP protocol on stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// Handler returns the streamable HTTP transport, mounted at /mcp by the API.
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func (s *MCPServer) registerTools() {
	s.server.AddTool(mcp.NewTool("bot_list_tasks",
		mcp.WithDescription("List the active tasks of the task master in execution order"),
		mcp.WithString("group",
			mcp.Description("Only list this group, in the order a group batch would run it"),
		),
	), s.handleListTasks)

	s.server.AddTool(mcp.NewTool("bot_list_groups",
		mcp.WithDescription("List task groups with their earliest start time"),
	), s.handleListGroups)

	s.server.AddTool(mcp.NewTool("bot_validate",
		mcp.WithDescription("Check the task master for configuration problems"),
	), s.handleValidate)

	s.server.AddTool(mcp.NewTool("bot_start_batch",
		mcp.WithDescription("Start a batch in the background. Only one batch runs at a time"),
		mcp.WithString("mode",
			mcp.Description("group (default), from (retry from a task), only (single task) or schedule (all groups from a start time)"),
			mcp.Enum("group", "from", "only", "schedule"),
		),
		mcp.WithString("group",
			mcp.Description("Group name, required for mode=group"),
		),
		mcp.WithString("task_id",
			mcp.Description("Task ID, required for mode=from and mode=only"),
		),
		mcp.WithString("from",
			mcp.Description("Start time HH:MM for mode=schedule, default 00:00"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Ignore session windows. Always on for from and only"),
		),
	), s.handleStartBatch)

	s.server.AddTool(mcp.NewTool("bot_status",
		mcp.WithDescription("Show the running batch, its progress and the control flags"),
	), s.handleStatus)

	s.server.AddTool(mcp.NewTool("bot_pause",
		mcp.WithDescription("Pause the running batch before its next task"),
	), s.handlePause)

	s.server.AddTool(mcp.NewTool("bot_resume",
		mcp.WithDescription("Resume a paused batch"),
	), s.handleResume)

	s.server.AddTool(mcp.NewTool("bot_cancel",
		mcp.WithDescription("Cancel the running batch. The current task finishes first"),
	), s.handleCancel)

	s.server.AddTool(mcp.NewTool("bot_list_prompts",
		mcp.WithDescription("List manual-work confirmations waiting for an operator"),
	), s.handleListPrompts)

	s.server.AddTool(mcp.NewTool("bot_ack_prompt",
		mcp.WithDescription("Confirm that the manual work of a prompt is done"),
		mcp.WithString("prompt_id",
			mcp.Required(),
			mcp.Description("Prompt ID"),
		),
	), s.handleAckPrompt)

	s.server.AddTool(mcp.NewTool("bot_list_batches",
		mcp.WithDescription("Show recent batch history"),
		mcp.WithNumber("limit",
			mcp.Description("Number of batches to return, default 10"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListBatches)

	s.server.AddTool(mcp.NewTool("bot_get_batch",
		mcp.WithDescription("Show one batch and the outcome of each task"),
		mcp.WithString("batch_id",
			mcp.Required(),
			mcp.Description("Batch ID"),
		),
	), s.handleGetBatch)

	s.server.AddTool(mcp.NewTool("bot_schedule_preview",
		mcp.WithDescription("Preview the next daily auto-run trigger of each group"),
		mcp.WithNumber("count",
			mcp.Description("Number of triggers per group, default 3"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handleSchedulePreview)

	s.logger.Info("MCP tools registered", "count", 13)
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.scheduler.Tasks(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task master: %v", err)), nil
	}
	if group := strings.TrimSpace(mcp.ParseString(request, "group", "")); group != "" {
		tasks = tasks.OptimizedByGroup(group)
	} else {
		tasks = tasks.SortedByStartThenGroup()
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No active tasks"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d active task(s):\n\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s  %s\n", t.ID, t.DisplayName())
		fmt.Fprintf(&b, "  window: %s\n", t.Window())
		fmt.Fprintf(&b, "  file: %s\n", t.ResourcePath)
		if !t.SkipFetch {
			fmt.Fprintf(&b, "  source: %s -> %s\n", truncateString(t.DataSource, 60), t.TargetLocation)
		}
		fmt.Fprintf(&b, "  after: %s\n", t.PostAction)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleListGroups(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.scheduler.Tasks(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task master: %v", err)), nil
	}
	groups := tasks.Groups()
	if len(groups) == 0 {
		return mcp.NewToolResultText("No groups"), nil
	}
	var b strings.Builder
	for _, g := range groups {
		start, _ := tasks.EarliestStart(g)
		fmt.Fprintf(&b, "%s  first %s  tasks %d\n", g, start, len(tasks.FilteredByGroup(g)))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleValidate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issues, err := s.master.Validate(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task master: %v", err)), nil
	}
	if len(issues) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("%s: no problems found", s.master.Path())), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d task(s) with problems\n\n", s.master.Path(), len(issues))
	for _, issue := range issues {
		fmt.Fprintf(&b, "row %d %s\n", issue.Row, issue.Label)
		for _, p := range issue.Problems {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleStartBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, err := core.ParseBatchMode(mcp.ParseString(request, "mode", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	req := core.BatchRequest{
		Mode:   mode,
		Group:  strings.TrimSpace(mcp.ParseString(request, "group", "")),
		TaskID: strings.TrimSpace(mcp.ParseString(request, "task_id", "")),
		Force:  mcp.ParseBoolean(request, "force", false),
	}
	switch mode {
	case core.BatchModeGroup:
		if req.Group == "" {
			return mcp.NewToolResultError("group is required"), nil
		}
	case core.BatchModeFrom, core.BatchModeOnly:
		if req.TaskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}
	case core.BatchModeSchedule:
		if from := strings.TrimSpace(mcp.ParseString(request, "from", "")); from != "" {
			parsed, err := core.ParseTimeOfDay(from)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			req.From = parsed
		}
	}

	batch, err := s.scheduler.Launch(ctx, req)
	if err != nil {
		if errors.Is(err, core.ErrBatchRunning) {
			return mcp.NewToolResultError("a batch is already running; cancel it or wait"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to start batch: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Batch started\nID: %s\nLabel: %s\nTasks: %d\nForce: %t",
		batch.ID, batch.Label, batch.Total, batch.Force)), nil
}

func (s *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.statusText()), nil
}

func (s *MCPServer) handlePause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.scheduler.Coordinator().Pause()
	return mcp.NewToolResultText("Pause requested\n\n" + s.statusText()), nil
}

func (s *MCPServer) handleResume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.scheduler.Coordinator().Resume()
	return mcp.NewToolResultText("Resumed\n\n" + s.statusText()), nil
}

func (s *MCPServer) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.scheduler.Coordinator().RequestCancel()
	return mcp.NewToolResultText("Cancel requested\n\n" + s.statusText()), nil
}

func (s *MCPServer) statusText() string {
	st := s.scheduler.Status()
	var b strings.Builder
	if st.Running && st.Batch != nil {
		fmt.Fprintf(&b, "Running: %s (%s, %d tasks)\n", st.Batch.Label, st.Batch.ID, st.Batch.Total)
	} else {
		b.WriteString("Idle\n")
	}
	if st.Progress.Message != "" {
		fmt.Fprintf(&b, "Progress: %d/%d %s\n", st.Progress.Current, st.Progress.Total, st.Progress.Message)
	}
	fmt.Fprintf(&b, "Paused: %t\nCancel requested: %t\n", st.Paused, st.CancelRequested)
	if st.LastBatch != nil {
		fmt.Fprintf(&b, "Last batch: %s %s (ok %d / failed %d / skipped %d)\n",
			statusToIcon(st.LastBatch.Status), st.LastBatch.Label, st.LastBatch.Succeeded, st.LastBatch.Failed, st.LastBatch.Skipped)
	}
	if st.AutoRun {
		fmt.Fprintf(&b, "Auto-run groups: %s\n", strings.Join(st.AutoRunGroups, ", "))
	}
	if s.prompts != nil {
		if n := len(s.prompts.List()); n > 0 {
			fmt.Fprintf(&b, "Waiting for confirmation: %d prompt(s)\n", n)
		}
	}
	return b.String()
}

func (s *MCPServer) handleListPrompts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.prompts == nil {
		return mcp.NewToolResultText("Confirmations are answered on the console"), nil
	}
	pending := s.prompts.List()
	if len(pending) == 0 {
		return mcp.NewToolResultText("No pending prompts"), nil
	}
	var b strings.Builder
	for _, p := range pending {
		fmt.Fprintf(&b, "%s  %s  (%s)\n%s\n\n", p.ID, p.Title, formatTime(&p.CreatedAt), p.Message)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleAckPrompt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	promptID := mcp.ParseString(request, "prompt_id", "")
	if s.prompts == nil {
		return mcp.NewToolResultError("confirmations are answered on the console"), nil
	}
	if err := s.prompts.Ack(promptID); err != nil {
		if errors.Is(err, interact.ErrPromptNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("prompt not found: %s", promptID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to acknowledge: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Acknowledged: %s", promptID)), nil
}

func (s *MCPServer) handleListBatches(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(mcp.ParseFloat64(request, "limit", 10))
	batches, err := s.store.ListBatches(ctx, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list batches: %v", err)), nil
	}
	if len(batches) == 0 {
		return mcp.NewToolResultText("No batch history"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d batch(es):\n\n", len(batches))
	for _, batch := range batches {
		fmt.Fprintf(&b, "[%s] %s  %s\n", statusToIcon(batch.Status), batch.ID, batch.Label)
		fmt.Fprintf(&b, "    started: %s  finished: %s\n", formatTime(&batch.StartedAt), formatTime(batch.FinishedAt))
		fmt.Fprintf(&b, "    ok %d / failed %d / skipped %d of %d\n", batch.Succeeded, batch.Failed, batch.Skipped, batch.Total)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	batchID := mcp.ParseString(request, "batch_id", "")
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("batch not found: %s", batchID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load batch: %v", err)), nil
	}
	outcomes, err := s.store.ListTaskRuns(ctx, batchID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task runs: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Batch %s  %s\n", batch.ID, batch.Label)
	fmt.Fprintf(&b, "Status: %s  mode: %s  force: %t\n", batch.Status, batch.Mode, batch.Force)
	fmt.Fprintf(&b, "Started: %s  finished: %s\n\n", formatTime(&batch.StartedAt), formatTime(batch.FinishedAt))
	for _, o := range outcomes {
		fmt.Fprintf(&b, "%d. [%s] %s  (%s)\n", o.Seq, statusToIcon(o.Status), o.Label, o.Stage)
		if o.Reason != "" {
			fmt.Fprintf(&b, "    %s\n", o.Reason)
		}
		for _, w := range o.Warnings {
			fmt.Fprintf(&b, "    ! %s\n", w)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleSchedulePreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	count := int(mcp.ParseFloat64(request, "count", 3))
	previews, err := s.scheduler.Preview(ctx, count)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute preview: %v", err)), nil
	}
	if len(previews) == 0 {
		return mcp.NewToolResultText("No groups to schedule"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Time zone: %s\n\n", s.location)
	for _, p := range previews {
		fmt.Fprintf(&b, "%s (%s, cron %q)\n", p.Group, p.Start, p.Cron)
		for i, t := range p.Next {
			next := t.In(s.location)
			fmt.Fprintf(&b, "  %d. %s\n", i+1, formatTime(&next))
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func statusToIcon(status core.RunStatus) string {
	switch status {
	case core.RunStatusSucceeded, core.RunStatusCompleted:
		return "✅"
	case core.RunStatusFailed:
		return "❌"
	case core.RunStatusCanceled:
		return "🚫"
	case core.RunStatusSkipped:
		return "⏭️"
	case core.RunStatusRunning:
		return "▶️"
	case core.RunStatusQueued:
		return "⏳"
	default:
		return "❓"
	}
}
