package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coworkerbot/internal/api"
	"coworkerbot/internal/config"
	"coworkerbot/internal/core"
	"coworkerbot/internal/fetch"
	"coworkerbot/internal/holiday"
	"coworkerbot/internal/interact"
	"coworkerbot/internal/logging"
	coworkermcp "coworkerbot/internal/mcp"
	"coworkerbot/internal/notify"
	"coworkerbot/internal/store"
	"coworkerbot/internal/taskmaster"
	"coworkerbot/internal/workbook"
)

// app is the wired daemon.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	location  *time.Location
	store     *store.Store
	loader    *taskmaster.Loader
	prompts   *interact.Prompts
	scheduler *core.Scheduler
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse()
	if err != nil {
		log.Printf("failed to parse config: %v", err)
		return 2
	}

	// stdout carries the MCP protocol in mcp and both modes.
	var console io.Writer = os.Stdout
	if cfg.Mode == "mcp" || cfg.Mode == "both" {
		console = os.Stderr
	}
	logger, logFile, err := logging.NewWithFile(cfg.Log.Level, cfg.Log.Dir, console)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return 1
	}
	defer logFile.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("start", "err", err)
		return 1
	}
	defer a.store.Close()

	switch cfg.Mode {
	case "run":
		return a.runOnce(ctx)
	case "http":
		a.startBackground(ctx)
		a.runHTTPMode(ctx, nil)
	case "mcp":
		a.startBackground(ctx)
		a.runMCPMode(cancel)
	case "both":
		a.startBackground(ctx)
		a.runBothMode(ctx)
	}
	a.shutdown()
	return 0
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	location := time.Local
	if cfg.UseUTC {
		location = time.UTC
	}
	clock := core.SystemClock(location)

	historyStore, err := store.Open(ctx, cfg.StateDir, cfg.HistoryKeep)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	calendar := holiday.New()
	if _, err := os.Stat(cfg.Master.HolidayFile); err == nil {
		if err := calendar.LoadExtra(cfg.Master.HolidayFile); err != nil {
			logger.Warn("extra holidays ignored", "path", cfg.Master.HolidayFile, "err", err)
		}
	}

	fetcher, err := fetch.New(fetch.Config{
		Dir:    cfg.Fetch.DownloadsDir,
		Mode:   fetch.Mode(cfg.Fetch.Mode),
		Logger: logger,
	})
	if err != nil {
		historyStore.Close()
		return nil, fmt.Errorf("prepare fetcher: %w", err)
	}

	notifier := buildNotifier(cfg, logger)
	loader := taskmaster.NewLoader(cfg.Master.Path, logger)

	var (
		ui      core.UserInteraction
		prompts *interact.Prompts
	)
	if cfg.Mode == "run" {
		ui = interact.NewConsole(os.Stdin, os.Stdout, logger)
	} else {
		prompts = interact.NewPrompts(notifier, logger)
		ui = prompts
	}
	tracker := core.NewProgressTracker(ui, clock)

	coordinator := core.NewCoordinator(core.Dependencies{
		Resources: workbook.New(logger),
		Fetcher:   fetcher,
		UI:        tracker,
		Holidays:  calendar,
		Clock:     clock,
		Logger:    logger,
	}, core.CoordinatorConfig{
		WaitStep:     cfg.Batch.WaitStep,
		PauseStep:    cfg.Batch.PauseStep,
		FetchTimeout: cfg.Fetch.Timeout,
		PauseMessage: cfg.Batch.PauseMessage,
	})

	scheduler := core.NewScheduler(core.SchedulerDeps{
		Source:      loader,
		Coordinator: coordinator,
		Store:       historyStore,
		Notifier:    notifier,
		Progress:    tracker,
		Logger:      logger,
		Location:    location,
		Clock:       clock,
		AutoRun:     cfg.Batch.AutoRun && cfg.Mode != "run",
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		location:  location,
		store:     historyStore,
		loader:    loader,
		prompts:   prompts,
		scheduler: scheduler,
	}, nil
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) core.Notifier {
	bark := cfg.Notification.Bark
	if !bark.Enabled || bark.URL == "" {
		return &notify.NoOpNotifier{}
	}
	barkNotifier, err := notify.NewBarkNotifier(bark.URL)
	if err != nil {
		logger.Warn("bark notifications disabled", "err", err)
		return &notify.NoOpNotifier{}
	}
	return notify.NewThrottled(notify.NewMultiNotifier(barkNotifier), cfg.Notification.PerMinute, logger)
}

// startBackground starts auto-run and the task master watcher.
func (a *app) startBackground(ctx context.Context) {
	a.scheduler.Start(ctx)
	if err := a.scheduler.Sync(ctx); err != nil {
		a.logger.Error("initial sync", "err", err)
	}
	if issues, err := a.loader.Validate(ctx); err != nil {
		a.logger.Warn("task master not loaded", "path", a.loader.Path(), "err", err)
	} else {
		for _, issue := range issues {
			a.logger.Warn("task master issue", "task", issue.Label, "row", issue.Row, "problems", issue.Problems)
		}
	}

	watcher, err := taskmaster.NewWatcher(a.loader, a.logger)
	if err != nil {
		a.logger.Warn("task master watcher disabled", "err", err)
		return
	}
	watcher.OnReload(a.scheduler.Sync)
	go func() {
		defer watcher.Close()
		watcher.Run(ctx)
	}()
}

func (a *app) runOnce(ctx context.Context) int {
	req, err := runRequest(a.cfg.Run)
	if err != nil {
		a.logger.Error("run", "err", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	batch, result, err := a.scheduler.Run(ctx, req)
	if err != nil {
		a.logger.Error("run", "err", err)
		return 1
	}
	if err := a.scheduler.Coordinator().ReleaseResources(); err != nil {
		a.logger.Warn("release document", "err", err)
	}
	fmt.Println(core.SummaryTitle(batch.Label, result))
	fmt.Println(core.SummaryBody(result))
	if result.Failed > 0 || result.Cancelled {
		return 1
	}
	return 0
}

func runRequest(run config.RunConfig) (core.BatchRequest, error) {
	req := core.BatchRequest{Force: run.Force}
	switch {
	case run.TaskID != "" && run.Only:
		req.Mode = core.BatchModeOnly
		req.TaskID = run.TaskID
	case run.TaskID != "":
		req.Mode = core.BatchModeFrom
		req.TaskID = run.TaskID
	case run.From != "":
		from, err := core.ParseTimeOfDay(run.From)
		if err != nil {
			return req, fmt.Errorf("-from: %w", err)
		}
		req.Mode = core.BatchModeSchedule
		req.From = from
	case run.Group != "":
		req.Mode = core.BatchModeGroup
		req.Group = run.Group
	default:
		return req, errors.New("run mode needs -group, -task or -from")
	}
	return req, nil
}

// runHTTPMode serves the HTTP API until a signal, a server error or mcpErr.
func (a *app) runHTTPMode(ctx context.Context, mcpErr <-chan error) {
	mcpServer := a.newMCPServer()
	server, err := api.NewServer(a.cfg.Server.Addr, a.cfg.Server.AuthToken, api.Deps{
		Scheduler: a.scheduler,
		Store:     a.store,
		Master:    a.loader,
		Prompts:   a.prompts,
		MCP:       mcpServer.Handler(),
	}, a.logger, a.location)
	if err != nil {
		a.logger.Error("create server", "err", err)
		return
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		a.logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		a.logger.Error("server error", "err", err)
	case err := <-mcpErr:
		a.logger.Error("mcp server error", "err", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown", "err", err)
	}
}

// runMCPMode serves MCP on stdio until stdin closes or a signal arrives.
func (a *app) runMCPMode(cancel context.CancelFunc) {
	mcpServer := a.newMCPServer()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		a.logger.Info("received signal, shutting down...")
		a.scheduler.Coordinator().RequestCancel()
		cancel()
	}()

	if err := mcpServer.Run(); err != nil {
		a.logger.Error("mcp server error", "err", err)
	}
}

// runBothMode serves MCP on stdio and the HTTP API together.
func (a *app) runBothMode(ctx context.Context) {
	mcpServer := a.newMCPServer()
	mcpErr := make(chan error, 1)
	go func() {
		if err := mcpServer.Run(); err != nil {
			mcpErr <- err
		}
	}()
	a.runHTTPMode(ctx, mcpErr)
}

func (a *app) newMCPServer() *coworkermcp.MCPServer {
	return coworkermcp.NewMCPServer(coworkermcp.Deps{
		Scheduler: a.scheduler,
		Store:     a.store,
		Master:    a.loader,
		Prompts:   a.prompts,
	}, a.logger, a.location)
}

// shutdown stops auto-run, cancels a running batch, aborts pending prompts and
// waits for the batch within the grace period.
func (a *app) shutdown() {
	stopCtx := a.scheduler.Stop()
	if a.scheduler.Status().Running {
		a.scheduler.Coordinator().RequestCancel()
	}
	// A task blocked on manual work only returns once its prompt is released.
	if a.prompts != nil {
		a.prompts.AbortAll()
	}

	done := make(chan struct{})
	go func() {
		<-stopCtx.Done()
		a.scheduler.Wait()
		close(done)
	}()
	select {
	case <-done:
		if err := a.scheduler.Coordinator().ReleaseResources(); err != nil {
			a.logger.Warn("release document", "err", err)
		}
	case <-time.After(a.cfg.ShutdownGrace):
		a.logger.Warn("scheduler stop timed out")
	}
	a.logger.Info("shutdown complete")
}
