package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"taskcron/internal/api"
	"taskcron/internal/config"
	"taskcron/internal/core"
	"taskcron/internal/logging"
	taskcronmcp "taskcron/internal/mcp"
	"taskcron/internal/notify"
	"taskcron/internal/seed"
	"taskcron/internal/service"
	"taskcron/internal/store"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// stdout carries the MCP stdio transport.
	var logOut io.Writer = os.Stdout
	if cfg.Mode != "http" {
		logOut = os.Stderr
	}
	logger, level := logging.NewWithWriter(logOut, cfg.Log.Level)

	baseCtx := context.Background()
	db, err := store.Open(baseCtx, cfg.StateDir)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	settings := store.NewSettingsStore(db, logger)
	tasks := store.NewTaskStore(db, logger)
	history := store.NewHistoryStore(db, settings, logger)

	executor := core.NewShellExecutor(settings, logger, cfg.CommandTimeout)
	scheduler := core.NewScheduler(tasks, history, executor, core.Calculator{Location: cfg.Location()}, core.NewBroadcaster(), logger)

	svc := service.New(service.Deps{
		KV:        db,
		Tasks:     tasks,
		History:   history,
		Settings:  settings,
		Scheduler: scheduler,
		Level:     level,
		Logger:    logger,
		Location:  cfg.Location(),
	})
	svc.ApplyLogging(svc.GetConfig(baseCtx))

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	if cfg.SeedFile != "" {
		importSeed(ctx, svc, cfg.SeedFile, logger)
	}

	if err := svc.StartScheduler(ctx); err != nil {
		logger.Error("start scheduler", "err", err)
		os.Exit(1)
	}

	if cfg.Notification.Bark.Enabled {
		startNotifier(ctx, cfg, svc, logger)
	}

	switch cfg.Mode {
	case "http":
		runHTTPMode(cfg, svc, nil, logger)
	case "mcp":
		runMCPMode(ctx, cfg, svc, logger, cancel)
	case "both":
		mcpServer := taskcronmcp.NewMCPServer(svc, logger)
		runHTTPMode(cfg, svc, mcpServer, logger)
	}
	logger.Info("shutdown complete")
}

func importSeed(ctx context.Context, svc *service.Service, path string, logger *slog.Logger) {
	inputs, err := seed.Load(path)
	if err != nil {
		logger.Error("load seed file", "path", path, "err", err)
		return
	}
	if _, err := seed.Import(ctx, svc, inputs, logger); err != nil {
		logger.Error("import seed file", "path", path, "err", err)
	}
}

func startNotifier(ctx context.Context, cfg *config.Config, svc *service.Service, logger *slog.Logger) {
	bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
	if err != nil {
		logger.Warn("bark notifications disabled", "err", err)
		return
	}
	bc := cfg.Notification.Bark
	notifiers := notify.NewMultiNotifier(bark)
	forwarder := notify.NewForwarder(notifiers, svc, bc.PerMinute, bc.OnSuccess, logger)
	events, unsubscribe := svc.Subscribe()
	go func() {
		defer unsubscribe()
		forwarder.Run(ctx, events)
	}()
	logger.Info("notifications enabled", "notifiers", notifiers.Len(), "on_success", bc.OnSuccess)
}

// runHTTPMode serves the HTTP API until a signal or server error. When
// mcpServer is set, MCP is served on stdio and mounted at /mcp as well.
func runHTTPMode(cfg *config.Config, svc *service.Service, mcpServer *taskcronmcp.MCPServer, logger *slog.Logger) {
	var mcpHandler http.Handler
	mcpErr := make(chan error, 1)
	if mcpServer != nil {
		mcpHandler = mcpServer.HTTPHandler()
		go func() {
			if err := mcpServer.Run(); err != nil {
				mcpErr <- err
			}
		}()
	}

	server := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, svc, mcpHandler, logger)

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
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case err := <-mcpErr:
		logger.Error("mcp server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	stopScheduler(shutdownCtx, svc, logger)
}

// runMCPMode serves MCP on stdio until stdin closes or a signal arrives.
func runMCPMode(ctx context.Context, cfg *config.Config, svc *service.Service, logger *slog.Logger, cancel context.CancelFunc) {
	mcpServer := taskcronmcp.NewMCPServer(svc, logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	mcpDone := make(chan error, 1)
	go func() {
		mcpDone <- mcpServer.Run()
	}()

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-mcpDone:
		if err != nil {
			logger.Error("mcp server error", "err", err)
		}
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	stopScheduler(shutdownCtx, svc, logger)
}

func stopScheduler(ctx context.Context, svc *service.Service, logger *slog.Logger) {
	stopped := svc.StopScheduler(ctx)
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		logger.Warn("scheduler stop timed out")
	}
}
