package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaot623/annotator/internal/adapter/backend"
	"github.com/xiaot623/annotator/internal/config"
	"github.com/xiaot623/annotator/internal/fixture"
	"github.com/xiaot623/annotator/internal/hub"
	"github.com/xiaot623/annotator/internal/logger"
	"github.com/xiaot623/annotator/internal/policy"
	store "github.com/xiaot623/annotator/internal/repository"
	"github.com/xiaot623/annotator/internal/service"
	handler "github.com/xiaot623/annotator/internal/transport/http"
	wbhttp "github.com/xiaot623/annotator/internal/transport/http/workbench"
	"github.com/xiaot623/annotator/internal/transport/ws"
	"github.com/xiaot623/annotator/internal/workbench"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting annotator",
		"api_port", cfg.HTTPPort,
		"ui_port", cfg.UIPort,
		"database", cfg.DatabaseURL,
		"backend_url", cfg.BackendURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize policy engine
	policyEngine, err := policy.LoadEngine(ctx, cfg.PolicyFile)
	if err != nil {
		slog.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}

	// Change notifications
	h := hub.NewHub()
	go h.Run(ctx)

	// Initialize service
	svc := service.New(db, cfg, policyEngine, h)
	if cfg.SeedDemo {
		if _, err := fixture.Seed(ctx, svc, fixture.Demo()); err != nil {
			slog.Error("failed to seed demo dataset", "error", err)
			os.Exit(1)
		}
	}

	// Workbench data source
	var source workbench.Source
	if cfg.UsesFixture() {
		slog.Info("workbench reads the embedded demo dataset")
		source = fixture.NewSource(fixture.Demo())
	} else {
		source = backend.NewClient(cfg.BackendURL, cfg.RequestTimeout)
	}
	wsURL := cfg.PublicWSURL
	if cfg.UsesFixture() {
		wsURL = ""
	}

	apiServer := handler.NewAPIServer(svc, ws.NewServer(cfg, h), cfg)
	uiServer := handler.NewWorkbenchServer(wbhttp.NewHandler(workbench.NewManager(source, cfg.Annotator), wsURL))

	// Start API server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := apiServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Start workbench server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.UIPort)
		if err := uiServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("workbench server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("backend API started", "port", cfg.HTTPPort)
	slog.Info("workbench started", "url", fmt.Sprintf("http://localhost:%d/", cfg.UIPort))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down annotator")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := uiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown workbench server gracefully", "error", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown api server gracefully", "error", err)
	}
	cancel()

	slog.Info("annotator stopped")
}
