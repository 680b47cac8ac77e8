package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spraakbanken/mink-backend-sub000/internal/cache"
	"github.com/spraakbanken/mink-backend-sub000/internal/config"
	"github.com/spraakbanken/mink-backend-sub000/internal/handler"
	"github.com/spraakbanken/mink-backend-sub000/internal/metrics"
	"github.com/spraakbanken/mink-backend-sub000/internal/registry"
	"github.com/spraakbanken/mink-backend-sub000/internal/remote"
	"github.com/spraakbanken/mink-backend-sub000/internal/scheduler"
	"github.com/spraakbanken/mink-backend-sub000/internal/storage"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	config.InitLogger(cfg)

	slog.Info("Starting Mink backend", "version", version)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to memcached. Starting without the shared store would leave
	// every job invisible, so this fails loudly.
	memcached, err := cache.NewMemcached(cfg.MemcachedAddr)
	if err != nil {
		slog.Error("Failed to connect to memcached", "addr", cfg.MemcachedAddr, "error", err)
		os.Exit(1)
	}
	store := cache.New(memcached)

	// Remote access to the Sparv server and the storage server
	sparvRunner := remote.NewSSHRunner(cfg.SparvUser, cfg.SparvHost, cfg.SSHKey)
	storageRunner := remote.NewSSHRunner(cfg.StorageUser, cfg.StorageHost, cfg.SSHKey)
	copier := remote.NewRsync(cfg.SSHKey)
	storageClient := storage.NewClient(storageRunner, copier, cfg.StorageUser, cfg.StorageHost, cfg.StorageDir)

	// Metrics and the job registry
	met := metrics.New()
	reg := registry.New(cfg, store, sparvRunner, copier, storageClient, met)

	// Rebuild the shared store from the durable backup if needed
	if err := reg.Initialize(); err != nil {
		slog.Error("Failed to initialize job registry", "error", err)
		os.Exit(1)
	}

	// Initialize scheduler
	sched, err := scheduler.New(cfg, reg)
	if err != nil {
		slog.Error("Failed to create scheduler", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx)

	// Initialize handlers and router
	api := handler.New(cfg, reg, storageClient, store, met)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.Router(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Received shutdown signal, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the scheduler first so no new jobs are started mid-shutdown
	slog.Info("Stopping scheduler...")
	sched.Stop(shutdownCtx)

	slog.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Mink backend stopped")
}
