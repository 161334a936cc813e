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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukerupert/famcal/internal/config"
	"github.com/dukerupert/famcal/internal/database"
	"github.com/dukerupert/famcal/internal/logging"
	"github.com/dukerupert/famcal/internal/maintenance"
	"github.com/dukerupert/famcal/internal/metrics"
	"github.com/dukerupert/famcal/internal/server"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	m := metrics.New(prometheus.NewRegistry())

	srv := server.New(db, server.Config{
		MaxPageSize: cfg.MaxPageSize,
		RateLimit:   cfg.RateLimit,
		RateWindow:  cfg.RateWindow,
		AuditBuffer: cfg.AuditBuffer,
	}, m, logger)

	jobs, err := maintenance.New(maintenance.Config{
		Schedule:       cfg.MaintenanceCron,
		AuditRetention: cfg.AuditRetention,
	}, srv.AuditStore(), srv.TokenStore(), srv.RateLimiter(), logger.With("component", "maintenance"))
	if err != nil {
		slog.Error("failed to schedule maintenance", "error", err)
		os.Exit(1)
	}
	jobs.Start()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("famcal starting", "addr", httpServer.Addr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	<-jobs.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	srv.Close()
}
