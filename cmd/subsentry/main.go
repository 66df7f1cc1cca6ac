// Command subsentry runs the subdomain reconnaissance orchestration
// service: an HTTP API that accepts pipeline jobs, drives external
// discovery tools and bruteforce phases, and serves the merged results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/subsentry/subsentry/pkg/api"
	"github.com/subsentry/subsentry/pkg/config"
	"github.com/subsentry/subsentry/pkg/jobs"
	"github.com/subsentry/subsentry/pkg/metrics"
)

const shutdownGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "subsentry:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		listenAddr = flag.String("listen", "", "HTTP listen address (overrides config)")
		envFile    = flag.String("env-file", "", "load environment variables from file before reading config")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	// .env is optional; an explicit -env-file must exist.
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	collector := metrics.New()
	manager := jobs.NewManager(cfg,
		jobs.WithLogger(logger),
		jobs.WithMetrics(collector),
	)
	server := api.NewServer(manager,
		api.WithLogger(logger),
		api.WithMetrics(collector),
	)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			slog.String("addr", cfg.ListenAddr),
			slog.String("data_dir", cfg.DataDir),
			slog.Int("max_concurrency", cfg.MaxConcurrency),
		)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
