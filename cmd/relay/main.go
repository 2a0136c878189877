package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/udprelay/internal/config"
	"github.com/skypro1111/udprelay/internal/metrics"
	"github.com/skypro1111/udprelay/internal/monitor"
	"github.com/skypro1111/udprelay/internal/registry"
	"github.com/skypro1111/udprelay/internal/relay"
)

const (
	serviceName    = "udprelay"
	serviceVersion = "1.0.0"
)

func main() {
	fs := flag.NewFlagSet(serviceName, flag.ExitOnError)
	cfg := config.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if err := cfg.Finalize(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
	)
	logger.Info("configuration loaded",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.Duration("empty_ttl", cfg.Group.EmptyTTL),
		slog.Duration("sweep_interval", cfg.Group.SweepInterval),
		slog.Duration("heartbeat_interval", cfg.Group.HeartbeatInterval),
		slog.Int("default_cap", cfg.Group.DefaultCap),
		slog.Int("max_groups_per_client", cfg.Group.MaxGroupsPerClient),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("prometheus metrics initialized")

	reg := registry.New(registry.Limits{
		DefaultCap:         cfg.Group.DefaultCap,
		MaxGroupsPerClient: cfg.Group.MaxGroupsPerClient,
	})

	server := relay.New(cfg.Server, cfg.Group, reg, logger, appMetrics)
	if err := server.Start(); err != nil {
		logger.Error("failed to start relay", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var mon *monitor.Server
	if cfg.Metrics.Addr != "" {
		mon = monitor.New(cfg.Metrics.Addr, logger, cfg, reg, appMetrics, prometheus.DefaultGatherer)
		if err := mon.Start(); err != nil {
			logger.Error("failed to start monitoring API", slog.String("error", err.Error()))
			_ = server.Stop()
			os.Exit(1)
		}
		logger.Info("monitoring API initialized", slog.String("address", cfg.Metrics.Addr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("service started successfully, waiting for signals...",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
	)

	<-ctx.Done()
	logger.Info("starting graceful shutdown...")

	var g errgroup.Group
	if mon != nil {
		g.Go(func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return mon.Stop(shutdownCtx)
		})
	}
	g.Go(server.Stop)

	if err := g.Wait(); err != nil {
		logger.Error("error during shutdown", slog.String("error", err.Error()))
	}

	logger.Info("service stopped")
}

// initLogger creates a structured logger from the logging configuration, writing to
// stdout with source location attached only at debug level.
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
