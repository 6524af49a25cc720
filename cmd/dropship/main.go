package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	_ "go.uber.org/automaxprocs"

	"github.com/skeldware/dropship/internal/anticheat"
	"github.com/skeldware/dropship/internal/authapi"
	"github.com/skeldware/dropship/internal/config"
	"github.com/skeldware/dropship/internal/db"
	"github.com/skeldware/dropship/internal/events"
	"github.com/skeldware/dropship/internal/ops"
	"github.com/skeldware/dropship/internal/server"
)

const defaultConfigPath = "config/dropship.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := defaultConfigPath
	if p := os.Getenv("DROPSHIP_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("dropship starting",
		"bind", cfg.BindAddress, "port", cfg.Port,
		"serverAsHost", cfg.Rooms.ServerAsHost, "authMode", cfg.Auth.Mode)

	metrics, err := buildMetrics(ctx, cfg)
	if err != nil {
		return err
	}

	resolver, err := buildResolver(cfg)
	if err != nil {
		return err
	}

	hub := events.NewHub()
	obs := ops.NewMetrics()
	worker := server.NewWorker(cfg, hub, anticheat.NewGate(), resolver, metrics, obs)
	obs.ObserveWorker(worker)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(ctx) })
	if cfg.Ops.Enabled {
		opsServer := ops.New(cfg.Ops, worker, obs)
		g.Go(func() error { return opsServer.Run(ctx) })
	}
	return g.Wait()
}

// buildMetrics connects the infraction sink when the database is
// enabled; otherwise infractions are only logged.
func buildMetrics(ctx context.Context, cfg config.Config) (server.Metrics, error) {
	if !cfg.Database.Enabled {
		slog.Info("database disabled, infractions will not persist")
		return server.NullMetrics{}, nil
	}
	dsn := cfg.Database.DSN()
	if err := db.RunMigrations(ctx, dsn); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	d, err := db.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}
	return d, nil
}

func buildResolver(cfg config.Config) (authapi.Resolver, error) {
	switch cfg.Auth.Mode {
	case "token":
		return authapi.NewTokenResolver(cfg.Auth.Secret), nil
	case "remote":
		return authapi.NewClient(cfg.Auth.BaseURL, cfg.Auth.Timeout), nil
	case "off":
		return authapi.Anonymous{}, nil
	default:
		return nil, fmt.Errorf("auth mode %q not recognized", cfg.Auth.Mode)
	}
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
