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

	"golang.org/x/sync/errgroup"

	"github.com/npezzotti/go-messenger/internal/api"
	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/lifecycle"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/stats"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a config file (default ./config.yaml when present)")
	addr := flag.String("addr", "", "server address, overrides server.addr")
	flag.Parse()

	overrides := map[string]any{}
	if *addr != "" {
		overrides["server.addr"] = *addr
	}

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := config.NewLogger(os.Stdout, cfg.Log)
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
	repo, closeRepo, err := database.Open(openCtx, cfg.Database.Driver, cfg.Database.DSN, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := closeRepo(); err != nil {
			logger.Error("db close", "error", err)
		}
	}()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	opts := []server.Option{server.WithOpTimeout(cfg.Database.Timeout)}
	if cfg.Redis.Addr != "" {
		fanout := server.NewRedisFanout(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.Channel, logger)
		defer fanout.Close()
		if err := fanout.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		opts = append(opts, server.WithFanout(fanout))
		logger.Info("cross-instance fan-out enabled", "redis", cfg.Redis.Addr)
	}

	chatServer := server.NewChatServer(logger, repo, statsUpdater, opts...)

	manager := lifecycle.NewManager(logger, repo, chatServer.Notifier(), chatServer, statsUpdater, lifecycle.Options{
		MaxLifetime:           cfg.Lifecycle.MaxLifetime,
		GracePeriod:           cfg.Lifecycle.GracePeriod,
		InviteTTL:             cfg.Lifecycle.InviteTTL,
		NotificationRetention: cfg.Notifications.Retention,
	})

	scheduler, err := lifecycle.NewScheduler(logger, manager)
	if err != nil {
		return fmt.Errorf("new scheduler: %w", err)
	}
	if err := scheduler.Schedule(cfg.Lifecycle.SweepCron, cfg.Lifecycle.CleanupCron); err != nil {
		return err
	}

	app := api.NewGoChatApp(mux, logger, chatServer, repo, manager, cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return chatServer.Run(gctx)
	})
	g.Go(func() error {
		if err := app.Start(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	scheduler.Start()

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := scheduler.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
		if err := app.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := chatServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("chat server shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
