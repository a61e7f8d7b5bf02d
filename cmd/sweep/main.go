// Command sweep runs one group expiry sweep, or one cleanup pass, against
// the configured database and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/lifecycle"
	"github.com/npezzotti/go-messenger/internal/notify"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/stats"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default ./config.yaml when present)")
	cleanup := flag.Bool("cleanup", false, "delete long-expired groups and old read notifications instead of sweeping")
	flag.Parse()

	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := config.NewLogger(os.Stderr, cfg.Log)
	if err := run(cfg, logger, *cleanup); err != nil {
		logger.Error("sweep failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, cleanup bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
	repo, closeRepo, err := database.Open(openCtx, cfg.Database.Driver, cfg.Database.DSN, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeRepo()

	// Pushes reach connected users only through the fan-out channel; without
	// redis they are dropped and the persisted notifications remain.
	var fanout server.Fanout = server.LocalFanout{}
	if cfg.Redis.Addr != "" {
		rf := server.NewRedisFanout(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.Channel, logger)
		defer rf.Close()
		if err := rf.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		fanout = rf
	}
	pusher := server.NewRemotePusher(fanout, "sweep", logger)

	notifier := notify.NewNotifier(logger, repo, pusher)
	manager := lifecycle.NewManager(logger, repo, notifier, pusher, stats.Noop{}, lifecycle.Options{
		MaxLifetime:           cfg.Lifecycle.MaxLifetime,
		GracePeriod:           cfg.Lifecycle.GracePeriod,
		InviteTTL:             cfg.Lifecycle.InviteTTL,
		NotificationRetention: cfg.Notifications.Retention,
	})

	now := protocol.Now()
	if cleanup {
		res, err := manager.Cleanup(ctx, now)
		if err != nil {
			return err
		}
		fmt.Println(res)
		return nil
	}

	res, err := manager.Sweep(ctx, now)
	if err != nil {
		return err
	}
	fmt.Println(res)
	return nil
}
