package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"refinery.app/engine/common/id"
	"refinery.app/engine/common/logger"
	"refinery.app/engine/core/config"
	"refinery.app/engine/internal/pipeline"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(".env.worker")
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)
	logger.Setup(cfg)

	slog.InfoContext(ctx, "engine worker starting", "env", cfg.Env)

	// Use a different node ID than the server so thread/entry IDs stay
	// globally unique if this process ever mints any (it doesn't today, but
	// keeps the invariant cheap to hold onto).
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected")

	aggregator := pipeline.New(redisClient, pipeline.Config{
		RedisURL:      cfg.Redis.URL,
		Stream:        "refinery:entry-committed",
		ConsumerGroup: "stats-aggregator",
		ConsumerName:  hostnameOr("worker-1"),
		DLQStream:     "refinery:entry-committed:dlq",
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- aggregator.Run(ctx)
	}()

	slog.InfoContext(ctx, "stats aggregation worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	aggregator.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}

const banner = `
 ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
 ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
 ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
 ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
 ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
  ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
