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

	"github.com/EddyChen/diagno-core/common/id"
	"github.com/EddyChen/diagno-core/common/logger"
	"github.com/EddyChen/diagno-core/common/otel"
	"github.com/EddyChen/diagno-core/core/config"
	"github.com/EddyChen/diagno-core/internal/queue"
	"github.com/EddyChen/diagno-core/internal/service/issue_tracker"
	"github.com/EddyChen/diagno-core/internal/worker"
	"github.com/redis/go-redis/v9"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "diagno worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// Use a different node ID than the server
	if err := id.Init(cfg.NodeID + 1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
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
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumer, err := queue.NewRedisConsumer(ctx, redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    1, // One report at a time
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		RequeueDelay: cfg.Pipeline.RequeueDelay,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	sinks := []worker.Sink{worker.NewReportSink(httpClient)}
	if cfg.GitLab.Enabled() {
		tracker, err := issue_tracker.NewGitLabIssueTrackerService(cfg.GitLab, httpClient)
		if err != nil {
			slog.ErrorContext(ctx, "failed to create gitlab client", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, worker.NewTrackerSink(tracker))
		slog.InfoContext(ctx, "gitlab issue filing enabled", "project", cfg.GitLab.ProjectID)
	}

	w := worker.New(consumer, sinks, worker.Config{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:        cfg.Pipeline.RedisStream,
		Group:         cfg.Pipeline.RedisGroup,
		Consumer:      cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:       cfg.Pipeline.ClaimIdle,
		Interval:      time.Minute,
		BatchSize:     10,
		MaxDeliveries: int64(cfg.Pipeline.MaxAttempts),
	}, consumer, w.HandleMessage)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running", "sinks", len(sinks))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop reclaimer first (quick)
	reclaimer.Stop()

	// Stop worker (may be delivering)
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
 ____ ___    _    ____ _   _  ___   __        _____  ____  _  _______ ____
|  _ \_ _|  / \  / ___| \ | |/ _ \  \ \      / / _ \|  _ \| |/ / ____|  _ \
| | | | |  / _ \| |  _|  \| | | | |  \ \ /\ / / | | | |_) | ' /|  _| | |_) |
| |_| | | / ___ \ |_| | |\  | |_| |   \ V  V /| |_| |  _ <| . \| |___|  _ <
|____/___/_/   \_\____|_| \_|\___/     \_/\_/  \___/|_| \_\_|\_\_____|_| \_\
`
