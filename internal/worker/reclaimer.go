package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/EddyChen/diagno-core/common/logger"
	"github.com/EddyChen/diagno-core/internal/queue"
	"github.com/redis/go-redis/v9"
)

type RedisReclaimerConfig struct {
	Stream    string
	Group     string
	Consumer  string        // name the reclaimed reports are claimed under
	MinIdle   time.Duration // pending time before a report counts as abandoned
	Interval  time.Duration
	BatchSize int64
	// MaxDeliveries dead-letters a report once redis has handed it out this
	// many times without an ack. Zero disables the check.
	MaxDeliveries int64
}

// RedisReclaimer hands reports left pending by a crashed worker back to the
// processor. Reports that keep crashing workers are dead-lettered instead.
type RedisReclaimer struct {
	client    *redis.Client
	cfg       RedisReclaimerConfig
	consumer  Consumer
	processor queue.MessageProcessor

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewRedisReclaimer(client *redis.Client, cfg RedisReclaimerConfig, consumer Consumer, processor queue.MessageProcessor) *RedisReclaimer {
	return &RedisReclaimer{
		client:    client,
		cfg:       cfg,
		consumer:  consumer,
		processor: processor,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until Stop is called or ctx is done.
func (r *RedisReclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "diagno.worker.reclaimer",
	})
	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle,
		"max_deliveries", r.cfg.MaxDeliveries)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			if err := r.reclaimOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "reclaim cycle failed", "error", err)
			}
		}
	}
}

func (r *RedisReclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

func (r *RedisReclaimer) reclaimOnce(ctx context.Context) error {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.cfg.Stream,
		Group:  r.cfg.Group,
		Idle:   r.cfg.MinIdle,
		Start:  "-",
		End:    "+",
		Count:  r.cfg.BatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("listing pending reports: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	ids := make([]string, 0, len(pending))
	deliveries := make(map[string]int64, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
		deliveries[p.ID] = p.RetryCount
	}

	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.MinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return fmt.Errorf("claiming pending reports: %w", err)
	}

	slog.InfoContext(ctx, "claimed abandoned reports", "pending", len(pending), "claimed", len(claimed))

	for _, raw := range claimed {
		r.settle(ctx, raw, deliveries[raw.ID])
	}
	return nil
}

func (r *RedisReclaimer) settle(ctx context.Context, raw redis.XMessage, delivered int64) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{MessageID: logger.Ptr(raw.ID)})

	msg, err := queue.ParseMessage(raw)
	if err != nil {
		slog.ErrorContext(ctx, "dropping unparseable reclaimed report", "error", err)
		_ = r.consumer.Ack(ctx, queue.Message{ID: raw.ID, Raw: raw})
		return
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{IssueID: logger.Ptr(msg.IssueID)})

	if r.cfg.MaxDeliveries > 0 && delivered >= r.cfg.MaxDeliveries {
		slog.WarnContext(ctx, "report abandoned too often, dead-lettering", "deliveries", delivered)
		if err := r.consumer.SendDLQ(ctx, msg, fmt.Sprintf("abandoned after %d deliveries", delivered)); err != nil {
			slog.ErrorContext(ctx, "failed to dead-letter reclaimed report", "error", err)
		}
		return
	}

	start := time.Now()
	if err := r.processor(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "reclaimed report failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "reclaimed report delivered",
		"deliveries", delivered,
		"duration_ms", time.Since(start).Milliseconds())
}
