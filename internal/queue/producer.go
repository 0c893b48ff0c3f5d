package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/EddyChen/diagno-core/internal/model"
	"github.com/redis/go-redis/v9"
)

// ReportMessage asks the worker to forward a committed issue.
type ReportMessage struct {
	Issue     model.Issue
	ReportURL string // empty skips the report endpoint
	TraceID   string
	Attempt   int
}

type Producer interface {
	Enqueue(ctx context.Context, msg ReportMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg ReportMessage) error {
	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	payload, err := json.Marshal(msg.Issue)
	if err != nil {
		return fmt.Errorf("encoding issue: %w", err)
	}

	fields := map[string]any{
		"issue_id": msg.Issue.ID,
		"payload":  string(payload),
		"attempt":  attempt,
	}
	if msg.ReportURL != "" {
		fields["report_url"] = msg.ReportURL
	}
	if msg.TraceID != "" {
		fields["trace_id"] = msg.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue report: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued issue report", "issue_id", msg.Issue.ID, "attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

type noopProducer struct{}

// NewNoopProducer returns a Producer that drops every message. Used when no
// redis is configured for the server.
func NewNoopProducer() Producer {
	return noopProducer{}
}

func (noopProducer) Enqueue(ctx context.Context, msg ReportMessage) error {
	slog.DebugContext(ctx, "report forwarding disabled, dropping message", "issue_id", msg.Issue.ID)
	return nil
}

func (noopProducer) Close() error { return nil }
