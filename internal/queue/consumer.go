package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/EddyChen/diagno-core/common/logger"
	"github.com/EddyChen/diagno-core/internal/model"
	"github.com/redis/go-redis/v9"
)

type ConsumerConfig struct {
	Stream       string        // Redis stream name
	Group        string        // Redis consumer group name
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter queue stream for failed messages
	BatchSize    int64         // Number of messages to process per batch
	Block        time.Duration // How long to block/poll for new messages
	MaxAttempts  int           // Maximum retry attempts before moving to DLQ
	RequeueDelay time.Duration // Delay before retrying failed messages
}

type Message struct {
	ID        string
	IssueID   string
	Issue     model.Issue
	ReportURL string
	Attempt   int
	TraceID   string
	Raw       redis.XMessage
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(ctx); err != nil {
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Start from "0" so reports enqueued before the group existed are not lost.
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %s on %s: %w", c.cfg.Group, c.cfg.Stream, err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "diagno.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// ">" reads only never-delivered messages; stale pending ones belong to the reclaimer
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	messages := make([]Message, 0, c.cfg.BatchSize)
	for _, stream := range streams {
		for _, raw := range stream.Messages {
			msg, err := ParseMessage(raw)
			if err != nil {
				// unreadable reports can never succeed; drop them instead of redelivering
				slog.ErrorContext(ctx, "dropping unparseable report",
					"error", err,
					"message_id", raw.ID)
				_ = c.Ack(ctx, Message{ID: raw.ID, Raw: raw})
				continue
			}
			messages = append(messages, msg)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "reports read", "count", len(messages), "consumer", c.cfg.Consumer)
	}
	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("acking report %s: %w", msg.ID, err)
	}
	return nil
}

// Requeue re-appends msg with its attempt counter bumped after RequeueDelay.
// The ack and the append run in one MULTI so a report is never lost between them.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	values, err := messageValues(msg, msg.Attempt+1)
	if err != nil {
		return err
	}
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RequeueDelay):
		}
	}

	if err := c.moveTo(ctx, c.cfg.Stream, msg, values); err != nil {
		return fmt.Errorf("requeueing report: %w", err)
	}

	slog.InfoContext(ctx, "report requeued for retry",
		"next_attempt", msg.Attempt+1,
		"reason", errMsg)
	return nil
}

// SendDLQ moves msg to the dead letter stream with the final error.
func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	values, err := messageValues(msg, msg.Attempt)
	if err != nil {
		return err
	}
	values["error"] = errMsg

	if err := c.moveTo(ctx, c.cfg.DLQStream, msg, values); err != nil {
		return fmt.Errorf("dead-lettering report (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "report sent to DLQ",
		"final_error", errMsg,
		"attempt", msg.Attempt,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

func (c *RedisConsumer) moveTo(ctx context.Context, stream string, msg Message, values map[string]any) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values})
		pipe.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID)
		return nil
	})
	return err
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	payload, err := parseString(msg.Values, "payload")
	if err != nil {
		return Message{}, err
	}

	var issue model.Issue
	if err := json.Unmarshal([]byte(payload), &issue); err != nil {
		return Message{}, fmt.Errorf("decoding payload: %w", err)
	}

	issueID := parseOptionalString(msg.Values, "issue_id")
	if issueID == "" {
		issueID = issue.ID
	}
	if issueID == "" {
		return Message{}, fmt.Errorf("missing issue_id")
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	return Message{
		ID:        msg.ID,
		IssueID:   issueID,
		Issue:     issue,
		ReportURL: parseOptionalString(msg.Values, "report_url"),
		Attempt:   attempt,
		TraceID:   parseOptionalString(msg.Values, "trace_id"),
		Raw:       msg,
	}, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func messageValues(msg Message, attempt int) (map[string]any, error) {
	payload, err := json.Marshal(msg.Issue)
	if err != nil {
		return nil, fmt.Errorf("encoding issue: %w", err)
	}

	values := map[string]any{
		"issue_id": msg.IssueID,
		"payload":  string(payload),
		"attempt":  attempt,
	}
	if msg.ReportURL != "" {
		values["report_url"] = msg.ReportURL
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values, nil
}
