package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EddyChen/diagno-core/common/logger"
	"github.com/EddyChen/diagno-core/internal/queue"
	"go.opentelemetry.io/otel/attribute"
)

// ErrPermanent marks a delivery failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

type Config struct {
	MaxAttempts int
}

type Worker struct {
	consumer Consumer
	sinks    []Sink
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, sinks []Sink, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Worker{
		consumer:  consumer,
		sinks:     sinks,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "diagno.worker",
	})

	sinkNames := make([]string, len(w.sinks))
	for i, s := range w.sinks {
		sinkNames[i] = s.Name()
	}
	slog.InfoContext(ctx, "worker started", "sinks", sinkNames)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				select {
				case <-ctx.Done():
				case <-w.stopCh:
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.HandleMessage(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "failed to settle message",
				"error", err,
				"message_id", msg.ID)
		}
	}

	return nil
}

// HandleMessage delivers msg and settles it: acked on success, requeued or
// dead-lettered on failure. Exported so it can be reused by the reclaimer.
func (w *Worker) HandleMessage(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		IssueID:   logger.Ptr(msg.IssueID),
		MessageID: logger.Ptr(msg.ID),
	})

	if err := w.processMessageSafe(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "message processing failed",
			"error", err,
			"attempt", msg.Attempt)
		return w.handleFailedMessage(ctx, msg, err)
	}
	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage delivers the report to every sink and acks it. A sink error
// leaves the message unacked.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	var sc *logger.SpanContext
	if msg.TraceID != "" {
		sc = logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.deliver_report")
	} else {
		sc = logger.StartSpan(ctx, "worker.deliver_report")
	}
	defer sc.End()
	ctx = sc.Context()
	sc.Span().SetAttributes(
		attribute.String("issue.id", msg.IssueID),
		attribute.Int("message.attempt", msg.Attempt),
	)

	slog.InfoContext(ctx, "processing report",
		"attempt", msg.Attempt)

	start := time.Now()
	for _, sink := range w.sinks {
		if err := sink.Deliver(ctx, msg); err != nil {
			sc.RecordError(err)
			return fmt.Errorf("delivering to %s: %w", sink.Name(), err)
		}
		slog.DebugContext(ctx, "report delivered", "sink", sink.Name())
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Log but don't fail - message will be reclaimed and redelivered
		slog.WarnContext(ctx, "failed to ACK message",
			"error", err)
	}

	slog.InfoContext(ctx, "report forwarded",
		"sinks", len(w.sinks),
		"duration_ms", time.Since(start).Milliseconds())

	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) error {
	if errors.Is(err, ErrPermanent) || msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "giving up on message, sending to DLQ",
			"attempts", msg.Attempt,
			"permanent", errors.Is(err, ErrPermanent))
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			return fmt.Errorf("sending to dlq: %w", dlqErr)
		}
		return nil
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		return fmt.Errorf("requeuing: %w", requeueErr)
	}
	return nil
}
