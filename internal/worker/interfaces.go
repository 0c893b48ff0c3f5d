package worker

import (
	"context"

	"github.com/EddyChen/diagno-core/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// Sink is one destination a committed issue report is delivered to.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg queue.Message) error
}
