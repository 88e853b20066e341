// Package bus abstracts the messaging fabric cells and controllers
// communicate over. The production implementation rides NATS JetStream;
// an in-process implementation backs embedded mode and tests.
package bus

import (
	"context"
	"time"
)

// AckWait must exceed the longest LLM turn so a slow think never triggers a
// spurious redelivery.
const AckWait = 10 * time.Minute

// Handler consumes a best-effort message.
type Handler func(subject string, data []byte)

// DurableHandler consumes a durably delivered message. Returning nil acks the
// message; returning an error leaves it unacked so the bus redelivers it.
type DurableHandler func(ctx context.Context, subject string, data []byte) error

// Subscription is a live consumer that can be torn down.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the messaging capability consumed by the core.
type Bus interface {
	// Publish sends data to a subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a best-effort handler with no persistence.
	Subscribe(subject string, h Handler) (Subscription, error)

	// SubscribeDurable registers a durable consumer with explicit acks on the
	// given stream. Delivery order follows publication order per subject.
	SubscribeDurable(ctx context.Context, stream, durable, subject string, h DurableHandler) (Subscription, error)

	// QueueDepth reports the number of pending messages on a subject within
	// a stream. Used by the swarm queue_depth trigger.
	QueueDepth(ctx context.Context, stream, subject string) (uint64, error)

	// Fetch reads up to max retained messages currently on a subject,
	// waiting at most timeout. Used by the natsResponse completion check.
	Fetch(ctx context.Context, stream, subject string, max int, timeout time.Duration) ([][]byte, error)

	// Drain flushes buffered messages and closes the connection.
	Drain() error
}
