package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/cellmesh/envelope"
)

// NATSBus implements Bus over a NATS connection with JetStream.
type NATSBus struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NATSOption configures a NATSBus.
type NATSOption func(*NATSBus)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) NATSOption {
	return func(b *NATSBus) {
		b.logger = logger
	}
}

// NewNATSBus wraps an existing connection. The caller owns the connection
// lifecycle unless Drain is used.
func NewNATSBus(conn *nats.Conn, opts ...NATSOption) (*NATSBus, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	b := &NATSBus{conn: conn, js: js, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// JetStream exposes the JetStream context for KV-based stores sharing the
// connection.
func (b *NATSBus) JetStream() jetstream.JetStream {
	return b.js
}

// Connect dials a NATS server and wraps it.
func Connect(url string, opts ...NATSOption) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return NewNATSBus(conn, opts...)
}

// EnsureStreams creates or updates the cell traffic streams. The inbox stream
// retains at least the ack window of backlog so redeliveries survive worker
// restarts.
func (b *NATSBus) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      envelope.StreamInbox,
			Subjects:  []string{envelope.InboxWildcard},
			Retention: jetstream.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   jetstream.FileStorage,
		},
		{
			Name:      envelope.StreamEvents,
			Subjects:  []string{envelope.EventsWildcard},
			Retention: jetstream.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Storage:   jetstream.FileStorage,
		},
	}
	for _, cfg := range streams {
		if _, err := b.js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Publish sends data on a subject. Stream-captured subjects are picked up by
// their stream; plain subjects behave as fire-and-forget.
func (b *NATSBus) Publish(_ context.Context, subject string, data []byte) error {
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a best-effort handler.
func (b *NATSBus) Subscribe(subject string, h Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		h(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// consumeContext adapts jetstream.ConsumeContext to Subscription.
type consumeContext struct {
	cc jetstream.ConsumeContext
}

func (c *consumeContext) Unsubscribe() error {
	c.cc.Stop()
	return nil
}

// SubscribeDurable attaches a durable explicit-ack consumer to a stream. The
// message is acked only after the handler returns nil; on error the message
// stays pending and the server redelivers after AckWait.
func (b *NATSBus) SubscribeDurable(ctx context.Context, stream, durable, subject string, h DurableHandler) (Subscription, error) {
	s, err := b.js.Stream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", stream, err)
	}

	cons, err := s.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       AckWait,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxAckPending: 1, // serial delivery per cell
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s on %s: %w", durable, stream, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		if err := h(ctx, msg.Subject(), msg.Data()); err != nil {
			b.logger.Warn("Durable handler failed, leaving message unacked",
				"subject", msg.Subject(),
				"durable", durable,
				"error", err)
			return
		}
		if err := msg.Ack(); err != nil {
			b.logger.Warn("Ack failed", "subject", msg.Subject(), "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", durable, err)
	}
	return &consumeContext{cc: cc}, nil
}

// QueueDepth reports messages retained on a subject within a stream.
func (b *NATSBus) QueueDepth(ctx context.Context, stream, subject string) (uint64, error) {
	s, err := b.js.Stream(ctx, stream)
	if err != nil {
		return 0, fmt.Errorf("get stream %s: %w", stream, err)
	}
	info, err := s.Info(ctx, jetstream.WithSubjectFilter(subject))
	if err != nil {
		return 0, fmt.Errorf("stream info %s: %w", stream, err)
	}
	var depth uint64
	for _, n := range info.State.Subjects {
		depth += n
	}
	return depth, nil
}

// Fetch reads up to max retained messages on a subject, waiting at most
// timeout, via an ephemeral consumer.
func (b *NATSBus) Fetch(ctx context.Context, stream, subject string, max int, timeout time.Duration) ([][]byte, error) {
	s, err := b.js.Stream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", stream, err)
	}
	cons, err := s.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create ephemeral consumer on %s: %w", stream, err)
	}

	batch, err := cons.Fetch(max, jetstream.FetchMaxWait(timeout))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch from %s: %w", subject, err)
	}

	var out [][]byte
	for msg := range batch.Messages() {
		out = append(out, msg.Data())
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return out, fmt.Errorf("fetch batch: %w", err)
	}
	return out, nil
}

// Drain flushes and closes the underlying connection.
func (b *NATSBus) Drain() error {
	if err := b.conn.Drain(); err != nil {
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
