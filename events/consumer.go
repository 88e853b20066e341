// Package events durably consumes the cell events stream and persists each
// record for the operational API. One consumer instance serves the whole
// platform.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/c360studio/cellmesh/bus"
	"github.com/c360studio/cellmesh/envelope"
	"github.com/c360studio/cellmesh/store"
)

// DurableConsumer is the durable name on the events stream.
const DurableConsumer = "event-writer"

var eventsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cellmesh_events_persisted_total",
	Help: "Cell events written to the event store.",
}, []string{"type"})

// Consumer writes every cell event to the event store.
type Consumer struct {
	bus    bus.Bus
	events store.EventStore
	logger *slog.Logger
	sub    bus.Subscription
}

// NewConsumer builds an event consumer.
func NewConsumer(b bus.Bus, events store.EventStore, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{bus: b, events: events, logger: logger.With("component", "events")}
}

// Start subscribes the durable consumer on cell.events.>.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.bus.SubscribeDurable(ctx,
		envelope.StreamEvents, DurableConsumer, envelope.EventsWildcard, c.handle)
	if err != nil {
		return fmt.Errorf("subscribe events stream: %w", err)
	}
	c.sub = sub
	c.logger.Info("event consumer started")
	return nil
}

// Stop tears down the subscription.
func (c *Consumer) Stop() {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}
}

// handle persists one event. Malformed payloads are acked and dropped; store
// failures leave the message unacked for redelivery.
func (c *Consumer) handle(ctx context.Context, subject string, data []byte) error {
	ev, err := envelope.UnmarshalEvent(data)
	if err != nil {
		c.logger.Warn("dropping malformed event", "subject", subject, "error", err)
		return nil
	}

	rec := &store.CellEvent{
		CellName:  ev.CellName,
		Namespace: ev.Namespace,
		EventType: ev.Type,
		Payload:   ev.Payload,
		CreatedAt: ev.Timestamp,
	}
	if err := c.events.AppendEvent(ctx, rec); err != nil {
		c.logger.Error("persist event", "type", ev.Type, "cell", ev.CellName, "error", err)
		return err
	}
	eventsPersisted.WithLabelValues(ev.Type).Inc()
	return nil
}
