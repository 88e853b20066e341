package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/cellmesh/bus"
	"github.com/c360studio/cellmesh/envelope"
	"github.com/c360studio/cellmesh/store/inmem"
)

func publishEvent(t *testing.T, b *bus.InProc, typ, cell, namespace string, payload any) {
	t.Helper()
	ev, err := envelope.NewEvent(typ, cell, namespace, payload)
	require.NoError(t, err)
	data, err := ev.Marshal()
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), envelope.EventsSubject(namespace, cell), data))
}

func TestConsumerPersistsEvents(t *testing.T) {
	b := bus.NewInProc()
	stores := inmem.New()
	c := NewConsumer(b, stores.Events, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	publishEvent(t, b, envelope.EventStarted, "cell-a", "default", nil)
	publishEvent(t, b, envelope.EventResponse, "cell-a", "default", map[string]any{"cost": 0.01})
	publishEvent(t, b, envelope.EventStarted, "cell-b", "other", nil)

	require.Eventually(t, func() bool {
		evs, err := stores.Events.ListEvents(context.Background(), "default", "cell-a", 10)
		return err == nil && len(evs) == 2
	}, time.Second, 5*time.Millisecond)

	evs, err := stores.Events.ListEvents(context.Background(), "default", "cell-a", 10)
	require.NoError(t, err)
	types := []string{evs[0].EventType, evs[1].EventType}
	assert.Contains(t, types, envelope.EventStarted)
	assert.Contains(t, types, envelope.EventResponse)

	evs, err = stores.Events.ListEvents(context.Background(), "other", "cell-b", 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "cell-b", evs[0].CellName)
}

func TestConsumerDropsMalformed(t *testing.T) {
	b := bus.NewInProc()
	stores := inmem.New()
	c := NewConsumer(b, stores.Events, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.NoError(t, b.Publish(context.Background(),
		envelope.EventsSubject("default", "cell-a"), []byte("not json")))
	publishEvent(t, b, envelope.EventStopped, "cell-a", "default", nil)

	require.Eventually(t, func() bool {
		evs, err := stores.Events.ListEvents(context.Background(), "default", "cell-a", 10)
		return err == nil && len(evs) == 1
	}, time.Second, 5*time.Millisecond)
}
