package resource_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/cellmesh/bus"
	"github.com/c360studio/cellmesh/resource"
)

func startKVStore(t *testing.T) *resource.KVStore {
	t.Helper()
	srv, err := bus.StartEmbedded(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	conn, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	js, err := jetstream.New(conn)
	require.NoError(t, err)

	store, err := resource.NewKVStore(context.Background(), js, nil)
	require.NoError(t, err)
	return store
}

func TestKVStoreRoundTrip(t *testing.T) {
	store := startKVStore(t)
	ctx := context.Background()

	obj, err := resource.New(resource.KindMission, "prod", "ship-it", resource.MissionSpec{
		Entrypoint: resource.EntrypointSpec{Cell: "lead", Message: "ship the feature"},
		Completion: resource.CompletionSpec{MaxAttempts: 2},
	})
	require.NoError(t, err)

	created, err := store.Create(ctx, obj)
	require.NoError(t, err)
	assert.NotEmpty(t, created.Meta.UID)

	_, err = store.Create(ctx, obj)
	assert.ErrorIs(t, err, resource.ErrAlreadyExists)

	_, err = store.SetStatus(ctx, resource.KindMission, "prod", "ship-it",
		resource.MissionStatus{Phase: resource.MissionRunning, Attempt: 1})
	require.NoError(t, err)

	got, err := store.Get(ctx, resource.KindMission, "prod", "ship-it")
	require.NoError(t, err)
	var st resource.MissionStatus
	require.NoError(t, got.DecodeStatus(&st))
	assert.Equal(t, resource.MissionRunning, st.Phase)

	listed, err := store.List(ctx, resource.KindMission, "prod", nil)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.NoError(t, store.Delete(ctx, resource.KindMission, "prod", "ship-it"))
	_, err = store.Get(ctx, resource.KindMission, "prod", "ship-it")
	assert.ErrorIs(t, err, resource.ErrNotFound)
}

func TestKVStoreWatch(t *testing.T) {
	store := startKVStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := store.Watch(ctx, resource.KindCell)
	require.NoError(t, err)

	obj, err := resource.New(resource.KindCell, "prod", "watched", resource.CellSpec{})
	require.NoError(t, err)
	_, err = store.Create(ctx, obj)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, resource.WatchAdded, ev.Type)
		assert.Equal(t, "watched", ev.Object.Meta.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not deliver create event")
	}
}
