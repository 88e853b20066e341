package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/c360studio/cellmesh/store"
)

// EventStore is the in-memory cell event log.
type EventStore struct {
	mu     sync.Mutex
	events []store.CellEvent
	nextID int64
}

// NewEventStore creates an empty event log.
func NewEventStore() *EventStore {
	return &EventStore{nextID: 1}
}

// AppendEvent persists one event.
func (s *EventStore) AppendEvent(_ context.Context, ev *store.CellEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *ev
	stored.ID = s.nextID
	s.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, stored)
	ev.ID = stored.ID
	return nil
}

// ListEvents returns the newest events for a cell, newest first. Empty
// cellName matches the whole namespace.
func (s *EventStore) ListEvents(_ context.Context, namespace, cellName string, limit int) ([]store.CellEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.CellEvent
	for i := len(s.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		ev := s.events[i]
		if namespace != "" && ev.Namespace != namespace {
			continue
		}
		if cellName != "" && ev.CellName != cellName {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

var _ store.EventStore = (*EventStore)(nil)
