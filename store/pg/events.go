package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/c360studio/cellmesh/store"
)

// EventStore persists cell events in Postgres.
type EventStore struct {
	db *sql.DB
}

// NewEventStore wraps a database handle.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// AppendEvent persists one event and backfills its id.
func (s *EventStore) AppendEvent(ctx context.Context, ev *store.CellEvent) error {
	var payload any
	if len(ev.Payload) > 0 {
		payload = []byte(ev.Payload)
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO cell_events (cell_name, namespace, event_type, payload)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		ev.CellName, ev.Namespace, ev.EventType, payload,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append cell event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events, newest first. Empty cellName matches
// the whole namespace.
func (s *EventStore) ListEvents(ctx context.Context, namespace, cellName string, limit int) ([]store.CellEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cell_name, namespace, event_type, payload, created_at
		 FROM cell_events
		 WHERE ($1 = '' OR namespace = $1) AND ($2 = '' OR cell_name = $2)
		 ORDER BY id DESC LIMIT $3`,
		namespace, cellName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list cell events: %w", err)
	}
	defer rows.Close()

	var out []store.CellEvent
	for rows.Next() {
		var ev store.CellEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.CellName, &ev.Namespace, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cell event: %w", err)
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}

var _ store.EventStore = (*EventStore)(nil)
