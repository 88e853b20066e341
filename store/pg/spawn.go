package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/c360studio/cellmesh/store"
)

// SpawnRequestStore persists spawn requests in Postgres.
type SpawnRequestStore struct {
	db *sql.DB
}

// NewSpawnRequestStore wraps a database handle.
func NewSpawnRequestStore(db *sql.DB) *SpawnRequestStore {
	return &SpawnRequestStore{db: db}
}

// CreateSpawnRequest persists a new pending request.
func (s *SpawnRequestStore) CreateSpawnRequest(ctx context.Context, req *store.SpawnRequest) error {
	status := req.Status
	if status == "" {
		status = store.SpawnPending
	}
	var spec any
	if len(req.Spec) > 0 {
		spec = []byte(req.Spec)
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO spawn_requests (id, parent_id, namespace, spec, status, reason)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		req.ID, req.ParentID, req.Namespace, spec, status, req.Reason,
	).Scan(&req.CreatedAt)
	if err != nil {
		return fmt.Errorf("create spawn request %s: %w", req.ID, err)
	}
	req.Status = status
	return nil
}

func scanSpawnRequest(row interface{ Scan(...any) error }) (*store.SpawnRequest, error) {
	var req store.SpawnRequest
	var spec []byte
	var reason sql.NullString
	var decidedAt sql.NullTime
	err := row.Scan(&req.ID, &req.ParentID, &req.Namespace, &spec, &req.Status, &reason, &req.CreatedAt, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan spawn request: %w", err)
	}
	req.Spec = spec
	req.Reason = reason.String
	if decidedAt.Valid {
		req.DecidedAt = &decidedAt.Time
	}
	return &req, nil
}

// GetSpawnRequest returns the request, or nil when absent.
func (s *SpawnRequestStore) GetSpawnRequest(ctx context.Context, id string) (*store.SpawnRequest, error) {
	return scanSpawnRequest(s.db.QueryRowContext(ctx,
		`SELECT id, parent_id, namespace, spec, status, reason, created_at, decided_at
		 FROM spawn_requests WHERE id = $1`, id))
}

// ListSpawnRequests returns requests with the given status (all when empty),
// newest first.
func (s *SpawnRequestStore) ListSpawnRequests(ctx context.Context, status store.SpawnDecision, limit int) ([]store.SpawnRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_id, namespace, spec, status, reason, created_at, decided_at
		 FROM spawn_requests
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list spawn requests: %w", err)
	}
	defer rows.Close()

	var out []store.SpawnRequest
	for rows.Next() {
		req, err := scanSpawnRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// DecideSpawnRequest resolves a pending request.
func (s *SpawnRequestStore) DecideSpawnRequest(ctx context.Context, id string, status store.SpawnDecision, reason string) error {
	if status != store.SpawnApproved && status != store.SpawnRejected {
		return fmt.Errorf("invalid spawn decision %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE spawn_requests SET status = $2, reason = $3, decided_at = now()
		 WHERE id = $1 AND status = 'Pending'`,
		id, status, reason,
	)
	if err != nil {
		return fmt.Errorf("decide spawn request %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("spawn request %s not found or already decided", id)
	}
	return nil
}

var _ store.SpawnRequestStore = (*SpawnRequestStore)(nil)
