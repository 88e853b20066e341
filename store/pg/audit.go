package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/c360studio/cellmesh/store"
)

// AuditStore persists the audit log in Postgres.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore wraps a database handle.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// AppendAudit persists one audit entry and backfills its id.
func (s *AuditStore) AppendAudit(ctx context.Context, entry *store.AuditEntry) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO audit_log (actor, action, subject, detail)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		entry.Actor, entry.Action, entry.Subject, entry.Detail,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the newest entries, newest first.
func (s *AuditStore) ListAudit(ctx context.Context, limit int) ([]store.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, action, subject, detail, created_at
		 FROM audit_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	var out []store.AuditEntry
	for rows.Next() {
		var e store.AuditEntry
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Subject, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ store.AuditStore = (*AuditStore)(nil)
