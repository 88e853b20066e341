package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/c360studio/cellmesh/store"
)

// AuditStore is the in-memory audit log.
type AuditStore struct {
	mu      sync.Mutex
	entries []store.AuditEntry
	nextID  int64
}

// NewAuditStore creates an empty audit log.
func NewAuditStore() *AuditStore {
	return &AuditStore{nextID: 1}
}

// AppendAudit persists one audit entry.
func (s *AuditStore) AppendAudit(_ context.Context, entry *store.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *entry
	stored.ID = s.nextID
	s.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, stored)
	entry.ID = stored.ID
	return nil
}

// ListAudit returns the newest entries, newest first.
func (s *AuditStore) ListAudit(_ context.Context, limit int) ([]store.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.AuditEntry
	for i := len(s.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

var _ store.AuditStore = (*AuditStore)(nil)
