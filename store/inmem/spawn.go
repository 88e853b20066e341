package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/cellmesh/store"
)

// SpawnRequestStore is the in-memory spawn request queue.
type SpawnRequestStore struct {
	mu       sync.Mutex
	requests map[string]*store.SpawnRequest
}

// NewSpawnRequestStore creates an empty request store.
func NewSpawnRequestStore() *SpawnRequestStore {
	return &SpawnRequestStore{requests: make(map[string]*store.SpawnRequest)}
}

// CreateSpawnRequest persists a new pending request.
func (s *SpawnRequestStore) CreateSpawnRequest(_ context.Context, req *store.SpawnRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("spawn request %s already exists", req.ID)
	}
	stored := *req
	if stored.Status == "" {
		stored.Status = store.SpawnPending
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.requests[req.ID] = &stored
	return nil
}

// GetSpawnRequest returns the request, or nil when absent.
func (s *SpawnRequestStore) GetSpawnRequest(_ context.Context, id string) (*store.SpawnRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	cp := *req
	return &cp, nil
}

// ListSpawnRequests returns requests with the given status (all when empty),
// newest first.
func (s *SpawnRequestStore) ListSpawnRequests(_ context.Context, status store.SpawnDecision, limit int) ([]store.SpawnRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.SpawnRequest
	for _, req := range s.requests {
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DecideSpawnRequest resolves a pending request.
func (s *SpawnRequestStore) DecideSpawnRequest(_ context.Context, id string, status store.SpawnDecision, reason string) error {
	if status != store.SpawnApproved && status != store.SpawnRejected {
		return fmt.Errorf("invalid spawn decision %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("spawn request %s not found", id)
	}
	if req.Status != store.SpawnPending {
		return fmt.Errorf("spawn request %s already decided: %s", id, req.Status)
	}
	now := time.Now().UTC()
	req.Status = status
	req.Reason = reason
	req.DecidedAt = &now
	return nil
}

var _ store.SpawnRequestStore = (*SpawnRequestStore)(nil)
