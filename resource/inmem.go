package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemStore is a process-local Store used by embedded mode and tests.
type InMemStore struct {
	mu       sync.RWMutex
	objects  map[Kind]map[string]*Object
	watchers map[Kind][]*inmemWatcher
}

type inmemWatcher struct {
	ch   chan WatchEvent
	done <-chan struct{}
}

// NewInMemStore creates an empty in-memory store.
func NewInMemStore() *InMemStore {
	objects := make(map[Kind]map[string]*Object, len(Kinds()))
	for _, k := range Kinds() {
		objects[k] = make(map[string]*Object)
	}
	return &InMemStore{
		objects:  objects,
		watchers: make(map[Kind][]*inmemWatcher),
	}
}

func (s *InMemStore) notify(kind Kind, ev WatchEvent) {
	alive := s.watchers[kind][:0]
	for _, w := range s.watchers[kind] {
		select {
		case <-w.done:
			close(w.ch)
			continue
		default:
		}
		select {
		case w.ch <- ev:
			alive = append(alive, w)
		case <-w.done:
			close(w.ch)
		}
	}
	s.watchers[kind] = alive
}

// Get returns a copy of the stored object.
func (s *InMemStore) Get(_ context.Context, kind Kind, namespace, name string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[kind][ObjectKey(namespace, name)]
	if !ok {
		return nil, fmt.Errorf("%s %s/%s: %w", kind, namespace, name, ErrNotFound)
	}
	return Clone(obj), nil
}

// Create stores a new object, assigning a UID and creation timestamp.
func (s *InMemStore) Create(_ context.Context, obj *Object) (*Object, error) {
	if err := ValidateForCreate(obj); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := obj.Key()
	if _, exists := s.objects[obj.Kind][key]; exists {
		return nil, fmt.Errorf("%s %s: %w", obj.Kind, key, ErrAlreadyExists)
	}
	stored := Clone(obj)
	stored.Meta.UID = uuid.New().String()
	stored.Meta.CreationTimestamp = time.Now().UTC()
	s.objects[obj.Kind][key] = stored
	s.notify(obj.Kind, WatchEvent{Type: WatchAdded, Object: Clone(stored)})
	return Clone(stored), nil
}

// Update replaces spec and metadata labels, preserving UID, creation time,
// and status.
func (s *InMemStore) Update(_ context.Context, obj *Object) (*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := obj.Key()
	cur, ok := s.objects[obj.Kind][key]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", obj.Kind, key, ErrNotFound)
	}
	stored := Clone(obj)
	stored.Meta.UID = cur.Meta.UID
	stored.Meta.CreationTimestamp = cur.Meta.CreationTimestamp
	stored.Status = cur.Status
	s.objects[obj.Kind][key] = stored
	s.notify(obj.Kind, WatchEvent{Type: WatchModified, Object: Clone(stored)})
	return Clone(stored), nil
}

// Delete removes the object and cascades to everything it owns.
func (s *InMemStore) Delete(ctx context.Context, kind Kind, namespace, name string) error {
	s.mu.Lock()
	key := ObjectKey(namespace, name)
	obj, ok := s.objects[kind][key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
	}
	delete(s.objects[kind], key)
	uid := obj.Meta.UID
	s.notify(kind, WatchEvent{Type: WatchDeleted, Object: Clone(obj)})

	// Collect owned children while holding the lock, cascade after.
	type ref struct {
		kind            Kind
		namespace, name string
	}
	var owned []ref
	for k, byKey := range s.objects {
		for _, child := range byKey {
			if child.OwnedBy(uid) {
				owned = append(owned, ref{k, child.Meta.Namespace, child.Meta.Name})
			}
		}
	}
	s.mu.Unlock()

	for _, r := range owned {
		// Children may already be gone via a sibling cascade.
		_ = s.Delete(ctx, r.kind, r.namespace, r.name)
	}
	return nil
}

// List returns copies of matching objects.
func (s *InMemStore) List(_ context.Context, kind Kind, namespace string, selector map[string]string) ([]*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Object
	for _, obj := range s.objects[kind] {
		if namespace != "" && obj.Meta.Namespace != namespace {
			continue
		}
		if !MatchesSelector(obj, selector) {
			continue
		}
		out = append(out, Clone(obj))
	}
	return out, nil
}

// SetStatus replaces only the status subresource.
func (s *InMemStore) SetStatus(_ context.Context, kind Kind, namespace, name string, status any) (*Object, error) {
	raw, err := EncodeStatus(status)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ObjectKey(namespace, name)
	cur, ok := s.objects[kind][key]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
	}
	cur.Status = raw
	s.notify(kind, WatchEvent{Type: WatchModified, Object: Clone(cur)})
	return Clone(cur), nil
}

// Watch streams change events, starting with the current contents.
func (s *InMemStore) Watch(ctx context.Context, kind Kind) (<-chan WatchEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan WatchEvent, 256)
	for _, obj := range s.objects[kind] {
		ch <- WatchEvent{Type: WatchAdded, Object: Clone(obj)}
	}
	s.watchers[kind] = append(s.watchers[kind], &inmemWatcher{ch: ch, done: ctx.Done()})
	return ch, nil
}

var _ Store = (*InMemStore)(nil)
