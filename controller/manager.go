// Package controller runs the reconcilers that drive declared resources
// toward their desired state. The manager watches one kind per reconciler
// and feeds change events through per-resource serial queues, so two
// reconciles of the same resource never overlap while distinct resources
// proceed in parallel.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/c360studio/cellmesh/resource"
)

// Retry policy for failed reconciles.
const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 5 * time.Second
)

// DefaultResync is the periodic re-list interval that drives time-based
// transitions (mission timeouts, swarm triggers) between watch events.
const DefaultResync = 10 * time.Second

var reconciles = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cellmesh_reconciles_total",
	Help: "Reconcile outcomes per kind.",
}, []string{"kind", "outcome"})

// Reconciler drives one resource kind.
type Reconciler interface {
	// Kind names the watched resource kind.
	Kind() resource.Kind

	// Reconcile handles one change event. An error triggers retry with
	// backoff up to the manager's attempt limit.
	Reconcile(ctx context.Context, ev resource.WatchEvent) error
}

// FailureHandler is implemented by reconcilers that want to mark a resource
// after the last retry fails, typically by writing a failed status.
type FailureHandler interface {
	ReconcileFailed(ctx context.Context, ev resource.WatchEvent, err error)
}

// Manager owns the watch loops and reconcile queues.
type Manager struct {
	store       resource.Store
	logger      *slog.Logger
	maxAttempts int
	baseBackoff time.Duration
	resync      time.Duration

	reconcilers []Reconciler

	mu      sync.Mutex
	queues  map[string]*keyQueue
	started bool
	wg      sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxAttempts overrides the reconcile attempt limit.
func WithMaxAttempts(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithBaseBackoff overrides the first retry delay. Tests shrink it.
func WithBaseBackoff(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.baseBackoff = d
		}
	}
}

// WithResync overrides the periodic re-list interval. Zero disables resync.
func WithResync(d time.Duration) ManagerOption {
	return func(m *Manager) { m.resync = d }
}

// NewManager builds a manager over the resource store.
func NewManager(store resource.Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:       store,
		logger:      logger.With("component", "controller"),
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: DefaultBaseBackoff,
		resync:      DefaultResync,
		queues:      make(map[string]*keyQueue),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a reconciler. Must be called before Start.
func (m *Manager) Register(r Reconciler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		panic("controller: Register after Start")
	}
	m.reconcilers = append(m.reconcilers, r)
}

// Start opens a watch per registered reconciler and dispatches events until
// ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.started = true
	reconcilers := m.reconcilers
	m.mu.Unlock()

	for _, r := range reconcilers {
		events, err := m.store.Watch(ctx, r.Kind())
		if err != nil {
			return fmt.Errorf("watch %s: %w", r.Kind(), err)
		}
		m.wg.Add(1)
		go m.dispatch(ctx, r, events)
		if m.resync > 0 {
			m.wg.Add(1)
			go m.resyncLoop(ctx, r)
		}
	}
	m.logger.Info("controller manager started", "reconcilers", len(reconcilers))
	return nil
}

// resyncLoop periodically re-enqueues every resource of the kind so
// time-driven guards fire without a spec change.
func (m *Manager) resyncLoop(ctx context.Context, r Reconciler) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.resync)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		objs, err := m.store.List(ctx, r.Kind(), "", nil)
		if err != nil {
			m.logger.Warn("resync list failed", "kind", r.Kind(), "error", err)
			continue
		}
		for _, obj := range objs {
			key := string(r.Kind()) + "/" + obj.Key()
			m.queueFor(ctx, key, r).enqueue(resource.WatchEvent{
				Type:   resource.WatchModified,
				Object: obj,
			})
		}
	}
}

// Wait blocks until all dispatch loops have exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) dispatch(ctx context.Context, r Reconciler, events <-chan resource.WatchEvent) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Object == nil {
				continue
			}
			key := string(r.Kind()) + "/" + ev.Object.Key()
			m.queueFor(ctx, key, r).enqueue(ev)
		}
	}
}

func (m *Manager) queueFor(ctx context.Context, key string, r Reconciler) *keyQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[key]
	if !ok {
		q = newKeyQueue()
		m.queues[key] = q
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			q.run(ctx, m, r)
		}()
	}
	return q
}

// process runs one event with retry and backoff.
func (m *Manager) process(ctx context.Context, r Reconciler, ev resource.WatchEvent) {
	kind := string(r.Kind())
	var err error
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		if err = r.Reconcile(ctx, ev); err == nil {
			reconciles.WithLabelValues(kind, "ok").Inc()
			return
		}
		reconciles.WithLabelValues(kind, "retry").Inc()
		m.logger.Warn("reconcile failed",
			"kind", kind, "key", ev.Object.Key(), "attempt", attempt+1, "error", err)
		if attempt+1 >= m.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.baseBackoff * (1 << attempt)):
		}
	}

	reconciles.WithLabelValues(kind, "failed").Inc()
	m.logger.Error("reconcile giving up", "kind", kind, "key", ev.Object.Key(), "error", err)
	if fh, ok := r.(FailureHandler); ok {
		fh.ReconcileFailed(ctx, ev, err)
	}
}

// keyQueue serializes events for one resource key.
type keyQueue struct {
	mu      sync.Mutex
	pending []resource.WatchEvent
	notify  chan struct{}
}

func newKeyQueue() *keyQueue {
	return &keyQueue{notify: make(chan struct{}, 1)}
}

func (q *keyQueue) enqueue(ev resource.WatchEvent) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *keyQueue) run(ctx context.Context, m *Manager, r Reconciler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		}
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			ev := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			m.process(ctx, r, ev)
		}
	}
}
