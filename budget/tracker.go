// Package budget tracks per-cell spend against lifetime and rolling hourly
// limits. The tracker is the cell-local guard; authoritative accounting lives
// in the store.Ledger.
package budget

import (
	"sync"
	"time"
)

// window is the rolling period for the hourly limit.
const window = time.Hour

type entry struct {
	at   time.Time
	cost float64
}

// Tracker accumulates costs and answers whether either limit is exceeded.
// A zero limit means unlimited. Safe for concurrent use.
type Tracker struct {
	mu           sync.Mutex
	maxTotal     float64
	maxPerHour   float64
	total        float64
	recent       []entry
	now          func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker with the given limits. Zero disables a limit.
func NewTracker(maxTotalCost, maxCostPerHour float64, opts ...Option) *Tracker {
	t := &Tracker{
		maxTotal:   maxTotalCost,
		maxPerHour: maxCostPerHour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddCost records a spend.
func (t *Tracker) AddCost(cost float64) {
	if cost <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += cost
	t.recent = append(t.recent, entry{at: t.now(), cost: cost})
	t.prune()
}

// IsExceeded reports whether either limit has been reached.
func (t *Tracker) IsExceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()
	if t.maxTotal > 0 && t.total >= t.maxTotal {
		return true
	}
	if t.maxPerHour > 0 && t.hourly() >= t.maxPerHour {
		return true
	}
	return false
}

// Total returns the lifetime spend.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Hourly returns the spend inside the rolling window.
func (t *Tracker) Hourly() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()
	return t.hourly()
}

func (t *Tracker) hourly() float64 {
	var sum float64
	for _, e := range t.recent {
		sum += e.cost
	}
	return sum
}

func (t *Tracker) prune() {
	cutoff := t.now().Add(-window)
	i := 0
	for i < len(t.recent) && !t.recent[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		t.recent = append(t.recent[:0], t.recent[i:]...)
	}
}
