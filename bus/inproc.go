package bus

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InProc is a process-local Bus with NATS subject-matching semantics.
// Durable consumers get serial delivery and error-driven redelivery, which is
// enough to exercise runtime and controller logic without a server.
type InProc struct {
	mu      sync.Mutex
	subs    []*inprocSub
	store   map[string][][]byte // retained messages per subject, in order
	closed  bool
	redeliverAfter time.Duration
}

// NewInProc creates an in-process bus. Retained messages accumulate per
// subject for QueueDepth and Fetch.
func NewInProc() *InProc {
	return &InProc{
		store:          make(map[string][][]byte),
		redeliverAfter: 50 * time.Millisecond,
	}
}

type inprocSub struct {
	bus     *InProc
	subject string
	handler Handler
	durable DurableHandler
	ctx     context.Context

	// serializes durable deliveries per consumer
	queue chan delivery
	done  chan struct{}
}

type delivery struct {
	subject string
	data    []byte
}

func (s *inprocSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			close(s.done)
			break
		}
	}
	return nil
}

// SubjectMatches reports whether a subscription pattern matches a concrete
// subject, honoring the "*" and ">" wildcards.
func SubjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return true
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// Publish delivers to all matching subscribers and retains the message.
func (b *InProc) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.Lock()
	b.store[subject] = append(b.store[subject], data)
	var targets []*inprocSub
	for _, sub := range b.subs {
		if SubjectMatches(sub.subject, subject) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if sub.handler != nil {
			sub.handler(subject, data)
			continue
		}
		select {
		case sub.queue <- delivery{subject: subject, data: data}:
		case <-sub.done:
		}
	}
	return nil
}

// Subscribe registers a best-effort handler invoked synchronously on publish.
func (b *InProc) Subscribe(subject string, h Handler) (Subscription, error) {
	sub := &inprocSub{bus: b, subject: subject, handler: h, done: make(chan struct{})}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

// SubscribeDurable registers a serial consumer. Failed deliveries are retried
// after a short interval, mimicking ack-wait redelivery.
func (b *InProc) SubscribeDurable(ctx context.Context, _, _, subject string, h DurableHandler) (Subscription, error) {
	sub := &inprocSub{
		bus:     b,
		subject: subject,
		durable: h,
		ctx:     ctx,
		queue:   make(chan delivery, 1024),
		done:    make(chan struct{}),
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			case d := <-sub.queue:
				for {
					if err := h(ctx, d.subject, d.data); err == nil {
						break
					}
					select {
					case <-sub.done:
						return
					case <-ctx.Done():
						return
					case <-time.After(b.redeliverAfter):
					}
				}
			}
		}
	}()
	return sub, nil
}

// QueueDepth reports retained messages matching the subject.
func (b *InProc) QueueDepth(_ context.Context, _, subject string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var depth uint64
	for subj, msgs := range b.store {
		if SubjectMatches(subject, subj) || subj == subject {
			depth += uint64(len(msgs))
		}
	}
	return depth, nil
}

// Fetch returns up to max retained messages on the subject.
func (b *InProc) Fetch(_ context.Context, _, subject string, max int, _ time.Duration) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for subj, msgs := range b.store {
		if subj != subject && !SubjectMatches(subject, subj) {
			continue
		}
		for _, m := range msgs {
			if len(out) >= max {
				return out, nil
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// Retained returns a copy of messages retained on an exact subject.
func (b *InProc) Retained(subject string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.store[subject]
	out := make([][]byte, len(msgs))
	copy(out, msgs)
	return out
}

// Drain marks the bus closed.
func (b *InProc) Drain() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
