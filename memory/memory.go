// Package memory is the working memory of a cell: a bounded conversation
// window with pinning, tool-result compression, and summarization of the
// oldest messages once the conversation grows past a threshold.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/c360studio/cellmesh/mind"
)

const (
	// DefaultMaxMessages is the sliding window size.
	DefaultMaxMessages = 50

	// maxToolResultLen bounds stored tool output.
	maxToolResultLen = 2000

	truncationMarker = "\n[truncated]"

	summaryPrefix = "[Summary of earlier conversation] "
)

// Memory is the bounded message list for one cell. Not safe for concurrent
// use from multiple messages; the runtime's serial drainer is the only
// writer.
type Memory struct {
	mu             sync.Mutex
	messages       []mind.Message
	pinned         map[int]bool
	maxMessages    int
	summarizeAfter int
	summarized     bool
}

// Option configures a Memory.
type Option func(*Memory)

// WithMaxMessages overrides the sliding window size.
func WithMaxMessages(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.maxMessages = n
		}
	}
}

// WithSummarizeAfter sets the summarization threshold. Zero disables
// summarization.
func WithSummarizeAfter(n int) Option {
	return func(m *Memory) { m.summarizeAfter = n }
}

// New creates an empty working memory.
func New(opts ...Option) *Memory {
	m := &Memory{
		pinned:      make(map[int]bool),
		maxMessages: DefaultMaxMessages,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append adds a message, compressing tool results and evicting the oldest
// non-pinned messages beyond the window.
func (m *Memory) Append(msg mind.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Role == mind.RoleTool {
		msg.Content = compress(msg.Content)
	}
	m.messages = append(m.messages, msg)
	m.evict()
}

// Pin marks the message at index as never evicted.
func (m *Memory) Pin(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index >= 0 && index < len(m.messages) {
		m.pinned[index] = true
	}
}

// Messages returns a copy of the current window.
func (m *Memory) Messages() []mind.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mind.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of stored messages.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Summarized reports whether a summarization pass has run.
func (m *Memory) Summarized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summarized
}

// NeedsSummary reports whether the summarization threshold is met.
func (m *Memory) NeedsSummary() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summarizeAfter > 0 && len(m.messages) >= m.summarizeAfter
}

// Summarize asks the mind to condense the oldest non-pinned prefix and
// replaces it with a single system message carrying the summary.
func (m *Memory) Summarize(ctx context.Context, brain mind.Mind, capability string) error {
	m.mu.Lock()
	prefixEnd := 0
	for prefixEnd < len(m.messages) && !m.pinned[prefixEnd] {
		prefixEnd++
	}
	// Keep at least the newest message out of the summary.
	if prefixEnd >= len(m.messages) {
		prefixEnd = len(m.messages) - 1
	}
	if prefixEnd < 2 {
		m.mu.Unlock()
		return nil
	}
	prefix := make([]mind.Message, prefixEnd)
	copy(prefix, m.messages[:prefixEnd])
	m.mu.Unlock()

	var sb strings.Builder
	for _, msg := range prefix {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}

	resp, err := brain.Think(ctx, mind.Request{
		Capability: capability,
		Messages: []mind.Message{
			{Role: mind.RoleSystem, Content: "Summarize the following conversation concisely, preserving decisions, open tasks, and tool results."},
			{Role: mind.RoleUser, Content: sb.String()},
		},
	})
	if err != nil {
		return fmt.Errorf("summarize conversation: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prefixEnd > len(m.messages) {
		prefixEnd = len(m.messages)
	}
	summary := mind.Message{Role: mind.RoleSystem, Content: summaryPrefix + resp.Content}
	rest := m.messages[prefixEnd:]
	m.messages = append([]mind.Message{summary}, rest...)
	m.reindexPins(prefixEnd - 1)
	m.summarized = true
	return nil
}

// evict drops the oldest non-pinned messages until the window fits.
// Caller holds the lock.
func (m *Memory) evict() {
	for len(m.messages) > m.maxMessages {
		victim := -1
		for i := range m.messages {
			if !m.pinned[i] {
				victim = i
				break
			}
		}
		if victim < 0 {
			return
		}
		m.messages = append(m.messages[:victim], m.messages[victim+1:]...)
		m.shiftPins(victim)
	}
}

// shiftPins fixes pin indices after removing one message at removed.
// Caller holds the lock.
func (m *Memory) shiftPins(removed int) {
	next := make(map[int]bool, len(m.pinned))
	for idx := range m.pinned {
		switch {
		case idx < removed:
			next[idx] = true
		case idx > removed:
			next[idx-1] = true
		}
	}
	m.pinned = next
}

// reindexPins fixes pin indices after replacing the first shift+1 messages
// with a single summary message. Caller holds the lock.
func (m *Memory) reindexPins(shift int) {
	next := make(map[int]bool, len(m.pinned))
	for idx := range m.pinned {
		if idx > shift {
			next[idx-shift] = true
		}
	}
	m.pinned = next
}

func compress(s string) string {
	if len(s) <= maxToolResultLen {
		return s
	}
	return s[:maxToolResultLen] + truncationMarker
}
