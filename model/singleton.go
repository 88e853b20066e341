package model

import "sync"

var (
	globalRegistry *Registry
	globalOnce     sync.Once
)

// Global returns the process-wide registry, creating a default one on first
// use.
func Global() *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewDefaultRegistry()
	})
	return globalRegistry
}

// InitGlobal installs a custom registry. Only the first call (including the
// first Global call) has any effect.
func InitGlobal(r *Registry) {
	globalOnce.Do(func() {
		globalRegistry = r
	})
}

// ResetGlobal resets the global registry. Not thread-safe; tests only.
func ResetGlobal() {
	globalOnce = sync.Once{}
	globalRegistry = nil
}
