// Package inmem provides in-memory implementations of the operational store
// interfaces for embedded mode and tests. Semantics match store/pg; the
// store package interfaces are the contract.
package inmem

import (
	"github.com/c360studio/cellmesh/store"
)

// New returns a fully wired in-memory store aggregate.
func New() *store.Stores {
	ledger := NewLedger()
	return &store.Stores{
		Events: NewEventStore(),
		Ledger: ledger,
		Tree:   NewTreeStore(),
		Spawns: NewSpawnRequestStore(),
		Audit:  NewAuditStore(),
	}
}
