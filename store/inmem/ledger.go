package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360studio/cellmesh/store"
)

// Ledger is the in-memory budget ledger. A single mutex provides the
// isolation the pg implementation gets from row locks.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]*store.Balance
	journal  []store.JournalEntry
	nextID   int64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]*store.Balance), nextID: 1}
}

func (l *Ledger) appendEntry(e store.JournalEntry) {
	e.ID = l.nextID
	l.nextID++
	e.CreatedAt = time.Now().UTC()
	l.journal = append(l.journal, e)
}

// InitRoot upserts a root budget.
func (l *Ledger) InitRoot(_ context.Context, cellID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("init %s: %w", cellID, store.ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[cellID] = &store.Balance{CellID: cellID, Allocated: amount}
	l.appendEntry(store.JournalEntry{
		CellID:       cellID,
		Operation:    store.OpInit,
		Amount:       amount,
		BalanceAfter: amount,
	})
	return nil
}

func (l *Ledger) transfer(parentID, childID string, amount float64, op store.JournalOp) error {
	if amount <= 0 {
		return fmt.Errorf("%s %s->%s: %w", op, parentID, childID, store.ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	parent, ok := l.balances[parentID]
	if !ok {
		return fmt.Errorf("parent %s: %w", parentID, store.ErrNoBudgetRecord)
	}
	if parent.Available() < amount {
		return fmt.Errorf("parent %s has %.4f available, need %.4f: %w",
			parentID, parent.Available(), amount, store.ErrInsufficientBudget)
	}
	parent.Delegated += amount
	child, ok := l.balances[childID]
	if !ok {
		child = &store.Balance{CellID: childID}
		l.balances[childID] = child
	}
	child.Allocated += amount

	l.appendEntry(store.JournalEntry{
		CellID:       parentID,
		Operation:    op,
		Amount:       amount,
		FromCellID:   parentID,
		ToCellID:     childID,
		BalanceAfter: parent.Available(),
	})
	l.appendEntry(store.JournalEntry{
		CellID:       childID,
		Operation:    op,
		Amount:       amount,
		FromCellID:   parentID,
		ToCellID:     childID,
		BalanceAfter: child.Available(),
	})
	return nil
}

// Allocate delegates amount from parent to child.
func (l *Ledger) Allocate(_ context.Context, parentID, childID string, amount float64) error {
	return l.transfer(parentID, childID, amount, store.OpAllocate)
}

// TopUp increases an existing child allocation.
func (l *Ledger) TopUp(_ context.Context, parentID, childID string, amount float64) error {
	return l.transfer(parentID, childID, amount, store.OpTopUp)
}

// Spend debits the cell's available balance.
func (l *Ledger) Spend(_ context.Context, cellID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("spend %s: %w", cellID, store.ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[cellID]
	if !ok {
		return fmt.Errorf("cell %s: %w", cellID, store.ErrNoBudgetRecord)
	}
	if bal.Available() < amount {
		return fmt.Errorf("cell %s has %.4f available, need %.4f: %w",
			cellID, bal.Available(), amount, store.ErrBudgetExhausted)
	}
	bal.Spent += amount
	l.appendEntry(store.JournalEntry{
		CellID:       cellID,
		Operation:    store.OpSpend,
		Amount:       amount,
		BalanceAfter: bal.Available(),
	})
	return nil
}

// Reclaim returns the child's unused balance to the parent.
func (l *Ledger) Reclaim(_ context.Context, childID, parentID string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	child, ok := l.balances[childID]
	if !ok {
		return 0, nil
	}
	avail := child.Available()
	if avail <= 0 {
		return 0, nil
	}
	parent, ok := l.balances[parentID]
	if !ok {
		return 0, fmt.Errorf("parent %s: %w", parentID, store.ErrNoBudgetRecord)
	}
	child.Allocated -= avail
	parent.Delegated -= avail

	l.appendEntry(store.JournalEntry{
		CellID:       childID,
		Operation:    store.OpReclaim,
		Amount:       avail,
		FromCellID:   childID,
		ToCellID:     parentID,
		BalanceAfter: child.Available(),
	})
	l.appendEntry(store.JournalEntry{
		CellID:       parentID,
		Operation:    store.OpReclaim,
		Amount:       avail,
		FromCellID:   childID,
		ToCellID:     parentID,
		BalanceAfter: parent.Available(),
	})
	return avail, nil
}

// GetBalance returns a copy of the balance, or nil when absent.
func (l *Ledger) GetBalance(_ context.Context, cellID string) (*store.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[cellID]
	if !ok {
		return nil, nil
	}
	cp := *bal
	return &cp, nil
}

// GetHistory returns the newest entries for the cell, newest first.
func (l *Ledger) GetHistory(_ context.Context, cellID string, limit int) ([]store.JournalEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []store.JournalEntry
	for i := len(l.journal) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if l.journal[i].CellID == cellID {
			out = append(out, l.journal[i])
		}
	}
	return out, nil
}

// Journal returns a copy of the full journal in append order. Test hook for
// the replay property.
func (l *Ledger) Journal() []store.JournalEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]store.JournalEntry, len(l.journal))
	copy(out, l.journal)
	return out
}

var _ store.Ledger = (*Ledger)(nil)
