package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/cellmesh/store"
)

func available(t *testing.T, l *Ledger, cellID string) float64 {
	t.Helper()
	bal, err := l.GetBalance(context.Background(), cellID)
	require.NoError(t, err)
	require.NotNil(t, bal, "no balance for %s", cellID)
	return bal.Available()
}

func TestLedgerThreeLevelAllocation(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	require.NoError(t, l.InitRoot(ctx, "root", 100))
	require.NoError(t, l.Allocate(ctx, "root", "team", 40))
	require.NoError(t, l.Allocate(ctx, "team", "dev", 15))
	require.NoError(t, l.Spend(ctx, "dev", 8))

	assert.InDelta(t, 60, available(t, l, "root"), 1e-9)
	assert.InDelta(t, 25, available(t, l, "team"), 1e-9)
	assert.InDelta(t, 7, available(t, l, "dev"), 1e-9)
}

func TestLedgerReclaimAfterPartialSpend(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	require.NoError(t, l.InitRoot(ctx, "p", 100))
	require.NoError(t, l.Allocate(ctx, "p", "c", 40))
	require.NoError(t, l.Spend(ctx, "c", 15))

	reclaimed, err := l.Reclaim(ctx, "c", "p")
	require.NoError(t, err)
	assert.InDelta(t, 25, reclaimed, 1e-9)

	assert.InDelta(t, 85, available(t, l, "p"), 1e-9)
	assert.InDelta(t, 0, available(t, l, "c"), 1e-9)

	bal, err := l.GetBalance(ctx, "c")
	require.NoError(t, err)
	assert.InDelta(t, 15, bal.Allocated, 1e-9)
	assert.InDelta(t, 15, bal.Spent, 1e-9)
}

func TestLedgerSpendBoundary(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	require.NoError(t, l.InitRoot(ctx, "c", 10))

	// Spending exactly the available balance succeeds.
	require.NoError(t, l.Spend(ctx, "c", 10))

	// One more cent fails.
	err := l.Spend(ctx, "c", 0.01)
	assert.ErrorIs(t, err, store.ErrBudgetExhausted)
}

func TestLedgerErrors(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	assert.ErrorIs(t, l.Allocate(ctx, "ghost", "c", 5), store.ErrNoBudgetRecord)
	assert.ErrorIs(t, l.Spend(ctx, "ghost", 5), store.ErrNoBudgetRecord)

	require.NoError(t, l.InitRoot(ctx, "p", 10))
	assert.ErrorIs(t, l.Allocate(ctx, "p", "c", 11), store.ErrInsufficientBudget)
	assert.ErrorIs(t, l.Allocate(ctx, "p", "c", 0), store.ErrInvalidAmount)
	assert.ErrorIs(t, l.Allocate(ctx, "p", "c", -1), store.ErrInvalidAmount)
	assert.ErrorIs(t, l.Spend(ctx, "p", 0), store.ErrInvalidAmount)

	// Reclaiming a missing or empty child returns 0 without error.
	got, err := l.Reclaim(ctx, "ghost", "p")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestLedgerTopUpEquivalence(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	require.NoError(t, l.InitRoot(ctx, "p", 100))
	require.NoError(t, l.Allocate(ctx, "p", "c", 10))
	require.NoError(t, l.TopUp(ctx, "p", "c", 5))

	assert.InDelta(t, 85, available(t, l, "p"), 1e-9)
	assert.InDelta(t, 15, available(t, l, "c"), 1e-9)

	// One journal entry per side.
	history, err := l.GetHistory(ctx, "c", 0)
	require.NoError(t, err)
	var topUps int
	for _, e := range history {
		if e.Operation == store.OpTopUp {
			topUps++
		}
	}
	assert.Equal(t, 1, topUps)
}

func TestLedgerDelegatedEqualsChildAllocations(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	require.NoError(t, l.InitRoot(ctx, "root", 100))
	require.NoError(t, l.Allocate(ctx, "root", "a", 20))
	require.NoError(t, l.Allocate(ctx, "root", "b", 30))
	require.NoError(t, l.TopUp(ctx, "root", "a", 5))

	root, err := l.GetBalance(ctx, "root")
	require.NoError(t, err)
	a, err := l.GetBalance(ctx, "a")
	require.NoError(t, err)
	b, err := l.GetBalance(ctx, "b")
	require.NoError(t, err)

	assert.InDelta(t, a.Allocated+b.Allocated, root.Delegated, 1e-9)
}

// Replaying the journal must reproduce the cached balances exactly.
func TestLedgerJournalReplay(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	require.NoError(t, l.InitRoot(ctx, "root", 100))
	require.NoError(t, l.Allocate(ctx, "root", "team", 40))
	require.NoError(t, l.Allocate(ctx, "team", "dev", 15))
	require.NoError(t, l.Spend(ctx, "dev", 8))
	require.NoError(t, l.TopUp(ctx, "team", "dev", 2))
	_, err := l.Reclaim(ctx, "dev", "team")
	require.NoError(t, err)

	replayed := make(map[string]*store.Balance)
	ensure := func(id string) *store.Balance {
		if b, ok := replayed[id]; ok {
			return b
		}
		b := &store.Balance{CellID: id}
		replayed[id] = b
		return b
	}
	for _, e := range l.Journal() {
		b := ensure(e.CellID)
		switch e.Operation {
		case store.OpInit:
			b.Allocated = e.Amount
			b.Spent = 0
			b.Delegated = 0
		case store.OpAllocate, store.OpTopUp:
			if e.CellID == e.FromCellID {
				b.Delegated += e.Amount
			} else {
				b.Allocated += e.Amount
			}
		case store.OpSpend:
			b.Spent += e.Amount
		case store.OpReclaim:
			if e.CellID == e.FromCellID {
				b.Allocated -= e.Amount
			} else {
				b.Delegated -= e.Amount
			}
		}
	}

	for _, id := range []string{"root", "team", "dev"} {
		want, err := l.GetBalance(ctx, id)
		require.NoError(t, err)
		got := replayed[id]
		require.NotNil(t, got, id)
		assert.InDelta(t, want.Allocated, got.Allocated, 1e-9, "%s allocated", id)
		assert.InDelta(t, want.Spent, got.Spent, 1e-9, "%s spent", id)
		assert.InDelta(t, want.Delegated, got.Delegated, 1e-9, "%s delegated", id)
	}
}
