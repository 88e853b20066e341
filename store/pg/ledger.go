package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/c360studio/cellmesh/store"
)

// Ledger is the Postgres budget ledger. Two-row operations run in a
// transaction with FOR UPDATE row locks so concurrent allocate/spend on the
// same cell cannot drive available negative.
type Ledger struct {
	db *sql.DB
}

// NewLedger wraps a database handle.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func lockBalance(ctx context.Context, tx *sql.Tx, cellID string) (*store.Balance, error) {
	var b store.Balance
	err := tx.QueryRowContext(ctx,
		`SELECT cell_id, allocated, spent, delegated FROM budget_balances WHERE cell_id = $1 FOR UPDATE`,
		cellID,
	).Scan(&b.CellID, &b.Allocated, &b.Spent, &b.Delegated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock balance %s: %w", cellID, err)
	}
	return &b, nil
}

func journal(ctx context.Context, tx *sql.Tx, e store.JournalEntry) error {
	var from, to, reason any
	if e.FromCellID != "" {
		from = e.FromCellID
	}
	if e.ToCellID != "" {
		to = e.ToCellID
	}
	if e.Reason != "" {
		reason = e.Reason
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO budget_ledger (cell_id, operation, amount, from_cell_id, to_cell_id, balance_after, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.CellID, e.Operation, e.Amount, from, to, e.BalanceAfter, reason,
	)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

func (l *Ledger) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// InitRoot upserts a root budget.
func (l *Ledger) InitRoot(ctx context.Context, cellID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("init %s: %w", cellID, store.ErrInvalidAmount)
	}
	return l.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO budget_balances (cell_id, allocated, spent, delegated)
			 VALUES ($1, $2, 0, 0)
			 ON CONFLICT (cell_id) DO UPDATE SET allocated = $2, spent = 0, delegated = 0`,
			cellID, amount,
		)
		if err != nil {
			return fmt.Errorf("init root %s: %w", cellID, err)
		}
		return journal(ctx, tx, store.JournalEntry{
			CellID: cellID, Operation: store.OpInit, Amount: amount, BalanceAfter: amount,
		})
	})
}

func (l *Ledger) transfer(ctx context.Context, parentID, childID string, amount float64, op store.JournalOp) error {
	if amount <= 0 {
		return fmt.Errorf("%s %s->%s: %w", op, parentID, childID, store.ErrInvalidAmount)
	}
	return l.inTx(ctx, func(tx *sql.Tx) error {
		parent, err := lockBalance(ctx, tx, parentID)
		if err != nil {
			return err
		}
		if parent == nil {
			return fmt.Errorf("parent %s: %w", parentID, store.ErrNoBudgetRecord)
		}
		if parent.Available() < amount {
			return fmt.Errorf("parent %s has %.4f available, need %.4f: %w",
				parentID, parent.Available(), amount, store.ErrInsufficientBudget)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE budget_balances SET delegated = delegated + $2 WHERE cell_id = $1`,
			parentID, amount,
		); err != nil {
			return fmt.Errorf("delegate from %s: %w", parentID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO budget_balances (cell_id, allocated, spent, delegated)
			 VALUES ($1, $2, 0, 0)
			 ON CONFLICT (cell_id) DO UPDATE SET allocated = budget_balances.allocated + $2`,
			childID, amount,
		); err != nil {
			return fmt.Errorf("allocate to %s: %w", childID, err)
		}

		child, err := lockBalance(ctx, tx, childID)
		if err != nil {
			return err
		}
		if err := journal(ctx, tx, store.JournalEntry{
			CellID: parentID, Operation: op, Amount: amount,
			FromCellID: parentID, ToCellID: childID,
			BalanceAfter: parent.Available() - amount,
		}); err != nil {
			return err
		}
		return journal(ctx, tx, store.JournalEntry{
			CellID: childID, Operation: op, Amount: amount,
			FromCellID: parentID, ToCellID: childID,
			BalanceAfter: child.Available(),
		})
	})
}

// Allocate delegates amount from parent to child.
func (l *Ledger) Allocate(ctx context.Context, parentID, childID string, amount float64) error {
	return l.transfer(ctx, parentID, childID, amount, store.OpAllocate)
}

// TopUp increases an existing child allocation.
func (l *Ledger) TopUp(ctx context.Context, parentID, childID string, amount float64) error {
	return l.transfer(ctx, parentID, childID, amount, store.OpTopUp)
}

// Spend debits the cell's available balance.
func (l *Ledger) Spend(ctx context.Context, cellID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("spend %s: %w", cellID, store.ErrInvalidAmount)
	}
	return l.inTx(ctx, func(tx *sql.Tx) error {
		bal, err := lockBalance(ctx, tx, cellID)
		if err != nil {
			return err
		}
		if bal == nil {
			return fmt.Errorf("cell %s: %w", cellID, store.ErrNoBudgetRecord)
		}
		if bal.Available() < amount {
			return fmt.Errorf("cell %s has %.4f available, need %.4f: %w",
				cellID, bal.Available(), amount, store.ErrBudgetExhausted)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE budget_balances SET spent = spent + $2 WHERE cell_id = $1`,
			cellID, amount,
		); err != nil {
			return fmt.Errorf("spend from %s: %w", cellID, err)
		}
		return journal(ctx, tx, store.JournalEntry{
			CellID: cellID, Operation: store.OpSpend, Amount: amount,
			BalanceAfter: bal.Available() - amount,
		})
	})
}

// Reclaim returns the child's unused balance to the parent.
func (l *Ledger) Reclaim(ctx context.Context, childID, parentID string) (float64, error) {
	var reclaimed float64
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		child, err := lockBalance(ctx, tx, childID)
		if err != nil {
			return err
		}
		if child == nil || child.Available() <= 0 {
			return nil
		}
		parent, err := lockBalance(ctx, tx, parentID)
		if err != nil {
			return err
		}
		if parent == nil {
			return fmt.Errorf("parent %s: %w", parentID, store.ErrNoBudgetRecord)
		}

		avail := child.Available()
		if _, err := tx.ExecContext(ctx,
			`UPDATE budget_balances SET allocated = allocated - $2 WHERE cell_id = $1`,
			childID, avail,
		); err != nil {
			return fmt.Errorf("reclaim from %s: %w", childID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE budget_balances SET delegated = delegated - $2 WHERE cell_id = $1`,
			parentID, avail,
		); err != nil {
			return fmt.Errorf("return to %s: %w", parentID, err)
		}

		if err := journal(ctx, tx, store.JournalEntry{
			CellID: childID, Operation: store.OpReclaim, Amount: avail,
			FromCellID: childID, ToCellID: parentID, BalanceAfter: 0,
		}); err != nil {
			return err
		}
		if err := journal(ctx, tx, store.JournalEntry{
			CellID: parentID, Operation: store.OpReclaim, Amount: avail,
			FromCellID: childID, ToCellID: parentID,
			BalanceAfter: parent.Available() + avail,
		}); err != nil {
			return err
		}
		reclaimed = avail
		return nil
	})
	return reclaimed, err
}

// GetBalance returns the balance, or nil when absent.
func (l *Ledger) GetBalance(ctx context.Context, cellID string) (*store.Balance, error) {
	var b store.Balance
	err := l.db.QueryRowContext(ctx,
		`SELECT cell_id, allocated, spent, delegated FROM budget_balances WHERE cell_id = $1`,
		cellID,
	).Scan(&b.CellID, &b.Allocated, &b.Spent, &b.Delegated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance %s: %w", cellID, err)
	}
	return &b, nil
}

// GetHistory returns the newest journal entries for the cell, newest first.
func (l *Ledger) GetHistory(ctx context.Context, cellID string, limit int) ([]store.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, cell_id, operation, amount, from_cell_id, to_cell_id, balance_after, reason, created_at
		 FROM budget_ledger WHERE cell_id = $1 ORDER BY id DESC LIMIT $2`,
		cellID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", cellID, err)
	}
	defer rows.Close()

	var out []store.JournalEntry
	for rows.Next() {
		var e store.JournalEntry
		var from, to, reason sql.NullString
		if err := rows.Scan(&e.ID, &e.CellID, &e.Operation, &e.Amount, &from, &to, &e.BalanceAfter, &reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.FromCellID = from.String
		e.ToCellID = to.String
		e.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ store.Ledger = (*Ledger)(nil)
