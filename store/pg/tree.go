package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/c360studio/cellmesh/store"
)

// TreeStore is the Postgres cell forest. Subtree operations key off the
// materialized path column.
type TreeStore struct {
	db *sql.DB
}

// NewTreeStore wraps a database handle.
func NewTreeStore(db *sql.DB) *TreeStore {
	return &TreeStore{db: db}
}

func scanNode(row interface{ Scan(...any) error }) (*store.TreeNode, error) {
	var n store.TreeNode
	var parent sql.NullString
	err := row.Scan(&n.CellID, &parent, &n.RootID, &n.Depth, &n.Path, &n.DescendantCount, &n.Namespace)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan tree node: %w", err)
	}
	n.ParentID = parent.String
	return &n, nil
}

// Insert adds a node. Path, depth, and ancestor counts derive from the
// locked parent row.
func (t *TreeStore) Insert(ctx context.Context, cellID, parentID, namespace string) (*store.TreeNode, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	node := &store.TreeNode{CellID: cellID, Namespace: namespace}
	var parentVal any
	if parentID == "" {
		node.RootID = cellID
		node.Path = cellID
	} else {
		parent, err := scanNode(tx.QueryRowContext(ctx,
			`SELECT cell_id, parent_id, root_id, depth, path, descendant_count, namespace
			 FROM cell_tree WHERE cell_id = $1 FOR UPDATE`, parentID))
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("parent node %s not found", parentID)
		}
		node.ParentID = parentID
		node.RootID = parent.RootID
		node.Depth = parent.Depth + 1
		node.Path = parent.Path + "/" + cellID
		parentVal = parentID
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cell_tree (cell_id, parent_id, root_id, depth, path, descendant_count, namespace)
		 VALUES ($1, $2, $3, $4, $5, 0, $6)`,
		cellID, parentVal, node.RootID, node.Depth, node.Path, namespace,
	); err != nil {
		return nil, fmt.Errorf("insert tree node %s: %w", cellID, err)
	}

	if parentID != "" {
		// Every ancestor's path is a proper prefix of the new node's path.
		if _, err := tx.ExecContext(ctx,
			`UPDATE cell_tree SET descendant_count = descendant_count + 1
			 WHERE $1 LIKE path || '/%'`,
			node.Path,
		); err != nil {
			return nil, fmt.Errorf("bump ancestor counts for %s: %w", cellID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return node, nil
}

// Get returns the node, or nil when absent.
func (t *TreeStore) Get(ctx context.Context, cellID string) (*store.TreeNode, error) {
	return scanNode(t.db.QueryRowContext(ctx,
		`SELECT cell_id, parent_id, root_id, depth, path, descendant_count, namespace
		 FROM cell_tree WHERE cell_id = $1`, cellID))
}

// Children lists direct children.
func (t *TreeStore) Children(ctx context.Context, cellID string) ([]store.TreeNode, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT cell_id, parent_id, root_id, depth, path, descendant_count, namespace
		 FROM cell_tree WHERE parent_id = $1`, cellID)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", cellID, err)
	}
	defer rows.Close()

	var out []store.TreeNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *node)
	}
	return out, rows.Err()
}

// DeleteSubtree removes the node and all descendants in one transaction.
func (t *TreeStore) DeleteSubtree(ctx context.Context, cellID string) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	node, err := scanNode(tx.QueryRowContext(ctx,
		`SELECT cell_id, parent_id, root_id, depth, path, descendant_count, namespace
		 FROM cell_tree WHERE cell_id = $1 FOR UPDATE`, cellID))
	if err != nil {
		return err
	}
	if node == nil {
		return nil
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM cell_tree WHERE cell_id = $1 OR path LIKE $2`,
		cellID, node.Path+"/%",
	)
	if err != nil {
		return fmt.Errorf("delete subtree %s: %w", cellID, err)
	}
	removed, _ := res.RowsAffected()

	if node.ParentID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE cell_tree SET descendant_count = descendant_count - $2
			 WHERE $1 LIKE path || '/%'`,
			node.Path, removed,
		); err != nil {
			return fmt.Errorf("fix ancestor counts for %s: %w", cellID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Count returns the total number of nodes.
func (t *TreeStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := t.db.QueryRowContext(ctx, `SELECT count(*) FROM cell_tree`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tree nodes: %w", err)
	}
	return n, nil
}

var _ store.TreeStore = (*TreeStore)(nil)
