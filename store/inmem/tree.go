package inmem

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/c360studio/cellmesh/store"
)

// TreeStore is the in-memory cell forest.
type TreeStore struct {
	mu    sync.Mutex
	nodes map[string]*store.TreeNode
}

// NewTreeStore creates an empty forest.
func NewTreeStore() *TreeStore {
	return &TreeStore{nodes: make(map[string]*store.TreeNode)}
}

// Insert adds a node under parentID, or a new root when parentID is empty.
func (t *TreeStore) Insert(_ context.Context, cellID, parentID, namespace string) (*store.TreeNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.nodes[cellID]; exists {
		return nil, fmt.Errorf("tree node %s already exists", cellID)
	}

	node := &store.TreeNode{CellID: cellID, Namespace: namespace}
	if parentID == "" {
		node.RootID = cellID
		node.Path = cellID
	} else {
		parent, ok := t.nodes[parentID]
		if !ok {
			return nil, fmt.Errorf("parent node %s not found", parentID)
		}
		node.ParentID = parentID
		node.RootID = parent.RootID
		node.Depth = parent.Depth + 1
		node.Path = parent.Path + "/" + cellID

		for ancestor := parent; ancestor != nil; {
			ancestor.DescendantCount++
			if ancestor.ParentID == "" {
				break
			}
			ancestor = t.nodes[ancestor.ParentID]
		}
	}
	t.nodes[cellID] = node
	cp := *node
	return &cp, nil
}

// Get returns a copy of the node, or nil when absent.
func (t *TreeStore) Get(_ context.Context, cellID string) (*store.TreeNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.nodes[cellID]
	if !ok {
		return nil, nil
	}
	cp := *node
	return &cp, nil
}

// Children lists direct children.
func (t *TreeStore) Children(_ context.Context, cellID string) ([]store.TreeNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []store.TreeNode
	for _, node := range t.nodes {
		if node.ParentID == cellID {
			out = append(out, *node)
		}
	}
	return out, nil
}

// DeleteSubtree removes the node and its descendants and fixes ancestor
// descendant counts. The whole operation happens under one lock.
func (t *TreeStore) DeleteSubtree(_ context.Context, cellID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.nodes[cellID]
	if !ok {
		return nil
	}

	prefix := node.Path + "/"
	removed := 0
	for id, n := range t.nodes {
		if id == cellID || strings.HasPrefix(n.Path, prefix) {
			delete(t.nodes, id)
			removed++
		}
	}

	for ancestorID := node.ParentID; ancestorID != ""; {
		ancestor, ok := t.nodes[ancestorID]
		if !ok {
			break
		}
		ancestor.DescendantCount -= removed
		ancestorID = ancestor.ParentID
	}
	return nil
}

// Count returns the total number of nodes.
func (t *TreeStore) Count(_ context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes), nil
}

var _ store.TreeStore = (*TreeStore)(nil)
