// Package store defines the operational persistence interfaces: cell events,
// the hierarchical budget ledger, the cell tree, spawn requests, and the
// audit log. Postgres implements them in production (store/pg); an in-memory
// implementation (store/inmem) backs embedded mode and tests.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Ledger errors. These are permanent, caller-visible conditions.
var (
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrNoBudgetRecord is returned when the named cell has no budget row.
	ErrNoBudgetRecord = errors.New("no budget record")
	// ErrInsufficientBudget is returned when an allocation exceeds the
	// parent's available balance.
	ErrInsufficientBudget = errors.New("insufficient budget")
	// ErrBudgetExhausted is returned when a spend exceeds available balance.
	ErrBudgetExhausted = errors.New("budget exhausted")
)

// Balance is the cached projection of a cell's budget.
type Balance struct {
	CellID    string  `json:"cellId"`
	Allocated float64 `json:"allocated"`
	Spent     float64 `json:"spent"`
	Delegated float64 `json:"delegated"`
}

// Available is what the cell may still spend or delegate.
func (b Balance) Available() float64 {
	return b.Allocated - b.Spent - b.Delegated
}

// JournalOp is the kind of ledger mutation.
type JournalOp string

const (
	OpInit     JournalOp = "init"
	OpAllocate JournalOp = "allocate"
	OpSpend    JournalOp = "spend"
	OpReclaim  JournalOp = "reclaim"
	OpTopUp    JournalOp = "top_up"
)

// JournalEntry is one append-only ledger record. The journal is the source of
// truth; balances are the cached projection.
type JournalEntry struct {
	ID           int64     `json:"id"`
	CellID       string    `json:"cellId"`
	Operation    JournalOp `json:"operation"`
	Amount       float64   `json:"amount"`
	FromCellID   string    `json:"fromCellId,omitempty"`
	ToCellID     string    `json:"toCellId,omitempty"`
	BalanceAfter float64   `json:"balanceAfter"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Ledger is the hierarchical budget accounting capability. Every operation
// is atomic; the two-row operations (allocate, reclaim, top-up) are isolated
// so concurrent mutations cannot produce negative available balances.
type Ledger interface {
	// InitRoot upserts a root budget of amount for cellID.
	InitRoot(ctx context.Context, cellID string, amount float64) error
	// Allocate moves amount of parent's available balance into child's
	// allocation.
	Allocate(ctx context.Context, parentID, childID string, amount float64) error
	// Spend debits amount from the cell's available balance.
	Spend(ctx context.Context, cellID string, amount float64) error
	// Reclaim returns the child's unused balance to the parent and reports
	// how much was reclaimed. A missing or empty child reclaims 0.
	Reclaim(ctx context.Context, childID, parentID string) (float64, error)
	// TopUp increases an existing child allocation; ledger-wise identical to
	// Allocate but journaled as top_up.
	TopUp(ctx context.Context, parentID, childID string, amount float64) error
	// GetBalance returns the balance, or nil when the cell has none.
	GetBalance(ctx context.Context, cellID string) (*Balance, error)
	// GetHistory returns the most recent journal entries for the cell,
	// newest first.
	GetHistory(ctx context.Context, cellID string, limit int) ([]JournalEntry, error)
}

// CellEvent is one persisted record from a cell's events subject.
type CellEvent struct {
	ID        int64           `json:"id"`
	CellName  string          `json:"cellName"`
	Namespace string          `json:"namespace"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// EventStore persists cell events for the operational API.
type EventStore interface {
	AppendEvent(ctx context.Context, ev *CellEvent) error
	ListEvents(ctx context.Context, namespace, cellName string, limit int) ([]CellEvent, error)
}

// TreeNode is a cell's position in the spawn tree.
type TreeNode struct {
	CellID          string `json:"cellId"`
	ParentID        string `json:"parentId,omitempty"`
	RootID          string `json:"rootId"`
	Depth           int    `json:"depth"`
	Path            string `json:"path"`
	DescendantCount int    `json:"descendantCount"`
	Namespace       string `json:"namespace"`
}

// TreeStore maintains the cell forest. Inserting under a parent derives
// depth, path, and root from the parent and increments every ancestor's
// descendant count; deleting removes the whole subtree atomically.
type TreeStore interface {
	// Insert adds a node. Empty parentID creates a root.
	Insert(ctx context.Context, cellID, parentID, namespace string) (*TreeNode, error)
	// Get returns the node, or nil when absent.
	Get(ctx context.Context, cellID string) (*TreeNode, error)
	// Children lists direct children.
	Children(ctx context.Context, cellID string) ([]TreeNode, error)
	// DeleteSubtree removes the node and all descendants, fixing ancestor
	// descendant counts.
	DeleteSubtree(ctx context.Context, cellID string) error
	// Count returns the total number of nodes in the realm.
	Count(ctx context.Context) (int, error)
}

// SpawnDecision is the review state of a spawn request.
type SpawnDecision string

const (
	SpawnPending  SpawnDecision = "Pending"
	SpawnApproved SpawnDecision = "Approved"
	SpawnRejected SpawnDecision = "Rejected"
)

// SpawnRequest is a pending child-creation request awaiting approval.
type SpawnRequest struct {
	ID        string          `json:"id"`
	ParentID  string          `json:"parentId"`
	Namespace string          `json:"namespace"`
	Spec      json.RawMessage `json:"spec,omitempty"`
	Status    SpawnDecision   `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	DecidedAt *time.Time      `json:"decidedAt,omitempty"`
}

// SpawnRequestStore persists spawn requests for the approval workflow.
type SpawnRequestStore interface {
	CreateSpawnRequest(ctx context.Context, req *SpawnRequest) error
	GetSpawnRequest(ctx context.Context, id string) (*SpawnRequest, error)
	ListSpawnRequests(ctx context.Context, status SpawnDecision, limit int) ([]SpawnRequest, error)
	// DecideSpawnRequest moves a pending request to Approved or Rejected.
	DecideSpawnRequest(ctx context.Context, id string, status SpawnDecision, reason string) error
}

// AuditEntry records a policy-relevant action.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuditStore persists the audit log.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}

// Stores aggregates every operational store behind one handle.
type Stores struct {
	Events EventStore
	Ledger Ledger
	Tree   TreeStore
	Spawns SpawnRequestStore
	Audit  AuditStore
}
