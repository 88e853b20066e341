// Package recursion gates cell spawning. Every spawn attempt runs through the
// Validator, which combines the platform cap, the parent's spawn policy, tree
// depth and descendant limits, and the parent's available budget.
package recursion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/c360studio/cellmesh/resource"
	"github.com/c360studio/cellmesh/store"
)

// DefaultPlatformMaxCells caps the total number of cells in the realm.
const DefaultPlatformMaxCells = 1000

// SpawnInput describes the child a parent wants to create.
type SpawnInput struct {
	Name         string          `json:"name"`
	Namespace    string          `json:"namespace"`
	BlueprintRef string          `json:"blueprintRef,omitempty"`
	Budget       float64         `json:"budget,omitempty"`
	Spec         json.RawMessage `json:"spec,omitempty"`
}

// Decision is the validator's verdict. Pending means a spawn request was
// recorded and awaits human approval.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Pending   bool   `json:"pending,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Validator evaluates spawn requests against tree, ledger, and policy state.
type Validator struct {
	tree     store.TreeStore
	ledger   store.Ledger
	spawns   store.SpawnRequestStore
	maxCells int
	logger   *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithPlatformMaxCells overrides the realm-wide cell cap.
func WithPlatformMaxCells(n int) Option {
	return func(v *Validator) { v.maxCells = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// NewValidator creates a Validator over the given stores.
func NewValidator(tree store.TreeStore, ledger store.Ledger, spawns store.SpawnRequestStore, opts ...Option) *Validator {
	v := &Validator{
		tree:     tree,
		ledger:   ledger,
		spawns:   spawns,
		maxCells: DefaultPlatformMaxCells,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate decides whether parentID may spawn the described child. The first
// failing rule wins; every deny carries a human-readable reason.
func (v *Validator) Validate(ctx context.Context, parentID string, spec resource.RecursionSpec, input SpawnInput) (Decision, error) {
	spec = spec.WithDefaults()

	total, err := v.tree.Count(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("count cells: %w", err)
	}
	if total >= v.maxCells {
		return v.deny(parentID, "Platform limit"), nil
	}

	switch spec.SpawnPolicy {
	case resource.SpawnDisabled:
		return v.deny(parentID, "Spawning disabled"), nil
	case resource.SpawnBlueprintOnly:
		if input.BlueprintRef == "" {
			return v.deny(parentID, "Blueprint required"), nil
		}
	case resource.SpawnApprovalRequired:
		req := &store.SpawnRequest{
			ID:        uuid.NewString(),
			ParentID:  parentID,
			Namespace: input.Namespace,
			Spec:      input.Spec,
			Status:    store.SpawnPending,
		}
		if err := v.spawns.CreateSpawnRequest(ctx, req); err != nil {
			return Decision{}, fmt.Errorf("record spawn request: %w", err)
		}
		v.logger.Info("spawn held for approval", "parent", parentID, "request", req.ID)
		return Decision{Pending: true, Reason: "approval required", RequestID: req.ID}, nil
	}

	node, err := v.tree.Get(ctx, parentID)
	if err != nil {
		return Decision{}, fmt.Errorf("get tree node %s: %w", parentID, err)
	}
	if node != nil {
		if node.Depth >= spec.MaxDepth {
			return v.deny(parentID, "max depth reached"), nil
		}
		if node.DescendantCount >= spec.MaxDescendants {
			return v.deny(parentID, "max descendants reached"), nil
		}
	}

	if input.Budget > 0 {
		bal, err := v.ledger.GetBalance(ctx, parentID)
		if err != nil {
			return Decision{}, fmt.Errorf("get balance %s: %w", parentID, err)
		}
		if bal == nil || bal.Available() < input.Budget {
			return v.deny(parentID, "insufficient budget"), nil
		}
	}

	return Decision{Allowed: true}, nil
}

func (v *Validator) deny(parentID, reason string) Decision {
	v.logger.Info("spawn denied", "parent", parentID, "reason", reason)
	return Decision{Reason: reason}
}
