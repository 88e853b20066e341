package toolset

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360studio/cellmesh/envelope"
	"github.com/c360studio/cellmesh/mind"
	"github.com/c360studio/cellmesh/recursion"
	"github.com/c360studio/cellmesh/resource"
	"github.com/c360studio/cellmesh/store"
)

// SpawnExecutor implements the spawn_cell tool. Every spawn goes through the
// recursion validator before a child Cell resource is created, the tree is
// extended, and any requested budget is delegated from the parent.
type SpawnExecutor struct {
	validator *recursion.Validator
	resources resource.Store
	tree      store.TreeStore
	ledger    store.Ledger

	parentCell string
	namespace  string
	spec       resource.RecursionSpec
}

// NewSpawnExecutor creates a spawn executor for one parent cell.
func NewSpawnExecutor(v *recursion.Validator, resources resource.Store, stores *store.Stores, parentCell, namespace string, spec resource.RecursionSpec) *SpawnExecutor {
	return &SpawnExecutor{
		validator:  v,
		resources:  resources,
		tree:       stores.Tree,
		ledger:     stores.Ledger,
		parentCell: parentCell,
		namespace:  namespace,
		spec:       spec,
	}
}

type spawnArgs struct {
	Name         string  `json:"name"`
	SystemPrompt string  `json:"systemPrompt"`
	Capability   string  `json:"capability,omitempty"`
	BlueprintRef string  `json:"blueprintRef,omitempty"`
	Budget       float64 `json:"budget,omitempty"`
}

// Execute validates and performs one spawn. Denials come back as tool errors
// so the model can adapt; a pending approval reports its request id.
func (s *SpawnExecutor) Execute(ctx context.Context, call mind.ToolCall) (Result, error) {
	var args spawnArgs
	if err := decodeArgs(call, &args); err != nil {
		return Result{}, err
	}
	if !envelope.ValidName(args.Name) {
		return Result{Error: fmt.Sprintf("invalid cell name %q", args.Name)}, nil
	}

	childSpec := resource.CellSpec{
		SystemPrompt: args.SystemPrompt,
		Capability:   args.Capability,
		BlueprintRef: args.BlueprintRef,
		ParentCell:   s.parentCell,
		Recursion:    s.spec,
	}
	rawSpec, err := json.Marshal(childSpec)
	if err != nil {
		return Result{}, fmt.Errorf("encode child spec: %w", err)
	}

	decision, err := s.validator.Validate(ctx, s.parentCell, s.spec, recursion.SpawnInput{
		Name:         args.Name,
		Namespace:    s.namespace,
		BlueprintRef: args.BlueprintRef,
		Budget:       args.Budget,
		Spec:         rawSpec,
	})
	if err != nil {
		return Result{}, fmt.Errorf("validate spawn: %w", err)
	}
	if decision.Pending {
		return Result{Content: fmt.Sprintf("spawn held for approval (request %s)", decision.RequestID)}, nil
	}
	if !decision.Allowed {
		return Result{Error: "spawn denied: " + decision.Reason}, nil
	}

	obj, err := resource.New(resource.KindCell, s.namespace, args.Name, childSpec)
	if err != nil {
		return Result{}, err
	}
	if _, err := s.resources.Create(ctx, obj); err != nil {
		return Result{Error: fmt.Sprintf("create cell %s: %v", args.Name, err)}, nil
	}

	childID := resource.ObjectKey(s.namespace, args.Name)
	parentID := resource.ObjectKey(s.namespace, s.parentCell)
	if _, err := s.tree.Insert(ctx, childID, parentID, s.namespace); err != nil {
		return Result{Error: fmt.Sprintf("register child %s: %v", args.Name, err)}, nil
	}
	if args.Budget > 0 {
		if err := s.ledger.Allocate(ctx, parentID, childID, args.Budget); err != nil {
			return Result{Error: fmt.Sprintf("allocate budget for %s: %v", args.Name, err)}, nil
		}
	}

	return Result{Content: fmt.Sprintf("spawned cell %s", args.Name)}, nil
}

// ListTools returns the spawn definition.
func (s *SpawnExecutor) ListTools() []mind.ToolDefinition {
	return []mind.ToolDefinition{
		{
			Name:        "spawn_cell",
			Description: "Create a child cell with its own prompt and optional budget",
			InputSchema: schema(map[string]any{
				"name":         prop("string", "Child cell name (DNS label)"),
				"systemPrompt": prop("string", "System prompt for the child"),
				"capability":   prop("string", "Model capability, defaults to the parent's"),
				"blueprintRef": prop("string", "Blueprint to instantiate, when required by policy"),
				"budget":       prop("number", "Budget to delegate from this cell"),
			}, "name", "systemPrompt"),
		},
	}
}
