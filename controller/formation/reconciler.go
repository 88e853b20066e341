// Package formation materializes Formation resources: N cells per template,
// a published topology routing table, a shared workspace directory, budget
// enforcement across the group, and aggregated status.
package formation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"

	"github.com/samber/lo"

	"github.com/c360studio/cellmesh/resource"
	"github.com/c360studio/cellmesh/topology"
)

// LabelFormation marks cells owned by a formation.
const LabelFormation = "formation"

// TopologyPublisher writes routing tables where workers can read them.
// Production uses topology.Store; tests record tables in memory.
type TopologyPublisher interface {
	Publish(ctx context.Context, namespace, formation string, table topology.Table) error
	Delete(ctx context.Context, namespace, formation string) error
}

// Reconciler is the formation controller.
type Reconciler struct {
	resources     resource.Store
	topologies    TopologyPublisher
	workspaceRoot string
	logger        *slog.Logger
}

// Option configures the reconciler.
type Option func(*Reconciler)

// WithWorkspaceRoot sets the directory under which shared formation
// workspaces are created. Empty disables workspace management.
func WithWorkspaceRoot(root string) Option {
	return func(r *Reconciler) { r.workspaceRoot = root }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler builds the formation controller.
func NewReconciler(resources resource.Store, topologies TopologyPublisher, opts ...Option) *Reconciler {
	r := &Reconciler{
		resources:  resources,
		topologies: topologies,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("controller", "formation")
	return r
}

// Kind implements controller.Reconciler.
func (r *Reconciler) Kind() resource.Kind { return resource.KindFormation }

// Reconcile drives one formation toward its declared shape.
func (r *Reconciler) Reconcile(ctx context.Context, ev resource.WatchEvent) error {
	obj := ev.Object
	if ev.Type == resource.WatchDeleted {
		return r.topologies.Delete(ctx, obj.Meta.Namespace, obj.Meta.Name)
	}

	var spec resource.FormationSpec
	if err := obj.DecodeSpec(&spec); err != nil {
		return r.failStatus(ctx, obj, fmt.Sprintf("invalid spec: %v", err))
	}

	workspace, err := r.ensureWorkspace(obj)
	if err != nil {
		return err
	}

	groups := desiredGroups(spec)
	table, err := topology.Generate(spec.Topology, groups)
	if err != nil {
		return r.failStatus(ctx, obj, fmt.Sprintf("topology: %v", err))
	}
	if err := r.topologies.Publish(ctx, obj.Meta.Namespace, obj.Meta.Name, table); err != nil {
		return fmt.Errorf("publish topology: %w", err)
	}

	desired := make(map[string]resource.CellSpec)
	for ti, tmpl := range spec.Cells {
		for _, name := range groups[ti] {
			cellSpec := tmpl.Spec
			cellSpec.FormationRef = obj.Meta.Name
			if workspace != "" {
				cellSpec.WorkspacePath = workspace
			}
			desired[name] = cellSpec
		}
	}

	for name, cellSpec := range desired {
		if err := r.ensureCell(ctx, obj, name, cellSpec); err != nil {
			return err
		}
	}

	current, err := r.resources.List(ctx, resource.KindCell, obj.Meta.Namespace,
		map[string]string{LabelFormation: obj.Meta.Name})
	if err != nil {
		return fmt.Errorf("list formation cells: %w", err)
	}

	// Scale down: anything labeled for us but not desired goes away.
	for _, cell := range current {
		if _, ok := desired[cell.Meta.Name]; ok {
			continue
		}
		if err := r.resources.Delete(ctx, resource.KindCell, cell.Meta.Namespace, cell.Meta.Name); err != nil {
			return fmt.Errorf("delete excess cell %s: %w", cell.Meta.Name, err)
		}
		r.logger.Info("removed excess cell", "formation", obj.Key(), "cell", cell.Meta.Name)
	}

	live := lo.Filter(current, func(c *resource.Object, _ int) bool {
		_, ok := desired[c.Meta.Name]
		return ok
	})
	return r.writeStatus(ctx, obj, spec, live)
}

// ReconcileFailed writes a terminal Failed status after retries are spent.
func (r *Reconciler) ReconcileFailed(ctx context.Context, ev resource.WatchEvent, err error) {
	if ev.Type == resource.WatchDeleted {
		return
	}
	if serr := r.failStatus(ctx, ev.Object, fmt.Sprintf("reconcile failed: %v", err)); serr != nil {
		r.logger.Error("write failed status", "formation", ev.Object.Key(), "error", serr)
	}
}

func (r *Reconciler) ensureWorkspace(obj *resource.Object) (string, error) {
	if r.workspaceRoot == "" {
		return "", nil
	}
	dir := filepath.Join(r.workspaceRoot, obj.Meta.Namespace, obj.Meta.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// ensureCell creates, updates, or recreates one desired cell.
func (r *Reconciler) ensureCell(ctx context.Context, owner *resource.Object, name string, spec resource.CellSpec) error {
	existing, err := r.resources.Get(ctx, resource.KindCell, owner.Meta.Namespace, name)
	if err != nil {
		if !errors.Is(err, resource.ErrNotFound) {
			return fmt.Errorf("get cell %s: %w", name, err)
		}
		return r.createCell(ctx, owner, name, spec)
	}

	var status resource.CellStatus
	_ = existing.DecodeStatus(&status)
	if status.Phase == resource.CellFailed {
		if err := r.resources.Delete(ctx, resource.KindCell, owner.Meta.Namespace, name); err != nil {
			return fmt.Errorf("delete failed cell %s: %w", name, err)
		}
		r.logger.Info("recreating failed cell", "formation", owner.Key(), "cell", name)
		return r.createCell(ctx, owner, name, spec)
	}

	var currentSpec resource.CellSpec
	if err := existing.DecodeSpec(&currentSpec); err != nil {
		return err
	}
	if reflect.DeepEqual(currentSpec, spec) {
		return nil
	}
	if err := existing.EncodeSpec(spec); err != nil {
		return err
	}
	if _, err := r.resources.Update(ctx, existing); err != nil {
		return fmt.Errorf("update cell %s: %w", name, err)
	}
	r.logger.Info("updated drifted cell", "formation", owner.Key(), "cell", name)
	return nil
}

func (r *Reconciler) createCell(ctx context.Context, owner *resource.Object, name string, spec resource.CellSpec) error {
	cell, err := resource.New(resource.KindCell, owner.Meta.Namespace, name, spec)
	if err != nil {
		return err
	}
	cell.Meta.Labels = map[string]string{LabelFormation: owner.Meta.Name}
	if owner.Meta.UID != "" {
		cell.Meta.OwnerReferences = []resource.OwnerReference{{
			Kind: resource.KindFormation, Name: owner.Meta.Name, UID: owner.Meta.UID,
		}}
	}
	if _, err := r.resources.Create(ctx, cell); err != nil {
		return fmt.Errorf("create cell %s: %w", name, err)
	}
	r.logger.Info("created cell", "formation", owner.Key(), "cell", name)
	return nil
}

// writeStatus aggregates child state, applies the budget gate, and derives
// the formation phase.
func (r *Reconciler) writeStatus(ctx context.Context, obj *resource.Object, spec resource.FormationSpec, cells []*resource.Object) error {
	status := resource.FormationStatus{TotalCells: len(cells)}

	var anyFailed, anyRunning bool
	completed := 0
	for _, cell := range cells {
		var cs resource.CellStatus
		_ = cell.DecodeStatus(&cs)
		status.TotalCost += cs.Cost
		status.Cells = append(status.Cells, resource.CellSummary{
			Name: cell.Meta.Name, Phase: cs.Phase, Cost: cs.Cost,
		})
		switch cs.Phase {
		case resource.CellRunning:
			status.ReadyCells++
			anyRunning = true
		case resource.CellCompleted:
			completed++
		case resource.CellFailed:
			anyFailed = true
		}
	}

	if spec.Budget.MaxTotalCost > 0 && status.TotalCost >= spec.Budget.MaxTotalCost {
		for _, cell := range cells {
			cs := resource.CellStatus{Phase: resource.CellPaused, Message: "budget exceeded"}
			if _, err := r.resources.SetStatus(ctx, resource.KindCell, cell.Meta.Namespace, cell.Meta.Name, cs); err != nil {
				return fmt.Errorf("pause cell %s: %w", cell.Meta.Name, err)
			}
		}
		status.Phase = resource.FormationPaused
		status.Message = "budget exceeded"
		status.ReadyCells = 0
		r.logger.Warn("formation paused over budget",
			"formation", obj.Key(), "totalCost", status.TotalCost)
		return r.setStatus(ctx, obj, status)
	}

	switch {
	case len(cells) > 0 && completed == len(cells):
		status.Phase = resource.FormationCompleted
	case anyFailed:
		status.Phase = resource.FormationFailed
	case anyRunning:
		status.Phase = resource.FormationRunning
	default:
		status.Phase = resource.FormationPending
	}
	return r.setStatus(ctx, obj, status)
}

func (r *Reconciler) failStatus(ctx context.Context, obj *resource.Object, message string) error {
	return r.setStatus(ctx, obj, resource.FormationStatus{
		Phase: resource.FormationFailed, Message: message,
	})
}

func (r *Reconciler) setStatus(ctx context.Context, obj *resource.Object, status resource.FormationStatus) error {
	_, err := r.resources.SetStatus(ctx, resource.KindFormation, obj.Meta.Namespace, obj.Meta.Name, status)
	if err != nil {
		return fmt.Errorf("write formation status: %w", err)
	}
	return nil
}

// desiredGroups lists member cell names per template, in template order.
func desiredGroups(spec resource.FormationSpec) [][]string {
	groups := make([][]string, len(spec.Cells))
	for i, tmpl := range spec.Cells {
		names := make([]string, 0, tmpl.Replicas)
		for n := 0; n < tmpl.Replicas; n++ {
			names = append(names, fmt.Sprintf("%s-%d", tmpl.Name, n))
		}
		groups[i] = names
	}
	return groups
}
