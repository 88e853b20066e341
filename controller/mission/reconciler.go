// Package mission drives Mission resources: deliver the objective to the
// entrypoint cell, evaluate completion checks, and walk the mission through
// Pending, Running, and the terminal phases with retry, timeout, budget, and
// optional human review.
package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/cellmesh/bus"
	"github.com/c360studio/cellmesh/envelope"
	"github.com/c360studio/cellmesh/resource"
	"github.com/c360studio/cellmesh/store"
)

// DefaultMaxAttempts applies when the spec leaves maxAttempts unset.
const DefaultMaxAttempts = 1

// CostFunc reports the accumulated spend attributable to a cell. The default
// sums the cost fields of persisted response events.
type CostFunc func(ctx context.Context, namespace, cell string) (float64, error)

// EventCost builds a CostFunc over the event store.
func EventCost(events store.EventStore) CostFunc {
	return func(ctx context.Context, namespace, cell string) (float64, error) {
		evs, err := events.ListEvents(ctx, namespace, cell, 1000)
		if err != nil {
			return 0, err
		}
		var total float64
		for _, ev := range evs {
			if ev.EventType != envelope.EventResponse {
				continue
			}
			var p struct {
				Cost float64 `json:"cost"`
			}
			if err := json.Unmarshal(ev.Payload, &p); err == nil {
				total += p.Cost
			}
		}
		return total, nil
	}
}

// Reconciler is the mission controller.
type Reconciler struct {
	resources resource.Store
	bus       bus.Bus
	checks    *CheckRunner
	cost      CostFunc
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures the reconciler.
type Option func(*Reconciler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler builds the mission controller.
func NewReconciler(resources resource.Store, b bus.Bus, cost CostFunc, opts ...Option) *Reconciler {
	r := &Reconciler{
		resources: resources,
		bus:       b,
		checks:    NewCheckRunner(b),
		cost:      cost,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("controller", "mission")
	return r
}

// Kind implements controller.Reconciler.
func (r *Reconciler) Kind() resource.Kind { return resource.KindMission }

// Reconcile advances one mission through its state machine.
func (r *Reconciler) Reconcile(ctx context.Context, ev resource.WatchEvent) error {
	if ev.Type == resource.WatchDeleted {
		return nil
	}
	obj := ev.Object

	var spec resource.MissionSpec
	if err := obj.DecodeSpec(&spec); err != nil {
		return r.fail(ctx, obj, resource.MissionStatus{}, fmt.Sprintf("invalid spec: %v", err))
	}
	var status resource.MissionStatus
	if err := obj.DecodeStatus(&status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	if status.Phase.Terminal() {
		return nil
	}

	switch status.Phase {
	case "", resource.MissionPending:
		return r.start(ctx, obj, spec, status)
	case resource.MissionRunning:
		return r.evaluate(ctx, obj, spec, status)
	default:
		return fmt.Errorf("unknown mission phase %q", status.Phase)
	}
}

// ReconcileFailed writes a terminal Failed status after retries are spent.
func (r *Reconciler) ReconcileFailed(ctx context.Context, ev resource.WatchEvent, err error) {
	obj := ev.Object
	var status resource.MissionStatus
	_ = obj.DecodeStatus(&status)
	if status.Phase.Terminal() {
		return
	}
	status.Phase = resource.MissionFailed
	status.Message = fmt.Sprintf("reconcile failed: %v", err)
	if _, serr := r.resources.SetStatus(ctx, resource.KindMission, obj.Meta.Namespace, obj.Meta.Name, status); serr != nil {
		r.logger.Error("write failed status", "mission", obj.Key(), "error", serr)
	}
}

// start delivers the objective and moves the mission to Running.
func (r *Reconciler) start(ctx context.Context, obj *resource.Object, spec resource.MissionSpec, status resource.MissionStatus) error {
	ns := spec.Entrypoint.Namespace
	if ns == "" {
		ns = obj.Meta.Namespace
	}
	if err := envelope.ValidateIdentifiers(ns, spec.Entrypoint.Cell); err != nil {
		return r.fail(ctx, obj, status, err.Error())
	}

	env := envelope.NewMessage("mission:"+obj.Meta.Name, spec.Entrypoint.Cell, spec.Entrypoint.Message)
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	if err := r.bus.Publish(ctx, envelope.InboxSubject(ns, spec.Entrypoint.Cell), data); err != nil {
		return fmt.Errorf("deliver objective: %w", err)
	}

	now := r.now()
	status.Phase = resource.MissionRunning
	status.StartedAt = &now
	status.Attempt++
	status.Checks = nil
	status.Review = nil
	status.Message = ""
	r.logger.Info("mission attempt started",
		"mission", obj.Key(), "attempt", status.Attempt, "cell", spec.Entrypoint.Cell)
	return r.setStatus(ctx, obj, status)
}

// evaluate applies the Running-phase guards in order: budget, timeout,
// review decision, completion checks.
func (r *Reconciler) evaluate(ctx context.Context, obj *resource.Object, spec resource.MissionSpec, status resource.MissionStatus) error {
	ns := spec.Entrypoint.Namespace
	if ns == "" {
		ns = obj.Meta.Namespace
	}
	if r.cost != nil {
		cost, err := r.cost(ctx, ns, spec.Entrypoint.Cell)
		if err != nil {
			r.logger.Warn("cost lookup failed", "mission", obj.Key(), "error", err)
		} else {
			status.Cost = cost
		}
	}

	if spec.Budget.MaxCost > 0 && status.Cost >= spec.Budget.MaxCost {
		return r.fail(ctx, obj, status, "Budget exhausted")
	}

	maxAttempts := spec.Completion.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	if timeout := spec.Completion.Timeout.Std(); timeout > 0 && status.StartedAt != nil &&
		r.now().Sub(*status.StartedAt) > timeout {
		if status.Attempt >= maxAttempts {
			return r.fail(ctx, obj, status, "Mission timed out")
		}
		return r.retry(ctx, obj, status, "Timed out, retrying", "timeout")
	}

	if status.Review != nil {
		switch status.Review.Status {
		case resource.ReviewApproved:
			return r.succeed(ctx, obj, status)
		case resource.ReviewRejected:
			if status.Attempt >= maxAttempts {
				return r.fail(ctx, obj, status, "Review rejected")
			}
			return r.retry(ctx, obj, status, "Review rejected, retrying", "review rejected")
		default:
			// Awaiting the reviewer; checks stay as they were.
			return nil
		}
	}

	status.Checks = r.checks.Run(ctx, spec.WorkspacePath, spec.Completion.Checks)
	if !allPassed(status.Checks) {
		return r.setStatus(ctx, obj, status)
	}

	if spec.Completion.Review.Enabled {
		status.Review = &resource.ReviewStatus{Status: resource.ReviewPending}
		status.Message = "awaiting review"
		r.logger.Info("mission awaiting review", "mission", obj.Key())
		return r.setStatus(ctx, obj, status)
	}
	return r.succeed(ctx, obj, status)
}

// allPassed requires at least one check; a mission with no checks never
// completes on its own.
func allPassed(checks []resource.CheckStatus) bool {
	if len(checks) == 0 {
		return false
	}
	for _, c := range checks {
		if c.Status != resource.CheckPassed {
			return false
		}
	}
	return true
}

func (r *Reconciler) succeed(ctx context.Context, obj *resource.Object, status resource.MissionStatus) error {
	status.Phase = resource.MissionSucceeded
	status.Message = ""
	status.History = append(status.History, resource.AttemptRecord{
		Attempt: status.Attempt, StartedAt: status.StartedAt, Result: "succeeded",
	})
	r.logger.Info("mission succeeded", "mission", obj.Key(), "attempt", status.Attempt)
	return r.setStatus(ctx, obj, status)
}

func (r *Reconciler) fail(ctx context.Context, obj *resource.Object, status resource.MissionStatus, message string) error {
	status.Phase = resource.MissionFailed
	status.Message = message
	status.History = append(status.History, resource.AttemptRecord{
		Attempt: status.Attempt, StartedAt: status.StartedAt, Result: message,
	})
	r.logger.Warn("mission failed", "mission", obj.Key(), "reason", message)
	return r.setStatus(ctx, obj, status)
}

// retry records the finished attempt and sends the mission back to Pending.
// The attempt counter is preserved; start increments it.
func (r *Reconciler) retry(ctx context.Context, obj *resource.Object, status resource.MissionStatus, message, result string) error {
	status.History = append(status.History, resource.AttemptRecord{
		Attempt: status.Attempt, StartedAt: status.StartedAt, Result: result,
	})
	status.Phase = resource.MissionPending
	status.Message = message
	status.Review = nil
	status.Checks = nil
	r.logger.Info("mission retrying", "mission", obj.Key(), "attempt", status.Attempt, "reason", result)
	return r.setStatus(ctx, obj, status)
}

func (r *Reconciler) setStatus(ctx context.Context, obj *resource.Object, status resource.MissionStatus) error {
	_, err := r.resources.SetStatus(ctx, resource.KindMission, obj.Meta.Namespace, obj.Meta.Name, status)
	if err != nil {
		return fmt.Errorf("write mission status: %w", err)
	}
	return nil
}
