// Package swarm autoscales a fleet of identical cells between minReplicas
// and maxReplicas, driven by a trigger signal with cooldown, stabilization,
// and budget gating.
package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/c360studio/cellmesh/bus"
	"github.com/c360studio/cellmesh/envelope"
	"github.com/c360studio/cellmesh/resource"
)

// LabelSwarm marks cells owned by a swarm.
const LabelSwarm = "swarm"

var scaleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cellmesh_swarm_scale_events_total",
	Help: "Swarm scale operations by direction.",
}, []string{"swarm", "direction"})

// Metrics is the push store for externally reported metric triggers.
type Metrics struct {
	mu     sync.RWMutex
	values map[string]float64
}

// NewMetrics creates an empty metric store.
func NewMetrics() *Metrics {
	return &Metrics{values: make(map[string]float64)}
}

// Set records a metric value.
func (m *Metrics) Set(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
}

// Value reads a metric. Missing metrics read as 0.
func (m *Metrics) Value(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[name]
}

// Reconciler is the swarm controller.
type Reconciler struct {
	resources resource.Store
	bus       bus.Bus
	metrics   *Metrics
	cron      *gronx.Gronx
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

// NewReconciler builds the swarm controller.
func NewReconciler(resources resource.Store, b bus.Bus, metrics *Metrics, opts ...Option) *Reconciler {
	if metrics == nil {
		metrics = NewMetrics()
	}
	r := &Reconciler{
		resources: resources,
		bus:       b,
		metrics:   metrics,
		cron:      gronx.New(),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("controller", "swarm")
	return r
}

// Kind implements controller.Reconciler.
func (r *Reconciler) Kind() resource.Kind { return resource.KindSwarm }

// Reconcile evaluates the trigger and applies the stability guards.
func (r *Reconciler) Reconcile(ctx context.Context, ev resource.WatchEvent) error {
	if ev.Type == resource.WatchDeleted {
		return nil
	}
	obj := ev.Object

	var spec resource.SwarmSpec
	if err := obj.DecodeSpec(&spec); err != nil {
		return r.errorStatus(ctx, obj, fmt.Sprintf("invalid spec: %v", err))
	}
	if spec.MinReplicas < 0 || spec.MaxReplicas < spec.MinReplicas {
		return r.errorStatus(ctx, obj, "minReplicas must be >= 0 and <= maxReplicas")
	}

	var status resource.SwarmStatus
	if err := obj.DecodeStatus(&status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	if spec.Suspend {
		status.Phase = resource.SwarmSuspended
		return r.setStatus(ctx, obj, status)
	}
	status.Phase = resource.SwarmActive

	value, desired, err := r.evaluate(ctx, spec, status.CurrentReplicas)
	if err != nil {
		return r.errorStatus(ctx, obj, err.Error())
	}
	status.LastTriggerValue = &value
	now := r.now()

	// Guard 1: cooldown since the last scale operation.
	if cd := time.Duration(spec.CooldownSeconds) * time.Second; cd > 0 &&
		status.LastScaleTime != nil && now.Sub(*status.LastScaleTime) < cd {
		return r.setStatus(ctx, obj, status)
	}

	// Guard 2: a changed desired value restarts the stabilization window.
	if desired != status.DesiredReplicas || status.StabilizationStart == nil {
		status.DesiredReplicas = desired
		status.StabilizationStart = &now
		return r.setStatus(ctx, obj, status)
	}

	// Guard 3: the desired value must hold for the stabilization window.
	if st := time.Duration(spec.StabilizationSeconds) * time.Second; st > 0 &&
		now.Sub(*status.StabilizationStart) < st {
		return r.setStatus(ctx, obj, status)
	}

	if desired == status.CurrentReplicas {
		return r.setStatus(ctx, obj, status)
	}

	// Guard 4: budget projection cancels scale-ups.
	if desired > status.CurrentReplicas && spec.Budget.MaxCostPerHour > 0 {
		projected := float64(desired) * spec.Budget.CostPerReplicaHour
		if projected > spec.Budget.MaxCostPerHour {
			status.DesiredReplicas = status.CurrentReplicas
			status.Message = fmt.Sprintf("scale-up cancelled: projected $%.2f/h exceeds budget", projected)
			r.logger.Warn("swarm scale-up over budget",
				"swarm", obj.Key(), "projected", projected, "max", spec.Budget.MaxCostPerHour)
			return r.setStatus(ctx, obj, status)
		}
	}

	if desired > status.CurrentReplicas {
		if err := r.scaleUp(ctx, obj, spec, status.CurrentReplicas, desired); err != nil {
			return err
		}
		scaleEvents.WithLabelValues(obj.Meta.Name, "up").Inc()
	} else {
		if err := r.scaleDown(ctx, obj, spec, status.CurrentReplicas, desired); err != nil {
			return err
		}
		scaleEvents.WithLabelValues(obj.Meta.Name, "down").Inc()
	}

	r.logger.Info("swarm scaled",
		"swarm", obj.Key(), "from", status.CurrentReplicas, "to", desired, "trigger", value)
	status.CurrentReplicas = desired
	status.LastScaleTime = &now
	status.Message = ""
	return r.setStatus(ctx, obj, status)
}

// ReconcileFailed writes an Error phase after retries are spent.
func (r *Reconciler) ReconcileFailed(ctx context.Context, ev resource.WatchEvent, err error) {
	if ev.Type == resource.WatchDeleted {
		return
	}
	if serr := r.errorStatus(ctx, ev.Object, fmt.Sprintf("reconcile failed: %v", err)); serr != nil {
		r.logger.Error("write error status", "swarm", ev.Object.Key(), "error", serr)
	}
}

// evaluate samples the trigger and computes the clamped desired replica
// count.
func (r *Reconciler) evaluate(ctx context.Context, spec resource.SwarmSpec, current int) (float64, int, error) {
	step := spec.Trigger.Step
	if step <= 0 {
		step = 1
	}

	var value float64
	switch spec.Trigger.Type {
	case resource.TriggerQueueDepth:
		if spec.Trigger.Subject == "" {
			return 0, 0, fmt.Errorf("queue_depth trigger requires subject")
		}
		depth, err := r.bus.QueueDepth(ctx, envelope.StreamInbox, spec.Trigger.Subject)
		if err != nil {
			return 0, 0, fmt.Errorf("sample queue depth: %w", err)
		}
		value = float64(depth)

	case resource.TriggerMetric:
		if spec.Trigger.Metric == "" {
			return 0, 0, fmt.Errorf("metric trigger requires metric")
		}
		value = r.metrics.Value(spec.Trigger.Metric)

	case resource.TriggerSchedule:
		due, err := r.scheduleDue(spec.Trigger.Schedule)
		if err != nil {
			return 0, 0, err
		}
		// Schedule triggers jump straight to the bounds.
		if due {
			return 1, spec.MaxReplicas, nil
		}
		return 0, spec.MinReplicas, nil

	case resource.TriggerBudgetEfficiency:
		// Cost/throughput signal; no external source reports it yet, so the
		// swarm holds its current size.
		return 0, clamp(current, spec.MinReplicas, spec.MaxReplicas), nil

	default:
		return 0, 0, fmt.Errorf("unknown trigger type %q", spec.Trigger.Type)
	}

	desired := current
	switch {
	case value > spec.Trigger.ScaleUpAbove:
		desired = current + step
	case value < spec.Trigger.ScaleDownBelow:
		desired = current - step
	}
	return value, clamp(desired, spec.MinReplicas, spec.MaxReplicas), nil
}

// scheduleDue evaluates a cron expression, accepting a bare minute pattern
// ("*/5", "*") as shorthand.
func (r *Reconciler) scheduleDue(expr string) (bool, error) {
	if expr == "" {
		return false, fmt.Errorf("schedule trigger requires schedule")
	}
	if !strings.Contains(expr, " ") {
		expr += " * * * *"
	}
	due, err := r.cron.IsDue(expr, r.now())
	if err != nil {
		return false, fmt.Errorf("bad schedule %q: %w", expr, err)
	}
	return due, nil
}

func (r *Reconciler) scaleUp(ctx context.Context, obj *resource.Object, spec resource.SwarmSpec, from, to int) error {
	for i := from; i < to; i++ {
		name := fmt.Sprintf("%s-%d", obj.Meta.Name, i)
		cell, err := resource.New(resource.KindCell, obj.Meta.Namespace, name, spec.CellTemplate)
		if err != nil {
			return err
		}
		cell.Meta.Labels = map[string]string{LabelSwarm: obj.Meta.Name}
		if obj.Meta.UID != "" {
			cell.Meta.OwnerReferences = []resource.OwnerReference{{
				Kind: resource.KindSwarm, Name: obj.Meta.Name, UID: obj.Meta.UID,
			}}
		}
		if _, err := r.resources.Create(ctx, cell); err != nil {
			return fmt.Errorf("create replica %s: %w", name, err)
		}
	}
	return nil
}

// scaleDown drains and deletes the most recently created replicas first.
func (r *Reconciler) scaleDown(ctx context.Context, obj *resource.Object, spec resource.SwarmSpec, from, to int) error {
	for i := from - 1; i >= to; i-- {
		name := fmt.Sprintf("%s-%d", obj.Meta.Name, i)

		ctrl := envelope.NewControl("swarm:"+obj.Meta.Name, name, envelope.ControlPayload{
			Command:            "drain",
			GracePeriodSeconds: spec.GracePeriodSeconds,
			Reason:             "scale down",
		})
		data, err := ctrl.Marshal()
		if err != nil {
			return err
		}
		if err := r.bus.Publish(ctx, envelope.ControlSubject(obj.Meta.Namespace, name), data); err != nil {
			r.logger.Warn("drain publish failed", "cell", name, "error", err)
		}
		if grace := time.Duration(spec.GracePeriodSeconds) * time.Second; grace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(grace):
			}
		}
		if err := r.resources.Delete(ctx, resource.KindCell, obj.Meta.Namespace, name); err != nil {
			return fmt.Errorf("delete replica %s: %w", name, err)
		}
	}
	return nil
}

func (r *Reconciler) errorStatus(ctx context.Context, obj *resource.Object, message string) error {
	var status resource.SwarmStatus
	_ = obj.DecodeStatus(&status)
	status.Phase = resource.SwarmError
	status.Message = message
	return r.setStatus(ctx, obj, status)
}

func (r *Reconciler) setStatus(ctx context.Context, obj *resource.Object, status resource.SwarmStatus) error {
	_, err := r.resources.SetStatus(ctx, resource.KindSwarm, obj.Meta.Namespace, obj.Meta.Name, status)
	if err != nil {
		return fmt.Errorf("write swarm status: %w", err)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
