package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/c360studio/cellmesh/resource"
)

// Reconciler is the evolution controller. Population state is process-local;
// a restart mid-run sends the resource straight to Analyzing with whatever
// status survived.
type Reconciler struct {
	resources resource.Store
	fitness   FitnessEvaluator
	logger    *slog.Logger

	mu          sync.Mutex
	populations map[string]*Population
	rng         *rand.Rand
}

// Option configures the reconciler.
type Option func(*Reconciler)

// WithFitness overrides the default hash evaluator.
func WithFitness(f FitnessEvaluator) Option {
	return func(r *Reconciler) { r.fitness = f }
}

// WithRand seeds the random source. Tests pin it for determinism.
func WithRand(rng *rand.Rand) Option {
	return func(r *Reconciler) { r.rng = rng }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler builds the evolution controller.
func NewReconciler(resources resource.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		resources:   resources,
		fitness:     HashFitness{},
		logger:      slog.Default(),
		populations: make(map[string]*Population),
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("controller", "evolution")
	return r
}

// Kind implements controller.Reconciler.
func (r *Reconciler) Kind() resource.Kind { return resource.KindEvolution }

// Reconcile advances one evolution run.
func (r *Reconciler) Reconcile(ctx context.Context, ev resource.WatchEvent) error {
	obj := ev.Object
	if ev.Type == resource.WatchDeleted {
		r.mu.Lock()
		delete(r.populations, obj.Key())
		r.mu.Unlock()
		return nil
	}

	var spec resource.EvolutionSpec
	if err := obj.DecodeSpec(&spec); err != nil {
		return r.fail(ctx, obj, resource.EvolutionStatus{}, fmt.Sprintf("invalid spec: %v", err))
	}
	var status resource.EvolutionStatus
	if err := obj.DecodeStatus(&status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	switch status.Phase {
	case "", resource.EvolutionPending:
		return r.initialize(ctx, obj, spec, status)
	case resource.EvolutionRunning:
		return r.tick(ctx, obj, spec, status)
	case resource.EvolutionAnalyzing:
		return r.analyze(ctx, obj, status)
	default:
		// Completed, Failed, Aborted are absorbing.
		return nil
	}
}

// ReconcileFailed writes a terminal Failed status after retries are spent.
func (r *Reconciler) ReconcileFailed(ctx context.Context, ev resource.WatchEvent, err error) {
	obj := ev.Object
	var status resource.EvolutionStatus
	_ = obj.DecodeStatus(&status)
	switch status.Phase {
	case resource.EvolutionCompleted, resource.EvolutionFailed, resource.EvolutionAborted:
		return
	}
	if serr := r.fail(ctx, obj, status, fmt.Sprintf("reconcile failed: %v", err)); serr != nil {
		r.logger.Error("write failed status", "evolution", obj.Key(), "error", serr)
	}
}

// initialize validates the spec, applies the cost estimate gate, and builds
// generation zero.
func (r *Reconciler) initialize(ctx context.Context, obj *resource.Object, spec resource.EvolutionSpec, status resource.EvolutionStatus) error {
	if spec.PopulationSize <= 0 || spec.MaxGenerations <= 0 || len(spec.Genes) == 0 {
		return r.fail(ctx, obj, status, "populationSize, maxGenerations, and genes are required")
	}

	if spec.Budget.AbortOnOverBudget && spec.Budget.MaxTotalCost > 0 {
		estimate := float64(spec.PopulationSize) * float64(spec.MaxGenerations) * spec.Budget.CostPerEval
		if estimate > spec.Budget.MaxTotalCost {
			return r.fail(ctx, obj, status, fmt.Sprintf(
				"estimated cost $%.2f exceeds budget $%.2f", estimate, spec.Budget.MaxTotalCost))
		}
	}

	r.mu.Lock()
	pop, err := newPopulation(spec, r.rng)
	if err == nil {
		r.populations[obj.Key()] = pop
	}
	r.mu.Unlock()
	if err != nil {
		return r.fail(ctx, obj, status, err.Error())
	}

	status.Phase = resource.EvolutionRunning
	status.Generation = 0
	r.logger.Info("evolution started",
		"evolution", obj.Key(), "population", spec.PopulationSize, "genes", len(spec.Genes))
	return r.setStatus(ctx, obj, status)
}

// tick evaluates the current generation and either stops or breeds the next.
func (r *Reconciler) tick(ctx context.Context, obj *resource.Object, spec resource.EvolutionSpec, status resource.EvolutionStatus) error {
	r.mu.Lock()
	pop := r.populations[obj.Key()]
	r.mu.Unlock()
	if pop == nil {
		// Controller restarted mid-run; salvage what the status holds.
		status.Message = "population lost, analyzing partial results"
		r.logger.Warn("population state lost", "evolution", obj.Key())
		status.Phase = resource.EvolutionAnalyzing
		return r.setStatus(ctx, obj, status)
	}

	for _, ind := range pop.Individuals {
		if ind.Fitness != nil {
			continue
		}
		f, err := r.fitness.Evaluate(ctx, ind.Genes)
		if err != nil {
			return fmt.Errorf("evaluate fitness: %w", err)
		}
		ind.Fitness = &f
		status.TotalCost += spec.Budget.CostPerEval
	}

	if best := pop.best(); best != nil {
		if status.BestFitness == nil || *best.Fitness > *status.BestFitness {
			f := *best.Fitness
			status.BestFitness = &f
			status.BestGenes = cloneGenes(best.Genes)
		}
		status.FitnessHistory = append(status.FitnessHistory, *best.Fitness)
	}

	if reason := r.stopReason(spec, status); reason != "" {
		status.Message = reason
		status.Phase = resource.EvolutionAnalyzing
		r.logger.Info("evolution stopping", "evolution", obj.Key(), "reason", reason)
		return r.setStatus(ctx, obj, status)
	}

	next, err := r.breed(spec, pop)
	if err != nil {
		return r.fail(ctx, obj, status, err.Error())
	}
	r.mu.Lock()
	r.populations[obj.Key()] = next
	r.mu.Unlock()

	status.Generation = next.Generation
	return r.setStatus(ctx, obj, status)
}

func (r *Reconciler) stopReason(spec resource.EvolutionSpec, status resource.EvolutionStatus) string {
	if spec.Budget.MaxTotalCost > 0 && status.TotalCost >= spec.Budget.MaxTotalCost {
		return "budget limit reached"
	}
	if status.Generation >= spec.MaxGenerations-1 {
		return "max generations reached"
	}
	if spec.FitnessThreshold > 0 && status.BestFitness != nil &&
		*status.BestFitness >= spec.FitnessThreshold {
		return "fitness threshold reached"
	}
	if n := spec.StagnationLimit; n > 1 && len(status.FitnessHistory) >= n {
		tail := status.FitnessHistory[len(status.FitnessHistory)-n:]
		stagnant := true
		for _, f := range tail[1:] {
			if f != tail[0] {
				stagnant = false
				break
			}
		}
		if stagnant {
			return "fitness stagnated"
		}
	}
	return ""
}

// breed builds the next generation: elites carried over, the rest from
// select, crossover, mutate.
func (r *Reconciler) breed(spec resource.EvolutionSpec, pop *Population) (*Population, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sorted := pop.sortedByFitness()
	next := &Population{
		Generation:  pop.Generation + 1,
		Individuals: make([]*Individual, 0, spec.PopulationSize),
	}

	for i := 0; i < spec.Elitism && i < len(sorted); i++ {
		elite := sorted[i]
		f := *elite.Fitness
		next.Individuals = append(next.Individuals, &Individual{
			ID:         elite.ID,
			Genes:      cloneGenes(elite.Genes),
			Fitness:    &f,
			Generation: next.Generation,
		})
	}

	for len(next.Individuals) < spec.PopulationSize {
		p1, err := selectParent(sorted, spec.Selection, r.rng)
		if err != nil {
			return nil, err
		}
		p2, err := selectParent(sorted, spec.Selection, r.rng)
		if err != nil {
			return nil, err
		}
		genes, err := crossover(p1, p2, spec.Crossover, r.rng)
		if err != nil {
			return nil, err
		}
		for name, g := range spec.Genes {
			if r.rng.Float64() < spec.Mutation.Rate {
				mutated, err := mutate(genes[name], g, r.rng)
				if err != nil {
					return nil, err
				}
				genes[name] = mutated
			}
		}
		next.Individuals = append(next.Individuals, &Individual{
			ID:         newID(r.rng),
			Genes:      genes,
			Generation: next.Generation,
		})
	}
	return next, nil
}

// analyze writes per-gene importance and completes the run.
func (r *Reconciler) analyze(ctx context.Context, obj *resource.Object, status resource.EvolutionStatus) error {
	r.mu.Lock()
	pop := r.populations[obj.Key()]
	delete(r.populations, obj.Key())
	r.mu.Unlock()

	if pop != nil {
		status.GeneImportance = geneImportance(pop.Individuals)
	}
	status.Phase = resource.EvolutionCompleted
	r.logger.Info("evolution completed",
		"evolution", obj.Key(), "generations", status.Generation, "cost", status.TotalCost)
	return r.setStatus(ctx, obj, status)
}

func (r *Reconciler) fail(ctx context.Context, obj *resource.Object, status resource.EvolutionStatus, message string) error {
	r.mu.Lock()
	delete(r.populations, obj.Key())
	r.mu.Unlock()

	status.Phase = resource.EvolutionFailed
	status.Message = message
	r.logger.Warn("evolution failed", "evolution", obj.Key(), "reason", message)
	return r.setStatus(ctx, obj, status)
}

func (r *Reconciler) setStatus(ctx context.Context, obj *resource.Object, status resource.EvolutionStatus) error {
	_, err := r.resources.SetStatus(ctx, resource.KindEvolution, obj.Meta.Namespace, obj.Meta.Name, status)
	if err != nil {
		return fmt.Errorf("write evolution status: %w", err)
	}
	return nil
}

func cloneGenes(genes map[string]string) map[string]string {
	out := make(map[string]string, len(genes))
	for k, v := range genes {
		out[k] = v
	}
	return out
}

func newID(rng *rand.Rand) string {
	return fmt.Sprintf("ind-%08x", rng.Uint32())
}
