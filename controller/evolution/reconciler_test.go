package evolution

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/cellmesh/resource"
)

type scriptedFitness struct {
	fn    func(genes map[string]string) float64
	calls int
}

func (s *scriptedFitness) Evaluate(_ context.Context, genes map[string]string) (float64, error) {
	s.calls++
	return s.fn(genes), nil
}

type evoFixture struct {
	store *resource.InMemStore
	rec   *Reconciler
}

func newEvoFixture(t *testing.T, fitness FitnessEvaluator) *evoFixture {
	t.Helper()
	f := &evoFixture{store: resource.NewInMemStore()}
	opts := []Option{WithRand(rand.New(rand.NewPCG(1, 0)))}
	if fitness != nil {
		opts = append(opts, WithFitness(fitness))
	}
	f.rec = NewReconciler(f.store, opts...)
	return f
}

func (f *evoFixture) create(t *testing.T, name string, spec resource.EvolutionSpec) {
	t.Helper()
	obj, err := resource.New(resource.KindEvolution, "default", name, spec)
	require.NoError(t, err)
	_, err = f.store.Create(context.Background(), obj)
	require.NoError(t, err)
}

func (f *evoFixture) reconcile(t *testing.T, name string) resource.EvolutionStatus {
	t.Helper()
	ctx := context.Background()
	obj, err := f.store.Get(ctx, resource.KindEvolution, "default", name)
	require.NoError(t, err)
	require.NoError(t, f.rec.Reconcile(ctx, resource.WatchEvent{Type: resource.WatchModified, Object: obj}))

	obj, err = f.store.Get(ctx, resource.KindEvolution, "default", name)
	require.NoError(t, err)
	var status resource.EvolutionStatus
	require.NoError(t, obj.DecodeStatus(&status))
	return status
}

func (f *evoFixture) runUntilTerminal(t *testing.T, name string) resource.EvolutionStatus {
	t.Helper()
	var status resource.EvolutionStatus
	for i := 0; i < 50; i++ {
		status = f.reconcile(t, name)
		switch status.Phase {
		case resource.EvolutionCompleted, resource.EvolutionFailed, resource.EvolutionAborted:
			return status
		}
	}
	t.Fatalf("run did not terminate, stuck at %s", status.Phase)
	return status
}

func strategySpec() resource.EvolutionSpec {
	return resource.EvolutionSpec{
		Genes: map[string]resource.GeneSpec{
			"strategy": {Type: resource.GeneEnum, Values: []string{"greedy", "patient"}},
		},
		PopulationSize: 6,
		MaxGenerations: 2,
		Elitism:        1,
		Budget:         resource.EvolutionBudget{CostPerEval: 0.5},
	}
}

// strategyFitness rewards one gene value so importance analysis has signal.
func strategyFitness(genes map[string]string) float64 {
	if genes["strategy"] == "patient" {
		return 0.8
	}
	return 0.2
}

func TestEvolutionInitializes(t *testing.T) {
	f := newEvoFixture(t, nil)
	f.create(t, "tune", strategySpec())

	status := f.reconcile(t, "tune")
	assert.Equal(t, resource.EvolutionRunning, status.Phase)
	assert.Equal(t, 0, status.Generation)
}

func TestEvolutionRunsToCompletion(t *testing.T) {
	fitness := &scriptedFitness{fn: strategyFitness}
	f := newEvoFixture(t, fitness)
	f.create(t, "tune", strategySpec())

	status := f.runUntilTerminal(t, "tune")
	assert.Equal(t, resource.EvolutionCompleted, status.Phase)
	assert.Equal(t, "max generations reached", status.Message)
	assert.Len(t, status.FitnessHistory, 2)
	require.NotNil(t, status.BestFitness)
	assert.Greater(t, *status.BestFitness, 0.0)
	assert.Contains(t, status.GeneImportance, "strategy")

	// Generation 0 evaluates all six; generation 1 skips the carried elite.
	assert.Equal(t, 11, fitness.calls)
	assert.InDelta(t, 5.5, status.TotalCost, 1e-9)
}

func TestEvolutionCostEstimateAborts(t *testing.T) {
	f := newEvoFixture(t, nil)
	spec := strategySpec()
	spec.PopulationSize = 10
	spec.MaxGenerations = 10
	spec.Budget = resource.EvolutionBudget{
		MaxTotalCost:      50,
		CostPerEval:       1,
		AbortOnOverBudget: true,
	}
	f.create(t, "tune", spec)

	status := f.reconcile(t, "tune")
	assert.Equal(t, resource.EvolutionFailed, status.Phase)
	assert.Contains(t, status.Message, "estimated cost $100.00 exceeds budget $50.00")
}

func TestEvolutionBudgetStopsMidRun(t *testing.T) {
	fitness := &scriptedFitness{fn: strategyFitness}
	f := newEvoFixture(t, fitness)
	spec := strategySpec()
	spec.MaxGenerations = 10
	spec.Budget = resource.EvolutionBudget{MaxTotalCost: 3, CostPerEval: 1}
	f.create(t, "tune", spec)

	f.reconcile(t, "tune") // initialize
	status := f.reconcile(t, "tune")
	assert.Equal(t, resource.EvolutionAnalyzing, status.Phase)
	assert.Equal(t, "budget limit reached", status.Message)
	assert.InDelta(t, 6.0, status.TotalCost, 1e-9)
}

func TestEvolutionFitnessThresholdStops(t *testing.T) {
	fitness := &scriptedFitness{fn: func(map[string]string) float64 { return 0.99 }}
	f := newEvoFixture(t, fitness)
	spec := strategySpec()
	spec.MaxGenerations = 10
	spec.FitnessThreshold = 0.9
	f.create(t, "tune", spec)

	status := f.runUntilTerminal(t, "tune")
	assert.Equal(t, resource.EvolutionCompleted, status.Phase)
	assert.Equal(t, "fitness threshold reached", status.Message)
	assert.Equal(t, 0, status.Generation, "should stop in the first generation")
}

func TestEvolutionStagnationStops(t *testing.T) {
	fitness := &scriptedFitness{fn: func(map[string]string) float64 { return 0.4 }}
	f := newEvoFixture(t, fitness)
	spec := strategySpec()
	spec.MaxGenerations = 20
	spec.StagnationLimit = 3
	f.create(t, "tune", spec)

	status := f.runUntilTerminal(t, "tune")
	assert.Equal(t, resource.EvolutionCompleted, status.Phase)
	assert.Equal(t, "fitness stagnated", status.Message)
	assert.Len(t, status.FitnessHistory, 3)
}

func TestEvolutionStateLossAnalyzesPartialResults(t *testing.T) {
	fitness := &scriptedFitness{fn: strategyFitness}
	f := newEvoFixture(t, fitness)
	spec := strategySpec()
	spec.MaxGenerations = 10
	f.create(t, "tune", spec)
	f.reconcile(t, "tune") // Running, population in memory

	// A fresh reconciler over the same store has no population state.
	restarted := NewReconciler(f.store, WithFitness(fitness))
	ctx := context.Background()
	obj, err := f.store.Get(ctx, resource.KindEvolution, "default", "tune")
	require.NoError(t, err)
	require.NoError(t, restarted.Reconcile(ctx, resource.WatchEvent{Type: resource.WatchModified, Object: obj}))

	obj, err = f.store.Get(ctx, resource.KindEvolution, "default", "tune")
	require.NoError(t, err)
	var status resource.EvolutionStatus
	require.NoError(t, obj.DecodeStatus(&status))
	assert.Equal(t, resource.EvolutionAnalyzing, status.Phase)
	assert.Equal(t, "population lost, analyzing partial results", status.Message)

	require.NoError(t, restarted.Reconcile(ctx, resource.WatchEvent{Type: resource.WatchModified, Object: obj}))
	obj, err = f.store.Get(ctx, resource.KindEvolution, "default", "tune")
	require.NoError(t, err)
	require.NoError(t, obj.DecodeStatus(&status))
	assert.Equal(t, resource.EvolutionCompleted, status.Phase)
	assert.Nil(t, status.GeneImportance)
}

func TestEvolutionMissingFieldsFail(t *testing.T) {
	f := newEvoFixture(t, nil)
	f.create(t, "tune", resource.EvolutionSpec{PopulationSize: 5})
	status := f.reconcile(t, "tune")
	assert.Equal(t, resource.EvolutionFailed, status.Phase)
	assert.Contains(t, status.Message, "required")
}

func TestEvolutionTerminalPhasesAbsorb(t *testing.T) {
	f := newEvoFixture(t, nil)
	f.create(t, "tune", strategySpec())
	ctx := context.Background()
	_, err := f.store.SetStatus(ctx, resource.KindEvolution, "default", "tune",
		resource.EvolutionStatus{Phase: resource.EvolutionAborted, Message: "operator stop"})
	require.NoError(t, err)

	status := f.reconcile(t, "tune")
	assert.Equal(t, resource.EvolutionAborted, status.Phase)
	assert.Equal(t, "operator stop", status.Message)
}
