// Package evolution runs a genetic-algorithm search over gene assignments:
// random initialization, fitness evaluation, selection, crossover, mutation,
// and a final per-gene importance analysis.
package evolution

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/c360studio/cellmesh/resource"
)

// Individual is one gene assignment with its measured fitness.
type Individual struct {
	ID         string
	Genes      map[string]string
	Fitness    *float64
	Generation int
}

// Population is the in-memory GA state for one evolution resource.
type Population struct {
	Individuals []*Individual
	Generation  int
}

// FitnessEvaluator scores one gene assignment. Evaluations may be expensive;
// the controller only evaluates individuals lacking a fitness.
type FitnessEvaluator interface {
	Evaluate(ctx context.Context, genes map[string]string) (float64, error)
}

// HashFitness is the default evaluator: a deterministic hash of the genes
// mapped into [0, 1). It stands in until fitness is wired to real mission
// runs.
type HashFitness struct{}

// Evaluate implements FitnessEvaluator.
func (HashFitness) Evaluate(_ context.Context, genes map[string]string) (float64, error) {
	h := fnv.New64a()
	for _, k := range sortedKeys(genes) {
		fmt.Fprintf(h, "%s=%s;", k, genes[k])
	}
	return float64(h.Sum64()%10000) / 10000, nil
}

// newPopulation builds size random individuals from the gene domains.
func newPopulation(spec resource.EvolutionSpec, rng *rand.Rand) (*Population, error) {
	p := &Population{Individuals: make([]*Individual, 0, spec.PopulationSize)}
	for i := 0; i < spec.PopulationSize; i++ {
		genes := make(map[string]string, len(spec.Genes))
		for name, g := range spec.Genes {
			v, err := randomGene(g, rng)
			if err != nil {
				return nil, fmt.Errorf("gene %s: %w", name, err)
			}
			genes[name] = v
		}
		p.Individuals = append(p.Individuals, &Individual{
			ID:    uuid.New().String(),
			Genes: genes,
		})
	}
	return p, nil
}

func randomGene(g resource.GeneSpec, rng *rand.Rand) (string, error) {
	switch g.Type {
	case resource.GeneEnum, resource.GeneString:
		if len(g.Values) == 0 {
			return "", fmt.Errorf("%s gene requires values", g.Type)
		}
		return g.Values[rng.IntN(len(g.Values))], nil
	case resource.GeneNumeric:
		if g.Max < g.Min {
			return "", fmt.Errorf("numeric gene requires min <= max")
		}
		return formatNumeric(g.Min + rng.Float64()*(g.Max-g.Min)), nil
	default:
		return "", fmt.Errorf("unknown gene type %q", g.Type)
	}
}

func formatNumeric(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// best returns the highest-fitness evaluated individual, or nil.
func (p *Population) best() *Individual {
	var best *Individual
	for _, ind := range p.Individuals {
		if ind.Fitness == nil {
			continue
		}
		if best == nil || *ind.Fitness > *best.Fitness {
			best = ind
		}
	}
	return best
}

// sortedByFitness returns evaluated individuals, best first.
func (p *Population) sortedByFitness() []*Individual {
	out := make([]*Individual, 0, len(p.Individuals))
	for _, ind := range p.Individuals {
		if ind.Fitness != nil {
			out = append(out, ind)
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].Fitness > *out[j].Fitness })
	return out
}

// geneImportance computes eta-squared per gene: the share of fitness
// variance explained by grouping individuals on that gene's value.
func geneImportance(individuals []*Individual) map[string]float64 {
	evaluated := make([]*Individual, 0, len(individuals))
	for _, ind := range individuals {
		if ind.Fitness != nil {
			evaluated = append(evaluated, ind)
		}
	}
	if len(evaluated) == 0 {
		return nil
	}

	var mean float64
	for _, ind := range evaluated {
		mean += *ind.Fitness
	}
	mean /= float64(len(evaluated))

	var ssTotal float64
	for _, ind := range evaluated {
		d := *ind.Fitness - mean
		ssTotal += d * d
	}

	genes := sortedKeys(evaluated[0].Genes)
	out := make(map[string]float64, len(genes))
	for _, gene := range genes {
		if ssTotal == 0 {
			out[gene] = 0
			continue
		}
		groups := make(map[string][]float64)
		for _, ind := range evaluated {
			groups[ind.Genes[gene]] = append(groups[ind.Genes[gene]], *ind.Fitness)
		}
		var ssBetween float64
		for _, fs := range groups {
			var gm float64
			for _, f := range fs {
				gm += f
			}
			gm /= float64(len(fs))
			d := gm - mean
			ssBetween += float64(len(fs)) * d * d
		}
		out[gene] = ssBetween / ssTotal
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
