package evolution

import (
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/c360studio/cellmesh/resource"
)

// mutationDelta scales numeric mutation to a tenth of the gene's range.
const mutationDelta = 0.1

// selectParent picks one parent from the evaluated pool, best first.
func selectParent(sorted []*Individual, method resource.SelectionMethod, rng *rand.Rand) (*Individual, error) {
	if len(sorted) == 0 {
		return nil, fmt.Errorf("no evaluated individuals to select from")
	}
	switch method {
	case resource.SelectTournament, "":
		a := sorted[rng.IntN(len(sorted))]
		b := sorted[rng.IntN(len(sorted))]
		if *a.Fitness >= *b.Fitness {
			return a, nil
		}
		return b, nil

	case resource.SelectRoulette:
		// Shift so the worst individual still gets a sliver of probability.
		minFit := *sorted[len(sorted)-1].Fitness
		offset := 0.0
		if minFit <= 0 {
			offset = -minFit + 1e-9
		}
		var total float64
		for _, ind := range sorted {
			total += *ind.Fitness + offset
		}
		r := rng.Float64() * total
		for _, ind := range sorted {
			r -= *ind.Fitness + offset
			if r <= 0 {
				return ind, nil
			}
		}
		return sorted[len(sorted)-1], nil

	case resource.SelectRank:
		// Rank 1 is worst; probability proportional to rank.
		n := len(sorted)
		total := n * (n + 1) / 2
		r := rng.IntN(total)
		for i, ind := range sorted {
			r -= n - i
			if r < 0 {
				return ind, nil
			}
		}
		return sorted[0], nil

	default:
		return nil, fmt.Errorf("unknown selection method %q", method)
	}
}

// crossover combines two parents into a child gene map.
func crossover(p1, p2 *Individual, method resource.CrossoverMethod, rng *rand.Rand) (map[string]string, error) {
	genes := sortedKeys(p1.Genes)
	child := make(map[string]string, len(genes))

	switch method {
	case resource.CrossUniform, "":
		for _, g := range genes {
			if rng.Float64() < 0.5 {
				child[g] = p1.Genes[g]
			} else {
				child[g] = p2.Genes[g]
			}
		}

	case resource.CrossSinglePoint:
		cut := rng.IntN(len(genes) + 1)
		for i, g := range genes {
			if i < cut {
				child[g] = p1.Genes[g]
			} else {
				child[g] = p2.Genes[g]
			}
		}

	case resource.CrossTwoPoint:
		a := rng.IntN(len(genes) + 1)
		b := rng.IntN(len(genes) + 1)
		if a > b {
			a, b = b, a
		}
		for i, g := range genes {
			if i >= a && i < b {
				child[g] = p2.Genes[g]
			} else {
				child[g] = p1.Genes[g]
			}
		}

	default:
		return nil, fmt.Errorf("unknown crossover method %q", method)
	}
	return child, nil
}

// mutate rewrites one gene value within its domain, avoiding the current
// value for discrete genes when an alternative exists.
func mutate(current string, g resource.GeneSpec, rng *rand.Rand) (string, error) {
	switch g.Type {
	case resource.GeneEnum, resource.GeneString:
		if len(g.Values) == 0 {
			return "", fmt.Errorf("%s gene requires values", g.Type)
		}
		// Draw from the distinct alternatives; duplicated values must not
		// spin the loop forever.
		alternatives := make([]string, 0, len(g.Values))
		seen := make(map[string]bool, len(g.Values))
		for _, v := range g.Values {
			if v != current && !seen[v] {
				seen[v] = true
				alternatives = append(alternatives, v)
			}
		}
		if len(alternatives) == 0 {
			return current, nil
		}
		return alternatives[rng.IntN(len(alternatives))], nil

	case resource.GeneNumeric:
		cur, err := strconv.ParseFloat(current, 64)
		if err != nil {
			return "", fmt.Errorf("numeric gene value %q: %w", current, err)
		}
		span := g.Max - g.Min
		delta := (rng.Float64()*2 - 1) * mutationDelta * span
		v := cur + delta
		if v < g.Min {
			v = g.Min
		}
		if v > g.Max {
			v = g.Max
		}
		return formatNumeric(v), nil

	default:
		return "", fmt.Errorf("unknown gene type %q", g.Type)
	}
}
