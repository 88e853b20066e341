package resource

// EvolutionPhase is the lifecycle phase of an evolution run.
type EvolutionPhase string

const (
	EvolutionPending   EvolutionPhase = "Pending"
	EvolutionRunning   EvolutionPhase = "Running"
	EvolutionAnalyzing EvolutionPhase = "Analyzing"
	EvolutionCompleted EvolutionPhase = "Completed"
	EvolutionFailed    EvolutionPhase = "Failed"
	EvolutionAborted   EvolutionPhase = "Aborted"
)

// GeneType is the value domain of one gene.
type GeneType string

const (
	GeneEnum    GeneType = "enum"
	GeneNumeric GeneType = "numeric"
	GeneString  GeneType = "string"
)

// GeneSpec declares one gene's domain.
type GeneSpec struct {
	Type GeneType `json:"type"`
	// Values enumerates choices for enum and string genes.
	Values []string `json:"values,omitempty"`
	// Min/Max bound numeric genes.
	Min float64 `json:"min,omitempty"`
	Max float64 `json:"max,omitempty"`
}

// SelectionMethod picks parents for crossover.
type SelectionMethod string

const (
	SelectTournament SelectionMethod = "tournament"
	SelectRoulette   SelectionMethod = "roulette"
	SelectRank       SelectionMethod = "rank"
)

// CrossoverMethod combines two parents into a child.
type CrossoverMethod string

const (
	CrossUniform     CrossoverMethod = "uniform"
	CrossSinglePoint CrossoverMethod = "single_point"
	CrossTwoPoint    CrossoverMethod = "two_point"
)

// MutationSpec sets the per-gene mutation probability.
type MutationSpec struct {
	Rate float64 `json:"rate,omitempty"`
}

// EvolutionBudget caps GA spend.
type EvolutionBudget struct {
	MaxTotalCost      float64 `json:"maxTotalCost,omitempty"`
	CostPerEval       float64 `json:"costPerEval,omitempty"`
	AbortOnOverBudget bool    `json:"abortOnOverBudget,omitempty"`
}

// EvolutionSpec declares a GA search over gene assignments.
type EvolutionSpec struct {
	Genes map[string]GeneSpec `json:"genes"`

	PopulationSize   int     `json:"populationSize"`
	MaxGenerations   int     `json:"maxGenerations"`
	FitnessThreshold float64 `json:"fitnessThreshold,omitempty"`
	StagnationLimit  int     `json:"stagnationLimit,omitempty"`
	Elitism          int     `json:"elitism,omitempty"`

	Selection SelectionMethod `json:"selection,omitempty"`
	Crossover CrossoverMethod `json:"crossover,omitempty"`
	Mutation  MutationSpec    `json:"mutation,omitempty"`

	Budget EvolutionBudget `json:"budget,omitempty"`
}

// EvolutionStatus is written by the evolution controller.
type EvolutionStatus struct {
	Phase          EvolutionPhase     `json:"phase,omitempty"`
	Generation     int                `json:"generation"`
	BestFitness    *float64           `json:"bestFitness,omitempty"`
	BestGenes      map[string]string  `json:"bestGenes,omitempty"`
	TotalCost      float64            `json:"totalCost"`
	FitnessHistory []float64          `json:"fitnessHistory,omitempty"`
	GeneImportance map[string]float64 `json:"geneImportance,omitempty"`
	Message        string             `json:"message,omitempty"`
}
