package resource

// FormationPhase is the aggregate lifecycle phase of a formation.
type FormationPhase string

const (
	FormationPending   FormationPhase = "Pending"
	FormationRunning   FormationPhase = "Running"
	FormationPaused    FormationPhase = "Paused"
	FormationCompleted FormationPhase = "Completed"
	FormationFailed    FormationPhase = "Failed"
)

// TopologyType selects how cells in a formation may address each other.
type TopologyType string

const (
	TopologyFullMesh  TopologyType = "full_mesh"
	TopologyHierarchy TopologyType = "hierarchy"
	TopologyStar      TopologyType = "star"
	TopologyRing      TopologyType = "ring"
	TopologyCustom    TopologyType = "custom"
	TopologyStigmergy TopologyType = "stigmergy"
)

// TopologySpec declares the routing shape of a formation.
type TopologySpec struct {
	Type TopologyType `json:"type,omitempty"`
	// Hub names the center cell for star topologies. Defaults to the first
	// template's first replica.
	Hub string `json:"hub,omitempty"`
	// Routes lists explicit edges for custom topologies: source -> dests.
	Routes map[string][]string `json:"routes,omitempty"`
	// Protocol annotates edges for the workers ("direct", "broadcast").
	Protocol string `json:"protocol,omitempty"`
}

// CellTemplate is one replicated cell shape inside a formation.
type CellTemplate struct {
	Name     string   `json:"name"`
	Replicas int      `json:"replicas"`
	Spec     CellSpec `json:"spec"`
}

// WorkspaceSpec declares the shared volume mounted into every cell.
type WorkspaceSpec struct {
	Size string `json:"size,omitempty"`
}

// FormationSpec declares a group of cells with topology and shared budget.
type FormationSpec struct {
	Cells     []CellTemplate `json:"cells"`
	Topology  TopologySpec   `json:"topology,omitempty"`
	Budget    BudgetSpec     `json:"budget,omitempty"`
	Workspace WorkspaceSpec  `json:"workspace,omitempty"`
}

// CellSummary is the per-child digest in formation status.
type CellSummary struct {
	Name  string    `json:"name"`
	Phase CellPhase `json:"phase,omitempty"`
	Cost  float64   `json:"cost,omitempty"`
}

// FormationStatus is written by the formation controller.
type FormationStatus struct {
	Phase      FormationPhase `json:"phase,omitempty"`
	ReadyCells int            `json:"readyCells"`
	TotalCells int            `json:"totalCells"`
	TotalCost  float64        `json:"totalCost"`
	Cells      []CellSummary  `json:"cells,omitempty"`
	Message    string         `json:"message,omitempty"`
}
