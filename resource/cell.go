package resource

// CellPhase is the lifecycle phase of a cell.
type CellPhase string

const (
	CellPending   CellPhase = "Pending"
	CellRunning   CellPhase = "Running"
	CellPaused    CellPhase = "Paused"
	CellCompleted CellPhase = "Completed"
	CellFailed    CellPhase = "Failed"
)

// BudgetSpec caps what a cell may spend.
type BudgetSpec struct {
	// MaxTotalCost is the lifetime spend cap in dollars. 0 disables the cap.
	MaxTotalCost float64 `json:"maxTotalCost,omitempty"`
	// MaxCostPerHour is the rolling one-hour spend cap. 0 disables the cap.
	MaxCostPerHour float64 `json:"maxCostPerHour,omitempty"`
}

// MemorySpec bounds the cell's working memory.
type MemorySpec struct {
	// MaxMessages is the sliding-window size. Defaults to 50.
	MaxMessages int `json:"maxMessages,omitempty"`
	// SummarizeAfter triggers summarization once total messages reach this
	// count. 0 disables summarization.
	SummarizeAfter int `json:"summarizeAfter,omitempty"`
}

// SpawnPolicy governs whether and how a cell may create children.
type SpawnPolicy string

const (
	SpawnOpen             SpawnPolicy = "open"
	SpawnDisabled         SpawnPolicy = "disabled"
	SpawnBlueprintOnly    SpawnPolicy = "blueprint_only"
	SpawnApprovalRequired SpawnPolicy = "approval_required"
)

// RecursionSpec bounds the spawn tree under a cell.
type RecursionSpec struct {
	// MaxDepth limits tree depth. Defaults to 5.
	MaxDepth int `json:"maxDepth,omitempty"`
	// MaxDescendants limits transitive children. Defaults to 50.
	MaxDescendants int `json:"maxDescendants,omitempty"`
	// SpawnPolicy defaults to open.
	SpawnPolicy SpawnPolicy `json:"spawnPolicy,omitempty"`
}

// Default recursion bounds.
const (
	DefaultMaxDepth       = 5
	DefaultMaxDescendants = 50
)

// WithDefaults fills unset recursion fields.
func (r RecursionSpec) WithDefaults() RecursionSpec {
	if r.MaxDepth == 0 {
		r.MaxDepth = DefaultMaxDepth
	}
	if r.MaxDescendants == 0 {
		r.MaxDescendants = DefaultMaxDescendants
	}
	if r.SpawnPolicy == "" {
		r.SpawnPolicy = SpawnOpen
	}
	return r
}

// CellSpec declares a single agent cell.
type CellSpec struct {
	// SystemPrompt seeds the cell's conversation.
	SystemPrompt string `json:"systemPrompt,omitempty"`
	// Capability selects the model chain ("reasoning", "fast", ...).
	Capability string `json:"capability,omitempty"`
	// Tools names the builtin tools available to the cell.
	Tools []string `json:"tools,omitempty"`
	// Temperature overrides the endpoint default when non-nil.
	Temperature *float64 `json:"temperature,omitempty"`
	// MaxTokens caps each completion. 0 uses the endpoint default.
	MaxTokens int `json:"maxTokens,omitempty"`
	// MaxIterations caps tool-call loops per message. Defaults to 20.
	MaxIterations int `json:"maxIterations,omitempty"`

	Memory    MemorySpec    `json:"memory,omitempty"`
	Budget    BudgetSpec    `json:"budget,omitempty"`
	Recursion RecursionSpec `json:"recursion,omitempty"`

	// FormationRef is injected by the formation controller on cells it owns.
	FormationRef string `json:"formationRef,omitempty"`
	// ParentCell names the spawning cell for tree placement.
	ParentCell string `json:"parentCell,omitempty"`
	// BlueprintRef names the blueprint this cell was stamped from.
	BlueprintRef string `json:"blueprintRef,omitempty"`
	// WorkspacePath mounts the shared formation workspace.
	WorkspacePath string `json:"workspacePath,omitempty"`
}

// CellStatus is written by the cell controller and runtime.
type CellStatus struct {
	Phase   CellPhase `json:"phase,omitempty"`
	Cost    float64   `json:"cost,omitempty"`
	Message string    `json:"message,omitempty"`
}

// BlueprintSpec is a reusable cell template.
type BlueprintSpec struct {
	Description string   `json:"description,omitempty"`
	Cell        CellSpec `json:"cell"`
}

// ChannelSpec declares a shared pub/sub channel between cells.
type ChannelSpec struct {
	Subject     string `json:"subject"`
	Description string `json:"description,omitempty"`
}

// FederationSpec links this realm to peer realms.
type FederationSpec struct {
	Peers []string `json:"peers,omitempty"`
}
