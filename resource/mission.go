package resource

import "time"

// MissionPhase is the lifecycle phase of a mission.
type MissionPhase string

const (
	MissionPending   MissionPhase = "Pending"
	MissionRunning   MissionPhase = "Running"
	MissionSucceeded MissionPhase = "Succeeded"
	MissionFailed    MissionPhase = "Failed"
)

// Terminal reports whether the phase is absorbing.
func (p MissionPhase) Terminal() bool {
	return p == MissionSucceeded || p == MissionFailed
}

// CheckType selects a completion check implementation.
type CheckType string

const (
	CheckFileExists   CheckType = "fileExists"
	CheckCommand      CheckType = "command"
	CheckCoverage     CheckType = "coverage"
	CheckNATSResponse CheckType = "natsResponse"
)

// CheckSpec declares one completion check.
type CheckSpec struct {
	Name string    `json:"name"`
	Type CheckType `json:"type"`

	// fileExists: every path must exist inside the workspace.
	Paths []string `json:"paths,omitempty"`

	// command and coverage: executed in the workspace.
	Command        string `json:"command,omitempty"`
	SuccessPattern string `json:"successPattern,omitempty"`
	FailPattern    string `json:"failPattern,omitempty"`

	// coverage: JSON dot-path and numeric comparison.
	JSONPath string  `json:"jsonPath,omitempty"`
	Operator string  `json:"operator,omitempty"` // ==, <, <=, >, >=
	Value    float64 `json:"value,omitempty"`

	// natsResponse: retained messages on a subject.
	Subject        string `json:"subject,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"` // default 30
}

// ReviewSpec enables human review after checks pass.
type ReviewSpec struct {
	Enabled bool `json:"enabled,omitempty"`
}

// CompletionSpec declares how a mission is judged done.
type CompletionSpec struct {
	Checks      []CheckSpec `json:"checks,omitempty"`
	MaxAttempts int         `json:"maxAttempts,omitempty"` // default 1
	Timeout     Duration    `json:"timeout,omitempty"`
	Review      ReviewSpec  `json:"review,omitempty"`
}

// EntrypointSpec names the cell that receives the objective.
type EntrypointSpec struct {
	Cell      string `json:"cell"`
	Namespace string `json:"namespace,omitempty"`
	Message   string `json:"message"`
}

// MissionBudget caps mission spend across attempts.
type MissionBudget struct {
	MaxCost float64 `json:"maxCost,omitempty"`
}

// MissionSpec declares an objective delivered to a cell.
type MissionSpec struct {
	Entrypoint    EntrypointSpec `json:"entrypoint"`
	Completion    CompletionSpec `json:"completion,omitempty"`
	Budget        MissionBudget  `json:"budget,omitempty"`
	WorkspacePath string         `json:"workspacePath,omitempty"`
}

// CheckState is the evaluation status of one check.
type CheckState string

const (
	CheckPending CheckState = "Pending"
	CheckPassed  CheckState = "Passed"
	CheckFailed  CheckState = "Failed"
	CheckError   CheckState = "Error"
)

// CheckStatus records the latest evaluation of one check.
type CheckStatus struct {
	Name   string     `json:"name"`
	Status CheckState `json:"status"`
	Output string     `json:"output,omitempty"`
}

// ReviewState is the human review decision.
type ReviewState string

const (
	ReviewPending  ReviewState = "Pending"
	ReviewApproved ReviewState = "Approved"
	ReviewRejected ReviewState = "Rejected"
)

// ReviewStatus records the review decision on a mission.
type ReviewStatus struct {
	Status   ReviewState `json:"status"`
	Feedback string      `json:"feedback,omitempty"`
}

// AttemptRecord is one completed attempt in mission history.
type AttemptRecord struct {
	Attempt   int        `json:"attempt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	Result    string     `json:"result"`
}

// MissionStatus is written by the mission controller.
type MissionStatus struct {
	Phase     MissionPhase    `json:"phase,omitempty"`
	Attempt   int             `json:"attempt"`
	StartedAt *time.Time      `json:"startedAt,omitempty"`
	Cost      float64         `json:"cost"`
	Checks    []CheckStatus   `json:"checks,omitempty"`
	Review    *ReviewStatus   `json:"review,omitempty"`
	History   []AttemptRecord `json:"history,omitempty"`
	Message   string          `json:"message,omitempty"`
}
