package resource

import "time"

// SwarmPhase is the lifecycle phase of a swarm.
type SwarmPhase string

const (
	SwarmActive    SwarmPhase = "Active"
	SwarmSuspended SwarmPhase = "Suspended"
	SwarmError     SwarmPhase = "Error"
)

// TriggerType selects the scaling signal.
type TriggerType string

const (
	TriggerQueueDepth       TriggerType = "queue_depth"
	TriggerMetric           TriggerType = "metric"
	TriggerSchedule         TriggerType = "schedule"
	TriggerBudgetEfficiency TriggerType = "budget_efficiency"
)

// TriggerSpec declares the scaling signal and its thresholds.
type TriggerSpec struct {
	Type TriggerType `json:"type"`

	// queue_depth: subject whose backlog is sampled.
	Subject string `json:"subject,omitempty"`

	// metric: name of an externally pushed metric.
	Metric string `json:"metric,omitempty"`

	// schedule: cron minute pattern ("*/5", "*", or full cron expression).
	Schedule string `json:"schedule,omitempty"`

	// ScaleUpAbove / ScaleDownBelow bound the hysteresis band.
	ScaleUpAbove   float64 `json:"scaleUpAbove,omitempty"`
	ScaleDownBelow float64 `json:"scaleDownBelow,omitempty"`

	// Step is how many replicas to add or remove per decision. Default 1.
	Step int `json:"step,omitempty"`
}

// SwarmBudget gates scale-ups on projected spend.
type SwarmBudget struct {
	MaxCostPerHour float64 `json:"maxCostPerHour,omitempty"`
	// CostPerReplicaHour estimates a replica's hourly spend for projection.
	CostPerReplicaHour float64 `json:"costPerReplicaHour,omitempty"`
}

// SwarmSpec declares an autoscaled fleet of identical cells.
type SwarmSpec struct {
	CellTemplate CellSpec    `json:"cellTemplate"`
	MinReplicas  int         `json:"minReplicas"`
	MaxReplicas  int         `json:"maxReplicas"`
	Trigger      TriggerSpec `json:"trigger"`

	// CooldownSeconds is the minimum spacing between scale operations.
	CooldownSeconds int `json:"cooldownSeconds,omitempty"`
	// StabilizationSeconds is how long a desired value must hold steady
	// before it is acted on.
	StabilizationSeconds int `json:"stabilizationSeconds,omitempty"`
	// GracePeriodSeconds is the drain window sent to cells on scale-down.
	GracePeriodSeconds int `json:"gracePeriodSeconds,omitempty"`

	Budget  SwarmBudget `json:"budget,omitempty"`
	Suspend bool        `json:"suspend,omitempty"`
}

// SwarmStatus is written by the swarm controller.
type SwarmStatus struct {
	Phase            SwarmPhase `json:"phase,omitempty"`
	CurrentReplicas  int        `json:"currentReplicas"`
	DesiredReplicas  int        `json:"desiredReplicas"`
	LastScaleTime    *time.Time `json:"lastScaleTime,omitempty"`
	LastTriggerValue *float64   `json:"lastTriggerValue,omitempty"`
	// StabilizationStart marks when the current desired value was first
	// observed; scaling waits until it holds for stabilizationSeconds.
	StabilizationStart *time.Time `json:"stabilizationStart,omitempty"`
	Message            string     `json:"message,omitempty"`
}
