package model

// Strategy names a routing policy for how many and which models to invoke.
type Strategy string

const (
	StrategySingleFastest   Strategy = "single_fastest"
	StrategyDualValidation  Strategy = "dual_validation"
	StrategyTripleConsensus Strategy = "triple_consensus"
	StrategyAdaptive        Strategy = "adaptive"
)

// RoutingDecision is produced fresh per request and never persisted.
type RoutingDecision struct {
	Models        []string           `json:"models"`
	Strategy      Strategy           `json:"strategy"`
	TaskType      TaskType           `json:"task_type"`
	Confidence    map[string]float64 `json:"confidence"`
	EstimatedCost float64            `json:"estimated_cost"`
	Reason        string             `json:"reason"`
}

// MergedResult is the single reconciled answer for a request.
type MergedResult struct {
	Data               any                `json:"data"`
	ContributingModels []string           `json:"contributing_models"`
	Confidence         map[string]float64 `json:"confidence"`
	Metadata           map[string]any     `json:"metadata,omitempty"`
	FlaggedForReview   bool               `json:"flagged_for_review"`
}
