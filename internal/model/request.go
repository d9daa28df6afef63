package model

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Request is one unit of work submitted to the orchestrator. Immutable once
// classified, except for TaskType which the classifier assigns.
type Request struct {
	ID               string         `json:"id"`
	Prompt           string         `json:"prompt"`
	Context          map[string]any `json:"context,omitempty"`
	QualityThreshold float64        `json:"quality_threshold"`
	CostLimit        float64        `json:"cost_limit,omitempty"` // 0 means no limit
	TaskType         TaskType       `json:"task_type,omitempty"`
}

// NewRequest builds a validated request. An empty id is replaced with a
// generated UUID; an empty prompt is rejected.
func NewRequest(id, prompt string, opts ...RequestOption) (*Request, error) {
	if prompt == "" {
		return nil, eris.New("model: request prompt is empty")
	}
	if id == "" {
		id = uuid.NewString()
	}
	r := &Request{
		ID:               id,
		Prompt:           prompt,
		QualityThreshold: 0.7,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.QualityThreshold < 0 || r.QualityThreshold > 1 {
		return nil, eris.Errorf("model: quality threshold %v outside [0,1]", r.QualityThreshold)
	}
	if r.CostLimit < 0 {
		return nil, eris.Errorf("model: cost limit %v is negative", r.CostLimit)
	}
	return r, nil
}

// RequestOption customizes a request at construction time.
type RequestOption func(*Request)

// WithContext attaches free-form context to the request.
func WithContext(ctx map[string]any) RequestOption {
	return func(r *Request) { r.Context = ctx }
}

// WithQualityThreshold overrides the default quality threshold.
func WithQualityThreshold(q float64) RequestOption {
	return func(r *Request) { r.QualityThreshold = q }
}

// WithCostLimit caps the estimated spend for this request.
func WithCostLimit(limit float64) RequestOption {
	return func(r *Request) { r.CostLimit = limit }
}

// WithTaskType pre-assigns a task type, bypassing classification.
func WithTaskType(t TaskType) RequestOption {
	return func(r *Request) { r.TaskType = t }
}
