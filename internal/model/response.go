package model

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Response is the outcome of one model invocation for one request.
// Immutable after creation.
type Response struct {
	ModelName    string        `json:"model_name"`
	Content      string        `json:"content"`
	ResponseTime time.Duration `json:"response_time"`
	TokenCount   int           `json:"token_count"`
	Cost         float64       `json:"cost"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Validate rejects malformed responses at the invocation boundary.
func (r Response) Validate() error {
	if r.ModelName == "" {
		return eris.New("model: response model name is empty")
	}
	if r.ResponseTime < 0 {
		return eris.Errorf("model: response time %v is negative", r.ResponseTime)
	}
	if r.TokenCount < 0 {
		return eris.Errorf("model: token count %d is negative", r.TokenCount)
	}
	if r.Cost < 0 {
		return eris.Errorf("model: cost %v is negative", r.Cost)
	}
	return nil
}

// FailedResponse builds a synthetic failure for a model that timed out,
// errored, or returned nothing.
func FailedResponse(modelName, errMsg string, elapsed time.Duration) Response {
	return Response{
		ModelName:    modelName,
		ResponseTime: elapsed,
		Success:      false,
		Error:        errMsg,
		Timestamp:    time.Now().UTC(),
	}
}

// InvokeFunc is the caller-supplied invocation boundary. The core never
// performs vendor-specific transport itself.
type InvokeFunc func(ctx context.Context, m Model, req Request) (Response, error)
