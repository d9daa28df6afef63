package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// PerformanceRecord is one append-only fact about how a model performed on
// a task. Never mutated; only retention cleanup removes old records.
type PerformanceRecord struct {
	Timestamp    time.Time     `json:"timestamp"`
	ModelName    string        `json:"model"`
	TaskType     TaskType      `json:"task_type"`
	WasCorrect   bool          `json:"was_correct"`
	ResponseTime time.Duration `json:"response_time"`
	Cost         float64       `json:"cost"`
	TokenCount   int           `json:"token_count"`
	RequestID    string        `json:"request_id,omitempty"`
}

// NewPerformanceRecord builds a validated record stamped with the current time.
func NewPerformanceRecord(modelName string, taskType TaskType, wasCorrect bool, responseTime time.Duration, cost float64, tokenCount int, requestID string) (*PerformanceRecord, error) {
	if modelName == "" {
		return nil, eris.New("model: performance record model name is empty")
	}
	if !taskType.Valid() {
		return nil, eris.Errorf("model: performance record has unknown task type %q", taskType)
	}
	if responseTime < 0 {
		return nil, eris.Errorf("model: performance record response time %v is negative", responseTime)
	}
	if cost < 0 || tokenCount < 0 {
		return nil, eris.Errorf("model: performance record has negative cost %v or tokens %d", cost, tokenCount)
	}
	return &PerformanceRecord{
		Timestamp:    time.Now().UTC(),
		ModelName:    modelName,
		TaskType:     taskType,
		WasCorrect:   wasCorrect,
		ResponseTime: responseTime,
		Cost:         cost,
		TokenCount:   tokenCount,
		RequestID:    requestID,
	}, nil
}

// ConfidenceScore is the learned reliability of one (model, task type) pair.
// One logical row per pair; always written whole, never partially.
type ConfidenceScore struct {
	ModelName   string    `json:"model_name"`
	TaskType    TaskType  `json:"task_type"`
	Score       float64   `json:"score"`
	SampleCount int       `json:"sample_count"`
	LastUpdated time.Time `json:"last_updated"`
}

// ScoreKey joins a model name and task type into the persisted map key.
func ScoreKey(modelName string, taskType TaskType) string {
	return modelName + "_" + string(taskType)
}
