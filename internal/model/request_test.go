package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest_GeneratesID(t *testing.T) {
	t.Parallel()

	r, err := NewRequest("", "what is the current H100 price?")
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, 0.7, r.QualityThreshold)
}

func TestNewRequest_RejectsEmptyPrompt(t *testing.T) {
	t.Parallel()

	_, err := NewRequest("req-1", "")
	assert.Error(t, err)
}

func TestNewRequest_RejectsBadThreshold(t *testing.T) {
	t.Parallel()

	_, err := NewRequest("req-1", "prompt", WithQualityThreshold(1.2))
	assert.Error(t, err)

	_, err = NewRequest("req-1", "prompt", WithQualityThreshold(-0.1))
	assert.Error(t, err)

	_, err = NewRequest("req-1", "prompt", WithCostLimit(-5))
	assert.Error(t, err)
}

func TestModelValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		m       Model
		wantErr bool
	}{
		{"valid", Model{Name: "qwen", CostPerMTok: 0.5, AvgLatency: time.Second, Enabled: true}, false},
		{"empty name", Model{CostPerMTok: 0.5, AvgLatency: time.Second}, true},
		{"negative cost", Model{Name: "x", CostPerMTok: -1, AvgLatency: time.Second}, true},
		{"zero latency", Model{Name: "x", CostPerMTok: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewPerformanceRecord_RejectsUnknownTaskType(t *testing.T) {
	t.Parallel()

	_, err := NewPerformanceRecord("qwen", TaskType("bogus"), true, time.Second, 0.01, 100, "req-1")
	assert.Error(t, err)

	rec, err := NewPerformanceRecord("qwen", TaskPriceExtraction, true, time.Second, 0.01, 100, "req-1")
	require.NoError(t, err)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestParseTaskType(t *testing.T) {
	t.Parallel()

	for _, tt := range AllTaskTypes {
		got, ok := ParseTaskType(string(tt))
		assert.True(t, ok)
		assert.Equal(t, tt, got)
	}
	_, ok := ParseTaskType("nonsense")
	assert.False(t, ok)
}
