package report

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/modelmesh/internal/cache"
	"github.com/sells-group/modelmesh/internal/model"
	"github.com/sells-group/modelmesh/internal/storage"
)

type fakeStore struct {
	records  []model.PerformanceRecord
	degraded bool
}

func (f *fakeStore) LoadScores(context.Context) (map[string]model.ConfidenceScore, error) {
	return map[string]model.ConfidenceScore{}, nil
}

func (f *fakeStore) SaveScores(context.Context, map[string]model.ConfidenceScore) error {
	return nil
}

func (f *fakeStore) AppendRecord(_ context.Context, rec model.PerformanceRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) QueryRecords(_ context.Context, filter storage.RecordFilter) ([]model.PerformanceRecord, error) {
	var out []model.PerformanceRecord
	for _, rec := range f.records {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) Cleanup(context.Context, time.Duration) (int, error) { return 0, nil }
func (f *fakeStore) Degraded() bool                                     { return f.degraded }
func (f *fakeStore) ResetFallback(context.Context) error                { return nil }
func (f *fakeStore) Close() error                                       { return nil }

type fakeEngine struct {
	scores map[string]model.ConfidenceScore
}

func (f *fakeEngine) Snapshot() map[string]model.ConfidenceScore { return f.scores }

func rec(name string, taskType model.TaskType, correct bool, age time.Duration) model.PerformanceRecord {
	return model.PerformanceRecord{
		Timestamp:    time.Now().UTC().Add(-age),
		ModelName:    name,
		TaskType:     taskType,
		WasCorrect:   correct,
		ResponseTime: 200 * time.Millisecond,
		Cost:         0.002,
	}
}

func TestCollect_AggregatesPerPair(t *testing.T) {
	store := &fakeStore{records: []model.PerformanceRecord{
		rec("claude", model.TaskSimpleQuery, true, time.Hour),
		rec("claude", model.TaskSimpleQuery, false, time.Hour),
		rec("claude", model.TaskComplexReasoning, true, time.Hour),
		rec("gpt", model.TaskSimpleQuery, true, time.Hour),
		// Outside the lookback; must be excluded.
		rec("gpt", model.TaskSimpleQuery, false, 48*time.Hour),
	}}
	eng := &fakeEngine{scores: map[string]model.ConfidenceScore{
		"claude_simple_query": {ModelName: "claude", TaskType: model.TaskSimpleQuery, Score: 0.82, SampleCount: 12},
	}}

	c := NewCollector(eng, store, cache.New(cache.DefaultConfig()))
	rep, err := c.Collect(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	require.Len(t, rep.Performance, 3)
	// Sorted by model then task type.
	first := rep.Performance[0]
	assert.Equal(t, "claude", first.ModelName)
	assert.Equal(t, model.TaskComplexReasoning, first.TaskType)

	var claudeSimple ModelPerformance
	for _, p := range rep.Performance {
		if p.ModelName == "claude" && p.TaskType == model.TaskSimpleQuery {
			claudeSimple = p
		}
	}
	assert.Equal(t, 2, claudeSimple.Requests)
	assert.InDelta(t, 0.5, claudeSimple.Accuracy, 0.001)
	assert.Equal(t, 200*time.Millisecond, claudeSimple.AvgResponseTime)
	assert.InDelta(t, 0.004, claudeSimple.TotalCost, 1e-9)

	require.Len(t, rep.Scores, 1)
	assert.InDelta(t, 0.82, rep.Scores[0].Score, 0.001)
	assert.False(t, rep.StorageDegraded)
}

func TestCollect_ReportsDegradedStorage(t *testing.T) {
	store := &fakeStore{degraded: true}
	c := NewCollector(&fakeEngine{scores: map[string]model.ConfidenceScore{}}, store, nil)

	rep, err := c.Collect(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.True(t, rep.StorageDegraded)
}

func TestWriteText(t *testing.T) {
	rep := &Report{
		GeneratedAt: time.Now().UTC(),
		Lookback:    24 * time.Hour,
		Scores: []model.ConfidenceScore{
			{ModelName: "claude", TaskType: model.TaskSimpleQuery, Score: 0.82, SampleCount: 12, LastUpdated: time.Now().UTC()},
		},
		Performance: []ModelPerformance{
			{ModelName: "claude", TaskType: model.TaskSimpleQuery, Requests: 10, Correct: 8, Accuracy: 0.8, AvgResponseTime: 150 * time.Millisecond, TotalCost: 0.02},
		},
		StorageDegraded: true,
	}

	var buf bytes.Buffer
	require.NoError(t, rep.WriteText(&buf))

	out := buf.String()
	assert.Contains(t, out, "claude")
	assert.Contains(t, out, "simple_query")
	assert.Contains(t, out, "80.0%")
	assert.True(t, strings.Contains(out, "WARNING"))
}
