package learning

import (
	"context"
	"testing"
	"time"

	"github.com/sells-group/modelmesh/internal/model"
	"github.com/sells-group/modelmesh/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, storage.HistoryStore) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return New(DefaultConfig(), store), store
}

func record(name string, taskType model.TaskType, correct bool, age time.Duration) model.PerformanceRecord {
	return model.PerformanceRecord{
		Timestamp:    time.Now().UTC().Add(-age),
		ModelName:    name,
		TaskType:     taskType,
		WasCorrect:   correct,
		ResponseTime: 100 * time.Millisecond,
		TokenCount:   200,
	}
}

func TestScore_DefaultsToNeutralPrior(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	if got := e.Score("unknown", model.TaskSimpleQuery); got != 0.5 {
		t.Errorf("expected 0.5 prior, got %v", got)
	}
}

// Scores always stay inside [0,1], including under extreme feedback.
func TestScores_StayInUnitInterval(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		e.ApplyFeedback(ctx, "qwen", model.TaskSimpleQuery, true, 1)
	}
	if got := e.Score("qwen", model.TaskSimpleQuery); got < 0 || got > 1 {
		t.Errorf("score %v outside [0,1] after positive feedback", got)
	}

	for i := 0; i < 100; i++ {
		e.ApplyFeedback(ctx, "qwen", model.TaskSimpleQuery, false, 3)
	}
	if got := e.Score("qwen", model.TaskSimpleQuery); got < 0 || got > 1 {
		t.Errorf("score %v outside [0,1] after negative feedback", got)
	}
}

// An unbroken run of correct records drives confidence monotonically upward
// toward full confidence as the sample count grows.
func TestCalculateConfidenceScore_MonotonicWithCorrectRuns(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)

	prev := 0.0
	for n := 1; n <= DefaultConfig().MinSamplesForFullConfidence; n++ {
		history := make([]model.PerformanceRecord, n)
		for i := range history {
			history[i] = record("qwen", model.TaskPriceExtraction, true, time.Duration(i)*time.Minute)
		}
		got := e.CalculateConfidenceScore(history)
		if got <= prev {
			t.Fatalf("confidence not increasing at n=%d: %v <= %v", n, got, prev)
		}
		if got < 0 || got > 1 {
			t.Fatalf("confidence %v outside [0,1]", got)
		}
		prev = got
	}
}

// Recent records dominate: a fresh failure after many old successes lowers
// the score more than an old failure before many fresh successes.
func TestCalculateConfidenceScore_RecencyWeighting(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)

	freshFailure := []model.PerformanceRecord{
		record("qwen", model.TaskSimpleQuery, false, 0),
		record("qwen", model.TaskSimpleQuery, true, time.Hour),
		record("qwen", model.TaskSimpleQuery, true, 2*time.Hour),
	}
	oldFailure := []model.PerformanceRecord{
		record("qwen", model.TaskSimpleQuery, true, 0),
		record("qwen", model.TaskSimpleQuery, true, time.Hour),
		record("qwen", model.TaskSimpleQuery, false, 2*time.Hour),
	}

	if f, o := e.CalculateConfidenceScore(freshFailure), e.CalculateConfidenceScore(oldFailure); f >= o {
		t.Errorf("fresh failure should weigh more: %v >= %v", f, o)
	}
}

// Negative feedback moves the score further than positive feedback of equal
// weight.
func TestApplyFeedback_AsymmetricMagnitude(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	ctx := context.Background()

	e.ApplyFeedback(ctx, "up", model.TaskSimpleQuery, true, 1)
	gain := e.Score("up", model.TaskSimpleQuery) - 0.5

	e.ApplyFeedback(ctx, "down", model.TaskSimpleQuery, false, 1)
	loss := 0.5 - e.Score("down", model.TaskSimpleQuery)

	if loss <= gain {
		t.Errorf("negative adjustment %v should exceed positive %v", loss, gain)
	}
}

func TestUpdateConfidenceScores_SmoothsAndPersists(t *testing.T) {
	t.Parallel()

	e, store := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		e.RecordPerformance(ctx, record("qwen", model.TaskDataValidation, true, time.Duration(i)*time.Minute))
	}
	if err := e.UpdateConfidenceScores(ctx); err != nil {
		t.Fatal(err)
	}

	got := e.Score("qwen", model.TaskDataValidation)
	// One smoothing pass from the 0.5 prior toward 1.0 lands at
	// 0.3*1.0 + 0.7*0.5 = 0.65.
	if got < 0.64 || got > 0.66 {
		t.Errorf("expected smoothed score near 0.65, got %v", got)
	}

	// Persisted: a fresh engine over the same store sees the score.
	e2 := New(DefaultConfig(), store)
	if got := e2.Score("qwen", model.TaskDataValidation); got < 0.64 || got > 0.66 {
		t.Errorf("score not persisted: %v", got)
	}
}

func TestUpdateConfidenceScores_ConvergesUnderRepetition(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		e.RecordPerformance(ctx, record("qwen", model.TaskSimpleQuery, true, time.Duration(i)*time.Minute))
	}
	var prev float64
	for pass := 0; pass < 10; pass++ {
		if err := e.UpdateConfidenceScores(ctx); err != nil {
			t.Fatal(err)
		}
		got := e.Score("qwen", model.TaskSimpleQuery)
		if got < prev {
			t.Fatalf("score regressed on pass %d: %v < %v", pass, got, prev)
		}
		prev = got
	}
	if prev < 0.9 {
		t.Errorf("expected convergence toward 1.0, got %v", prev)
	}
}
