package feedback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sells-group/modelmesh/internal/model"
)

// fakeLearner captures engine calls for assertion.
type fakeLearner struct {
	records   []model.PerformanceRecord
	feedbacks []struct {
		modelName  string
		taskType   model.TaskType
		wasCorrect bool
		weight     float64
	}
}

func (f *fakeLearner) RecordPerformance(_ context.Context, rec model.PerformanceRecord) {
	f.records = append(f.records, rec)
}

func (f *fakeLearner) ApplyFeedback(_ context.Context, modelName string, taskType model.TaskType, wasCorrect bool, weight float64) {
	f.feedbacks = append(f.feedbacks, struct {
		modelName  string
		taskType   model.TaskType
		wasCorrect bool
		weight     float64
	}{modelName, taskType, wasCorrect, weight})
}

func okResp(name string) model.Response {
	return model.Response{
		ModelName:    name,
		Content:      "2.5",
		ResponseTime: 100 * time.Millisecond,
		Success:      true,
		Timestamp:    time.Now().UTC(),
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()

	l := New(DefaultConfig(), &fakeLearner{})
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"string case and whitespace", "  Hello   World ", "hello world", true},
		{"string mismatch", "hello", "goodbye", false},
		{"numbers within 1%", 2.52, 2.5, true},
		{"numbers beyond 1%", 2.6, 2.5, false},
		{"numeric string", "2.5", 2.5, true},
		{"int vs float", 3, 3.0, true},
		{"list elementwise", []any{"a", 2.0}, []any{"A", 2.01}, true},
		{"list length mismatch", []any{"a"}, []any{"a", "b"}, false},
		{"map structural", map[string]any{"price": 2.5, "extra": 1}, map[string]any{"price": "2.5"}, true},
		{"map missing key", map[string]any{"price": 2.5}, map[string]any{"region": "us"}, false},
		{"both nil", nil, nil, true},
		{"one nil", nil, "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.Matches(tt.actual, tt.expected); got != tt.want {
				t.Errorf("Matches(%v, %v) = %v, want %v", tt.actual, tt.expected, got, tt.want)
			}
		})
	}
}

func TestRecordValidation_FeedsEngine(t *testing.T) {
	t.Parallel()

	eng := &fakeLearner{}
	l := New(DefaultConfig(), eng)

	correct := l.RecordValidation(context.Background(), okResp("claude"), model.TaskPriceExtraction, "2.5", 2.5)
	if !correct {
		t.Fatal("expected match")
	}
	if len(eng.records) != 1 || !eng.records[0].WasCorrect {
		t.Errorf("expected one correct performance record, got %+v", eng.records)
	}
	if len(eng.feedbacks) != 1 || !eng.feedbacks[0].wasCorrect || eng.feedbacks[0].weight != 1 {
		t.Errorf("expected normal-weight positive feedback, got %+v", eng.feedbacks)
	}

	if l.RecordValidation(context.Background(), okResp("claude"), model.TaskPriceExtraction, "2.9", 2.5) {
		t.Error("expected mismatch")
	}
	if eng.feedbacks[1].wasCorrect {
		t.Error("mismatch must feed negative")
	}
}

func TestRecordUserCorrection_AmplifiedWeight(t *testing.T) {
	t.Parallel()

	eng := &fakeLearner{}
	l := New(DefaultConfig(), eng)

	if err := l.RecordUserCorrection(context.Background(), "claude", model.TaskDataValidation, "req-1", CorrectionWrongValue); err != nil {
		t.Fatal(err)
	}
	fb := eng.feedbacks[0]
	if fb.wasCorrect || fb.weight != 2.0 {
		t.Errorf("correction must be amplified negative, got %+v", fb)
	}
	if len(eng.records) != 1 || eng.records[0].WasCorrect {
		t.Errorf("correction must persist an incorrect record, got %+v", eng.records)
	}

	if err := l.RecordUserCorrection(context.Background(), "claude", model.TaskDataValidation, "req-2", CorrectionPartiallyCorrect); err != nil {
		t.Fatal(err)
	}
	if eng.feedbacks[1].weight != 1 {
		t.Errorf("partial correction nudges at normal weight, got %+v", eng.feedbacks[1])
	}

	if err := l.RecordUserCorrection(context.Background(), "claude", model.TaskDataValidation, "req-3", "made_up"); err == nil {
		t.Error("unknown correction type must be rejected")
	}
}

func TestEvents_RingBounded(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RingSize = 5
	l := New(cfg, &fakeLearner{})

	for i := 0; i < 8; i++ {
		l.append(Event{RequestID: fmt.Sprintf("req-%d", i)})
	}

	events := l.Events()
	if len(events) != 5 {
		t.Fatalf("ring must cap at 5, got %d", len(events))
	}
	if events[0].RequestID != "req-3" || events[4].RequestID != "req-7" {
		t.Errorf("oldest-first order wrong: %s .. %s", events[0].RequestID, events[4].RequestID)
	}
}

func TestSummary_PerModel(t *testing.T) {
	t.Parallel()

	eng := &fakeLearner{}
	l := New(DefaultConfig(), eng)
	ctx := context.Background()

	l.RecordValidation(ctx, okResp("claude"), model.TaskSimpleQuery, "a", "a")
	l.RecordValidation(ctx, okResp("claude"), model.TaskSimpleQuery, "a", "b")
	l.RecordValidation(ctx, okResp("gpt"), model.TaskSimpleQuery, "a", "a")
	_ = l.RecordUserCorrection(ctx, "claude", model.TaskSimpleQuery, "req-1", CorrectionMissingData)

	s := l.Summary()
	claude := s["claude"]
	if claude.Validations != 2 || claude.Correct != 1 || claude.Accuracy != 0.5 {
		t.Errorf("claude summary wrong: %+v", claude)
	}
	if claude.Corrections[CorrectionMissingData] != 1 {
		t.Errorf("correction count wrong: %+v", claude.Corrections)
	}
	if s["gpt"].Accuracy != 1.0 {
		t.Errorf("gpt summary wrong: %+v", s["gpt"])
	}
}
