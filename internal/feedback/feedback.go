// Package feedback closes the learning loop: validation outcomes and user
// corrections feed the confidence engine and a bounded in-memory event log.
package feedback

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/modelmesh/internal/model"
)

// CorrectionType classifies what a user had to fix.
type CorrectionType string

const (
	CorrectionWrongValue       CorrectionType = "wrong_value"
	CorrectionMissingData      CorrectionType = "missing_data"
	CorrectionWrongFormat      CorrectionType = "wrong_format"
	CorrectionInvalidData      CorrectionType = "invalid_data"
	CorrectionPartiallyCorrect CorrectionType = "partially_correct"
)

// ParseCorrectionType validates a correction type string.
func ParseCorrectionType(s string) (CorrectionType, bool) {
	switch CorrectionType(s) {
	case CorrectionWrongValue, CorrectionMissingData, CorrectionWrongFormat,
		CorrectionInvalidData, CorrectionPartiallyCorrect:
		return CorrectionType(s), true
	default:
		return "", false
	}
}

// EventKind distinguishes automated validation from user corrections.
type EventKind string

const (
	EventValidation EventKind = "validation"
	EventCorrection EventKind = "correction"
)

// Event is one feedback occurrence retained in the ring.
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Kind       EventKind      `json:"kind"`
	RequestID  string         `json:"request_id,omitempty"`
	ModelName  string         `json:"model"`
	TaskType   model.TaskType `json:"task_type"`
	WasCorrect bool           `json:"was_correct"`
	Correction CorrectionType `json:"correction,omitempty"`
}

// learner is the slice of the confidence engine the loop needs.
type learner interface {
	RecordPerformance(ctx context.Context, rec model.PerformanceRecord)
	ApplyFeedback(ctx context.Context, modelName string, taskType model.TaskType, wasCorrect bool, weight float64)
}

// Config tunes the loop.
type Config struct {
	// RingSize bounds the retained event history. Default: 1000.
	RingSize int
	// CorrectionWeight amplifies the negative nudge for explicit user
	// corrections relative to automated validation. Default: 2.0.
	CorrectionWeight float64
	// NumericTolerance is the relative tolerance for numeric ground-truth
	// comparison. Default: 0.01.
	NumericTolerance float64
}

// DefaultConfig returns standard feedback tuning.
func DefaultConfig() Config {
	return Config{
		RingSize:         1000,
		CorrectionWeight: 2.0,
		NumericTolerance: 0.01,
	}
}

// Loop records feedback against the confidence engine. Safe for concurrent
// use.
type Loop struct {
	cfg    Config
	engine learner

	mu     sync.Mutex
	events []Event
	next   int
	filled bool
}

// New creates a feedback loop bound to a confidence engine.
func New(cfg Config, engine learner) *Loop {
	if cfg.RingSize <= 0 {
		cfg.RingSize = 1000
	}
	if cfg.CorrectionWeight <= 0 {
		cfg.CorrectionWeight = 2.0
	}
	if cfg.NumericTolerance <= 0 {
		cfg.NumericTolerance = 0.01
	}
	return &Loop{
		cfg:    cfg,
		engine: engine,
		events: make([]Event, cfg.RingSize),
	}
}

// RecordValidation compares a model's answer against ground truth, feeds
// the outcome into the learning engine, and reports whether it matched.
func (l *Loop) RecordValidation(ctx context.Context, resp model.Response, taskType model.TaskType, actual, groundTruth any) bool {
	correct := l.Matches(actual, groundTruth)

	rec, err := model.NewPerformanceRecord(resp.ModelName, taskType, correct,
		resp.ResponseTime, resp.Cost, resp.TokenCount, "")
	if err != nil {
		zap.L().Warn("feedback: dropping invalid validation record", zap.Error(err))
	} else {
		l.engine.RecordPerformance(ctx, *rec)
	}
	l.engine.ApplyFeedback(ctx, resp.ModelName, taskType, correct, 1)

	l.append(Event{
		Timestamp:  time.Now().UTC(),
		Kind:       EventValidation,
		ModelName:  resp.ModelName,
		TaskType:   taskType,
		WasCorrect: correct,
	})
	return correct
}

// RecordUserCorrection registers an explicit user fix. Corrections always
// count as incorrect and carry an amplified negative weight, except
// partially-correct ones which nudge at normal weight.
func (l *Loop) RecordUserCorrection(ctx context.Context, modelName string, taskType model.TaskType, requestID string, correction CorrectionType) error {
	if _, ok := ParseCorrectionType(string(correction)); !ok {
		return fmt.Errorf("feedback: unknown correction type %q", correction)
	}

	weight := l.cfg.CorrectionWeight
	if correction == CorrectionPartiallyCorrect {
		weight = 1
	}

	rec, err := model.NewPerformanceRecord(modelName, taskType, false, 0, 0, 0, requestID)
	if err != nil {
		return err
	}
	l.engine.RecordPerformance(ctx, *rec)
	l.engine.ApplyFeedback(ctx, modelName, taskType, false, weight)

	l.append(Event{
		Timestamp:  time.Now().UTC(),
		Kind:       EventCorrection,
		RequestID:  requestID,
		ModelName:  modelName,
		TaskType:   taskType,
		Correction: correction,
	})
	return nil
}

// Matches performs a tolerant ground-truth comparison: strings ignore case
// and whitespace, numbers compare within a relative tolerance, and lists
// and maps compare structurally element by element.
func (l *Loop) Matches(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	if an, aok := toFloat(actual); aok {
		if en, eok := toFloat(expected); eok {
			return numbersClose(an, en, l.cfg.NumericTolerance)
		}
	}

	switch ev := expected.(type) {
	case []any:
		av, ok := actual.([]any)
		if !ok || len(av) != len(ev) {
			return false
		}
		for i := range ev {
			if !l.Matches(av[i], ev[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		av, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for key, want := range ev {
			got, present := av[key]
			if !present || !l.Matches(got, want) {
				return false
			}
		}
		return true
	}

	return normalizeString(fmt.Sprint(actual)) == normalizeString(fmt.Sprint(expected))
}

// Events returns the retained events, oldest first.
func (l *Loop) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.filled {
		return append([]Event(nil), l.events[:l.next]...)
	}
	out := make([]Event, 0, len(l.events))
	out = append(out, l.events[l.next:]...)
	out = append(out, l.events[:l.next]...)
	return out
}

// ModelSummary aggregates feedback for one model.
type ModelSummary struct {
	ModelName   string                 `json:"model"`
	Validations int                    `json:"validations"`
	Correct     int                    `json:"correct"`
	Accuracy    float64                `json:"accuracy"`
	Corrections map[CorrectionType]int `json:"corrections"`
}

// Summary aggregates the retained events per model.
func (l *Loop) Summary() map[string]ModelSummary {
	summaries := make(map[string]ModelSummary)
	for _, ev := range l.Events() {
		s, ok := summaries[ev.ModelName]
		if !ok {
			s = ModelSummary{ModelName: ev.ModelName, Corrections: make(map[CorrectionType]int)}
		}
		switch ev.Kind {
		case EventValidation:
			s.Validations++
			if ev.WasCorrect {
				s.Correct++
			}
		case EventCorrection:
			s.Corrections[ev.Correction]++
		}
		summaries[ev.ModelName] = s
	}

	for name, s := range summaries {
		if s.Validations > 0 {
			s.Accuracy = float64(s.Correct) / float64(s.Validations)
			summaries[name] = s
		}
	}
	return summaries
}

func (l *Loop) append(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.next] = ev
	l.next++
	if l.next == len(l.events) {
		l.next = 0
		l.filled = true
	}
}

func toFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case float32:
		return float64(tv), true
	case int:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(tv), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func numbersClose(a, b, tolerance float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= tolerance*scale
}

func normalizeString(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
