// Package learning maintains smoothed, exponentially-weighted confidence
// scores per (model, task type) pair, fed by the performance log.
package learning

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/modelmesh/internal/model"
	"github.com/sells-group/modelmesh/internal/storage"
)

// neutralPrior is the confidence assumed for a pair with no evidence.
const neutralPrior = 0.5

// Feedback nudge magnitudes. Mistakes cost more than successes gain.
const (
	positiveNudge = 0.02
	negativeNudge = 0.05
)

// Config tunes the scoring algorithm.
type Config struct {
	// DecayFactor weights the i-th newest record as DecayFactor^i.
	DecayFactor float64
	// Smoothing blends a freshly computed score into the stored one.
	Smoothing float64
	// MinSamplesForFullConfidence is the sample count at which the computed
	// accuracy fully replaces the neutral prior.
	MinSamplesForFullConfidence int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		DecayFactor:                 0.95,
		Smoothing:                   0.3,
		MinSamplesForFullConfidence: 10,
	}
}

// Engine owns the confidence table. All mutation goes through its methods,
// which encapsulate the read-modify-write sequence under one lock.
type Engine struct {
	cfg   Config
	store storage.HistoryStore

	mu     sync.Mutex
	scores map[string]model.ConfidenceScore
}

// New loads persisted scores and returns an engine. A storage failure during
// load is logged, not raised; the engine starts from an empty table.
func New(cfg Config, store storage.HistoryStore) *Engine {
	if cfg.DecayFactor <= 0 || cfg.DecayFactor > 1 {
		cfg.DecayFactor = 0.95
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = 0.3
	}
	if cfg.MinSamplesForFullConfidence <= 0 {
		cfg.MinSamplesForFullConfidence = 10
	}

	e := &Engine{cfg: cfg, store: store, scores: map[string]model.ConfidenceScore{}}
	scores, err := store.LoadScores(context.Background())
	if err != nil {
		zap.L().Error("learning: load scores failed, starting empty", zap.Error(err))
		return e
	}
	e.scores = scores
	return e
}

// Score returns the confidence for a pair, defaulting to the neutral prior.
func (e *Engine) Score(modelName string, taskType model.TaskType) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cs, ok := e.scores[model.ScoreKey(modelName, taskType)]; ok {
		return cs.Score
	}
	return neutralPrior
}

// SampleCount returns the recorded sample count for a pair.
func (e *Engine) SampleCount(modelName string, taskType model.TaskType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scores[model.ScoreKey(modelName, taskType)].SampleCount
}

// ScoresForTask snapshots the confidence of every known model on a task.
func (e *Engine) ScoresForTask(taskType model.TaskType) map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64)
	for _, cs := range e.scores {
		if cs.TaskType == taskType {
			out[cs.ModelName] = cs.Score
		}
	}
	return out
}

// Snapshot copies the full confidence table.
func (e *Engine) Snapshot() map[string]model.ConfidenceScore {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]model.ConfidenceScore, len(e.scores))
	for k, v := range e.scores {
		out[k] = v
	}
	return out
}

// RecordPerformance appends one record to the log. It does not change the
// score; UpdateConfidenceScores or ApplyFeedback do that. Storage failures
// are logged, never raised.
func (e *Engine) RecordPerformance(ctx context.Context, rec model.PerformanceRecord) {
	if err := e.store.AppendRecord(ctx, rec); err != nil {
		zap.L().Error("learning: append performance record failed",
			zap.String("model", rec.ModelName),
			zap.Error(err),
		)
	}
}

// CalculateConfidenceScore computes the exponentially-weighted accuracy over
// a pair's history, blended toward the neutral prior when evidence is thin.
func (e *Engine) CalculateConfidenceScore(history []model.PerformanceRecord) float64 {
	if len(history) == 0 {
		return neutralPrior
	}

	sorted := make([]model.PerformanceRecord, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	weight := 1.0
	var weightSum, correctSum float64
	for _, rec := range sorted {
		weightSum += weight
		if rec.WasCorrect {
			correctSum += weight
		}
		weight *= e.cfg.DecayFactor
	}
	accuracy := correctSum / weightSum

	sampleAdj := float64(len(sorted)) / float64(e.cfg.MinSamplesForFullConfidence)
	if sampleAdj > 1 {
		sampleAdj = 1
	}
	return accuracy*sampleAdj + neutralPrior*(1-sampleAdj)
}

// UpdateConfidenceScores re-reads the full performance log, recomputes every
// pair's score, smooths it into the stored value, and persists the whole
// table as one atomic document write.
func (e *Engine) UpdateConfidenceScores(ctx context.Context) error {
	records, err := e.store.QueryRecords(ctx, storage.RecordFilter{})
	if err != nil {
		zap.L().Error("learning: read performance log failed", zap.Error(err))
		return nil
	}

	grouped := make(map[string][]model.PerformanceRecord)
	for _, rec := range records {
		key := model.ScoreKey(rec.ModelName, rec.TaskType)
		grouped[key] = append(grouped[key], rec)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	for key, history := range grouped {
		computed := e.CalculateConfidenceScore(history)

		old := neutralPrior
		if cs, ok := e.scores[key]; ok {
			old = cs.Score
		}
		smoothed := clamp01(e.cfg.Smoothing*computed + (1-e.cfg.Smoothing)*old)

		e.scores[key] = model.ConfidenceScore{
			ModelName:   history[0].ModelName,
			TaskType:    history[0].TaskType,
			Score:       smoothed,
			SampleCount: len(history),
			LastUpdated: now,
		}
	}

	if err := e.store.SaveScores(ctx, e.scores); err != nil {
		zap.L().Error("learning: persist scores failed, continuing in memory", zap.Error(err))
	}
	return nil
}

// ApplyFeedback nudges a pair's score online without a full recompute.
// The adjustment is asymmetric: an incorrect result moves the score further
// than a correct one of equal weight. The result is clamped to [0,1].
func (e *Engine) ApplyFeedback(ctx context.Context, modelName string, taskType model.TaskType, wasCorrect bool, weight float64) {
	if weight <= 0 {
		weight = 1
	}

	e.mu.Lock()
	key := model.ScoreKey(modelName, taskType)
	cs, ok := e.scores[key]
	if !ok {
		cs = model.ConfidenceScore{ModelName: modelName, TaskType: taskType, Score: neutralPrior}
	}

	delta := positiveNudge * weight
	if !wasCorrect {
		delta = -negativeNudge * weight
	}
	cs.Score = clamp01(cs.Score + delta)
	cs.SampleCount++
	cs.LastUpdated = time.Now().UTC()
	e.scores[key] = cs

	snapshot := make(map[string]model.ConfidenceScore, len(e.scores))
	for k, v := range e.scores {
		snapshot[k] = v
	}
	e.mu.Unlock()

	if err := e.store.SaveScores(ctx, snapshot); err != nil {
		zap.L().Error("learning: persist feedback nudge failed", zap.Error(err))
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
