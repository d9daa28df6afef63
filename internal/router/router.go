// Package router selects which models to invoke for a task, balancing
// learned confidence against latency and a per-request cost budget.
package router

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/modelmesh/internal/model"
)

// ScoreSource provides learned confidence per model for a task type.
// Satisfied by the learning engine.
type ScoreSource interface {
	ScoresForTask(taskType model.TaskType) map[string]float64
}

// Config tunes routing behavior.
type Config struct {
	// DefaultStrategies maps task types to their static strategy. Task types
	// absent from the map are routed by the dynamic confidence rule.
	DefaultStrategies map[model.TaskType]model.Strategy
	// FallbackModelCount is how many of the cheapest models to pick when a
	// task type has no confidence history at all.
	FallbackModelCount map[model.TaskType]int
	// EstimatedTokens is the assumed per-request token budget used to turn
	// per-million-token rates into a cost estimate at routing time.
	EstimatedTokens int
}

// DefaultConfig returns the standard routing policy.
func DefaultConfig() Config {
	return Config{
		DefaultStrategies: map[model.TaskType]model.Strategy{
			model.TaskSimpleQuery:        model.StrategySingleFastest,
			model.TaskComplexReasoning:   model.StrategyDualValidation,
			model.TaskDataValidation:     model.StrategyDualValidation,
			model.TaskPriceExtraction:    model.StrategyDualValidation,
			model.TaskHistoricalAnalysis: model.StrategySingleFastest,
		},
		FallbackModelCount: map[model.TaskType]int{
			model.TaskSimpleQuery:        1,
			model.TaskComplexReasoning:   2,
			model.TaskDataValidation:     2,
			model.TaskPriceExtraction:    2,
			model.TaskHistoricalAnalysis: 1,
		},
		EstimatedTokens: 2000,
	}
}

// Router chooses model sets from the registry using learned confidence.
type Router struct {
	cfg      Config
	registry *Registry
	scores   ScoreSource
}

// New creates a router.
func New(cfg Config, registry *Registry, scores ScoreSource) *Router {
	if cfg.EstimatedTokens <= 0 {
		cfg.EstimatedTokens = 2000
	}
	return &Router{cfg: cfg, registry: registry, scores: scores}
}

// candidate pairs a descriptor with its confidence for sorting.
type candidate struct {
	model      model.Model
	confidence float64
}

// SelectModels resolves a strategy and picks a concrete model set under the
// cost limit. It never fails: with no enabled models the decision carries
// zero models and a reason; any other internal shortfall degrades to the
// single cheapest enabled model.
func (r *Router) SelectModels(taskType model.TaskType, qualityThreshold, costLimit float64, override model.Strategy) model.RoutingDecision {
	enabled := r.registry.Enabled()
	if len(enabled) == 0 {
		return model.RoutingDecision{
			Strategy: model.StrategyAdaptive,
			TaskType: taskType,
			Reason:   "no enabled models in registry",
		}
	}

	scores := r.scores.ScoresForTask(taskType)

	candidates := make([]candidate, 0, len(enabled))
	snapshot := make(map[string]float64, len(enabled))
	hasHistory := false
	for _, m := range enabled {
		conf, ok := scores[m.Name]
		if ok {
			hasHistory = true
		} else {
			conf = 0.5
		}
		candidates = append(candidates, candidate{model: m, confidence: conf})
		snapshot[m.Name] = conf
	}

	strategy, why := r.resolveStrategy(taskType, qualityThreshold, override, candidates, hasHistory)

	var chosen []model.Model
	var reason string
	if !hasHistory {
		n := r.cfg.FallbackModelCount[taskType]
		if n <= 0 {
			n = 1
		}
		chosen = cheapestN(enabled, n)
		reason = fmt.Sprintf("no confidence history for %s, using %d cheapest", taskType, len(chosen))
	} else {
		chosen = r.pickByStrategy(strategy, qualityThreshold, candidates)
		reason = why
	}

	if len(chosen) == 0 {
		// Internal shortfall: degrade to the single cheapest enabled model.
		chosen = cheapestN(enabled, 1)
		reason = "selection produced no models, degraded to cheapest"
		zap.L().Warn("router: degraded selection",
			zap.String("task_type", string(taskType)),
			zap.String("strategy", string(strategy)),
		)
	}

	chosen = r.applyCostLimit(chosen, costLimit)

	names := make([]string, len(chosen))
	var estCost float64
	for i, m := range chosen {
		names[i] = m.Name
		estCost += r.estimateCost(m)
	}

	return model.RoutingDecision{
		Models:        names,
		Strategy:      strategy,
		TaskType:      taskType,
		Confidence:    snapshot,
		EstimatedCost: estCost,
		Reason:        reason,
	}
}

// resolveStrategy applies, in order: caller override, the static per-task
// default, then the dynamic confidence rule.
func (r *Router) resolveStrategy(taskType model.TaskType, qualityThreshold float64, override model.Strategy, candidates []candidate, hasHistory bool) (model.Strategy, string) {
	if override != "" {
		return override, fmt.Sprintf("caller requested %s", override)
	}
	if s, ok := r.cfg.DefaultStrategies[taskType]; ok {
		return s, fmt.Sprintf("default strategy for %s", taskType)
	}

	// Dynamic rule, used only when the history is rich enough to decide.
	if hasHistory && len(candidates) >= 2 {
		best, worst, sum := -1.0, 2.0, 0.0
		for _, c := range candidates {
			if c.confidence > best {
				best = c.confidence
			}
			if c.confidence < worst {
				worst = c.confidence
			}
			sum += c.confidence
		}
		avg := sum / float64(len(candidates))
		switch {
		case best-worst > 0.3 && best > 0.9:
			return model.StrategySingleFastest, "one model clearly dominates"
		case avg < qualityThreshold:
			return model.StrategyTripleConsensus, "average confidence below quality threshold"
		}
	}
	return model.StrategyAdaptive, "no static default, adapting to confidence"
}

// pickByStrategy selects the model set for a resolved strategy.
func (r *Router) pickByStrategy(strategy model.Strategy, qualityThreshold float64, candidates []candidate) []model.Model {
	byConfidence := make([]candidate, len(candidates))
	copy(byConfidence, candidates)
	sort.SliceStable(byConfidence, func(i, j int) bool {
		if byConfidence[i].confidence != byConfidence[j].confidence {
			return byConfidence[i].confidence > byConfidence[j].confidence
		}
		return byConfidence[i].model.Name < byConfidence[j].model.Name
	})

	switch strategy {
	case model.StrategySingleFastest:
		qualified := byConfidence[:0:0]
		for _, c := range byConfidence {
			if c.confidence >= qualityThreshold {
				qualified = append(qualified, c)
			}
		}
		pool := qualified
		if len(pool) == 0 {
			pool = byConfidence
		}
		best := pool[0]
		for _, c := range pool[1:] {
			if c.confidence == best.confidence && c.model.AvgLatency < best.model.AvgLatency {
				best = c
			}
		}
		return []model.Model{best.model}

	case model.StrategyDualValidation:
		return topModels(byConfidence, 2)

	case model.StrategyTripleConsensus:
		return topModels(byConfidence, 3)

	case model.StrategyAdaptive:
		best := byConfidence[0].confidence
		n := 3
		switch {
		case best >= 0.85:
			n = 1
		case best >= 0.6:
			n = 2
		}
		return topModels(byConfidence, n)

	default:
		return nil
	}
}

// applyCostLimit greedily keeps the cheapest models whose cumulative
// estimated cost fits the limit. A limit that rejects everything still
// yields the single cheapest candidate.
func (r *Router) applyCostLimit(chosen []model.Model, costLimit float64) []model.Model {
	if costLimit <= 0 || len(chosen) == 0 {
		return chosen
	}

	byCost := make([]model.Model, len(chosen))
	copy(byCost, chosen)
	sort.SliceStable(byCost, func(i, j int) bool {
		if byCost[i].CostPerMTok != byCost[j].CostPerMTok {
			return byCost[i].CostPerMTok < byCost[j].CostPerMTok
		}
		return byCost[i].Name < byCost[j].Name
	})

	var kept []model.Model
	var cumulative float64
	for _, m := range byCost {
		est := r.estimateCost(m)
		if cumulative+est > costLimit {
			continue
		}
		cumulative += est
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		zap.L().Debug("router: cost limit rejects all candidates, forcing cheapest",
			zap.Float64("cost_limit", costLimit),
		)
		kept = byCost[:1]
	}
	return kept
}

func (r *Router) estimateCost(m model.Model) float64 {
	return m.CostPerMTok * float64(r.cfg.EstimatedTokens) / 1e6
}

func topModels(sorted []candidate, n int) []model.Model {
	if n > len(sorted) {
		n = len(sorted)
	}
	out := make([]model.Model, n)
	for i := 0; i < n; i++ {
		out[i] = sorted[i].model
	}
	return out
}

func cheapestN(models []model.Model, n int) []model.Model {
	byCost := make([]model.Model, len(models))
	copy(byCost, models)
	sort.SliceStable(byCost, func(i, j int) bool {
		if byCost[i].CostPerMTok != byCost[j].CostPerMTok {
			return byCost[i].CostPerMTok < byCost[j].CostPerMTok
		}
		return byCost[i].Name < byCost[j].Name
	})
	if n > len(byCost) {
		n = len(byCost)
	}
	return byCost[:n]
}
