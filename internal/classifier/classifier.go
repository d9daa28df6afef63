// Package classifier scores a prompt against per-task keyword and
// complexity heuristics. Stateless per call; no API usage.
package classifier

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/modelmesh/internal/model"
)

// scoreNormalizer divides the raw keyword weight sum before capping at 1.
const scoreNormalizer = 1.5

// complexityIndicators are summed (capped at 1) to estimate prompt complexity.
var complexityIndicators = []struct {
	pattern *regexp.Regexp
	weight  float64
}{
	{regexp.MustCompile(`\b(why|how|explain|analy[sz]e|compare|evaluate|justify)\b`), 0.3},
	{regexp.MustCompile(`\b(if|unless|assuming|depending|whether)\b`), 0.2},
	{regexp.MustCompile(`\b(all|each|every|multiple|several)\b`), 0.2},
}

// Config controls classification fallbacks and the multi-model heuristic.
type Config struct {
	// DefaultTaskType is used when no keyword matches and complexity is low.
	DefaultTaskType model.TaskType
	// LowConfidenceThreshold below which multiple models are recommended.
	LowConfidenceThreshold float64
}

// DefaultConfig returns the standard classifier tuning.
func DefaultConfig() Config {
	return Config{
		DefaultTaskType:        model.TaskSimpleQuery,
		LowConfidenceThreshold: 0.5,
	}
}

// Result is the classification outcome for one prompt.
type Result struct {
	TaskType        model.TaskType
	Confidence      float64
	MatchedKeywords []string
	Complexity      float64
}

// Classifier assigns task types from prompt text.
type Classifier struct {
	cfg Config
}

// New creates a classifier.
func New(cfg Config) *Classifier {
	if cfg.DefaultTaskType == "" {
		cfg.DefaultTaskType = model.TaskSimpleQuery
	}
	if cfg.LowConfidenceThreshold <= 0 {
		cfg.LowConfidenceThreshold = 0.5
	}
	return &Classifier{cfg: cfg}
}

// Classify scores the prompt against every task type's keyword table and
// returns the winner. Ties break by task type declaration order.
func (c *Classifier) Classify(prompt string, _ map[string]any) Result {
	lower := strings.ToLower(prompt)
	complexity := complexityScore(lower, len(prompt))

	var (
		best     Result
		anyMatch bool
	)
	for _, tt := range model.AllTaskTypes {
		score, matched := keywordScore(lower, taskKeywords[tt])
		if score <= 0 {
			continue
		}
		anyMatch = true
		// Strictly-greater keeps declaration order as the tie-break.
		if score > best.Confidence {
			best = Result{TaskType: tt, Confidence: score, MatchedKeywords: matched}
		}
	}

	if !anyMatch {
		fallback := c.cfg.DefaultTaskType
		if complexity > 0.5 {
			fallback = model.TaskComplexReasoning
		}
		zap.L().Debug("classifier: no keyword matches, using fallback",
			zap.String("task_type", string(fallback)),
			zap.Float64("complexity", complexity),
		)
		return Result{TaskType: fallback, Confidence: 0.3, Complexity: complexity}
	}

	switch best.TaskType {
	case model.TaskComplexReasoning:
		best.Confidence += complexity * 0.3
	case model.TaskSimpleQuery:
		best.Confidence -= complexity * 0.3
	}
	best.Confidence = clamp01(best.Confidence)
	best.Complexity = complexity
	return best
}

// ShouldUseMultipleModels reports whether the routing layer should fan out
// to more than one model for this classification.
func (c *Classifier) ShouldUseMultipleModels(r Result) bool {
	if r.Confidence < c.cfg.LowConfidenceThreshold {
		return true
	}
	if r.TaskType == model.TaskDataValidation {
		return true
	}
	return r.TaskType == model.TaskComplexReasoning && r.Confidence < 0.8
}

// keywordScore sums the weights of non-overlapping keyword matches,
// longest keyword first, normalized by scoreNormalizer and capped at 1.
func keywordScore(lower string, keywords []weightedKeyword) (float64, []string) {
	sorted := make([]weightedKeyword, len(keywords))
	copy(sorted, keywords)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].keyword) > len(sorted[j].keyword)
	})

	type span struct{ start, end int }
	var consumed []span
	overlaps := func(start, end int) bool {
		for _, s := range consumed {
			if start < s.end && end > s.start {
				return true
			}
		}
		return false
	}

	var total float64
	var matched []string
	for _, kw := range sorted {
		from := 0
		for {
			idx := strings.Index(lower[from:], kw.keyword)
			if idx < 0 {
				break
			}
			start := from + idx
			end := start + len(kw.keyword)
			from = end
			if overlaps(start, end) {
				continue
			}
			consumed = append(consumed, span{start, end})
			total += kw.weight
			matched = append(matched, kw.keyword)
			break // count each keyword once
		}
	}

	if total == 0 {
		return 0, nil
	}
	score := total / scoreNormalizer
	if score > 1 {
		score = 1
	}
	return score, matched
}

// complexityScore estimates how demanding the prompt is, in [0,1].
func complexityScore(lower string, promptLen int) float64 {
	var total float64
	for _, ind := range complexityIndicators {
		if ind.pattern.MatchString(lower) {
			total += ind.weight
		}
	}
	switch {
	case promptLen > 400:
		total += 0.3
	case promptLen > 150:
		total += 0.15
	}
	if total > 1 {
		total = 1
	}
	return total
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
