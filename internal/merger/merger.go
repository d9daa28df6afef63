// Package merger reconciles concurrent model responses into a single
// result with structured-aware voting and confidence weighting.
package merger

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/modelmesh/internal/model"
)

// Merge method names recorded in result metadata.
const (
	methodNone              = "none"
	methodSingleResponse    = "single_response"
	methodExactAgreement    = "exact_agreement"
	methodArrayMerge        = "array_merge"
	methodObjectVote        = "object_vote"
	methodWeightedAverage   = "weighted_average"
	methodHighestConfidence = "highest_confidence"
	methodTextSelection     = "text_selection"
)

// Config tunes merging.
type Config struct {
	// StructuredRatio is the minimum fraction of successful responses that
	// must parse as structured data before structured merging applies.
	StructuredRatio float64
	// LowConfidenceThreshold flags results whose average contributor
	// confidence falls below it.
	LowConfidenceThreshold float64
	// DefaultConfidence substitutes for models with no learned score.
	DefaultConfidence float64
}

// DefaultConfig returns standard merge tuning.
func DefaultConfig() Config {
	return Config{
		StructuredRatio:        0.5,
		LowConfidenceThreshold: 0.4,
		DefaultConfidence:      0.5,
	}
}

// Merger combines per-model responses. Stateless and safe for concurrent use.
type Merger struct {
	cfg Config
}

// New creates a merger.
func New(cfg Config) *Merger {
	if cfg.StructuredRatio <= 0 {
		cfg.StructuredRatio = 0.5
	}
	if cfg.LowConfidenceThreshold <= 0 {
		cfg.LowConfidenceThreshold = 0.4
	}
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = 0.5
	}
	return &Merger{cfg: cfg}
}

// contribution pairs a successful response with its confidence score.
type contribution struct {
	resp       model.Response
	confidence float64
	parsed     ParsedValue
}

// Merge reconciles the response map into one result. scores maps model
// names to learned confidence; missing models fall back to the default.
// The result is deterministic for a given input set.
func (m *Merger) Merge(responses map[string]model.Response, scores map[string]float64, taskType model.TaskType) (result model.MergedResult) {
	contribs := m.collect(responses, scores)

	result = model.MergedResult{
		Confidence: make(map[string]float64, len(contribs)),
		Metadata:   baseMetadata(responses, contribs, taskType),
	}
	for _, c := range contribs {
		result.Confidence[c.resp.ModelName] = c.confidence
		result.ContributingModels = append(result.ContributingModels, c.resp.ModelName)
	}

	if len(contribs) == 0 {
		result.FlaggedForReview = true
		result.Metadata["merge_method"] = methodNone
		return result
	}

	// A panic while interpreting model output must never take the request
	// down; fall back to the single highest-confidence response.
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("merger: recovered from panic, using highest-confidence response",
				zap.Any("panic", r),
			)
			best := highestConfidence(contribs)
			result.Data = best.resp.Content
			result.FlaggedForReview = true
			result.Metadata["merge_method"] = methodHighestConfidence
			result.Metadata["chosen_model"] = best.resp.ModelName
		}
	}()

	data, method, chosen := m.mergeData(contribs)
	result.Data = data
	result.Metadata["merge_method"] = method
	if chosen != "" {
		result.Metadata["chosen_model"] = chosen
	}
	result.FlaggedForReview = m.shouldFlag(contribs)
	return result
}

// collect filters to successful responses sorted by model name, computes
// confidences, and parses content once up front.
func (m *Merger) collect(responses map[string]model.Response, scores map[string]float64) []contribution {
	var contribs []contribution
	for _, resp := range responses {
		if !resp.Success || resp.Content == "" {
			continue
		}
		conf, ok := scores[resp.ModelName]
		if !ok {
			conf = m.cfg.DefaultConfidence
		}
		contribs = append(contribs, contribution{
			resp:       resp,
			confidence: conf,
			parsed:     parseContent(resp.Content),
		})
	}
	sort.Slice(contribs, func(i, j int) bool {
		return contribs[i].resp.ModelName < contribs[j].resp.ModelName
	})
	return contribs
}

func (m *Merger) mergeData(contribs []contribution) (data any, method, chosen string) {
	if len(contribs) == 1 {
		return contribs[0].resp.Content, methodSingleResponse, contribs[0].resp.ModelName
	}

	if c, ok := findAgreement(contribs); ok {
		return c.resp.Content, methodExactAgreement, c.resp.ModelName
	}

	structured := structuredContribs(contribs)
	if float64(len(structured)) >= m.cfg.StructuredRatio*float64(len(contribs)) && len(structured) > 0 {
		if kind, uniform := uniformKind(structured); uniform {
			switch kind {
			case KindArray:
				return mergeArrays(structured), methodArrayMerge, ""
			case KindObject:
				return mergeObjects(structured), methodObjectVote, ""
			case KindNumber:
				return weightedAverage(structured), methodWeightedAverage, ""
			}
		}
		best := highestConfidence(structured)
		return best.resp.Content, methodHighestConfidence, best.resp.ModelName
	}

	best := selectText(contribs)
	return best.resp.Content, methodTextSelection, best.resp.ModelName
}

// findAgreement looks for a response whose whitespace-normalized content
// equals or contains every other response's content. Longest candidate
// wins so the superset answer is returned verbatim.
func findAgreement(contribs []contribution) (contribution, bool) {
	idx := make([]int, len(contribs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		li, lj := len(contribs[idx[a]].resp.Content), len(contribs[idx[b]].resp.Content)
		if li != lj {
			return li > lj
		}
		return contribs[idx[a]].resp.ModelName < contribs[idx[b]].resp.ModelName
	})

	for _, i := range idx {
		cand := normalizeWhitespace(contribs[i].resp.Content)
		agrees := true
		for j, other := range contribs {
			if j == i {
				continue
			}
			o := normalizeWhitespace(other.resp.Content)
			if o != cand && !strings.Contains(cand, o) {
				agrees = false
				break
			}
		}
		if agrees {
			return contribs[i], true
		}
	}
	return contribution{}, false
}

func structuredContribs(contribs []contribution) []contribution {
	var out []contribution
	for _, c := range contribs {
		if c.parsed.Kind != KindText {
			out = append(out, c)
		}
	}
	return out
}

func uniformKind(contribs []contribution) (Kind, bool) {
	kind := contribs[0].parsed.Kind
	for _, c := range contribs[1:] {
		if c.parsed.Kind != kind {
			return kind, false
		}
	}
	return kind, true
}

// itemKeyFields are tried in order to identify an array item; items with
// none of them key on their canonical serialization.
var itemKeyFields = []string{"provider", "model", "id", "name"}

// mergeArrays unions array items across sources, deduplicating by natural
// key. Each key accumulates the confidence of every source that produced
// it; the retained instance comes from the highest-confidence source.
// Output is ordered by accumulated confidence, then key.
func mergeArrays(contribs []contribution) []any {
	type bucket struct {
		item        any
		itemConf    float64
		accumulated float64
	}
	buckets := make(map[string]*bucket)
	var order []string

	for _, c := range contribs {
		seen := make(map[string]bool)
		for _, item := range c.parsed.Array {
			key := itemKey(item)
			if seen[key] {
				continue
			}
			seen[key] = true

			b, ok := buckets[key]
			if !ok {
				b = &bucket{item: item, itemConf: c.confidence}
				buckets[key] = b
				order = append(order, key)
			} else if c.confidence > b.itemConf {
				b.item = item
				b.itemConf = c.confidence
			}
			b.accumulated += c.confidence
		}
	}

	sort.Slice(order, func(i, j int) bool {
		bi, bj := buckets[order[i]], buckets[order[j]]
		if bi.accumulated != bj.accumulated {
			return bi.accumulated > bj.accumulated
		}
		return order[i] < order[j]
	})

	merged := make([]any, 0, len(order))
	for _, key := range order {
		merged = append(merged, buckets[key].item)
	}
	return merged
}

func itemKey(item any) string {
	if obj, ok := item.(map[string]any); ok {
		for _, field := range itemKeyFields {
			if v, present := obj[field]; present {
				if s, isStr := v.(string); isStr && s != "" {
					return field + ":" + s
				}
			}
		}
	}
	return canonical(item)
}

// mergeObjects takes the union of keys and resolves each key by weighted
// vote: candidate values group by canonical serialization and the group
// with the largest summed confidence wins. Ties break on the canonical
// form for determinism.
func mergeObjects(contribs []contribution) map[string]any {
	keySet := make(map[string]bool)
	for _, c := range contribs {
		for k := range c.parsed.Object {
			keySet[k] = true
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	merged := make(map[string]any, len(keys))
	for _, key := range keys {
		type group struct {
			value  any
			weight float64
		}
		groups := make(map[string]*group)
		var forms []string

		for _, c := range contribs {
			v, present := c.parsed.Object[key]
			if !present {
				continue
			}
			form := canonical(v)
			g, ok := groups[form]
			if !ok {
				g = &group{value: v}
				groups[form] = g
				forms = append(forms, form)
			}
			g.weight += c.confidence
		}

		sort.Slice(forms, func(i, j int) bool {
			gi, gj := groups[forms[i]], groups[forms[j]]
			if gi.weight != gj.weight {
				return gi.weight > gj.weight
			}
			return forms[i] < forms[j]
		})
		merged[key] = groups[forms[0]].value
	}
	return merged
}

// weightedAverage averages scalar answers weighted by confidence.
func weightedAverage(contribs []contribution) float64 {
	var sum, weight float64
	for _, c := range contribs {
		sum += c.parsed.Number * c.confidence
		weight += c.confidence
	}
	if weight == 0 {
		for _, c := range contribs {
			sum += c.parsed.Number
		}
		return sum / float64(len(contribs))
	}
	return sum / weight
}

// selectText scores free-text answers on confidence plus a capped length
// bonus; longer answers carry more substance up to a point.
func selectText(contribs []contribution) contribution {
	best := contribs[0]
	bestScore := textScore(best)
	for _, c := range contribs[1:] {
		if s := textScore(c); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

func textScore(c contribution) float64 {
	length := float64(len(c.resp.Content))
	if length > 1000 {
		length = 1000
	}
	return 0.8*c.confidence + 0.2*length/1000
}

func highestConfidence(contribs []contribution) contribution {
	best := contribs[0]
	for _, c := range contribs[1:] {
		if c.confidence > best.confidence {
			best = c
		}
	}
	return best
}

// shouldFlag marks results needing review: fewer than two contributing
// models, or contributors whose average confidence is too low.
func (m *Merger) shouldFlag(contribs []contribution) bool {
	if len(contribs) < 2 {
		return true
	}
	var sum float64
	for _, c := range contribs {
		sum += c.confidence
	}
	return sum/float64(len(contribs)) < m.cfg.LowConfidenceThreshold
}

// baseMetadata records the task type, per-model timings and costs, and the
// pairwise agreement ratio across successful responses.
func baseMetadata(responses map[string]model.Response, contribs []contribution, taskType model.TaskType) map[string]any {
	times := make(map[string]time.Duration, len(responses))
	costs := make(map[string]float64, len(responses))
	for name, resp := range responses {
		times[name] = resp.ResponseTime
		costs[name] = resp.Cost
	}

	return map[string]any{
		"task_type":         taskType,
		"total_models":      len(responses),
		"successful_models": len(contribs),
		"response_times":    times,
		"costs":             costs,
		"agreement_ratio":   agreementRatio(contribs),
	}
}

// agreementRatio is the fraction of contributor pairs whose normalized
// contents match exactly. A single contributor trivially agrees.
func agreementRatio(contribs []contribution) float64 {
	if len(contribs) < 2 {
		return 1.0
	}
	normalized := make([]string, len(contribs))
	for i, c := range contribs {
		normalized[i] = normalizeWhitespace(c.resp.Content)
	}
	pairs, agreed := 0, 0
	for i := 0; i < len(normalized); i++ {
		for j := i + 1; j < len(normalized); j++ {
			pairs++
			if normalized[i] == normalized[j] {
				agreed++
			}
		}
	}
	return float64(agreed) / float64(pairs)
}
