package classifier

import "github.com/sells-group/modelmesh/internal/model"

// weightedKeyword pairs a lowercase keyword with its scoring weight.
type weightedKeyword struct {
	keyword string
	weight  float64
}

// taskKeywords maps each task type to its keyword table. Matching is
// longest-keyword-first against the lowercased prompt, and consumed
// character ranges are not double-counted across keywords.
var taskKeywords = map[model.TaskType][]weightedKeyword{
	model.TaskSimpleQuery: {
		{"what is", 0.5},
		{"how much", 0.5},
		{"current", 0.4},
		{"lookup", 0.4},
		{"show me", 0.4},
		{"list", 0.3},
		{"find", 0.3},
	},
	model.TaskComplexReasoning: {
		{"explain why", 0.7},
		{"step by step", 0.7},
		{"trade-off", 0.6},
		{"analyze", 0.6},
		{"compare", 0.5},
		{"evaluate", 0.5},
		{"recommend", 0.5},
		{"reason", 0.4},
		{"implications", 0.4},
	},
	model.TaskDataValidation: {
		{"is this correct", 0.8},
		{"plausible", 0.7},
		{"validate", 0.7},
		{"verify", 0.6},
		{"sanity check", 0.6},
		{"confirm", 0.5},
		{"double-check", 0.5},
	},
	model.TaskPriceExtraction: {
		{"price per hour", 0.8},
		{"cost per hour", 0.8},
		{"hourly rate", 0.7},
		{"pricing", 0.6},
		{"price", 0.5},
		{"cost", 0.4},
		{"usd", 0.4},
		{"quote", 0.4},
		{"$", 0.3},
	},
	model.TaskHistoricalAnalysis: {
		{"over the last", 0.7},
		{"historical", 0.7},
		{"over time", 0.6},
		{"trend", 0.6},
		{"history", 0.5},
		{"since", 0.3},
		{"past", 0.3},
		{"change", 0.3},
	},
}
