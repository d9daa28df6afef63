package model

// TaskType categorizes a request so routing and learning can specialize
// per kind of work. The declaration order of AllTaskTypes is the tie-break
// order for classification.
type TaskType string

const (
	TaskSimpleQuery        TaskType = "simple_query"
	TaskComplexReasoning   TaskType = "complex_reasoning"
	TaskDataValidation     TaskType = "data_validation"
	TaskPriceExtraction    TaskType = "price_extraction"
	TaskHistoricalAnalysis TaskType = "historical_analysis"
)

// AllTaskTypes lists every task type in declaration order.
var AllTaskTypes = []TaskType{
	TaskSimpleQuery,
	TaskComplexReasoning,
	TaskDataValidation,
	TaskPriceExtraction,
	TaskHistoricalAnalysis,
}

// ParseTaskType validates a task type string.
func ParseTaskType(s string) (TaskType, bool) {
	switch TaskType(s) {
	case TaskSimpleQuery, TaskComplexReasoning, TaskDataValidation,
		TaskPriceExtraction, TaskHistoricalAnalysis:
		return TaskType(s), true
	default:
		return "", false
	}
}

// Valid reports whether t is a member of the closed task type set.
func (t TaskType) Valid() bool {
	_, ok := ParseTaskType(string(t))
	return ok
}
