// Package storage persists the learning state: a confidence-score snapshot
// document and an append-only performance-record log.
package storage

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/modelmesh/internal/model"
)

// RecordFilter narrows a performance-log query. Zero values mean "any".
type RecordFilter struct {
	ModelName string
	TaskType  model.TaskType
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Matches reports whether a record passes the filter.
func (f RecordFilter) Matches(rec model.PerformanceRecord) bool {
	if f.ModelName != "" && rec.ModelName != f.ModelName {
		return false
	}
	if f.TaskType != "" && rec.TaskType != f.TaskType {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && rec.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// HistoryStore is the persistence interface for learning state. The file
// implementation is the default; a sqlite driver is available where an
// embedded database is preferred.
type HistoryStore interface {
	// LoadScores reads the confidence-score snapshot. A missing snapshot
	// yields an empty map, not an error.
	LoadScores(ctx context.Context) (map[string]model.ConfidenceScore, error)

	// SaveScores atomically replaces the whole snapshot document.
	SaveScores(ctx context.Context, scores map[string]model.ConfidenceScore) error

	// AppendRecord appends one performance record to the log.
	AppendRecord(ctx context.Context, rec model.PerformanceRecord) error

	// QueryRecords streams the log through the filter, skipping unparseable
	// entries rather than aborting.
	QueryRecords(ctx context.Context, filter RecordFilter) ([]model.PerformanceRecord, error)

	// Cleanup drops records older than the horizon, rewriting the log
	// atomically. Returns the number of records removed.
	Cleanup(ctx context.Context, horizon time.Duration) (int, error)

	// Degraded reports whether the store is running on its in-memory
	// fallback after a read or write failure.
	Degraded() bool

	// ResetFallback attempts to flush in-memory fallback state back to the
	// underlying storage and leave degraded mode.
	ResetFallback(ctx context.Context) error

	Close() error
}

// splitScoreKey recovers (model, task type) from a persisted "model_task"
// key. Task types themselves contain underscores, so the known suffixes are
// tried instead of splitting blindly.
func splitScoreKey(key string) (string, model.TaskType, bool) {
	for _, tt := range model.AllTaskTypes {
		suffix := "_" + string(tt)
		if strings.HasSuffix(key, suffix) && len(key) > len(suffix) {
			return strings.TrimSuffix(key, suffix), tt, true
		}
	}
	return "", "", false
}
