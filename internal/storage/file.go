package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/modelmesh/internal/model"
)

const (
	scoresFileName = "confidence_scores.json"
	logFileName    = "performance_log.jsonl"

	scoreDocumentVersion = 1

	// maxLogLineBytes bounds the scanner buffer for one log line.
	maxLogLineBytes = 1 << 20
)

// scoreDocument is the persisted snapshot format.
type scoreDocument struct {
	Version     int                   `json:"version"`
	LastUpdated time.Time             `json:"last_updated"`
	Scores      map[string]scoreEntry `json:"scores"`
}

type scoreEntry struct {
	Score       float64   `json:"score"`
	SampleCount int       `json:"sample_count"`
	LastUpdated time.Time `json:"last_updated"`
}

// FileStore persists learning state as two files in a directory: a JSON
// confidence snapshot and a JSONL performance log. Whole-document writes go
// through a temp-file-then-rename sequence so a reader never observes a
// half-written document. One mutex guards every read-modify-write against
// both files.
type FileStore struct {
	mu  sync.Mutex
	dir string

	degraded bool
	// In-memory fallback state, authoritative while degraded.
	memScores  map[string]model.ConfidenceScore
	memRecords []model.PerformanceRecord
}

// NewFileStore creates the directory if needed and returns a file store.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, eris.New("storage: data directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "storage: create dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) scoresPath() string { return filepath.Join(s.dir, scoresFileName) }
func (s *FileStore) logPath() string    { return filepath.Join(s.dir, logFileName) }

// LoadScores reads the snapshot document. A missing file is an empty map.
// A corrupt file degrades the store to its in-memory fallback.
func (s *FileStore) LoadScores(_ context.Context) (map[string]model.ConfidenceScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		return copyScores(s.memScores), nil
	}

	data, err := os.ReadFile(s.scoresPath())
	if os.IsNotExist(err) {
		return map[string]model.ConfidenceScore{}, nil
	}
	if err != nil {
		s.enterFallback("read scores", err)
		return copyScores(s.memScores), nil
	}

	var doc scoreDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.enterFallback("parse scores", err)
		return copyScores(s.memScores), nil
	}

	scores := make(map[string]model.ConfidenceScore, len(doc.Scores))
	for key, entry := range doc.Scores {
		name, taskType, ok := splitScoreKey(key)
		if !ok {
			zap.L().Warn("storage: skipping score with unrecognized key", zap.String("key", key))
			continue
		}
		scores[key] = model.ConfidenceScore{
			ModelName:   name,
			TaskType:    taskType,
			Score:       entry.Score,
			SampleCount: entry.SampleCount,
			LastUpdated: entry.LastUpdated,
		}
	}
	return scores, nil
}

// SaveScores atomically replaces the snapshot document.
func (s *FileStore) SaveScores(_ context.Context, scores map[string]model.ConfidenceScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		s.memScores = copyScores(scores)
		return nil
	}

	if err := s.writeScoresLocked(scores); err != nil {
		s.memScores = copyScores(scores)
		s.enterFallback("write scores", err)
		return nil
	}
	return nil
}

func (s *FileStore) writeScoresLocked(scores map[string]model.ConfidenceScore) error {
	doc := scoreDocument{
		Version:     scoreDocumentVersion,
		LastUpdated: time.Now().UTC(),
		Scores:      make(map[string]scoreEntry, len(scores)),
	}
	for key, cs := range scores {
		doc.Scores[key] = scoreEntry{
			Score:       cs.Score,
			SampleCount: cs.SampleCount,
			LastUpdated: cs.LastUpdated,
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "storage: marshal scores")
	}
	return writeFileAtomic(s.scoresPath(), data)
}

// AppendRecord appends one JSONL record to the performance log.
func (s *FileStore) AppendRecord(_ context.Context, rec model.PerformanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		s.memRecords = append(s.memRecords, rec)
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "storage: marshal record")
	}
	f, err := os.OpenFile(s.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.memRecords = append(s.memRecords, rec)
		s.enterFallback("open log", err)
		return nil
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		s.memRecords = append(s.memRecords, rec)
		s.enterFallback("append log", err)
		return nil
	}
	return nil
}

// QueryRecords streams the log through the filter. Unparseable lines are
// skipped, not fatal.
func (s *FileStore) QueryRecords(_ context.Context, filter RecordFilter) ([]model.PerformanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		return filterRecords(s.memRecords, filter), nil
	}

	f, err := os.Open(s.logPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		s.enterFallback("open log", err)
		return filterRecords(s.memRecords, filter), nil
	}
	defer f.Close()

	var out []model.PerformanceRecord
	var skipped int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.PerformanceRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		if !filter.Matches(rec) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return out, eris.Wrap(err, "storage: scan log")
	}
	if skipped > 0 {
		zap.L().Warn("storage: skipped unparseable log lines", zap.Int("skipped", skipped))
	}
	return out, nil
}

// Cleanup rewrites the log atomically, dropping records older than the
// horizon. Returns the number of records removed.
func (s *FileStore) Cleanup(_ context.Context, horizon time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-horizon)

	if s.degraded {
		kept := s.memRecords[:0:0]
		removed := 0
		for _, rec := range s.memRecords {
			if rec.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		s.memRecords = kept
		return removed, nil
	}

	f, err := os.Open(s.logPath())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "storage: open log for cleanup")
	}

	var buf []byte
	removed := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.PerformanceRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			removed++ // corrupt lines do not survive a rewrite
			continue
		}
		if rec.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return 0, eris.Wrap(scanErr, "storage: scan log for cleanup")
	}

	if err := writeFileAtomic(s.logPath(), buf); err != nil {
		return 0, err
	}
	if removed > 0 {
		zap.L().Info("storage: retention cleanup", zap.Int("removed", removed))
	}
	return removed, nil
}

// Degraded reports whether the store is serving from memory.
func (s *FileStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// ResetFallback flushes in-memory state back to disk and, on success,
// leaves degraded mode.
func (s *FileStore) ResetFallback(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.degraded {
		return nil
	}

	if len(s.memScores) > 0 {
		if err := s.writeScoresLocked(s.memScores); err != nil {
			return eris.Wrap(err, "storage: flush fallback scores")
		}
	}
	if len(s.memRecords) > 0 {
		var buf []byte
		for _, rec := range s.memRecords {
			data, err := json.Marshal(rec)
			if err != nil {
				return eris.Wrap(err, "storage: marshal fallback record")
			}
			buf = append(buf, data...)
			buf = append(buf, '\n')
		}
		f, err := os.OpenFile(s.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return eris.Wrap(err, "storage: reopen log")
		}
		if _, err := f.Write(buf); err != nil {
			f.Close()
			return eris.Wrap(err, "storage: flush fallback records")
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "storage: close log")
		}
	}

	s.degraded = false
	s.memScores = nil
	s.memRecords = nil
	zap.L().Info("storage: fallback reset, file store healthy")
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

// enterFallback flips the store into in-memory mode. Callers hold the lock.
func (s *FileStore) enterFallback(op string, err error) {
	if !s.degraded {
		s.degraded = true
		if s.memScores == nil {
			s.memScores = map[string]model.ConfidenceScore{}
		}
		zap.L().Error("storage: degrading to in-memory fallback",
			zap.String("op", op),
			zap.Error(err),
		)
	}
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over the destination.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".%s.tmp-*", filepath.Base(path)))
	if err != nil {
		return eris.Wrapf(err, "storage: create temp for %s", path)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrapf(err, "storage: write temp for %s", path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrapf(err, "storage: sync temp for %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "storage: close temp for %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "storage: rename temp over %s", path)
	}
	return nil
}

func copyScores(in map[string]model.ConfidenceScore) map[string]model.ConfidenceScore {
	out := make(map[string]model.ConfidenceScore, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func filterRecords(records []model.PerformanceRecord, filter RecordFilter) []model.PerformanceRecord {
	var out []model.PerformanceRecord
	for _, rec := range records {
		if !filter.Matches(rec) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}
