package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/modelmesh/internal/model"
)

// SQLiteStore implements HistoryStore on modernc.org/sqlite. The embedded
// database gives transactional writes for free, so this driver has no
// degraded in-memory mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database, configures WAL mode, and runs
// the schema migration.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if _, err := db.Exec(sqliteMigration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: migrate")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS confidence_scores (
	key          TEXT PRIMARY KEY,
	model_name   TEXT NOT NULL,
	task_type    TEXT NOT NULL,
	score        REAL NOT NULL,
	sample_count INTEGER NOT NULL,
	last_updated DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS performance_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            DATETIME NOT NULL,
	model_name    TEXT NOT NULL,
	task_type     TEXT NOT NULL,
	was_correct   INTEGER NOT NULL,
	response_ns   INTEGER NOT NULL,
	cost          REAL NOT NULL,
	token_count   INTEGER NOT NULL,
	request_id    TEXT
);

CREATE INDEX IF NOT EXISTS idx_perf_model_task ON performance_records(model_name, task_type);
CREATE INDEX IF NOT EXISTS idx_perf_ts ON performance_records(ts);
`

func (s *SQLiteStore) LoadScores(ctx context.Context) (map[string]model.ConfidenceScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, model_name, task_type, score, sample_count, last_updated
		FROM confidence_scores`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query scores")
	}
	defer rows.Close()

	scores := make(map[string]model.ConfidenceScore)
	for rows.Next() {
		var key, name, taskType string
		var cs model.ConfidenceScore
		if err := rows.Scan(&key, &name, &taskType, &cs.Score, &cs.SampleCount, &cs.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score")
		}
		cs.ModelName = name
		cs.TaskType = model.TaskType(taskType)
		scores[key] = cs
	}
	return scores, eris.Wrap(rows.Err(), "sqlite: iterate scores")
}

func (s *SQLiteStore) SaveScores(ctx context.Context, scores map[string]model.ConfidenceScore) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save scores")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM confidence_scores`); err != nil {
		return eris.Wrap(err, "sqlite: clear scores")
	}
	for key, cs := range scores {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO confidence_scores (key, model_name, task_type, score, sample_count, last_updated)
			VALUES (?, ?, ?, ?, ?, ?)`,
			key, cs.ModelName, string(cs.TaskType), cs.Score, cs.SampleCount, cs.LastUpdated)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert score %s", key)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit scores")
}

func (s *SQLiteStore) AppendRecord(ctx context.Context, rec model.PerformanceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO performance_records (ts, model_name, task_type, was_correct, response_ns, cost, token_count, request_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.ModelName, string(rec.TaskType), rec.WasCorrect,
		int64(rec.ResponseTime), rec.Cost, rec.TokenCount, rec.RequestID)
	return eris.Wrap(err, "sqlite: insert record")
}

func (s *SQLiteStore) QueryRecords(ctx context.Context, filter RecordFilter) ([]model.PerformanceRecord, error) {
	query := `
		SELECT ts, model_name, task_type, was_correct, response_ns, cost, token_count, COALESCE(request_id, '')
		FROM performance_records WHERE 1=1`
	var args []any
	if filter.ModelName != "" {
		query += " AND model_name = ?"
		args = append(args, filter.ModelName)
	}
	if filter.TaskType != "" {
		query += " AND task_type = ?"
		args = append(args, string(filter.TaskType))
	}
	if !filter.Since.IsZero() {
		query += " AND ts >= ?"
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query += " AND ts <= ?"
		args = append(args, filter.Until)
	}
	query += " ORDER BY ts ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query records")
	}
	defer rows.Close()

	var out []model.PerformanceRecord
	for rows.Next() {
		var rec model.PerformanceRecord
		var taskType string
		var responseNS int64
		if err := rows.Scan(&rec.Timestamp, &rec.ModelName, &taskType, &rec.WasCorrect,
			&responseNS, &rec.Cost, &rec.TokenCount, &rec.RequestID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		rec.TaskType = model.TaskType(taskType)
		rec.ResponseTime = time.Duration(responseNS)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) Cleanup(ctx context.Context, horizon time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-horizon)
	res, err := s.db.ExecContext(ctx, `DELETE FROM performance_records WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: cleanup")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: cleanup rows affected")
	}
	return int(n), nil
}

// Degraded always reports false; sqlite failures surface as errors instead.
func (s *SQLiteStore) Degraded() bool { return false }

// ResetFallback is a no-op for the sqlite driver.
func (s *SQLiteStore) ResetFallback(context.Context) error { return nil }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
