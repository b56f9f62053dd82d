package metricsstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is an optional queryable mirror of the metrics log.
// Unlike the JSON Store, it answers per-version lookups (ByVersion)
// without loading the whole log into memory; it has no query by test
// type or by time range.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at path and
// migrates its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("metricsstore: open sqlite: %w", err)
	}

	// A single writer connection avoids SQLITE_BUSY under WAL mode.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("metricsstore: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS metrics_runs (
			id TEXT NOT NULL,
			version_id TEXT,
			test_type TEXT,
			timestamp TIMESTAMP NOT NULL,
			metrics_json TEXT NOT NULL,
			PRIMARY KEY (id, timestamp)
		);
		CREATE INDEX IF NOT EXISTS idx_metrics_version ON metrics_runs(version_id);
		CREATE INDEX IF NOT EXISTS idx_metrics_test_type ON metrics_runs(test_type);
		CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON metrics_runs(timestamp);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("metricsstore: create schema: %w", err)
	}
	return nil
}

// Append inserts run into the table.
func (s *SQLiteStore) Append(ctx context.Context, run MetricsRun) error {
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now()
	}
	data, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("metricsstore: marshal metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO metrics_runs (id, version_id, test_type, timestamp, metrics_json) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.VersionID, run.TestType, run.Timestamp, string(data))
	if err != nil {
		return fmt.Errorf("metricsstore: insert run: %w", err)
	}
	return nil
}

// ByVersion returns every run recorded for versionID, oldest first.
func (s *SQLiteStore) ByVersion(ctx context.Context, versionID string) ([]MetricsRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version_id, test_type, timestamp, metrics_json FROM metrics_runs WHERE version_id = ? ORDER BY timestamp ASC`,
		versionID)
	if err != nil {
		return nil, fmt.Errorf("metricsstore: query by version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []MetricsRun
	for rows.Next() {
		var run MetricsRun
		var metricsJSON string
		if err := rows.Scan(&run.ID, &run.VersionID, &run.TestType, &run.Timestamp, &metricsJSON); err != nil {
			return nil, fmt.Errorf("metricsstore: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(metricsJSON), &run.Metrics); err != nil {
			return nil, fmt.Errorf("metricsstore: unmarshal metrics: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
