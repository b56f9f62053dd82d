package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLIndex mirrors checkpoint metadata into a queryable MySQL table.
// It is an optional sidecar: the filesystem tree under Store.Root remains the
// source of truth for content and metadata.json; MySQLIndex exists so
// a large retention history can be listed/queried without walking the
// filesystem.
type MySQLIndex struct {
	db *sql.DB
}

// NewMySQLIndex opens dsn, configures the connection pool, and creates
// the checkpoints index table if it doesn't already exist.
func NewMySQLIndex(dsn string) (*MySQLIndex, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: ping mysql: %w", err)
	}

	idx := &MySQLIndex{db: db}
	if err := idx.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *MySQLIndex) createTable(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoint_index (
			version_id VARCHAR(255) NOT NULL PRIMARY KEY,
			parent_id VARCHAR(255) DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			file_count INT NOT NULL,
			total_bytes BIGINT NOT NULL,
			integrity_hash VARCHAR(255) NOT NULL,
			compression VARCHAR(32) NOT NULL,
			metrics_count INT NOT NULL DEFAULT 0,
			INDEX idx_parent (parent_id),
			INDEX idx_created (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := idx.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("checkpoint: create checkpoint_index table: %w", err)
	}
	return nil
}

// Upsert records or replaces meta's row in the index.
func (idx *MySQLIndex) Upsert(ctx context.Context, meta Metadata) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO checkpoint_index
			(version_id, parent_id, created_at, file_count, total_bytes, integrity_hash, compression, metrics_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			parent_id = VALUES(parent_id),
			created_at = VALUES(created_at),
			file_count = VALUES(file_count),
			total_bytes = VALUES(total_bytes),
			integrity_hash = VALUES(integrity_hash),
			compression = VALUES(compression),
			metrics_count = VALUES(metrics_count)
	`, meta.VersionID, meta.ParentID, meta.CreatedAt, meta.FileCount, meta.TotalBytes,
		meta.IntegrityHash, string(meta.Compression), meta.MetricsCount)
	if err != nil {
		return fmt.Errorf("checkpoint: upsert index row: %w", err)
	}
	return nil
}

// Remove deletes versionID's row from the index.
func (idx *MySQLIndex) Remove(ctx context.Context, versionID string) error {
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM checkpoint_index WHERE version_id = ?`, versionID); err != nil {
		return fmt.Errorf("checkpoint: delete index row: %w", err)
	}
	return nil
}

// ListByParent returns version IDs whose parent is parentID, newest
// first, for ancestry/retention queries over large histories.
func (idx *MySQLIndex) ListByParent(ctx context.Context, parentID string) ([]string, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT version_id FROM checkpoint_index WHERE parent_id = ? ORDER BY created_at DESC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: query by parent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("checkpoint: scan row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying connection pool.
func (idx *MySQLIndex) Close() error {
	return idx.db.Close()
}

// SyncStore walks every checkpoint in s and upserts its metadata into
// the index, useful to backfill the index for a store that predates
// it or to repair drift.
func (idx *MySQLIndex) SyncStore(ctx context.Context, s *Store) error {
	metas, err := s.ListCheckpoints()
	if err != nil {
		return err
	}
	for _, meta := range metas {
		if err := idx.Upsert(ctx, meta); err != nil {
			return err
		}
	}
	return nil
}
