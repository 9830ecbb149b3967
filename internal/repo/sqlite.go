package repo

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/llm-devops/llm-analytics-hub/internal/models"
	"github.com/llm-devops/llm-analytics-hub/internal/utils"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS metric_rollups (
	metric       TEXT    NOT NULL,
	time_window  TEXT    NOT NULL,
	bucket_start INTEGER NOT NULL,
	sample_count INTEGER NOT NULL,
	total        REAL    NOT NULL,
	min_value    REAL    NOT NULL,
	max_value    REAL    NOT NULL,
	mean         REAL    NOT NULL,
	m2           REAL    NOT NULL,
	p50          REAL    NOT NULL,
	p95          REAL    NOT NULL,
	p99          REAL    NOT NULL,
	updated_at   TEXT    NOT NULL,
	PRIMARY KEY (metric, time_window, bucket_start)
)`

const sqliteUpsert = `
INSERT INTO metric_rollups
	(metric, time_window, bucket_start, sample_count, total, min_value, max_value, mean, m2, p50, p95, p99, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(metric, time_window, bucket_start) DO UPDATE SET
	sample_count = metric_rollups.sample_count + excluded.sample_count,
	total        = metric_rollups.total + excluded.total,
	min_value    = MIN(metric_rollups.min_value, excluded.min_value),
	max_value    = MAX(metric_rollups.max_value, excluded.max_value),
	mean         = (metric_rollups.mean * metric_rollups.sample_count + excluded.mean * excluded.sample_count) / (metric_rollups.sample_count + excluded.sample_count),
	m2           = metric_rollups.m2 + excluded.m2 + (excluded.mean - metric_rollups.mean) * (excluded.mean - metric_rollups.mean) * metric_rollups.sample_count * excluded.sample_count / (metric_rollups.sample_count + excluded.sample_count),
	p50          = (metric_rollups.p50 * metric_rollups.sample_count + excluded.p50 * excluded.sample_count) / (metric_rollups.sample_count + excluded.sample_count),
	p95          = (metric_rollups.p95 * metric_rollups.sample_count + excluded.p95 * excluded.sample_count) / (metric_rollups.sample_count + excluded.sample_count),
	p99          = (metric_rollups.p99 * metric_rollups.sample_count + excluded.p99 * excluded.sample_count) / (metric_rollups.sample_count + excluded.sample_count),
	updated_at   = excluded.updated_at`

const sqliteQuery = `
SELECT metric, time_window, bucket_start, sample_count, total, min_value, max_value, mean, m2, p50, p95, p99
FROM metric_rollups
WHERE metric = ? AND time_window = ? AND bucket_start < ? AND bucket_start > ?
ORDER BY bucket_start`

// SQLiteStore persists rollups to a local SQLite file. It suits single-node
// deployments and tests.
type SQLiteStore struct {
	db     *sql.DB
	buf    *rollupBuffer
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens path in WAL mode and creates the schema.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between flushes and queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create metric_rollups: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_metric_rollups_bucket ON metric_rollups(bucket_start)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &SQLiteStore{db: db, buf: newRollupBuffer(), logger: logger}, nil
}

// Record implements RollupStore.
func (s *SQLiteStore) Record(_ context.Context, metric string, value float64, ts time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.buf.record(metric, value, ts)
}

// Flush upserts every dirty bucket in a single transaction.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.flush(ctx)
}

func (s *SQLiteStore) flush(ctx context.Context) error {
	rows := s.buf.drain()
	if len(rows) == 0 {
		return nil
	}
	if err := s.upsert(ctx, rows); err != nil {
		s.buf.restore(rows)
		return utils.WrapOp("sqlite flush", err)
	}
	s.logger.Debug("rollups flushed", slog.Int("buckets", len(rows)))
	return nil
}

func (s *SQLiteStore) upsert(ctx context.Context, rows []rollupRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.Metric, string(r.Window), r.BucketStart.UnixNano(), r.Count, r.Sum,
			r.Min, r.Max, r.Mean, r.M2, r.P50, r.P95, r.P99, now,
		); err != nil {
			return fmt.Errorf("upsert rollup %s/%s: %w", r.Metric, r.Window, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush: %w", err)
	}
	return nil
}

// QueryStats implements RollupStore.
func (s *SQLiteStore) QueryStats(ctx context.Context, metric string, window models.RollupWindow, start, end time.Time) ([]models.MetricStats, error) {
	if err := validateQuery(metric, window, start, end); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	earliest := start.Add(-window.Duration())
	rows, err := s.db.QueryContext(ctx, sqliteQuery, metric, string(window), end.UnixNano(), earliest.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query rollups: %w", err)
	}
	defer rows.Close()

	var stored []rollupRow
	for rows.Next() {
		var (
			r      rollupRow
			name   string
			bucket int64
		)
		if err := rows.Scan(&r.Metric, &name, &bucket, &r.Count, &r.Sum,
			&r.Min, &r.Max, &r.Mean, &r.M2, &r.P50, &r.P95, &r.P99); err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		r.Window = models.RollupWindow(name)
		r.BucketStart = time.Unix(0, bucket).UTC()
		stored = append(stored, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rollups: %w", err)
	}
	return combine(stored, s.buf.snapshot(metric, window, start, end)), nil
}

// Close flushes pending rollups and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	flushErr := s.flush(ctx)
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return flushErr
}
