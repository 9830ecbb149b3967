package repo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/llm-devops/llm-analytics-hub/internal/models"
	"github.com/llm-devops/llm-analytics-hub/internal/utils"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS metric_rollups (
	metric       TEXT             NOT NULL,
	time_window  TEXT             NOT NULL,
	bucket_start TIMESTAMPTZ      NOT NULL,
	sample_count BIGINT           NOT NULL,
	total        DOUBLE PRECISION NOT NULL,
	min_value    DOUBLE PRECISION NOT NULL,
	max_value    DOUBLE PRECISION NOT NULL,
	mean         DOUBLE PRECISION NOT NULL,
	m2           DOUBLE PRECISION NOT NULL,
	p50          DOUBLE PRECISION NOT NULL,
	p95          DOUBLE PRECISION NOT NULL,
	p99          DOUBLE PRECISION NOT NULL,
	updated_at   TIMESTAMPTZ      NOT NULL DEFAULT now(),
	PRIMARY KEY (metric, time_window, bucket_start)
)`

const postgresUpsert = `
INSERT INTO metric_rollups AS r
	(metric, time_window, bucket_start, sample_count, total, min_value, max_value, mean, m2, p50, p95, p99)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (metric, time_window, bucket_start) DO UPDATE SET
	sample_count = r.sample_count + EXCLUDED.sample_count,
	total        = r.total + EXCLUDED.total,
	min_value    = LEAST(r.min_value, EXCLUDED.min_value),
	max_value    = GREATEST(r.max_value, EXCLUDED.max_value),
	mean         = (r.mean * r.sample_count + EXCLUDED.mean * EXCLUDED.sample_count) / (r.sample_count + EXCLUDED.sample_count),
	m2           = r.m2 + EXCLUDED.m2 + (EXCLUDED.mean - r.mean) * (EXCLUDED.mean - r.mean) * r.sample_count * EXCLUDED.sample_count / (r.sample_count + EXCLUDED.sample_count),
	p50          = (r.p50 * r.sample_count + EXCLUDED.p50 * EXCLUDED.sample_count) / (r.sample_count + EXCLUDED.sample_count),
	p95          = (r.p95 * r.sample_count + EXCLUDED.p95 * EXCLUDED.sample_count) / (r.sample_count + EXCLUDED.sample_count),
	p99          = (r.p99 * r.sample_count + EXCLUDED.p99 * EXCLUDED.sample_count) / (r.sample_count + EXCLUDED.sample_count),
	updated_at   = now()`

const postgresQuery = `
SELECT metric, time_window, bucket_start, sample_count, total, min_value, max_value, mean, m2, p50, p95, p99
FROM metric_rollups
WHERE metric = $1 AND time_window = $2 AND bucket_start < $3 AND bucket_start > $4
ORDER BY bucket_start`

// PostgresStore persists rollups to PostgreSQL, promoting the table to a
// hypertable when TimescaleDB is installed.
type PostgresStore struct {
	pool   *pgxpool.Pool
	buf    *rollupBuffer
	logger *slog.Logger
	closed atomic.Bool
}

// NewPostgresStore connects, pings and creates the schema.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{pool: pool, buf: newRollupBuffer(), logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create metric_rollups: %w", err)
	}

	var timescale bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')").Scan(&timescale); err != nil {
		s.logger.Debug("timescale probe failed", slog.Any("error", err))
		return nil
	}
	if !timescale {
		return nil
	}
	if _, err := s.pool.Exec(ctx, "SELECT create_hypertable('metric_rollups', 'bucket_start', if_not_exists => TRUE, migrate_data => TRUE)"); err != nil {
		s.logger.Warn("create_hypertable failed; continuing with a plain table", slog.Any("error", err))
	}
	return nil
}

// Record implements RollupStore.
func (s *PostgresStore) Record(_ context.Context, metric string, value float64, ts time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.buf.record(metric, value, ts)
}

// Flush upserts every dirty bucket in one batch. On failure the rows stay
// buffered for the next attempt.
func (s *PostgresStore) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	rows := s.buf.drain()
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(postgresUpsert,
			r.Metric, string(r.Window), r.BucketStart, r.Count, r.Sum,
			r.Min, r.Max, r.Mean, r.M2, r.P50, r.P95, r.P99,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		s.buf.restore(rows)
		return utils.WrapOp("postgres flush", fmt.Errorf("upsert %d rollups: %w", len(rows), err))
	}
	s.logger.Debug("rollups flushed", slog.Int("buckets", len(rows)))
	return nil
}

// QueryStats implements RollupStore.
func (s *PostgresStore) QueryStats(ctx context.Context, metric string, window models.RollupWindow, start, end time.Time) ([]models.MetricStats, error) {
	if err := validateQuery(metric, window, start, end); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	earliest := start.Add(-window.Duration())
	rows, err := s.pool.Query(ctx, postgresQuery, metric, string(window), end, earliest)
	if err != nil {
		return nil, fmt.Errorf("query rollups: %w", err)
	}
	defer rows.Close()

	var stored []rollupRow
	for rows.Next() {
		var (
			r    rollupRow
			name string
		)
		if err := rows.Scan(&r.Metric, &name, &r.BucketStart, &r.Count, &r.Sum,
			&r.Min, &r.Max, &r.Mean, &r.M2, &r.P50, &r.P95, &r.P99); err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		r.Window = models.RollupWindow(name)
		r.BucketStart = r.BucketStart.UTC()
		stored = append(stored, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rollups: %w", err)
	}
	return combine(stored, s.buf.snapshot(metric, window, start, end)), nil
}

// Close flushes pending rollups and releases the pool.
func (s *PostgresStore) Close() error {
	if s.closed.Load() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Flush(ctx)
	s.closed.Store(true)
	s.pool.Close()
	return err
}
