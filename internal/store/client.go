// Package store implements STORE: the TimescaleDB writer. client.go holds the
// low-level pgx-backed adapter (schema bootstrap, dual flush strategy);
// writer.go holds the channel/batcher/retry/DLQ orchestration built on top of it.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ibs-source/syslog/consumer/golang/internal/config"
	"github.com/ibs-source/syslog/consumer/golang/internal/domain"
	"github.com/ibs-source/syslog/consumer/golang/internal/ports"
	"github.com/ibs-source/syslog/consumer/golang/pkg/circuitbreaker"
)

// bulkCopyThreshold is the batch size above which WriteBatch uses the binary
// COPY path instead of a parameterized multi-row upsert, per spec §4.10.
const bulkCopyThreshold = 10

// hypertableChunkInterval is the chunk_time_interval passed to
// create_hypertable when the table is not yet registered.
const hypertableChunkInterval = time.Hour

const upsertColumns = `timestamp, device_id, channel, raw_value, processed_value, rate, quality, unit`

// Client is a pgx-backed ports.StoreClient. WriteBatch runs through a
// pkg/circuitbreaker instance; Bootstrap and Ping do not.
type Client struct {
	pool    *pgxpool.Pool
	breaker *circuitbreaker.CircuitBreaker
	table   string
	logger  ports.Logger
}

var _ ports.StoreClient = (*Client)(nil)

// NewClient parses cfg.ConnectionString, opens a pool, and wraps it with a
// circuit breaker. It does not bootstrap the schema; call Bootstrap for that.
func NewClient(cfg config.TimescaleConfig, cb config.CircuitBreakerConfig, logger ports.Logger) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parse timescale connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open timescale pool: %w", err)
	}

	breaker := circuitbreaker.New(
		"store",
		cb.ErrorThreshold,
		cb.SuccessThreshold,
		cb.Timeout,
		cb.MaxConcurrentCalls,
		cb.RequestVolumeThreshold,
	)

	return &Client{pool: pool, breaker: breaker, table: cfg.TableName, logger: logger}, nil
}

// Bootstrap creates the hypertable and registers it with TimescaleDB if
// necessary, bounded by the caller's context deadline.
func (c *Client) Bootstrap(ctx context.Context) error {
	ident := pgx.Identifier{c.table}.Sanitize()

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		timestamp timestamptz NOT NULL,
		device_id text NOT NULL,
		channel int NOT NULL,
		raw_value bigint NOT NULL,
		processed_value double precision NOT NULL,
		rate double precision,
		quality text NOT NULL,
		unit text NOT NULL DEFAULT 'counts',
		PRIMARY KEY (timestamp, device_id, channel)
	)`, ident)

	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create hypertable %s: %w", c.table, err)
	}

	var alreadyHypertable bool
	const checkSQL = `SELECT EXISTS (SELECT 1 FROM timescaledb_information.hypertables WHERE hypertable_name = $1)`
	if err := c.pool.QueryRow(ctx, checkSQL, c.table).Scan(&alreadyHypertable); err != nil {
		// timescaledb_information may not exist on a plain Postgres test instance;
		// treat that as "not a hypertable yet" rather than failing bootstrap.
		alreadyHypertable = false
	}
	if alreadyHypertable {
		return nil
	}

	const registerSQL = `SELECT create_hypertable($1, 'timestamp', chunk_time_interval => $2, if_not_exists => TRUE)`
	if _, err := c.pool.Exec(ctx, registerSQL, c.table, hypertableChunkInterval.Microseconds()); err != nil {
		return fmt.Errorf("register hypertable %s: %w", c.table, err)
	}
	return nil
}

// WriteBatch persists readings using the bulk COPY path when len(readings) >
// bulkCopyThreshold, the parameterized upsert otherwise. Both paths enforce
// the same ON CONFLICT upsert semantics on (timestamp, device_id, channel).
func (c *Client) WriteBatch(ctx context.Context, readings []domain.DeviceReading) error {
	if len(readings) == 0 {
		return nil
	}
	return c.breaker.Execute(func() error {
		if len(readings) > bulkCopyThreshold {
			return c.writeBulk(ctx, readings)
		}
		return c.writeUpsert(ctx, readings)
	})
}

// writeUpsert inserts readings one statement per row, batched over a single
// round trip via pgx.Batch, upserting on conflict.
func (c *Client) writeUpsert(ctx context.Context, readings []domain.DeviceReading) error {
	ident := pgx.Identifier{c.table}.Sanitize()
	sql := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (timestamp, device_id, channel) DO UPDATE SET
		raw_value=EXCLUDED.raw_value, processed_value=EXCLUDED.processed_value,
		rate=EXCLUDED.rate, quality=EXCLUDED.quality, unit=EXCLUDED.unit`, ident, upsertColumns)

	batch := &pgx.Batch{}
	for _, r := range readings {
		batch.Queue(sql, r.Timestamp, r.DeviceID, r.Channel, r.RawValue, r.ProcessedValue, r.Rate, string(r.Quality), r.Unit)
	}

	br := c.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	for range readings {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
	}
	return nil
}

// writeBulk loads readings into a TEMP staging table via binary COPY, then
// upserts from the staging table in a single statement. COPY alone cannot
// express ON CONFLICT, so the two-step dance is required to keep upsert
// semantics on the bulk path.
func (c *Client) writeBulk(ctx context.Context, readings []domain.DeviceReading) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for bulk write: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin bulk write transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const stagingTable = "store_bulk_staging"
	createStaging := fmt.Sprintf(`CREATE TEMP TABLE %s (
		timestamp timestamptz, device_id text, channel int, raw_value bigint,
		processed_value double precision, rate double precision, quality text, unit text
	) ON COMMIT DROP`, stagingTable)
	if _, err := tx.Exec(ctx, createStaging); err != nil {
		return fmt.Errorf("create bulk staging table: %w", err)
	}

	rows := make([][]interface{}, len(readings))
	for i, r := range readings {
		rows[i] = []interface{}{r.Timestamp, r.DeviceID, r.Channel, r.RawValue, r.ProcessedValue, r.Rate, string(r.Quality), r.Unit}
	}
	columns := []string{"timestamp", "device_id", "channel", "raw_value", "processed_value", "rate", "quality", "unit"}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{stagingTable}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy into bulk staging table: %w", err)
	}

	ident := pgx.Identifier{c.table}.Sanitize()
	upsertFromStaging := fmt.Sprintf(`INSERT INTO %s (%s)
		SELECT %s FROM %s
		ON CONFLICT (timestamp, device_id, channel) DO UPDATE SET
		raw_value=EXCLUDED.raw_value, processed_value=EXCLUDED.processed_value,
		rate=EXCLUDED.rate, quality=EXCLUDED.quality, unit=EXCLUDED.unit`,
		ident, upsertColumns, upsertColumns, stagingTable)
	if _, err := tx.Exec(ctx, upsertFromStaging); err != nil {
		return fmt.Errorf("upsert from bulk staging table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit bulk write: %w", err)
	}
	return nil
}

// Ping verifies connectivity, used by readiness checks and Writer's health loop.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close releases the underlying pool. Idempotent per pgxpool's own contract.
func (c *Client) Close() {
	c.pool.Close()
}
