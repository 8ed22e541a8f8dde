// Package warehouse is the analytical store behind the pipeline: a Postgres
// database reached through pgx, with the aws_s3 extension providing the
// bulk-copy path from the staging bucket.
package warehouse

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/citydata/tripline/internal/pipeline"
	"github.com/citydata/tripline/internal/trips"
)

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithRegion(region string) Option {
	return func(c *Client) {
		c.region = region
	}
}

type Client struct {
	pool   *pgxpool.Pool
	region string
	logger *zap.Logger
}

func New(ctx context.Context, connString string, opts ...Option) (*Client, error) {
	c := &Client{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, pipeline.LoaderError(err, "connect to warehouse")
	}
	c.pool = pool
	return c, nil
}

func (c *Client) Close() {
	c.pool.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// EnsureTable creates the landing table for a category if it is absent,
// including the lineage columns. Idempotent.
func (c *Client) EnsureTable(ctx context.Context, table string, schema trips.Schema) error {
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", table, schema.DDL())
	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return pipeline.LoaderError(err, "create table %s", table)
	}
	c.logger.Info("ensured landing table", zap.String("table", table))
	return nil
}

// InsertBatch bulk-writes one batch of rows and returns the count written.
func (c *Client) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	n, err := c.pool.CopyFrom(
		ctx,
		pgx.Identifier{table},
		columns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, pipeline.LoaderError(err, "copy %d rows into %s", len(rows), table)
	}
	return n, nil
}

// EnsureStage makes sure the warehouse-side binding to the staging bucket
// exists. Idempotent.
func (c *Client) EnsureStage(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS aws_s3 CASCADE"); err != nil {
		return pipeline.StageError(err, "ensure aws_s3 stage binding")
	}
	return nil
}

// ImportStaged bulk-copies a staged object into the table and returns the
// row count reported by the copy operation itself.
func (c *Client) ImportStaged(ctx context.Context, table string, columns []string, bucket, key string) (int64, error) {
	query := `SELECT aws_s3.table_import_from_s3($1, $2, '(FORMAT csv, HEADER true)', aws_commons.create_s3_uri($3, $4, $5))`

	var summary string
	err := c.pool.QueryRow(ctx, query,
		table,
		strings.Join(columns, ","),
		bucket,
		key,
		c.region,
	).Scan(&summary)
	if err != nil {
		return 0, pipeline.StageError(err, "copy staged object %s into %s", key, table)
	}

	rows := parseImportedRows(summary)
	c.logger.Info("copied staged object into table",
		zap.String("table", table),
		zap.String("key", key),
		zap.Int64("rows", rows),
	)
	return rows, nil
}

// parseImportedRows pulls the leading row count out of the import summary,
// e.g. "500 rows imported into relation trips".
func parseImportedRows(summary string) int64 {
	fields := strings.Fields(summary)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// TableInfo is a rollup of a landing table's contents, used for run-level
// consistency checks.
type TableInfo struct {
	TableName   string
	RowCount    int64
	UniqueFiles int64
	FirstLoad   *time.Time
	LastLoad    *time.Time
}

func (c *Client) TableInfo(ctx context.Context, table string) (TableInfo, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(DISTINCT %s),
			MIN(%s),
			MAX(%s)
		FROM %s`,
		trips.ColumnFileName,
		trips.ColumnLoadTimestamp,
		trips.ColumnLoadTimestamp,
		table,
	)

	info := TableInfo{TableName: table}
	err := c.pool.QueryRow(ctx, query).Scan(
		&info.RowCount,
		&info.UniqueFiles,
		&info.FirstLoad,
		&info.LastLoad,
	)
	if err != nil {
		return TableInfo{}, pipeline.LoaderError(err, "get table info for %s", table)
	}
	return info, nil
}

// Query runs arbitrary SQL and returns the rows as maps keyed by column.
func (c *Client) Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, pipeline.LoaderError(err, "query failed")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, pipeline.LoaderError(err, "scan row")
		}
		m := make(map[string]any, len(fields))
		for i, fd := range fields {
			m[string(fd.Name)] = values[i]
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
