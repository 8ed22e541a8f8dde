// Package loader moves a local artifact's rows into the warehouse, either
// directly in batches or through the object-store staging area, under a
// data-quality gate.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/citydata/tripline/internal/extractor"
	"github.com/citydata/tripline/internal/parquet"
	"github.com/citydata/tripline/internal/pipeline"
	"github.com/citydata/tripline/internal/trips"
	"github.com/citydata/tripline/internal/warehouse"
)

// Status of one artifact's load.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome is the immutable result of loading one artifact.
type Outcome struct {
	Status        Status
	TotalRecords  int64
	LoadedRecords int64
	FailedRecords int64
	QualityScore  int
	TableName     string
	Filename      string
	LoadTimestamp time.Time
	Warnings      []string
}

// Warehouse is the slice of the warehouse client the loader needs.
type Warehouse interface {
	EnsureTable(ctx context.Context, table string, schema trips.Schema) error
	InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	EnsureStage(ctx context.Context) error
	ImportStaged(ctx context.Context, table string, columns []string, bucket, key string) (int64, error)
	TableInfo(ctx context.Context, table string) (warehouse.TableInfo, error)
}

// Stage is the slice of the object-store repository the loader needs.
type Stage interface {
	Upload(ctx context.Context, localPath string, key string) (string, error)
	EnsureBucket(ctx context.Context) error
	CleanupOlderThan(ctx context.Context, olderThanDays int) int
}

// RowReader yields schema-ordered records from an artifact.
type RowReader interface {
	Read(n int) ([]*trips.Record, error)
	Close() error
}

// OpenReader opens an artifact for reading; swapped out in tests.
type OpenReader func(path string, schema trips.Schema) (RowReader, error)

func defaultOpenReader(path string, schema trips.Schema) (RowReader, error) {
	return parquet.Open(path, schema)
}

type Option func(*Loader)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

func WithWarehouse(w Warehouse) Option {
	return func(l *Loader) {
		l.warehouse = w
	}
}

func WithStage(s Stage) Option {
	return func(l *Loader) {
		l.stage = s
	}
}

func WithStageBucket(bucket string) Option {
	return func(l *Loader) {
		l.stageBucket = bucket
	}
}

func WithOpenReader(open OpenReader) Option {
	return func(l *Loader) {
		l.openReader = open
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Loader) {
		l.now = now
	}
}

type Loader struct {
	warehouse   Warehouse
	stage       Stage
	stageBucket string
	openReader  OpenReader
	now         func() time.Time
	logger      *zap.Logger
}

func New(opts ...Option) *Loader {
	l := &Loader{
		openReader: defaultOpenReader,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EnsureTable creates the landing table for a category if absent.
func (l *Loader) EnsureTable(ctx context.Context, table string, category string) error {
	schema, err := trips.SchemaFor(category)
	if err != nil {
		return err
	}
	return l.warehouse.EnsureTable(ctx, table, schema)
}

// LoadDirect reads the artifact's rows, appends the lineage columns, runs
// the quality gate, and writes fixed-size batches. A failed batch is
// counted and the load continues with the next batch.
func (l *Loader) LoadDirect(ctx context.Context, artifact *extractor.Artifact, table string, batchSize int) (*Outcome, error) {
	schema, err := trips.SchemaFor(artifact.File.Category)
	if err != nil {
		return nil, err
	}

	records, err := l.readAll(artifact.Path, schema, batchSize)
	if err != nil {
		return nil, err
	}

	loadTS := l.now().UTC()
	outcome := &Outcome{
		TableName:     table,
		Filename:      artifact.File.Filename,
		LoadTimestamp: loadTS,
		TotalRecords:  int64(len(records)),
	}

	if len(records) == 0 {
		l.logger.Warn("artifact is empty, skipping load",
			zap.String("filename", artifact.File.Filename))
		outcome.Status = StatusSkipped
		outcome.QualityScore = 100
		return outcome, nil
	}

	report := trips.ValidateQuality(records, schema)
	outcome.QualityScore = report.Score
	outcome.Warnings = report.Warnings
	if !report.Valid {
		return nil, pipeline.ValidationError(
			"quality gate failed for %s: %s",
			artifact.File.Filename, strings.Join(report.Errors, "; "),
		).WithContext("filename", artifact.File.Filename)
	}
	for _, w := range report.Warnings {
		l.logger.Warn("quality warning",
			zap.String("filename", artifact.File.Filename),
			zap.String("warning", w),
		)
	}

	columns := lineageColumns(schema)
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		rows := make([][]any, len(batch))
		for i, r := range batch {
			rows[i] = lineageRow(r, artifact.File.Filename, loadTS)
		}

		n, err := l.warehouse.InsertBatch(ctx, table, columns, rows)
		if err != nil {
			outcome.FailedRecords += int64(len(batch))
			l.logger.Error("batch load failed, continuing",
				zap.String("filename", artifact.File.Filename),
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			continue
		}
		outcome.LoadedRecords += n
	}

	if outcome.FailedRecords == 0 {
		outcome.Status = StatusCompleted
	} else {
		outcome.Status = StatusPartial
	}

	l.logger.Info("direct load finished",
		zap.String("filename", artifact.File.Filename),
		zap.String("table", table),
		zap.Int64("loaded", outcome.LoadedRecords),
		zap.Int64("failed", outcome.FailedRecords),
		zap.Int("quality_score", outcome.QualityScore),
	)
	return outcome, nil
}

// LoadViaStage uploads the artifact's rows to the staging area under a
// deterministic key, ensures the warehouse stage binding exists, and bulk
// copies from stage to table, reporting counts from the copy result.
func (l *Loader) LoadViaStage(ctx context.Context, artifact *extractor.Artifact, stagePrefix string, table string) (*Outcome, error) {
	schema, err := trips.SchemaFor(artifact.File.Category)
	if err != nil {
		return nil, err
	}

	records, err := l.readAll(artifact.Path, schema, 10000)
	if err != nil {
		return nil, err
	}

	loadTS := l.now().UTC()
	outcome := &Outcome{
		TableName:     table,
		Filename:      artifact.File.Filename,
		LoadTimestamp: loadTS,
		TotalRecords:  int64(len(records)),
	}
	if len(records) == 0 {
		outcome.Status = StatusSkipped
		outcome.QualityScore = 100
		return outcome, nil
	}

	csvPath := artifact.Path + ".staged.csv"
	columns := lineageColumns(schema)
	if err := writeStagedCSV(csvPath, columns, records, artifact.File.Filename, loadTS); err != nil {
		return nil, err
	}
	defer os.Remove(csvPath)

	if err := l.stage.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s/%s.csv",
		stagePrefix,
		artifact.File.Category,
		strings.TrimSuffix(artifact.File.Filename, ".parquet"),
	)
	objKey, err := l.stage.Upload(ctx, csvPath, key)
	if err != nil {
		return nil, err
	}

	if err := l.warehouse.EnsureStage(ctx); err != nil {
		return nil, err
	}

	loaded, err := l.warehouse.ImportStaged(ctx, table, columns, l.stageBucket, objKey)
	if err != nil {
		return nil, err
	}

	outcome.LoadedRecords = loaded
	outcome.QualityScore = 100
	if failed := outcome.TotalRecords - loaded; failed > 0 {
		outcome.FailedRecords = failed
		outcome.Status = StatusPartial
	} else {
		outcome.Status = StatusCompleted
	}

	l.logger.Info("staged load finished",
		zap.String("filename", artifact.File.Filename),
		zap.String("table", table),
		zap.String("key", objKey),
		zap.Int64("loaded", outcome.LoadedRecords),
	)
	return outcome, nil
}

// CleanupStaged deletes staged objects past the age threshold. Best effort,
// never raises.
func (l *Loader) CleanupStaged(ctx context.Context, olderThanDays int) int {
	if l.stage == nil {
		return 0
	}
	return l.stage.CleanupOlderThan(ctx, olderThanDays)
}

// TableInfo exposes the landing table rollup for run-level metrics.
func (l *Loader) TableInfo(ctx context.Context, table string) (warehouse.TableInfo, error) {
	return l.warehouse.TableInfo(ctx, table)
}

func (l *Loader) readAll(path string, schema trips.Schema, batchSize int) ([]*trips.Record, error) {
	r, err := l.openReader(path, schema)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var records []*trips.Record
	for {
		batch, err := r.Read(batchSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		records = append(records, batch...)
	}
	return records, nil
}

func lineageColumns(schema trips.Schema) []string {
	return append(schema.ColumnNames(),
		trips.ColumnFileName,
		trips.ColumnLoadTimestamp,
		trips.ColumnRecordHash,
	)
}

// lineageRow renders one record plus its lineage values. The content hash
// covers only the trip fields, so identical rows hash identically across
// re-ingested files.
func lineageRow(r *trips.Record, filename string, loadTS time.Time) []any {
	row := make([]any, 0, r.Len()+3)
	row = append(row, r.Values()...)
	row = append(row, filename, loadTS, trips.ContentHash(r))
	return row
}
