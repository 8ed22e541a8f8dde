// Package orchestrator drives ingestion runs end to end: discover monthly
// files, schedule them across workers, process each one through extract and
// load, and aggregate the per-file outcomes into a run result.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/citydata/tripline/internal/catalog"
	"github.com/citydata/tripline/internal/extractor"
	"github.com/citydata/tripline/internal/loader"
	"github.com/citydata/tripline/internal/pipeline"
	"github.com/citydata/tripline/internal/warehouse"
)

const (
	defaultWorkers   = 4
	defaultBatchSize = 10000
)

// Catalog enumerates remote monthly files. Pure computation.
type Catalog interface {
	ListRecent(category string, monthsBack int) ([]catalog.DataFile, error)
	ListRange(category string, start, end catalog.YearMonth) ([]catalog.DataFile, error)
	EstimateProcessingMinutes(files []catalog.DataFile) int
}

// Extractor turns a descriptor into a local artifact.
type Extractor interface {
	Fetch(ctx context.Context, file catalog.DataFile, forceRefetch bool) (*extractor.Artifact, error)
	CleanupTempFiles() int
}

// Loader moves an artifact's rows into the warehouse.
type Loader interface {
	EnsureTable(ctx context.Context, table string, category string) error
	LoadDirect(ctx context.Context, artifact *extractor.Artifact, table string, batchSize int) (*loader.Outcome, error)
	LoadViaStage(ctx context.Context, artifact *extractor.Artifact, stagePrefix string, table string) (*loader.Outcome, error)
	CleanupStaged(ctx context.Context, olderThanDays int) int
	TableInfo(ctx context.Context, table string) (warehouse.TableInfo, error)
}

// Publisher receives run-completion events. Best effort; a publish failure
// never fails the run.
type Publisher interface {
	RunCompleted(ctx context.Context, result *RunResult) error
}

// Request selects what one run ingests. Either MonthsBack (recent mode) or
// Start/End (backfill mode) drives discovery.
type Request struct {
	Category     string
	MonthsBack   int
	Start        *catalog.YearMonth
	End          *catalog.YearMonth
	UseStaging   bool
	ForceRefetch bool

	// RemoveArtifacts deletes each local file after a successful load
	// instead of keeping it as a download cache.
	RemoveArtifacts bool
}

type Option func(*Orchestrator)

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithCatalog(c Catalog) Option {
	return func(o *Orchestrator) {
		o.catalog = c
	}
}

func WithExtractor(e Extractor) Option {
	return func(o *Orchestrator) {
		o.extractor = e
	}
}

func WithLoader(l Loader) Option {
	return func(o *Orchestrator) {
		o.loader = l
	}
}

func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		o.workers = n
	}
}

func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		o.batchSize = n
	}
}

// WithHealthChecks registers the dependency probes reported by Status.
func WithHealthChecks(checks map[string]func(context.Context) error) Option {
	return func(o *Orchestrator) {
		o.healthChecks = checks
	}
}

type Orchestrator struct {
	catalog      Catalog
	extractor    Extractor
	loader       Loader
	publisher    Publisher
	workers      int
	batchSize    int
	healthChecks map[string]func(context.Context) error
	logger       *zap.Logger
}

func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		workers:   defaultWorkers,
		batchSize: defaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	return o
}

// TableName is the landing table convention for a category.
func TableName(category string) string {
	return "raw_" + category
}

// Run executes one ingestion run. Per-file failures are collected, not
// raised; Run returns an error only for run-level failures such as an
// invalid request.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*RunResult, error) {
	runID := uuid.NewString()
	started := time.Now()
	logger := o.logger.With(
		zap.String("run_id", runID),
		zap.String("category", req.Category),
	)

	result := &RunResult{
		RunID:              runID,
		Category:           req.Category,
		StartedAt:          started.UTC(),
		DataQualityMetrics: map[string]any{},
	}
	collector := pipeline.NewCollector()
	fsm := NewFSM(StateCreated)

	fail := func(err error) (*RunResult, error) {
		fsm.Transition(StateError)
		result.Status = RunFailed
		result.ProcessingTimeSeconds = time.Since(started).Seconds()
		return result, err
	}

	// Discovering
	if err := fsm.Transition(StateDiscovering); err != nil {
		return fail(err)
	}
	files, err := o.discover(req)
	if err != nil {
		return fail(err)
	}
	result.FilesDiscovered = len(files)

	if len(files) == 0 {
		logger.Warn("no files discovered, nothing to ingest")
		collector.AddWarning("no files matched the requested range", nil)
		if err := fsm.Transition(StateAggregating); err != nil {
			return fail(err)
		}
		return o.finish(ctx, fsm, result, collector, nil, started, logger)
	}

	first, last := files[0], files[len(files)-1]
	logger.Info("discovered files",
		zap.Int("count", len(files)),
		zap.String("first_month", fmt.Sprintf("%s %d", first.MonthName(), first.Year)),
		zap.String("last_month", fmt.Sprintf("%s %d", last.MonthName(), last.Year)),
		zap.Int("estimated_minutes", o.catalog.EstimateProcessingMinutes(files)),
	)

	// Scheduling
	if err := fsm.Transition(StateScheduling); err != nil {
		return fail(err)
	}
	table := TableName(req.Category)
	if err := o.loader.EnsureTable(ctx, table, req.Category); err != nil {
		return fail(err)
	}

	// Processing
	if err := fsm.Transition(StateProcessing); err != nil {
		return fail(err)
	}
	outcomes := o.processAll(ctx, runID, req, table, files, collector, logger)

	// Aggregating
	if err := fsm.Transition(StateAggregating); err != nil {
		return fail(err)
	}
	return o.finish(ctx, fsm, result, collector, outcomes, started, logger)
}

func (o *Orchestrator) discover(req Request) ([]catalog.DataFile, error) {
	if req.Start != nil && req.End != nil {
		return o.catalog.ListRange(req.Category, *req.Start, *req.End)
	}
	return o.catalog.ListRecent(req.Category, req.MonthsBack)
}

type fileResult struct {
	file    catalog.DataFile
	outcome *loader.Outcome
	err     error
}

// processAll fans the files out over the worker pool and gathers outcomes.
// Aggregation is order-independent, so worker count never changes the
// result.
func (o *Orchestrator) processAll(ctx context.Context, runID string, req Request, table string, files []catalog.DataFile, collector *pipeline.Collector, logger *zap.Logger) []*loader.Outcome {
	tasks := make(chan catalog.DataFile)
	results := make(chan fileResult, len(files))

	workers := o.workers
	if workers > len(files) {
		workers = len(files)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range tasks {
				outcome, err := o.processFile(ctx, runID, req, table, file)
				results <- fileResult{file: file, outcome: outcome, err: err}
			}
		}()
	}

	go func() {
		defer close(tasks)
		for _, file := range files {
			select {
			case tasks <- file:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var outcomes []*loader.Outcome
	for res := range results {
		if res.err != nil {
			perr := pipeline.Wrap(pipeline.KindExtraction, res.err).
				WithContext("filename", res.file.Filename)
			collector.AddError(perr)
			logger.Error("file failed",
				zap.String("filename", res.file.Filename),
				zap.Error(res.err),
			)
			continue
		}
		outcomes = append(outcomes, res.outcome)
	}
	return outcomes
}

func (o *Orchestrator) processFile(ctx context.Context, runID string, req Request, table string, file catalog.DataFile) (*loader.Outcome, error) {
	artifact, err := o.extractor.Fetch(ctx, file, req.ForceRefetch)
	if err != nil {
		return nil, err
	}

	var outcome *loader.Outcome
	if req.UseStaging {
		outcome, err = o.loader.LoadViaStage(ctx, artifact, runID, table)
	} else {
		outcome, err = o.loader.LoadDirect(ctx, artifact, table, o.batchSize)
	}
	if err != nil {
		return nil, err
	}

	if req.RemoveArtifacts {
		if rmErr := artifact.Remove(); rmErr != nil {
			o.logger.Warn("failed to remove local artifact",
				zap.String("path", artifact.Path),
				zap.Error(rmErr),
			)
		}
	}
	return outcome, nil
}

func (o *Orchestrator) finish(ctx context.Context, fsm *FSM, result *RunResult, collector *pipeline.Collector, outcomes []*loader.Outcome, started time.Time, logger *zap.Logger) (*RunResult, error) {
	for _, out := range outcomes {
		result.FilesProcessed++
		result.TotalRecords += out.LoadedRecords
		result.FailedRecords += out.FailedRecords
		result.DataQualityMetrics[out.Filename] = out.QualityScore
		for _, w := range out.Warnings {
			collector.AddWarning(fmt.Sprintf("%s: %s", out.Filename, w), nil)
		}
	}

	for _, perr := range collector.Errors() {
		record := ErrorRecord{Kind: perr.Kind, Message: perr.Message}
		if f, ok := perr.Context["filename"].(string); ok {
			record.Filename = f
		}
		result.Errors = append(result.Errors, record)
	}
	for _, w := range collector.Warnings() {
		result.Warnings = append(result.Warnings, w.Message)
	}

	result.Status = deriveStatus(result.FilesProcessed, len(result.Errors))
	if result.FilesDiscovered == 0 {
		result.Status = RunCompleted
	}
	result.ProcessingTimeSeconds = time.Since(started).Seconds()

	if result.FilesProcessed > 0 {
		if info, err := o.loader.TableInfo(ctx, TableName(result.Category)); err == nil {
			result.DataQualityMetrics["table_row_count"] = info.RowCount
			result.DataQualityMetrics["table_unique_files"] = info.UniqueFiles
			result.DataQualityMetrics["data_consistency_check"] = info.RowCount == result.TotalRecords
			if info.FirstLoad != nil {
				result.DataQualityMetrics["first_load"] = info.FirstLoad.UTC()
			}
			if info.LastLoad != nil {
				result.DataQualityMetrics["last_load"] = info.LastLoad.UTC()
			}
		} else {
			logger.Warn("failed to read table info", zap.Error(err))
		}
	}

	if err := fsm.Transition(StateDone); err != nil {
		result.Status = RunFailed
		return result, err
	}

	logger.Info("run finished",
		zap.String("status", string(result.Status)),
		zap.Int("files_processed", result.FilesProcessed),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int("errors", len(result.Errors)),
		zap.Float64("seconds", result.ProcessingTimeSeconds),
	)

	if o.publisher != nil {
		if err := o.publisher.RunCompleted(ctx, result); err != nil {
			logger.Warn("failed to publish run event", zap.Error(err))
		}
	}
	return result, nil
}

// Health is a point-in-time snapshot of the pipeline's dependencies.
type Health struct {
	Healthy bool              `json:"healthy"`
	Checks  map[string]string `json:"checks"`
	Time    time.Time         `json:"time"`
}

// Status probes each registered dependency. It never returns an error;
// failures land in the snapshot.
func (o *Orchestrator) Status(ctx context.Context) Health {
	h := Health{
		Healthy: true,
		Checks:  make(map[string]string, len(o.healthChecks)),
		Time:    time.Now().UTC(),
	}
	for name, check := range o.healthChecks {
		if err := check(ctx); err != nil {
			h.Healthy = false
			h.Checks[name] = err.Error()
			continue
		}
		h.Checks[name] = "ok"
	}
	return h
}

// CleanupReport counts what a maintenance pass removed.
type CleanupReport struct {
	TempFiles     int `json:"temp_files"`
	StagedObjects int `json:"staged_objects"`
}

// Cleanup removes download debris and stale staged objects. Best effort.
func (o *Orchestrator) Cleanup(ctx context.Context, olderThanDays int) CleanupReport {
	report := CleanupReport{}
	if o.extractor != nil {
		report.TempFiles = o.extractor.CleanupTempFiles()
	}
	if o.loader != nil {
		report.StagedObjects = o.loader.CleanupStaged(ctx, olderThanDays)
	}
	o.logger.Info("cleanup finished",
		zap.Int("temp_files", report.TempFiles),
		zap.Int("staged_objects", report.StagedObjects),
	)
	return report
}
