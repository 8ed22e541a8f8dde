package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citydata/tripline/internal/catalog"
	"github.com/citydata/tripline/internal/extractor"
	"github.com/citydata/tripline/internal/loader"
	"github.com/citydata/tripline/internal/pipeline"
	"github.com/citydata/tripline/internal/warehouse"
)

type fakeCatalog struct {
	files []catalog.DataFile
	err   error
}

func (f *fakeCatalog) ListRecent(category string, monthsBack int) ([]catalog.DataFile, error) {
	return f.files, f.err
}

func (f *fakeCatalog) ListRange(category string, start, end catalog.YearMonth) ([]catalog.DataFile, error) {
	return f.files, f.err
}

func (f *fakeCatalog) EstimateProcessingMinutes(files []catalog.DataFile) int {
	return 1
}

type fakeExtractor struct {
	mu       sync.Mutex
	failFor  map[string]bool
	fetched  []string
	tempsCut int
}

func (f *fakeExtractor) Fetch(ctx context.Context, file catalog.DataFile, forceRefetch bool) (*extractor.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[file.Filename] {
		return nil, pipeline.ExtractionError(errors.New("404"), "failed to download %s", file.URL).
			WithContext("filename", file.Filename)
	}
	f.fetched = append(f.fetched, file.Filename)
	return &extractor.Artifact{File: file, Path: "/tmp/" + file.Filename, SizeBytes: 1}, nil
}

func (f *fakeExtractor) CleanupTempFiles() int {
	return f.tempsCut
}

type fakeLoader struct {
	mu           sync.Mutex
	recordsPer   int64
	qualityScore int
	stagedWith   []string
	directCalls  int
	cleaned      int

	tableRows int64
	firstLoad *time.Time
	lastLoad  *time.Time
}

func (f *fakeLoader) EnsureTable(ctx context.Context, table string, category string) error {
	return nil
}

func (f *fakeLoader) LoadDirect(ctx context.Context, artifact *extractor.Artifact, table string, batchSize int) (*loader.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directCalls++
	return &loader.Outcome{
		Status:        loader.StatusCompleted,
		TotalRecords:  f.recordsPer,
		LoadedRecords: f.recordsPer,
		QualityScore:  f.qualityScore,
		TableName:     table,
		Filename:      artifact.File.Filename,
	}, nil
}

func (f *fakeLoader) LoadViaStage(ctx context.Context, artifact *extractor.Artifact, stagePrefix string, table string) (*loader.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stagedWith = append(f.stagedWith, stagePrefix)
	return &loader.Outcome{
		Status:        loader.StatusCompleted,
		TotalRecords:  f.recordsPer,
		LoadedRecords: f.recordsPer,
		QualityScore:  f.qualityScore,
		TableName:     table,
		Filename:      artifact.File.Filename,
	}, nil
}

func (f *fakeLoader) CleanupStaged(ctx context.Context, olderThanDays int) int {
	f.cleaned = olderThanDays
	return 2
}

func (f *fakeLoader) TableInfo(ctx context.Context, table string) (warehouse.TableInfo, error) {
	return warehouse.TableInfo{
		TableName:   table,
		RowCount:    f.tableRows,
		UniqueFiles: 3,
		FirstLoad:   f.firstLoad,
		LastLoad:    f.lastLoad,
	}, nil
}

func monthlyFiles(n int) []catalog.DataFile {
	files := make([]catalog.DataFile, n)
	for i := range files {
		files[i] = catalog.DataFile{
			Category: "yellow_tripdata",
			Year:     2023,
			Month:    i + 1,
			Filename: "yellow_tripdata_2023-0" + string(rune('1'+i)) + ".parquet",
		}
	}
	return files
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("empty discovery completes with a warning", func(t *testing.T) {
		o := New(
			WithCatalog(&fakeCatalog{}),
			WithExtractor(&fakeExtractor{}),
			WithLoader(&fakeLoader{}),
		)
		result, err := o.Run(ctx, Request{Category: "yellow_tripdata", MonthsBack: 0})
		require.NoError(t, err)

		assert.Equal(t, RunCompleted, result.Status)
		assert.Equal(t, 0, result.FilesProcessed)
		assert.NotEmpty(t, result.Warnings)
	})

	t.Run("all files succeed", func(t *testing.T) {
		fl := &fakeLoader{recordsPer: 100, qualityScore: 100, tableRows: 42}
		o := New(
			WithCatalog(&fakeCatalog{files: monthlyFiles(3)}),
			WithExtractor(&fakeExtractor{}),
			WithLoader(fl),
		)
		result, err := o.Run(ctx, Request{Category: "yellow_tripdata", MonthsBack: 3})
		require.NoError(t, err)

		assert.Equal(t, RunCompleted, result.Status)
		assert.Equal(t, 3, result.FilesDiscovered)
		assert.Equal(t, 3, result.FilesProcessed)
		assert.Equal(t, int64(300), result.TotalRecords)
		assert.Empty(t, result.Errors)
		assert.NotEmpty(t, result.RunID)
		assert.Equal(t, int64(42), result.DataQualityMetrics["table_row_count"])
	})

	t.Run("consistency flag compares table rows with loaded records", func(t *testing.T) {
		firstLoad := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
		lastLoad := firstLoad.Add(time.Hour)
		run := func(tableRows int64) *RunResult {
			fl := &fakeLoader{
				recordsPer: 100,
				tableRows:  tableRows,
				firstLoad:  &firstLoad,
				lastLoad:   &lastLoad,
			}
			o := New(
				WithCatalog(&fakeCatalog{files: monthlyFiles(3)}),
				WithExtractor(&fakeExtractor{}),
				WithLoader(fl),
			)
			result, err := o.Run(ctx, Request{Category: "yellow_tripdata", MonthsBack: 3})
			require.NoError(t, err)
			return result
		}

		matched := run(300)
		assert.Equal(t, true, matched.DataQualityMetrics["data_consistency_check"])
		assert.Equal(t, firstLoad, matched.DataQualityMetrics["first_load"])
		assert.Equal(t, lastLoad, matched.DataQualityMetrics["last_load"])

		mismatched := run(42)
		assert.Equal(t, false, mismatched.DataQualityMetrics["data_consistency_check"])
	})

	t.Run("one failed file yields completed_with_errors", func(t *testing.T) {
		files := monthlyFiles(3)
		fe := &fakeExtractor{failFor: map[string]bool{files[1].Filename: true}}
		o := New(
			WithCatalog(&fakeCatalog{files: files}),
			WithExtractor(fe),
			WithLoader(&fakeLoader{recordsPer: 100}),
		)
		result, err := o.Run(ctx, Request{Category: "yellow_tripdata", MonthsBack: 3})
		require.NoError(t, err)

		assert.Equal(t, RunCompletedWithErrors, result.Status)
		assert.Equal(t, 2, result.FilesProcessed)
		assert.Equal(t, int64(200), result.TotalRecords)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, files[1].Filename, result.Errors[0].Filename)
		assert.Equal(t, pipeline.KindExtraction, result.Errors[0].Kind)
	})

	t.Run("every file failing yields failed", func(t *testing.T) {
		files := monthlyFiles(2)
		fe := &fakeExtractor{failFor: map[string]bool{
			files[0].Filename: true,
			files[1].Filename: true,
		}}
		o := New(
			WithCatalog(&fakeCatalog{files: files}),
			WithExtractor(fe),
			WithLoader(&fakeLoader{}),
		)
		result, err := o.Run(ctx, Request{Category: "yellow_tripdata", MonthsBack: 2})
		require.NoError(t, err)

		assert.Equal(t, RunFailed, result.Status)
		assert.Equal(t, 0, result.FilesProcessed)
		assert.Len(t, result.Errors, 2)
	})

	t.Run("discovery failure fails the run", func(t *testing.T) {
		o := New(
			WithCatalog(&fakeCatalog{err: pipeline.DataSourceError("unsupported trip category")}),
			WithExtractor(&fakeExtractor{}),
			WithLoader(&fakeLoader{}),
		)
		result, err := o.Run(ctx, Request{Category: "purple_tripdata", MonthsBack: 3})
		require.Error(t, err)
		assert.Equal(t, RunFailed, result.Status)
	})

	t.Run("worker count does not change the aggregate", func(t *testing.T) {
		files := monthlyFiles(6)
		run := func(workers int) *RunResult {
			o := New(
				WithCatalog(&fakeCatalog{files: files}),
				WithExtractor(&fakeExtractor{failFor: map[string]bool{files[2].Filename: true}}),
				WithLoader(&fakeLoader{recordsPer: 50}),
				WithWorkers(workers),
			)
			result, err := o.Run(ctx, Request{Category: "yellow_tripdata", MonthsBack: 6})
			require.NoError(t, err)
			return result
		}

		sequential := run(1)
		concurrent := run(4)

		assert.Equal(t, sequential.Status, concurrent.Status)
		assert.Equal(t, sequential.FilesProcessed, concurrent.FilesProcessed)
		assert.Equal(t, sequential.TotalRecords, concurrent.TotalRecords)
		assert.Len(t, concurrent.Errors, len(sequential.Errors))
	})

	t.Run("staging mode loads through the stage with the run id prefix", func(t *testing.T) {
		fl := &fakeLoader{recordsPer: 10}
		o := New(
			WithCatalog(&fakeCatalog{files: monthlyFiles(2)}),
			WithExtractor(&fakeExtractor{}),
			WithLoader(fl),
		)
		result, err := o.Run(ctx, Request{Category: "yellow_tripdata", MonthsBack: 2, UseStaging: true})
		require.NoError(t, err)

		assert.Equal(t, 0, fl.directCalls)
		require.Len(t, fl.stagedWith, 2)
		assert.Equal(t, result.RunID, fl.stagedWith[0])
		assert.Equal(t, result.RunID, fl.stagedWith[1])
	})
}

func TestStatus(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		o := New(WithHealthChecks(map[string]func(context.Context) error{
			"warehouse": func(context.Context) error { return nil },
		}))
		h := o.Status(context.Background())
		assert.True(t, h.Healthy)
		assert.Equal(t, "ok", h.Checks["warehouse"])
	})

	t.Run("a failing probe marks the snapshot unhealthy", func(t *testing.T) {
		o := New(WithHealthChecks(map[string]func(context.Context) error{
			"warehouse": func(context.Context) error { return nil },
			"staging":   func(context.Context) error { return errors.New("no such bucket") },
		}))
		h := o.Status(context.Background())
		assert.False(t, h.Healthy)
		assert.Equal(t, "ok", h.Checks["warehouse"])
		assert.Equal(t, "no such bucket", h.Checks["staging"])
	})
}

func TestCleanup(t *testing.T) {
	fe := &fakeExtractor{tempsCut: 4}
	fl := &fakeLoader{}
	o := New(WithExtractor(fe), WithLoader(fl))

	report := o.Cleanup(context.Background(), 7)
	assert.Equal(t, 4, report.TempFiles)
	assert.Equal(t, 2, report.StagedObjects)
	assert.Equal(t, 7, fl.cleaned)
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "raw_yellow_tripdata", TableName("yellow_tripdata"))
}
