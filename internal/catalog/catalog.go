// Package catalog enumerates the monthly trip extract files published by the
// upstream data host. It is pure computation over calendar arithmetic: no
// I/O happens here.
package catalog

import (
	"fmt"
	"time"

	"github.com/citydata/tripline/internal/pipeline"
)

const (
	// DefaultBaseURL is the public file host serving monthly extracts.
	DefaultBaseURL = "https://d37ci6vzurychx.cloudfront.net/trip-data"

	// The host publishes no data older than this year.
	minSupportedYear = 2009

	// publicationLagMonths is how long the host delays before a month's
	// file becomes available.
	publicationLagMonths = 2

	// Files are assumed to process at ~50 MB/minute.
	processingMBPerMinute = 50

	// defaultSizeMB is the estimate for categories without a known size.
	defaultSizeMB = 100
)

// knownSizesMB holds rough per-category monthly file sizes, used when a
// descriptor carries no estimate.
var knownSizesMB = map[string]int{
	"yellow_tripdata": 150,
	"green_tripdata":  30,
	"fhv_tripdata":    25,
	"fhvhv_tripdata":  450,
}

// DataFile identifies one remote monthly extract. Immutable once built.
type DataFile struct {
	Category        string
	Year            int
	Month           int
	URL             string
	Filename        string
	EstimatedSizeMB int // 0 when unknown
}

// DateString renders the file's month as YYYY-MM.
func (f DataFile) DateString() string {
	return fmt.Sprintf("%d-%02d", f.Year, f.Month)
}

func (f DataFile) MonthName() string {
	return time.Month(f.Month).String()
}

// YearMonth is an endpoint of a discovery range.
type YearMonth struct {
	Year  int
	Month int
}

func (ym YearMonth) index() int {
	return ym.Year*12 + ym.Month - 1
}

// ParseYearMonth parses a YYYY-MM string into a range endpoint.
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, pipeline.DataSourceError("invalid year-month %q, want YYYY-MM", s)
	}
	return YearMonth{Year: t.Year(), Month: int(t.Month())}, nil
}

type Option func(*Catalog)

func WithBaseURL(baseURL string) Option {
	return func(c *Catalog) {
		c.baseURL = baseURL
	}
}

func WithCategories(categories []string) Option {
	return func(c *Catalog) {
		c.categories = categories
	}
}

// WithClock overrides the time source; tests pin the publication window.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		c.now = now
	}
}

// Catalog deterministically generates DataFiles for a category and date
// range, validating categories and dates against the publication window.
type Catalog struct {
	baseURL    string
	categories []string
	now        func() time.Time
}

func New(opts ...Option) *Catalog {
	c := &Catalog{
		baseURL:    DefaultBaseURL,
		categories: []string{"yellow_tripdata", "green_tripdata"},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildURL returns the canonical URL for a category's monthly file.
func (c *Catalog) BuildURL(category string, year, month int) (string, error) {
	if err := c.validateCategory(category); err != nil {
		return "", err
	}
	if err := c.validateDate(year, month); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s_%d-%02d.parquet", c.baseURL, category, year, month), nil
}

// ListRange enumerates every month from start through end inclusive, in
// chronological order.
func (c *Catalog) ListRange(category string, start, end YearMonth) ([]DataFile, error) {
	if err := c.validateCategory(category); err != nil {
		return nil, err
	}
	if err := c.validateDate(start.Year, start.Month); err != nil {
		return nil, err
	}
	if err := c.validateDate(end.Year, end.Month); err != nil {
		return nil, err
	}
	if start.index() > end.index() {
		return nil, pipeline.DataSourceError(
			"invalid range: start %d-%02d is after end %d-%02d",
			start.Year, start.Month, end.Year, end.Month)
	}

	files := make([]DataFile, 0, end.index()-start.index()+1)
	for i := start.index(); i <= end.index(); i++ {
		year, month := i/12, i%12+1
		url, err := c.BuildURL(category, year, month)
		if err != nil {
			return nil, err
		}
		files = append(files, DataFile{
			Category:        category,
			Year:            year,
			Month:           month,
			URL:             url,
			Filename:        fmt.Sprintf("%s_%d-%02d.parquet", category, year, month),
			EstimatedSizeMB: c.estimatedSize(category),
		})
	}
	return files, nil
}

// ListRecent enumerates the monthsBack most recent published months, ending
// at the newest month the host has published. monthsBack = 0 returns an
// empty, non-nil slice.
func (c *Catalog) ListRecent(category string, monthsBack int) ([]DataFile, error) {
	if err := c.validateCategory(category); err != nil {
		return nil, err
	}
	if monthsBack < 0 {
		return nil, pipeline.DataSourceError("months back must be >= 0, got %d", monthsBack)
	}
	if monthsBack == 0 {
		return []DataFile{}, nil
	}

	end := c.latestPublished()
	startIdx := end.index() - monthsBack + 1
	start := YearMonth{Year: startIdx / 12, Month: startIdx%12 + 1}
	return c.ListRange(category, start, end)
}

// EstimateProcessingMinutes sums per-file size estimates, falling back to a
// per-category default, and converts size to minutes at a fixed throughput.
// Always returns at least one minute.
func (c *Catalog) EstimateProcessingMinutes(files []DataFile) int {
	totalMB := 0
	for _, f := range files {
		size := f.EstimatedSizeMB
		if size == 0 {
			size = c.estimatedSize(f.Category)
		}
		totalMB += size
	}
	minutes := totalMB / processingMBPerMinute
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

func (c *Catalog) estimatedSize(category string) int {
	if size, ok := knownSizesMB[category]; ok {
		return size
	}
	return defaultSizeMB
}

func (c *Catalog) validateCategory(category string) error {
	for _, known := range c.categories {
		if category == known {
			return nil
		}
	}
	return pipeline.DataSourceError("unsupported trip category: %q", category)
}

func (c *Catalog) validateDate(year, month int) error {
	if month < 1 || month > 12 {
		return pipeline.DataSourceError("invalid month: %d", month)
	}
	if year < minSupportedYear {
		return pipeline.DataSourceError(
			"year %d predates earliest supported year %d", year, minSupportedYear)
	}
	requested := YearMonth{Year: year, Month: month}
	if requested.index() > c.latestPublished().index() {
		return pipeline.DataSourceError(
			"%d-%02d is not yet published (source lags by %d months)",
			year, month, publicationLagMonths)
	}
	return nil
}

// latestPublished is the newest month available on the host: the current
// month minus the publication lag.
func (c *Catalog) latestPublished() YearMonth {
	now := c.now()
	idx := YearMonth{Year: now.Year(), Month: int(now.Month())}.index() - publicationLagMonths
	return YearMonth{Year: idx / 12, Month: idx%12 + 1}
}
