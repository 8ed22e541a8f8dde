// Package extractor turns a catalog descriptor into a validated local
// artifact, tolerating transient network failure.
package extractor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/citydata/tripline/internal/catalog"
	"github.com/citydata/tripline/internal/pipeline"
)

const (
	userAgent = "tripline/1.0"

	defaultMaxRetries       = 3
	defaultBaseDelay        = 2 * time.Second
	defaultTimeout          = 5 * time.Minute
	defaultProgressInterval = 5 * time.Second
)

// Artifact is a downloaded file on durable local storage, paired with the
// descriptor it originated from.
type Artifact struct {
	File      catalog.DataFile
	Path      string
	SizeBytes int64
}

// Remove deletes the artifact from disk.
func (a *Artifact) Remove() error {
	return os.Remove(a.Path)
}

// MD5 streams the artifact and returns its content digest.
func (a *Artifact) MD5() (string, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type Option func(*Extractor)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(e *Extractor) {
		e.client = client
	}
}

func WithMaxRetries(n int) Option {
	return func(e *Extractor) {
		e.maxRetries = n
	}
}

// WithBaseDelay sets the initial retry delay; it doubles on each attempt.
func WithBaseDelay(d time.Duration) Option {
	return func(e *Extractor) {
		e.baseDelay = d
	}
}

// WithProgress subscribes fn to download progress notifications. Reports
// are gated by the progress interval, not emitted per chunk.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Extractor) {
		e.progress = fn
	}
}

func WithProgressInterval(d time.Duration) Option {
	return func(e *Extractor) {
		e.progressInterval = d
	}
}

type Extractor struct {
	dataDir          string
	client           *http.Client
	maxRetries       int
	baseDelay        time.Duration
	progress         ProgressFunc
	progressInterval time.Duration
	logger           *zap.Logger
}

func New(dataDir string, opts ...Option) (*Extractor, error) {
	e := &Extractor{
		dataDir:          dataDir,
		client:           &http.Client{Timeout: defaultTimeout},
		maxRetries:       defaultMaxRetries,
		baseDelay:        defaultBaseDelay,
		progressInterval: defaultProgressInterval,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	return e, nil
}

// Fetch returns a validated local artifact for the descriptor. An existing
// valid local file is returned without any network I/O unless forceRefetch
// is set. Downloads stream into a temporary file that is atomically renamed
// on success, so a crash never leaves a partial file under its final name.
func (e *Extractor) Fetch(ctx context.Context, file catalog.DataFile, forceRefetch bool) (*Artifact, error) {
	localPath := filepath.Join(e.dataDir, file.Filename)

	if !forceRefetch {
		if info, err := os.Stat(localPath); err == nil {
			if e.validateIntegrity(localPath, file) {
				e.logger.Info("local file is valid, skipping download",
					zap.String("filename", file.Filename),
					zap.Int64("size_bytes", info.Size()),
				)
				return &Artifact{File: file, Path: localPath, SizeBytes: info.Size()}, nil
			}
			e.logger.Warn("existing file failed validation, re-downloading",
				zap.String("filename", file.Filename))
		}
	}

	if err := e.downloadWithRetry(ctx, file, localPath); err != nil {
		e.removeDebris(localPath)
		return nil, pipeline.ExtractionError(err, "failed to download %s", file.URL).
			WithContext("filename", file.Filename)
	}

	if !e.validateIntegrity(localPath, file) {
		e.removeDebris(localPath)
		return nil, pipeline.ExtractionError(nil, "downloaded file failed integrity check: %s", file.Filename).
			WithContext("filename", file.Filename)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, pipeline.ExtractionError(err, "stat downloaded file %s", localPath)
	}

	e.logger.Info("download complete",
		zap.String("filename", file.Filename),
		zap.Int64("size_bytes", info.Size()),
	)
	return &Artifact{File: file, Path: localPath, SizeBytes: info.Size()}, nil
}

func (e *Extractor) downloadWithRetry(ctx context.Context, file catalog.DataFile, localPath string) error {
	delay := e.baseDelay
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			e.logger.Warn("retrying download",
				zap.String("filename", file.Filename),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		lastErr = e.download(ctx, file, localPath)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (e *Extractor) download(ctx context.Context, file catalog.DataFile, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{Code: resp.StatusCode, URL: file.URL}
	}

	tmpPath := localPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	w := &progressWriter{
		dst:      f,
		filename: file.Filename,
		total:    resp.ContentLength,
		interval: e.progressInterval,
		report:   e.progress,
		started:  time.Now(),
		last:     time.Now(),
	}
	_, copyErr := io.Copy(w, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return copyErr
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return closeErr
	}

	return os.Rename(tmpPath, localPath)
}

// validateIntegrity reports whether the file on disk looks usable. The size
// check against the estimate is soft: estimates drift, so a mismatch only
// logs a warning.
func (e *Extractor) validateIntegrity(path string, file catalog.DataFile) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Size() == 0 {
		e.logger.Warn("file is empty", zap.String("path", path))
		return false
	}

	if file.EstimatedSizeMB > 0 {
		sizeMB := float64(info.Size()) / (1024 * 1024)
		minMB := float64(file.EstimatedSizeMB) * 0.5
		maxMB := float64(file.EstimatedSizeMB) * 1.5
		if sizeMB < minMB || sizeMB > maxMB {
			e.logger.Warn("file size outside expected range",
				zap.String("filename", file.Filename),
				zap.Float64("size_mb", sizeMB),
				zap.Int("estimated_mb", file.EstimatedSizeMB),
			)
		}
	}
	return true
}

func (e *Extractor) removeDebris(localPath string) {
	os.Remove(localPath + ".tmp")
	os.Remove(localPath)
}

// CleanupTempFiles removes leftover .tmp files from the data directory and
// returns how many were deleted. Best effort.
func (e *Extractor) CleanupTempFiles() int {
	matches, err := filepath.Glob(filepath.Join(e.dataDir, "*.tmp"))
	if err != nil {
		return 0
	}
	cleaned := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			e.logger.Warn("failed to remove temp file", zap.String("path", path), zap.Error(err))
			continue
		}
		cleaned++
	}
	return cleaned
}

// VerifyURL checks that a URL is reachable without downloading the body.
func (e *Extractor) VerifyURL(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type statusError struct {
	Code int
	URL  string
}

func (s *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", s.Code, s.URL)
}

// isTransient reports whether a download error is worth retrying: timeouts,
// connection failures, 429 and 5xx responses.
func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}
