package extractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citydata/tripline/internal/catalog"
)

func testDataFile(url string) catalog.DataFile {
	return catalog.DataFile{
		Category: "yellow_tripdata",
		Year:     2023,
		Month:    1,
		URL:      url,
		Filename: "yellow_tripdata_2023-01.parquet",
	}
}

func newTestExtractor(t *testing.T, opts ...Option) *Extractor {
	t.Helper()
	e, err := New(t.TempDir(), append([]Option{WithBaseDelay(time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	return e
}

func TestFetch(t *testing.T) {
	t.Run("downloads and validates", func(t *testing.T) {
		body := []byte("parquet bytes")
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(body)
		}))
		defer server.Close()

		e := newTestExtractor(t)
		artifact, err := e.Fetch(context.Background(), testDataFile(server.URL), false)
		require.NoError(t, err)
		assert.Equal(t, int64(len(body)), artifact.SizeBytes)

		got, err := os.ReadFile(artifact.Path)
		require.NoError(t, err)
		assert.Equal(t, body, got)
	})

	t.Run("valid cached file is returned without network io", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.Write([]byte("fresh"))
		}))
		defer server.Close()

		dir := t.TempDir()
		e, err := New(dir, WithBaseDelay(time.Millisecond))
		require.NoError(t, err)

		file := testDataFile(server.URL)
		require.NoError(t, os.WriteFile(filepath.Join(dir, file.Filename), []byte("cached"), 0o644))

		artifact, err := e.Fetch(context.Background(), file, false)
		require.NoError(t, err)
		assert.Equal(t, int32(0), requests.Load())

		got, err := os.ReadFile(artifact.Path)
		require.NoError(t, err)
		assert.Equal(t, []byte("cached"), got)
	})

	t.Run("force refetch replaces the cached file", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("fresh"))
		}))
		defer server.Close()

		dir := t.TempDir()
		e, err := New(dir, WithBaseDelay(time.Millisecond))
		require.NoError(t, err)

		file := testDataFile(server.URL)
		require.NoError(t, os.WriteFile(filepath.Join(dir, file.Filename), []byte("cached"), 0o644))

		artifact, err := e.Fetch(context.Background(), file, true)
		require.NoError(t, err)

		got, err := os.ReadFile(artifact.Path)
		require.NoError(t, err)
		assert.Equal(t, []byte("fresh"), got)
		assert.Equal(t, int64(len("fresh")), artifact.SizeBytes)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requests.Add(1) <= 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte("eventually"))
		}))
		defer server.Close()

		e := newTestExtractor(t)
		artifact, err := e.Fetch(context.Background(), testDataFile(server.URL), false)
		require.NoError(t, err)
		assert.Equal(t, int32(3), requests.Load())
		assert.Equal(t, int64(len("eventually")), artifact.SizeBytes)
	})

	t.Run("does not retry not found", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		e := newTestExtractor(t)
		_, err := e.Fetch(context.Background(), testDataFile(server.URL), false)
		assert.Error(t, err)
		assert.Equal(t, int32(1), requests.Load())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		e := newTestExtractor(t, WithMaxRetries(2))
		_, err := e.Fetch(context.Background(), testDataFile(server.URL), false)
		assert.Error(t, err)
		assert.Equal(t, int32(3), requests.Load())
	})

	t.Run("empty body fails integrity and leaves no debris", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		dir := t.TempDir()
		e, err := New(dir, WithBaseDelay(time.Millisecond))
		require.NoError(t, err)

		file := testDataFile(server.URL)
		_, err = e.Fetch(context.Background(), file, false)
		assert.Error(t, err)

		_, statErr := os.Stat(filepath.Join(dir, file.Filename))
		assert.True(t, os.IsNotExist(statErr))
		_, statErr = os.Stat(filepath.Join(dir, file.Filename+".tmp"))
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestCleanupTempFiles(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.parquet.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.parquet.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.parquet"), []byte("x"), 0o644))

	assert.Equal(t, 2, e.CleanupTempFiles())

	_, err = os.Stat(filepath.Join(dir, "keep.parquet"))
	assert.NoError(t, err)
}

func TestArtifactMD5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yellow_tripdata_2023-01.parquet")
	require.NoError(t, os.WriteFile(path, []byte("parquet bytes"), 0o644))

	a := &Artifact{Path: path}
	sum, err := a.MD5()
	require.NoError(t, err)
	assert.Len(t, sum, 32)

	again, err := a.MD5()
	require.NoError(t, err)
	assert.Equal(t, sum, again)
}

func TestVerifyURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/exists" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	e := newTestExtractor(t)
	assert.True(t, e.VerifyURL(context.Background(), server.URL+"/exists"))
	assert.False(t, e.VerifyURL(context.Background(), server.URL+"/missing"))
}
