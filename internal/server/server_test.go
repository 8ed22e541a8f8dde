package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/citydata/tripline/internal/catalog"
	"github.com/citydata/tripline/internal/orchestrator"
)

type emptyCatalog struct{}

func (emptyCatalog) ListRecent(string, int) ([]catalog.DataFile, error) {
	return nil, nil
}

func (emptyCatalog) ListRange(string, catalog.YearMonth, catalog.YearMonth) ([]catalog.DataFile, error) {
	return nil, nil
}

func (emptyCatalog) EstimateProcessingMinutes([]catalog.DataFile) int {
	return 1
}

func newTestServer(o *orchestrator.Orchestrator) *Server {
	return New(o, zap.NewNop())
}

func TestGetStatus(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		o := orchestrator.New(orchestrator.WithHealthChecks(map[string]func(context.Context) error{
			"warehouse": func(context.Context) error { return nil },
		}))
		s := newTestServer(o)

		rec := httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"healthy":true`)
	})

	t.Run("unhealthy returns 503", func(t *testing.T) {
		o := orchestrator.New(orchestrator.WithHealthChecks(map[string]func(context.Context) error{
			"warehouse": func(context.Context) error { return errors.New("down") },
		}))
		s := newTestServer(o)

		rec := httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestRunHistory(t *testing.T) {
	s := newTestServer(orchestrator.New())
	s.RegisterRun(&orchestrator.RunResult{
		RunID:     "run-1",
		Category:  "yellow_tripdata",
		Status:    orchestrator.RunCompleted,
		StartedAt: time.Now().UTC(),
	})

	t.Run("list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"count":1`)
	})

	t.Run("get by id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"run_id":"run-1"`)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStartRun(t *testing.T) {
	o := orchestrator.New(orchestrator.WithCatalog(emptyCatalog{}))
	s := newTestServer(o)

	t.Run("empty discovery completes and is registered", func(t *testing.T) {
		body := strings.NewReader(`{"category": "yellow_tripdata", "months_back": 0}`)
		rec := httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs/", body))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"completed"`)

		s.mu.RLock()
		defer s.mu.RUnlock()
		assert.Len(t, s.runs, 1)
	})

	t.Run("bad month range", func(t *testing.T) {
		body := strings.NewReader(`{"category": "yellow_tripdata", "start": "nope", "end": "2023-02"}`)
		rec := httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs/", body))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs/", strings.NewReader("{")))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
