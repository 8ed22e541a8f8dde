// Package server exposes the pipeline over HTTP: dependency health, run
// history, and on-demand ingestion runs.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/citydata/tripline/internal/catalog"
	"github.com/citydata/tripline/internal/orchestrator"
)

type Server struct {
	logger       *zap.Logger
	orchestrator *orchestrator.Orchestrator

	mu   sync.RWMutex
	runs map[string]*orchestrator.RunResult
}

func New(o *orchestrator.Orchestrator, logger *zap.Logger) *Server {
	return &Server{
		logger:       logger,
		orchestrator: o,
		runs:         make(map[string]*orchestrator.RunResult),
	}
}

// RegisterRun records a finished run so it shows up in the history API.
func (s *Server) RegisterRun(result *orchestrator.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[result.RunID] = result
	s.logger.Info("run registered",
		zap.String("run_id", result.RunID),
		zap.String("status", string(result.Status)))
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/api/v1/status", s.getStatus)
	r.Route("/api/v1/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Post("/", s.startRun)
		r.Get("/{id}", s.getRun)
	})

	return r
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	health := s.orchestrator.Status(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if !health.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*orchestrator.RunResult, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	run, exists := s.runs[id]
	s.mu.RUnlock()

	if !exists {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

type runRequest struct {
	Category   string `json:"category"`
	MonthsBack int    `json:"months_back"`
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
	UseStaging bool   `json:"use_staging"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req := orchestrator.Request{
		Category:   body.Category,
		MonthsBack: body.MonthsBack,
		UseStaging: body.UseStaging,
	}
	if body.Start != "" && body.End != "" {
		start, err := catalog.ParseYearMonth(body.Start)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		end, err := catalog.ParseYearMonth(body.End)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.Start, req.End = &start, &end
	}

	result, err := s.orchestrator.Run(r.Context(), req)
	if err != nil {
		s.logger.Error("run failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.RegisterRun(result)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	s.logger.Info("starting server", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down server")
		srv.Shutdown(context.Background())
	}()

	return srv.ListenAndServe()
}
