package orchestrator

import (
	"time"

	"github.com/citydata/tripline/internal/pipeline"
)

// RunStatus summarizes an entire ingestion run.
type RunStatus string

const (
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

// ErrorRecord is one per-file failure, kept as data so a single bad file
// never aborts the run.
type ErrorRecord struct {
	Filename string        `json:"filename"`
	Kind     pipeline.Kind `json:"kind"`
	Message  string        `json:"message"`
}

// RunResult is the aggregate outcome of one ingestion run.
type RunResult struct {
	RunID                 string         `json:"run_id"`
	Category              string         `json:"category"`
	Status                RunStatus      `json:"status"`
	FilesDiscovered       int            `json:"files_discovered"`
	FilesProcessed        int            `json:"files_processed"`
	TotalRecords          int64          `json:"total_records"`
	FailedRecords         int64          `json:"failed_records"`
	Errors                []ErrorRecord  `json:"errors,omitempty"`
	Warnings              []string       `json:"warnings,omitempty"`
	StartedAt             time.Time      `json:"started_at"`
	ProcessingTimeSeconds float64        `json:"processing_time_seconds"`
	DataQualityMetrics    map[string]any `json:"data_quality_metrics,omitempty"`
}

// deriveStatus applies the run status rule: failed when nothing succeeded
// and something failed, completed_with_errors when some files failed, and
// completed otherwise.
func deriveStatus(processed, failed int) RunStatus {
	switch {
	case failed > 0 && processed == 0:
		return RunFailed
	case failed > 0:
		return RunCompletedWithErrors
	default:
		return RunCompleted
	}
}
