package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the index_runs status column.
type RunStatus string

// Run statuses persisted in index_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunError:
		return true
	}
	return false
}

// Run models one row of index_runs.
type Run struct {
	ID   uuid.UUID `json:"id"`
	Seed string    `json:"seed"`
	// StartedAt captures when the run was marked running.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is nil until the run is marked success or error.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Visited    int        `json:"visited"`
	Terms      int        `json:"terms"`
	Failures   int        `json:"failures"`
	// PostingsURI is empty when no blob store was configured.
	PostingsURI  string  `json:"postings_uri,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// RunSummary carries the counters recorded when a run succeeds.
type RunSummary struct {
	Visited     int
	Terms       int
	Failures    int
	PostingsURI string
}

// RunRecorder is the write side of the ledger used by the pipeline.
type RunRecorder interface {
	// StartRun inserts a running row. Starting an existing run is a no-op.
	StartRun(ctx context.Context, id uuid.UUID, seed string, startedAt time.Time) error
	// CompleteRun marks the run successful and stores its summary.
	CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, sum RunSummary) error
	// FailRun marks the run failed with errMsg.
	FailRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, errMsg string) error
}

// RunReader is the read side of the ledger used by the API.
type RunReader interface {
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, filtered by an optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}

// RunRepository is a complete ledger.
type RunRepository interface {
	RunRecorder
	RunReader
}
