// Package memory provides an in-process run ledger.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/wikindex/internal/store"
)

// RunStore implements store.RunRepository with a mutex-guarded map.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.Run
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]store.Run)}
}

// StartRun implements store.RunRecorder.
func (s *RunStore) StartRun(_ context.Context, id uuid.UUID, seed string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; ok {
		return nil
	}
	s.runs[id] = store.Run{ID: id, Seed: seed, StartedAt: startedAt, Status: store.RunRunning}
	return nil
}

// CompleteRun implements store.RunRecorder.
func (s *RunStore) CompleteRun(_ context.Context, id uuid.UUID, finishedAt time.Time, sum store.RunSummary) error {
	return s.update(id, func(run *store.Run) {
		run.FinishedAt = &finishedAt
		run.Status = store.RunSuccess
		run.Visited = sum.Visited
		run.Terms = sum.Terms
		run.Failures = sum.Failures
		run.PostingsURI = sum.PostingsURI
	})
}

// FailRun implements store.RunRecorder.
func (s *RunStore) FailRun(_ context.Context, id uuid.UUID, finishedAt time.Time, errMsg string) error {
	return s.update(id, func(run *store.Run) {
		run.FinishedAt = &finishedAt
		run.Status = store.RunError
		run.ErrorMessage = &errMsg
	})
}

// GetRun implements store.RunReader.
func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns implements store.RunReader.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	runs := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status == nil || run.Status == *status {
			runs = append(runs, run)
		}
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID.String() > runs[j].ID.String()
	})
	if offset >= len(runs) {
		return []store.Run{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *RunStore) update(id uuid.UUID, fn func(*store.Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("update run %s: %w", id, store.ErrNotFound)
	}
	fn(&run)
	s.runs[id] = run
	return nil
}

var _ store.RunRepository = (*RunStore)(nil)
