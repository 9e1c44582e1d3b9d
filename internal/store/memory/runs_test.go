package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wikindex/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	id := uuid.New()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.StartRun(ctx, id, "https://w.org/wiki/A", start))
	require.NoError(t, s.StartRun(ctx, id, "ignored", start.Add(time.Hour)))

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.RunRunning, run.Status)
	require.Equal(t, "https://w.org/wiki/A", run.Seed)
	require.Nil(t, run.FinishedAt)

	end := start.Add(time.Minute)
	require.NoError(t, s.CompleteRun(ctx, id, end, store.RunSummary{Visited: 4, Terms: 5, Failures: 1, PostingsURI: "memory://p"}))
	run, err = s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, end, *run.FinishedAt)
	require.Equal(t, 4, run.Visited)
	require.Equal(t, "memory://p", run.PostingsURI)
}

func TestRunStoreFailAndMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	id := uuid.New()

	_, err := s.GetRun(ctx, id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.FailRun(ctx, id, time.Now(), "boom"), store.ErrNotFound)

	require.NoError(t, s.StartRun(ctx, id, "A", time.Now()))
	require.NoError(t, s.FailRun(ctx, id, time.Now(), "publish run notification: boom"))
	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.RunError, run.Status)
	require.Equal(t, "publish run notification: boom", *run.ErrorMessage)
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]uuid.UUID, 4)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, s.StartRun(ctx, ids[i], "A", base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, s.CompleteRun(ctx, ids[1], base.Add(time.Hour), store.RunSummary{}))

	all, err := s.ListRuns(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, ids[3], all[0].ID)
	require.Equal(t, ids[0], all[3].ID)

	page, err := s.ListRuns(ctx, nil, 2, 1)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{ids[2], ids[1]}, []uuid.UUID{page[0].ID, page[1].ID})

	success := store.RunSuccess
	done, err := s.ListRuns(ctx, &success, 10, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	require.Equal(t, ids[1], done[0].ID)

	empty, err := s.ListRuns(ctx, nil, 10, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestRunStatusValid(t *testing.T) {
	t.Parallel()

	require.True(t, store.RunError.Valid())
	require.False(t, store.RunStatus("paused").Valid())
}
