package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dura-io/duraq/internal/storage"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestViewAddAndCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := storage.NewMemory()
	job := &storage.Job{ID: "1", Status: storage.StatusFailed}
	require.NoError(t, store.AddJob(ctx, job))

	view := New(store, fixedNow(time.Now()))
	require.NoError(t, view.Add(ctx, job))

	count, err := view.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestViewRemoveResetsJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := storage.NewMemory()

	started := now.Add(-time.Hour)
	job := &storage.Job{
		ID:          "1",
		Status:      storage.StatusFailed,
		Attempts:    3,
		Progress:    50,
		Error:       "boom",
		StartedAt:   &started,
		CompletedAt: &started,
	}
	require.NoError(t, store.AddJob(ctx, job))
	require.NoError(t, store.MoveToDeadLetter(ctx, job))

	view := New(store, fixedNow(now))
	reset, err := view.Remove(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, reset)

	require.Equal(t, 0, reset.Attempts)
	require.Equal(t, storage.StatusPending, reset.Status)
	require.Equal(t, now, reset.NextRunAt)
	require.Equal(t, 0, reset.Progress)
	require.Empty(t, reset.Error)
	require.Nil(t, reset.StartedAt)
	require.Nil(t, reset.CompletedAt)
}

func TestViewRemoveMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := storage.NewMemory()
	view := New(store, fixedNow(time.Now()))

	got, err := view.Remove(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestViewClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := storage.NewMemory()
	for _, id := range []string{"1", "2", "3"} {
		job := &storage.Job{ID: id, Status: storage.StatusFailed}
		require.NoError(t, store.AddJob(ctx, job))
		require.NoError(t, store.MoveToDeadLetter(ctx, job))
	}

	view := New(store, fixedNow(time.Now()))
	require.NoError(t, view.Clear(ctx))

	count, err := view.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
