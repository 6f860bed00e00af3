package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryAddAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMemory()
	require.NoError(t, m.Initialize(ctx))

	job := &Job{ID: "1", Status: StatusPending}
	require.NoError(t, m.AddJob(ctx, job))

	got, err := m.GetJob(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)

	// Mutating the returned copy must not affect storage's state.
	got.Status = StatusCompleted
	again, err := m.GetJob(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, again.Status)
}

func TestMemoryAddDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMemory()
	require.NoError(t, m.AddJob(ctx, &Job{ID: "1"}))
	require.ErrorIs(t, m.AddJob(ctx, &Job{ID: "1"}), ErrAlreadyExists)
}

func TestMemoryUpdateMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMemory()
	require.ErrorIs(t, m.UpdateJob(ctx, &Job{ID: "missing"}), ErrNotFound)
}

func TestMemoryGetPendingJobsOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()

	require.NoError(t, m.AddJob(ctx, &Job{ID: "late", Status: StatusPending, NextRunAt: now}))
	require.NoError(t, m.AddJob(ctx, &Job{ID: "early", Status: StatusPending, NextRunAt: now.Add(-time.Minute)}))
	require.NoError(t, m.AddJob(ctx, &Job{ID: "future", Status: StatusPending, NextRunAt: now.Add(time.Hour)}))
	require.NoError(t, m.AddJob(ctx, &Job{ID: "processing", Status: StatusProcessing, NextRunAt: now.Add(-time.Hour)}))

	jobs, err := m.GetPendingJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "early", jobs[0].ID)
	require.Equal(t, "late", jobs[1].ID)
}

func TestMemoryPromoteDelayed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()

	require.NoError(t, m.AddJob(ctx, &Job{ID: "ready", Status: StatusDelayed, NextRunAt: now.Add(-time.Minute)}))
	require.NoError(t, m.AddJob(ctx, &Job{ID: "not-yet", Status: StatusDelayed, NextRunAt: now.Add(time.Minute)}))
	require.NoError(t, m.AddJob(ctx, &Job{ID: "already-pending", Status: StatusPending, NextRunAt: now.Add(-time.Minute)}))

	promoted, err := m.PromoteDelayed(ctx, now)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	require.Equal(t, "ready", promoted[0].ID)
	require.Equal(t, StatusPending, promoted[0].Status)

	ready, err := m.GetJob(ctx, "ready")
	require.NoError(t, err)
	require.Equal(t, StatusPending, ready.Status)

	notYet, err := m.GetJob(ctx, "not-yet")
	require.NoError(t, err)
	require.Equal(t, StatusDelayed, notYet.Status)

	pending, err := m.GetPendingJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestMemoryDeadLetterRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMemory()
	job := &Job{ID: "1", Status: StatusFailed}
	require.NoError(t, m.AddJob(ctx, job))
	require.NoError(t, m.MoveToDeadLetter(ctx, job))

	got, err := m.GetJob(ctx, "1")
	require.NoError(t, err)
	require.Nil(t, got)

	failed, err := m.GetFailedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	removed, err := m.RemoveFromDeadLetter(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, "1", removed.ID)

	failed, err = m.GetFailedJobs(ctx)
	require.NoError(t, err)
	require.Empty(t, failed)
}

func TestMemoryRemoveCompleted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMemory()
	require.NoError(t, m.AddJob(ctx, &Job{ID: "1", Status: StatusCompleted}))
	require.NoError(t, m.AddJob(ctx, &Job{ID: "2", Status: StatusCompleted}))

	require.NoError(t, m.RemoveCompleted(ctx, []string{"1", "missing"}))

	all, err := m.GetAllJobs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "2", all[0].ID)
}

func TestMemoryClosedRejectsOperations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMemory()
	require.NoError(t, m.Close(ctx))

	require.ErrorIs(t, m.AddJob(ctx, &Job{ID: "1"}), ErrClosed)
	_, err := m.GetAllJobs(ctx)
	require.ErrorIs(t, err, ErrClosed)
}
