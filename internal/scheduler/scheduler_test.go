package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dura-io/duraq/internal/baseservice"
	"github.com/dura-io/duraq/internal/storage"
)

func testArchetype() *baseservice.Archetype {
	return &baseservice.Archetype{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Rand:   rand.New(rand.NewSource(1)),
		Time:   baseservice.RealTimeGenerator{},
	}
}

func TestSchedulerOffersInPriorityOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := storage.NewMemory()
	require.NoError(t, store.AddJob(ctx, &storage.Job{ID: "low", Status: storage.StatusPending, Priority: 0, NextRunAt: now.Add(-time.Minute)}))
	require.NoError(t, store.AddJob(ctx, &storage.Job{ID: "high", Status: storage.StatusPending, Priority: 10, NextRunAt: now}))

	var mu sync.Mutex
	var seen []string

	sched := New(testArchetype(), store, func(job *storage.Job) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, job.ID)
	}, nil)
	sched.TestSignals.Init()

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	sched.TestSignals.Ticked.WaitOrTimeout()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"high", "low"}, seen)
}

func TestSchedulerSurfacesStorageErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	errStorage := errStorage{err: errors.New("boom")}

	var gotErr error
	sched := New(testArchetype(), errStorage, func(*storage.Job) {}, func(err error) { gotErr = err })
	sched.TestSignals.Init()

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	sched.TestSignals.Ticked.WaitOrTimeout()
	require.Error(t, gotErr)
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := storage.NewMemory()
	sched := New(testArchetype(), store, func(*storage.Job) {}, nil)

	require.NoError(t, sched.Start(ctx))
	require.NoError(t, sched.Start(ctx))
	sched.Stop()
	sched.Stop()
}

type errStorage struct{ err error }

func (e errStorage) GetPendingJobs(ctx context.Context, now time.Time) ([]*storage.Job, error) {
	return nil, e.err
}

func (e errStorage) PromoteDelayed(ctx context.Context, now time.Time) ([]*storage.Job, error) {
	return nil, e.err
}
