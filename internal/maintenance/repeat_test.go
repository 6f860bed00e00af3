package maintenance

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dura-io/duraq/internal/baseservice"
	"github.com/dura-io/duraq/internal/storage"
)

type repeatFakeStorage struct {
	mu    sync.Mutex
	added []*storage.Job
}

func (s *repeatFakeStorage) AddJob(ctx context.Context, job *storage.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, job.Clone())
	return nil
}

func (s *repeatFakeStorage) snapshot() []*storage.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.Job, len(s.added))
	copy(out, s.added)
	return out
}

func repeatTestArchetype() *baseservice.Archetype {
	return &baseservice.Archetype{
		Logger: slog.New(slog.NewTextHandler(discardWriter{}, nil)),
		Rand:   rand.New(rand.NewSource(1)),
		Time:   baseservice.RealTimeGenerator{},
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func seqIDs() IDFunc {
	n := 0
	return func() string {
		n++
		return "clone-" + string(rune('a'+n-1))
	}
}

func TestRepeatEngineEveryArmsFollowingOccurrence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := &repeatFakeStorage{}
	engine := NewRepeatEngine(repeatTestArchetype(), store, seqIDs())
	engine.TestSignals.Init()
	engine.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, engine.Start(ctx))
	t.Cleanup(engine.Stop)

	job := &storage.Job{
		ID:          "source",
		Status:      storage.StatusPending,
		RepeatCount: 0,
		RepeatConfig: &storage.RepeatConfig{
			Every: 10 * time.Millisecond,
		},
	}

	engine.Schedule(ctx, job)

	first := engine.TestSignals.Scheduled.WaitOrTimeout()
	require.Equal(t, "clone-a", first)

	second := engine.TestSignals.Scheduled.WaitOrTimeout()
	require.Equal(t, "clone-b", second)

	added := store.snapshot()
	require.Len(t, added, 2)
	require.Equal(t, 1, added[0].RepeatCount)
	require.Equal(t, 2, added[1].RepeatCount)
	require.Equal(t, storage.StatusPending, added[0].Status)
}

func TestRepeatEngineRespectsLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := &repeatFakeStorage{}
	engine := NewRepeatEngine(repeatTestArchetype(), store, seqIDs())
	engine.TestSignals.Init()
	engine.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, engine.Start(ctx))
	t.Cleanup(engine.Stop)

	job := &storage.Job{
		ID:     "source",
		Status: storage.StatusPending,
		RepeatConfig: &storage.RepeatConfig{
			Every: 5 * time.Millisecond,
			Limit: 1,
		},
	}

	engine.Schedule(ctx, job)

	stoppedID := engine.TestSignals.Stopped.WaitOrTimeout()
	require.Equal(t, "source", stoppedID)
	require.Empty(t, store.snapshot())
}

func TestRepeatEngineEndDateStopsRecurrence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := &repeatFakeStorage{}
	engine := NewRepeatEngine(repeatTestArchetype(), store, seqIDs())
	engine.TestSignals.Init()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	require.NoError(t, engine.Start(ctx))
	t.Cleanup(engine.Stop)

	job := &storage.Job{
		ID:     "source",
		Status: storage.StatusPending,
		RepeatConfig: &storage.RepeatConfig{
			Every:   time.Hour,
			EndDate: now.Add(time.Minute),
		},
	}

	engine.Schedule(ctx, job)

	stoppedID := engine.TestSignals.Stopped.WaitOrTimeout()
	require.Equal(t, "source", stoppedID)
}

func TestRepeatEngineStopCancelsPendingTimers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := &repeatFakeStorage{}
	engine := NewRepeatEngine(repeatTestArchetype(), store, seqIDs())
	engine.TestSignals.Init()
	engine.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, engine.Start(ctx))

	job := &storage.Job{
		ID:     "source",
		Status: storage.StatusPending,
		RepeatConfig: &storage.RepeatConfig{
			Every: time.Hour,
		},
	}

	engine.Schedule(ctx, job)
	engine.Stop()

	require.Empty(t, store.snapshot())
}
