// Package scheduler runs the periodic tick that offers ready jobs to the
// queue runtime.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/dura-io/duraq/internal/baseservice"
	"github.com/dura-io/duraq/internal/startstop"
	"github.com/dura-io/duraq/internal/storage"
	"github.com/dura-io/duraq/internal/testsignal"
	"github.com/dura-io/duraq/internal/util/timeutil"
)

// Interval is the fixed tick period the scheduler runs at.
const Interval = 200 * time.Millisecond

// TestSignals lets tests observe scheduler activity deterministically.
type TestSignals struct {
	Ticked testsignal.TestSignal[struct{}] // fires once per completed tick
}

func (ts *TestSignals) Init() {
	ts.Ticked.Init()
}

// Storage is the subset of storage.Storage the scheduler needs.
type Storage interface {
	GetPendingJobs(ctx context.Context, now time.Time) ([]*storage.Job, error)
	PromoteDelayed(ctx context.Context, now time.Time) ([]*storage.Job, error)
}

// ErrorFunc is called when a storage query fails; the scheduler surfaces
// the error and keeps ticking.
type ErrorFunc func(err error)

// ReadyFunc is called once per ready job, in dispatch order
// (priority desc, nextRunAt asc). It must not block.
type ReadyFunc func(job *storage.Job)

// Scheduler embeds BaseStartStop to give it a race-free Start/Stop
// lifecycle; the queue runtime treats it as one of the startstop.Service
// instances it tears down at shutdown.
type Scheduler struct {
	startstop.BaseStartStop
	baseservice.BaseService

	TestSignals TestSignals

	storage Storage
	onReady ReadyFunc
	onError ErrorFunc
	now     func() time.Time
}

// New returns a Scheduler. onReady is invoked once per admissible job every
// tick; onError is invoked when a storage query fails.
func New(archetype *baseservice.Archetype, store Storage, onReady ReadyFunc, onError ErrorFunc) *Scheduler {
	return baseservice.Init(archetype, &Scheduler{
		storage: store,
		onReady: onReady,
		onError: onError,
		now:     time.Now().UTC,
	})
}

// Start begins the scheduler's tick loop. Idempotent: calling Start on an
// already-running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, shouldStart, started, stopped := s.StartInit(ctx)
	if !shouldStart {
		return nil
	}

	go func() {
		started()
		defer stopped()

		s.Logger.Debug(s.Name + ": run loop started")
		defer s.Logger.Debug(s.Name + ": run loop stopped")

		ticker := timeutil.NewTickerWithInitialTick(ctx, Interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			s.tick(ctx)
			s.TestSignals.Ticked.Signal(struct{}{})
		}
	}()

	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	if _, err := s.storage.PromoteDelayed(ctx, now); err != nil {
		if s.onError != nil {
			s.onError(err)
		}
		s.Logger.Error(s.Name+": error promoting delayed jobs", slog.String("error", err.Error()))
		return
	}

	jobs, err := s.storage.GetPendingJobs(ctx, now)
	if err != nil {
		if s.onError != nil {
			s.onError(err)
		}
		s.Logger.Error(s.Name+": error querying pending jobs", slog.String("error", err.Error()))
		return
	}

	sortReady(jobs)

	for _, job := range jobs {
		s.onReady(job)
	}
}

// sortReady orders jobs by descending priority, then ascending nextRunAt,
// matching the ordering guarantee: a higher-priority job is always
// considered before a lower-priority one within a tick.
func sortReady(jobs []*storage.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].NextRunAt.Before(jobs[j].NextRunAt)
	})
}
