package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/dura-io/duraq/internal/baseservice"
	"github.com/dura-io/duraq/internal/startstop"
	"github.com/dura-io/duraq/internal/storage"
	"github.com/dura-io/duraq/internal/testsignal"
	"github.com/dura-io/duraq/internal/util/timeutil"
)

// StalledIntervalDefault is how often the sweeper scans for stalled jobs,
// and also the default age threshold past which a processing job is
// considered stalled.
const StalledIntervalDefault = 30 * time.Second

// StalledStorage is the subset of storage.Storage the sweeper needs.
type StalledStorage interface {
	GetAllJobs(ctx context.Context) ([]*storage.Job, error)
	UpdateJob(ctx context.Context, job *storage.Job) error
}

// StalledTestSignals lets tests observe sweep completion deterministically.
type StalledTestSignals struct {
	SweptBatch testsignal.TestSignal[int] // fires with the number of jobs marked stalled
}

func (ts *StalledTestSignals) Init() {
	ts.SweptBatch.Init()
}

// StalledSweeper periodically scans the store for jobs that have sat in
// processing longer than Interval and marks them stalled. This is purely
// observational: the sweeper never touches the worker running the job.
type StalledSweeper struct {
	startstop.BaseStartStop
	baseservice.BaseService

	TestSignals StalledTestSignals

	storage  StalledStorage
	interval time.Duration
	onEvent  func(job *storage.Job)
	now      func() time.Time
}

// NewStalledSweeper returns a StalledSweeper. interval <= 0 selects
// StalledIntervalDefault. onEvent is invoked once per job transitioned to
// stalled, after the transition has been persisted.
func NewStalledSweeper(archetype *baseservice.Archetype, store StalledStorage, interval time.Duration, onEvent func(job *storage.Job)) *StalledSweeper {
	if interval <= 0 {
		interval = StalledIntervalDefault
	}

	return baseservice.Init(archetype, &StalledSweeper{
		storage:  store,
		interval: interval,
		onEvent:  onEvent,
		now:      time.Now().UTC,
	})
}

func (s *StalledSweeper) Start(ctx context.Context) error {
	ctx, shouldStart, started, stopped := s.StartInit(ctx)
	if !shouldStart {
		return nil
	}

	go func() {
		started()
		defer stopped()

		s.Logger.Debug(s.Name + ": run loop started")
		defer s.Logger.Debug(s.Name + ": run loop stopped")

		ticker := timeutil.NewTickerWithInitialTick(ctx, s.interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			n := s.sweepOnce(ctx)
			s.TestSignals.SweptBatch.Signal(n)
		}
	}()

	return nil
}

func (s *StalledSweeper) sweepOnce(ctx context.Context) int {
	jobs, err := s.storage.GetAllJobs(ctx)
	if err != nil {
		s.Logger.Error(s.Name+": error listing jobs", slog.String("error", err.Error()))
		return 0
	}

	now := s.now()
	count := 0

	for _, job := range jobs {
		if job.Status != storage.StatusProcessing || job.StartedAt == nil {
			continue
		}
		if now.Sub(*job.StartedAt) <= s.interval {
			continue
		}

		job.Status = storage.StatusStalled
		job.UpdatedAt = now

		if err := s.storage.UpdateJob(ctx, job); err != nil {
			s.Logger.Error(s.Name+": error persisting stalled job", slog.String("jobId", job.ID), slog.String("error", err.Error()))
			continue
		}

		count++
		if s.onEvent != nil {
			s.onEvent(job)
		}
	}

	return count
}
