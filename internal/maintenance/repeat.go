package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dura-io/duraq/internal/baseservice"
	"github.com/dura-io/duraq/internal/cronschedule"
	"github.com/dura-io/duraq/internal/startstop"
	"github.com/dura-io/duraq/internal/storage"
	"github.com/dura-io/duraq/internal/testsignal"
)

// RepeatStorage is the subset of storage.Storage the repeat engine needs.
type RepeatStorage interface {
	AddJob(ctx context.Context, job *storage.Job) error
}

// RepeatTestSignals lets tests observe the engine deterministically.
type RepeatTestSignals struct {
	Scheduled testsignal.TestSignal[string] // fires with the new job's id once a clone has been persisted
	Stopped   testsignal.TestSignal[string] // fires with a job's id once its recurrence ends (limit or endDate reached)
}

func (ts *RepeatTestSignals) Init() {
	ts.Scheduled.Init()
	ts.Stopped.Init()
}

// IDFunc generates the id for a newly cloned occurrence.
type IDFunc func() string

// RepeatEngine arms a one-shot timer per recurring job rather than polling
// on an interval: each job with a RepeatConfig gets its own timer, and
// firing that timer both persists the next occurrence and arms the timer
// after it, so the chain continues without the engine ever re-scanning
// storage.
type RepeatEngine struct {
	startstop.BaseStartStop
	baseservice.BaseService

	TestSignals RepeatTestSignals

	storage RepeatStorage
	newID   IDFunc
	now     func() time.Time

	mu      sync.Mutex
	stopped bool
	timers  map[string]*time.Timer
}

// NewRepeatEngine returns a RepeatEngine. newID generates ids for cloned
// occurrences; a nil value defaults to a random id via the same generator
// jobs normally use.
func NewRepeatEngine(archetype *baseservice.Archetype, store RepeatStorage, newID IDFunc) *RepeatEngine {
	if newID == nil {
		newID = defaultIDFunc
	}

	return baseservice.Init(archetype, &RepeatEngine{
		storage: store,
		newID:   newID,
		now:     time.Now().UTC,
		timers:  make(map[string]*time.Timer),
	})
}

func (e *RepeatEngine) Start(ctx context.Context) error {
	ctx, shouldStart, started, stopped := e.StartInit(ctx)
	if !shouldStart {
		return nil
	}

	started()

	go func() {
		defer stopped()

		<-ctx.Done()

		e.mu.Lock()
		e.stopped = true
		for id, timer := range e.timers {
			timer.Stop()
			delete(e.timers, id)
		}
		e.mu.Unlock()
	}()

	return nil
}

// Schedule arms the next occurrence after job, computed from job's own
// RepeatConfig and RepeatCount. It's a no-op if job has no RepeatConfig, or
// if the recurrence has reached its limit or end date. Called both when a
// repeating job is first admitted and, recursively, every time one of its
// clones fires.
func (e *RepeatEngine) Schedule(ctx context.Context, job *storage.Job) {
	if job.RepeatConfig == nil {
		return
	}

	next, ok := e.computeNext(job)
	if !ok {
		e.TestSignals.Stopped.Signal(job.ID)
		return
	}

	delay := next.Sub(e.now())
	if delay < 0 {
		delay = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}

	e.timers[job.ID] = time.AfterFunc(delay, func() {
		e.fire(ctx, job, next)
	})
}

func (e *RepeatEngine) fire(ctx context.Context, job *storage.Job, runAt time.Time) {
	e.mu.Lock()
	delete(e.timers, job.ID)
	stopped := e.stopped
	e.mu.Unlock()

	if stopped {
		return
	}

	now := e.now()

	clone := job.Clone()
	clone.ID = e.newID()
	clone.Status = storage.StatusPending
	clone.Attempts = 0
	clone.Progress = 0
	clone.RepeatCount = job.RepeatCount + 1
	clone.NextRunAt = runAt
	clone.Result = nil
	clone.Error = ""
	clone.StartedAt = nil
	clone.CompletedAt = nil
	clone.CreatedAt = now
	clone.UpdatedAt = now

	if err := e.storage.AddJob(ctx, clone); err != nil {
		e.Logger.Error(e.Name+": error persisting repeat occurrence",
			slog.String("sourceJobId", job.ID), slog.String("error", err.Error()))
		return
	}

	e.TestSignals.Scheduled.Signal(clone.ID)

	e.Schedule(ctx, clone)
}

// computeNext finds the next instant a job's recurrence should fire at,
// clamped into [StartDate, EndDate] and capped by Limit. The second return
// value is false if the recurrence has nothing left to produce.
func (e *RepeatEngine) computeNext(job *storage.Job) (time.Time, bool) {
	rc := job.RepeatConfig

	if rc.Limit > 0 && job.RepeatCount+1 >= rc.Limit {
		return time.Time{}, false
	}

	now := e.now()

	var next time.Time
	switch {
	case rc.Pattern != "":
		schedule, err := cronschedule.Parse(rc.Pattern)
		if err != nil {
			e.Logger.Error(e.Name+": invalid cron pattern on repeat job",
				slog.String("jobId", job.ID), slog.String("pattern", rc.Pattern), slog.String("error", err.Error()))
			return time.Time{}, false
		}
		next = schedule.Next(now)
	case rc.Every > 0:
		next = now.Add(rc.Every)
	default:
		return time.Time{}, false
	}

	if !rc.StartDate.IsZero() && next.Before(rc.StartDate) {
		next = rc.StartDate
	}
	if !rc.EndDate.IsZero() && next.After(rc.EndDate) {
		return time.Time{}, false
	}

	return next, true
}

func defaultIDFunc() string {
	return uuid.New().String()
}
