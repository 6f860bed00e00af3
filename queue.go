package duraq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dura-io/duraq/internal/backoff"
	"github.com/dura-io/duraq/internal/baseservice"
	"github.com/dura-io/duraq/internal/dlq"
	"github.com/dura-io/duraq/internal/maintenance"
	"github.com/dura-io/duraq/internal/ratelimit"
	"github.com/dura-io/duraq/internal/scheduler"
	"github.com/dura-io/duraq/internal/startstop"
	"github.com/dura-io/duraq/internal/storage"
	"github.com/dura-io/duraq/internal/workerpool"
)

// Queue is the orchestrator: it owns Storage, the scheduler, the
// maintenance services (stalled sweeper, repeat engine), and the worker
// pool, and drives every job through its lifecycle.
type Queue struct {
	config        *Config
	archetype     *baseservice.Archetype
	store         storage.Storage
	backoffPolicy backoff.Policy
	limiter       *ratelimit.Limiter
	deadLetter    *dlq.View
	events        *eventBus

	sched      *scheduler.Scheduler
	sweeper    *maintenance.StalledSweeper
	repeater   *maintenance.RepeatEngine
	maintainer *maintenance.Maintainer
	pool       *workerpool.Pool

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu                 sync.Mutex
	activeJobs         map[string]struct{}
	completedJobIDs    map[string]struct{}
	shuttingDown       bool
	processingEnabled  bool
}

// New constructs a Queue from config: opens Storage (running crash
// recovery for the file back-end), starts the scheduler and maintenance
// services, and returns a Queue ready for Add and Process.
func New(config *Config) (*Queue, error) {
	config = config.mustValidate()
	if err := config.validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	var store storage.Storage
	switch config.Storage {
	case StorageFile:
		store = storage.NewFile(config.FilePath, config.Logger)
	default:
		store = storage.NewMemory()
	}

	initCtx := context.Background()
	if err := store.Initialize(initCtx); err != nil {
		return nil, storageError("initialize", err)
	}

	archetype := config.newArchetype()

	q := &Queue{
		config:          config,
		archetype:       archetype,
		store:           store,
		backoffPolicy:   config.backoffPolicy(),
		deadLetter:      dlq.New(store, time.Now().UTC),
		events:          newEventBus(),
		activeJobs:      make(map[string]struct{}),
		completedJobIDs: make(map[string]struct{}),
	}

	if config.RateLimiter.Max > 0 {
		q.limiter = ratelimit.New(config.RateLimiter.Max, config.RateLimiter.Duration)
	}

	q.sched = scheduler.New(archetype, store, q.handleReady, q.handleSchedulerError)
	q.sweeper = maintenance.NewStalledSweeper(archetype, store, config.StalledInterval, q.handleStalled)
	q.repeater = maintenance.NewRepeatEngine(archetype, store, nil)
	q.maintainer = maintenance.NewMaintainer(archetype, []startstop.Service{q.sweeper, q.repeater})
	q.pool = workerpool.New(config.Concurrency, &workerpool.ReExecSpawner{}, config.Logger)

	q.baseCtx, q.cancelBase = context.WithCancel(context.Background())

	if err := q.sched.Start(q.baseCtx); err != nil {
		return nil, fmt.Errorf("duraq: starting scheduler: %w", err)
	}
	if err := q.maintainer.Start(q.baseCtx); err != nil {
		return nil, fmt.Errorf("duraq: starting maintenance services: %w", err)
	}

	if err := q.seedCompletedIDs(initCtx); err != nil {
		return nil, err
	}

	return q, nil
}

// seedCompletedIDs populates completedJobIDs from whatever's already
// completed in Storage, so that reopening a file-backed queue doesn't
// forget which dependencies have already been satisfied.
func (q *Queue) seedCompletedIDs(ctx context.Context) error {
	jobs, err := q.store.GetAllJobs(ctx)
	if err != nil {
		return storageError("getAllJobs", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range jobs {
		if job.Status == storage.StatusCompleted {
			q.completedJobIDs[job.ID] = struct{}{}
		}
	}
	return nil
}

// Process enables dispatch: until this is called, jobs offered by the
// scheduler are left pending (admission rule 4, "processor is set").
func (q *Queue) Process() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return ErrShuttingDown
	}
	q.processingEnabled = true
	return nil
}

// AddJobParams is one item of a batch AddMany call.
type AddJobParams struct {
	Handler string
	Payload []byte
	Options []AddOption
}

// Add durably writes a new job and returns its id. handler must name a
// function registered with RegisterProcessor before the job is dispatched
// (it doesn't need to be registered yet at Add time).
func (q *Queue) Add(ctx context.Context, handler string, payload []byte, opts ...AddOption) (string, error) {
	q.mu.Lock()
	shuttingDown := q.shuttingDown
	q.mu.Unlock()
	if shuttingDown {
		return "", ErrShuttingDown
	}

	var options AddOptions
	for _, opt := range opts {
		opt(&options)
	}

	id := options.JobID
	if id == "" {
		id = NewID()
	}

	maxAttempts := options.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = q.config.Retry.MaxAttempts
	}

	now := time.Now().UTC()
	status := initialStatus(options.Delay, options.DependsOn)
	nextRunAt := now
	if options.Delay > 0 {
		nextRunAt = now.Add(options.Delay)
	}

	job := &Job{
		ID:           id,
		Handler:      handler,
		Payload:      payload,
		Status:       status,
		Priority:     options.Priority,
		MaxAttempts:  maxAttempts,
		NextRunAt:    nextRunAt,
		Delay:        options.Delay,
		Timeout:      options.Timeout,
		DependsOn:    options.DependsOn,
		RepeatConfig: options.Repeat,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	storageJob := jobToStorage(job)

	if err := q.store.AddJob(ctx, storageJob); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return "", ErrDuplicateJobID
		}
		return "", storageError("addJob", err)
	}

	switch status {
	case StatusWaiting:
		q.events.publish(&Event{Kind: EventWaiting, Job: job})
	case StatusDelayed:
		q.events.publish(&Event{Kind: EventDelayed, Job: job})
	}

	if job.RepeatConfig != nil {
		q.repeater.Schedule(q.baseCtx, storageJob)
	}

	return id, nil
}

// AddMany inserts a batch of jobs, stopping at and returning the first
// error along with the ids successfully inserted before it.
func (q *Queue) AddMany(ctx context.Context, items []AddJobParams) ([]string, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id, err := q.Add(ctx, item.Handler, item.Payload, item.Options...)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetJob returns a snapshot of a job, or nil if it doesn't exist in the
// main store (completed jobs removed by Clean or RemoveJob, or any job that's
// been moved to the dead-letter queue, return nil here — see GetFailedJobs).
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return nil, storageError("getJob", err)
	}
	return jobFromStorage(job), nil
}

// GetAllJobs returns a snapshot of every job in the main store.
func (q *Queue) GetAllJobs(ctx context.Context) ([]*Job, error) {
	jobs, err := q.store.GetAllJobs(ctx)
	if err != nil {
		return nil, storageError("getAllJobs", err)
	}

	out := make([]*Job, len(jobs))
	for i, job := range jobs {
		out[i] = jobFromStorage(job)
	}
	return out, nil
}

// RemoveJob deletes a job from the main store outright, regardless of its
// status. A no-op if the id isn't present.
func (q *Queue) RemoveJob(ctx context.Context, id string) error {
	q.mu.Lock()
	delete(q.activeJobs, id)
	delete(q.completedJobIDs, id)
	q.mu.Unlock()

	if err := q.store.RemoveCompleted(ctx, []string{id}); err != nil {
		return storageError("removeJob", err)
	}
	return nil
}

// Pause stops the scheduler; jobs already dispatched keep running.
func (q *Queue) Pause() {
	q.sched.Stop()
}

// Resume restarts the scheduler after Pause. A no-op error if the queue is
// shutting down.
func (q *Queue) Resume() error {
	q.mu.Lock()
	if q.shuttingDown {
		q.mu.Unlock()
		return ErrShuttingDown
	}
	q.mu.Unlock()

	return q.sched.Start(q.baseCtx)
}

// Drain blocks until no job is pending, waiting, or delayed and no job is
// in flight, then emits EventDrained once.
func (q *Queue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		done, err := q.isDrained(ctx)
		if err != nil {
			return err
		}
		if done {
			q.events.publish(&Event{Kind: EventDrained})
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) isDrained(ctx context.Context) (bool, error) {
	q.mu.Lock()
	active := len(q.activeJobs)
	q.mu.Unlock()
	if active > 0 {
		return false, nil
	}

	jobs, err := q.store.GetAllJobs(ctx)
	if err != nil {
		return false, storageError("getAllJobs", err)
	}

	for _, job := range jobs {
		switch job.Status {
		case storage.StatusPending, storage.StatusWaiting, storage.StatusDelayed:
			return false, nil
		}
	}
	return true, nil
}

// Clean physically removes completed jobs older than maxAge from the main
// store, and scrubs them from the in-memory completed-dependency index.
// Returns the number removed.
func (q *Queue) Clean(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := maintenance.Clean(ctx, q.store, maxAge, time.Now().UTC(), q.config.Logger)
	if err != nil {
		return 0, storageError("clean", err)
	}

	q.mu.Lock()
	for _, id := range ids {
		delete(q.completedJobIDs, id)
	}
	q.mu.Unlock()

	return len(ids), nil
}

// GetFailedJobs returns a snapshot of the dead-letter queue.
func (q *Queue) GetFailedJobs(ctx context.Context) ([]*Job, error) {
	jobs, err := q.store.GetFailedJobs(ctx)
	if err != nil {
		return nil, storageError("getFailedJobs", err)
	}

	out := make([]*Job, len(jobs))
	for i, job := range jobs {
		out[i] = jobFromStorage(job)
	}
	return out, nil
}

// ReprocessFailed moves a job out of the dead-letter queue and back into
// the main store with attempts and progress reset, ready for the
// scheduler to pick up again. Returns false if id isn't in the DLQ.
func (q *Queue) ReprocessFailed(ctx context.Context, id string) (bool, error) {
	job, err := q.deadLetter.Remove(ctx, id)
	if err != nil {
		return false, storageError("removeFromDeadLetter", err)
	}
	if job == nil {
		return false, nil
	}

	if err := q.store.AddJob(ctx, job); err != nil {
		return false, storageError("addJob", err)
	}
	return true, nil
}

// Stats is a point-in-time snapshot of job counts by status.
type Stats struct {
	Waiting      int
	Delayed      int
	Pending      int
	Processing   int
	Completed    int
	Failed       int
	Stalled      int
	ActiveJobs   int
}

// String renders a human-readable one-line summary, using go-humanize for
// thousands separators the way the teacher's bench tooling formats counts.
func (s Stats) String() string {
	return fmt.Sprintf(
		"waiting=%s delayed=%s pending=%s processing=%s completed=%s failed=%s stalled=%s",
		humanize.Comma(int64(s.Waiting)), humanize.Comma(int64(s.Delayed)), humanize.Comma(int64(s.Pending)),
		humanize.Comma(int64(s.Processing)), humanize.Comma(int64(s.Completed)), humanize.Comma(int64(s.Failed)),
		humanize.Comma(int64(s.Stalled)),
	)
}

// GetStats scans the main and dead-letter stores and tallies a Stats
// snapshot.
func (q *Queue) GetStats(ctx context.Context) (Stats, error) {
	jobs, err := q.store.GetAllJobs(ctx)
	if err != nil {
		return Stats{}, storageError("getAllJobs", err)
	}

	failed, err := q.store.GetFailedJobs(ctx)
	if err != nil {
		return Stats{}, storageError("getFailedJobs", err)
	}

	var stats Stats
	for _, job := range jobs {
		switch job.Status {
		case storage.StatusWaiting:
			stats.Waiting++
		case storage.StatusDelayed:
			stats.Delayed++
		case storage.StatusPending:
			stats.Pending++
		case storage.StatusProcessing:
			stats.Processing++
		case storage.StatusCompleted:
			stats.Completed++
		case storage.StatusStalled:
			stats.Stalled++
		}
	}
	stats.Failed = len(failed)

	q.mu.Lock()
	stats.ActiveJobs = len(q.activeJobs)
	q.mu.Unlock()

	return stats, nil
}

// Subscribe returns a channel of lifecycle events matching kinds (every
// kind if none given) and a cancel func to stop delivery and close the
// channel.
func (q *Queue) Subscribe(kinds ...EventKind) (<-chan *Event, func()) {
	return q.events.Subscribe(0, kinds...)
}

// Shutdown stops accepting new work, tears down the scheduler and
// maintenance services, waits for in-flight jobs to finish, terminates
// every worker, and closes Storage. Idempotent; safe to call more than
// once or concurrently.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.shuttingDown {
		q.mu.Unlock()
		return nil
	}
	q.shuttingDown = true
	q.mu.Unlock()

	q.sched.Stop()
	q.maintainer.Stop()
	q.cancelBase()

wait:
	for {
		q.mu.Lock()
		n := len(q.activeJobs)
		q.mu.Unlock()
		if n == 0 {
			break wait
		}

		select {
		case <-ctx.Done():
			break wait
		case <-time.After(20 * time.Millisecond):
		}
	}

	q.pool.Shutdown()
	q.events.closeAll()

	return storageError("close", q.store.Close(ctx))
}

// handleReady is the scheduler's ReadyFunc: it must not block, so it only
// runs the admission checks and, if admitted, hands the job off to a new
// goroutine for execution.
func (q *Queue) handleReady(job *storage.Job) {
	q.mu.Lock()

	if q.shuttingDown || !q.processingEnabled {
		q.mu.Unlock()
		return
	}
	if _, inFlight := q.activeJobs[job.ID]; inFlight {
		q.mu.Unlock()
		return
	}
	if len(q.activeJobs) >= q.config.Concurrency {
		q.mu.Unlock()
		return
	}
	if _, registered := lookupProcessor(job.Handler); !registered {
		q.mu.Unlock()
		return
	}
	if !dependenciesSatisfied(job.DependsOn, q.completedJobIDs) {
		q.mu.Unlock()
		return
	}
	if q.limiter != nil && !q.limiter.Allow() {
		q.mu.Unlock()
		return
	}
	if !q.pool.TryAcquire() {
		q.mu.Unlock()
		return
	}

	q.activeJobs[job.ID] = struct{}{}
	q.mu.Unlock()

	go q.dispatch(job)
}

func dependenciesSatisfied(dependsOn []string, completed map[string]struct{}) bool {
	for _, id := range dependsOn {
		if _, ok := completed[id]; !ok {
			return false
		}
	}
	return true
}

// progressPatcher is implemented by storage back-ends (currently File)
// that can cheaply patch just the progress field instead of rewriting the
// whole record on every update.
type progressPatcher interface {
	PatchProgress(ctx context.Context, id string, progress int, updatedAt time.Time) error
}

// dispatch runs one admitted job to completion on the worker pool and
// carries it through to its terminal state.
func (q *Queue) dispatch(job *storage.Job) {
	ctx := q.baseCtx

	now := time.Now().UTC()
	job.Status = storage.StatusProcessing
	job.StartedAt = &now
	job.UpdatedAt = now

	if err := q.store.UpdateJob(ctx, job); err != nil {
		q.config.Logger.Error("duraq: persisting dispatch", slog.String("jobId", job.ID), slog.String("error", err.Error()))
		q.releaseActive(job.ID)
		return
	}

	q.events.publish(&Event{Kind: EventActive, Job: jobFromStorage(job)})

	onProgress := func(n int) { q.handleProgress(ctx, job, n) }

	result, err := q.pool.Execute(ctx, job.Handler, job.ID, job.Payload, job.Timeout, onProgress)

	// The terminal event is published, and only then is the concurrency
	// slot released: a waiting job must never be admitted ahead of the
	// completed/failed notification for the job it's behind.
	switch {
	case err != nil:
		// A crashed worker or cancelled context is lifted into the same
		// retry pipeline as any other execution failure (§4.7).
		q.handleFailure(ctx, job, err)
	case result.Success:
		q.handleSuccess(ctx, job, result.Value)
	default:
		procErr := errors.New(result.Error)
		// The processor's error crossed the process boundary as text, so a
		// Cancel-wrapped error is recognised by its message prefix.
		if strings.HasPrefix(result.Error, JobCancel.Error()) {
			procErr = fmt.Errorf("%w%s", JobCancel, strings.TrimPrefix(result.Error, JobCancel.Error()))
		}
		q.handleFailure(ctx, job, procErr)
	}

	q.pool.Release()
	q.releaseActive(job.ID)
}

func (q *Queue) releaseActive(id string) {
	q.mu.Lock()
	delete(q.activeJobs, id)
	q.mu.Unlock()
}

func (q *Queue) handleProgress(ctx context.Context, job *storage.Job, n int) {
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}

	now := time.Now().UTC()

	if patcher, ok := q.store.(progressPatcher); ok {
		if err := patcher.PatchProgress(ctx, job.ID, n, now); err != nil {
			q.config.Logger.Error("duraq: patching progress", slog.String("jobId", job.ID), slog.String("error", err.Error()))
		}
	} else {
		job.Progress = n
		job.UpdatedAt = now
		if err := q.store.UpdateJob(ctx, job); err != nil {
			q.config.Logger.Error("duraq: persisting progress", slog.String("jobId", job.ID), slog.String("error", err.Error()))
		}
	}

	job.Progress = n
	q.events.publish(&Event{Kind: EventProgress, Job: jobFromStorage(job), Progress: n})
}

func (q *Queue) handleSuccess(ctx context.Context, job *storage.Job, value []byte) {
	now := time.Now().UTC()

	job.Status = storage.StatusCompleted
	job.Progress = 100
	job.Result = value
	job.Error = ""
	job.CompletedAt = &now
	job.UpdatedAt = now

	if err := q.store.UpdateJob(ctx, job); err != nil {
		q.config.Logger.Error("duraq: persisting completion", slog.String("jobId", job.ID), slog.String("error", err.Error()))
		return
	}

	q.mu.Lock()
	q.completedJobIDs[job.ID] = struct{}{}
	q.mu.Unlock()

	q.events.publish(&Event{Kind: EventCompleted, Job: jobFromStorage(job)})

	q.promoteWaitingDependents(ctx)
}

func (q *Queue) handleFailure(ctx context.Context, job *storage.Job, procErr error) {
	now := time.Now().UTC()

	job.Attempts++
	job.Error = procErr.Error()
	job.UpdatedAt = now

	if errors.Is(procErr, JobCancel) || job.Attempts >= job.MaxAttempts {
		job.Status = storage.StatusFailed
		if err := q.deadLetter.Add(ctx, job); err != nil {
			q.config.Logger.Error("duraq: moving to dead letter", slog.String("jobId", job.ID), slog.String("error", err.Error()))
			return
		}
		q.events.publish(&Event{Kind: EventFailed, Job: jobFromStorage(job), Err: procErr})
		return
	}

	job.Status = storage.StatusPending
	job.NextRunAt = q.backoffPolicy.NextRunAt(now, job.Attempts)

	if err := q.store.UpdateJob(ctx, job); err != nil {
		q.config.Logger.Error("duraq: persisting retry", slog.String("jobId", job.ID), slog.String("error", err.Error()))
	}
}

// promoteWaitingDependents scans for jobs in StatusWaiting whose
// dependencies are now all completed and flips them to pending, per the
// scan triggered on every successful completion (§4.8).
func (q *Queue) promoteWaitingDependents(ctx context.Context) {
	jobs, err := q.store.GetAllJobs(ctx)
	if err != nil {
		q.config.Logger.Error("duraq: scanning dependents", slog.String("error", err.Error()))
		return
	}

	q.mu.Lock()
	completed := make(map[string]struct{}, len(q.completedJobIDs))
	for id := range q.completedJobIDs {
		completed[id] = struct{}{}
	}
	q.mu.Unlock()

	now := time.Now().UTC()

	for _, job := range jobs {
		if job.Status != storage.StatusWaiting {
			continue
		}
		if !dependenciesSatisfied(job.DependsOn, completed) {
			continue
		}

		job.Status = storage.StatusPending
		job.NextRunAt = now
		job.UpdatedAt = now

		if err := q.store.UpdateJob(ctx, job); err != nil {
			q.config.Logger.Error("duraq: promoting waiting job", slog.String("jobId", job.ID), slog.String("error", err.Error()))
		}
	}
}

func (q *Queue) handleStalled(job *storage.Job) {
	age := "unknown"
	if job.StartedAt != nil {
		age = humanize.Time(*job.StartedAt)
	}
	q.config.Logger.Warn("duraq: job stalled", slog.String("jobId", job.ID), slog.String("startedAt", age))
	q.events.publish(&Event{Kind: EventStalled, Job: jobFromStorage(job)})
}

func (q *Queue) handleSchedulerError(err error) {
	q.events.publish(&Event{Kind: EventError, Err: err})
}
