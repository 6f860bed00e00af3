// Package dlq is a thin read/reset projection over storage.Storage's
// dead-letter store, matching the queue runtime's dead-letter view.
package dlq

import (
	"context"
	"time"

	"github.com/dura-io/duraq/internal/storage"
)

// View wraps a Storage for dead-letter specific operations.
type View struct {
	storage storage.Storage
	now     func() time.Time
}

// New returns a View over the given storage.
func New(store storage.Storage, now func() time.Time) *View {
	return &View{storage: store, now: now}
}

// Add moves a job into the dead-letter store.
func (v *View) Add(ctx context.Context, job *storage.Job) error {
	return v.storage.MoveToDeadLetter(ctx, job)
}

// Remove takes a job out of the dead-letter store and returns a reset copy
// ready for the caller to re-insert into the main store: attempts and
// progress zeroed, status pending, nextRunAt now, timestamps for the prior
// run cleared.
func (v *View) Remove(ctx context.Context, id string) (*storage.Job, error) {
	job, err := v.storage.RemoveFromDeadLetter(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	now := v.now()

	job.Attempts = 0
	job.Status = storage.StatusPending
	job.NextRunAt = now
	job.Progress = 0
	job.Error = ""
	job.Result = nil
	job.StartedAt = nil
	job.CompletedAt = nil
	job.UpdatedAt = now

	return job, nil
}

// Count returns the number of jobs currently in the dead-letter store.
func (v *View) Count(ctx context.Context) (int, error) {
	jobs, err := v.storage.GetFailedJobs(ctx)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

// Clear removes every job from the dead-letter store.
func (v *View) Clear(ctx context.Context) error {
	jobs, err := v.storage.GetFailedJobs(ctx)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if _, err := v.storage.RemoveFromDeadLetter(ctx, job.ID); err != nil {
			return err
		}
	}
	return nil
}
