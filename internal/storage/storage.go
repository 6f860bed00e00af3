// Package storage implements the two interchangeable job storage back-ends:
// an in-memory map, and an append-only file log with crash recovery. Both
// satisfy the same Storage interface so the queue runtime never needs to
// know which one it's talking to.
package storage

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned by UpdateJob when the target id has no record in
// the main store.
var ErrNotFound = errors.New("storage: job not found")

// ErrAlreadyExists is returned by AddJob when the id is already present in
// the main store.
var ErrAlreadyExists = errors.New("storage: job already exists")

// ErrClosed is returned by any operation attempted after Close.
var ErrClosed = errors.New("storage: closed")

// Job is the durable record storage persists. It mirrors the public Job
// type field for field but lives in its own package so storage has no
// dependency on the root package (which itself depends on storage).
type Job struct {
	ID       string `json:"id"`
	Handler  string `json:"handler"`
	Payload  []byte `json:"payload,omitempty"`
	Status   string `json:"status"`
	Priority int    `json:"priority"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"maxAttempts"`
	Progress    int `json:"progress"`

	NextRunAt time.Time     `json:"nextRunAt"`
	Delay     time.Duration `json:"delay,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`

	DependsOn []string `json:"dependsOn,omitempty"`

	RepeatConfig *RepeatConfig `json:"repeatConfig,omitempty"`
	RepeatCount  int           `json:"repeatCount,omitempty"`

	Result []byte `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// RepeatConfig mirrors the root package's RepeatConfig so storage stays
// free of a dependency on it.
type RepeatConfig struct {
	Every     time.Duration `json:"every,omitempty"`
	Pattern   string        `json:"pattern,omitempty"`
	Limit     int           `json:"limit,omitempty"`
	StartDate time.Time     `json:"startDate,omitempty"`
	EndDate   time.Time     `json:"endDate,omitempty"`
}

// Clone returns a deep copy, so records handed out never alias storage's
// internal state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}

	clone := *j

	if j.Payload != nil {
		clone.Payload = append([]byte(nil), j.Payload...)
	}
	if j.Result != nil {
		clone.Result = append([]byte(nil), j.Result...)
	}
	if j.DependsOn != nil {
		clone.DependsOn = append([]string(nil), j.DependsOn...)
	}
	if j.RepeatConfig != nil {
		rc := *j.RepeatConfig
		clone.RepeatConfig = &rc
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		clone.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		clone.CompletedAt = &t
	}

	return &clone
}

const (
	StatusWaiting    = "waiting"
	StatusDelayed    = "delayed"
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusStalled    = "stalled"
)

// Storage is the durable job store contract. Both the memory and file
// back-ends implement it identically; the runtime is agnostic to which one
// it holds.
type Storage interface {
	// Initialize opens the back-end and, for the file back-end, performs
	// crash recovery.
	Initialize(ctx context.Context) error

	// AddJob inserts a new record. Fails with ErrAlreadyExists if the id
	// is already present.
	AddJob(ctx context.Context, job *Job) error

	// UpdateJob replaces an existing record. Fails with ErrNotFound if the
	// id is absent.
	UpdateJob(ctx context.Context, job *Job) error

	// GetJob returns a defensive copy of the record, or nil if absent.
	GetJob(ctx context.Context, id string) (*Job, error)

	// GetAllJobs returns a snapshot of every record in the main store.
	GetAllJobs(ctx context.Context) ([]*Job, error)

	// GetPendingJobs returns every pending job whose nextRunAt has
	// elapsed, ordered by ascending nextRunAt.
	GetPendingJobs(ctx context.Context, now time.Time) ([]*Job, error)

	// PromoteDelayed transitions every delayed job whose nextRunAt has
	// elapsed to pending and persists the change, per the lifecycle rule
	// that delayed becomes pending once now >= nextRunAt. Returns the
	// promoted records.
	PromoteDelayed(ctx context.Context, now time.Time) ([]*Job, error)

	// MoveToDeadLetter atomically removes a job from the main store and
	// inserts it into the dead-letter store.
	MoveToDeadLetter(ctx context.Context, job *Job) error

	// GetFailedJobs returns a snapshot of the dead-letter store.
	GetFailedJobs(ctx context.Context) ([]*Job, error)

	// RemoveFromDeadLetter removes a record from the dead-letter store and
	// returns it, or nil if absent.
	RemoveFromDeadLetter(ctx context.Context, id string) (*Job, error)

	// RemoveCompleted physically deletes the given ids from the main
	// store. Used by Clean; this spec resolves the source's ambiguous
	// clean-by-relabeling behavior as outright removal (see DESIGN.md).
	// Ids that don't exist are ignored.
	RemoveCompleted(ctx context.Context, ids []string) error

	// Close flushes and releases resources. Safe to call more than once.
	Close(ctx context.Context) error
}

// sortPending orders jobs by ascending nextRunAt, the ordering
// GetPendingJobs promises; priority ordering is layered on top by the
// scheduler.
func sortPending(jobs []*Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].NextRunAt.Before(jobs[j].NextRunAt)
	})
}
