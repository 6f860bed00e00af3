package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is the non-durable Storage back-end. Initialize is a no-op and
// Close only marks the store closed, so later calls fail with ErrClosed;
// everything lives in two maps guarded by a mutex.
type Memory struct {
	mu     sync.Mutex
	closed bool
	main   map[string]*Job
	dead   map[string]*Job
}

var _ Storage = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		main: make(map[string]*Job),
		dead: make(map[string]*Job),
	}
}

func (m *Memory) Initialize(ctx context.Context) error { return nil }

func (m *Memory) AddJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, ok := m.main[job.ID]; ok {
		return ErrAlreadyExists
	}

	m.main[job.ID] = job.Clone()
	return nil
}

func (m *Memory) UpdateJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, ok := m.main[job.ID]; !ok {
		return ErrNotFound
	}

	m.main[job.ID] = job.Clone()
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	return m.main[id].Clone(), nil
}

func (m *Memory) GetAllJobs(ctx context.Context) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	jobs := make([]*Job, 0, len(m.main))
	for _, job := range m.main {
		jobs = append(jobs, job.Clone())
	}
	return jobs, nil
}

func (m *Memory) GetPendingJobs(ctx context.Context, now time.Time) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	var jobs []*Job
	for _, job := range m.main {
		if job.Status == StatusPending && !job.NextRunAt.After(now) {
			jobs = append(jobs, job.Clone())
		}
	}

	sortPending(jobs)
	return jobs, nil
}

func (m *Memory) PromoteDelayed(ctx context.Context, now time.Time) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	var promoted []*Job
	for _, job := range m.main {
		if job.Status != StatusDelayed || job.NextRunAt.After(now) {
			continue
		}

		job.Status = StatusPending
		job.UpdatedAt = now
		promoted = append(promoted, job.Clone())
	}

	return promoted, nil
}

func (m *Memory) MoveToDeadLetter(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	delete(m.main, job.ID)
	m.dead[job.ID] = job.Clone()
	return nil
}

func (m *Memory) GetFailedJobs(ctx context.Context) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	jobs := make([]*Job, 0, len(m.dead))
	for _, job := range m.dead {
		jobs = append(jobs, job.Clone())
	}
	return jobs, nil
}

func (m *Memory) RemoveFromDeadLetter(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	job, ok := m.dead[id]
	if !ok {
		return nil, nil
	}
	delete(m.dead, id)
	return job.Clone(), nil
}

func (m *Memory) RemoveCompleted(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for _, id := range ids {
		delete(m.main, id)
	}
	return nil
}

func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}
