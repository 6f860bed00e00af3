package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dura-io/duraq/internal/ipc"
)

// Pool manages up to concurrency worker child processes, creating them
// lazily and reusing idle ones already initialized for the requested
// handler.
type Pool struct {
	concurrency int64
	spawner     Spawner
	logger      *slog.Logger

	sem *semaphore.Weighted

	mu      sync.Mutex
	workers []*Worker
}

// New returns a Pool bounding concurrent executions at concurrency.
func New(concurrency int, spawner Spawner, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		concurrency: int64(concurrency),
		spawner:     spawner,
		logger:      logger,
		sem:         semaphore.NewWeighted(int64(concurrency)),
	}
}

// TryAcquire attempts to reserve a concurrency slot without blocking. The
// caller must call Release exactly once if this returns true, after the
// job it's running for has finished.
func (p *Pool) TryAcquire() bool {
	return p.sem.TryAcquire(1)
}

// Release frees a concurrency slot acquired by TryAcquire.
func (p *Pool) Release() {
	p.sem.Release(1)
}

// Execute runs one job to completion on an idle worker (reusing one
// already initialized for handler, or creating one lazily up to the pool's
// configured concurrency). Callers must have already reserved a slot via
// TryAcquire. timeout, if nonzero, is forwarded to the child so it can
// bound the processor's own context; it does not affect ctx itself.
func (p *Pool) Execute(ctx context.Context, handler, jobID string, payload []byte, timeout time.Duration, onProgress func(int)) (ipc.Result, error) {
	worker, err := p.acquireWorker(ctx, handler)
	if err != nil {
		return ipc.Result{}, err
	}

	return worker.Execute(ctx, jobID, payload, timeout, onProgress)
}

// acquireWorker returns an idle worker initialized for handler, reusing an
// existing one where possible and otherwise creating a new one (up to the
// pool's concurrency, enforced by the semaphore already having been
// acquired by the caller).
func (p *Pool) acquireWorker(ctx context.Context, handler string) (*Worker, error) {
	p.mu.Lock()

	for _, w := range p.workers {
		if !w.IsBusy() && w.IsInitialized() && w.Handler() == handler {
			p.mu.Unlock()
			return w, nil
		}
	}

	for _, w := range p.workers {
		if !w.IsBusy() {
			p.mu.Unlock()
			if err := w.Init(ctx, handler); err != nil {
				return nil, fmt.Errorf("workerpool: reinitializing idle worker: %w", err)
			}
			return w, nil
		}
	}

	if int64(len(p.workers)) >= p.concurrency {
		p.mu.Unlock()
		return nil, fmt.Errorf("workerpool: no idle worker and pool at capacity (%d)", p.concurrency)
	}

	worker := NewWorker(p.spawner, p.logger)
	p.workers = append(p.workers, worker)
	p.mu.Unlock()

	if err := worker.Init(ctx, handler); err != nil {
		return nil, fmt.Errorf("workerpool: initializing new worker: %w", err)
	}
	return worker, nil
}

// Shutdown terminates every worker the pool has created.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	workers := append([]*Worker(nil), p.workers...)
	p.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(workers))
	for _, w := range workers {
		go func(w *Worker) {
			defer wg.Done()
			w.Terminate()
		}(w)
	}
	wg.Wait()
}
