package workerpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dura-io/duraq/internal/ipc"
)

// WorkerInitTimeout is the hard deadline for a freshly spawned child to send
// its "ready" message. A var rather than a const so tests can shrink it.
var WorkerInitTimeout = 5 * time.Second

// TerminateGrace is how long Terminate waits for a graceful exit before
// escalating to a hard kill. A var rather than a const so tests can shrink
// it.
var TerminateGrace = 5 * time.Second

// ErrWorkerInitTimeout is returned by Init if the child doesn't report
// ready in time.
var ErrWorkerInitTimeout = errors.New("workerpool: worker init timeout")

// ErrWorkerCrashed marks an execution result that failed because the child
// exited mid-job rather than returning a normal result.
var ErrWorkerCrashed = errors.New("workerpool: worker crashed")

// Spawner starts a single child process for one worker. Production code
// uses ReExecSpawner (re-executing the running binary in worker mode);
// tests substitute a fake that runs an in-process stand-in.
type Spawner interface {
	Spawn(ctx context.Context) (Child, error)
}

// Child is one running worker process: a stdin writer, stdout reader, and
// a way to wait for or force its exit.
type Child interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Wait() error
	Kill() error
}

// Worker owns one long-lived child process and the handler it was
// initialized with. It processes at most one job at a time.
type Worker struct {
	spawner Spawner
	logger  *slog.Logger

	mu          sync.Mutex
	child       Child
	enc         *ipc.Encoder
	busy        bool
	initialized bool
	handler     string
	pending     map[string]pendingCallback

	crashedCh chan struct{} // closed if the child process exits unexpectedly
}

// NewWorker returns an uninitialized Worker. Init must be called, with a
// handler name, before Execute.
func NewWorker(spawner Spawner, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{spawner: spawner, logger: logger, pending: make(map[string]pendingCallback)}
}

// IsBusy reports whether the worker is mid-execution.
func (w *Worker) IsBusy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// IsInitialized reports whether the worker has a live child process ready
// to execute jobs for its current handler.
func (w *Worker) IsInitialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initialized
}

// Handler returns the name the worker was last initialized with, or "" if
// never initialized.
func (w *Worker) Handler() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handler
}

// Init spawns a fresh child process (terminating any child the worker
// already has), waits up to WorkerInitTimeout for the child's ready
// message, and then sends it a set-processor message for handler. A no-op
// if the worker is already initialized for handler.
func (w *Worker) Init(ctx context.Context, handler string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.initialized && w.handler == handler {
		return nil
	}

	if w.child != nil {
		w.killLocked()
	}

	child, err := w.spawner.Spawn(ctx)
	if err != nil {
		return fmt.Errorf("workerpool: spawning worker: %w", err)
	}

	enc := ipc.NewEncoder(child.Stdin())
	dec := ipc.NewDecoder(child.Stdout())

	readyCh := make(chan error, 1)
	go func() {
		msg, err := dec.Decode()
		if err != nil {
			readyCh <- err
			return
		}
		if msg.Type != ipc.TypeReady {
			readyCh <- fmt.Errorf("workerpool: expected ready, got %q", msg.Type)
			return
		}
		readyCh <- nil
	}()

	select {
	case err := <-readyCh:
		if err != nil {
			child.Kill()
			return fmt.Errorf("workerpool: waiting for ready: %w", err)
		}
	case <-time.After(WorkerInitTimeout):
		child.Kill()
		return ErrWorkerInitTimeout
	}

	if err := enc.Encode(ipc.Message{Type: ipc.TypeSetProcessor, Handler: handler}); err != nil {
		child.Kill()
		return fmt.Errorf("workerpool: sending set-processor: %w", err)
	}

	crashedCh := make(chan struct{})
	go func() {
		_ = child.Wait()
		close(crashedCh)
	}()

	w.child = child
	w.enc = enc
	w.handler = handler
	w.initialized = true
	w.crashedCh = crashedCh

	go w.readLoop(dec)

	return nil
}

// Execute runs one job on the worker's child process, streaming progress
// updates to onProgress, and returns the final result. Only one job may be
// in flight on a worker at a time; callers are responsible for that
// invariant (the pool enforces it by only dispatching to idle workers).
// timeout, if nonzero, is sent along with the job so the child can apply
// its own context deadline around the processor call.
func (w *Worker) Execute(ctx context.Context, jobID string, payload []byte, timeout time.Duration, onProgress func(int)) (ipc.Result, error) {
	w.mu.Lock()
	if !w.initialized {
		w.mu.Unlock()
		return ipc.Result{}, errors.New("workerpool: worker not initialized")
	}
	w.busy = true
	enc := w.enc
	crashedCh := w.crashedCh
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.busy = false
		w.mu.Unlock()
	}()

	resultCh := make(chan ipc.Result, 1)

	w.mu.Lock()
	w.pending[jobID] = pendingCallback{resultCh: resultCh, onProgress: onProgress}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.pending, jobID)
		w.mu.Unlock()
	}()

	if err := enc.Encode(ipc.Message{Type: ipc.TypeExecute, JobID: jobID, Payload: payload, TimeoutMS: timeout.Milliseconds()}); err != nil {
		return ipc.Result{}, fmt.Errorf("workerpool: sending execute: %w", err)
	}

	select {
	case result := <-resultCh:
		return result, nil
	case <-crashedCh:
		w.mu.Lock()
		w.initialized = false
		w.mu.Unlock()
		return ipc.Result{}, ErrWorkerCrashed
	case <-ctx.Done():
		return ipc.Result{}, ctx.Err()
	}
}

type pendingCallback struct {
	resultCh   chan ipc.Result
	onProgress func(int)
}

// readLoop consumes progress and result messages from the child for as
// long as it's alive, routing them to whichever Execute call is waiting on
// that job id.
func (w *Worker) readLoop(dec *ipc.Decoder) {
	for {
		msg, err := dec.Decode()
		if err != nil {
			return
		}

		switch msg.Type {
		case ipc.TypeProgress:
			w.mu.Lock()
			cb, ok := w.pending[msg.JobID]
			w.mu.Unlock()
			if ok && cb.onProgress != nil {
				cb.onProgress(msg.Progress)
			}

		case ipc.TypeResult:
			w.mu.Lock()
			cb, ok := w.pending[msg.JobID]
			w.mu.Unlock()
			if ok {
				result := ipc.Result{}
				if msg.Result != nil {
					result = *msg.Result
				}
				cb.resultCh <- result
			}
		}
	}
}

// Terminate sends a graceful kill and escalates to a hard kill after
// TerminateGrace. A no-op on an uninitialized worker.
func (w *Worker) Terminate() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.child == nil {
		return
	}

	w.killLocked()
}

// killLocked asks the child to exit by closing its stdin (the child's
// protocol loop returns on EOF), and hard-kills it if it hasn't exited
// within TerminateGrace. Caller must hold w.mu.
func (w *Worker) killLocked() {
	child := w.child
	crashedCh := w.crashedCh

	child.Stdin().Close()

	select {
	case <-crashedCh:
	case <-time.After(TerminateGrace):
		child.Kill()
	}

	w.child = nil
	w.enc = nil
	w.initialized = false
}
