// Package workerproc is the child-side half of the worker protocol: it
// runs inside a re-exec'd worker process, receives set-processor/execute
// messages over stdin, and reports ready/progress/result over stdout.
package workerproc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dura-io/duraq/internal/ipc"
)

// Handler processes one job's payload and returns its result, or an error
// captured into the job's error field. Handlers run inside the worker
// child process, isolated from the parent by nothing more than the OS
// process boundary — an uncaught panic here is recovered and reported as a
// processor error rather than killing the process, but resource exhaustion
// (OOM, infinite loop) still only takes down this one child.
type Handler func(ctx context.Context, job Job) ([]byte, error)

// Job is the facade handed to a Handler: the payload plus the two
// operations the protocol allows a running job to perform, progress
// reporting and logging.
type Job struct {
	ID      string
	Payload []byte

	updateProgress func(int)
	logger         *slog.Logger
}

// UpdateProgress reports progress as an integer clamped to [0, 100].
func (j Job) UpdateProgress(n int) {
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	j.updateProgress(n)
}

// Log writes msg to the worker's stderr, tagged with the job id.
func (j Job) Log(msg string) {
	j.logger.Info(msg, "jobId", j.ID)
}

// Lookup resolves a handler by the name the parent sent in set-processor.
type Lookup func(name string) (Handler, bool)

// Run drives the child side of the protocol until r is closed. It never
// returns an error for a missing handler or a handler failure — those are
// reported as ordinary result messages; Run only returns an error for
// transport failures (a malformed message, a broken pipe).
func Run(ctx context.Context, r io.Reader, w io.Writer, lookup Lookup, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	dec := ipc.NewDecoder(r)
	enc := ipc.NewEncoder(w)

	if err := enc.Encode(ipc.Message{Type: ipc.TypeReady}); err != nil {
		return fmt.Errorf("workerproc: sending ready: %w", err)
	}

	var current Handler
	var currentName string

	for {
		msg, err := dec.Decode()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("workerproc: reading message: %w", err)
		}

		switch msg.Type {
		case ipc.TypeSetProcessor:
			handler, ok := lookup(msg.Handler)
			if !ok {
				logger.Error("workerproc: unknown handler", "handler", msg.Handler)
				current = nil
				currentName = msg.Handler
				continue
			}
			current = handler
			currentName = msg.Handler

		case ipc.TypeExecute:
			result := executeOne(ctx, current, currentName, msg, enc, logger)
			if err := enc.Encode(ipc.Message{Type: ipc.TypeResult, JobID: msg.JobID, Result: &result}); err != nil {
				return fmt.Errorf("workerproc: sending result: %w", err)
			}

		case ipc.TypeTerminate:
			return nil
		}
	}
}

// executeOne runs handler against one execute message, recovering from a
// panic and reporting it the same way an ordinary returned error would be.
func executeOne(ctx context.Context, handler Handler, handlerName string, msg ipc.Message, enc *ipc.Encoder, logger *slog.Logger) (result ipc.Result) {
	if handler == nil {
		return ipc.Result{Success: false, Error: fmt.Sprintf("no handler registered for %q", handlerName)}
	}

	defer func() {
		if r := recover(); r != nil {
			result = ipc.Result{Success: false, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	if msg.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(msg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	job := Job{
		ID:      msg.JobID,
		Payload: msg.Payload,
		logger:  logger,
		updateProgress: func(n int) {
			enc.Encode(ipc.Message{Type: ipc.TypeProgress, JobID: msg.JobID, Progress: n})
		},
	}

	value, err := handler(ctx, job)
	if err != nil {
		return ipc.Result{Success: false, Error: err.Error()}
	}
	return ipc.Result{Success: true, Value: value}
}
