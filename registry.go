package duraq

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dura-io/duraq/internal/workerpool"
	"github.com/dura-io/duraq/internal/workerproc"
)

// ProcessorJob is the facade a registered processor receives: the job's
// payload plus the progress/log operations the worker protocol allows.
type ProcessorJob = workerproc.Job

// ProcessorFunc processes one job's payload inside a worker child process
// and returns its result, or an error captured into the job's Error field.
// Returning an error wrapped with Cancel sends the job straight to the
// dead-letter queue regardless of remaining attempts.
type ProcessorFunc = workerproc.Handler

var (
	registryMu sync.RWMutex
	registry   = make(map[string]ProcessorFunc)
)

// RegisterProcessor associates a handler name with a function. Jobs added
// with that handler name run fn inside a worker child process — the same
// compiled binary, re-executed in worker mode, so fn must be registered
// identically (same name, equivalent behavior) regardless of whether the
// process is acting as the queue runtime or as a worker.
//
// Typically called from an init function or early in main, before any
// Queue is constructed.
func RegisterProcessor(name string, fn ProcessorFunc) {
	if name == "" {
		panic("duraq: RegisterProcessor name must not be empty")
	}
	if fn == nil {
		panic("duraq: RegisterProcessor fn must not be nil")
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

func lookupProcessor(name string) (ProcessorFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// IsWorkerProcess reports whether this process was re-exec'd in worker
// mode. A library consumer's main should check this before running its own
// logic:
//
//	func main() {
//	    if duraq.IsWorkerProcess() {
//	        if err := duraq.RunWorker(context.Background()); err != nil {
//	            log.Fatal(err)
//	        }
//	        return
//	    }
//	    // ordinary producer/runtime startup
//	}
func IsWorkerProcess() bool {
	return os.Getenv(workerpool.WorkerModeEnv) == "1"
}

// RunWorker hands this process over to the child side of the worker
// protocol: it reads set-processor/execute messages from stdin and writes
// ready/progress/result messages to stdout, dispatching to whatever
// handlers were registered via RegisterProcessor before this call. It
// blocks until the parent closes the pipe or sends terminate.
func RunWorker(ctx context.Context) error {
	logger := slog.Default()
	if err := workerproc.Run(ctx, os.Stdin, os.Stdout, lookupProcessor, logger); err != nil {
		return fmt.Errorf("duraq: running worker: %w", err)
	}
	return nil
}
