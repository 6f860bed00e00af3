package duraq_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dura-io/duraq"
)

var flakyAttempts atomic.Int32

func init() {
	duraq.RegisterProcessor("flaky", func(ctx context.Context, job duraq.ProcessorJob) ([]byte, error) {
		if flakyAttempts.Add(1) < 3 {
			return nil, errors.New("transient failure")
		}
		return []byte("ok"), nil
	})
}

// Example_retryThenSucceed shows a processor that fails twice before
// succeeding, retried automatically under a fixed backoff.
func Example_retryThenSucceed() {
	ctx := context.Background()

	q, err := duraq.New(&duraq.Config{
		Storage:     duraq.StorageMemory,
		Concurrency: 1,
		Retry: duraq.RetryConfig{
			MaxAttempts:  5,
			BackoffKind:  duraq.BackoffFixed,
			BackoffDelay: 10 * time.Millisecond,
		},
	})
	if err != nil {
		panic(err)
	}
	defer q.Shutdown(ctx)

	if err := q.Process(); err != nil {
		panic(err)
	}

	events, cancel := q.Subscribe(duraq.EventCompleted, duraq.EventFailed)
	defer cancel()

	id, err := q.Add(ctx, "flaky", nil)
	if err != nil {
		panic(err)
	}

	event := waitForJobEvent(events, id, 10*time.Second)

	fmt.Println(event.Kind, "after", event.Job.Attempts, "failed attempts")

	// Output:
	// completed after 2 failed attempts
}
