package duraq_test

import (
	"context"
	"fmt"
	"time"

	"github.com/dura-io/duraq"
)

func init() {
	duraq.RegisterProcessor("step", func(ctx context.Context, job duraq.ProcessorJob) ([]byte, error) {
		return job.Payload, nil
	})
}

// Example_dependencyChain shows a job that waits for another to complete
// before it becomes eligible to run.
func Example_dependencyChain() {
	ctx := context.Background()

	q, err := duraq.New(&duraq.Config{
		Storage:     duraq.StorageMemory,
		Concurrency: 2,
	})
	if err != nil {
		panic(err)
	}
	defer q.Shutdown(ctx)

	if err := q.Process(); err != nil {
		panic(err)
	}

	events, cancel := q.Subscribe(duraq.EventCompleted)
	defer cancel()

	firstID, err := q.Add(ctx, "step", []byte("first"))
	if err != nil {
		panic(err)
	}
	secondID, err := q.Add(ctx, "step", []byte("second"), duraq.WithDependsOn(firstID))
	if err != nil {
		panic(err)
	}

	waitForJobEvent(events, firstID, 10*time.Second)
	second := waitForJobEvent(events, secondID, 10*time.Second)

	fmt.Println(string(second.Job.Result))

	// Output:
	// second
}
