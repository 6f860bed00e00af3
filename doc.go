/*
Package duraq is an embeddable, single-node durable job queue.

A Queue accepts jobs with an opaque byte payload and a named handler,
persists them before returning, and dispatches them to worker child
processes under a configurable concurrency limit. It supports delayed and
recurring jobs, dependency ordering between jobs, rate limiting,
automatic retry with backoff, stalled-job detection, and a
dead-letter queue for jobs that exhaust their attempts.

# Registering processors

Before any Queue is constructed, register a function for every handler
name jobs will be added with:

	func init() {
		duraq.RegisterProcessor("resize-image", func(ctx context.Context, job duraq.ProcessorJob) ([]byte, error) {
			var args resizeArgs
			if err := json.Unmarshal(job.Payload, &args); err != nil {
				return nil, err
			}
			// ... do the work, optionally calling job.UpdateProgress along the way ...
			return json.Marshal(result{Path: outputPath})
		})
	}

Handlers run inside a re-exec'd worker child process, not inside the
process that called Add — this is what isolates a panicking or hung
handler from the runtime driving the queue. Because of that, main must
give the worker a chance to take over before doing anything else:

	func main() {
		if duraq.IsWorkerProcess() {
			if err := duraq.RunWorker(context.Background()); err != nil {
				log.Fatal(err)
			}
			return
		}
		// ordinary startup: construct a Queue, call Process, Add some jobs ...
	}

# Constructing a queue

	q, err := duraq.New(&duraq.Config{
		Storage:     duraq.StorageFile,
		FilePath:    "jobs.log",
		Concurrency: 4,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer q.Shutdown(context.Background())

	if err := q.Process(); err != nil {
		log.Fatal(err)
	}

# Adding jobs

	id, err := q.Add(ctx, "resize-image", payload,
		duraq.WithPriority(10),
		duraq.WithDelay(5*time.Minute),
	)

A job may depend on others completing first:

	id, err := q.Add(ctx, "publish-report", payload, duraq.WithDependsOn(aggregateID, renderID))

And it may recur, either at a fixed interval or on a cron schedule:

	id, err := q.Add(ctx, "sync-inventory", nil, duraq.WithRepeat(duraq.RepeatConfig{Pattern: "0 * * * *"}))

# Observing lifecycle events

	events, cancel := q.Subscribe(duraq.EventCompleted, duraq.EventFailed)
	defer cancel()

	for event := range events {
		fmt.Println(event.Kind, event.Job.ID)
	}

# Dead-letter queue

A job that exhausts Config.Retry.MaxAttempts, or whose processor returns
an error wrapped with [Cancel], moves to the dead-letter queue instead of
being rescheduled. Use GetFailedJobs to inspect it and ReprocessFailed to
move an entry back into circulation.
*/
package duraq
