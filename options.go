package duraq

import "time"

// AddOptions customizes a single job at Add time. The zero value means:
// default priority, no delay, no recurrence, no dependencies, generated id.
type AddOptions struct {
	// Priority is compared descending at dispatch time; higher runs first.
	Priority int

	// Delay postpones initial eligibility; a job with Delay > 0 starts in
	// StatusDelayed instead of StatusPending or StatusWaiting.
	Delay time.Duration

	// Repeat, if set, arms the repeat-job engine for this job once it's
	// durably written.
	Repeat *RepeatConfig

	// DependsOn lists job ids that must reach StatusCompleted before this
	// job becomes eligible to run.
	DependsOn []string

	// JobID overrides the generated id. Add fails with ErrDuplicateJobID if
	// it's already present in storage.
	JobID string

	// MaxAttempts overrides the queue's configured retry ceiling for this
	// job only. Zero means "use the queue default".
	MaxAttempts int

	// Timeout bounds a single execution attempt with a context deadline
	// applied inside the worker around the processor's call. Zero means no
	// per-job deadline; the processor runs until it returns or the queue
	// shuts down.
	Timeout time.Duration
}

// AddOption mutates an AddOptions under construction. Each Add call starts
// from the zero value and applies every option in order.
type AddOption func(*AddOptions)

func WithPriority(priority int) AddOption {
	return func(o *AddOptions) { o.Priority = priority }
}

func WithDelay(delay time.Duration) AddOption {
	return func(o *AddOptions) { o.Delay = delay }
}

func WithRepeat(repeat RepeatConfig) AddOption {
	return func(o *AddOptions) { o.Repeat = &repeat }
}

func WithDependsOn(ids ...string) AddOption {
	return func(o *AddOptions) { o.DependsOn = ids }
}

func WithJobID(id string) AddOption {
	return func(o *AddOptions) { o.JobID = id }
}

func WithMaxAttempts(maxAttempts int) AddOption {
	return func(o *AddOptions) { o.MaxAttempts = maxAttempts }
}

func WithTimeout(timeout time.Duration) AddOption {
	return func(o *AddOptions) { o.Timeout = timeout }
}
