package duraq

import (
	"time"

	"github.com/google/uuid"
)

// Status is a job's position in its lifecycle: a new job starts waiting,
// delayed or pending, becomes processing when dispatched, and ends completed
// or, once moved to the dead-letter queue, failed. The stalled sweeper marks
// a processing job that has run too long as stalled.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusDelayed    Status = "delayed"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusStalled    Status = "stalled"
)

// RepeatConfig describes a job's recurrence. Exactly one of Every or
// Pattern should be set; Pattern (a 5-field cron expression) takes
// precedence if both are present.
type RepeatConfig struct {
	// Every schedules the next occurrence at a fixed offset from now.
	Every time.Duration `json:"every,omitempty"`

	// Pattern is a 5-field cron expression (minute hour dom month dow).
	Pattern string `json:"pattern,omitempty"`

	// Limit caps the number of instances this recurrence will produce.
	// Zero means unlimited.
	Limit int `json:"limit,omitempty"`

	// StartDate and EndDate clamp the window during which occurrences may
	// fire. Zero values mean unbounded.
	StartDate time.Time `json:"startDate,omitempty"`
	EndDate   time.Time `json:"endDate,omitempty"`
}

// Job is the durable unit of work tracked by Storage. Payload is an opaque,
// JSON-serializable value handed back to the processor verbatim.
type Job struct {
	ID       string `json:"id"`
	Handler  string `json:"handler"`
	Payload  []byte `json:"payload"`
	Status   Status `json:"status"`
	Priority int    `json:"priority"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"maxAttempts"`
	Progress    int `json:"progress"`

	NextRunAt time.Time     `json:"nextRunAt"`
	Delay     time.Duration `json:"delay,omitempty"`

	// Timeout, if nonzero, bounds a single execution attempt: the worker
	// derives a context deadline from it around the processor's call. It
	// does not affect stalled-job detection, which watches wall-clock time
	// spent in StatusProcessing independent of any per-job deadline.
	Timeout time.Duration `json:"timeout,omitempty"`

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

// NewID generates a random 128-bit job identifier. Callers may supply their
// own id instead via AddOptions.JobID.
func NewID() string {
	return uuid.New().String()
}

// initialStatus picks a job's status at construction time, per the
// lifecycle rules: a delay takes priority over unmet dependencies, which in
// turn take priority over immediate eligibility.
func initialStatus(delay time.Duration, dependsOn []string) Status {
	switch {
	case delay > 0:
		return StatusDelayed
	case len(dependsOn) > 0:
		return StatusWaiting
	default:
		return StatusPending
	}
}

// Clone returns a deep copy of the job so that callers and Storage never
// share mutable state through a returned pointer.
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

// DependenciesSatisfied reports whether every id in DependsOn is present in
// the completed set.
func (j *Job) DependenciesSatisfied(completed map[string]struct{}) bool {
	for _, id := range j.DependsOn {
		if _, ok := completed[id]; !ok {
			return false
		}
	}
	return true
}
