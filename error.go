package duraq

import (
	"errors"
	"fmt"
)

// ErrShuttingDown is returned by Add and AddMany once Shutdown has been
// called; the queue refuses new work while tearing down.
var ErrShuttingDown = errors.New("duraq: queue is shutting down")

// ErrDuplicateJobID is returned by Add when the caller supplies a JobID
// that's already present in storage.
var ErrDuplicateJobID = errors.New("duraq: job id already exists")

// ErrProcessorNotRegistered names the case of a job whose handler name has
// no corresponding RegisterProcessor call in this binary. The Queue does not
// return it: Add accepts such a job, and the scheduler leaves it pending.
var ErrProcessorNotRegistered = errors.New("duraq: no processor registered for handler")

// JobCancel, when returned (optionally wrapped) by a processor, forces the
// job straight to the dead-letter queue regardless of remaining attempts.
// Wrap an underlying cause with Cancel so both errors.Is(err, JobCancel)
// and the original message survive into job.Error.
var JobCancel = errors.New("duraq: job cancelled by processor")

// Cancel wraps err so that a processor can force immediate dead-lettering
// instead of waiting out the normal retry ceiling.
//
//	return nil, duraq.Cancel(fmt.Errorf("payload missing required field"))
func Cancel(err error) error {
	return fmt.Errorf("%w: %w", JobCancel, err)
}

// ConfigError reports a problem with a Config at construction time.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("duraq: invalid config field %q: %s", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ErrConfigInvalid is the sentinel ConfigError wraps, for errors.Is checks
// that don't care which field was at fault.
var ErrConfigInvalid = errors.New("duraq: invalid config")

func configError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf("%w: %w", ErrConfigInvalid, err)}
}

// StorageError wraps a failure from the Storage back-end with the
// operation that triggered it, following the teacher's Op/Err error-struct
// idiom rather than bare fmt.Errorf strings at the package boundary.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("duraq: storage %s: %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
