// Package startstop provides a small embeddable helper for services that
// background themselves on Start and must be safe to double-start,
// double-stop, and stop-without-start: the scheduler's ticker, the stalled
// job sweeper, and the repeat-job engine all embed
// BaseStartStop rather than reimplementing this bookkeeping each time.
package startstop

import (
	"context"
	"errors"
	"sync"
)

// ErrStop is injected as the cause of a service's context cancellation when
// it's stopped in a controlled way, so that a run loop can tell a deliberate
// Stop apart from the parent context being cancelled out from under it.
var ErrStop = errors.New("service stopped")

// Service is implemented by anything embedding BaseStartStop.
type Service interface {
	Start(ctx context.Context) error

	// Started returns a channel closed once the service has finished
	// starting (or given up and stopped instead).
	Started() <-chan struct{}

	// Stop stops the service and blocks until it's fully torn down. Safe to
	// call on a service that was never started, and safe to call twice.
	Stop()
}

type serviceWithStopped interface {
	Service
	Stopped() <-chan struct{}
}

// BaseStartStop is embedded on a long-running service to give it a
// Start/Stop lifecycle that's race-free and tolerates being stopped without
// ever having started, or stopped twice.
//
// A service's own Start should call StartInit first, bail out if told not
// to start, then spawn its run-loop goroutine and defer a call to the
// returned stopped func as the first defer in that goroutine (so it runs
// last). Stop is provided automatically.
type BaseStartStop struct {
	cancelFunc context.CancelCauseFunc
	mu         sync.Mutex
	started    chan struct{}
	stopped    chan struct{}
}

// StartInit begins a service's startup. It returns a derived context to run
// under, whether the service should actually start (false if it's already
// running), and started/stopped funcs the caller's goroutine must invoke —
// started() once initialization is complete, stopped() deferred first so it
// runs last.
func (s *BaseStartStop) StartInit(ctx context.Context) (context.Context, bool, func(), func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started != nil {
		return ctx, false, nil, nil
	}

	s.started = make(chan struct{})
	s.stopped = make(chan struct{})
	ctx, s.cancelFunc = context.WithCancelCause(ctx)

	closeStartedOnce := sync.OnceFunc(func() { close(s.started) })

	return ctx, true, closeStartedOnce, func() {
		closeStartedOnce() // in case started() was never reached
		close(s.stopped)
	}
}

// Started returns a channel closed once the service has finished starting.
func (s *BaseStartStop) Started() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.started
}

// Stop cancels the service's context and blocks until its run loop reports
// itself stopped. A no-op if the service was never started.
func (s *BaseStartStop) Stop() {
	shouldStop, stopped, finalizeStop := s.StopInit()
	if !shouldStop {
		return
	}

	<-stopped
	finalizeStop()
}

// StopInit is the lower-level half of Stop, useful when a service needs to
// do its own cleanup between cancellation and the final wait.
func (s *BaseStartStop) StopInit() (bool, <-chan struct{}, func()) {
	s.mu.Lock()

	if s.stopped == nil {
		s.mu.Unlock()
		return false, nil, func() {}
	}

	s.cancelFunc(ErrStop)

	return true, s.stopped, func() {
		defer s.mu.Unlock()
		s.started = nil
		s.stopped = nil
	}
}

// Stopped returns a channel that closes once the service has stopped. Must
// be captured before calling Stop, since Stop resets it.
func (s *BaseStartStop) Stopped() <-chan struct{} { return s.stopped }

// StopAllParallel stops every given service concurrently and waits for all
// of them to finish. The maintenance Maintainer uses it to stop the stalled
// sweeper and the repeat engine at once rather than serially.
func StopAllParallel(services []Service) {
	var wg sync.WaitGroup
	wg.Add(len(services))

	for i := range services {
		service := services[i]
		go func() {
			defer wg.Done()
			service.Stop()
		}()
	}

	wg.Wait()
}
