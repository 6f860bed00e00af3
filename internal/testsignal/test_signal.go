// Package testsignal lets tests observe internal events — a scheduler tick,
// a batch of jobs marked stalled, a repeat-job timer firing — without
// sleeping and hoping, while costing production code nothing when unused.
package testsignal

// Waiter exposes only the waiting half of a TestSignal, so a component that
// wants to let callers observe its signals without being able to fire them
// can accept this narrower interface instead.
type Waiter[T any] interface {
	WaitOrTimeout() T
}

// TestSignal is a buffered channel wrapper a component can embed to let
// tests synchronize on events that are otherwise hard to catch
// deterministically (a periodic tick landing, a batch finishing).
//
// Its zero value is safe to Signal into from production code: the signal is
// simply dropped unless a test has called Init first, so instrumenting a
// service with signals has no effect outside of tests.
type TestSignal[T any] struct {
	c chan T
}

const bufferSize = 50

// Init activates the signal for waiting. Only tests should call this.
func (s *TestSignal[T]) Init() {
	s.c = make(chan T, bufferSize)
}

// Signal records an occurrence. A no-op if Init was never called.
func (s *TestSignal[T]) Signal(val T) {
	if s.c == nil {
		return
	}
	select {
	case s.c <- val:
	default:
	}
}

// WaitOrTimeout blocks until a signal arrives, panicking after 3 seconds.
// Must only be called after Init.
func (s *TestSignal[T]) WaitOrTimeout() T {
	if s.c == nil {
		panic("TestSignal: WaitOrTimeout called without Init")
	}
	return waitOrTimeout(s.c)
}
