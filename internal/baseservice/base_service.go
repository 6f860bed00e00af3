// Package baseservice contains small struct embeddings for long-running
// "service-like" objects (the scheduler, the stalled-job sweeper, the
// repeat-job engine) so that logging, randomness, and time
// don't have to be wired up individually on each one.
package baseservice

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"reflect"
	"time"

	"github.com/dura-io/duraq/internal/util/randutil"
	"github.com/dura-io/duraq/internal/util/timeutil"
)

// Archetype holds the properties every service needs and that are safe to
// share between them. It's created once near the Queue's entrypoint and
// handed to each service's constructor via Init.
type Archetype struct {
	// Logger is a structured logger, shared as-is by every service Init
	// wires up.
	Logger *slog.Logger

	// Rand is a random source safe for concurrent use, seeded from a
	// cryptographically random seed. It's not itself cryptographically
	// secure and must never be used for anything security sensitive; it
	// exists purely to jitter sleeps and stagger service startup.
	Rand *rand.Rand

	// Time returns the current time. Tests substitute a stub so that
	// deterministic instants can be asserted against.
	Time TimeGenerator
}

// BaseService is embedded by every long-running service. It provides a
// logger, a service name for log prefixes, and small helpers for
// cancellable sleeps.
type BaseService struct {
	Archetype

	// Name identifies the service in log lines, derived from its struct
	// type name by Init.
	Name string
}

// CancellableSleep sleeps for the given duration, returning early if ctx is
// cancelled first.
func (s *BaseService) CancellableSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
	case <-timer.C:
	}
}

// CancellableSleepRandomBetween sleeps a random duration in [min, max),
// returning early if ctx is cancelled. Used to stagger service loops so
// they don't all wake in lockstep.
func (s *BaseService) CancellableSleepRandomBetween(ctx context.Context, min, max time.Duration) {
	if max <= min {
		s.CancellableSleep(ctx, min)
		return
	}
	s.CancellableSleep(ctx, time.Duration(randutil.IntBetween(s.Rand, int(min), int(max))))
}

// MaxAttemptsBeforeResetDefault caps the exponent used by ExponentialBackoff
// so that a long run of failures doesn't produce an absurdly distant sleep.
const MaxAttemptsBeforeResetDefault = 10

// ExponentialBackoff returns a 2**N-second duration (+/- 10% jitter) for
// backing off a service's own retry loop. This is distinct from the job-level backoff
// calculator in internal/backoff, which follows the spec's own formula.
func (s *BaseService) ExponentialBackoff(attempt int) time.Duration {
	seconds := math.Pow(2, float64((attempt-1)%MaxAttemptsBeforeResetDefault))
	seconds += seconds * (s.Rand.Float64()*0.2 - 0.1)
	return timeutil.SecondsAsDuration(seconds)
}

func (s *BaseService) GetBaseService() *BaseService { return s }

type withBaseService interface {
	GetBaseService() *BaseService
}

// Init wires an Archetype into a freshly constructed service, deriving its
// log-line name from the concrete struct's type name.
func Init[TService withBaseService](archetype *Archetype, service TService) TService {
	base := service.GetBaseService()
	base.Logger = archetype.Logger
	base.Name = reflect.TypeOf(service).Elem().Name()
	base.Rand = archetype.Rand
	base.Time = archetype.Time
	return service
}

// TimeGenerator returns the current time. Production code uses
// RealTimeGenerator; tests may substitute a stub for deterministic instants.
type TimeGenerator interface {
	NowUTC() time.Time
}

// RealTimeGenerator is the TimeGenerator used outside of tests.
type RealTimeGenerator struct{}

func (RealTimeGenerator) NowUTC() time.Time { return time.Now().UTC() }
