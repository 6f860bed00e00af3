package duraq

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dura-io/duraq/internal/backoff"
	"github.com/dura-io/duraq/internal/baseservice"
	"github.com/dura-io/duraq/internal/util/randutil"
)

// StorageKind selects which Storage back-end a Queue uses.
type StorageKind string

const (
	StorageMemory StorageKind = "memory"
	StorageFile   StorageKind = "file"
)

// BackoffKind selects a queue's retry delay schedule, mirroring
// internal/backoff.Kind at the public API boundary so callers don't need
// to import an internal package to configure it.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

// RetryConfig controls how a failed job is rescheduled.
type RetryConfig struct {
	// MaxAttempts caps the number of execution attempts before a job moves
	// to the dead-letter queue. Defaults to 3.
	MaxAttempts int

	// BackoffKind selects the delay schedule. Defaults to
	// BackoffExponential.
	BackoffKind BackoffKind

	// BackoffDelay is the base delay. Defaults to one second.
	BackoffDelay time.Duration
}

// RateLimiterConfig caps how many jobs may transition to processing within
// a fixed window. The zero value disables rate limiting.
type RateLimiterConfig struct {
	Max      int
	Duration time.Duration
}

// Config configures a Queue at construction time. There is deliberately no
// env/CLI loading here — callers build Config by hand in their own process
// setup.
type Config struct {
	// Storage selects the back-end. Required.
	Storage StorageKind

	// FilePath is the main log path, required iff Storage is StorageFile.
	// The dead-letter log is derived from it (see internal/storage).
	FilePath string

	// Concurrency bounds how many jobs may be in flight at once. Required,
	// must be positive.
	Concurrency int

	// Retry configures the default retry ceiling and backoff schedule
	// applied to jobs that don't override it via AddOptions.
	Retry RetryConfig

	// RateLimiter optionally caps dispatch rate. Zero value: unlimited.
	RateLimiter RateLimiterConfig

	// StalledInterval is both the stalled-sweeper's scan period and the
	// age threshold past which a processing job is considered stalled.
	// Defaults to 30 seconds.
	StalledInterval time.Duration

	// Logger receives structured logs from every internal service. Defaults
	// to slog.Default().
	Logger *slog.Logger
}

func (c *Config) mustValidate() *Config {
	switch c.Storage {
	case StorageMemory, StorageFile:
	case "":
		panic("Config.Storage must be set")
	default:
		panic(fmt.Sprintf("Config.Storage: unknown kind %q", c.Storage))
	}

	if c.Concurrency <= 0 {
		panic("Config.Concurrency must be positive")
	}

	return c
}

// validate checks combinations that depend on user-supplied values rather
// than programmer error, returning ConfigError (wrapping ErrConfigInvalid)
// instead of panicking.
func (c *Config) validate() error {
	if c.Storage == StorageFile && c.FilePath == "" {
		return configError("FilePath", fmt.Errorf("required when Storage is %q", StorageFile))
	}

	if c.Retry.MaxAttempts < 0 {
		return configError("Retry.MaxAttempts", fmt.Errorf("cannot be negative"))
	}

	switch c.Retry.BackoffKind {
	case "", BackoffExponential, BackoffFixed:
	default:
		return configError("Retry.BackoffKind", fmt.Errorf("unknown kind %q", c.Retry.BackoffKind))
	}

	if c.Retry.BackoffDelay < 0 {
		return configError("Retry.BackoffDelay", fmt.Errorf("cannot be negative"))
	}

	if c.RateLimiter.Max < 0 {
		return configError("RateLimiter.Max", fmt.Errorf("cannot be negative"))
	}
	if c.RateLimiter.Max > 0 && c.RateLimiter.Duration <= 0 {
		return configError("RateLimiter.Duration", fmt.Errorf("must be positive when RateLimiter.Max is set"))
	}

	if c.StalledInterval < 0 {
		return configError("StalledInterval", fmt.Errorf("cannot be negative"))
	}

	return nil
}

func (c *Config) withDefaults() *Config {
	cc := *c

	if cc.Retry.MaxAttempts == 0 {
		cc.Retry.MaxAttempts = 3
	}
	if cc.Retry.BackoffKind == "" {
		cc.Retry.BackoffKind = BackoffExponential
	}
	if cc.Retry.BackoffDelay == 0 {
		cc.Retry.BackoffDelay = time.Second
	}
	if cc.StalledInterval == 0 {
		cc.StalledInterval = 30 * time.Second
	}
	if cc.Logger == nil {
		cc.Logger = slog.Default()
	}

	return &cc
}

func (c *Config) backoffPolicy() backoff.Policy {
	kind := backoff.Exponential
	if c.Retry.BackoffKind == BackoffFixed {
		kind = backoff.Fixed
	}
	return backoff.Policy{Kind: kind, Base: c.Retry.BackoffDelay}
}

// newArchetype builds the shared per-Queue baseservice.Archetype: one
// logger, one random source, wired into every long-running service so they
// don't each need their own.
func (c *Config) newArchetype() *baseservice.Archetype {
	return &baseservice.Archetype{
		Logger: c.Logger,
		Rand:   randutil.NewCryptoSeededConcurrentSafeRand(),
		Time:   baseservice.RealTimeGenerator{},
	}
}
