// Package cronschedule parses 5-field cron expressions and answers "what's
// the next run after this instant" queries for the repeat-job engine.
package cronschedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCron is wrapped into the error returned when a pattern fails to
// parse.
var ErrInvalidCron = errors.New("invalid cron pattern")

// Schedule wraps a parsed cron expression.
type Schedule struct {
	pattern  string
	schedule cron.Schedule
}

// Parse parses a standard 5-field crontab expression (minute hour
// day-of-month month day-of-week). Month and weekday names like "Jan" or
// "Mon" are accepted, as cron.ParseStandard accepts them.
func Parse(pattern string) (*Schedule, error) {
	parsed, err := cron.ParseStandard(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidCron, pattern, err)
	}

	return &Schedule{pattern: pattern, schedule: parsed}, nil
}

// Next returns the smallest instant strictly greater than from that
// satisfies the schedule.
func (s *Schedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// String returns the original pattern text.
func (s *Schedule) String() string {
	return s.pattern
}
