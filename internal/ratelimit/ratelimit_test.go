package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTime struct{ now time.Time }

func (f *fakeTime) NowUTC() time.Time { return f.now }

func TestLimiterAllowsUpToMax(t *testing.T) {
	t.Parallel()

	ft := &fakeTime{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(3, time.Minute)
	l.time = ft

	require.True(t, l.Allow())
	require.True(t, l.Allow())
	require.True(t, l.Allow())
	require.False(t, l.Allow())
}

func TestLimiterResetsAfterWindow(t *testing.T) {
	t.Parallel()

	ft := &fakeTime{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(1, time.Minute)
	l.time = ft

	require.True(t, l.Allow())
	require.False(t, l.Allow())

	ft.now = ft.now.Add(time.Minute)
	require.True(t, l.Allow())
}

func TestLimiterUnlimitedWhenMaxNonPositive(t *testing.T) {
	t.Parallel()

	l := New(0, time.Minute)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow())
	}
	require.Equal(t, -1, l.Remaining())
}

func TestLimiterRemaining(t *testing.T) {
	t.Parallel()

	ft := &fakeTime{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(2, time.Minute)
	l.time = ft

	require.Equal(t, 2, l.Remaining())
	l.Allow()
	require.Equal(t, 1, l.Remaining())
	l.Allow()
	require.Equal(t, 0, l.Remaining())
}
