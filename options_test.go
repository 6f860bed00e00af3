package duraq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_AddOptions(t *testing.T) {
	t.Parallel()

	var opts AddOptions
	for _, apply := range []AddOption{
		WithPriority(5),
		WithDelay(time.Minute),
		WithRepeat(RepeatConfig{Every: time.Hour}),
		WithDependsOn("a", "b"),
		WithJobID("fixed"),
		WithMaxAttempts(7),
		WithTimeout(30 * time.Second),
	} {
		apply(&opts)
	}

	require.Equal(t, 5, opts.Priority)
	require.Equal(t, time.Minute, opts.Delay)
	require.Equal(t, time.Hour, opts.Repeat.Every)
	require.Equal(t, []string{"a", "b"}, opts.DependsOn)
	require.Equal(t, "fixed", opts.JobID)
	require.Equal(t, 7, opts.MaxAttempts)
	require.Equal(t, 30*time.Second, opts.Timeout)
}
