package duraq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_InitialStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, StatusDelayed, initialStatus(time.Minute, nil))
	require.Equal(t, StatusDelayed, initialStatus(time.Minute, []string{"a"}))
	require.Equal(t, StatusWaiting, initialStatus(0, []string{"a"}))
	require.Equal(t, StatusPending, initialStatus(0, nil))
}

func Test_Job_Clone(t *testing.T) {
	t.Parallel()

	startedAt := time.Now()
	original := &Job{
		ID:           "job1",
		Payload:      []byte("payload"),
		Result:       []byte("result"),
		DependsOn:    []string{"a", "b"},
		RepeatConfig: &RepeatConfig{Every: time.Minute},
		StartedAt:    &startedAt,
	}

	clone := original.Clone()

	clone.Payload[0] = 'X'
	clone.Result[0] = 'X'
	clone.DependsOn[0] = "changed"
	clone.RepeatConfig.Every = time.Hour
	*clone.StartedAt = startedAt.Add(time.Hour)

	require.Equal(t, byte('p'), original.Payload[0])
	require.Equal(t, byte('r'), original.Result[0])
	require.Equal(t, "a", original.DependsOn[0])
	require.Equal(t, time.Minute, original.RepeatConfig.Every)
	require.Equal(t, startedAt, *original.StartedAt)
}

func Test_Job_DependenciesSatisfied(t *testing.T) {
	t.Parallel()

	job := &Job{DependsOn: []string{"a", "b"}}

	require.False(t, job.DependenciesSatisfied(map[string]struct{}{"a": {}}))
	require.True(t, job.DependenciesSatisfied(map[string]struct{}{"a": {}, "b": {}}))
	require.True(t, (&Job{}).DependenciesSatisfied(nil))
}

func Test_NewID_Unique(t *testing.T) {
	t.Parallel()

	require.NotEqual(t, NewID(), NewID())
}
