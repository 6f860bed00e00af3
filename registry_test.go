package duraq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_RegisterProcessor_LookupRoundTrip(t *testing.T) {
	t.Parallel()

	RegisterProcessor("test-registry-roundtrip", func(ctx context.Context, job ProcessorJob) ([]byte, error) {
		return job.Payload, nil
	})

	fn, ok := lookupProcessor("test-registry-roundtrip")
	require.True(t, ok)
	require.NotNil(t, fn)

	_, ok = lookupProcessor("test-registry-never-registered")
	require.False(t, ok)
}

func Test_RegisterProcessor_PanicsOnInvalidArgs(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() { RegisterProcessor("", func(context.Context, ProcessorJob) ([]byte, error) { return nil, nil }) })
	require.Panics(t, func() { RegisterProcessor("name-only", nil) })
}
