package duraq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Cancel(t *testing.T) {
	t.Parallel()

	cause := errors.New("bad payload")
	err := Cancel(cause)

	require.ErrorIs(t, err, JobCancel)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "bad payload")
}

func Test_ConfigError(t *testing.T) {
	t.Parallel()

	err := configError("Concurrency", errors.New("must be positive"))

	require.ErrorIs(t, err, ErrConfigInvalid)
	require.Contains(t, err.Error(), "Concurrency")
	require.Contains(t, err.Error(), "must be positive")
}

func Test_StorageError(t *testing.T) {
	t.Parallel()

	require.Nil(t, storageError("addJob", nil))

	err := storageError("addJob", errors.New("disk full"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "addJob")
	require.Contains(t, err.Error(), "disk full")

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, "addJob", storageErr.Op)
}
