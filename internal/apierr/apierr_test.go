package apierr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessageIncludesCauseWhenWrapped(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(StorageUnavailable, "put object photos/1.jpg", cause)

	require.Contains(t, err.Error(), string(StorageUnavailable))
	require.Contains(t, err.Error(), "put object photos/1.jpg")
	require.Contains(t, err.Error(), "connection refused")
}

func TestErrorMessageOmitsCauseWhenNew(t *testing.T) {
	err := New(NotFound, "hive 7 not registered")
	require.Equal(t, "NOT_FOUND: hive 7 not registered", err.Error())
}

func TestUnwrapExposesCauseForErrorsIs(t *testing.T) {
	sentinel := errors.New("sqlite busy")
	err := Wrap(DBBusy, "insert reading", sentinel)
	require.True(t, errors.Is(err, sentinel))
}

func TestWithDetailsAttachesStructuredContext(t *testing.T) {
	err := New(Validation, "temp_c out of range").WithDetails(map[string]any{"temp_c": 85.0})
	require.Equal(t, 85.0, err.Details["temp_c"])
}

func TestErrorsAsRecoversConcreteCode(t *testing.T) {
	var err error = Wrap(StorageFull, "write photo", errors.New("no space left on device"))

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, StorageFull, apiErr.Code)
}
