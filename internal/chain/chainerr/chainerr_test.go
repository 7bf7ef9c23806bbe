package chainerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSuccessIsNil(t *testing.T) {
	require.NoError(t, New(Success, errors.New("ignored")))
}

func TestIsMatchesWrappedCode(t *testing.T) {
	cause := errors.New("boom")
	err := New(DuplicateBlock, cause)

	require.True(t, Is(err, DuplicateBlock))
	require.False(t, Is(err, OrphanBlock))
	require.ErrorIs(t, err, cause)
}

func TestCodeOfDefaultsToOperationFailedForForeignErrors(t *testing.T) {
	require.Equal(t, Success, CodeOf(nil))
	require.Equal(t, OperationFailed, CodeOf(errors.New("not a chainerr")))
	require.Equal(t, OrphanBlock, CodeOf(New(OrphanBlock, nil)))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := New(InvalidScript, errors.New("bad sig"))
	require.Contains(t, err.Error(), "invalid_script")
	require.Contains(t, err.Error(), "bad sig")
}

func TestCodeStringCoversEveryDefinedCode(t *testing.T) {
	codes := []Code{
		Success, ServiceStopped, DuplicateBlock, OrphanBlock, InsufficientWork,
		InvalidHeader, InvalidBlock, InvalidTransaction, InvalidScript,
		NotFound, OperationFailed, StoreCorrupted, NotImplemented,
	}
	for _, c := range codes {
		require.NotEqual(t, "unknown", c.String(), "code %d missing from String()", c)
	}
	require.Equal(t, "unknown", Code(999).String())
}
