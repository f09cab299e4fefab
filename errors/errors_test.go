package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosedErrorWithoutCause(t *testing.T) {
	err := &ClosedError{}

	assert.ErrorIs(t, err, ErrClosedPrematurely)
	assert.NoError(t, errors.Unwrap(err))
	assert.Equal(t, "dicom: connection closed prematurely", err.Error())
}

func TestClosedErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := &ClosedError{Cause: cause}

	assert.ErrorIs(t, err, ErrClosedPrematurely)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset by peer")

	var closed *ClosedError
	require.ErrorAs(t, error(err), &closed)
	assert.Same(t, cause, closed.Cause)
}

func TestNetworkError(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewNetworkError("dial", inner)

	assert.Equal(t, "dial", err.Op)
	assert.ErrorIs(t, err, inner)
	assert.NotEmpty(t, err.Error())
}

func TestPDUError(t *testing.T) {
	err := NewPDUError(0x04, "truncated PDV item")

	assert.Equal(t, byte(0x04), err.PDUType)
	assert.Contains(t, err.Error(), "truncated PDV item")
}
