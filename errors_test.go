package m2mencoder

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncoderError_Is(t *testing.T) {
	cause := errors.New("ioctl failed")
	tests := []struct {
		name     string
		kind     ErrorKind
		sentinel error
	}{
		{"illegal state", IllegalStateError, ErrIllegalState},
		{"invalid argument", InvalidArgumentError, ErrInvalidArgument},
		{"platform failure", PlatformFailureError, ErrPlatformFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", newError(tt.kind, "set formats", cause))
			assert.ErrorIs(t, err, tt.sentinel)
			assert.ErrorIs(t, err, cause)

			kind, ok := KindOf(err)
			assert.True(t, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestEncoderError_Message(t *testing.T) {
	err := newError(PlatformFailureError, "queue input buffer", errors.New("busy"))
	assert.Equal(t, "m2mencoder: queue input buffer: PlatformFailure: busy", err.Error())

	bare := newError(PlatformFailureError, "dequeue output buffer", nil)
	assert.Equal(t, "m2mencoder: dequeue output buffer: PlatformFailure", bare.Error())
	assert.ErrorIs(t, bare, ErrPlatformFailure)
}

func TestKindOf_NotEncoderError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
	_, ok = KindOf(nil)
	assert.False(t, ok)
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "IllegalState", IllegalStateError.String())
	assert.Equal(t, "ErrorKind(9)", ErrorKind(9).String())
	assert.Equal(t, ErrPlatformFailure, ErrorKind(9).Sentinel())
}
