package m2mencoder

import (
	"errors"
	"fmt"
)

// ErrorKind classifies encoder failures reported through Client.NotifyError.
type ErrorKind int

const (
	// IllegalStateError is a call the encoder cannot honor in its current
	// state, such as a second Flush while one is pending.
	IllegalStateError ErrorKind = iota
	// InvalidArgumentError is a bad configuration, frame or buffer.
	InvalidArgumentError
	// PlatformFailureError is a failure of the device or a collaborator.
	PlatformFailureError
)

func (k ErrorKind) String() string {
	switch k {
	case IllegalStateError:
		return "IllegalState"
	case InvalidArgumentError:
		return "InvalidArgument"
	case PlatformFailureError:
		return "PlatformFailure"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Encoder errors
var (
	// ErrIllegalState is the sentinel of IllegalStateError
	ErrIllegalState = errors.New("illegal state")

	// ErrInvalidArgument is the sentinel of InvalidArgumentError
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPlatformFailure is the sentinel of PlatformFailureError
	ErrPlatformFailure = errors.New("platform failure")
)

// Sentinel returns the sentinel error of k.
func (k ErrorKind) Sentinel() error {
	switch k {
	case IllegalStateError:
		return ErrIllegalState
	case InvalidArgumentError:
		return ErrInvalidArgument
	}
	return ErrPlatformFailure
}

// EncoderError is a classified encoder failure. errors.Is matches both the
// kind sentinel and the wrapped cause.
type EncoderError struct {
	Kind ErrorKind
	// Op is the operation that failed, for example "set formats".
	Op  string
	Err error
}

func newError(kind ErrorKind, op string, err error) *EncoderError {
	return &EncoderError{Kind: kind, Op: op, Err: err}
}

func (e *EncoderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("m2mencoder: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("m2mencoder: %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the kind sentinel and the cause.
func (e *EncoderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.Sentinel()}
	}
	return []error{e.Kind.Sentinel(), e.Err}
}

// KindOf returns the kind of the first EncoderError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ee *EncoderError
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return 0, false
}
