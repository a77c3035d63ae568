package m2mencoder

import "fmt"

// State is the lifecycle state of an Encoder.
type State int

const (
	StateUninitialized State = iota
	// StateInitialized means formats, controls and bitstream buffers are
	// set up but the client has not provided an output buffer yet.
	StateInitialized
	StateEncoding
	// StateFlushing means a drain was requested from the device and the
	// last buffer has not been seen yet.
	StateFlushing
	// StateError is terminal. Frames are dropped.
	StateError
	// StateDestroyed is reported after teardown.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitialized:
		return "Initialized"
	case StateEncoding:
		return "Encoding"
	case StateFlushing:
		return "Flushing"
	case StateError:
		return "Error"
	case StateDestroyed:
		return "Destroyed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stats is a snapshot of the encoder counters.
type Stats struct {
	State State
	// FramesSubmitted counts frames accepted by Encode.
	FramesSubmitted uint64
	// FramesDropped counts frames discarded because the encoder failed.
	FramesDropped uint64
	// FramesEncoded counts input buffers returned by the device.
	FramesEncoded uint64
	// BuffersReturned counts BitstreamBufferReady notifications.
	BuffersReturned uint64
	BytesProduced   uint64
	Keyframes       uint64
	// HeaderInjections counts IDR slices that received cached SPS and PPS.
	HeaderInjections int
	FlushesCompleted uint64
}

func (s Stats) String() string {
	return fmt.Sprintf("state=%s submitted=%d dropped=%d encoded=%d returned=%d bytes=%d keyframes=%d injections=%d flushes=%d",
		s.State, s.FramesSubmitted, s.FramesDropped, s.FramesEncoded, s.BuffersReturned,
		s.BytesProduced, s.Keyframes, s.HeaderInjections, s.FlushesCompleted)
}
