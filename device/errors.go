package device

import "errors"

// Queue errors
var (
	// ErrFormatRejected indicates the device replaced the requested fourcc
	ErrFormatRejected = errors.New("device rejected pixel format")

	// ErrAlreadyAllocated indicates buffers must be freed first
	ErrAlreadyAllocated = errors.New("buffers already allocated")

	// ErrStreaming indicates the operation is not allowed while streaming
	ErrStreaming = errors.New("queue is streaming")

	// ErrBufferConsumed indicates a WritableBuffer was queued twice
	ErrBufferConsumed = errors.New("buffer already queued")
)

// Negotiation errors
var (
	// ErrNoSupportedFormat indicates every candidate format was rejected
	ErrNoSupportedFormat = errors.New("no supported input format")

	// ErrSizeNotSupported indicates the coded size cannot hold the visible size
	ErrSizeNotSupported = errors.New("visible size exceeds device coded size")

	// ErrInvalidCrop indicates the device applied an empty visible rectangle
	ErrInvalidCrop = errors.New("invalid crop rectangle")
)

// ErrPollerRunning indicates StartPolling was called twice
var ErrPollerRunning = errors.New("poller already running")
