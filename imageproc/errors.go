package imageproc

import "errors"

// Processor errors
var (
	// ErrUnsupportedFormat indicates a pixel format the processor cannot read or write
	ErrUnsupportedFormat = errors.New("unsupported pixel format")

	// ErrUnsupportedMode indicates none of the requested output modes is available
	ErrUnsupportedMode = errors.New("unsupported output mode")

	// ErrUnsupportedStorage indicates frame memory the processor cannot access
	ErrUnsupportedStorage = errors.New("unsupported storage type")

	// ErrProcessorClosed indicates Process was called after Close
	ErrProcessorClosed = errors.New("image processor closed")
)

// Adapter errors
var (
	// ErrOutputSizeMismatch indicates the processor output cannot feed the device
	ErrOutputSizeMismatch = errors.New("image processor output size incompatible with device input")

	// ErrNoFreeBuffer indicates a conversion was started with an empty free list
	ErrNoFreeBuffer = errors.New("no free image processor output buffer")

	// ErrInvalidIndex indicates a recycled index outside the arena or already free
	ErrInvalidIndex = errors.New("invalid image processor buffer index")
)
