package interfaces

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/m2mencoder/v4l2"
)

var (
	// ErrNoBufferReady is returned by DequeueBuffer when the queue has no
	// completed buffer (EAGAIN).
	ErrNoBufferReady = errors.New("no buffer ready")

	// ErrUnsupported is returned for operations or controls the device does
	// not implement (ENOTTY/EINVAL on a probe).
	ErrUnsupported = errors.New("operation not supported by device")

	// ErrDeviceClosed is returned by any operation after Close.
	ErrDeviceClosed = errors.New("device closed")
)

// IDevice defines the ioctl-level operations of an M2M encoding device.
type IDevice interface {
	// Open opens a device able to produce the given coded format.
	Open(codec v4l2.Fourcc) error

	// QueryCapabilities returns the QUERYCAP result.
	QueryCapabilities() (v4l2.Capability, error)

	// TryEncoderCommand checks whether cmd is supported without running it.
	TryEncoderCommand(cmd v4l2.EncoderCmd) error

	// EncoderCommand runs cmd (drain stop or restart).
	EncoderCommand(cmd v4l2.EncoderCmd) error

	// SetFormat sets the format of f.Type; the device adjusts f in place.
	SetFormat(f *v4l2.Format) error

	// GetFormat returns the current format of a queue.
	GetFormat(bufType v4l2.BufType) (v4l2.Format, error)

	// SetSelection applies a selection rectangle and returns the one the
	// device actually applied. ErrUnsupported means the selection API is
	// not available and the legacy crop calls must be used.
	SetSelection(bufType v4l2.BufType, target uint32, r v4l2.Rect) (v4l2.Rect, error)

	// SetCrop and GetCrop are the legacy crop calls.
	SetCrop(bufType v4l2.BufType, r v4l2.Rect) error
	GetCrop(bufType v4l2.BufType) (v4l2.Rect, error)

	// RequestBuffers allocates count buffers (0 frees them) and returns the
	// number the device granted.
	RequestBuffers(bufType v4l2.BufType, memory v4l2.Memory, count int) (int, error)

	// MapBuffer returns the memory planes of an MMAP buffer.
	MapBuffer(bufType v4l2.BufType, index int) ([][]byte, error)

	// QueueBuffer hands a buffer to the device.
	QueueBuffer(b *v4l2.Buffer) error

	// DequeueBuffer returns a completed buffer or ErrNoBufferReady.
	DequeueBuffer(bufType v4l2.BufType, memory v4l2.Memory) (v4l2.Buffer, error)

	StreamOn(bufType v4l2.BufType) error
	StreamOff(bufType v4l2.BufType) error

	// SetExtCtrls writes extended controls of one class atomically.
	SetExtCtrls(class uint32, ctrls []v4l2.ExtCtrl) error

	// IsCtrlExposed reports whether the device implements a control.
	IsCtrlExposed(id uint32) bool

	// SetFrameInterval sets the time per frame of a queue (S_PARM).
	SetFrameInterval(bufType v4l2.BufType, numerator, denominator uint32) error

	// PreferredInputFormats lists raw formats the device prefers on its
	// OUTPUT queue, best first.
	PreferredInputFormats() []v4l2.Fourcc

	// Poll waits up to timeout for a buffer to become dequeueable on any
	// queue. It returns false on timeout or Interrupt.
	Poll(timeout time.Duration) (bool, error)

	// Interrupt wakes a concurrent Poll.
	Interrupt() error

	// Close releases the device and every buffer.
	Close() error

	// IsSimulation returns true if this is a simulation implementation
	IsSimulation() bool
}

// DeviceConfig holds configuration for device implementations.
type DeviceConfig struct {
	// UseSimulation selects the in-memory simulated device.
	UseSimulation bool

	// DevicePath is the encoder node, for example /dev/video11. Empty means
	// scan /dev/video* for an M2M encoder of the requested codec.
	DevicePath string

	// PollTimeout bounds a single Poll wait.
	PollTimeout time.Duration
}

// Validate checks the configuration values.
func (c *DeviceConfig) Validate() error {
	if c.PollTimeout <= 0 {
		return fmt.Errorf("poll timeout must be positive, got %v", c.PollTimeout)
	}
	return nil
}
