package v4l2

import (
	"fmt"
	"time"
)

// BufType identifies a queue of an M2M device.
type BufType uint32

const (
	BufTypeVideoCapture       BufType = 1
	BufTypeVideoOutput        BufType = 2
	BufTypeVideoCaptureMPlane BufType = 9
	BufTypeVideoOutputMPlane  BufType = 10
)

// String returns the videodev2.h name without the prefix.
func (t BufType) String() string {
	switch t {
	case BufTypeVideoCapture:
		return "VIDEO_CAPTURE"
	case BufTypeVideoOutput:
		return "VIDEO_OUTPUT"
	case BufTypeVideoCaptureMPlane:
		return "VIDEO_CAPTURE_MPLANE"
	case BufTypeVideoOutputMPlane:
		return "VIDEO_OUTPUT_MPLANE"
	}
	return fmt.Sprintf("BufType(%d)", uint32(t))
}

// Memory is the way buffer memory is shared with the driver.
type Memory uint32

const (
	MemoryMMAP    Memory = 1
	MemoryUserPtr Memory = 2
	MemoryOverlay Memory = 3
	MemoryDMABuf  Memory = 4
)

func (m Memory) String() string {
	switch m {
	case MemoryMMAP:
		return "MMAP"
	case MemoryUserPtr:
		return "USERPTR"
	case MemoryOverlay:
		return "OVERLAY"
	case MemoryDMABuf:
		return "DMABUF"
	}
	return fmt.Sprintf("Memory(%d)", uint32(m))
}

// BufFlags are the flags of a queued or dequeued buffer.
type BufFlags uint32

const (
	BufFlagMapped   BufFlags = 0x00000001
	BufFlagQueued   BufFlags = 0x00000002
	BufFlagDone     BufFlags = 0x00000004
	BufFlagKeyframe BufFlags = 0x00000008
	BufFlagPFrame   BufFlags = 0x00000010
	BufFlagBFrame   BufFlags = 0x00000020
	BufFlagError    BufFlags = 0x00000040
	BufFlagLast     BufFlags = 0x00100000
)

// Device capability bits reported by QUERYCAP.
const (
	CapVideoM2MMPlane uint32 = 0x00004000
	CapVideoM2M       uint32 = 0x00008000
	CapStreaming      uint32 = 0x04000000
	CapDeviceCaps     uint32 = 0x80000000
)

// EncoderCmd is a VIDIOC_ENCODER_CMD command.
type EncoderCmd uint32

const (
	EncCmdStart  EncoderCmd = 0
	EncCmdStop   EncoderCmd = 1
	EncCmdPause  EncoderCmd = 2
	EncCmdResume EncoderCmd = 3
)

func (c EncoderCmd) String() string {
	switch c {
	case EncCmdStart:
		return "START"
	case EncCmdStop:
		return "STOP"
	case EncCmdPause:
		return "PAUSE"
	case EncCmdResume:
		return "RESUME"
	}
	return fmt.Sprintf("EncoderCmd(%d)", uint32(c))
}

// SelTgtCrop is the crop target of the selection API.
const SelTgtCrop uint32 = 0x0000

// Capability is the decoded result of QUERYCAP.
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
}

// Has reports whether every bit of caps is set in the effective capabilities.
func (c Capability) Has(caps uint32) bool {
	effective := c.Capabilities
	if c.Capabilities&CapDeviceCaps != 0 && c.DeviceCaps != 0 {
		effective = c.DeviceCaps
	}
	return effective&caps == caps
}

// Rect is a v4l2_rect.
type Rect struct {
	Left   int32
	Top    int32
	Width  uint32
	Height uint32
}

func (r Rect) String() string {
	return fmt.Sprintf("%d,%d %dx%d", r.Left, r.Top, r.Width, r.Height)
}

// PlaneFormat describes one memory plane of a multi-planar format.
type PlaneFormat struct {
	SizeImage    uint32
	BytesPerLine uint32
}

// Format is a multi-planar pixel format (v4l2_pix_format_mplane) for one
// queue. Drivers adjust it in place during SetFormat.
type Format struct {
	Type        BufType
	Width       uint32
	Height      uint32
	PixelFormat Fourcc
	Planes      []PlaneFormat
}

func (f Format) String() string {
	return fmt.Sprintf("%s %s %dx%d planes=%v", f.Type, f.PixelFormat, f.Width, f.Height, f.Planes)
}

// Plane is one memory plane of a queued or dequeued buffer.
type Plane struct {
	BytesUsed  uint32
	Length     uint32
	DataOffset uint32
	// MemOffset is the mmap offset for MemoryMMAP buffers.
	MemOffset uint32
	// UserPtr is the backing memory for MemoryUserPtr buffers.
	UserPtr []byte
	// FD is the dmabuf file descriptor for MemoryDMABuf buffers.
	FD int
}

// Buffer is a v4l2_buffer in multi-planar form.
type Buffer struct {
	Index     uint32
	Type      BufType
	Memory    Memory
	Flags     BufFlags
	Sequence  uint32
	Timestamp time.Duration
	Planes    []Plane
}

// IsKeyframe reports whether the driver flagged the buffer as a keyframe.
func (b Buffer) IsKeyframe() bool { return b.Flags&BufFlagKeyframe != 0 }

// IsLast reports whether this is the last buffer of a drain.
func (b Buffer) IsLast() bool { return b.Flags&BufFlagLast != 0 }

// ExtCtrl is a single extended control value.
type ExtCtrl struct {
	ID    uint32
	Value int32
}

func (c ExtCtrl) String() string {
	return fmt.Sprintf("%s=%d", CtrlName(c.ID), c.Value)
}
