// Package video provides the raw frame model used by the encoder pipeline.
//
// Frames are described by a FrameLayout (pixel format, coded size and
// per-color-plane stride/offset/size) and carry a visible rectangle that
// marks the real image content inside the padded coded area. The package
// also hosts the software building blocks of the image processor: a
// bilinear Scaler and an NV12/I420 Converter.
package video

import (
	"fmt"
	"time"
)

// Size is a width/height pair in pixels.
type Size struct {
	Width  int
	Height int
}

// IsEmpty reports whether either dimension is zero or negative.
func (s Size) IsEmpty() bool { return s.Width <= 0 || s.Height <= 0 }

// Area returns Width*Height.
func (s Size) Area() int { return s.Width * s.Height }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// Rect is a rectangle inside a coded frame.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// NewRect returns a rectangle of the given size anchored at the origin.
func NewRect(size Size) Rect { return Rect{Width: size.Width, Height: size.Height} }

// Size returns the rectangle dimensions.
func (r Rect) Size() Size { return Size{Width: r.Width, Height: r.Height} }

// IsEmpty reports whether the rectangle has no area.
func (r Rect) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y &&
		o.X+o.Width <= r.X+r.Width &&
		o.Y+o.Height <= r.Y+r.Height
}

func (r Rect) String() string {
	return fmt.Sprintf("%d,%d %dx%d", r.X, r.Y, r.Width, r.Height)
}

// StorageType is how a frame's memory is owned.
type StorageType int

const (
	// StorageOwnedMemory is process memory allocated by this package.
	StorageOwnedMemory StorageType = iota
	// StorageShmem is client shared memory mapped into the process.
	StorageShmem
	// StorageDmabuf is an external handle (dmabuf file descriptors).
	StorageDmabuf
)

func (s StorageType) String() string {
	switch s {
	case StorageOwnedMemory:
		return "owned"
	case StorageShmem:
		return "shmem"
	case StorageDmabuf:
		return "dmabuf"
	}
	return fmt.Sprintf("StorageType(%d)", int(s))
}

// IsMappable reports whether frame data can be accessed as process memory.
func (s StorageType) IsMappable() bool {
	return s == StorageOwnedMemory || s == StorageShmem
}

// VideoFrame is a raw frame submitted for encoding.
//
// Data holds one slice per color plane. For contiguous layouts the slices
// are views into a single backing buffer. Dmabuf frames carry one file
// descriptor per memory plane in FDs and may have nil Data.
type VideoFrame struct {
	Layout      FrameLayout
	VisibleRect Rect
	Timestamp   time.Duration
	Storage     StorageType
	Data        [][]byte
	FDs         []int
}

// NewFrame allocates an owned-memory frame for layout.
func NewFrame(layout FrameLayout, visible Rect, timestamp time.Duration) (*VideoFrame, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if !NewRect(layout.CodedSize).Contains(visible) {
		return nil, fmt.Errorf("visible rect %s outside coded size %s", visible, layout.CodedSize)
	}

	data := make([][]byte, len(layout.Planes))
	if layout.MultiPlanar {
		// One memory plane per color plane; offsets are relative to it.
		for i, p := range layout.Planes {
			data[i] = make([]byte, p.Offset+p.Size)[p.Offset:]
		}
	} else {
		total := 0
		for _, p := range layout.Planes {
			if end := p.Offset + p.Size; end > total {
				total = end
			}
		}
		// The capacity of each plane slice runs to the end of the shared
		// backing, so Data[0][:cap(Data[0])] is the whole memory plane.
		backing := make([]byte, total)
		for i, p := range layout.Planes {
			data[i] = backing[p.Offset : p.Offset+p.Size]
		}
	}

	return &VideoFrame{
		Layout:      layout,
		VisibleRect: visible,
		Timestamp:   timestamp,
		Storage:     StorageOwnedMemory,
		Data:        data,
	}, nil
}

// NewI420Frame allocates a packed I420 frame whose visible rect covers the
// whole coded area.
func NewI420Frame(width, height int, timestamp time.Duration) (*VideoFrame, error) {
	size := Size{Width: width, Height: height}
	return NewFrame(NewFrameLayout(PixelFormatI420, size, false), NewRect(size), timestamp)
}

// NewNV12Frame allocates a packed NV12 frame whose visible rect covers the
// whole coded area.
func NewNV12Frame(width, height int, timestamp time.Duration) (*VideoFrame, error) {
	size := Size{Width: width, Height: height}
	return NewFrame(NewFrameLayout(PixelFormatNV12, size, false), NewRect(size), timestamp)
}

// WrapFrame returns a new frame that shares f's memory and layout but has its
// own visible rect and timestamp.
func WrapFrame(f *VideoFrame, visible Rect, timestamp time.Duration) *VideoFrame {
	return &VideoFrame{
		Layout:      f.Layout,
		VisibleRect: visible,
		Timestamp:   timestamp,
		Storage:     f.Storage,
		Data:        f.Data,
		FDs:         f.FDs,
	}
}

// Format returns the frame's pixel format.
func (f *VideoFrame) Format() PixelFormat { return f.Layout.Format }

// CodedSize returns the frame's coded size.
func (f *VideoFrame) CodedSize() Size { return f.Layout.CodedSize }

// Stride returns the stride of color plane i.
func (f *VideoFrame) Stride(i int) int { return f.Layout.Planes[i].Stride }
