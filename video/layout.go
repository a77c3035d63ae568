package video

import (
	"errors"
	"fmt"
)

// PixelFormat is a raw pixel format as seen by clients.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	// PixelFormatI420 is planar 4:2:0: Y, then Cb, then Cr.
	PixelFormatI420
	// PixelFormatNV12 is semi-planar 4:2:0: Y, then interleaved CbCr.
	PixelFormatNV12
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	}
	return "UNKNOWN"
}

// ParsePixelFormat accepts the names returned by String in upper or lower
// case, and the YU12 fourcc for I420.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch s {
	case "I420", "i420", "YU12":
		return PixelFormatI420, nil
	case "NV12", "nv12":
		return PixelFormatNV12, nil
	}
	return PixelFormatUnknown, fmt.Errorf("unknown pixel format %q", s)
}

// NumPlanes returns the number of color planes.
func (p PixelFormat) NumPlanes() int {
	switch p {
	case PixelFormatI420:
		return 3
	case PixelFormatNV12:
		return 2
	}
	return 0
}

// PlaneSize returns the size of color plane i for a coded size, expressed
// as row width in bytes by number of rows.
func (p PixelFormat) PlaneSize(i int, coded Size) Size {
	if i == 0 {
		return coded
	}
	chroma := Size{Width: (coded.Width + 1) / 2, Height: (coded.Height + 1) / 2}
	if p == PixelFormatNV12 {
		chroma.Width *= 2
	}
	return chroma
}

// AllocationSize returns the number of bytes of a tightly packed frame.
func (p PixelFormat) AllocationSize(coded Size) int {
	total := 0
	for i := 0; i < p.NumPlanes(); i++ {
		total += p.PlaneSize(i, coded).Area()
	}
	return total
}

// AlignedSize rounds a visible size up to what the format can represent:
// 4:2:0 formats need even dimensions.
func (p PixelFormat) AlignedSize(visible Size) Size {
	return Size{Width: (visible.Width + 1) &^ 1, Height: (visible.Height + 1) &^ 1}
}

// ColorPlaneLayout is the placement of one color plane.
type ColorPlaneLayout struct {
	Stride int
	Offset int
	Size   int
}

// FrameLayout describes the memory layout of a frame.
type FrameLayout struct {
	Format    PixelFormat
	CodedSize Size
	Planes    []ColorPlaneLayout
	// MultiPlanar is true when each color plane is a separate memory plane.
	MultiPlanar bool
}

// NewFrameLayout returns a tightly packed layout: each plane's stride is its
// row width. Contiguous planes follow each other without gaps; multi-planar
// planes each start at offset 0 of their own memory plane.
func NewFrameLayout(format PixelFormat, coded Size, multiPlanar bool) FrameLayout {
	planes := make([]ColorPlaneLayout, format.NumPlanes())
	offset := 0
	for i := range planes {
		ps := format.PlaneSize(i, coded)
		planes[i] = ColorPlaneLayout{Stride: ps.Width, Offset: offset, Size: ps.Area()}
		if !multiPlanar {
			offset += ps.Area()
		}
	}
	return FrameLayout{Format: format, CodedSize: coded, Planes: planes, MultiPlanar: multiPlanar}
}

// Validate checks that the layout is self-consistent.
func (l FrameLayout) Validate() error {
	if l.Format == PixelFormatUnknown {
		return errors.New("unknown pixel format")
	}
	if l.CodedSize.IsEmpty() {
		return fmt.Errorf("empty coded size %s", l.CodedSize)
	}
	if len(l.Planes) != l.Format.NumPlanes() {
		return fmt.Errorf("%s needs %d planes, layout has %d", l.Format, l.Format.NumPlanes(), len(l.Planes))
	}
	for i, p := range l.Planes {
		need := l.Format.PlaneSize(i, l.CodedSize)
		if p.Stride < need.Width {
			return fmt.Errorf("plane %d stride %d below row width %d", i, p.Stride, need.Width)
		}
		if p.Size < p.Stride*(need.Height-1)+need.Width {
			return fmt.Errorf("plane %d size %d too small for %d rows of stride %d", i, p.Size, need.Height, p.Stride)
		}
	}
	return nil
}

func (l FrameLayout) String() string {
	return fmt.Sprintf("%s %s multi_planar=%t planes=%v", l.Format, l.CodedSize, l.MultiPlanar, l.Planes)
}
