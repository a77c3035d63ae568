package video

import (
	"fmt"
)

// Scaler resizes the visible area of a frame into the visible area of
// another frame of the same pixel format.
//
// Each color plane is resampled with bilinear interpolation. NV12 chroma is
// handled as two interleaved channels so Cb and Cr never bleed into each
// other.
type Scaler struct{}

// NewScaler creates a new frame scaler.
func NewScaler() *Scaler {
	return &Scaler{}
}

// Scale resamples src.VisibleRect into dst.VisibleRect.
//
// Both frames must be mappable, share a pixel format and have even visible
// dimensions (4:2:0 chroma subsampling).
func (s *Scaler) Scale(src, dst *VideoFrame) error {
	if src == nil || dst == nil {
		return fmt.Errorf("source and destination frames are required")
	}
	if src.Format() != dst.Format() {
		return fmt.Errorf("format mismatch: %s -> %s", src.Format(), dst.Format())
	}
	if err := checkMappable(src); err != nil {
		return err
	}
	if err := checkMappable(dst); err != nil {
		return err
	}

	sv, dv := src.VisibleRect, dst.VisibleRect
	if sv.IsEmpty() || dv.IsEmpty() {
		return fmt.Errorf("empty visible rect: %s -> %s", sv, dv)
	}
	if sv.Width%2 != 0 || sv.Height%2 != 0 || dv.Width%2 != 0 || dv.Height%2 != 0 {
		return fmt.Errorf("visible dimensions must be even for 4:2:0: %s -> %s", sv, dv)
	}

	for i := 0; i < src.Format().NumPlanes(); i++ {
		channels := 1
		shift := 0
		if i > 0 {
			shift = 1
			if src.Format() == PixelFormatNV12 {
				channels = 2
			}
		}
		from := planeWindow{
			data:     src.Data[i],
			stride:   src.Stride(i),
			x:        (sv.X >> shift) * channels,
			y:        sv.Y >> shift,
			width:    sv.Width >> shift,
			height:   sv.Height >> shift,
			channels: channels,
		}
		to := planeWindow{
			data:     dst.Data[i],
			stride:   dst.Stride(i),
			x:        (dv.X >> shift) * channels,
			y:        dv.Y >> shift,
			width:    dv.Width >> shift,
			height:   dv.Height >> shift,
			channels: channels,
		}
		if err := s.scalePlane(from, to); err != nil {
			return fmt.Errorf("failed to scale plane %d: %w", i, err)
		}
	}
	return nil
}

// planeWindow is a rectangle of samples inside one color plane. x is in
// bytes, width and height in samples.
type planeWindow struct {
	data     []byte
	stride   int
	x        int
	y        int
	width    int
	height   int
	channels int
}

func (w planeWindow) end() int {
	return (w.y+w.height-1)*w.stride + w.x + w.width*w.channels
}

// scalePlane scales a single plane window using bilinear interpolation.
func (s *Scaler) scalePlane(src, dst planeWindow) error {
	if len(src.data) < src.end() {
		return fmt.Errorf("source buffer too small: %d < %d", len(src.data), src.end())
	}
	if len(dst.data) < dst.end() {
		return fmt.Errorf("destination buffer too small: %d < %d", len(dst.data), dst.end())
	}

	if src.width == dst.width && src.height == dst.height {
		rowBytes := src.width * src.channels
		for y := 0; y < src.height; y++ {
			so := (src.y+y)*src.stride + src.x
			do := (dst.y+y)*dst.stride + dst.x
			copy(dst.data[do:do+rowBytes], src.data[so:so+rowBytes])
		}
		return nil
	}

	xRatio := float64(src.width) / float64(dst.width)
	yRatio := float64(src.height) / float64(dst.height)

	for y := 0; y < dst.height; y++ {
		srcY := float64(y) * yRatio
		y1 := int(srcY)
		y2 := y1 + 1
		if y2 >= src.height {
			y2 = src.height - 1
		}
		fy := srcY - float64(y1)
		row1 := (src.y+y1)*src.stride + src.x
		row2 := (src.y+y2)*src.stride + src.x
		out := (dst.y+y)*dst.stride + dst.x

		for x := 0; x < dst.width; x++ {
			srcX := float64(x) * xRatio
			x1 := int(srcX)
			x2 := x1 + 1
			if x2 >= src.width {
				x2 = src.width - 1
			}
			fx := srcX - float64(x1)

			for c := 0; c < src.channels; c++ {
				p11 := float64(src.data[row1+x1*src.channels+c])
				p12 := float64(src.data[row1+x2*src.channels+c])
				p21 := float64(src.data[row2+x1*src.channels+c])
				p22 := float64(src.data[row2+x2*src.channels+c])

				top := p11*(1-fx) + p12*fx
				bottom := p21*(1-fx) + p22*fx
				dst.data[out+x*dst.channels+c] = byte(top*(1-fy) + bottom*fy + 0.5)
			}
		}
	}
	return nil
}

// GetScaleFactors returns how much a frame will be scaled on each axis.
func (s *Scaler) GetScaleFactors(src, dst Size) (xFactor, yFactor float64) {
	xFactor = float64(dst.Width) / float64(src.Width)
	yFactor = float64(dst.Height) / float64(src.Height)
	return
}

// IsScalingRequired reports whether the sizes differ.
func (s *Scaler) IsScalingRequired(src, dst Size) bool {
	return src != dst
}

func checkMappable(f *VideoFrame) error {
	if !f.Storage.IsMappable() {
		return fmt.Errorf("frame storage %s is not mappable", f.Storage)
	}
	if len(f.Data) < f.Format().NumPlanes() {
		return fmt.Errorf("frame has %d data planes, %s needs %d", len(f.Data), f.Format(), f.Format().NumPlanes())
	}
	return nil
}
