package video

import "fmt"

// Converter repacks 4:2:0 frames between I420 and NV12, and combines
// repacking with scaling when the visible sizes differ.
type Converter struct {
	scaler *Scaler
}

// NewConverter creates a converter that uses scaler for resizing.
func NewConverter(scaler *Scaler) *Converter {
	if scaler == nil {
		scaler = NewScaler()
	}
	return &Converter{scaler: scaler}
}

// Convert writes src.VisibleRect into dst.VisibleRect, changing pixel format
// and size as needed.
func (c *Converter) Convert(src, dst *VideoFrame) error {
	if src == nil || dst == nil {
		return fmt.Errorf("source and destination frames are required")
	}
	if src.Format() == dst.Format() {
		return c.scaler.Scale(src, dst)
	}

	if src.VisibleRect.Size() != dst.VisibleRect.Size() {
		// Scale in the source format first, then repack.
		tmp, err := NewFrame(
			NewFrameLayout(src.Format(), dst.VisibleRect.Size(), false),
			NewRect(dst.VisibleRect.Size()),
			src.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to allocate intermediate frame: %w", err)
		}
		if err := c.scaler.Scale(src, tmp); err != nil {
			return err
		}
		src = tmp
	}

	if err := checkMappable(src); err != nil {
		return err
	}
	if err := checkMappable(dst); err != nil {
		return err
	}

	switch {
	case src.Format() == PixelFormatI420 && dst.Format() == PixelFormatNV12:
		return i420ToNV12(src, dst)
	case src.Format() == PixelFormatNV12 && dst.Format() == PixelFormatI420:
		return nv12ToI420(src, dst)
	}
	return fmt.Errorf("unsupported conversion %s -> %s", src.Format(), dst.Format())
}

func copyLuma(src, dst *VideoFrame) {
	sv, dv := src.VisibleRect, dst.VisibleRect
	for y := 0; y < sv.Height; y++ {
		so := (sv.Y+y)*src.Stride(0) + sv.X
		do := (dv.Y+y)*dst.Stride(0) + dv.X
		copy(dst.Data[0][do:do+sv.Width], src.Data[0][so:so+sv.Width])
	}
}

func i420ToNV12(src, dst *VideoFrame) error {
	copyLuma(src, dst)
	sv, dv := src.VisibleRect, dst.VisibleRect
	cw, ch := sv.Width/2, sv.Height/2
	for y := 0; y < ch; y++ {
		uo := (sv.Y/2+y)*src.Stride(1) + sv.X/2
		vo := (sv.Y/2+y)*src.Stride(2) + sv.X/2
		do := (dv.Y/2+y)*dst.Stride(1) + (dv.X/2)*2
		for x := 0; x < cw; x++ {
			dst.Data[1][do+2*x] = src.Data[1][uo+x]
			dst.Data[1][do+2*x+1] = src.Data[2][vo+x]
		}
	}
	return nil
}

func nv12ToI420(src, dst *VideoFrame) error {
	copyLuma(src, dst)
	sv, dv := src.VisibleRect, dst.VisibleRect
	cw, ch := sv.Width/2, sv.Height/2
	for y := 0; y < ch; y++ {
		so := (sv.Y/2+y)*src.Stride(1) + (sv.X/2)*2
		uo := (dv.Y/2+y)*dst.Stride(1) + dv.X/2
		vo := (dv.Y/2+y)*dst.Stride(2) + dv.X/2
		for x := 0; x < cw; x++ {
			dst.Data[1][uo+x] = src.Data[1][so+2*x]
			dst.Data[2][vo+x] = src.Data[1][so+2*x+1]
		}
	}
	return nil
}
