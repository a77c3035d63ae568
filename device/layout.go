package device

import (
	"fmt"

	"github.com/opd-ai/m2mencoder/v4l2"
	"github.com/opd-ai/m2mencoder/video"
)

// FourccToPixelFormat maps a raw V4L2 fourcc to a client pixel format.
func FourccToPixelFormat(f v4l2.Fourcc) video.PixelFormat {
	switch f {
	case v4l2.PixFmtNV12, v4l2.PixFmtNV12M:
		return video.PixelFormatNV12
	case v4l2.PixFmtYUV420, v4l2.PixFmtYUV420M:
		return video.PixelFormatI420
	}
	return video.PixelFormatUnknown
}

// PixelFormatToFourcc returns the single- or multi-planar fourcc of a pixel
// format. ok is false for formats the device vocabulary has no name for.
func PixelFormatToFourcc(p video.PixelFormat, multiPlanar bool) (v4l2.Fourcc, bool) {
	var f v4l2.Fourcc
	switch p {
	case video.PixelFormatNV12:
		f = v4l2.PixFmtNV12
	case video.PixelFormatI420:
		f = v4l2.PixFmtYUV420
	default:
		return 0, false
	}
	if multiPlanar {
		return f.MultiPlanar(), true
	}
	return f, true
}

// FormatToLayout converts a device format into a frame layout.
//
// For multi-planar fourccs every color plane lives in its own memory plane
// at offset 0. For single-planar fourccs the chroma planes follow the luma
// plane inside memory plane 0.
func FormatToLayout(f v4l2.Format) (video.FrameLayout, error) {
	pf := FourccToPixelFormat(f.PixelFormat)
	if pf == video.PixelFormatUnknown {
		return video.FrameLayout{}, fmt.Errorf("%w: %s", ErrFormatRejected, f.PixelFormat)
	}
	if len(f.Planes) != f.PixelFormat.NumPlanes() {
		return video.FrameLayout{}, fmt.Errorf("format %s has %d planes, want %d", f.PixelFormat, len(f.Planes), f.PixelFormat.NumPlanes())
	}

	coded := video.Size{Width: int(f.Width), Height: int(f.Height)}
	layout := video.FrameLayout{
		Format:      pf,
		CodedSize:   coded,
		Planes:      make([]video.ColorPlaneLayout, pf.NumPlanes()),
		MultiPlanar: f.PixelFormat.IsMultiPlanar(),
	}

	if layout.MultiPlanar {
		for i, p := range f.Planes {
			layout.Planes[i] = video.ColorPlaneLayout{
				Stride: int(p.BytesPerLine),
				Size:   int(p.SizeImage),
			}
		}
		return layout, nil
	}

	stride := int(f.Planes[0].BytesPerLine)
	offset := 0
	for i := range layout.Planes {
		rows := pf.PlaneSize(i, coded).Height
		planeStride := stride
		if i > 0 && pf == video.PixelFormatI420 {
			planeStride = stride / 2
		}
		layout.Planes[i] = video.ColorPlaneLayout{
			Stride: planeStride,
			Offset: offset,
			Size:   planeStride * rows,
		}
		offset += planeStride * rows
	}
	if offset > int(f.Planes[0].SizeImage) {
		return video.FrameLayout{}, fmt.Errorf("format %s sizeimage %d below computed %d", f.PixelFormat, f.Planes[0].SizeImage, offset)
	}
	return layout, nil
}

// AllocatedSize returns the coded size implied by the strides and plane
// sizes of a format, which may exceed the reported width and height.
func AllocatedSize(f v4l2.Format) video.Size {
	if len(f.Planes) == 0 || f.Planes[0].BytesPerLine == 0 {
		return video.Size{Width: int(f.Width), Height: int(f.Height)}
	}
	bpl := int(f.Planes[0].BytesPerLine)
	lumaBytes := int(f.Planes[0].SizeImage)
	if !f.PixelFormat.IsMultiPlanar() && f.PixelFormat.NumColorPlanes() > 1 {
		// 4:2:0 in one memory plane: luma is two thirds of the image.
		lumaBytes = lumaBytes * 2 / 3
	}
	return video.Size{Width: bpl, Height: lumaBytes / bpl}
}
