package v4l2

// Fourcc is a V4L2 pixel format code built from four ASCII characters.
type Fourcc uint32

// NewFourcc packs four characters into a Fourcc, least significant byte first.
func NewFourcc(a, b, c, d byte) Fourcc {
	return Fourcc(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// Raw input formats.
var (
	// PixFmtNV12 is Y plane followed by interleaved CbCr, contiguous.
	PixFmtNV12 = NewFourcc('N', 'V', '1', '2')
	// PixFmtNV12M is NV12 with Y and CbCr in separate memory planes.
	PixFmtNV12M = NewFourcc('N', 'M', '1', '2')
	// PixFmtYUV420 is planar I420 (Y, Cb, Cr), contiguous.
	PixFmtYUV420 = NewFourcc('Y', 'U', '1', '2')
	// PixFmtYUV420M is I420 with each color plane in its own memory plane.
	PixFmtYUV420M = NewFourcc('Y', 'M', '1', '2')
)

// Coded output formats.
var (
	PixFmtH264 = NewFourcc('H', '2', '6', '4')
	PixFmtVP8  = NewFourcc('V', 'P', '8', '0')
	PixFmtVP9  = NewFourcc('V', 'P', '9', '0')
)

// String returns the four characters of the code, e.g. "NM12".
func (f Fourcc) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '.'
		}
	}
	return string(b)
}

// IsMultiPlanar reports whether color planes live in separate memory planes.
func (f Fourcc) IsMultiPlanar() bool {
	return f == PixFmtNV12M || f == PixFmtYUV420M
}

// IsRaw reports whether f is one of the raw input formats above.
func (f Fourcc) IsRaw() bool {
	switch f {
	case PixFmtNV12, PixFmtNV12M, PixFmtYUV420, PixFmtYUV420M:
		return true
	}
	return false
}

// NumPlanes returns the number of memory planes a buffer of this format
// carries. Coded formats always use a single plane.
func (f Fourcc) NumPlanes() int {
	switch f {
	case PixFmtNV12M:
		return 2
	case PixFmtYUV420M:
		return 3
	}
	return 1
}

// NumColorPlanes returns the number of color planes of the image, or 1 for
// coded formats.
func (f Fourcc) NumColorPlanes() int {
	switch f {
	case PixFmtNV12, PixFmtNV12M:
		return 2
	case PixFmtYUV420, PixFmtYUV420M:
		return 3
	}
	return 1
}

// SinglePlanar returns the contiguous variant of a multi-planar format, or f
// itself.
func (f Fourcc) SinglePlanar() Fourcc {
	switch f {
	case PixFmtNV12M:
		return PixFmtNV12
	case PixFmtYUV420M:
		return PixFmtYUV420
	}
	return f
}

// MultiPlanar returns the non-contiguous variant of a raw format, or f itself.
func (f Fourcc) MultiPlanar() Fourcc {
	switch f {
	case PixFmtNV12:
		return PixFmtNV12M
	case PixFmtYUV420:
		return PixFmtYUV420M
	}
	return f
}
