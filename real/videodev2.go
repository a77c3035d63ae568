//go:build linux && (amd64 || arm64)

package real

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// https://github.com/torvalds/linux/blob/master/include/uapi/linux/videodev2.h
//
// Layouts below are for 64-bit targets, where unions holding pointers are
// 8-byte aligned.

const videoMaxPlanes = 8

const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | 'V'<<8 | nr
}

func ior(nr, size uintptr) uintptr  { return ioc(iocRead, nr, size) }
func iow(nr, size uintptr) uintptr  { return ioc(iocWrite, nr, size) }
func iowr(nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, nr, size) }

type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	_            [3]uint32
}

type v4l2FmtDesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	_           [3]uint32
}

type v4l2PlanePixFormat struct {
	sizeimage    uint32
	bytesperline uint32
	_            [6]uint16
}

type v4l2PixFormatMPlane struct {
	width        uint32                             // 0
	height       uint32                             // 4
	pixelformat  uint32                             // 8
	field        uint32                             // 12
	colorspace   uint32                             // 16
	planeFmt     [videoMaxPlanes]v4l2PlanePixFormat // 20
	numPlanes    uint8                              // 180
	flags        uint8                              // 181
	ycbcrEnc     uint8                              // 182
	quantization uint8                              // 183
	xferFunc     uint8                              // 184
	_            [7]uint8                           // 185
}

type v4l2Format struct {
	typ uint32              // 0
	_   uint32              // 4
	pix v4l2PixFormatMPlane // 8
	_   [8]byte             // 200
}

type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	_            [3]uint8
}

type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

type v4l2Plane struct {
	bytesused uint32 // 0
	length    uint32 // 4
	// m is mem_offset, userptr or fd depending on the memory type.
	m          uintptr    // 8
	dataOffset uint32     // 16
	_          [11]uint32 // 20
}

type v4l2Buffer struct {
	index     uint32         // 0
	typ       uint32         // 4
	bytesused uint32         // 8
	flags     uint32         // 12
	field     uint32         // 16
	_         uint32         // 20
	timestamp unix.Timeval   // 24
	timecode  v4l2Timecode   // 40
	sequence  uint32         // 56
	memory    uint32         // 60
	planes    unsafe.Pointer // 64
	length    uint32         // 72
	_         uint32         // 76
	requestFD int32          // 80
	_         uint32         // 84
}

// v4l2ExtControl is packed in the kernel headers; every field here is
// 4-byte aligned so the Go layout matches.
type v4l2ExtControl struct {
	id    uint32
	size  uint32
	_     uint32
	value int32
	_     int32
}

type v4l2ExtControls struct {
	ctrlClass uint32         // 0
	count     uint32         // 4
	errorIdx  uint32         // 8
	requestFD int32          // 12
	_         uint32         // 16
	_         uint32         // 20
	controls  unsafe.Pointer // 24
}

type v4l2QueryCtrl struct {
	id           uint32
	typ          uint32
	name         [32]byte
	minimum      int32
	maximum      int32
	step         int32
	defaultValue int32
	flags        uint32
	_            [2]uint32
}

type v4l2Rect struct {
	left   int32
	top    int32
	width  uint32
	height uint32
}

type v4l2Selection struct {
	typ    uint32
	target uint32
	flags  uint32
	r      v4l2Rect
	_      [9]uint32
}

type v4l2Crop struct {
	typ uint32
	c   v4l2Rect
}

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

type v4l2OutputParm struct {
	capability   uint32    // 0
	outputmode   uint32    // 4
	timeperframe v4l2Fract // 8
	extendedmode uint32    // 16
	writebuffers uint32    // 20

	_ [176]byte // 24
}

type v4l2StreamParm struct {
	typ    uint32
	output v4l2OutputParm
}

type v4l2EncoderCmd struct {
	cmd   uint32
	flags uint32
	_     [8]uint32
}

const ctrlFlagDisabled = 0x0001

var (
	vidiocQueryCap      = ior(0, unsafe.Sizeof(v4l2Capability{}))
	vidiocEnumFmt       = iowr(2, unsafe.Sizeof(v4l2FmtDesc{}))
	vidiocGFmt          = iowr(4, unsafe.Sizeof(v4l2Format{}))
	vidiocSFmt          = iowr(5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqBufs       = iowr(8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQueryBuf      = iowr(9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQBuf          = iowr(15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDQBuf         = iowr(17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamOn      = iow(18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff     = iow(19, unsafe.Sizeof(int32(0)))
	vidiocSParm         = iowr(22, unsafe.Sizeof(v4l2StreamParm{}))
	vidiocQueryCtrl     = iowr(36, unsafe.Sizeof(v4l2QueryCtrl{}))
	vidiocGCrop         = iowr(59, unsafe.Sizeof(v4l2Crop{}))
	vidiocSCrop         = iow(60, unsafe.Sizeof(v4l2Crop{}))
	vidiocSExtCtrls     = iowr(72, unsafe.Sizeof(v4l2ExtControls{}))
	vidiocEncoderCmd    = iowr(77, unsafe.Sizeof(v4l2EncoderCmd{}))
	vidiocTryEncoderCmd = iowr(78, unsafe.Sizeof(v4l2EncoderCmd{}))
	vidiocSSelection    = iowr(95, unsafe.Sizeof(v4l2Selection{}))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		}
		return errno
	}
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
