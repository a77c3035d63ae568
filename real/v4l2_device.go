//go:build linux && (amd64 || arm64)

package real

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/opd-ai/m2mencoder/interfaces"
	"github.com/opd-ai/m2mencoder/v4l2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const fieldNone = 1

type bufferKey struct {
	bufType v4l2.BufType
	index   uint32
}

// V4L2Device implements interfaces.IDevice on a Linux V4L2 memory-to-memory
// encoder node using the multi-planar API.
type V4L2Device struct {
	config *interfaces.DeviceConfig

	mu        sync.Mutex
	fd        int
	eventFD   int
	path      string
	preferred []v4l2.Fourcc
	numPlanes map[v4l2.BufType]int
	mmaps     map[bufferKey][][]byte
	// pinned keeps USERPTR memory in place while the driver owns it.
	pinned map[bufferKey]*runtime.Pinner
}

// NewV4L2Device creates a device bound to config. Nothing is opened until
// Open.
func NewV4L2Device(config *interfaces.DeviceConfig) *V4L2Device {
	logrus.WithFields(logrus.Fields{
		"function":     "NewV4L2Device",
		"device_path":  config.DevicePath,
		"poll_timeout": config.PollTimeout,
	}).Info("Creating V4L2 device")

	return &V4L2Device{
		config:    config,
		fd:        -1,
		eventFD:   -1,
		numPlanes: make(map[v4l2.BufType]int),
		mmaps:     make(map[bufferKey][][]byte),
		pinned:    make(map[bufferKey]*runtime.Pinner),
	}
}

// Path returns the opened device node, empty before Open.
func (d *V4L2Device) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

func (d *V4L2Device) fdLocked() (int, error) {
	if d.fd < 0 {
		return -1, interfaces.ErrDeviceClosed
	}
	return d.fd, nil
}

// Open implements IDevice.Open. Without a configured path every
// /dev/video* node is probed for an M2M encoder producing codec.
func (d *V4L2Device) Open(codec v4l2.Fourcc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fd >= 0 {
		return fmt.Errorf("device %s already open", d.path)
	}

	paths := []string{d.config.DevicePath}
	if d.config.DevicePath == "" {
		var err error
		if paths, err = filepath.Glob("/dev/video*"); err != nil {
			return fmt.Errorf("list video devices: %w", err)
		}
	}

	for _, path := range paths {
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "V4L2Device.Open",
				"path":     path,
				"error":    err.Error(),
			}).Debug("Cannot open video node")
			continue
		}
		if !isEncoderFor(fd, codec) {
			unix.Close(fd)
			continue
		}

		efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
		if err != nil {
			unix.Close(fd)
			return fmt.Errorf("create eventfd: %w", err)
		}
		d.fd, d.eventFD, d.path = fd, efd, path
		d.preferred = enumRawFormats(fd)

		logrus.WithFields(logrus.Fields{
			"function":      "V4L2Device.Open",
			"path":          path,
			"codec":         codec.String(),
			"input_formats": d.preferred,
		}).Info("Opened V4L2 encoder")
		return nil
	}

	return fmt.Errorf("no M2M encoder for %s: %w", codec, interfaces.ErrUnsupported)
}

func isEncoderFor(fd int, codec v4l2.Fourcc) bool {
	var caps v4l2Capability
	if err := ioctl(fd, vidiocQueryCap, unsafe.Pointer(&caps)); err != nil {
		return false
	}
	c := capabilityFrom(&caps)
	if !c.Has(v4l2.CapVideoM2MMPlane) {
		return false
	}
	for _, f := range enumFormats(fd, v4l2.BufTypeVideoCaptureMPlane) {
		if f == codec {
			return true
		}
	}
	return false
}

func enumFormats(fd int, bufType v4l2.BufType) []v4l2.Fourcc {
	var formats []v4l2.Fourcc
	for i := uint32(0); ; i++ {
		desc := v4l2FmtDesc{index: i, typ: uint32(bufType)}
		if err := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			return formats
		}
		formats = append(formats, v4l2.Fourcc(desc.pixelformat))
	}
}

func enumRawFormats(fd int) []v4l2.Fourcc {
	var raw []v4l2.Fourcc
	for _, f := range enumFormats(fd, v4l2.BufTypeVideoOutputMPlane) {
		if f.IsRaw() {
			raw = append(raw, f)
		}
	}
	return raw
}

func capabilityFrom(c *v4l2Capability) v4l2.Capability {
	return v4l2.Capability{
		Driver:       cString(c.driver[:]),
		Card:         cString(c.card[:]),
		BusInfo:      cString(c.busInfo[:]),
		Version:      c.version,
		Capabilities: c.capabilities,
		DeviceCaps:   c.deviceCaps,
	}
}

// QueryCapabilities implements IDevice.QueryCapabilities.
func (d *V4L2Device) QueryCapabilities() (v4l2.Capability, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return v4l2.Capability{}, err
	}
	var caps v4l2Capability
	if err := ioctl(fd, vidiocQueryCap, unsafe.Pointer(&caps)); err != nil {
		return v4l2.Capability{}, fmt.Errorf("QUERYCAP: %w", err)
	}
	return capabilityFrom(&caps), nil
}

// unsupported wraps errors meaning the ioctl or its argument is not
// implemented by the driver.
func unsupported(op string, err error) error {
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("%s: %w: %w", op, interfaces.ErrUnsupported, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// TryEncoderCommand implements IDevice.TryEncoderCommand.
func (d *V4L2Device) TryEncoderCommand(cmd v4l2.EncoderCmd) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return err
	}
	arg := v4l2EncoderCmd{cmd: uint32(cmd)}
	if err := ioctl(fd, vidiocTryEncoderCmd, unsafe.Pointer(&arg)); err != nil {
		return unsupported("TRY_ENCODER_CMD "+cmd.String(), err)
	}
	return nil
}

// EncoderCommand implements IDevice.EncoderCommand.
func (d *V4L2Device) EncoderCommand(cmd v4l2.EncoderCmd) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return err
	}
	arg := v4l2EncoderCmd{cmd: uint32(cmd)}
	if err := ioctl(fd, vidiocEncoderCmd, unsafe.Pointer(&arg)); err != nil {
		return unsupported("ENCODER_CMD "+cmd.String(), err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "V4L2Device.EncoderCommand",
		"cmd":      cmd.String(),
	}).Debug("Encoder command issued")
	return nil
}

func formatFrom(raw *v4l2Format) v4l2.Format {
	n := min(int(raw.pix.numPlanes), videoMaxPlanes)
	f := v4l2.Format{
		Type:        v4l2.BufType(raw.typ),
		Width:       raw.pix.width,
		Height:      raw.pix.height,
		PixelFormat: v4l2.Fourcc(raw.pix.pixelformat),
		Planes:      make([]v4l2.PlaneFormat, n),
	}
	for i := range f.Planes {
		f.Planes[i] = v4l2.PlaneFormat{
			SizeImage:    raw.pix.planeFmt[i].sizeimage,
			BytesPerLine: raw.pix.planeFmt[i].bytesperline,
		}
	}
	return f
}

// SetFormat implements IDevice.SetFormat.
func (d *V4L2Device) SetFormat(f *v4l2.Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return err
	}
	if len(f.Planes) > videoMaxPlanes {
		return fmt.Errorf("S_FMT %s: %d planes", f.Type, len(f.Planes))
	}

	raw := v4l2Format{typ: uint32(f.Type)}
	raw.pix.width = f.Width
	raw.pix.height = f.Height
	raw.pix.pixelformat = uint32(f.PixelFormat)
	raw.pix.field = fieldNone
	raw.pix.numPlanes = uint8(len(f.Planes))
	for i, p := range f.Planes {
		raw.pix.planeFmt[i].sizeimage = p.SizeImage
		raw.pix.planeFmt[i].bytesperline = p.BytesPerLine
	}
	if err := ioctl(fd, vidiocSFmt, unsafe.Pointer(&raw)); err != nil {
		return fmt.Errorf("S_FMT %s %s: %w", f.Type, f.PixelFormat, err)
	}

	*f = formatFrom(&raw)
	d.numPlanes[f.Type] = len(f.Planes)
	return nil
}

// GetFormat implements IDevice.GetFormat.
func (d *V4L2Device) GetFormat(bufType v4l2.BufType) (v4l2.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return v4l2.Format{}, err
	}
	raw := v4l2Format{typ: uint32(bufType)}
	if err := ioctl(fd, vidiocGFmt, unsafe.Pointer(&raw)); err != nil {
		return v4l2.Format{}, fmt.Errorf("G_FMT %s: %w", bufType, err)
	}
	f := formatFrom(&raw)
	d.numPlanes[bufType] = len(f.Planes)
	return f, nil
}

func rectFrom(r v4l2Rect) v4l2.Rect {
	return v4l2.Rect{Left: r.left, Top: r.top, Width: r.width, Height: r.height}
}

func rectTo(r v4l2.Rect) v4l2Rect {
	return v4l2Rect{left: r.Left, top: r.Top, width: r.Width, height: r.Height}
}

// SetSelection implements IDevice.SetSelection.
func (d *V4L2Device) SetSelection(bufType v4l2.BufType, target uint32, r v4l2.Rect) (v4l2.Rect, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return v4l2.Rect{}, err
	}
	sel := v4l2Selection{typ: uint32(bufType), target: target, r: rectTo(r)}
	if err := ioctl(fd, vidiocSSelection, unsafe.Pointer(&sel)); err != nil {
		return v4l2.Rect{}, unsupported("S_SELECTION", err)
	}
	return rectFrom(sel.r), nil
}

// SetCrop implements IDevice.SetCrop.
func (d *V4L2Device) SetCrop(bufType v4l2.BufType, r v4l2.Rect) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return err
	}
	crop := v4l2Crop{typ: uint32(bufType), c: rectTo(r)}
	if err := ioctl(fd, vidiocSCrop, unsafe.Pointer(&crop)); err != nil {
		return fmt.Errorf("S_CROP: %w", err)
	}
	return nil
}

// GetCrop implements IDevice.GetCrop.
func (d *V4L2Device) GetCrop(bufType v4l2.BufType) (v4l2.Rect, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return v4l2.Rect{}, err
	}
	crop := v4l2Crop{typ: uint32(bufType)}
	if err := ioctl(fd, vidiocGCrop, unsafe.Pointer(&crop)); err != nil {
		return v4l2.Rect{}, fmt.Errorf("G_CROP: %w", err)
	}
	return rectFrom(crop.c), nil
}

// releaseQueueLocked unmaps and unpins every buffer of bufType.
func (d *V4L2Device) releaseQueueLocked(bufType v4l2.BufType) {
	for key, planes := range d.mmaps {
		if key.bufType != bufType {
			continue
		}
		for _, p := range planes {
			if err := unix.Munmap(p); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "V4L2Device.releaseQueueLocked",
					"buf_type": bufType.String(),
					"index":    key.index,
					"error":    err.Error(),
				}).Warn("munmap failed")
			}
		}
		delete(d.mmaps, key)
	}
	d.unpinQueueLocked(bufType)
}

func (d *V4L2Device) unpinQueueLocked(bufType v4l2.BufType) {
	for key, pinner := range d.pinned {
		if key.bufType == bufType {
			pinner.Unpin()
			delete(d.pinned, key)
		}
	}
}

// RequestBuffers implements IDevice.RequestBuffers.
func (d *V4L2Device) RequestBuffers(bufType v4l2.BufType, memory v4l2.Memory, count int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return 0, err
	}

	d.releaseQueueLocked(bufType)
	req := v4l2RequestBuffers{count: uint32(count), typ: uint32(bufType), memory: uint32(memory)}
	if err := ioctl(fd, vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("REQBUFS %s %s %d: %w", bufType, memory, count, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "V4L2Device.RequestBuffers",
		"buf_type":  bufType.String(),
		"memory":    memory.String(),
		"requested": count,
		"granted":   req.count,
	}).Debug("Buffers requested")
	return int(req.count), nil
}

func (d *V4L2Device) planesLocked(bufType v4l2.BufType) int {
	if n := d.numPlanes[bufType]; n > 0 {
		return n
	}
	return 1
}

// MapBuffer implements IDevice.MapBuffer.
func (d *V4L2Device) MapBuffer(bufType v4l2.BufType, index int) ([][]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return nil, err
	}
	key := bufferKey{bufType: bufType, index: uint32(index)}
	if planes, ok := d.mmaps[key]; ok {
		return planes, nil
	}

	planes := make([]v4l2Plane, d.planesLocked(bufType))
	buf := v4l2Buffer{
		index:  uint32(index),
		typ:    uint32(bufType),
		memory: uint32(v4l2.MemoryMMAP),
		planes: unsafe.Pointer(&planes[0]),
		length: uint32(len(planes)),
	}
	if err := ioctl(fd, vidiocQueryBuf, unsafe.Pointer(&buf)); err != nil {
		return nil, fmt.Errorf("QUERYBUF %s %d: %w", bufType, index, err)
	}

	mapped := make([][]byte, 0, len(planes))
	for _, p := range planes {
		offset := int64(uint32(p.m))
		mem, err := unix.Mmap(fd, offset, int(p.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			for _, m := range mapped {
				unix.Munmap(m)
			}
			return nil, fmt.Errorf("mmap %s %d: %w", bufType, index, err)
		}
		mapped = append(mapped, mem)
	}
	d.mmaps[key] = mapped
	return mapped, nil
}

// QueueBuffer implements IDevice.QueueBuffer.
func (d *V4L2Device) QueueBuffer(b *v4l2.Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return err
	}
	if len(b.Planes) == 0 || len(b.Planes) > videoMaxPlanes {
		return fmt.Errorf("QBUF %s %d: %d planes", b.Type, b.Index, len(b.Planes))
	}

	var pinner *runtime.Pinner
	planes := make([]v4l2Plane, len(b.Planes))
	for i, p := range b.Planes {
		planes[i] = v4l2Plane{bytesused: p.BytesUsed, length: p.Length, dataOffset: p.DataOffset}
		switch b.Memory {
		case v4l2.MemoryMMAP:
			planes[i].m = uintptr(p.MemOffset)
		case v4l2.MemoryUserPtr:
			if len(p.UserPtr) == 0 {
				return fmt.Errorf("QBUF %s %d: plane %d has no memory", b.Type, b.Index, i)
			}
			if pinner == nil {
				pinner = &runtime.Pinner{}
			}
			pinner.Pin(&p.UserPtr[0])
			planes[i].m = uintptr(unsafe.Pointer(&p.UserPtr[0]))
		case v4l2.MemoryDMABuf:
			if p.FD < 0 {
				return fmt.Errorf("QBUF %s %d: plane %d bad fd %d", b.Type, b.Index, i, p.FD)
			}
			planes[i].m = uintptr(uint32(p.FD))
		}
	}

	buf := v4l2Buffer{
		index:     b.Index,
		typ:       uint32(b.Type),
		flags:     uint32(b.Flags),
		field:     fieldNone,
		timestamp: unix.NsecToTimeval(b.Timestamp.Nanoseconds()),
		memory:    uint32(b.Memory),
		planes:    unsafe.Pointer(&planes[0]),
		length:    uint32(len(planes)),
	}
	if err := ioctl(fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
		if pinner != nil {
			pinner.Unpin()
		}
		return fmt.Errorf("QBUF %s %d: %w", b.Type, b.Index, err)
	}
	if pinner != nil {
		d.pinned[bufferKey{bufType: b.Type, index: b.Index}] = pinner
	}
	return nil
}

// DequeueBuffer implements IDevice.DequeueBuffer.
func (d *V4L2Device) DequeueBuffer(bufType v4l2.BufType, memory v4l2.Memory) (v4l2.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return v4l2.Buffer{}, err
	}

	planes := make([]v4l2Plane, d.planesLocked(bufType))
	buf := v4l2Buffer{
		typ:    uint32(bufType),
		memory: uint32(memory),
		planes: unsafe.Pointer(&planes[0]),
		length: uint32(len(planes)),
	}
	if err := ioctl(fd, vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return v4l2.Buffer{}, interfaces.ErrNoBufferReady
		}
		return v4l2.Buffer{}, fmt.Errorf("DQBUF %s: %w", bufType, err)
	}

	key := bufferKey{bufType: bufType, index: buf.index}
	if pinner, ok := d.pinned[key]; ok {
		pinner.Unpin()
		delete(d.pinned, key)
	}

	out := v4l2.Buffer{
		Index:     buf.index,
		Type:      bufType,
		Memory:    memory,
		Flags:     v4l2.BufFlags(buf.flags),
		Sequence:  buf.sequence,
		Timestamp: time.Duration(unix.TimevalToNsec(buf.timestamp)),
		Planes:    make([]v4l2.Plane, min(int(buf.length), len(planes))),
	}
	for i := range out.Planes {
		out.Planes[i] = v4l2.Plane{
			BytesUsed:  planes[i].bytesused,
			Length:     planes[i].length,
			DataOffset: planes[i].dataOffset,
		}
	}
	return out, nil
}

// StreamOn implements IDevice.StreamOn.
func (d *V4L2Device) StreamOn(bufType v4l2.BufType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return err
	}
	typ := int32(bufType)
	if err := ioctl(fd, vidiocStreamOn, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("STREAMON %s: %w", bufType, err)
	}
	return nil
}

// StreamOff implements IDevice.StreamOff. The driver gives every queued
// buffer back, so their memory is unpinned.
func (d *V4L2Device) StreamOff(bufType v4l2.BufType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return err
	}
	typ := int32(bufType)
	if err := ioctl(fd, vidiocStreamOff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("STREAMOFF %s: %w", bufType, err)
	}
	d.unpinQueueLocked(bufType)
	return nil
}

// SetExtCtrls implements IDevice.SetExtCtrls.
func (d *V4L2Device) SetExtCtrls(class uint32, ctrls []v4l2.ExtCtrl) error {
	if len(ctrls) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return err
	}

	raw := make([]v4l2ExtControl, len(ctrls))
	for i, c := range ctrls {
		raw[i] = v4l2ExtControl{id: c.ID, value: c.Value}
	}
	arg := v4l2ExtControls{
		ctrlClass: class,
		count:     uint32(len(raw)),
		controls:  unsafe.Pointer(&raw[0]),
	}
	if err := ioctl(fd, vidiocSExtCtrls, unsafe.Pointer(&arg)); err != nil {
		failed := "?"
		if int(arg.errorIdx) < len(ctrls) {
			failed = ctrls[arg.errorIdx].String()
		}
		return fmt.Errorf("S_EXT_CTRLS %s: %w", failed, err)
	}
	return nil
}

// IsCtrlExposed implements IDevice.IsCtrlExposed.
func (d *V4L2Device) IsCtrlExposed(id uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return false
	}
	query := v4l2QueryCtrl{id: id}
	if err := ioctl(fd, vidiocQueryCtrl, unsafe.Pointer(&query)); err != nil {
		return false
	}
	return query.flags&ctrlFlagDisabled == 0
}

// SetFrameInterval implements IDevice.SetFrameInterval.
func (d *V4L2Device) SetFrameInterval(bufType v4l2.BufType, numerator, denominator uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd, err := d.fdLocked()
	if err != nil {
		return err
	}
	parm := v4l2StreamParm{typ: uint32(bufType)}
	parm.output.timeperframe = v4l2Fract{numerator: numerator, denominator: denominator}
	if err := ioctl(fd, vidiocSParm, unsafe.Pointer(&parm)); err != nil {
		return fmt.Errorf("S_PARM %s %d/%d: %w", bufType, numerator, denominator, err)
	}
	return nil
}

// PreferredInputFormats implements IDevice.PreferredInputFormats. The
// driver enumeration order is taken as the preference order.
func (d *V4L2Device) PreferredInputFormats() []v4l2.Fourcc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]v4l2.Fourcc(nil), d.preferred...)
}

// Poll implements IDevice.Poll.
func (d *V4L2Device) Poll(timeout time.Duration) (bool, error) {
	d.mu.Lock()
	fd, efd := d.fd, d.eventFD
	d.mu.Unlock()
	if fd < 0 {
		return false, interfaces.ErrDeviceClosed
	}

	fds := []unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLIN | unix.POLLOUT},
		{Fd: int32(efd), Events: unix.POLLIN},
	}
	if _, err := unix.Poll(fds, int(timeout.Milliseconds())); err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("poll: %w", err)
	}

	if fds[1].Revents&unix.POLLIN != 0 {
		var drain [8]byte
		unix.Read(efd, drain[:])
		return false, nil
	}
	if fds[0].Revents&(unix.POLLIN|unix.POLLOUT) != 0 {
		return true, nil
	}
	if fds[0].Revents&unix.POLLERR != 0 {
		// Reported while neither queue has buffers queued. Wait on the
		// eventfd alone so Interrupt still works.
		wait := min(timeout, 5*time.Millisecond)
		unix.Poll(fds[1:], int(wait.Milliseconds()))
	}
	return false, nil
}

// Interrupt implements IDevice.Interrupt.
func (d *V4L2Device) Interrupt() error {
	d.mu.Lock()
	efd := d.eventFD
	d.mu.Unlock()
	if efd < 0 {
		return nil
	}
	one := [8]byte{1}
	if _, err := unix.Write(efd, one[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("signal eventfd: %w", err)
	}
	return nil
}

// Close implements IDevice.Close.
func (d *V4L2Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil
	}

	d.releaseQueueLocked(v4l2.BufTypeVideoOutputMPlane)
	d.releaseQueueLocked(v4l2.BufTypeVideoCaptureMPlane)

	var errs []error
	if err := unix.Close(d.fd); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", d.path, err))
	}
	if err := unix.Close(d.eventFD); err != nil {
		errs = append(errs, fmt.Errorf("close eventfd: %w", err))
	}

	logrus.WithFields(logrus.Fields{
		"function": "V4L2Device.Close",
		"path":     d.path,
	}).Info("Closed V4L2 encoder")

	d.fd, d.eventFD = -1, -1
	return errors.Join(errs...)
}

// IsSimulation implements IDevice.IsSimulation.
func (d *V4L2Device) IsSimulation() bool { return false }
