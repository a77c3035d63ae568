package testing

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/m2mencoder/interfaces"
	"github.com/opd-ai/m2mencoder/v4l2"
	"github.com/sirupsen/logrus"
)

// Op names a device operation for fault injection.
type Op string

const (
	OpOpen             Op = "OPEN"
	OpQueryCap         Op = "QUERYCAP"
	OpSetFormat        Op = "S_FMT"
	OpSetSelection     Op = "S_SELECTION"
	OpRequestBuffers   Op = "REQBUFS"
	OpQueueBuffer      Op = "QBUF"
	OpDequeueBuffer    Op = "DQBUF"
	OpStreamOn         Op = "STREAMON"
	OpStreamOff        Op = "STREAMOFF"
	OpEncoderCmd       Op = "ENCODER_CMD"
	OpSetExtCtrls      Op = "S_EXT_CTRLS"
	OpSetFrameInterval Op = "S_PARM"
	OpPoll             Op = "POLL"
)

// SimulatedDeviceConfig tunes the behavior of SimulatedM2MDevice. The zero
// value describes a well-behaved multi-planar H.264 encoder.
type SimulatedDeviceConfig struct {
	// CodecFormats are the coded formats of the CAPTURE queue. Default H264.
	CodecFormats []v4l2.Fourcc
	// InputFormats are the raw formats of the OUTPUT queue. Default NV12M
	// and YUV420M.
	InputFormats []v4l2.Fourcc
	// PreferredFormats is returned by PreferredInputFormats. Default NV12M.
	PreferredFormats []v4l2.Fourcc
	// Alignment of the coded size. Default 16.
	Alignment int
	// MaxWidth and MaxHeight bound the coded size. Default 4096x2304.
	MaxWidth  int
	MaxHeight int
	// CropAlignment rounds applied crop dimensions down. 0 keeps them.
	CropAlignment int
	// DisableSelection makes S_SELECTION unsupported.
	DisableSelection bool
	// DisableEncoderCmd makes ENCODER_CMD unsupported.
	DisableEncoderCmd bool
	// ExposeSPSPPSBeforeIDR exposes the control that repeats SPS and PPS in
	// front of every IDR.
	ExposeSPSPPSBeforeIDR bool
	// HiddenCtrls are reported as not exposed.
	HiddenCtrls []uint32
	// MaxBuffers caps REQBUFS grants. 0 is unlimited.
	MaxBuffers int
	// OutputBufferSize overrides the CAPTURE sizeimage chosen by S_FMT.
	OutputBufferSize int
	// Capabilities overrides the QUERYCAP capabilities.
	Capabilities uint32
}

type simBufferState int

const (
	simFree simBufferState = iota
	simQueued
	simDone
)

type simBuffer struct {
	state  simBufferState
	mmap   [][]byte
	queued v4l2.Buffer
}

type simQueue struct {
	bufType   v4l2.BufType
	format    v4l2.Format
	hasFormat bool
	memory    v4l2.Memory
	buffers   []simBuffer
	pending   []int
	done      []v4l2.Buffer
	streaming bool
}

func (q *simQueue) reset() {
	for i := range q.buffers {
		q.buffers[i].state = simFree
	}
	q.pending = nil
	q.done = nil
}

// SimulatedM2MDevice is an in-memory M2M H.264 encoder.
//
// Each input buffer is encoded as soon as both queues stream and a CAPTURE
// buffer is queued. The produced bitstream is a valid Annex-B sequence of
// SPS, PPS, IDR and non-IDR NAL units with synthetic slice payloads. The
// first frame of a stream and every frame after a FORCE_KEY_FRAME write is
// an IDR. SPS and PPS precede the first IDR only, unless the
// SPS_PPS_BEFORE_IDR control is exposed and enabled.
type SimulatedM2MDevice struct {
	config SimulatedDeviceConfig

	mu            sync.Mutex
	opened        bool
	closed        bool
	codec         v4l2.Fourcc
	output        simQueue
	capture       simQueue
	ctrls         map[uint32]int32
	interval      [2]uint32
	crop          v4l2.Rect
	faults        map[Op]error
	ctrlFaults    map[uint32]error
	calls         []string
	forceKeyframe bool
	streamFrames  int
	sinceIDR      int
	draining      bool
	stopped       bool
	sequence      uint32
	encoded       int

	notify    chan struct{}
	interrupt chan struct{}
}

// NewSimulatedM2MDevice creates a simulated encoder device.
func NewSimulatedM2MDevice(config SimulatedDeviceConfig) *SimulatedM2MDevice {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")

	if len(config.CodecFormats) == 0 {
		config.CodecFormats = []v4l2.Fourcc{v4l2.PixFmtH264}
	}
	if len(config.InputFormats) == 0 {
		config.InputFormats = []v4l2.Fourcc{v4l2.PixFmtNV12M, v4l2.PixFmtYUV420M}
	}
	if len(config.PreferredFormats) == 0 {
		config.PreferredFormats = []v4l2.Fourcc{v4l2.PixFmtNV12M}
	}
	if config.Alignment <= 0 {
		config.Alignment = 16
	}
	if config.MaxWidth <= 0 {
		config.MaxWidth = 4096
	}
	if config.MaxHeight <= 0 {
		config.MaxHeight = 2304
	}
	if config.Capabilities == 0 {
		config.Capabilities = v4l2.CapVideoM2MMPlane | v4l2.CapStreaming | v4l2.CapDeviceCaps
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewSimulatedM2MDevice",
		"codecs":        config.CodecFormats,
		"input_formats": config.InputFormats,
		"selection":     !config.DisableSelection,
	}).Info("Creating simulated M2M encoder device for testing")

	return &SimulatedM2MDevice{
		config:     config,
		output:     simQueue{bufType: v4l2.BufTypeVideoOutputMPlane},
		capture:    simQueue{bufType: v4l2.BufTypeVideoCaptureMPlane},
		ctrls:      make(map[uint32]int32),
		faults:     make(map[Op]error),
		ctrlFaults: make(map[uint32]error),
		notify:     make(chan struct{}, 1),
		interrupt:  make(chan struct{}, 1),
	}
}

// SetFault makes every later call of op fail with err.
func (s *SimulatedM2MDevice) SetFault(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// ClearFault removes a fault set with SetFault.
func (s *SimulatedM2MDevice) ClearFault(op Op) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.faults, op)
}

// SetCtrlFault makes writes of control id fail with err.
func (s *SimulatedM2MDevice) SetCtrlFault(id uint32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrlFaults[id] = err
}

// Calls returns the log of successful device calls, oldest first, for
// example "STREAMON VIDEO_CAPTURE_MPLANE" or "S_EXT_CTRLS BITRATE=1000".
func (s *SimulatedM2MDevice) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CountCalls returns how many logged calls start with prefix.
func (s *SimulatedM2MDevice) CountCalls(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// CtrlValue returns the last value written to a control.
func (s *SimulatedM2MDevice) CtrlValue(id uint32) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.ctrls[id]
	return v, ok
}

// FrameInterval returns the last S_PARM time per frame.
func (s *SimulatedM2MDevice) FrameInterval() (numerator, denominator uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval[0], s.interval[1]
}

// FramesEncoded returns the number of input buffers turned into bitstream.
func (s *SimulatedM2MDevice) FramesEncoded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encoded
}

// IsStreaming reports the streaming state of a queue.
func (s *SimulatedM2MDevice) IsStreaming(bufType v4l2.BufType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.queueLocked(bufType)
	return err == nil && q.streaming
}

func (s *SimulatedM2MDevice) record(format string, args ...interface{}) {
	call := fmt.Sprintf(format, args...)
	s.calls = append(s.calls, call)
	logrus.WithFields(logrus.Fields{
		"function": "SimulatedM2MDevice",
		"call":     call,
	}).Debug("Simulated device call")
}

func (s *SimulatedM2MDevice) checkLocked(op Op) error {
	if s.closed {
		return interfaces.ErrDeviceClosed
	}
	if !s.opened && op != OpOpen {
		return fmt.Errorf("%s: device not opened", op)
	}
	if err := s.faults[op]; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *SimulatedM2MDevice) queueLocked(bufType v4l2.BufType) (*simQueue, error) {
	switch bufType {
	case v4l2.BufTypeVideoOutputMPlane, v4l2.BufTypeVideoOutput:
		return &s.output, nil
	case v4l2.BufTypeVideoCaptureMPlane, v4l2.BufTypeVideoCapture:
		return &s.capture, nil
	}
	return nil, fmt.Errorf("invalid buffer type %s", bufType)
}

func containsFourcc(list []v4l2.Fourcc, f v4l2.Fourcc) bool {
	for _, c := range list {
		if c == f {
			return true
		}
	}
	return false
}

func alignUp(v, a int) int { return (v + a - 1) / a * a }

// Open implements IDevice.Open.
func (s *SimulatedM2MDevice) Open(codec v4l2.Fourcc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpOpen); err != nil {
		return err
	}
	if !containsFourcc(s.config.CodecFormats, codec) {
		return fmt.Errorf("no encoder for %s: %w", codec, interfaces.ErrUnsupported)
	}
	s.opened = true
	s.codec = codec
	s.record("OPEN %s", codec)
	return nil
}

// QueryCapabilities implements IDevice.QueryCapabilities.
func (s *SimulatedM2MDevice) QueryCapabilities() (v4l2.Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpQueryCap); err != nil {
		return v4l2.Capability{}, err
	}
	s.record("QUERYCAP")
	return v4l2.Capability{
		Driver:       "m2m-sim",
		Card:         "Simulated M2M H.264 encoder",
		BusInfo:      "platform:m2m-sim",
		Version:      0x00060100,
		Capabilities: s.config.Capabilities,
		DeviceCaps:   s.config.Capabilities &^ v4l2.CapDeviceCaps,
	}, nil
}

// TryEncoderCommand implements IDevice.TryEncoderCommand.
func (s *SimulatedM2MDevice) TryEncoderCommand(cmd v4l2.EncoderCmd) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpEncoderCmd); err != nil {
		return err
	}
	if s.config.DisableEncoderCmd || (cmd != v4l2.EncCmdStart && cmd != v4l2.EncCmdStop) {
		return fmt.Errorf("TRY_ENCODER_CMD %s: %w", cmd, interfaces.ErrUnsupported)
	}
	return nil
}

// EncoderCommand implements IDevice.EncoderCommand.
func (s *SimulatedM2MDevice) EncoderCommand(cmd v4l2.EncoderCmd) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpEncoderCmd); err != nil {
		return err
	}
	if s.config.DisableEncoderCmd {
		return fmt.Errorf("ENCODER_CMD %s: %w", cmd, interfaces.ErrUnsupported)
	}

	switch cmd {
	case v4l2.EncCmdStop:
		if s.output.streaming && s.capture.streaming {
			s.draining = true
		}
	case v4l2.EncCmdStart:
		s.draining = false
		s.stopped = false
	default:
		return fmt.Errorf("ENCODER_CMD %s: %w", cmd, interfaces.ErrUnsupported)
	}
	s.record("ENCODER_CMD %s", cmd)
	s.processLocked()
	return nil
}

func rawPlanes(f v4l2.Fourcc, w, h uint32) []v4l2.PlaneFormat {
	switch f {
	case v4l2.PixFmtNV12M:
		return []v4l2.PlaneFormat{{SizeImage: w * h, BytesPerLine: w}, {SizeImage: w * h / 2, BytesPerLine: w}}
	case v4l2.PixFmtYUV420M:
		return []v4l2.PlaneFormat{
			{SizeImage: w * h, BytesPerLine: w},
			{SizeImage: w * h / 4, BytesPerLine: w / 2},
			{SizeImage: w * h / 4, BytesPerLine: w / 2},
		}
	}
	return []v4l2.PlaneFormat{{SizeImage: w * h * 3 / 2, BytesPerLine: w}}
}

// SetFormat implements IDevice.SetFormat.
func (s *SimulatedM2MDevice) SetFormat(f *v4l2.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpSetFormat); err != nil {
		return err
	}
	q, err := s.queueLocked(f.Type)
	if err != nil {
		return err
	}
	if q.streaming || len(q.buffers) > 0 {
		return fmt.Errorf("S_FMT %s: device busy", f.Type)
	}

	w := uint32(alignUp(minInt(maxInt(int(f.Width), 1), s.config.MaxWidth), s.config.Alignment))
	h := uint32(alignUp(minInt(maxInt(int(f.Height), 1), s.config.MaxHeight), s.config.Alignment))
	f.Width, f.Height = w, h

	if q == &s.output {
		if !containsFourcc(s.config.InputFormats, f.PixelFormat) {
			f.PixelFormat = s.config.InputFormats[0]
		}
		f.Planes = rawPlanes(f.PixelFormat, w, h)
		s.crop = v4l2.Rect{Width: w, Height: h}
	} else {
		if !containsFourcc(s.config.CodecFormats, f.PixelFormat) {
			f.PixelFormat = s.config.CodecFormats[0]
		}
		size := uint32(0)
		if len(f.Planes) > 0 {
			size = f.Planes[0].SizeImage
		}
		if size == 0 {
			size = w * h * 3 / 4
		}
		if s.config.OutputBufferSize > 0 {
			size = uint32(s.config.OutputBufferSize)
		}
		f.Planes = []v4l2.PlaneFormat{{SizeImage: size}}
	}

	q.format = *f
	q.format.Planes = append([]v4l2.PlaneFormat(nil), f.Planes...)
	q.hasFormat = true
	s.record("S_FMT %s %s %dx%d", f.Type, f.PixelFormat, w, h)
	return nil
}

// GetFormat implements IDevice.GetFormat.
func (s *SimulatedM2MDevice) GetFormat(bufType v4l2.BufType) (v4l2.Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpSetFormat); err != nil {
		return v4l2.Format{}, err
	}
	q, err := s.queueLocked(bufType)
	if err != nil {
		return v4l2.Format{}, err
	}
	if !q.hasFormat {
		return v4l2.Format{}, fmt.Errorf("G_FMT %s: no format set", bufType)
	}
	f := q.format
	f.Planes = append([]v4l2.PlaneFormat(nil), q.format.Planes...)
	return f, nil
}

func (s *SimulatedM2MDevice) clampCropLocked(r v4l2.Rect) v4l2.Rect {
	w, h := s.output.format.Width, s.output.format.Height
	if r.Left < 0 {
		r.Left = 0
	}
	if r.Top < 0 {
		r.Top = 0
	}
	if uint32(r.Left) > w {
		r.Left = int32(w)
	}
	if uint32(r.Top) > h {
		r.Top = int32(h)
	}
	if r.Width > w-uint32(r.Left) {
		r.Width = w - uint32(r.Left)
	}
	if r.Height > h-uint32(r.Top) {
		r.Height = h - uint32(r.Top)
	}
	if a := uint32(s.config.CropAlignment); a > 1 {
		r.Width = r.Width / a * a
		r.Height = r.Height / a * a
	}
	return r
}

// SetSelection implements IDevice.SetSelection.
func (s *SimulatedM2MDevice) SetSelection(bufType v4l2.BufType, target uint32, r v4l2.Rect) (v4l2.Rect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpSetSelection); err != nil {
		return v4l2.Rect{}, err
	}
	if s.config.DisableSelection {
		return v4l2.Rect{}, fmt.Errorf("S_SELECTION: %w", interfaces.ErrUnsupported)
	}
	if bufType != v4l2.BufTypeVideoOutput || target != v4l2.SelTgtCrop {
		return v4l2.Rect{}, fmt.Errorf("S_SELECTION %s target %d: invalid argument", bufType, target)
	}
	s.crop = s.clampCropLocked(r)
	s.record("S_SELECTION %s", s.crop)
	return s.crop, nil
}

// SetCrop implements IDevice.SetCrop.
func (s *SimulatedM2MDevice) SetCrop(bufType v4l2.BufType, r v4l2.Rect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpSetSelection); err != nil {
		return err
	}
	if bufType != v4l2.BufTypeVideoOutputMPlane {
		return fmt.Errorf("S_CROP %s: invalid argument", bufType)
	}
	s.crop = s.clampCropLocked(r)
	s.record("S_CROP %s", s.crop)
	return nil
}

// GetCrop implements IDevice.GetCrop.
func (s *SimulatedM2MDevice) GetCrop(bufType v4l2.BufType) (v4l2.Rect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpSetSelection); err != nil {
		return v4l2.Rect{}, err
	}
	return s.crop, nil
}

// RequestBuffers implements IDevice.RequestBuffers.
func (s *SimulatedM2MDevice) RequestBuffers(bufType v4l2.BufType, memory v4l2.Memory, count int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpRequestBuffers); err != nil {
		return 0, err
	}
	q, err := s.queueLocked(bufType)
	if err != nil {
		return 0, err
	}
	if q.streaming {
		return 0, fmt.Errorf("REQBUFS %s: device busy", bufType)
	}
	if count == 0 {
		q.buffers = nil
		q.reset()
		s.record("REQBUFS %s %s 0", bufType, memory)
		return 0, nil
	}
	if !q.hasFormat {
		return 0, fmt.Errorf("REQBUFS %s: no format set", bufType)
	}
	if memory == v4l2.MemoryMMAP && q == &s.output {
		return 0, fmt.Errorf("REQBUFS %s %s: %w", bufType, memory, interfaces.ErrUnsupported)
	}
	if s.config.MaxBuffers > 0 && count > s.config.MaxBuffers {
		count = s.config.MaxBuffers
	}

	q.memory = memory
	q.buffers = make([]simBuffer, count)
	q.reset()
	if memory == v4l2.MemoryMMAP {
		for i := range q.buffers {
			planes := make([][]byte, len(q.format.Planes))
			for p, pf := range q.format.Planes {
				planes[p] = make([]byte, pf.SizeImage)
			}
			q.buffers[i].mmap = planes
		}
	}
	s.record("REQBUFS %s %s %d", bufType, memory, count)
	return count, nil
}

// MapBuffer implements IDevice.MapBuffer.
func (s *SimulatedM2MDevice) MapBuffer(bufType v4l2.BufType, index int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpRequestBuffers); err != nil {
		return nil, err
	}
	q, err := s.queueLocked(bufType)
	if err != nil {
		return nil, err
	}
	if q.memory != v4l2.MemoryMMAP || index < 0 || index >= len(q.buffers) {
		return nil, fmt.Errorf("mmap %s buffer %d: invalid argument", bufType, index)
	}
	return q.buffers[index].mmap, nil
}

// QueueBuffer implements IDevice.QueueBuffer.
func (s *SimulatedM2MDevice) QueueBuffer(b *v4l2.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpQueueBuffer); err != nil {
		return err
	}
	q, err := s.queueLocked(b.Type)
	if err != nil {
		return err
	}
	if b.Memory != q.memory {
		return fmt.Errorf("QBUF %s: memory %s, queue uses %s", b.Type, b.Memory, q.memory)
	}
	idx := int(b.Index)
	if idx >= len(q.buffers) || q.buffers[idx].state != simFree {
		return fmt.Errorf("QBUF %s %d: invalid or busy buffer", b.Type, idx)
	}
	if len(b.Planes) != len(q.format.Planes) {
		return fmt.Errorf("QBUF %s %d: %d planes, format has %d", b.Type, idx, len(b.Planes), len(q.format.Planes))
	}
	for i, p := range b.Planes {
		if p.BytesUsed > p.Length {
			return fmt.Errorf("QBUF %s %d: plane %d bytesused %d > length %d", b.Type, idx, i, p.BytesUsed, p.Length)
		}
		switch b.Memory {
		case v4l2.MemoryUserPtr:
			if p.Length < q.format.Planes[i].SizeImage || len(p.UserPtr) < int(p.Length) {
				return fmt.Errorf("QBUF %s %d: plane %d userptr too small", b.Type, idx, i)
			}
		case v4l2.MemoryDMABuf:
			if p.FD < 0 {
				return fmt.Errorf("QBUF %s %d: plane %d bad fd", b.Type, idx, i)
			}
		}
	}

	queued := *b
	queued.Planes = append([]v4l2.Plane(nil), b.Planes...)
	q.buffers[idx].queued = queued
	q.buffers[idx].state = simQueued
	q.pending = append(q.pending, idx)
	s.record("QBUF %s %d", b.Type, idx)
	s.processLocked()
	return nil
}

// DequeueBuffer implements IDevice.DequeueBuffer.
func (s *SimulatedM2MDevice) DequeueBuffer(bufType v4l2.BufType, memory v4l2.Memory) (v4l2.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpDequeueBuffer); err != nil {
		return v4l2.Buffer{}, err
	}
	q, err := s.queueLocked(bufType)
	if err != nil {
		return v4l2.Buffer{}, err
	}
	if len(q.done) == 0 {
		return v4l2.Buffer{}, interfaces.ErrNoBufferReady
	}
	b := q.done[0]
	q.done = q.done[1:]
	q.buffers[b.Index].state = simFree
	s.record("DQBUF %s %d", bufType, b.Index)
	return b, nil
}

// StreamOn implements IDevice.StreamOn.
func (s *SimulatedM2MDevice) StreamOn(bufType v4l2.BufType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpStreamOn); err != nil {
		return err
	}
	q, err := s.queueLocked(bufType)
	if err != nil {
		return err
	}
	if len(q.buffers) == 0 {
		return fmt.Errorf("STREAMON %s: no buffers", bufType)
	}
	if !q.streaming && q == &s.capture {
		s.streamFrames = 0
	}
	q.streaming = true
	s.record("STREAMON %s", bufType)
	s.processLocked()
	return nil
}

// StreamOff implements IDevice.StreamOff.
func (s *SimulatedM2MDevice) StreamOff(bufType v4l2.BufType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpStreamOff); err != nil {
		return err
	}
	q, err := s.queueLocked(bufType)
	if err != nil {
		return err
	}
	q.streaming = false
	q.reset()
	s.draining = false
	s.stopped = false
	s.record("STREAMOFF %s", bufType)
	return nil
}

func (s *SimulatedM2MDevice) isExposedLocked(id uint32) bool {
	switch id {
	case v4l2.CidMPEGVideoBFrames, v4l2.CidMPEGVideoGOPSize, v4l2.CidMPEGVideoBitrate,
		v4l2.CidMPEGVideoFrameRCEnable, v4l2.CidMPEGVideoHeaderMode, v4l2.CidMPEGVideoMBRCEnable,
		v4l2.CidMPEGVideoForceKeyFrame, v4l2.CidMPEGVideoH264MinQP, v4l2.CidMPEGVideoH264MaxQP,
		v4l2.CidMPEGVideoH264Level, v4l2.CidMPEGVideoH264Profile:
	case v4l2.CidMPEGVideoH264SPSPPSBeforeIDR:
		if !s.config.ExposeSPSPPSBeforeIDR {
			return false
		}
	default:
		return false
	}
	for _, hidden := range s.config.HiddenCtrls {
		if hidden == id {
			return false
		}
	}
	return true
}

// SetExtCtrls implements IDevice.SetExtCtrls.
func (s *SimulatedM2MDevice) SetExtCtrls(class uint32, ctrls []v4l2.ExtCtrl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpSetExtCtrls); err != nil {
		return err
	}
	if class != v4l2.CtrlClassCodec {
		return fmt.Errorf("S_EXT_CTRLS class 0x%08x: %w", class, interfaces.ErrUnsupported)
	}
	for _, c := range ctrls {
		if !s.isExposedLocked(c.ID) {
			return fmt.Errorf("S_EXT_CTRLS %s: %w", c, interfaces.ErrUnsupported)
		}
		if err := s.ctrlFaults[c.ID]; err != nil {
			return fmt.Errorf("S_EXT_CTRLS %s: %w", c, err)
		}
	}
	for _, c := range ctrls {
		s.ctrls[c.ID] = c.Value
		if c.ID == v4l2.CidMPEGVideoForceKeyFrame {
			s.forceKeyframe = true
		}
		s.record("S_EXT_CTRLS %s", c)
	}
	return nil
}

// IsCtrlExposed implements IDevice.IsCtrlExposed.
func (s *SimulatedM2MDevice) IsCtrlExposed(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isExposedLocked(id)
}

// SetFrameInterval implements IDevice.SetFrameInterval.
func (s *SimulatedM2MDevice) SetFrameInterval(bufType v4l2.BufType, numerator, denominator uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(OpSetFrameInterval); err != nil {
		return err
	}
	if numerator == 0 || denominator == 0 {
		return fmt.Errorf("S_PARM %d/%d: invalid argument", numerator, denominator)
	}
	s.interval = [2]uint32{numerator, denominator}
	s.record("S_PARM %s %d/%d", bufType, numerator, denominator)
	return nil
}

// PreferredInputFormats implements IDevice.PreferredInputFormats.
func (s *SimulatedM2MDevice) PreferredInputFormats() []v4l2.Fourcc {
	return append([]v4l2.Fourcc(nil), s.config.PreferredFormats...)
}

func (s *SimulatedM2MDevice) hasDoneLocked() bool {
	return len(s.output.done) > 0 || len(s.capture.done) > 0
}

// Poll implements IDevice.Poll.
func (s *SimulatedM2MDevice) Poll(timeout time.Duration) (bool, error) {
	s.mu.Lock()
	if err := s.checkLocked(OpPoll); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if s.hasDoneLocked() {
		s.mu.Unlock()
		return true, nil
	}
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.notify:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.hasDoneLocked(), nil
	case <-s.interrupt:
		return false, nil
	case <-timer.C:
		return false, nil
	}
}

// Interrupt implements IDevice.Interrupt.
func (s *SimulatedM2MDevice) Interrupt() error {
	select {
	case s.interrupt <- struct{}{}:
	default:
	}
	return nil
}

// Close implements IDevice.Close.
func (s *SimulatedM2MDevice) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.output = simQueue{bufType: s.output.bufType}
	s.capture = simQueue{bufType: s.capture.bufType}
	s.calls = append(s.calls, "CLOSE")

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedM2MDevice.Close",
		"encoded":  s.encoded,
	}).Info("Simulated device closed")

	select {
	case s.interrupt <- struct{}{}:
	default:
	}
	return nil
}

// IsSimulation implements IDevice.IsSimulation.
func (s *SimulatedM2MDevice) IsSimulation() bool { return true }

func (s *SimulatedM2MDevice) signalLocked() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// processLocked pairs pending input buffers with pending CAPTURE buffers
// and finishes a drain once every input has been encoded.
func (s *SimulatedM2MDevice) processLocked() {
	for s.output.streaming && s.capture.streaming && !s.stopped {
		if len(s.output.pending) == 0 {
			if s.draining && len(s.capture.pending) > 0 {
				s.emitLastLocked()
			}
			return
		}
		if len(s.capture.pending) == 0 {
			return
		}
		in := s.output.pending[0]
		s.output.pending = s.output.pending[1:]
		out := s.capture.pending[0]
		s.capture.pending = s.capture.pending[1:]
		s.encodeLocked(in, out)
	}
}

func (s *SimulatedM2MDevice) emitLastLocked() {
	out := s.capture.pending[0]
	s.capture.pending = s.capture.pending[1:]
	buf := &s.capture.buffers[out]
	buf.state = simDone
	s.capture.done = append(s.capture.done, v4l2.Buffer{
		Index:    uint32(out),
		Type:     s.capture.bufType,
		Memory:   s.capture.memory,
		Flags:    v4l2.BufFlagDone | v4l2.BufFlagLast,
		Sequence: s.sequence,
		Planes:   []v4l2.Plane{{Length: uint32(len(buf.mmap[0]))}},
	})
	s.draining = false
	s.stopped = true
	s.signalLocked()
}

func (s *SimulatedM2MDevice) encodeLocked(in, out int) {
	inBuf := &s.output.buffers[in]
	outBuf := &s.capture.buffers[out]

	gop := int(s.ctrls[v4l2.CidMPEGVideoGOPSize])
	keyframe := s.streamFrames == 0 || s.forceKeyframe || (gop > 0 && s.sinceIDR >= gop)
	s.forceKeyframe = false

	var bitstream []byte
	if keyframe {
		if s.streamFrames == 0 || s.ctrls[v4l2.CidMPEGVideoH264SPSPPSBeforeIDR] == 1 {
			bitstream = appendNALU(bitstream, s.spsLocked())
			bitstream = appendNALU(bitstream, []byte{0x68, 0xce, 0x38, 0x80})
		}
		s.sinceIDR = 0
	}
	bitstream = appendNALU(bitstream, s.sliceLocked(inBuf.queued, keyframe))
	s.streamFrames++
	s.sinceIDR++
	s.encoded++

	flags := v4l2.BufFlagDone
	if keyframe {
		flags |= v4l2.BufFlagKeyframe
	} else {
		flags |= v4l2.BufFlagPFrame
	}
	dst := outBuf.mmap[0]
	used := copy(dst, bitstream)
	if used < len(bitstream) {
		flags |= v4l2.BufFlagError
		used = 0
	}

	s.sequence++
	outBuf.state = simDone
	s.capture.done = append(s.capture.done, v4l2.Buffer{
		Index:     uint32(out),
		Type:      s.capture.bufType,
		Memory:    s.capture.memory,
		Flags:     flags,
		Sequence:  s.sequence,
		Timestamp: inBuf.queued.Timestamp,
		Planes:    []v4l2.Plane{{BytesUsed: uint32(used), Length: uint32(len(dst))}},
	})

	inBuf.state = simDone
	done := inBuf.queued
	done.Flags = v4l2.BufFlagDone
	done.Sequence = s.sequence
	s.output.done = append(s.output.done, done)
	s.signalLocked()
}

var profileIDCs = map[int32]byte{
	v4l2.H264ProfileBaseline:            66,
	v4l2.H264ProfileConstrainedBaseline: 66,
	v4l2.H264ProfileMain:                77,
	v4l2.H264ProfileExtended:            88,
	v4l2.H264ProfileHigh:                100,
}

func (s *SimulatedM2MDevice) spsLocked() []byte {
	profile, ok := profileIDCs[s.ctrls[v4l2.CidMPEGVideoH264Profile]]
	if !ok {
		profile = 66
	}
	level := byte(40)
	if v, ok := s.ctrls[v4l2.CidMPEGVideoH264Level]; ok {
		for idc := byte(9); idc <= 62; idc++ {
			if l, ok := v4l2.H264LevelIDCToV4L2(idc); ok && l == v {
				level = idc
				break
			}
		}
	}
	return []byte{0x67, profile, 0xc0, level, 0xda, 0x01, 0x40, 0x16, 0xe8}
}

// sliceLocked builds a slice NAL unit whose payload depends on the frame
// content. Payload bytes have the top bit set so no start code can appear.
func (s *SimulatedM2MDevice) sliceLocked(in v4l2.Buffer, keyframe bool) []byte {
	header := byte(0x41)
	size := 24
	if keyframe {
		header = 0x65
		size = 96
	}
	var sum uint32
	for _, p := range in.Planes {
		if p.UserPtr == nil {
			continue
		}
		data := p.UserPtr[p.DataOffset:p.BytesUsed]
		for i := 0; i < len(data); i += 61 {
			sum = sum*31 + uint32(data[i])
		}
	}
	slice := make([]byte, 1, size)
	slice[0] = header
	seed := sum ^ s.sequence*2654435761
	for len(slice) < size {
		seed = seed*1664525 + 1013904223
		slice = append(slice, byte(seed>>24)|0x80)
	}
	return slice
}

func appendNALU(dst, nalu []byte) []byte {
	dst = append(dst, 0, 0, 0, 1)
	return append(dst, nalu...)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
