package m2mencoder

import (
	"errors"
	"fmt"

	"github.com/opd-ai/m2mencoder/device"
	"github.com/opd-ai/m2mencoder/imageproc"
	"github.com/opd-ai/m2mencoder/v4l2"
	"github.com/opd-ai/m2mencoder/video"
	"github.com/sirupsen/logrus"
)

// inputFrameInfo is a frame waiting for a hardware input buffer. A nil
// frame is the flush sentinel.
type inputFrameInfo struct {
	frame         *video.VideoFrame
	forceKeyframe bool
	// ipOutputBufferIndex is the image processor slot holding frame, -1
	// when the frame did not go through the image processor.
	ipOutputBufferIndex int
}

// inputRecord keeps a queued frame alive until the device returns the
// buffer reading it.
type inputRecord struct {
	frame               *video.VideoFrame
	ipOutputBufferIndex int
}

func (e *Encoder) encodeTask(frame *video.VideoFrame, forceKeyframe bool) {
	switch e.state {
	case StateError:
		if frame != nil {
			e.stats.FramesDropped++
		}
		logrus.WithFields(logrus.Fields{
			"function": "Encoder.encodeTask",
		}).Debug("Dropping frame in error state")
		return
	case StateUninitialized, StateDestroyed:
		logrus.WithFields(logrus.Fields{
			"function": "Encoder.encodeTask",
			"state":    e.state.String(),
		}).Warn("Encode called before Initialize")
		return
	}

	if frame != nil {
		e.stats.FramesSubmitted++
		if err := e.reconfigureFormatIfNeeded(frame); err != nil {
			e.setErrorState(err)
			return
		}
		if e.inputQueue.AllocatedBuffersCount() == 0 {
			if err := e.createInputBuffers(); err != nil {
				e.setErrorState(err)
				return
			}
		}
	}

	if e.adapter != nil {
		if err := e.adapter.Submit(frame, forceKeyframe); err != nil {
			e.setErrorState(newError(PlatformFailureError, "image processor", err))
		}
		return
	}

	e.encoderInputQueue = append(e.encoderInputQueue, inputFrameInfo{
		frame:               frame,
		forceKeyframe:       forceKeyframe,
		ipOutputBufferIndex: -1,
	})
	e.enqueue()
}

// reconfigureFormatIfNeeded checks the coded size of frame against the
// configured input. In native input mode the first frame may change the
// device format or bring in an image processor; the size is fixed after
// that.
func (e *Encoder) reconfigureFormatIfNeeded(frame *video.VideoFrame) *EncoderError {
	coded := frame.CodedSize()
	if !e.nativeInputMode {
		if coded != e.inputFrameSize {
			return newError(InvalidArgumentError, "check frame size",
				fmt.Errorf("frame coded size %s, expected %s", coded, e.inputFrameSize))
		}
		return nil
	}

	if e.inputQueue.AllocatedBuffersCount() > 0 {
		if coded != e.inputFrameSize {
			return newError(InvalidArgumentError, "check frame size",
				fmt.Errorf("input frame size changed during encoding: %s, expected %s", coded, e.inputFrameSize))
		}
		return nil
	}

	bufferSize := video.Size{Width: frame.Stride(0), Height: coded.Height}
	if coded == e.inputFrameSize {
		if e.adapter == nil {
			if e.deviceInputLayout.CodedSize == bufferSize {
				return nil
			}
			if err := e.negotiateInputFormat(e.deviceInputLayout.Format, bufferSize); err != nil {
				return newError(InvalidArgumentError, "renegotiate input format", err)
			}
			return nil
		}

		in := e.adapter.Processor().InputConfig()
		if in.Size().Height == bufferSize.Height && in.Layout.Planes[0].Stride == bufferSize.Width {
			return nil
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Encoder.reconfigureFormatIfNeeded",
		"frame_size": coded.String(),
		"configured": e.inputFrameSize.String(),
	}).Info("Frame size differs from the configured size, scaling in the image processor")

	e.inputFrameSize = coded
	if err := e.createImageProcessor(frame.Layout, frame.VisibleRect, frame.Storage); err != nil {
		return newError(InvalidArgumentError, "create image processor", err)
	}
	if err := e.selectMemoryForProcessor(); err != nil {
		return newError(InvalidArgumentError, "select input memory", err)
	}
	return nil
}

// negotiateInputFormat sets the device input format for format at size and
// records the resulting layout, visible rectangle and input frame size.
func (e *Encoder) negotiateInputFormat(format video.PixelFormat, size video.Size) *EncoderError {
	in, err := e.negotiator.NegotiateInputFormat(format, size, e.encoderInputVisibleRect)
	if err != nil {
		kind := PlatformFailureError
		if errors.Is(err, device.ErrSizeNotSupported) {
			kind = InvalidArgumentError
		}
		return newError(kind, "negotiate input format", err)
	}

	e.deviceInputLayout = in.Layout
	e.encoderInputVisibleRect = in.VisibleRect
	if e.nativeInputMode {
		e.inputFrameSize = format.AlignedSize(e.encoderInputVisibleRect.Size())
	} else {
		e.inputFrameSize = in.AllocatedSize
	}
	return nil
}

// createImageProcessor replaces the image processor with one converting
// frames of inputLayout into the device input layout.
func (e *Encoder) createImageProcessor(inputLayout video.FrameLayout, inputVisible video.Rect, storage video.StorageType) *EncoderError {
	if e.adapter != nil {
		e.adapter.Close()
		e.adapter = nil
	}

	in := imageproc.NewPortConfig(inputLayout, inputVisible, storage)
	out := imageproc.NewPortConfig(e.deviceInputLayout, e.encoderInputVisibleRect, video.StorageOwnedMemory)
	onError := func(err error) {
		e.post(func() {
			e.setErrorState(newError(PlatformFailureError, "image processor", err))
		})
	}
	proc, err := imageproc.Create(in, out, []imageproc.OutputMode{imageproc.OutputModeImport}, onError)
	if err != nil {
		return newError(PlatformFailureError, "create image processor", err)
	}

	adapter, err := imageproc.NewAdapter(proc, processorBufferCount, e.deviceInputLayout, imageproc.Hooks{
		Post: func(fn func()) { e.post(fn) },
		Emit: e.frameProcessed,
		OnError: func(err error) {
			e.setErrorState(newError(PlatformFailureError, "image processor", err))
		},
	})
	if err != nil {
		proc.Close()
		return newError(PlatformFailureError, "create image processor", err)
	}
	e.adapter = adapter

	logrus.WithFields(logrus.Fields{
		"function":      "Encoder.createImageProcessor",
		"input_layout":  inputLayout.String(),
		"input_visible": inputVisible.String(),
		"device_layout": e.deviceInputLayout.String(),
	}).Info("Image processor created")
	return nil
}

// frameProcessed receives converted frames, and the flush sentinel once
// every earlier frame is converted.
func (e *Encoder) frameProcessed(out imageproc.Output) {
	if e.state == StateError {
		return
	}
	e.encoderInputQueue = append(e.encoderInputQueue, inputFrameInfo{
		frame:               out.Frame,
		forceKeyframe:       out.ForceKeyframe,
		ipOutputBufferIndex: out.Index,
	})
	e.enqueue()
}

// initInputMemoryType selects how input frames are shared with the device.
func (e *Encoder) initInputMemoryType(cfg *Config) *EncoderError {
	if e.adapter != nil {
		return e.selectMemoryForProcessor()
	}
	switch {
	case cfg.StorageType == video.StorageDmabuf:
		e.inputMemory = v4l2.MemoryDMABuf
	case cfg.StorageType.IsMappable():
		e.inputMemory = v4l2.MemoryUserPtr
	default:
		return newError(InvalidArgumentError, "select input memory",
			fmt.Errorf("unsupported input storage %s", cfg.StorageType))
	}
	return nil
}

func (e *Encoder) selectMemoryForProcessor() *EncoderError {
	storage := e.adapter.Processor().OutputConfig().Storage
	switch {
	case storage == video.StorageDmabuf:
		e.inputMemory = v4l2.MemoryDMABuf
	case storage.IsMappable():
		e.inputMemory = v4l2.MemoryUserPtr
	default:
		return newError(PlatformFailureError, "select input memory",
			fmt.Errorf("unsupported image processor output storage %s", storage))
	}
	return nil
}

func (e *Encoder) createInputBuffers() *EncoderError {
	n, err := e.inputQueue.AllocateBuffers(inputBufferCount, e.inputMemory)
	if err != nil {
		return newError(PlatformFailureError, "allocate input buffers", err)
	}
	if n < inputBufferCount {
		return newError(PlatformFailureError, "allocate input buffers",
			fmt.Errorf("device granted %d of %d buffers", n, inputBufferCount))
	}
	e.inputRecords = make([]inputRecord, n)
	for i := range e.inputRecords {
		e.inputRecords[i].ipOutputBufferIndex = -1
	}
	return nil
}

func (e *Encoder) enqueueTask() {
	switch e.state {
	case StateInitialized, StateEncoding, StateFlushing:
		e.enqueue()
	}
}

// enqueue moves pending frames into free input buffers, then keeps the
// CAPTURE queue full once input streaming has started.
func (e *Encoder) enqueue() {
	oldQueued := e.inputQueue.QueuedBuffersCount()

	for len(e.encoderInputQueue) > 0 && e.state != StateFlushing {
		if e.encoderInputQueue[0].frame == nil {
			e.encoderInputQueue = e.encoderInputQueue[1:]
			if !e.inputQueue.IsStreaming() {
				// Nothing was ever handed to the device.
				e.completeFlush(true)
				return
			}
			if err := e.dev.EncoderCommand(v4l2.EncCmdStop); err != nil {
				e.setErrorState(newError(PlatformFailureError, "request drain", err))
				e.completeFlush(false)
				return
			}
			e.state = StateFlushing
			logrus.WithFields(logrus.Fields{
				"function": "Encoder.enqueue",
			}).Info("Drain requested")
			break
		}

		buf, ok := e.inputQueue.GetFreeBuffer()
		if !ok {
			break
		}
		if err := e.enqueueInputRecord(buf); err != nil {
			e.setErrorState(err)
			return
		}
	}

	doStreamon := oldQueued == 0 && e.inputQueue.QueuedBuffersCount() != 0 && !e.inputQueue.IsStreaming()
	if !e.inputQueue.IsStreaming() && !doStreamon {
		// No CAPTURE buffer is queued before the first input buffer, so the
		// first frame may still change the input format.
		return
	}

	for {
		buf, ok := e.outputQueue.GetFreeBuffer()
		if !ok {
			break
		}
		if err := buf.QueueMMap(); err != nil {
			e.setErrorState(newError(PlatformFailureError, "queue output buffer", err))
			return
		}
	}

	if doStreamon {
		// CAPTURE first: some drivers block forever on a CAPTURE STREAMON
		// that follows the OUTPUT one.
		if err := e.outputQueue.Streamon(); err != nil {
			e.setErrorState(newError(PlatformFailureError, "start output streaming", err))
			return
		}
		if err := e.inputQueue.Streamon(); err != nil {
			e.setErrorState(newError(PlatformFailureError, "start input streaming", err))
			return
		}
	}
}

// enqueueInputRecord queues the frame at the head of the pending queue into
// buf.
func (e *Encoder) enqueueInputRecord(buf *device.WritableBuffer) *EncoderError {
	info := e.encoderInputQueue[0]
	e.encoderInputQueue = e.encoderInputQueue[1:]
	frame := info.frame

	if info.forceKeyframe {
		ctrl := v4l2.ExtCtrl{ID: v4l2.CidMPEGVideoForceKeyFrame, Value: 1}
		if err := e.dev.SetExtCtrls(v4l2.CtrlClassCodec, []v4l2.ExtCtrl{ctrl}); err != nil {
			return newError(PlatformFailureError, "force keyframe", err)
		}
	}

	buf.SetTimestamp(frame.Timestamp)

	format, _ := e.inputQueue.Format()
	coded := e.deviceInputLayout.CodedSize
	pixfmt := e.deviceInputLayout.Format
	planes := buf.PlanesCount()
	for i := 0; i < planes; i++ {
		used := pixfmt.PlaneSize(i, coded).Area()
		if planes == 1 {
			used = pixfmt.AllocationSize(coded)
		}
		planeSize := int(format.Planes[i].SizeImage)

		switch e.inputMemory {
		case v4l2.MemoryUserPtr:
			buf.SetPlaneSize(i, planeSize)
		case v4l2.MemoryDMABuf:
			offset := 0
			if i < len(frame.Layout.Planes) {
				offset = frame.Layout.Planes[i].Offset
			}
			buf.SetPlaneDataOffset(i, offset)
			used += offset
			buf.SetPlaneSize(i, planeSize+offset)
		}
		buf.SetPlaneBytesUsed(i, used)
	}

	var err error
	switch e.inputMemory {
	case v4l2.MemoryUserPtr:
		var ptrs [][]byte
		ptrs, err = userPointers(frame, planes)
		if err == nil {
			err = buf.QueueUserPtr(ptrs)
		}
	case v4l2.MemoryDMABuf:
		var fds []int
		fds, err = dmabufFDs(frame, planes)
		if err == nil {
			err = buf.QueueDMABuf(fds)
		}
	default:
		err = fmt.Errorf("unsupported input memory %s", e.inputMemory)
	}
	if err != nil {
		return newError(PlatformFailureError, "queue input buffer", err)
	}

	e.inputRecords[buf.Index()] = inputRecord{
		frame:               frame,
		ipOutputBufferIndex: info.ipOutputBufferIndex,
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Encoder.enqueueInputRecord",
		"index":     buf.Index(),
		"timestamp": frame.Timestamp,
		"keyframe":  info.forceKeyframe,
	}).Debug("Input buffer queued")
	return nil
}

// userPointers returns the memory planes of a mapped frame. A single
// memory plane spans the whole contiguous frame.
func userPointers(frame *video.VideoFrame, planes int) ([][]byte, error) {
	if !frame.Storage.IsMappable() && len(frame.Data) == 0 {
		return nil, fmt.Errorf("frame storage %s is not mappable", frame.Storage)
	}
	if planes == 1 && len(frame.Data) > 0 {
		d := frame.Data[0]
		return [][]byte{d[:cap(d)]}, nil
	}
	if len(frame.Data) < planes {
		return nil, fmt.Errorf("frame has %d planes, device needs %d", len(frame.Data), planes)
	}
	return frame.Data[:planes], nil
}

// dmabufFDs returns one descriptor per memory plane. Frames with fewer
// descriptors than planes keep all planes in the last descriptor.
func dmabufFDs(frame *video.VideoFrame, planes int) ([]int, error) {
	if len(frame.FDs) == 0 {
		return nil, fmt.Errorf("frame has no dmabuf descriptors")
	}
	fds := make([]int, planes)
	for i := range fds {
		fds[i] = frame.FDs[min(i, len(frame.FDs)-1)]
	}
	return fds, nil
}
