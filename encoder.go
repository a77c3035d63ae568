package m2mencoder

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/m2mencoder/device"
	"github.com/opd-ai/m2mencoder/h264"
	"github.com/opd-ai/m2mencoder/imageproc"
	"github.com/opd-ai/m2mencoder/interfaces"
	"github.com/opd-ai/m2mencoder/v4l2"
	"github.com/opd-ai/m2mencoder/video"
	"github.com/sirupsen/logrus"
)

// Options tunes an Encoder.
type Options struct {
	// PollTimeout bounds a single device wait. Zero uses the poller default.
	PollTimeout time.Duration
}

// Encoder drives an M2M hardware encoder.
//
// Public methods may be called from any goroutine; they post messages to
// the encoder goroutine, which owns all state below the marker. Client
// notifications are delivered on a separate client goroutine.
type Encoder struct {
	dev  interfaces.IDevice
	opts Options

	encoderRunner *taskRunner
	clientRunner  *taskRunner

	client         Client
	clientInvalid  atomic.Bool
	initStarted    atomic.Bool
	flushSupported atomic.Bool
	destroyOnce    sync.Once
	done           chan struct{}

	// Owned by the encoder goroutine.
	state       State
	invalidated bool

	outputFourcc    v4l2.Fourcc
	nativeInputMode bool
	inputMemory     v4l2.Memory

	inputQueue  *device.Queue
	outputQueue *device.Queue
	negotiator  *device.Negotiator
	poller      *device.Poller
	adapter     *imageproc.Adapter
	injector    *h264.Injector

	deviceInputLayout       video.FrameLayout
	encoderInputVisibleRect video.Rect
	inputFrameSize          video.Size
	outputBufferByteSize    int

	encoderInputQueue []inputFrameInfo
	inputRecords      []inputRecord
	outputBufferQueue []encodedChunk
	bitstreamPool     []*bitstreamBufferRef
	flushCallback     FlushCallback

	stats Stats
}

// New creates an encoder for dev. The device is opened by Initialize.
func New(dev interfaces.IDevice, opts Options) *Encoder {
	logrus.WithFields(logrus.Fields{
		"function":     "New",
		"simulation":   dev.IsSimulation(),
		"poll_timeout": opts.PollTimeout,
	}).Info("Creating M2M encoder")

	return &Encoder{
		dev:           dev,
		opts:          opts,
		encoderRunner: newTaskRunner("encoder"),
		clientRunner:  newTaskRunner("client"),
		done:          make(chan struct{}),
	}
}

// post runs fn on the encoder goroutine unless the encoder was torn down
// before fn got to run.
func (e *Encoder) post(fn func()) bool {
	return e.encoderRunner.Post(func() {
		if e.invalidated {
			return
		}
		fn()
	})
}

// notifyClient runs fn on the client goroutine unless Destroy was called.
func (e *Encoder) notifyClient(fn func(c Client)) {
	e.clientRunner.Post(func() {
		if e.clientInvalid.Load() {
			return
		}
		fn(e.client)
	})
}

// Initialize configures the device for cfg and blocks until the encoder
// goroutine has finished. On success client.RequireBitstreamBuffers follows.
// On failure the encoder stays uninitialized and the client is not called.
func (e *Encoder) Initialize(cfg Config, client Client) error {
	logrus.WithFields(logrus.Fields{
		"function": "Encoder.Initialize",
		"config":   cfg.String(),
	}).Info("Initializing encoder")

	if client == nil {
		return newError(InvalidArgumentError, "initialize", fmt.Errorf("nil client"))
	}
	if err := cfg.Validate(); err != nil {
		return newError(InvalidArgumentError, "validate config", err)
	}
	if e.clientInvalid.Load() {
		return newError(IllegalStateError, "initialize", fmt.Errorf("encoder destroyed"))
	}
	if !e.initStarted.CompareAndSwap(false, true) {
		return newError(IllegalStateError, "initialize", fmt.Errorf("already initialized"))
	}
	e.client = client

	codec := cfg.OutputProfile.Codec()
	if err := e.dev.Open(codec); err != nil {
		return newError(PlatformFailureError, "open device", err)
	}

	if err := e.dev.TryEncoderCommand(v4l2.EncCmdStop); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Encoder.Initialize",
			"error":    err.Error(),
		}).Info("Device does not support flush")
	} else {
		e.flushSupported.Store(true)
	}

	caps, err := e.dev.QueryCapabilities()
	if err != nil {
		return newError(PlatformFailureError, "query capabilities", err)
	}
	const required = v4l2.CapVideoM2MMPlane | v4l2.CapStreaming
	if !caps.Has(required) {
		return newError(PlatformFailureError, "query capabilities",
			fmt.Errorf("device %q lacks M2M_MPLANE|STREAMING, caps 0x%08x", caps.Card, caps.Capabilities))
	}

	result := make(chan error, 1)
	if !e.post(func() { result <- e.initializeTask(cfg) }) {
		return newError(IllegalStateError, "initialize", fmt.Errorf("encoder destroyed"))
	}
	select {
	case err := <-result:
		return err
	case <-e.encoderRunner.Done():
		return newError(IllegalStateError, "initialize", fmt.Errorf("encoder destroyed"))
	}
}

func (e *Encoder) initializeTask(cfg Config) error {
	e.nativeInputMode = cfg.StorageType == video.StorageDmabuf
	e.outputFourcc = cfg.OutputProfile.Codec()
	e.encoderInputVisibleRect = video.NewRect(cfg.InputVisibleSize)
	e.inputQueue = device.NewQueue(e.dev, v4l2.BufTypeVideoOutputMPlane)
	e.outputQueue = device.NewQueue(e.dev, v4l2.BufTypeVideoCaptureMPlane)
	e.negotiator = device.NewNegotiator(e.dev, e.inputQueue, e.outputQueue)
	e.poller = device.NewPoller(e.dev, e.opts.PollTimeout)

	if err := e.setFormats(&cfg); err != nil {
		return err
	}

	if cfg.InputFormat != e.deviceInputLayout.Format {
		inputLayout := video.NewFrameLayout(cfg.InputFormat, cfg.InputVisibleSize, false)
		if err := e.createImageProcessor(inputLayout, e.encoderInputVisibleRect, cfg.StorageType); err != nil {
			return err
		}
	}

	if err := e.initInputMemoryType(&cfg); err != nil {
		return err
	}
	if err := e.initControls(&cfg); err != nil {
		return err
	}
	if err := e.createOutputBuffers(); err != nil {
		return err
	}
	if err := e.applyEncodingParameters(cfg.InitialBitrate, cfg.framerate()); err != nil {
		return err
	}

	e.state = StateInitialized

	if !e.nativeInputMode && e.adapter != nil {
		e.inputFrameSize = e.adapter.InputSize()
	}

	count, frameSize, bufferSize := inputBufferCount, e.inputFrameSize, e.outputBufferByteSize
	e.notifyClient(func(c Client) {
		c.RequireBitstreamBuffers(count, frameSize, bufferSize)
	})

	logrus.WithFields(logrus.Fields{
		"function":         "Encoder.initializeTask",
		"native_input":     e.nativeInputMode,
		"input_memory":     e.inputMemory.String(),
		"input_frame_size": frameSize.String(),
		"buffer_byte_size": bufferSize,
		"image_processor":  e.adapter != nil,
	}).Info("Encoder initialized")
	return nil
}

// setFormats configures the CAPTURE format first so that the device knows
// the codec before input formats are negotiated.
func (e *Encoder) setFormats(cfg *Config) *EncoderError {
	size, err := e.negotiator.SetOutputFormat(e.outputFourcc, cfg.InputVisibleSize)
	if err != nil {
		return newError(PlatformFailureError, "set output format", err)
	}
	e.outputBufferByteSize = size

	if err := e.negotiateInputFormat(cfg.InputFormat, cfg.InputVisibleSize); err != nil {
		return err
	}
	return nil
}

func (e *Encoder) createOutputBuffers() *EncoderError {
	n, err := e.outputQueue.AllocateBuffers(outputBufferCount, v4l2.MemoryMMAP)
	if err != nil {
		return newError(PlatformFailureError, "allocate output buffers", err)
	}
	if n < outputBufferCount {
		return newError(PlatformFailureError, "allocate output buffers",
			fmt.Errorf("device granted %d of %d buffers", n, outputBufferCount))
	}
	return nil
}

// Encode queues frame for encoding. forceKeyframe requests an IDR for this
// frame.
func (e *Encoder) Encode(frame *video.VideoFrame, forceKeyframe bool) {
	if frame == nil {
		logrus.WithFields(logrus.Fields{
			"function": "Encoder.Encode",
		}).Warn("Ignoring nil frame, use Flush to drain the encoder")
		return
	}
	e.post(func() { e.encodeTask(frame, forceKeyframe) })
}

// UseOutputBitstreamBuffer hands a buffer to the encoder. It comes back
// through Client.BitstreamBufferReady.
func (e *Encoder) UseOutputBitstreamBuffer(buf BitstreamBuffer) {
	e.post(func() { e.useOutputBitstreamBufferTask(buf) })
}

// RequestEncodingParametersChange updates the bitrate (bit/s) and
// framerate (fps) of the stream.
func (e *Encoder) RequestEncodingParametersChange(bitrate, framerate uint32) {
	logrus.WithFields(logrus.Fields{
		"function":  "Encoder.RequestEncodingParametersChange",
		"bitrate":   bitrate,
		"framerate": framerate,
	}).Info("Encoding parameters change requested")
	e.post(func() { e.requestEncodingParametersChangeTask(bitrate, framerate) })
}

func (e *Encoder) requestEncodingParametersChangeTask(bitrate, framerate uint32) {
	switch e.state {
	case StateUninitialized, StateError, StateDestroyed:
		return
	}
	if err := e.applyEncodingParameters(bitrate, framerate); err != nil {
		e.setErrorState(err)
	}
}

// IsFlushSupported reports whether the device accepted the drain command
// probe during Initialize.
func (e *Encoder) IsFlushSupported() bool { return e.flushSupported.Load() }

// Destroy stops the encoder. Client notifications not yet delivered are
// dropped; a pending flush callback is called with false. Done is closed
// once the device is released.
func (e *Encoder) Destroy() {
	e.destroyOnce.Do(func() {
		logrus.WithFields(logrus.Fields{
			"function": "Encoder.Destroy",
		}).Info("Destroying encoder")

		e.clientInvalid.Store(true)
		if !e.encoderRunner.Post(e.destroyTask) {
			e.clientRunner.Stop()
			close(e.done)
		}
	})
}

// Done is closed when Destroy has finished.
func (e *Encoder) Done() <-chan struct{} { return e.done }

func (e *Encoder) destroyTask() {
	e.invalidated = true
	e.completeFlush(false)

	e.stopDevicePoll()
	e.destroyInputBuffers()
	e.destroyOutputBuffers()

	if e.adapter != nil {
		e.adapter.Close()
		e.adapter = nil
	}

	if e.initStarted.Load() {
		if err := e.dev.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Encoder.destroyTask",
				"error":    err.Error(),
			}).Warn("Failed to close device")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Encoder.destroyTask",
		"stats":    e.stats.String(),
	}).Info("Encoder destroyed")

	e.state = StateDestroyed
	e.encoderRunner.Stop()
	e.clientRunner.StopAfterPending()
	go func() {
		<-e.clientRunner.Done()
		close(e.done)
	}()
}

// stopDevicePoll stops polling and streaming and forgets every frame and
// bitstream buffer the encoder holds.
func (e *Encoder) stopDevicePoll() {
	if e.poller != nil {
		e.poller.StopPolling()
	}
	if e.inputQueue != nil {
		if err := e.inputQueue.Streamoff(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Encoder.stopDevicePoll",
				"error":    err.Error(),
			}).Warn("Failed to stop input streaming")
		}
	}
	if e.outputQueue != nil {
		if err := e.outputQueue.Streamoff(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Encoder.stopDevicePoll",
				"error":    err.Error(),
			}).Warn("Failed to stop output streaming")
		}
	}

	e.encoderInputQueue = nil
	for i := range e.inputRecords {
		e.inputRecords[i] = inputRecord{ipOutputBufferIndex: -1}
	}
	e.outputBufferQueue = nil
	e.bitstreamPool = nil
}

func (e *Encoder) destroyInputBuffers() {
	if e.inputQueue == nil {
		return
	}
	if err := e.inputQueue.DeallocateBuffers(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Encoder.destroyInputBuffers",
			"error":    err.Error(),
		}).Warn("Failed to free input buffers")
	}
	e.inputRecords = nil
}

func (e *Encoder) destroyOutputBuffers() {
	if e.outputQueue == nil {
		return
	}
	if err := e.outputQueue.DeallocateBuffers(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Encoder.destroyOutputBuffers",
			"error":    err.Error(),
		}).Warn("Failed to free output buffers")
	}
}

// startDevicePoll starts the poller. Readiness and errors are handled on
// the encoder goroutine.
func (e *Encoder) startDevicePoll() *EncoderError {
	onReady := func() { e.post(e.serviceDeviceTask) }
	onError := func(err error) {
		e.post(func() {
			e.setErrorState(newError(PlatformFailureError, "poll device", err))
		})
	}
	if err := e.poller.StartPolling(onReady, onError); err != nil {
		return newError(PlatformFailureError, "start device poll", err)
	}
	return nil
}

func (e *Encoder) serviceDeviceTask() {
	switch e.state {
	case StateError, StateUninitialized, StateDestroyed:
		return
	}

	e.dequeue()
	if e.state == StateError {
		return
	}
	e.enqueue()

	logrus.WithFields(logrus.Fields{
		"function":       "Encoder.serviceDeviceTask",
		"pending_frames": len(e.encoderInputQueue),
		"input_free":     e.inputQueue.FreeBuffersCount(),
		"input_queued":   e.inputQueue.QueuedBuffersCount(),
		"output_free":    e.outputQueue.FreeBuffersCount(),
		"output_queued":  e.outputQueue.QueuedBuffersCount(),
		"bitstream_pool": len(e.bitstreamPool),
	}).Debug("Device serviced")

	e.poller.SchedulePoll()
}

// setErrorState moves the encoder to Error. The client is notified once,
// and not at all before initialization completed.
func (e *Encoder) setErrorState(err *EncoderError) {
	logrus.WithFields(logrus.Fields{
		"function": "Encoder.setErrorState",
		"state":    e.state.String(),
		"kind":     err.Kind.String(),
		"error":    err.Error(),
	}).Error("Encoder error")

	if e.state != StateError && e.state != StateUninitialized {
		kind := err.Kind
		e.notifyClient(func(c Client) { c.NotifyError(kind) })
	}
	e.state = StateError
}

// State returns the current state.
func (e *Encoder) State() State {
	ch := make(chan State, 1)
	if !e.encoderRunner.Post(func() { ch <- e.state }) {
		return StateDestroyed
	}
	select {
	case s := <-ch:
		return s
	case <-e.encoderRunner.Done():
		return StateDestroyed
	}
}

// Stats returns a snapshot of the encoder counters.
func (e *Encoder) Stats() Stats {
	ch := make(chan Stats, 1)
	if !e.encoderRunner.Post(func() {
		s := e.stats
		s.State = e.state
		if e.injector != nil {
			s.HeaderInjections = e.injector.Injections()
		}
		ch <- s
	}) {
		return Stats{State: StateDestroyed}
	}
	select {
	case s := <-ch:
		return s
	case <-e.encoderRunner.Done():
		return Stats{State: StateDestroyed}
	}
}
