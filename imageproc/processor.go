package imageproc

import (
	"fmt"
	"sync"

	"github.com/opd-ai/m2mencoder/video"
	"github.com/sirupsen/logrus"
)

// OutputMode says who provides the processor's output frames.
type OutputMode int

const (
	// OutputModeAllocate means the processor allocates output frames itself.
	OutputModeAllocate OutputMode = iota
	// OutputModeImport means the caller passes an output frame to Process.
	OutputModeImport
)

func (m OutputMode) String() string {
	switch m {
	case OutputModeAllocate:
		return "allocate"
	case OutputModeImport:
		return "import"
	}
	return fmt.Sprintf("OutputMode(%d)", int(m))
}

// PortConfig describes one side of a processor.
type PortConfig struct {
	Layout      video.FrameLayout
	VisibleRect video.Rect
	Storage     video.StorageType
}

// NewPortConfig builds a port configuration from a layout.
func NewPortConfig(layout video.FrameLayout, visible video.Rect, storage video.StorageType) PortConfig {
	return PortConfig{Layout: layout, VisibleRect: visible, Storage: storage}
}

// Size returns the coded size of the port.
func (c PortConfig) Size() video.Size { return c.Layout.CodedSize }

// FrameReadyFunc receives a converted frame.
type FrameReadyFunc func(frame *video.VideoFrame)

// Processor converts frames from its input configuration to its output
// configuration.
type Processor interface {
	InputConfig() PortConfig
	OutputConfig() PortConfig
	OutputMode() OutputMode

	// Process starts converting src. In import mode dst is the frame to
	// write; in allocate mode dst is nil. ready runs on the processor's own
	// goroutine once the conversion succeeded. Conversion failures are
	// reported through the error callback given at construction.
	Process(src, dst *video.VideoFrame, ready FrameReadyFunc) error

	// Close stops the processor. Pending conversions are dropped.
	Close()
}

// Create returns a processor for the given ports, trying output modes in
// order.
func Create(input, output PortConfig, modes []OutputMode, onError func(error)) (Processor, error) {
	for _, mode := range modes {
		if mode != OutputModeImport {
			logrus.WithFields(logrus.Fields{
				"function": "imageproc.Create",
				"mode":     mode.String(),
			}).Debug("Output mode not available for software processing")
			continue
		}
		return NewSoftwareProcessor(input, output, onError)
	}
	return nil, fmt.Errorf("%w: tried %v", ErrUnsupportedMode, modes)
}

type job struct {
	src   *video.VideoFrame
	dst   *video.VideoFrame
	ready FrameReadyFunc
}

// SoftwareProcessor converts frames on the CPU. It supports import mode only
// and writes owned-memory frames.
type SoftwareProcessor struct {
	input     PortConfig
	output    PortConfig
	converter *video.Converter
	onError   func(error)

	mu      sync.Mutex
	jobs    []job
	closed  bool
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

// NewSoftwareProcessor starts a software processor. Output frames are
// always owned memory, whatever output.Storage asked for.
func NewSoftwareProcessor(input, output PortConfig, onError func(error)) (*SoftwareProcessor, error) {
	for _, f := range []video.PixelFormat{input.Layout.Format, output.Layout.Format} {
		if f != video.PixelFormatI420 && f != video.PixelFormatNV12 {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
		}
	}
	if input.VisibleRect.IsEmpty() || output.VisibleRect.IsEmpty() {
		return nil, fmt.Errorf("empty visible rect: input %s, output %s", input.VisibleRect, output.VisibleRect)
	}
	output.Storage = video.StorageOwnedMemory

	p := &SoftwareProcessor{
		input:     input,
		output:    output,
		converter: video.NewConverter(video.NewScaler()),
		onError:   onError,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go p.run()

	logrus.WithFields(logrus.Fields{
		"function":       "NewSoftwareProcessor",
		"input_format":   input.Layout.Format.String(),
		"input_visible":  input.VisibleRect.String(),
		"output_format":  output.Layout.Format.String(),
		"output_coded":   output.Layout.CodedSize.String(),
		"output_visible": output.VisibleRect.String(),
	}).Info("Software image processor created")
	return p, nil
}

// InputConfig implements Processor.
func (p *SoftwareProcessor) InputConfig() PortConfig { return p.input }

// OutputConfig implements Processor.
func (p *SoftwareProcessor) OutputConfig() PortConfig { return p.output }

// OutputMode implements Processor.
func (p *SoftwareProcessor) OutputMode() OutputMode { return OutputModeImport }

// Process implements Processor.
func (p *SoftwareProcessor) Process(src, dst *video.VideoFrame, ready FrameReadyFunc) error {
	if src == nil || dst == nil {
		return fmt.Errorf("source and destination frames are required")
	}
	if src.Format() != p.input.Layout.Format {
		return fmt.Errorf("%w: source is %s, processor expects %s", ErrUnsupportedFormat, src.Format(), p.input.Layout.Format)
	}
	if dst.Format() != p.output.Layout.Format {
		return fmt.Errorf("%w: destination is %s, processor writes %s", ErrUnsupportedFormat, dst.Format(), p.output.Layout.Format)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProcessorClosed
	}
	p.jobs = append(p.jobs, job{src: src, dst: dst, ready: ready})
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close implements Processor. It waits for the worker to exit.
func (p *SoftwareProcessor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.jobs = nil
	close(p.stop)
	p.mu.Unlock()
	<-p.stopped
}

func (p *SoftwareProcessor) next() (job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.jobs) == 0 {
		return job{}, false
	}
	j := p.jobs[0]
	p.jobs = p.jobs[1:]
	return j, true
}

func (p *SoftwareProcessor) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.stop:
			return
		case <-p.wake:
		}
		for {
			j, ok := p.next()
			if !ok {
				break
			}
			if err := p.convert(j.src, j.dst); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "SoftwareProcessor.run",
					"error":    err.Error(),
				}).Error("Frame conversion failed")
				if p.onError != nil {
					p.onError(err)
				}
				continue
			}
			j.ready(j.dst)
		}
	}
}

func (p *SoftwareProcessor) convert(src, dst *video.VideoFrame) error {
	if src.Storage == video.StorageDmabuf {
		// Dmabuf frames are readable only through a CPU mapping.
		if len(src.Data) < src.Format().NumPlanes() {
			return fmt.Errorf("%w: dmabuf frame without a CPU mapping", ErrUnsupportedStorage)
		}
		mapped := video.WrapFrame(src, src.VisibleRect, src.Timestamp)
		mapped.Storage = video.StorageShmem
		src = mapped
	}
	if err := p.converter.Convert(src, dst); err != nil {
		return err
	}
	dst.Timestamp = src.Timestamp
	return nil
}
