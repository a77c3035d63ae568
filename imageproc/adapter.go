package imageproc

import (
	"fmt"

	"github.com/opd-ai/m2mencoder/video"
	"github.com/sirupsen/logrus"
)

// Output is a converted frame ready for the hardware input queue. A nil
// Frame is a flush sentinel that has passed every earlier conversion.
type Output struct {
	Frame         *video.VideoFrame
	ForceKeyframe bool
	// Index is the arena slot holding Frame, -1 for the sentinel. It must be
	// handed back with Recycle once the device has finished reading Frame.
	Index int
}

type request struct {
	frame         *video.VideoFrame
	forceKeyframe bool
}

// Adapter feeds a Processor from a bounded pool of output frames.
type Adapter struct {
	proc     Processor
	arena    []*video.VideoFrame
	free     []int
	inUse    []bool
	pending  []request
	inFlight int
	hooks    Hooks
}

// Hooks connect an Adapter to its owner.
type Hooks struct {
	// Post runs a function on the owner's context.
	Post func(func())
	// Emit receives converted frames on the owner's context, in submission
	// order.
	Emit func(Output)
	// OnError receives failures to start a conversion after a completion.
	OnError func(error)
}

// NewAdapter creates an adapter with count output slots laid out as
// deviceLayout.
func NewAdapter(proc Processor, count int, deviceLayout video.FrameLayout, hooks Hooks) (*Adapter, error) {
	out := proc.OutputConfig()
	if out.Size().Width != deviceLayout.CodedSize.Width || out.Size().Height < deviceLayout.CodedSize.Height {
		return nil, fmt.Errorf("%w: processor output %s, device coded size %s",
			ErrOutputSizeMismatch, out.Size(), deviceLayout.CodedSize)
	}

	a := &Adapter{
		proc:  proc,
		free:  make([]int, count),
		inUse: make([]bool, count),
		hooks: hooks,
	}
	for i := range a.free {
		a.free[i] = i
	}

	if proc.OutputMode() == OutputModeImport {
		if !out.Storage.IsMappable() {
			return nil, fmt.Errorf("%w: processor output storage %s", ErrUnsupportedStorage, out.Storage)
		}
		a.arena = make([]*video.VideoFrame, count)
		for i := range a.arena {
			frame, err := video.NewFrame(deviceLayout, out.VisibleRect, 0)
			if err != nil {
				return nil, fmt.Errorf("allocate image processor output %d: %w", i, err)
			}
			a.arena[i] = frame
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewAdapter",
		"buffers":       count,
		"output_mode":   proc.OutputMode().String(),
		"device_layout": deviceLayout.String(),
	}).Info("Image processor adapter created")
	return a, nil
}

// Processor returns the wrapped processor.
func (a *Adapter) Processor() Processor { return a.proc }

// InputSize returns the coded size frames must have to enter the adapter.
func (a *Adapter) InputSize() video.Size { return a.proc.InputConfig().Size() }

// FreeCount returns the number of free output slots.
func (a *Adapter) FreeCount() int { return len(a.free) }

// PendingCount returns the number of submitted frames waiting for a slot.
func (a *Adapter) PendingCount() int { return len(a.pending) }

// InFlight returns the number of conversions not yet completed.
func (a *Adapter) InFlight() int { return a.inFlight }

// Submit queues frame for conversion. A nil frame is a flush sentinel and is
// emitted once every earlier frame has been emitted.
func (a *Adapter) Submit(frame *video.VideoFrame, forceKeyframe bool) error {
	a.pending = append(a.pending, request{frame: frame, forceKeyframe: forceKeyframe})
	return a.pump()
}

// Recycle returns an output slot to the free list and starts the next
// conversion if one is waiting.
func (a *Adapter) Recycle(index int) error {
	if index < 0 || index >= len(a.inUse) || !a.inUse[index] {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	a.inUse[index] = false
	a.free = append(a.free, index)
	return a.pump()
}

// Close stops the processor. Frames not yet emitted are dropped.
func (a *Adapter) Close() {
	a.proc.Close()
	a.pending = nil
}

func (a *Adapter) pump() error {
	for len(a.pending) > 0 {
		head := a.pending[0]
		if head.frame == nil {
			if a.inFlight > 0 {
				return nil
			}
			a.pending = a.pending[1:]
			a.hooks.Emit(Output{Index: -1})
			continue
		}
		if len(a.free) == 0 {
			return nil
		}
		if err := a.start(head); err != nil {
			return err
		}
		a.pending = a.pending[1:]
	}
	return nil
}

func (a *Adapter) start(r request) error {
	if len(a.free) == 0 {
		return ErrNoFreeBuffer
	}
	index := a.free[len(a.free)-1]

	var dst *video.VideoFrame
	if a.arena != nil {
		buf := a.arena[index]
		dst = video.WrapFrame(buf, buf.VisibleRect, r.frame.Timestamp)
	}

	force := r.forceKeyframe
	ready := func(out *video.VideoFrame) {
		a.hooks.Post(func() { a.completed(index, force, out) })
	}
	if err := a.proc.Process(r.frame, dst, ready); err != nil {
		return fmt.Errorf("image processor rejected frame: %w", err)
	}

	a.free = a.free[:len(a.free)-1]
	a.inUse[index] = true
	a.inFlight++

	logrus.WithFields(logrus.Fields{
		"function":  "Adapter.start",
		"index":     index,
		"timestamp": r.frame.Timestamp,
		"free":      len(a.free),
	}).Debug("Conversion started")
	return nil
}

func (a *Adapter) completed(index int, forceKeyframe bool, frame *video.VideoFrame) {
	a.inFlight--
	a.hooks.Emit(Output{Frame: frame, ForceKeyframe: forceKeyframe, Index: index})
	if err := a.pump(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Adapter.completed",
			"error":    err.Error(),
		}).Error("Failed to start next conversion")
		if a.hooks.OnError != nil {
			a.hooks.OnError(err)
		}
	}
}
