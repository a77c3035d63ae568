package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/m2mencoder/interfaces"
	"github.com/opd-ai/m2mencoder/v4l2"
	"github.com/opd-ai/m2mencoder/video"
	"github.com/sirupsen/logrus"
)

type bufferState int

const (
	bufferFree bufferState = iota
	bufferQueued
)

// Queue manages the buffers of one direction of an M2M device.
//
// Every allocated buffer is either free or queued, so
// FreeBuffersCount()+QueuedBuffersCount() == AllocatedBuffersCount() holds
// whenever control is outside the Queue methods.
type Queue struct {
	dev       interfaces.IDevice
	bufType   v4l2.BufType
	memory    v4l2.Memory
	format    v4l2.Format
	hasFormat bool
	states    []bufferState
	mappings  [][][]byte
	queued    int
	streaming bool
}

// NewQueue creates a queue for bufType. No device call is made.
func NewQueue(dev interfaces.IDevice, bufType v4l2.BufType) *Queue {
	return &Queue{dev: dev, bufType: bufType}
}

// Type returns the V4L2 buffer type of the queue.
func (q *Queue) Type() v4l2.BufType { return q.bufType }

// Memory returns the memory type of the allocated buffers.
func (q *Queue) Memory() v4l2.Memory { return q.memory }

// SetFormat sets the queue format. bufferSize is a hint for the first plane
// size (0 lets the device decide). The device may adjust size and strides,
// but a replaced fourcc is reported as ErrFormatRejected.
func (q *Queue) SetFormat(fourcc v4l2.Fourcc, size video.Size, bufferSize int) (v4l2.Format, error) {
	if q.streaming {
		return v4l2.Format{}, ErrStreaming
	}
	f := v4l2.Format{
		Type:        q.bufType,
		Width:       uint32(size.Width),
		Height:      uint32(size.Height),
		PixelFormat: fourcc,
		Planes:      make([]v4l2.PlaneFormat, fourcc.NumPlanes()),
	}
	if bufferSize > 0 {
		f.Planes[0].SizeImage = uint32(bufferSize)
	}
	if err := q.dev.SetFormat(&f); err != nil {
		return v4l2.Format{}, fmt.Errorf("S_FMT %s %s: %w", q.bufType, fourcc, err)
	}
	if f.PixelFormat != fourcc {
		return v4l2.Format{}, fmt.Errorf("%w: requested %s, device chose %s", ErrFormatRejected, fourcc, f.PixelFormat)
	}

	q.format = f
	q.hasFormat = true

	logrus.WithFields(logrus.Fields{
		"function": "Queue.SetFormat",
		"format":   f.String(),
	}).Debug("Queue format set")
	return f, nil
}

// Format returns the last accepted format.
func (q *Queue) Format() (v4l2.Format, bool) { return q.format, q.hasFormat }

// PlanesCount returns the number of memory planes of the current format.
func (q *Queue) PlanesCount() int { return len(q.format.Planes) }

// AllocateBuffers requests count buffers of the given memory type and
// returns how many the device granted. Callers must treat a short count as
// an initialization failure.
func (q *Queue) AllocateBuffers(count int, memory v4l2.Memory) (int, error) {
	if len(q.states) > 0 {
		return 0, ErrAlreadyAllocated
	}
	if q.streaming {
		return 0, ErrStreaming
	}

	granted, err := q.dev.RequestBuffers(q.bufType, memory, count)
	if err != nil {
		return 0, fmt.Errorf("REQBUFS %s %s x%d: %w", q.bufType, memory, count, err)
	}

	q.memory = memory
	q.states = make([]bufferState, granted)
	q.mappings = make([][][]byte, granted)
	q.queued = 0

	if memory == v4l2.MemoryMMAP {
		for i := 0; i < granted; i++ {
			planes, err := q.dev.MapBuffer(q.bufType, i)
			if err != nil {
				q.release()
				return 0, fmt.Errorf("mmap %s buffer %d: %w", q.bufType, i, err)
			}
			q.mappings[i] = planes
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Queue.AllocateBuffers",
		"type":      q.bufType.String(),
		"memory":    memory.String(),
		"requested": count,
		"granted":   granted,
	}).Info("Buffers allocated")
	return granted, nil
}

// DeallocateBuffers frees every buffer. The queue must not be streaming.
func (q *Queue) DeallocateBuffers() error {
	if q.streaming {
		return ErrStreaming
	}
	if len(q.states) == 0 {
		return nil
	}
	q.release()
	return nil
}

func (q *Queue) release() {
	if _, err := q.dev.RequestBuffers(q.bufType, q.memory, 0); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Queue.release",
			"type":     q.bufType.String(),
			"error":    err.Error(),
		}).Warn("Failed to free buffers")
	}
	q.states = nil
	q.mappings = nil
	q.queued = 0
}

// AllocatedBuffersCount returns the number of allocated buffers.
func (q *Queue) AllocatedBuffersCount() int { return len(q.states) }

// QueuedBuffersCount returns the number of buffers owned by the device.
func (q *Queue) QueuedBuffersCount() int { return q.queued }

// FreeBuffersCount returns the number of buffers available for queueing.
func (q *Queue) FreeBuffersCount() int { return len(q.states) - q.queued }

// IsStreaming reports whether STREAMON was issued.
func (q *Queue) IsStreaming() bool { return q.streaming }

// GetFreeBuffer returns the lowest-index free buffer without reserving it.
func (q *Queue) GetFreeBuffer() (*WritableBuffer, bool) {
	for i, s := range q.states {
		if s == bufferFree {
			return &WritableBuffer{
				q:      q,
				index:  i,
				planes: make([]v4l2.Plane, q.PlanesCount()),
			}, true
		}
	}
	return nil, false
}

// DequeueBuffer takes one completed buffer from the device. ok is false on
// a device error. A nil buffer with ok true means nothing was ready.
//
// The buffer is free again on return; its mapped data stays valid until it
// is queued again.
func (q *Queue) DequeueBuffer() (ok bool, buf *ReadableBuffer) {
	if q.queued == 0 {
		return true, nil
	}
	b, err := q.dev.DequeueBuffer(q.bufType, q.memory)
	if errors.Is(err, interfaces.ErrNoBufferReady) {
		return true, nil
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Queue.DequeueBuffer",
			"type":     q.bufType.String(),
			"error":    err.Error(),
		}).Error("DQBUF failed")
		return false, nil
	}
	idx := int(b.Index)
	if idx >= len(q.states) || q.states[idx] != bufferQueued {
		logrus.WithFields(logrus.Fields{
			"function": "Queue.DequeueBuffer",
			"type":     q.bufType.String(),
			"index":    idx,
		}).Error("Device returned a buffer that was not queued")
		return false, nil
	}
	q.states[idx] = bufferFree
	q.queued--

	return true, &ReadableBuffer{buf: b, data: q.mappings[idx]}
}

// Streamon starts streaming. It is a no-op when already streaming.
func (q *Queue) Streamon() error {
	if q.streaming {
		return nil
	}
	if err := q.dev.StreamOn(q.bufType); err != nil {
		return fmt.Errorf("STREAMON %s: %w", q.bufType, err)
	}
	q.streaming = true
	logrus.WithFields(logrus.Fields{
		"function": "Queue.Streamon",
		"type":     q.bufType.String(),
	}).Info("Streaming started")
	return nil
}

// Streamoff stops streaming. The device returns every queued buffer, so all
// allocated buffers are free afterwards.
func (q *Queue) Streamoff() error {
	if !q.streaming {
		return nil
	}
	if err := q.dev.StreamOff(q.bufType); err != nil {
		return fmt.Errorf("STREAMOFF %s: %w", q.bufType, err)
	}
	q.streaming = false
	for i := range q.states {
		q.states[i] = bufferFree
	}
	q.queued = 0
	logrus.WithFields(logrus.Fields{
		"function": "Queue.Streamoff",
		"type":     q.bufType.String(),
	}).Info("Streaming stopped")
	return nil
}

// WritableBuffer is a free buffer being prepared for queueing.
type WritableBuffer struct {
	q         *Queue
	index     int
	planes    []v4l2.Plane
	timestamp time.Duration
	consumed  bool
}

// Index returns the buffer index.
func (w *WritableBuffer) Index() int { return w.index }

// SetTimestamp sets the timestamp the device copies to the encoded output.
func (w *WritableBuffer) SetTimestamp(ts time.Duration) { w.timestamp = ts }

// SetPlaneBytesUsed sets the payload size of a memory plane, including any
// data offset.
func (w *WritableBuffer) SetPlaneBytesUsed(plane, n int) { w.planes[plane].BytesUsed = uint32(n) }

// PlaneBytesUsed returns the payload size of a memory plane.
func (w *WritableBuffer) PlaneBytesUsed(plane int) int { return int(w.planes[plane].BytesUsed) }

// SetPlaneDataOffset sets where the payload starts in a memory plane.
func (w *WritableBuffer) SetPlaneDataOffset(plane, offset int) {
	w.planes[plane].DataOffset = uint32(offset)
}

// SetPlaneSize sets the length of a memory plane.
func (w *WritableBuffer) SetPlaneSize(plane, n int) { w.planes[plane].Length = uint32(n) }

// PlanesCount returns the number of memory planes.
func (w *WritableBuffer) PlanesCount() int { return len(w.planes) }

// Data returns the mapping of an MMAP buffer plane.
func (w *WritableBuffer) Data(plane int) []byte {
	if m := w.q.mappings[w.index]; plane < len(m) {
		return m[plane]
	}
	return nil
}

// QueueMMap queues an MMAP buffer.
func (w *WritableBuffer) QueueMMap() error {
	for i := range w.planes {
		if w.planes[i].Length == 0 {
			w.planes[i].Length = uint32(len(w.Data(i)))
		}
	}
	return w.queue(v4l2.MemoryMMAP)
}

// QueueUserPtr queues a USERPTR buffer backed by ptrs, one per memory plane.
func (w *WritableBuffer) QueueUserPtr(ptrs [][]byte) error {
	if len(ptrs) != len(w.planes) {
		return fmt.Errorf("QueueUserPtr: %d pointers for %d planes", len(ptrs), len(w.planes))
	}
	for i, p := range ptrs {
		w.planes[i].UserPtr = p
		if w.planes[i].Length == 0 {
			w.planes[i].Length = uint32(len(p))
		}
	}
	return w.queue(v4l2.MemoryUserPtr)
}

// QueueDMABuf queues a DMABUF buffer, one file descriptor per memory plane.
func (w *WritableBuffer) QueueDMABuf(fds []int) error {
	if len(fds) != len(w.planes) {
		return fmt.Errorf("QueueDMABuf: %d fds for %d planes", len(fds), len(w.planes))
	}
	for i, fd := range fds {
		w.planes[i].FD = fd
	}
	return w.queue(v4l2.MemoryDMABuf)
}

func (w *WritableBuffer) queue(memory v4l2.Memory) error {
	if w.consumed {
		return ErrBufferConsumed
	}
	q := w.q
	if memory != q.memory {
		return fmt.Errorf("QBUF %s: queue uses %s memory, not %s", q.bufType, q.memory, memory)
	}
	if w.index >= len(q.states) || q.states[w.index] != bufferFree {
		return fmt.Errorf("QBUF %s: buffer %d is not free", q.bufType, w.index)
	}

	b := &v4l2.Buffer{
		Index:     uint32(w.index),
		Type:      q.bufType,
		Memory:    memory,
		Timestamp: w.timestamp,
		Planes:    w.planes,
	}
	if err := q.dev.QueueBuffer(b); err != nil {
		return fmt.Errorf("QBUF %s %d: %w", q.bufType, w.index, err)
	}

	w.consumed = true
	q.states[w.index] = bufferQueued
	q.queued++
	return nil
}

// ReadableBuffer is a buffer returned by the device.
type ReadableBuffer struct {
	buf  v4l2.Buffer
	data [][]byte
}

// Index returns the buffer index.
func (r *ReadableBuffer) Index() int { return int(r.buf.Index) }

// IsKeyframe reports the device keyframe flag.
func (r *ReadableBuffer) IsKeyframe() bool { return r.buf.IsKeyframe() }

// IsLast reports the end-of-drain flag.
func (r *ReadableBuffer) IsLast() bool { return r.buf.IsLast() }

// HasError reports whether the device flagged the content as corrupted.
func (r *ReadableBuffer) HasError() bool { return r.buf.Flags&v4l2.BufFlagError != 0 }

// Timestamp returns the timestamp copied from the matching input buffer.
func (r *ReadableBuffer) Timestamp() time.Duration { return r.buf.Timestamp }

// PlaneBytesUsed returns the bytes used of a memory plane.
func (r *ReadableBuffer) PlaneBytesUsed(plane int) int {
	if plane >= len(r.buf.Planes) {
		return 0
	}
	return int(r.buf.Planes[plane].BytesUsed)
}

// PlaneDataOffset returns the payload offset of a memory plane.
func (r *ReadableBuffer) PlaneDataOffset(plane int) int {
	if plane >= len(r.buf.Planes) {
		return 0
	}
	return int(r.buf.Planes[plane].DataOffset)
}

// Payload returns the mapped payload of plane 0 (MMAP buffers only).
func (r *ReadableBuffer) Payload() []byte {
	if len(r.data) == 0 {
		return nil
	}
	start, end := r.PlaneDataOffset(0), r.PlaneBytesUsed(0)
	if end > len(r.data[0]) || start > end {
		return nil
	}
	return r.data[0][start:end]
}
