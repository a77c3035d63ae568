package m2mencoder

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// bitstreamBufferRef is a client buffer waiting to be filled.
type bitstreamBufferRef struct {
	id      int32
	mapping []byte
}

// encodedChunk is the content of a dequeued CAPTURE buffer. The payload is
// copied out so the device buffer can be queued again at once.
type encodedChunk struct {
	payload   []byte
	keyframe  bool
	last      bool
	timestamp time.Duration
}

func (e *Encoder) useOutputBitstreamBufferTask(buf BitstreamBuffer) {
	switch e.state {
	case StateUninitialized, StateError, StateDestroyed:
		logrus.WithFields(logrus.Fields{
			"function": "Encoder.useOutputBitstreamBufferTask",
			"id":       buf.ID,
			"state":    e.state.String(),
		}).Debug("Ignoring bitstream buffer")
		return
	}

	if buf.Size < e.outputBufferByteSize {
		e.setErrorState(newError(InvalidArgumentError, "use bitstream buffer",
			fmt.Errorf("buffer %d holds %d bytes, need %d", buf.ID, buf.Size, e.outputBufferByteSize)))
		return
	}
	mapping, err := buf.mapping()
	if err != nil {
		e.setErrorState(newError(InvalidArgumentError, "use bitstream buffer", err))
		return
	}

	e.bitstreamPool = append(e.bitstreamPool, &bitstreamBufferRef{id: buf.ID, mapping: mapping})
	e.pumpBitstreamBuffers()

	if e.state == StateInitialized {
		if err := e.startDevicePoll(); err != nil {
			e.setErrorState(err)
			return
		}
		e.state = StateEncoding
	}
}

// dequeue collects finished input and output buffers from the device.
func (e *Encoder) dequeue() {
	for e.inputQueue.QueuedBuffersCount() > 0 {
		ok, buf := e.inputQueue.DequeueBuffer()
		if !ok {
			e.setErrorState(newError(PlatformFailureError, "dequeue input buffer", nil))
			return
		}
		if buf == nil {
			break
		}

		record := &e.inputRecords[buf.Index()]
		index := record.ipOutputBufferIndex
		*record = inputRecord{ipOutputBufferIndex: -1}
		e.stats.FramesEncoded++

		if index >= 0 && e.adapter != nil {
			if err := e.adapter.Recycle(index); err != nil {
				e.setErrorState(newError(PlatformFailureError, "recycle image processor buffer", err))
				return
			}
		}
	}

	dequeued := false
	for e.outputQueue.QueuedBuffersCount() > 0 {
		ok, buf := e.outputQueue.DequeueBuffer()
		if !ok {
			e.setErrorState(newError(PlatformFailureError, "dequeue output buffer", nil))
			return
		}
		if buf == nil {
			break
		}

		payload := buf.Payload()
		e.outputBufferQueue = append(e.outputBufferQueue, encodedChunk{
			payload:   append([]byte(nil), payload...),
			keyframe:  buf.IsKeyframe(),
			last:      buf.IsLast(),
			timestamp: buf.Timestamp(),
		})
		dequeued = true
	}

	if dequeued {
		e.pumpBitstreamBuffers()
	}
}

// pumpBitstreamBuffers copies dequeued bitstream into client buffers, in
// dequeue order, and completes a pending flush when the last buffer of the
// drain goes by.
func (e *Encoder) pumpBitstreamBuffers() {
	for len(e.outputBufferQueue) > 0 {
		chunk := e.outputBufferQueue[0]

		if len(chunk.payload) > 0 {
			if len(e.bitstreamPool) == 0 {
				logrus.WithFields(logrus.Fields{
					"function": "Encoder.pumpBitstreamBuffers",
					"waiting":  len(e.outputBufferQueue),
				}).Debug("No free bitstream buffer")
				break
			}

			ref := e.bitstreamPool[len(e.bitstreamPool)-1]
			e.bitstreamPool = e.bitstreamPool[:len(e.bitstreamPool)-1]

			size := e.copyIntoOutputBuffer(chunk.payload, ref)
			e.stats.BuffersReturned++
			e.stats.BytesProduced += uint64(size)
			if chunk.keyframe {
				e.stats.Keyframes++
			}

			id := ref.id
			md := BitstreamBufferMetadata{
				PayloadSize: size,
				Keyframe:    chunk.keyframe,
				Timestamp:   chunk.timestamp,
			}
			logrus.WithFields(logrus.Fields{
				"function":  "Encoder.pumpBitstreamBuffers",
				"id":        id,
				"size":      size,
				"keyframe":  chunk.keyframe,
				"timestamp": chunk.timestamp,
			}).Debug("Returning bitstream buffer")
			e.notifyClient(func(c Client) { c.BitstreamBufferReady(id, md) })
		}

		e.outputBufferQueue[0] = encodedChunk{}
		e.outputBufferQueue = e.outputBufferQueue[1:]

		if e.state == StateFlushing && chunk.last {
			e.finishDrain()
			if e.state == StateError {
				return
			}
		}
	}

	if e.outputQueue.FreeBuffersCount() > 0 {
		e.post(e.enqueueTask)
	}
}

// copyIntoOutputBuffer writes payload into ref and returns the bytes
// written, 0 when nothing fits.
func (e *Encoder) copyIntoOutputBuffer(payload []byte, ref *bitstreamBufferRef) int {
	n := e.injector.CopyInto(ref.mapping, payload)
	if n == 0 {
		logrus.WithFields(logrus.Fields{
			"function":    "Encoder.copyIntoOutputBuffer",
			"id":          ref.id,
			"payload":     len(payload),
			"buffer_size": len(ref.mapping),
		}).Warn("Encoded frame did not fit in the bitstream buffer")
	}
	return n
}
