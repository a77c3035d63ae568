package m2mencoder

import (
	"fmt"

	"github.com/opd-ai/m2mencoder/v4l2"
	"github.com/sirupsen/logrus"
)

// Flush encodes every frame passed to Encode so far and returns their
// bitstream buffers before cb is called with true. cb is called with false
// when the flush cannot be performed: the encoder is not encoding, another
// flush is pending, the device failed, or the encoder is destroyed first.
func (e *Encoder) Flush(cb FlushCallback) {
	logrus.WithFields(logrus.Fields{
		"function": "Encoder.Flush",
	}).Info("Flush requested")

	if !e.post(func() { e.flushTask(cb) }) {
		// The client goroutine is gone as well.
		cb(false)
	}
}

func (e *Encoder) flushTask(cb FlushCallback) {
	if e.flushCallback != nil || e.state != StateEncoding {
		err := newError(IllegalStateError, "flush",
			fmt.Errorf("state %s, flush pending %t", e.state, e.flushCallback != nil))
		logrus.WithFields(logrus.Fields{
			"function": "Encoder.flushTask",
			"error":    err.Error(),
		}).Warn("Flush rejected")
		e.runFlushCallback(cb, false)
		return
	}

	e.flushCallback = cb
	e.encodeTask(nil, false)
}

func (e *Encoder) runFlushCallback(cb FlushCallback, success bool) {
	e.clientRunner.Post(func() { cb(success) })
}

// completeFlush reports the result of the pending flush, if any.
func (e *Encoder) completeFlush(success bool) {
	cb := e.flushCallback
	if cb == nil {
		return
	}
	e.flushCallback = nil
	if success {
		e.stats.FlushesCompleted++
	}
	logrus.WithFields(logrus.Fields{
		"function": "Encoder.completeFlush",
		"success":  success,
	}).Info("Flush finished")
	e.runFlushCallback(cb, success)
}

// finishDrain handles the last buffer of a drain: the device is restarted
// for the frames that follow, then the flush reports the outcome.
func (e *Encoder) finishDrain() {
	if err := e.dev.EncoderCommand(v4l2.EncCmdStart); err != nil {
		e.completeFlush(false)
		e.setErrorState(newError(PlatformFailureError, "restart encoder", err))
		return
	}
	e.state = StateEncoding
	e.completeFlush(true)

	// Frames submitted during the drain were held back.
	if len(e.encoderInputQueue) > 0 {
		e.post(e.enqueueTask)
	}
}
