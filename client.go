package m2mencoder

import (
	"fmt"
	"time"

	"github.com/opd-ai/m2mencoder/video"
)

// Client receives encoder notifications. Every method is called on the
// encoder's client goroutine, one at a time, in the order the events
// happened.
type Client interface {
	// RequireBitstreamBuffers is called once after a successful Initialize.
	// inputCount frames of inputCodedSize may be in flight at a time and
	// every bitstream buffer must hold at least outputBufferSize bytes.
	RequireBitstreamBuffers(inputCount int, inputCodedSize video.Size, outputBufferSize int)

	// BitstreamBufferReady returns a buffer passed to
	// UseOutputBitstreamBuffer, filled with md.PayloadSize bytes.
	BitstreamBufferReady(id int32, md BitstreamBufferMetadata)

	// NotifyError reports a fatal error. It is called at most once.
	NotifyError(kind ErrorKind)
}

// BitstreamBufferMetadata describes the content of a returned buffer.
type BitstreamBufferMetadata struct {
	PayloadSize int
	Keyframe    bool
	Timestamp   time.Duration
}

// BitstreamBuffer is client memory the encoder writes one encoded frame
// into. The encoder uses Region[Offset:Offset+Size].
type BitstreamBuffer struct {
	ID     int32
	Region []byte
	Size   int
	Offset int
}

func (b BitstreamBuffer) mapping() ([]byte, error) {
	if b.Offset < 0 || b.Size < 0 || b.Offset+b.Size > len(b.Region) {
		return nil, fmt.Errorf("bitstream buffer %d: range %d+%d outside region of %d bytes",
			b.ID, b.Offset, b.Size, len(b.Region))
	}
	return b.Region[b.Offset : b.Offset+b.Size : b.Offset+b.Size], nil
}

// FlushCallback receives the result of Flush.
type FlushCallback func(success bool)
