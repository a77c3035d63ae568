// Package m2mencoder drives memory-to-memory (M2M) hardware video encoders
// exposed through the V4L2 stateful encoder interface.
//
// Raw frames go in through the OUTPUT queue, coded bitstream comes out of
// the CAPTURE queue. The package negotiates formats with the device, feeds
// frames in submission order, copies encoded frames into buffers provided
// by the client, handles mid-stream keyframe and rate changes, and drains
// the device on Flush. When the client's pixel format or size cannot be
// fed to the device directly, an image processor converts frames first.
//
// # Getting Started
//
// Create a device, wrap it in an Encoder, and initialize it with a client
// that receives bitstream buffers:
//
//	dev, err := factory.NewDeviceFactory().CreateDevice()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	enc := m2mencoder.New(dev, m2mencoder.Options{})
//	defer func() {
//	    enc.Destroy()
//	    <-enc.Done()
//	}()
//
//	err = enc.Initialize(m2mencoder.Config{
//	    InputFormat:      video.PixelFormatNV12,
//	    OutputProfile:    m2mencoder.H264ProfileMain,
//	    InputVisibleSize: video.Size{Width: 1280, Height: 720},
//	    InitialBitrate:   4_000_000,
//	}, client)
//
// After a successful Initialize the client's RequireBitstreamBuffers is
// called with the number of input frames to keep in flight, the coded size
// input frames must have, and the minimum bitstream buffer size. Hand the
// encoder buffers of at least that size:
//
//	enc.UseOutputBitstreamBuffer(m2mencoder.BitstreamBuffer{
//	    ID:     id,
//	    Region: region,
//	    Size:   len(region),
//	})
//
// Each buffer comes back through BitstreamBufferReady holding one encoded
// frame. Pass it back to UseOutputBitstreamBuffer once consumed.
//
// # Encoding
//
//	enc.Encode(frame, false)        // regular frame
//	enc.Encode(frame, true)         // request an IDR for this frame
//	enc.RequestEncodingParametersChange(2_000_000, 30)
//
//	enc.Flush(func(ok bool) {
//	    // every frame passed to Encode so far has been returned
//	})
//
// Bitstream buffers are returned in the order frames were submitted. For
// H.264, every IDR frame carries SPS and PPS: either the device repeats them
// or the encoder inserts the cached parameter sets itself.
//
// # Errors
//
// Initialize returns an error wrapping one of [ErrIllegalState],
// [ErrInvalidArgument] or [ErrPlatformFailure]. After initialization, a
// fatal failure is reported once through Client.NotifyError and the encoder
// stops accepting work.
//
// # Threading
//
// All public methods may be called from any goroutine. Work runs on a
// dedicated encoder goroutine; client callbacks run one at a time on a
// separate client goroutine, so a client may call back into the encoder
// from its callbacks.
//
// # Related Packages
//
//   - [github.com/opd-ai/m2mencoder/device]: queues, format negotiation and polling
//   - [github.com/opd-ai/m2mencoder/imageproc]: software image processor
//   - [github.com/opd-ai/m2mencoder/h264]: Annex-B parsing and header injection
//   - [github.com/opd-ai/m2mencoder/factory]: device selection from the environment
//   - [github.com/opd-ai/m2mencoder/rtp]: RTP packetization of encoded frames
//   - [github.com/opd-ai/m2mencoder/testing]: simulated device for tests
package m2mencoder
