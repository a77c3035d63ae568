// Package imageproc converts raw frames from the client's layout into the
// layout the encoding device requires.
//
// The package has two halves. [Processor] is the conversion collaborator:
// [SoftwareProcessor] implements it on top of the video package's scaler
// and I420/NV12 converter and runs every conversion on its own goroutine.
// [Adapter] is the encoder-side stage in front of it. It owns a fixed arena
// of output frames laid out like the device input, hands out arena indices
// from a LIFO free list and only takes an index back when the hardware
// buffer that read the converted frame has been dequeued.
//
// Adapter is not safe for concurrent use. Completions are marshaled back to
// the owner through the post function given to [NewAdapter].
package imageproc
