package m2mencoder

import (
	"fmt"
	"math"

	"github.com/opd-ai/m2mencoder/video"
)

const (
	// DefaultFramerate is used when Config.InitialFramerate is zero.
	DefaultFramerate = 30

	// inputBufferCount is the number of hardware input buffers. Two keeps
	// the device busy while the previous frame is returned.
	inputBufferCount = 2

	// outputBufferCount is the number of hardware bitstream buffers.
	outputBufferCount = 2

	// processorBufferCount is the number of image processor output frames.
	processorBufferCount = 10
)

// Config describes the stream an Encoder produces. Zero values of the
// optional fields select the device defaults.
type Config struct {
	// InputFormat is the pixel format of frames passed to Encode.
	InputFormat video.PixelFormat
	// OutputProfile selects the codec and profile.
	OutputProfile Profile
	// InputVisibleSize is the visible size of every input frame.
	InputVisibleSize video.Size
	// InitialBitrate in bits per second.
	InitialBitrate uint32
	// InitialFramerate in frames per second. Optional.
	InitialFramerate uint32
	// GOPLength is the keyframe interval in frames. Optional.
	GOPLength uint32
	// H264OutputLevel is an H.264 level_idc. Optional.
	H264OutputLevel uint8
	// StorageType is how input frames are backed. StorageDmabuf selects
	// native input mode.
	StorageType video.StorageType
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.InputFormat.NumPlanes() == 0 {
		return fmt.Errorf("unsupported input format %s", c.InputFormat)
	}
	if c.OutputProfile.Codec() == 0 {
		return fmt.Errorf("unsupported output profile %s", c.OutputProfile)
	}
	if c.InputVisibleSize.IsEmpty() {
		return fmt.Errorf("empty input visible size %s", c.InputVisibleSize)
	}
	if c.InitialBitrate == 0 {
		return fmt.Errorf("initial bitrate must be positive")
	}
	if c.InitialBitrate > math.MaxInt32 {
		return fmt.Errorf("initial bitrate %d exceeds %d", c.InitialBitrate, math.MaxInt32)
	}
	return nil
}

func (c *Config) framerate() uint32 {
	if c.InitialFramerate == 0 {
		return DefaultFramerate
	}
	return c.InitialFramerate
}

func (c Config) String() string {
	return fmt.Sprintf("input_format: %s, input_visible_size: %s, output_profile: %s, bitrate: %d, framerate: %d, gop: %d, level: %d, storage: %s",
		c.InputFormat, c.InputVisibleSize, c.OutputProfile, c.InitialBitrate, c.framerate(), c.GOPLength, c.H264OutputLevel, c.StorageType)
}
