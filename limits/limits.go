// Package limits provides the codec-standard size and rate limits used by the
// encoder: H.264 level limits (ITU-T H.264 Table A-1) and the bitstream
// buffer sizing policy.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxBitstreamBufferSize is the bitstream buffer size for frames up to
	// 1080p. It was chosen empirically and is scaled for larger frames.
	MaxBitstreamBufferSize = 2 * 1024 * 1024

	// Area1080p uses the 16-aligned coded height of 1080p content.
	Area1080p = 1920 * 1088

	// Area1440p is the area above which the largest multiplier applies.
	Area1440p = 2560 * 1440

	// MacroblockSize is the H.264 macroblock edge length in pixels.
	MacroblockSize = 16
)

// H.264 level_idc values. Level 1b uses the level_idc 9 encoding.
const (
	LevelIDC1p0 uint8 = 10
	LevelIDC1B  uint8 = 9
	LevelIDC1p1 uint8 = 11
	LevelIDC1p2 uint8 = 12
	LevelIDC1p3 uint8 = 13
	LevelIDC2p0 uint8 = 20
	LevelIDC2p1 uint8 = 21
	LevelIDC2p2 uint8 = 22
	LevelIDC3p0 uint8 = 30
	LevelIDC3p1 uint8 = 31
	LevelIDC3p2 uint8 = 32
	LevelIDC4p0 uint8 = 40
	LevelIDC4p1 uint8 = 41
	LevelIDC4p2 uint8 = 42
	LevelIDC5p0 uint8 = 50
	LevelIDC5p1 uint8 = 51
	LevelIDC5p2 uint8 = 52
	LevelIDC6p0 uint8 = 60
	LevelIDC6p1 uint8 = 61
	LevelIDC6p2 uint8 = 62

	// DefaultH264LevelIDC is used when the configuration names no level.
	DefaultH264LevelIDC = LevelIDC4p0
)

// H.264 profile_idc values.
const (
	ProfileIDCBaseline uint8 = 66
	ProfileIDCMain     uint8 = 77
	ProfileIDCExtended uint8 = 88
	ProfileIDCHigh     uint8 = 100
	ProfileIDCHigh10   uint8 = 110
	ProfileIDCHigh422  uint8 = 122
	ProfileIDCHigh444  uint8 = 244
)

var (
	// ErrUnknownLevel indicates a level_idc outside Table A-1
	ErrUnknownLevel = errors.New("unknown H.264 level")

	// ErrLevelExceeded indicates a stream that does not fit the level limits
	ErrLevelExceeded = errors.New("H.264 level limits exceeded")

	// ErrNoValidLevel indicates that no level can carry the stream
	ErrNoValidLevel = errors.New("no valid H.264 level")
)

// levelLimits is one row of Table A-1.
type levelLimits struct {
	levelIDC uint8
	maxMBPS  uint32 // macroblocks per second
	maxFS    uint32 // frame size in macroblocks
	maxBR    uint32 // kbit/s, in cpbBrVclFactor units of 1000
}

// h264Levels is ordered from the lowest to the highest level.
var h264Levels = []levelLimits{
	{LevelIDC1p0, 1485, 99, 64},
	{LevelIDC1B, 1485, 99, 128},
	{LevelIDC1p1, 3000, 396, 192},
	{LevelIDC1p2, 6000, 396, 384},
	{LevelIDC1p3, 11880, 396, 768},
	{LevelIDC2p0, 11880, 396, 2000},
	{LevelIDC2p1, 19800, 792, 4000},
	{LevelIDC2p2, 20250, 1620, 4000},
	{LevelIDC3p0, 40500, 1620, 10000},
	{LevelIDC3p1, 108000, 3600, 14000},
	{LevelIDC3p2, 216000, 5120, 20000},
	{LevelIDC4p0, 245760, 8192, 20000},
	{LevelIDC4p1, 245760, 8192, 50000},
	{LevelIDC4p2, 522240, 8704, 50000},
	{LevelIDC5p0, 589824, 22080, 135000},
	{LevelIDC5p1, 983040, 36864, 240000},
	{LevelIDC5p2, 2073600, 36864, 240000},
	{LevelIDC6p0, 4177920, 139264, 240000},
	{LevelIDC6p1, 8355840, 139264, 480000},
	{LevelIDC6p2, 16711680, 139264, 800000},
}

func lookupLevel(levelIDC uint8) (levelLimits, bool) {
	for _, l := range h264Levels {
		if l.levelIDC == levelIDC {
			return l, true
		}
	}
	return levelLimits{}, false
}

// CPBFactor returns cpbBrVclFactor for a profile (Table A-2).
func CPBFactor(profileIDC uint8) uint32 {
	switch profileIDC {
	case ProfileIDCHigh:
		return 1250
	case ProfileIDCHigh10:
		return 3000
	case ProfileIDCHigh422, ProfileIDCHigh444:
		return 4000
	}
	return 1000
}

// FrameSizeInMBs returns the number of 16x16 macroblocks covering a frame.
func FrameSizeInMBs(width, height int) uint32 {
	mbw := (width + MacroblockSize - 1) / MacroblockSize
	mbh := (height + MacroblockSize - 1) / MacroblockSize
	return uint32(mbw * mbh)
}

// ValidateH264Level checks bitrate (bit/s), framerate and frame size against
// the limits of levelIDC for the given profile.
func ValidateH264Level(profileIDC, levelIDC uint8, bitrate, framerate, framesizeInMBs uint32) error {
	l, ok := lookupLevel(levelIDC)
	if !ok {
		return fmt.Errorf("%w: level_idc %d", ErrUnknownLevel, levelIDC)
	}
	if maxBitrate := uint64(l.maxBR) * uint64(CPBFactor(profileIDC)); uint64(bitrate) > maxBitrate {
		return fmt.Errorf("%w: bitrate %d exceeds %d for level_idc %d", ErrLevelExceeded, bitrate, maxBitrate, levelIDC)
	}
	if framesizeInMBs > l.maxFS {
		return fmt.Errorf("%w: frame size %d MBs exceeds %d for level_idc %d", ErrLevelExceeded, framesizeInMBs, l.maxFS, levelIDC)
	}
	if mbps := uint64(framesizeInMBs) * uint64(framerate); mbps > uint64(l.maxMBPS) {
		return fmt.Errorf("%w: %d MB/s exceeds %d for level_idc %d", ErrLevelExceeded, mbps, l.maxMBPS, levelIDC)
	}
	return nil
}

// CheckH264LevelLimits reports whether the stream fits levelIDC.
func CheckH264LevelLimits(profileIDC, levelIDC uint8, bitrate, framerate, framesizeInMBs uint32) bool {
	return ValidateH264Level(profileIDC, levelIDC, bitrate, framerate, framesizeInMBs) == nil
}

// FindValidH264Level returns the lowest level that can carry the stream.
func FindValidH264Level(profileIDC uint8, bitrate, framerate, framesizeInMBs uint32) (uint8, error) {
	for _, l := range h264Levels {
		if CheckH264LevelLimits(profileIDC, l.levelIDC, bitrate, framerate, framesizeInMBs) {
			return l.levelIDC, nil
		}
	}
	return 0, fmt.Errorf("%w: bitrate %d framerate %d frame size %d MBs", ErrNoValidLevel, bitrate, framerate, framesizeInMBs)
}

// EncodeBitstreamBufferSize returns the output buffer size for encoding
// frames of the given visible size.
func EncodeBitstreamBufferSize(width, height int) int {
	area := width * height
	switch {
	case area > Area1440p:
		return MaxBitstreamBufferSize * 3
	case area > Area1080p:
		return MaxBitstreamBufferSize * 2
	}
	return MaxBitstreamBufferSize
}
