// Package limits provides the codec-standard numeric limits used by the
// encoder, so that policy tables live in one place instead of being spread
// through the pipeline.
//
// # H.264 Levels
//
// The level table follows ITU-T H.264 Table A-1. For each level it records
// the maximum macroblock processing rate (MaxMBPS), the maximum frame size
// in macroblocks (MaxFS) and the maximum video bitrate (MaxBR). MaxBR is
// scaled by the profile's cpbBrVclFactor (1000 for Baseline/Main/Extended,
// 1250 for High, 3000 for High 10, 4000 for High 4:2:2 and 4:4:4).
//
//	mbs := limits.FrameSizeInMBs(1280, 720)
//	if !limits.CheckH264LevelLimits(limits.ProfileIDCMain, limits.LevelIDC3p0, 4_000_000, 30, mbs) {
//	    level, err := limits.FindValidH264Level(limits.ProfileIDCMain, 4_000_000, 30, mbs)
//	    // level == limits.LevelIDC3p1
//	}
//
// ValidateH264Level returns the same decision as an error wrapping
// ErrLevelExceeded or ErrUnknownLevel with the violated limit in the message.
//
// # Bitstream Buffers
//
// EncodeBitstreamBufferSize returns MaxBitstreamBufferSize (2MB) for frames
// up to 1080p, twice that up to 1440p and three times that beyond.
package limits
