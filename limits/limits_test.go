package limits

import (
	"errors"
	"testing"
)

// TestLevelTableOrdered verifies that the table grows monotonically so that
// FindValidH264Level returns the lowest sufficient level.
func TestLevelTableOrdered(t *testing.T) {
	for i := 1; i < len(h264Levels); i++ {
		prev, cur := h264Levels[i-1], h264Levels[i]
		if cur.maxMBPS < prev.maxMBPS || cur.maxFS < prev.maxFS || cur.maxBR < prev.maxBR {
			t.Errorf("level_idc %d has smaller limits than level_idc %d", cur.levelIDC, prev.levelIDC)
		}
	}
}

func TestFrameSizeInMBs(t *testing.T) {
	tests := []struct {
		width, height int
		want          uint32
	}{
		{16, 16, 1},
		{17, 16, 2},
		{1280, 720, 3600},
		{1920, 1080, 8160},
		{3840, 2160, 32400},
	}

	for _, tt := range tests {
		if got := FrameSizeInMBs(tt.width, tt.height); got != tt.want {
			t.Errorf("FrameSizeInMBs(%d, %d) = %d, want %d", tt.width, tt.height, got, tt.want)
		}
	}
}

func TestCheckH264LevelLimits(t *testing.T) {
	mbs720p := FrameSizeInMBs(1280, 720)
	mbs1080p := FrameSizeInMBs(1920, 1080)

	tests := []struct {
		name      string
		profile   uint8
		level     uint8
		bitrate   uint32
		framerate uint32
		mbs       uint32
		want      bool
	}{
		{"720p30 fits 3.1", ProfileIDCMain, LevelIDC3p1, 4_000_000, 30, mbs720p, true},
		{"720p30 too big for 3.0", ProfileIDCMain, LevelIDC3p0, 4_000_000, 30, mbs720p, false},
		{"720p60 exceeds 3.1 MBPS", ProfileIDCMain, LevelIDC3p1, 4_000_000, 60, mbs720p, false},
		{"1080p30 fits 4.0", ProfileIDCHigh, LevelIDC4p0, 10_000_000, 30, mbs1080p, true},
		{"bitrate above 4.0 main", ProfileIDCMain, LevelIDC4p0, 21_000_000, 30, mbs1080p, false},
		{"bitrate within 4.0 high factor", ProfileIDCHigh, LevelIDC4p0, 21_000_000, 30, mbs1080p, true},
		{"unknown level", ProfileIDCMain, 7, 1, 1, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckH264LevelLimits(tt.profile, tt.level, tt.bitrate, tt.framerate, tt.mbs)
			if got != tt.want {
				t.Errorf("CheckH264LevelLimits() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateH264Level_Errors(t *testing.T) {
	err := ValidateH264Level(ProfileIDCMain, 7, 1, 1, 1)
	if !errors.Is(err, ErrUnknownLevel) {
		t.Errorf("expected ErrUnknownLevel, got %v", err)
	}

	err = ValidateH264Level(ProfileIDCBaseline, LevelIDC1p0, 1_000_000, 15, 99)
	if !errors.Is(err, ErrLevelExceeded) {
		t.Errorf("expected ErrLevelExceeded, got %v", err)
	}
}

func TestFindValidH264Level(t *testing.T) {
	level, err := FindValidH264Level(ProfileIDCMain, 4_000_000, 30, FrameSizeInMBs(1280, 720))
	if err != nil {
		t.Fatalf("FindValidH264Level() error = %v", err)
	}
	if level != LevelIDC3p1 {
		t.Errorf("level = %d, want %d", level, LevelIDC3p1)
	}

	level, err = FindValidH264Level(ProfileIDCBaseline, 64_000, 15, 99)
	if err != nil {
		t.Fatalf("FindValidH264Level() error = %v", err)
	}
	if level != LevelIDC1p0 {
		t.Errorf("level = %d, want %d", level, LevelIDC1p0)
	}

	// 8K at 240 fps exceeds level 6.2.
	_, err = FindValidH264Level(ProfileIDCHigh, 1_000_000, 240, FrameSizeInMBs(7680, 4320))
	if !errors.Is(err, ErrNoValidLevel) {
		t.Errorf("expected ErrNoValidLevel, got %v", err)
	}
}

func TestCPBFactor(t *testing.T) {
	tests := map[uint8]uint32{
		ProfileIDCBaseline: 1000,
		ProfileIDCMain:     1000,
		ProfileIDCHigh:     1250,
		ProfileIDCHigh10:   3000,
		ProfileIDCHigh422:  4000,
		ProfileIDCHigh444:  4000,
	}
	for profile, want := range tests {
		if got := CPBFactor(profile); got != want {
			t.Errorf("CPBFactor(%d) = %d, want %d", profile, got, want)
		}
	}
}

func TestEncodeBitstreamBufferSize(t *testing.T) {
	tests := []struct {
		width, height int
		want          int
	}{
		{640, 480, MaxBitstreamBufferSize},
		{1920, 1080, MaxBitstreamBufferSize},
		{2560, 1440, MaxBitstreamBufferSize * 2},
		{3840, 2160, MaxBitstreamBufferSize * 3},
	}

	for _, tt := range tests {
		if got := EncodeBitstreamBufferSize(tt.width, tt.height); got != tt.want {
			t.Errorf("EncodeBitstreamBufferSize(%d, %d) = %d, want %d", tt.width, tt.height, got, tt.want)
		}
	}
}
