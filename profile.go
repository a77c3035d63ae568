package m2mencoder

import (
	"fmt"
	"strings"

	"github.com/opd-ai/m2mencoder/limits"
	"github.com/opd-ai/m2mencoder/v4l2"
)

// Profile is a codec profile the encoder can be asked to produce.
type Profile int

const (
	ProfileUnknown Profile = iota
	H264ProfileBaseline
	H264ProfileMain
	H264ProfileExtended
	H264ProfileHigh
	VP8ProfileAny
	VP9Profile0
)

var profileNames = map[Profile]string{
	H264ProfileBaseline: "h264-baseline",
	H264ProfileMain:     "h264-main",
	H264ProfileExtended: "h264-extended",
	H264ProfileHigh:     "h264-high",
	VP8ProfileAny:       "vp8",
	VP9Profile0:         "vp9-profile0",
}

func (p Profile) String() string {
	if name, ok := profileNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Profile(%d)", int(p))
}

// ParseProfile accepts the names returned by String, case-insensitive.
func ParseProfile(s string) (Profile, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range profileNames {
		if name == s {
			return p, nil
		}
	}
	return ProfileUnknown, fmt.Errorf("unknown profile %q", s)
}

// IsH264 reports whether p is an H.264 profile.
func (p Profile) IsH264() bool {
	return p >= H264ProfileBaseline && p <= H264ProfileHigh
}

// Codec returns the coded fourcc produced for p, or 0 for unknown profiles.
func (p Profile) Codec() v4l2.Fourcc {
	switch {
	case p.IsH264():
		return v4l2.PixFmtH264
	case p == VP8ProfileAny:
		return v4l2.PixFmtVP8
	case p == VP9Profile0:
		return v4l2.PixFmtVP9
	}
	return 0
}

// v4l2H264Profile returns the value of the H.264 profile control.
func (p Profile) v4l2H264Profile() (int32, bool) {
	switch p {
	case H264ProfileBaseline:
		return v4l2.H264ProfileBaseline, true
	case H264ProfileMain:
		return v4l2.H264ProfileMain, true
	case H264ProfileExtended:
		return v4l2.H264ProfileExtended, true
	case H264ProfileHigh:
		return v4l2.H264ProfileHigh, true
	}
	return 0, false
}

// profileIDC returns the H.264 profile_idc used for level limits.
func (p Profile) profileIDC() uint8 {
	switch p {
	case H264ProfileMain:
		return limits.ProfileIDCMain
	case H264ProfileExtended:
		return limits.ProfileIDCExtended
	case H264ProfileHigh:
		return limits.ProfileIDCHigh
	}
	return limits.ProfileIDCBaseline
}
