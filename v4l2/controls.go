package v4l2

import "fmt"

// CtrlClassCodec is the control class of the codec (formerly MPEG) controls.
const CtrlClassCodec uint32 = 0x00990000

// CtrlClassMPEG is the legacy name of CtrlClassCodec.
const CtrlClassMPEG = CtrlClassCodec

const cidCodecBase = CtrlClassCodec | 0x900

// Codec control IDs used by the encoder.
const (
	CidMPEGVideoBFrames       = cidCodecBase + 202
	CidMPEGVideoGOPSize       = cidCodecBase + 203
	CidMPEGVideoBitrate       = cidCodecBase + 207
	CidMPEGVideoFrameRCEnable = cidCodecBase + 215
	CidMPEGVideoHeaderMode    = cidCodecBase + 216
	CidMPEGVideoMBRCEnable    = cidCodecBase + 217
	CidMPEGVideoForceKeyFrame = cidCodecBase + 229

	CidMPEGVideoH264MinQP           = cidCodecBase + 353
	CidMPEGVideoH264MaxQP           = cidCodecBase + 354
	CidMPEGVideoH264Level           = cidCodecBase + 359
	CidMPEGVideoH264Profile         = cidCodecBase + 363
	CidMPEGVideoH264SPSPPSBeforeIDR = cidCodecBase + 388
)

// Header modes for CidMPEGVideoHeaderMode.
const (
	HeaderModeSeparate           int32 = 0
	HeaderModeJoinedWith1stFrame int32 = 1
)

// H.264 profile values for CidMPEGVideoH264Profile.
const (
	H264ProfileBaseline            int32 = 0
	H264ProfileConstrainedBaseline int32 = 1
	H264ProfileMain                int32 = 2
	H264ProfileExtended            int32 = 3
	H264ProfileHigh                int32 = 4
	H264ProfileHigh10              int32 = 5
	H264ProfileHigh422             int32 = 6
	H264ProfileHigh444Predictive   int32 = 7
	H264ProfileStereoHigh          int32 = 15
	H264ProfileMultiviewHigh       int32 = 16
)

// H.264 level values for CidMPEGVideoH264Level.
const (
	H264Level1_0 int32 = iota
	H264Level1B
	H264Level1_1
	H264Level1_2
	H264Level1_3
	H264Level2_0
	H264Level2_1
	H264Level2_2
	H264Level3_0
	H264Level3_1
	H264Level3_2
	H264Level4_0
	H264Level4_1
	H264Level4_2
	H264Level5_0
	H264Level5_1
	H264Level5_2
	H264Level6_0
	H264Level6_1
	H264Level6_2
)

var ctrlNames = map[uint32]string{
	CidMPEGVideoBFrames:             "B_FRAMES",
	CidMPEGVideoGOPSize:             "GOP_SIZE",
	CidMPEGVideoBitrate:             "BITRATE",
	CidMPEGVideoFrameRCEnable:       "FRAME_RC_ENABLE",
	CidMPEGVideoHeaderMode:          "HEADER_MODE",
	CidMPEGVideoMBRCEnable:          "MB_RC_ENABLE",
	CidMPEGVideoForceKeyFrame:       "FORCE_KEY_FRAME",
	CidMPEGVideoH264MinQP:           "H264_MIN_QP",
	CidMPEGVideoH264MaxQP:           "H264_MAX_QP",
	CidMPEGVideoH264Level:           "H264_LEVEL",
	CidMPEGVideoH264Profile:         "H264_PROFILE",
	CidMPEGVideoH264SPSPPSBeforeIDR: "H264_SPS_PPS_BEFORE_IDR",
}

// CtrlName returns a short name for a control ID, for logs.
func CtrlName(id uint32) string {
	if name, ok := ctrlNames[id]; ok {
		return name
	}
	return fmt.Sprintf("CID(0x%08x)", id)
}

// H264LevelIDCToV4L2 maps a level_idc (e.g. 40 for level 4.0, 9 for 1b) to
// the V4L2 level enum. ok is false for unknown values.
func H264LevelIDCToV4L2(levelIDC uint8) (level int32, ok bool) {
	switch levelIDC {
	case 10:
		return H264Level1_0, true
	case 9:
		return H264Level1B, true
	case 11:
		return H264Level1_1, true
	case 12:
		return H264Level1_2, true
	case 13:
		return H264Level1_3, true
	case 20:
		return H264Level2_0, true
	case 21:
		return H264Level2_1, true
	case 22:
		return H264Level2_2, true
	case 30:
		return H264Level3_0, true
	case 31:
		return H264Level3_1, true
	case 32:
		return H264Level3_2, true
	case 40:
		return H264Level4_0, true
	case 41:
		return H264Level4_1, true
	case 42:
		return H264Level4_2, true
	case 50:
		return H264Level5_0, true
	case 51:
		return H264Level5_1, true
	case 52:
		return H264Level5_2, true
	case 60:
		return H264Level6_0, true
	case 61:
		return H264Level6_1, true
	case 62:
		return H264Level6_2, true
	}
	return 0, false
}
