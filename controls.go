package m2mencoder

import (
	"fmt"
	"math"

	"github.com/opd-ai/m2mencoder/h264"
	"github.com/opd-ai/m2mencoder/limits"
	"github.com/opd-ai/m2mencoder/v4l2"
	"github.com/sirupsen/logrus"
)

// maxH264QP is the largest quantizer the encoder may use.
const maxH264QP = 51

func (e *Encoder) setExtCtrls(ctrls ...v4l2.ExtCtrl) error {
	return e.dev.SetExtCtrls(v4l2.CtrlClassCodec, ctrls)
}

// initControls applies the codec controls. Frame level rate control is
// required; the remaining controls are best effort.
func (e *Encoder) initControls(cfg *Config) *EncoderError {
	if err := e.setExtCtrls(v4l2.ExtCtrl{ID: v4l2.CidMPEGVideoFrameRCEnable, Value: 1}); err != nil {
		return newError(PlatformFailureError, "enable frame rate control", err)
	}

	injectHeaders := false
	if cfg.OutputProfile.IsH264() {
		inject, err := e.initH264Controls(cfg)
		if err != nil {
			return err
		}
		injectHeaders = inject
	}
	e.injector = h264.NewInjector(injectHeaders)

	optional := []v4l2.ExtCtrl{
		{ID: v4l2.CidMPEGVideoMBRCEnable, Value: 1},
		{ID: v4l2.CidMPEGVideoGOPSize, Value: int32(cfg.GOPLength)},
	}
	if err := e.setExtCtrls(optional...); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Encoder.initControls",
			"error":    err.Error(),
		}).Warn("Macroblock rate control and GOP size not applied")
	}
	return nil
}

// initH264Controls applies the H.264 controls and reports whether SPS and
// PPS must be injected in software.
func (e *Encoder) initH264Controls(cfg *Config) (bool, *EncoderError) {
	// Prefer the device repeating SPS and PPS in front of every IDR.
	injectHeaders := true
	if e.dev.IsCtrlExposed(v4l2.CidMPEGVideoH264SPSPPSBeforeIDR) {
		ctrl := v4l2.ExtCtrl{ID: v4l2.CidMPEGVideoH264SPSPPSBeforeIDR, Value: 1}
		if err := e.setExtCtrls(ctrl); err != nil {
			return false, newError(PlatformFailureError, "enable SPS/PPS before IDR", err)
		}
		injectHeaders = false
	}

	profile, ok := cfg.OutputProfile.v4l2H264Profile()
	if !ok {
		return false, newError(InvalidArgumentError, "set H.264 profile",
			fmt.Errorf("profile %s has no device value", cfg.OutputProfile))
	}
	levelIDC, err := h264Level(cfg)
	if err != nil {
		return false, newError(InvalidArgumentError, "set H.264 level", err)
	}
	level, ok := v4l2.H264LevelIDCToV4L2(levelIDC)
	if !ok {
		return false, newError(InvalidArgumentError, "set H.264 level",
			fmt.Errorf("level_idc %d has no device value", levelIDC))
	}

	ctrls := []v4l2.ExtCtrl{
		{ID: v4l2.CidMPEGVideoBFrames, Value: 0},
		{ID: v4l2.CidMPEGVideoH264MaxQP, Value: maxH264QP},
		{ID: v4l2.CidMPEGVideoH264Profile, Value: profile},
		{ID: v4l2.CidMPEGVideoH264Level, Value: level},
		{ID: v4l2.CidMPEGVideoHeaderMode, Value: v4l2.HeaderModeJoinedWith1stFrame},
	}
	if err := e.setExtCtrls(ctrls...); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Encoder.initH264Controls",
			"error":    err.Error(),
		}).Warn("Optional H.264 controls not applied")
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Encoder.initH264Controls",
		"profile":        cfg.OutputProfile.String(),
		"level_idc":      levelIDC,
		"inject_headers": injectHeaders,
	}).Info("H.264 controls initialized")
	return injectHeaders, nil
}

// h264Level returns the configured level, or the default one, promoted to
// the lowest level whose limits hold the stream when needed.
func h264Level(cfg *Config) (uint8, error) {
	level := cfg.H264OutputLevel
	if level == 0 {
		level = limits.DefaultH264LevelIDC
	}

	profileIDC := cfg.OutputProfile.profileIDC()
	mbs := limits.FrameSizeInMBs(cfg.InputVisibleSize.Width, cfg.InputVisibleSize.Height)
	if limits.CheckH264LevelLimits(profileIDC, level, cfg.InitialBitrate, cfg.framerate(), mbs) {
		return level, nil
	}

	valid, err := limits.FindValidH264Level(profileIDC, cfg.InitialBitrate, cfg.framerate(), mbs)
	if err != nil {
		return 0, err
	}
	logrus.WithFields(logrus.Fields{
		"function":   "h264Level",
		"configured": level,
		"promoted":   valid,
	}).Warn("Configured H.264 level cannot carry the stream")
	return valid, nil
}

// applyEncodingParameters sets the target bitrate and the frame interval.
func (e *Encoder) applyEncodingParameters(bitrate, framerate uint32) *EncoderError {
	if bitrate == 0 || bitrate > math.MaxInt32 {
		return newError(InvalidArgumentError, "set bitrate", fmt.Errorf("bitrate %d out of range 1..%d", bitrate, math.MaxInt32))
	}
	if framerate == 0 {
		return newError(InvalidArgumentError, "set framerate", fmt.Errorf("framerate must be positive"))
	}
	if err := e.setExtCtrls(v4l2.ExtCtrl{ID: v4l2.CidMPEGVideoBitrate, Value: int32(bitrate)}); err != nil {
		return newError(PlatformFailureError, "set bitrate", err)
	}
	if err := e.dev.SetFrameInterval(v4l2.BufTypeVideoOutputMPlane, 1, framerate); err != nil {
		return newError(PlatformFailureError, "set framerate", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Encoder.applyEncodingParameters",
		"bitrate":   bitrate,
		"framerate": framerate,
	}).Debug("Encoding parameters applied")
	return nil
}
