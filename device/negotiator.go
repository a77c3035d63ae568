package device

import (
	"errors"
	"fmt"

	"github.com/opd-ai/m2mencoder/interfaces"
	"github.com/opd-ai/m2mencoder/limits"
	"github.com/opd-ai/m2mencoder/v4l2"
	"github.com/opd-ai/m2mencoder/video"
	"github.com/sirupsen/logrus"
)

// CropStrategy applies the encoder input visible rectangle and returns the
// rectangle the device actually applied.
type CropStrategy interface {
	Name() string
	Apply(dev interfaces.IDevice, r v4l2.Rect) (v4l2.Rect, error)
}

// SelectionCrop uses S_SELECTION on the single-planar OUTPUT type, which
// drivers accept for both single- and multi-planar queues.
type SelectionCrop struct{}

func (SelectionCrop) Name() string { return "selection" }

func (SelectionCrop) Apply(dev interfaces.IDevice, r v4l2.Rect) (v4l2.Rect, error) {
	return dev.SetSelection(v4l2.BufTypeVideoOutput, v4l2.SelTgtCrop, r)
}

// LegacyCrop uses S_CROP followed by G_CROP.
type LegacyCrop struct{}

func (LegacyCrop) Name() string { return "legacy" }

func (LegacyCrop) Apply(dev interfaces.IDevice, r v4l2.Rect) (v4l2.Rect, error) {
	if err := dev.SetCrop(v4l2.BufTypeVideoOutputMPlane, r); err != nil {
		return v4l2.Rect{}, fmt.Errorf("S_CROP: %w", err)
	}
	applied, err := dev.GetCrop(v4l2.BufTypeVideoOutputMPlane)
	if err != nil {
		return v4l2.Rect{}, fmt.Errorf("G_CROP: %w", err)
	}
	return applied, nil
}

// InputFormat is the outcome of input format negotiation.
type InputFormat struct {
	Fourcc v4l2.Fourcc
	// Layout is the device input layout.
	Layout video.FrameLayout
	// VisibleRect is the crop rectangle read back from the device.
	VisibleRect video.Rect
	// AllocatedSize is the coded size implied by the device strides.
	AllocatedSize video.Size
}

// Negotiator finds formats both the client and the device accept.
type Negotiator struct {
	dev    interfaces.IDevice
	input  *Queue
	output *Queue
	crop   CropStrategy
}

// NewNegotiator creates a negotiator for the given queues.
func NewNegotiator(dev interfaces.IDevice, input, output *Queue) *Negotiator {
	return &Negotiator{dev: dev, input: input, output: output}
}

// CropStrategy returns the resolved crop strategy, nil before the first crop.
func (n *Negotiator) CropStrategy() CropStrategy { return n.crop }

// SetOutputFormat sets the coded format on the CAPTURE queue and returns the
// bitstream buffer size the device settled on.
func (n *Negotiator) SetOutputFormat(codec v4l2.Fourcc, visible video.Size) (int, error) {
	requested := limits.EncodeBitstreamBufferSize(visible.Width, visible.Height)
	f, err := n.output.SetFormat(codec, visible, requested)
	if err != nil {
		return 0, err
	}
	size := int(f.Planes[0].SizeImage)

	logrus.WithFields(logrus.Fields{
		"function":         "Negotiator.SetOutputFormat",
		"codec":            codec.String(),
		"requested_size":   requested,
		"buffer_byte_size": size,
	}).Info("Output format negotiated")
	return size, nil
}

// NegotiateInputFormat tries the requested format, then the device's
// preferred formats, and returns the first one the device accepts at size.
// The visible rectangle is applied again after the format change.
func (n *Negotiator) NegotiateInputFormat(format video.PixelFormat, size video.Size, visible video.Rect) (*InputFormat, error) {
	requested, ok := PixelFormatToFourcc(format, true)
	if !ok {
		return nil, fmt.Errorf("%w: invalid input format %s", ErrNoSupportedFormat, format)
	}
	candidates := append([]v4l2.Fourcc{requested}, n.dev.PreferredInputFormats()...)

	for _, fourcc := range candidates {
		f, err := n.input.SetFormat(fourcc, size, 0)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Negotiator.NegotiateInputFormat",
				"fourcc":   fourcc.String(),
				"error":    err.Error(),
			}).Debug("Candidate input format rejected")
			continue
		}

		layout, err := FormatToLayout(f)
		if err != nil {
			return nil, fmt.Errorf("invalid device input layout: %w", err)
		}
		if !video.NewRect(layout.CodedSize).Contains(video.NewRect(size)) {
			return nil, fmt.Errorf("%w: input %s, device coded size %s", ErrSizeNotSupported, size, layout.CodedSize)
		}

		// Changing the format may reset the crop.
		applied, err := n.ApplyCrop(visible)
		if err != nil {
			return nil, err
		}

		result := &InputFormat{
			Fourcc:        fourcc,
			Layout:        layout,
			VisibleRect:   applied,
			AllocatedSize: AllocatedSize(f),
		}
		logrus.WithFields(logrus.Fields{
			"function":     "Negotiator.NegotiateInputFormat",
			"fourcc":       fourcc.String(),
			"coded_size":   layout.CodedSize.String(),
			"visible_rect": applied.String(),
		}).Info("Input format negotiated")
		return result, nil
	}

	return nil, fmt.Errorf("%w: tried %v", ErrNoSupportedFormat, candidates)
}

// ApplyCrop sets the visible rectangle and returns the one the device
// applied. The crop strategy is probed on the first call and kept.
func (n *Negotiator) ApplyCrop(visible video.Rect) (video.Rect, error) {
	r := v4l2.Rect{
		Left:   int32(visible.X),
		Top:    int32(visible.Y),
		Width:  uint32(visible.Width),
		Height: uint32(visible.Height),
	}

	var applied v4l2.Rect
	var err error
	if n.crop == nil {
		applied, err = SelectionCrop{}.Apply(n.dev, r)
		if errors.Is(err, interfaces.ErrUnsupported) {
			n.crop = LegacyCrop{}
			applied, err = n.crop.Apply(n.dev, r)
		} else {
			n.crop = SelectionCrop{}
		}
		logrus.WithFields(logrus.Fields{
			"function": "Negotiator.ApplyCrop",
			"strategy": n.crop.Name(),
		}).Debug("Crop strategy resolved")
	} else {
		applied, err = n.crop.Apply(n.dev, r)
	}
	if err != nil {
		return video.Rect{}, fmt.Errorf("apply crop %s: %w", visible, err)
	}

	out := video.Rect{
		X:      int(applied.Left),
		Y:      int(applied.Top),
		Width:  int(applied.Width),
		Height: int(applied.Height),
	}
	if out.IsEmpty() {
		return video.Rect{}, fmt.Errorf("%w: device applied %s", ErrInvalidCrop, applied)
	}
	if out != visible {
		logrus.WithFields(logrus.Fields{
			"function":  "Negotiator.ApplyCrop",
			"requested": visible.String(),
			"applied":   out.String(),
		}).Warn("Device adjusted the visible rectangle")
	}
	return out, nil
}
