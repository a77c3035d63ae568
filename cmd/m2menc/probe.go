package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/opd-ai/m2mencoder/factory"
	"github.com/opd-ai/m2mencoder/interfaces"
	"github.com/opd-ai/m2mencoder/v4l2"
)

var probedControls = []uint32{
	v4l2.CidMPEGVideoBitrate,
	v4l2.CidMPEGVideoFrameRCEnable,
	v4l2.CidMPEGVideoMBRCEnable,
	v4l2.CidMPEGVideoHeaderMode,
	v4l2.CidMPEGVideoGOPSize,
	v4l2.CidMPEGVideoBFrames,
	v4l2.CidMPEGVideoForceKeyFrame,
	v4l2.CidMPEGVideoH264Profile,
	v4l2.CidMPEGVideoH264Level,
	v4l2.CidMPEGVideoH264MinQP,
	v4l2.CidMPEGVideoH264MaxQP,
	v4l2.CidMPEGVideoH264SPSPPSBeforeIDR,
}

var codecs = map[string]v4l2.Fourcc{
	"H264": v4l2.PixFmtH264,
	"VP8":  v4l2.PixFmtVP8,
	"VP9":  v4l2.PixFmtVP9,
}

// ProbeCmd defines the probe subcommand.
type ProbeCmd struct {
	Device   string `arg:"" optional:"" help:"Device node (default: probe /dev/video*)."`
	Codec    string `default:"H264" enum:"H264,VP8,VP9" help:"Coded format to look for."`
	Simulate bool   `help:"Probe the simulated encoder device."`
}

// Run opens the device and prints its capabilities.
func (cmd *ProbeCmd) Run(g *Globals) error {
	dev, err := factory.NewDeviceFactory().CreateDeviceWithConfig(&interfaces.DeviceConfig{
		UseSimulation: cmd.Simulate,
		DevicePath:    cmd.Device,
		PollTimeout:   factory.DefaultPollTimeout,
	})
	if err != nil {
		return err
	}
	if err := dev.Open(codecs[cmd.Codec]); err != nil {
		return fmt.Errorf("open %s encoder: %w", cmd.Codec, err)
	}
	defer dev.Close()

	caps, err := dev.QueryCapabilities()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(g.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "Driver:\t%s\n", caps.Driver)
	fmt.Fprintf(w, "Card:\t%s\n", caps.Card)
	fmt.Fprintf(w, "Bus:\t%s\n", caps.BusInfo)
	fmt.Fprintf(w, "Capabilities:\t%#08x\n", caps.Capabilities)
	fmt.Fprintf(w, "M2M multi-planar:\t%t\n", caps.Has(v4l2.CapVideoM2MMPlane))
	fmt.Fprintf(w, "Input formats:\t%s\n", joinFourccs(dev.PreferredInputFormats()))

	flush := dev.TryEncoderCommand(v4l2.EncCmdStop)
	fmt.Fprintf(w, "Flush (ENCODER_CMD STOP):\t%s\n", supportString(flush))

	fmt.Fprintln(w, "Controls:")
	for _, id := range probedControls {
		fmt.Fprintf(w, "  %s\t%t\n", v4l2.CtrlName(id), dev.IsCtrlExposed(id))
	}
	return w.Flush()
}

func joinFourccs(formats []v4l2.Fourcc) string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.String()
	}
	return strings.Join(names, " ")
}

func supportString(err error) string {
	if err == nil {
		return "supported"
	}
	if errors.Is(err, interfaces.ErrUnsupported) {
		return "unsupported"
	}
	return err.Error()
}
