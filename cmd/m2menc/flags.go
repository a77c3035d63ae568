package main

import (
	"fmt"

	"github.com/opd-ai/m2mencoder/config"
)

// RunFlags select the configuration file and override its values.
type RunFlags struct {
	ConfigFile string `name:"config" short:"c" type:"existingfile" help:"YAML configuration file."`

	// Device options
	Simulate    bool    `help:"Use the simulated encoder device."`
	Device      *string `short:"d" help:"Encoder device node (default: probe /dev/video*)."`
	PollTimeout *int    `help:"Device poll timeout in milliseconds."`

	// Stream options
	Format    *string `short:"f" help:"Input pixel format (I420 or NV12)."`
	Width     *int    `short:"W" help:"Frame width."`
	Height    *int    `short:"H" help:"Frame height."`
	Profile   *string `short:"p" help:"Output profile (h264-baseline, h264-main, h264-high)."`
	Bitrate   *uint32 `short:"b" help:"Bitrate in bits per second."`
	Framerate *uint32 `short:"r" help:"Frames per second."`
	GOP       *uint32 `name:"gop" help:"Keyframe interval in frames."`
	Level     *uint8  `help:"H.264 level_idc, e.g. 40."`

	// Output options
	Output  *string `short:"o" help:"Annex-B output file."`
	RTP     *string `name:"rtp" help:"Stream RTP/UDP to host:port."`
	MTU     *uint16 `name:"mtu" help:"RTP packet size limit."`
	Buffers *int    `help:"Bitstream buffers handed to the encoder."`
}

// load reads the configuration file, if any, and applies flag overrides.
func (f *RunFlags) load() (*config.Config, error) {
	cfg := config.Default()
	if f.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(f.ConfigFile); err != nil {
			return nil, err
		}
	}

	if f.Simulate {
		cfg.Device.Simulation = true
	}
	setIf(&cfg.Device.Path, f.Device)
	setIf(&cfg.Device.PollTimeoutMS, f.PollTimeout)
	setIf(&cfg.Encoder.InputFormat, f.Format)
	setIf(&cfg.Encoder.Width, f.Width)
	setIf(&cfg.Encoder.Height, f.Height)
	setIf(&cfg.Encoder.Profile, f.Profile)
	setIf(&cfg.Encoder.Bitrate, f.Bitrate)
	setIf(&cfg.Encoder.Framerate, f.Framerate)
	setIf(&cfg.Encoder.GOPLength, f.GOP)
	setIf(&cfg.Encoder.Level, f.Level)
	setIf(&cfg.Output.Path, f.Output)
	setIf(&cfg.Output.RTPAddr, f.RTP)
	setIf(&cfg.Output.MTU, f.MTU)
	setIf(&cfg.Output.Buffers, f.Buffers)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
