package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/opd-ai/m2mencoder"
	"github.com/opd-ai/m2mencoder/factory"
	"github.com/opd-ai/m2mencoder/interfaces"
	"github.com/opd-ai/m2mencoder/rtp"
	"github.com/opd-ai/m2mencoder/video"
	"gopkg.in/yaml.v3"
)

// Config is a complete encoding run: where the encoder lives, what it
// produces and where the bitstream goes.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Encoder EncoderConfig `yaml:"encoder"`
	Output  OutputConfig  `yaml:"output"`
}

// DeviceConfig selects the encoder device
type DeviceConfig struct {
	Simulation    bool   `yaml:"simulation"`
	Path          string `yaml:"path"`            // empty probes /dev/video*
	PollTimeoutMS int    `yaml:"poll_timeout_ms"` // single poll wait
}

// EncoderConfig describes the raw input and the coded stream
type EncoderConfig struct {
	InputFormat string `yaml:"input_format"` // I420, NV12
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	Profile     string `yaml:"profile"` // h264-baseline, h264-main, h264-high
	Bitrate     uint32 `yaml:"bitrate"` // bits per second
	Framerate   uint32 `yaml:"framerate"`
	GOPLength   uint32 `yaml:"gop_length"` // 0 keeps the device default
	Level       uint8  `yaml:"level"`      // level_idc, e.g. 40; 0 picks one
}

// OutputConfig chooses the bitstream sink. Path and RTPAddr may both be set.
type OutputConfig struct {
	Path        string `yaml:"path"`     // Annex-B file
	RTPAddr     string `yaml:"rtp_addr"` // host:port
	MTU         uint16 `yaml:"mtu"`
	PayloadType uint8  `yaml:"payload_type"`
	Buffers     int    `yaml:"buffers"` // bitstream buffers handed to the encoder
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			PollTimeoutMS: int(factory.DefaultPollTimeout / time.Millisecond),
		},
		Encoder: EncoderConfig{
			InputFormat: video.PixelFormatNV12.String(),
			Profile:     m2mencoder.H264ProfileMain.String(),
			Bitrate:     2_000_000,
			Framerate:   m2mencoder.DefaultFramerate,
		},
		Output: OutputConfig{
			MTU:         rtp.DefaultMTU,
			PayloadType: rtp.DefaultPayloadType,
			Buffers:     4,
		},
	}
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every section. Encoder dimensions are not required here
// since they may come from the command line.
func (c *Config) Validate() error {
	if c.Device.PollTimeoutMS < factory.MinPollTimeout || c.Device.PollTimeoutMS > factory.MaxPollTimeout {
		return fmt.Errorf("device.poll_timeout_ms %d outside [%d, %d]",
			c.Device.PollTimeoutMS, factory.MinPollTimeout, factory.MaxPollTimeout)
	}
	if _, err := video.ParsePixelFormat(c.Encoder.InputFormat); err != nil {
		return fmt.Errorf("encoder.input_format: %w", err)
	}
	if _, err := m2mencoder.ParseProfile(c.Encoder.Profile); err != nil {
		return fmt.Errorf("encoder.profile: %w", err)
	}
	if c.Encoder.Width < 0 || c.Encoder.Height < 0 {
		return fmt.Errorf("encoder size %dx%d is negative", c.Encoder.Width, c.Encoder.Height)
	}
	if c.Encoder.Bitrate == 0 {
		return fmt.Errorf("encoder.bitrate must be positive")
	}
	if c.Encoder.Framerate == 0 {
		return fmt.Errorf("encoder.framerate must be positive")
	}
	if c.Output.Buffers < 1 {
		return fmt.Errorf("output.buffers must be at least 1, got %d", c.Output.Buffers)
	}
	if c.Output.RTPAddr != "" {
		if c.Output.MTU <= 64 {
			return fmt.Errorf("output.mtu %d too small", c.Output.MTU)
		}
		if c.Output.PayloadType < 96 || c.Output.PayloadType > 127 {
			return fmt.Errorf("output.payload_type %d is not a dynamic type", c.Output.PayloadType)
		}
	}
	return nil
}

// EncoderConfig converts the encoder section for m2mencoder.Encoder.
func (c *Config) EncoderConfig() (m2mencoder.Config, error) {
	format, err := video.ParsePixelFormat(c.Encoder.InputFormat)
	if err != nil {
		return m2mencoder.Config{}, err
	}
	profile, err := m2mencoder.ParseProfile(c.Encoder.Profile)
	if err != nil {
		return m2mencoder.Config{}, err
	}

	cfg := m2mencoder.Config{
		InputFormat:      format,
		OutputProfile:    profile,
		InputVisibleSize: video.Size{Width: c.Encoder.Width, Height: c.Encoder.Height},
		InitialBitrate:   c.Encoder.Bitrate,
		InitialFramerate: c.Encoder.Framerate,
		GOPLength:        c.Encoder.GOPLength,
		H264OutputLevel:  c.Encoder.Level,
		StorageType:      video.StorageOwnedMemory,
	}
	return cfg, cfg.Validate()
}

// DeviceConfig converts the device section for the factory.
func (c *Config) DeviceConfig() *interfaces.DeviceConfig {
	return &interfaces.DeviceConfig{
		UseSimulation: c.Device.Simulation,
		DevicePath:    c.Device.Path,
		PollTimeout:   time.Duration(c.Device.PollTimeoutMS) * time.Millisecond,
	}
}

// Write encodes c as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
