package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/m2mencoder"
	"github.com/opd-ai/m2mencoder/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
device:
  simulation: true
  poll_timeout_ms: 20
encoder:
  input_format: I420
  width: 640
  height: 480
  profile: h264-high
  bitrate: 1000000
  framerate: 25
  gop_length: 50
  level: 31
output:
  path: out.h264
  rtp_addr: 127.0.0.1:5004
  mtu: 1400
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.True(t, cfg.Device.Simulation)
	assert.Equal(t, 20, cfg.Device.PollTimeoutMS)
	assert.Equal(t, "I420", cfg.Encoder.InputFormat)
	assert.Equal(t, 640, cfg.Encoder.Width)
	assert.Equal(t, uint32(50), cfg.Encoder.GOPLength)
	assert.Equal(t, uint16(1400), cfg.Output.MTU)
	// Defaults survive for keys the file omits.
	assert.Equal(t, uint8(96), cfg.Output.PayloadType)
	assert.Equal(t, 4, cfg.Output.Buffers)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "encoder:\n  bitrat: 5\n"},
		{"bad yaml", "encoder: [\n"},
		{"bad format", "encoder:\n  input_format: RGB24\n"},
		{"bad profile", "encoder:\n  profile: h265-main\n"},
		{"zero bitrate", "encoder:\n  bitrate: 0\n"},
		{"zero framerate", "encoder:\n  framerate: 0\n"},
		{"negative width", "encoder:\n  width: -1\n"},
		{"poll timeout too large", "device:\n  poll_timeout_ms: 60000\n"},
		{"no buffers", "output:\n  buffers: 0\n"},
		{"static payload type", "output:\n  rtp_addr: 127.0.0.1:5004\n  payload_type: 33\n"},
		{"tiny mtu", "output:\n  rtp_addr: 127.0.0.1:5004\n  mtu: 40\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m2menc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "out.h264", cfg.Output.Path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConversions(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	enc, err := cfg.EncoderConfig()
	require.NoError(t, err)
	assert.Equal(t, m2mencoder.Config{
		InputFormat:      video.PixelFormatI420,
		OutputProfile:    m2mencoder.H264ProfileHigh,
		InputVisibleSize: video.Size{Width: 640, Height: 480},
		InitialBitrate:   1000000,
		InitialFramerate: 25,
		GOPLength:        50,
		H264OutputLevel:  31,
		StorageType:      video.StorageOwnedMemory,
	}, enc)

	dev := cfg.DeviceConfig()
	assert.True(t, dev.UseSimulation)
	assert.Equal(t, 20*time.Millisecond, dev.PollTimeout)
	assert.NoError(t, dev.Validate())
}

func TestEncoderConfig_RequiresSize(t *testing.T) {
	cfg := Default()
	_, err := cfg.EncoderConfig()
	assert.Error(t, err)

	cfg.Encoder.Width, cfg.Encoder.Height = 320, 240
	_, err = cfg.EncoderConfig()
	assert.NoError(t, err)
}

func TestWrite_RoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, cfg.Write(&buf))
	assert.Contains(t, buf.String(), "poll_timeout_ms: 20")

	again, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}
