package factory

import (
	"testing"
	"time"

	"github.com/opd-ai/m2mencoder/interfaces"
	"github.com/opd-ai/m2mencoder/real"
	testsim "github.com/opd-ai/m2mencoder/testing"
	"github.com/opd-ai/m2mencoder/v4l2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Setenv("M2M_USE_SIMULATION", "")
	t.Setenv("M2M_DEVICE_PATH", "")
	t.Setenv("M2M_POLL_TIMEOUT", "")
}

func TestNewDeviceFactory_Defaults(t *testing.T) {
	clearEnv(t)

	factory := NewDeviceFactory()
	config := factory.GetCurrentConfig()

	assert.False(t, config.UseSimulation)
	assert.Empty(t, config.DevicePath)
	assert.Equal(t, DefaultPollTimeout, config.PollTimeout)
	assert.False(t, factory.IsUsingSimulation())
}

func TestEnvironmentVariableParsing(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want interfaces.DeviceConfig
	}{
		{
			name: "simulation enabled",
			env:  map[string]string{"M2M_USE_SIMULATION": "true"},
			want: interfaces.DeviceConfig{UseSimulation: true, PollTimeout: DefaultPollTimeout},
		},
		{
			name: "invalid simulation flag keeps default",
			env:  map[string]string{"M2M_USE_SIMULATION": "maybe"},
			want: interfaces.DeviceConfig{PollTimeout: DefaultPollTimeout},
		},
		{
			name: "device path",
			env:  map[string]string{"M2M_DEVICE_PATH": "/dev/video11"},
			want: interfaces.DeviceConfig{DevicePath: "/dev/video11", PollTimeout: DefaultPollTimeout},
		},
		{
			name: "poll timeout",
			env:  map[string]string{"M2M_POLL_TIMEOUT": "250"},
			want: interfaces.DeviceConfig{PollTimeout: 250 * time.Millisecond},
		},
		{
			name: "non-numeric poll timeout",
			env:  map[string]string{"M2M_POLL_TIMEOUT": "soon"},
			want: interfaces.DeviceConfig{PollTimeout: DefaultPollTimeout},
		},
		{
			name: "poll timeout below minimum",
			env:  map[string]string{"M2M_POLL_TIMEOUT": "0"},
			want: interfaces.DeviceConfig{PollTimeout: DefaultPollTimeout},
		},
		{
			name: "poll timeout above maximum",
			env:  map[string]string{"M2M_POLL_TIMEOUT": "10001"},
			want: interfaces.DeviceConfig{PollTimeout: DefaultPollTimeout},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			config := createDefaultConfig()
			applyEnvironmentOverrides(config)
			assert.Equal(t, tt.want, *config)
		})
	}
}

func TestCreateDevice(t *testing.T) {
	clearEnv(t)
	factory := NewDeviceFactory()

	dev, err := factory.CreateDevice()
	require.NoError(t, err)
	assert.False(t, dev.IsSimulation())
	assert.IsType(t, &real.V4L2Device{}, dev)

	factory.SwitchToSimulation()
	assert.True(t, factory.IsUsingSimulation())

	dev, err = factory.CreateDevice()
	require.NoError(t, err)
	assert.True(t, dev.IsSimulation())
	assert.IsType(t, &testsim.SimulatedM2MDevice{}, dev)

	factory.SwitchToReal()
	assert.False(t, factory.IsUsingSimulation())
}

func TestCreateDeviceWithConfig(t *testing.T) {
	clearEnv(t)
	factory := NewDeviceFactory()

	_, err := factory.CreateDeviceWithConfig(&interfaces.DeviceConfig{UseSimulation: true})
	assert.Error(t, err, "zero poll timeout must be rejected")

	dev, err := factory.CreateDeviceWithConfig(nil)
	require.NoError(t, err)
	assert.False(t, dev.IsSimulation())

	dev, err = factory.CreateDeviceWithConfig(&interfaces.DeviceConfig{
		UseSimulation: true,
		PollTimeout:   time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, dev.IsSimulation())
}

func TestCreateSimulationForTesting(t *testing.T) {
	factory := NewDeviceFactory()

	dev := factory.CreateSimulationForTesting(
		WithInputFormats(v4l2.PixFmtYUV420M),
		WithPreferredFormats(v4l2.PixFmtYUV420M),
		WithMaxBuffers(2),
		WithSPSPPSBeforeIDR(true),
		WithoutSelection(),
	)
	require.True(t, dev.IsSimulation())
	require.NoError(t, dev.Open(v4l2.PixFmtH264))
	defer dev.Close()

	assert.Equal(t, []v4l2.Fourcc{v4l2.PixFmtYUV420M}, dev.PreferredInputFormats())
	assert.True(t, dev.IsCtrlExposed(v4l2.CidMPEGVideoH264SPSPPSBeforeIDR))

	_, err := dev.SetSelection(v4l2.BufTypeVideoOutputMPlane, v4l2.SelTgtCrop, v4l2.Rect{Width: 64, Height: 48})
	assert.ErrorIs(t, err, interfaces.ErrUnsupported)

	require.NoError(t, dev.SetFormat(&v4l2.Format{
		Type:        v4l2.BufTypeVideoCaptureMPlane,
		Width:       64,
		Height:      48,
		PixelFormat: v4l2.PixFmtH264,
		Planes:      []v4l2.PlaneFormat{{SizeImage: 4096}},
	}))
	granted, err := dev.RequestBuffers(v4l2.BufTypeVideoCaptureMPlane, v4l2.MemoryMMAP, 8)
	require.NoError(t, err)
	assert.Equal(t, 2, granted)
}

func TestUpdateConfig(t *testing.T) {
	clearEnv(t)
	factory := NewDeviceFactory()

	assert.Error(t, factory.UpdateConfig(nil))
	assert.Error(t, factory.UpdateConfig(&interfaces.DeviceConfig{PollTimeout: -1}))

	update := &interfaces.DeviceConfig{
		UseSimulation: true,
		DevicePath:    "/dev/video12",
		PollTimeout:   50 * time.Millisecond,
	}
	require.NoError(t, factory.UpdateConfig(update))

	update.DevicePath = "/dev/changed"
	got := factory.GetCurrentConfig()
	assert.Equal(t, "/dev/video12", got.DevicePath)
	assert.True(t, got.UseSimulation)

	got.PollTimeout = time.Hour
	assert.Equal(t, 50*time.Millisecond, factory.GetCurrentConfig().PollTimeout)
}
