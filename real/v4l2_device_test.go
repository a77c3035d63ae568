//go:build linux && (amd64 || arm64)

package real

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/m2mencoder/interfaces"
	"github.com/opd-ai/m2mencoder/v4l2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var _ interfaces.IDevice = (*V4L2Device)(nil)

func newTestDevice(path string) *V4L2Device {
	return NewV4L2Device(&interfaces.DeviceConfig{
		DevicePath:  path,
		PollTimeout: 10 * time.Millisecond,
	})
}

func TestOpen_MissingNode(t *testing.T) {
	dev := newTestDevice(filepath.Join(t.TempDir(), "video99"))

	err := dev.Open(v4l2.PixFmtH264)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrUnsupported)
	assert.Empty(t, dev.Path())
}

func TestOpen_NotAVideoNode(t *testing.T) {
	// /dev/null opens fine but rejects QUERYCAP.
	dev := newTestDevice("/dev/null")

	err := dev.Open(v4l2.PixFmtH264)
	assert.ErrorIs(t, err, interfaces.ErrUnsupported)
}

func TestClosedDevice(t *testing.T) {
	dev := newTestDevice("/dev/video99")

	_, err := dev.QueryCapabilities()
	assert.ErrorIs(t, err, interfaces.ErrDeviceClosed)

	f := v4l2.Format{Type: v4l2.BufTypeVideoOutputMPlane}
	assert.ErrorIs(t, dev.SetFormat(&f), interfaces.ErrDeviceClosed)

	_, err = dev.RequestBuffers(v4l2.BufTypeVideoCaptureMPlane, v4l2.MemoryMMAP, 4)
	assert.ErrorIs(t, err, interfaces.ErrDeviceClosed)

	_, err = dev.DequeueBuffer(v4l2.BufTypeVideoCaptureMPlane, v4l2.MemoryMMAP)
	assert.ErrorIs(t, err, interfaces.ErrDeviceClosed)

	ready, err := dev.Poll(time.Millisecond)
	assert.False(t, ready)
	assert.ErrorIs(t, err, interfaces.ErrDeviceClosed)

	assert.False(t, dev.IsCtrlExposed(v4l2.CidMPEGVideoBitrate))
	assert.NoError(t, dev.Interrupt())
	assert.NoError(t, dev.Close())
	assert.False(t, dev.IsSimulation())
}

func TestUnsupportedMapping(t *testing.T) {
	tests := []struct {
		name        string
		errno       error
		unsupported bool
	}{
		{"ENOTTY", unix.ENOTTY, true},
		{"EINVAL", unix.EINVAL, true},
		{"EBUSY", unix.EBUSY, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := unsupported("S_SELECTION", tt.errno)
			assert.Equal(t, tt.unsupported, errors.Is(err, interfaces.ErrUnsupported))
			assert.ErrorIs(t, err, tt.errno)
			assert.Contains(t, err.Error(), "S_SELECTION")
		})
	}
}
