package interfaces

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeviceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  DeviceConfig
		wantErr bool
	}{
		{"valid", DeviceConfig{DevicePath: "/dev/video11", PollTimeout: time.Second}, false},
		{"simulation without path", DeviceConfig{UseSimulation: true, PollTimeout: time.Millisecond}, false},
		{"zero timeout", DeviceConfig{DevicePath: "/dev/video11"}, true},
		{"negative timeout", DeviceConfig{PollTimeout: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSentinelErrors_Wrap(t *testing.T) {
	err := fmt.Errorf("DQBUF VIDEO_CAPTURE_MPLANE: %w", ErrNoBufferReady)
	assert.True(t, errors.Is(err, ErrNoBufferReady))
	assert.False(t, errors.Is(err, ErrUnsupported))
	assert.NotEqual(t, ErrUnsupported.Error(), ErrDeviceClosed.Error())
}
