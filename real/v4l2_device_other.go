//go:build !(linux && (amd64 || arm64))

package real

import (
	"fmt"
	"runtime"
	"time"

	"github.com/opd-ai/m2mencoder/interfaces"
	"github.com/opd-ai/m2mencoder/v4l2"
	"github.com/sirupsen/logrus"
)

// V4L2Device is unavailable on this platform; every operation fails with
// interfaces.ErrUnsupported.
type V4L2Device struct {
	config *interfaces.DeviceConfig
}

// NewV4L2Device creates a device that cannot be opened on this platform.
func NewV4L2Device(config *interfaces.DeviceConfig) *V4L2Device {
	logrus.WithFields(logrus.Fields{
		"function": "NewV4L2Device",
		"goos":     runtime.GOOS,
		"goarch":   runtime.GOARCH,
	}).Warn("V4L2 devices are not supported on this platform")
	return &V4L2Device{config: config}
}

func errPlatform() error {
	return fmt.Errorf("V4L2 on %s/%s: %w", runtime.GOOS, runtime.GOARCH, interfaces.ErrUnsupported)
}

func (d *V4L2Device) Path() string { return "" }

func (d *V4L2Device) Open(codec v4l2.Fourcc) error { return errPlatform() }

func (d *V4L2Device) QueryCapabilities() (v4l2.Capability, error) {
	return v4l2.Capability{}, errPlatform()
}

func (d *V4L2Device) TryEncoderCommand(cmd v4l2.EncoderCmd) error { return errPlatform() }

func (d *V4L2Device) EncoderCommand(cmd v4l2.EncoderCmd) error { return errPlatform() }

func (d *V4L2Device) SetFormat(f *v4l2.Format) error { return errPlatform() }

func (d *V4L2Device) GetFormat(bufType v4l2.BufType) (v4l2.Format, error) {
	return v4l2.Format{}, errPlatform()
}

func (d *V4L2Device) SetSelection(bufType v4l2.BufType, target uint32, r v4l2.Rect) (v4l2.Rect, error) {
	return v4l2.Rect{}, errPlatform()
}

func (d *V4L2Device) SetCrop(bufType v4l2.BufType, r v4l2.Rect) error { return errPlatform() }

func (d *V4L2Device) GetCrop(bufType v4l2.BufType) (v4l2.Rect, error) {
	return v4l2.Rect{}, errPlatform()
}

func (d *V4L2Device) RequestBuffers(bufType v4l2.BufType, memory v4l2.Memory, count int) (int, error) {
	return 0, errPlatform()
}

func (d *V4L2Device) MapBuffer(bufType v4l2.BufType, index int) ([][]byte, error) {
	return nil, errPlatform()
}

func (d *V4L2Device) QueueBuffer(b *v4l2.Buffer) error { return errPlatform() }

func (d *V4L2Device) DequeueBuffer(bufType v4l2.BufType, memory v4l2.Memory) (v4l2.Buffer, error) {
	return v4l2.Buffer{}, errPlatform()
}

func (d *V4L2Device) StreamOn(bufType v4l2.BufType) error { return errPlatform() }

func (d *V4L2Device) StreamOff(bufType v4l2.BufType) error { return errPlatform() }

func (d *V4L2Device) SetExtCtrls(class uint32, ctrls []v4l2.ExtCtrl) error { return errPlatform() }

func (d *V4L2Device) IsCtrlExposed(id uint32) bool { return false }

func (d *V4L2Device) SetFrameInterval(bufType v4l2.BufType, numerator, denominator uint32) error {
	return errPlatform()
}

func (d *V4L2Device) PreferredInputFormats() []v4l2.Fourcc { return nil }

func (d *V4L2Device) Poll(timeout time.Duration) (bool, error) { return false, errPlatform() }

func (d *V4L2Device) Interrupt() error { return nil }

func (d *V4L2Device) Close() error { return nil }

func (d *V4L2Device) IsSimulation() bool { return false }
