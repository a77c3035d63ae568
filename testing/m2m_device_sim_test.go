package testing

import (
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/m2mencoder/interfaces"
	"github.com/opd-ai/m2mencoder/v4l2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupStreaming opens the device, sets 64x48 NV12M -> H264 formats and
// allocates two buffers per queue.
func setupStreaming(t *testing.T, config SimulatedDeviceConfig) *SimulatedM2MDevice {
	t.Helper()
	dev := NewSimulatedM2MDevice(config)
	require.NoError(t, dev.Open(v4l2.PixFmtH264))

	capFmt := &v4l2.Format{Type: v4l2.BufTypeVideoCaptureMPlane, Width: 64, Height: 48, PixelFormat: v4l2.PixFmtH264,
		Planes: []v4l2.PlaneFormat{{SizeImage: 4096}}}
	require.NoError(t, dev.SetFormat(capFmt))
	outFmt := &v4l2.Format{Type: v4l2.BufTypeVideoOutputMPlane, Width: 64, Height: 48, PixelFormat: v4l2.PixFmtNV12M}
	require.NoError(t, dev.SetFormat(outFmt))

	n, err := dev.RequestBuffers(v4l2.BufTypeVideoCaptureMPlane, v4l2.MemoryMMAP, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = dev.RequestBuffers(v4l2.BufTypeVideoOutputMPlane, v4l2.MemoryUserPtr, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	return dev
}

func queueInput(t *testing.T, dev *SimulatedM2MDevice, index int, ts time.Duration) {
	t.Helper()
	y := make([]byte, 64*48)
	uv := make([]byte, 64*24)
	require.NoError(t, dev.QueueBuffer(&v4l2.Buffer{
		Index:     uint32(index),
		Type:      v4l2.BufTypeVideoOutputMPlane,
		Memory:    v4l2.MemoryUserPtr,
		Timestamp: ts,
		Planes: []v4l2.Plane{
			{BytesUsed: uint32(len(y)), Length: uint32(len(y)), UserPtr: y},
			{BytesUsed: uint32(len(uv)), Length: uint32(len(uv)), UserPtr: uv},
		},
	}))
}

func queueCapture(t *testing.T, dev *SimulatedM2MDevice, index int) {
	t.Helper()
	require.NoError(t, dev.QueueBuffer(&v4l2.Buffer{
		Index:  uint32(index),
		Type:   v4l2.BufTypeVideoCaptureMPlane,
		Memory: v4l2.MemoryMMAP,
		Planes: []v4l2.Plane{{Length: 4096}},
	}))
}

func TestNewSimulatedM2MDevice_Defaults(t *testing.T) {
	dev := NewSimulatedM2MDevice(SimulatedDeviceConfig{})
	assert.True(t, dev.IsSimulation())
	assert.Equal(t, []v4l2.Fourcc{v4l2.PixFmtNV12M}, dev.PreferredInputFormats())

	_, err := dev.QueryCapabilities()
	assert.Error(t, err, "device must be opened first")

	assert.True(t, errors.Is(dev.Open(v4l2.PixFmtVP9), interfaces.ErrUnsupported))
	require.NoError(t, dev.Open(v4l2.PixFmtH264))

	caps, err := dev.QueryCapabilities()
	require.NoError(t, err)
	assert.True(t, caps.Has(v4l2.CapVideoM2MMPlane|v4l2.CapStreaming))
}

func TestSimulatedM2MDevice_SetFormatAdjusts(t *testing.T) {
	dev := NewSimulatedM2MDevice(SimulatedDeviceConfig{OutputBufferSize: 65536})
	require.NoError(t, dev.Open(v4l2.PixFmtH264))

	f := &v4l2.Format{Type: v4l2.BufTypeVideoOutputMPlane, Width: 1000, Height: 500, PixelFormat: v4l2.PixFmtYUV420}
	require.NoError(t, dev.SetFormat(f))
	assert.Equal(t, v4l2.PixFmtNV12M, f.PixelFormat, "unsupported fourcc replaced")
	assert.Equal(t, uint32(1008), f.Width)
	assert.Equal(t, uint32(512), f.Height)
	require.Len(t, f.Planes, 2)
	assert.Equal(t, uint32(1008*512), f.Planes[0].SizeImage)

	c := &v4l2.Format{Type: v4l2.BufTypeVideoCaptureMPlane, Width: 1000, Height: 500, PixelFormat: v4l2.PixFmtH264,
		Planes: []v4l2.PlaneFormat{{SizeImage: 2 << 20}}}
	require.NoError(t, dev.SetFormat(c))
	assert.Equal(t, uint32(65536), c.Planes[0].SizeImage)

	got, err := dev.GetFormat(v4l2.BufTypeVideoCaptureMPlane)
	require.NoError(t, err)
	assert.Equal(t, *c, got)
}

func TestSimulatedM2MDevice_EncodeAndDrain(t *testing.T) {
	dev := setupStreaming(t, SimulatedDeviceConfig{})

	queueCapture(t, dev, 0)
	queueCapture(t, dev, 1)
	queueInput(t, dev, 0, 40*time.Millisecond)
	assert.Equal(t, 0, dev.FramesEncoded(), "nothing happens before STREAMON")

	require.NoError(t, dev.StreamOn(v4l2.BufTypeVideoCaptureMPlane))
	require.NoError(t, dev.StreamOn(v4l2.BufTypeVideoOutputMPlane))
	assert.Equal(t, 1, dev.FramesEncoded())

	ready, err := dev.Poll(time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ready)

	in, err := dev.DequeueBuffer(v4l2.BufTypeVideoOutputMPlane, v4l2.MemoryUserPtr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), in.Index)

	out, err := dev.DequeueBuffer(v4l2.BufTypeVideoCaptureMPlane, v4l2.MemoryMMAP)
	require.NoError(t, err)
	assert.True(t, out.IsKeyframe())
	assert.Equal(t, 40*time.Millisecond, out.Timestamp)
	planes, err := dev.MapBuffer(v4l2.BufTypeVideoCaptureMPlane, int(out.Index))
	require.NoError(t, err)
	payload := planes[0][:out.Planes[0].BytesUsed]
	assert.Equal(t, []byte{0, 0, 0, 1, 0x67}, payload[:5], "first IDR carries SPS")

	_, err = dev.DequeueBuffer(v4l2.BufTypeVideoCaptureMPlane, v4l2.MemoryMMAP)
	assert.True(t, errors.Is(err, interfaces.ErrNoBufferReady))

	// Drain: STOP with nothing pending returns an empty LAST buffer.
	require.NoError(t, dev.EncoderCommand(v4l2.EncCmdStop))
	last, err := dev.DequeueBuffer(v4l2.BufTypeVideoCaptureMPlane, v4l2.MemoryMMAP)
	require.NoError(t, err)
	assert.True(t, last.IsLast())
	assert.Equal(t, uint32(0), last.Planes[0].BytesUsed)

	// Stopped until START.
	queueInput(t, dev, 1, 0)
	assert.Equal(t, 1, dev.FramesEncoded())
	queueCapture(t, dev, int(last.Index))
	require.NoError(t, dev.EncoderCommand(v4l2.EncCmdStart))
	assert.Equal(t, 2, dev.FramesEncoded())
}

func TestSimulatedM2MDevice_ForceKeyframe(t *testing.T) {
	dev := setupStreaming(t, SimulatedDeviceConfig{})
	require.NoError(t, dev.StreamOn(v4l2.BufTypeVideoCaptureMPlane))
	require.NoError(t, dev.StreamOn(v4l2.BufTypeVideoOutputMPlane))

	encodeOne := func(force bool) v4l2.Buffer {
		if force {
			require.NoError(t, dev.SetExtCtrls(v4l2.CtrlClassCodec, []v4l2.ExtCtrl{{ID: v4l2.CidMPEGVideoForceKeyFrame, Value: 1}}))
		}
		queueCapture(t, dev, 0)
		queueInput(t, dev, 0, 0)
		_, err := dev.DequeueBuffer(v4l2.BufTypeVideoOutputMPlane, v4l2.MemoryUserPtr)
		require.NoError(t, err)
		out, err := dev.DequeueBuffer(v4l2.BufTypeVideoCaptureMPlane, v4l2.MemoryMMAP)
		require.NoError(t, err)
		return out
	}

	assert.True(t, encodeOne(false).IsKeyframe())
	assert.False(t, encodeOne(false).IsKeyframe())
	forced := encodeOne(true)
	assert.True(t, forced.IsKeyframe())

	planes, err := dev.MapBuffer(v4l2.BufTypeVideoCaptureMPlane, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(0x65), planes[0][4], "no SPS before a later IDR by default")
	assert.Equal(t, 1, dev.CountCalls("S_EXT_CTRLS FORCE_KEY_FRAME"))
}

func TestSimulatedM2MDevice_Controls(t *testing.T) {
	dev := NewSimulatedM2MDevice(SimulatedDeviceConfig{HiddenCtrls: []uint32{v4l2.CidMPEGVideoMBRCEnable}})
	require.NoError(t, dev.Open(v4l2.PixFmtH264))

	assert.False(t, dev.IsCtrlExposed(v4l2.CidMPEGVideoH264SPSPPSBeforeIDR))
	assert.False(t, dev.IsCtrlExposed(v4l2.CidMPEGVideoMBRCEnable))
	assert.True(t, dev.IsCtrlExposed(v4l2.CidMPEGVideoBitrate))

	err := dev.SetExtCtrls(v4l2.CtrlClassCodec, []v4l2.ExtCtrl{{ID: v4l2.CidMPEGVideoMBRCEnable, Value: 1}})
	assert.True(t, errors.Is(err, interfaces.ErrUnsupported))

	require.NoError(t, dev.SetExtCtrls(v4l2.CtrlClassCodec, []v4l2.ExtCtrl{{ID: v4l2.CidMPEGVideoBitrate, Value: 1000}}))
	v, ok := dev.CtrlValue(v4l2.CidMPEGVideoBitrate)
	assert.True(t, ok)
	assert.Equal(t, int32(1000), v)

	boom := errors.New("boom")
	dev.SetCtrlFault(v4l2.CidMPEGVideoBitrate, boom)
	err = dev.SetExtCtrls(v4l2.CtrlClassCodec, []v4l2.ExtCtrl{{ID: v4l2.CidMPEGVideoBitrate, Value: 1}})
	assert.True(t, errors.Is(err, boom))

	require.NoError(t, dev.SetFrameInterval(v4l2.BufTypeVideoOutputMPlane, 1, 30))
	num, den := dev.FrameInterval()
	assert.Equal(t, uint32(1), num)
	assert.Equal(t, uint32(30), den)
}

func TestSimulatedM2MDevice_Crop(t *testing.T) {
	dev := setupStreaming(t, SimulatedDeviceConfig{CropAlignment: 4})

	applied, err := dev.SetSelection(v4l2.BufTypeVideoOutput, v4l2.SelTgtCrop, v4l2.Rect{Width: 62, Height: 100})
	require.NoError(t, err)
	assert.Equal(t, v4l2.Rect{Width: 60, Height: 48}, applied)

	legacy := NewSimulatedM2MDevice(SimulatedDeviceConfig{DisableSelection: true})
	require.NoError(t, legacy.Open(v4l2.PixFmtH264))
	_, err = legacy.SetSelection(v4l2.BufTypeVideoOutput, v4l2.SelTgtCrop, v4l2.Rect{Width: 16, Height: 16})
	assert.True(t, errors.Is(err, interfaces.ErrUnsupported))
}

func TestSimulatedM2MDevice_Faults(t *testing.T) {
	dev := setupStreaming(t, SimulatedDeviceConfig{})
	boom := errors.New("boom")

	dev.SetFault(OpStreamOn, boom)
	assert.True(t, errors.Is(dev.StreamOn(v4l2.BufTypeVideoCaptureMPlane), boom))
	dev.ClearFault(OpStreamOn)
	assert.NoError(t, dev.StreamOn(v4l2.BufTypeVideoCaptureMPlane))

	dev.SetFault(OpPoll, boom)
	_, err := dev.Poll(time.Millisecond)
	assert.True(t, errors.Is(err, boom))
}

func TestSimulatedM2MDevice_PollInterrupt(t *testing.T) {
	dev := setupStreaming(t, SimulatedDeviceConfig{})

	done := make(chan bool)
	go func() {
		ready, _ := dev.Poll(time.Minute)
		done <- ready
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, dev.Interrupt())

	select {
	case ready := <-done:
		assert.False(t, ready)
	case <-time.After(5 * time.Second):
		t.Fatal("Poll was not interrupted")
	}
}

func TestSimulatedM2MDevice_Close(t *testing.T) {
	dev := setupStreaming(t, SimulatedDeviceConfig{})
	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())

	_, err := dev.QueryCapabilities()
	assert.True(t, errors.Is(err, interfaces.ErrDeviceClosed))
	assert.Contains(t, dev.Calls(), "CLOSE")
}
