// Package interfaces defines the device-facing contract of the encoder: the
// set of ioctl-equivalent operations a V4L2-style memory-to-memory (M2M)
// encoding device must provide.
//
// The abstraction allows switching between a real kernel device and an
// in-memory simulation, supporting both production deployments and
// deterministic testing scenarios.
//
// # Core Interfaces
//
// [IDevice] mirrors the V4L2 mplane M2M API. An M2M encoder has two queues:
// the OUTPUT queue receives raw frames from the application and the CAPTURE
// queue returns the encoded bitstream:
//
//	dev := factory.NewDeviceFactory().CreateDevice()
//	if err := dev.Open(v4l2.PixFmtH264); err != nil {
//	    return err
//	}
//	caps, err := dev.QueryCapabilities()
//	if err != nil || !caps.Has(v4l2.CapVideoM2MMPlane|v4l2.CapStreaming) {
//	    return errors.New("not an M2M encoder")
//	}
//
// SetFormat adjusts the passed format in place the way the kernel does:
// callers must inspect the result rather than assume the request was
// honored. The same holds for SetSelection, which returns the rectangle the
// device actually applied.
//
// DequeueBuffer never blocks. When no buffer is ready it returns
// [ErrNoBufferReady]; readiness is awaited with Poll, which an Interrupt
// call wakes up from another goroutine.
//
// # Configuration
//
// [DeviceConfig] holds the settings used by the factory package:
//
//	config := &interfaces.DeviceConfig{
//	    UseSimulation: false,
//	    DevicePath:    "/dev/video11",
//	    PollTimeout:   100 * time.Millisecond,
//	}
//
// # Implementation Selection
//
// The factory package creates implementations based on configuration:
//   - UseSimulation=true: Creates SimulatedM2MDevice from the testing package
//   - UseSimulation=false: Creates V4L2Device from the real package
//
// # Thread Safety
//
// Implementations must allow Interrupt to be called concurrently with Poll.
// All other methods are called from a single goroutine (the encoder task
// context) plus the poller goroutine for Poll.
package interfaces
