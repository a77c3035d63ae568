// Package testing provides a simulated M2M encoder device for deterministic
// testing of the encoder pipeline.
//
// # Overview
//
// [SimulatedM2MDevice] implements interfaces.IDevice entirely in memory. It
// behaves like a stateful V4L2 mplane H.264 encoder: formats are adjusted
// to a 16-pixel aligned coded size, CAPTURE buffers are MMAP allocations,
// raw OUTPUT buffers are read through USERPTR (or accepted as opaque
// DMABUF handles) and a drain started with ENCODER_CMD STOP ends with an
// empty buffer flagged LAST.
//
// # Simulation vs Real Implementation
//
//   - Simulation (this package): bitstream is synthesized, device calls are
//     logged for verification and faults can be injected per operation or
//     per control. Used for unit and integration testing.
//
//   - Real (real package): ioctls on a kernel V4L2 device node. Used for
//     production deployments.
//
// Both implementations conform to interfaces.IDevice, allowing seamless
// switching via the factory package.
//
// # Usage
//
//	dev := testsim.NewSimulatedM2MDevice(testsim.SimulatedDeviceConfig{
//	    OutputBufferSize: 64 * 1024,
//	})
//	enc := m2mencoder.New(dev, m2mencoder.Options{})
//	...
//	assert.Equal(t, 1, dev.CountCalls("S_EXT_CTRLS FORCE_KEY_FRAME"))
//
// Faults are persistent until cleared:
//
//	dev.SetFault(testsim.OpEncoderCmd, errors.New("EIO"))
//
// # Thread Safety
//
// All methods are safe for concurrent use. Poll may block while another
// goroutine queues buffers or calls Interrupt.
package testing
