// Package factory creates encoder devices for m2mencoder.
//
// The factory abstracts device construction, allowing seamless switching
// between the simulated device (for testing) and a real V4L2 node without
// changing consuming code.
//
// # Configuration
//
// The factory supports configuration via environment variables:
//   - M2M_USE_SIMULATION: "true" or "false" to enable simulation mode
//   - M2M_DEVICE_PATH: device node to open, e.g. /dev/video11; empty probes /dev/video*
//   - M2M_POLL_TIMEOUT: integer milliseconds a single device poll may block
//
// Invalid or out-of-range values are logged and ignored.
//
// # Usage
//
//	factory := NewDeviceFactory()
//
//	dev, err := factory.CreateDevice()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	enc := m2mencoder.New(dev, m2mencoder.Options{})
//
// # Testing Support
//
// CreateSimulationForTesting returns a simulated device whose behavior can be
// tuned with options:
//
//	dev := factory.CreateSimulationForTesting(
//	    WithInputFormats(v4l2.PixFmtNV12M),
//	    WithMaxBuffers(4),
//	)
//
// # Mode Switching
//
//	factory.SwitchToSimulation()
//	factory.SwitchToReal()
package factory
