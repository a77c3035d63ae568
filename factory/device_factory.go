package factory

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/m2mencoder/interfaces"
	"github.com/opd-ai/m2mencoder/real"
	"github.com/opd-ai/m2mencoder/testing"
	"github.com/opd-ai/m2mencoder/v4l2"
	"github.com/sirupsen/logrus"
)

// Validation constants for configuration bounds checking.
const (
	// MinPollTimeout is the minimum allowed poll timeout in milliseconds.
	MinPollTimeout = 1
	// MaxPollTimeout is the maximum allowed poll timeout in milliseconds.
	MaxPollTimeout = 10000
)

// DefaultPollTimeout is used when neither the caller nor the environment
// sets one.
const DefaultPollTimeout = 100 * time.Millisecond

// DeviceFactory creates encoder devices based on configuration.
// It is safe for concurrent use; all methods are protected by an internal mutex.
type DeviceFactory struct {
	mu            sync.RWMutex
	defaultConfig *interfaces.DeviceConfig
}

// TestConfigOption is a functional option for customizing the simulated device.
type TestConfigOption func(*testing.SimulatedDeviceConfig)

// NewDeviceFactory creates a new factory with default configuration
func NewDeviceFactory() *DeviceFactory {
	defaultConfig := createDefaultConfig()
	applyEnvironmentOverrides(defaultConfig)
	logConfigurationInfo(defaultConfig)

	return &DeviceFactory{
		defaultConfig: defaultConfig,
	}
}

// createDefaultConfig initializes the default device configuration.
//
// Default Value Rationale:
//   - UseSimulation: false - hardware by default; simulation must be explicitly enabled
//   - DevicePath: "" - probe /dev/video* for a matching encoder
//   - PollTimeout: 100ms - short enough for a prompt shutdown
func createDefaultConfig() *interfaces.DeviceConfig {
	return &interfaces.DeviceConfig{
		UseSimulation: false,
		DevicePath:    "",
		PollTimeout:   DefaultPollTimeout,
	}
}

// applyEnvironmentOverrides updates configuration based on environment variables.
// It checks for M2M_* environment variables and overrides defaults if valid values are found.
func applyEnvironmentOverrides(config *interfaces.DeviceConfig) {
	parseSimulationSetting(config)
	parseDevicePathSetting(config)
	parsePollTimeoutSetting(config)
}

// parseSimulationSetting updates UseSimulation from M2M_USE_SIMULATION.
func parseSimulationSetting(config *interfaces.DeviceConfig) {
	if useSimStr := os.Getenv("M2M_USE_SIMULATION"); useSimStr != "" {
		useSim, err := strconv.ParseBool(useSimStr)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "parseSimulationSetting",
				"env_var":     "M2M_USE_SIMULATION",
				"value":       useSimStr,
				"error":       err.Error(),
				"using_value": config.UseSimulation,
			}).Warn("Failed to parse M2M_USE_SIMULATION environment variable, using default")
			return
		}
		config.UseSimulation = useSim
	}
}

// parseDevicePathSetting updates DevicePath from M2M_DEVICE_PATH.
func parseDevicePathSetting(config *interfaces.DeviceConfig) {
	if path := os.Getenv("M2M_DEVICE_PATH"); path != "" {
		config.DevicePath = path
	}
}

// parsePollTimeoutSetting updates PollTimeout from M2M_POLL_TIMEOUT, given in
// milliseconds. Values outside [MinPollTimeout, MaxPollTimeout] are ignored
// with a warning.
func parsePollTimeoutSetting(config *interfaces.DeviceConfig) {
	if timeoutStr := os.Getenv("M2M_POLL_TIMEOUT"); timeoutStr != "" {
		timeout, err := strconv.Atoi(timeoutStr)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "parsePollTimeoutSetting",
				"env_var":     "M2M_POLL_TIMEOUT",
				"value":       timeoutStr,
				"error":       err.Error(),
				"using_value": config.PollTimeout,
			}).Warn("Failed to parse M2M_POLL_TIMEOUT environment variable, using default")
			return
		}
		if timeout < MinPollTimeout || timeout > MaxPollTimeout {
			logrus.WithFields(logrus.Fields{
				"function":    "parsePollTimeoutSetting",
				"env_var":     "M2M_POLL_TIMEOUT",
				"value":       timeout,
				"min":         MinPollTimeout,
				"max":         MaxPollTimeout,
				"using_value": config.PollTimeout,
			}).Warn("M2M_POLL_TIMEOUT value out of bounds, using default")
			return
		}
		config.PollTimeout = time.Duration(timeout) * time.Millisecond
	}
}

// logConfigurationInfo logs the final configuration settings.
func logConfigurationInfo(config *interfaces.DeviceConfig) {
	logrus.WithFields(logrus.Fields{
		"function":       "NewDeviceFactory",
		"use_simulation": config.UseSimulation,
		"device_path":    config.DevicePath,
		"poll_timeout":   config.PollTimeout,
	}).Info("Created device factory with configuration")
}

// CreateDevice creates a device based on the current default configuration.
// The device is not opened.
func (f *DeviceFactory) CreateDevice() (interfaces.IDevice, error) {
	f.mu.RLock()
	config := *f.defaultConfig
	f.mu.RUnlock()
	return f.CreateDeviceWithConfig(&config)
}

// CreateDeviceWithConfig creates a device with custom configuration. A nil
// config uses the factory default.
func (f *DeviceFactory) CreateDeviceWithConfig(config *interfaces.DeviceConfig) (interfaces.IDevice, error) {
	if config == nil {
		f.mu.RLock()
		copied := *f.defaultConfig
		f.mu.RUnlock()
		config = &copied
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid device config: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":       "CreateDeviceWithConfig",
		"use_simulation": config.UseSimulation,
		"device_path":    config.DevicePath,
		"poll_timeout":   config.PollTimeout,
	}).Info("Creating encoder device")

	if config.UseSimulation {
		logrus.WithFields(logrus.Fields{
			"function": "CreateDeviceWithConfig",
			"type":     "simulation",
		}).Info("Creating simulated encoder device")

		return testing.NewSimulatedM2MDevice(testing.SimulatedDeviceConfig{}), nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateDeviceWithConfig",
		"type":     "real",
	}).Info("Creating V4L2 encoder device")

	return real.NewV4L2Device(config), nil
}

// WithInputFormats sets the raw formats the simulated device accepts.
func WithInputFormats(formats ...v4l2.Fourcc) TestConfigOption {
	return func(c *testing.SimulatedDeviceConfig) {
		c.InputFormats = formats
	}
}

// WithPreferredFormats sets the formats the simulated device prefers.
func WithPreferredFormats(formats ...v4l2.Fourcc) TestConfigOption {
	return func(c *testing.SimulatedDeviceConfig) {
		c.PreferredFormats = formats
	}
}

// WithMaxBuffers caps how many buffers the simulated device grants per queue.
func WithMaxBuffers(n int) TestConfigOption {
	return func(c *testing.SimulatedDeviceConfig) {
		c.MaxBuffers = n
	}
}

// WithSPSPPSBeforeIDR exposes the control repeating parameter sets before
// every IDR.
func WithSPSPPSBeforeIDR(exposed bool) TestConfigOption {
	return func(c *testing.SimulatedDeviceConfig) {
		c.ExposeSPSPPSBeforeIDR = exposed
	}
}

// WithoutSelection makes the simulated device reject S_SELECTION so the
// legacy crop path is used.
func WithoutSelection() TestConfigOption {
	return func(c *testing.SimulatedDeviceConfig) {
		c.DisableSelection = true
	}
}

// CreateSimulationForTesting creates a simulated device specifically for testing.
// It accepts optional TestConfigOption functions to override the defaults of
// testing.SimulatedDeviceConfig.
func (f *DeviceFactory) CreateSimulationForTesting(opts ...TestConfigOption) interfaces.IDevice {
	var simConfig testing.SimulatedDeviceConfig
	for _, opt := range opts {
		opt(&simConfig)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "CreateSimulationForTesting",
		"input_formats": simConfig.InputFormats,
		"max_buffers":   simConfig.MaxBuffers,
		"selection":     !simConfig.DisableSelection,
	}).Info("Creating simulation implementation for testing")

	return testing.NewSimulatedM2MDevice(simConfig)
}

// SwitchToSimulation switches the configuration to use simulation
func (f *DeviceFactory) SwitchToSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchToSimulation",
		"previous": f.defaultConfig.UseSimulation,
	}).Info("Switching factory to simulation mode")

	f.defaultConfig.UseSimulation = true
}

// SwitchToReal switches the configuration to use real hardware
func (f *DeviceFactory) SwitchToReal() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchToReal",
		"previous": f.defaultConfig.UseSimulation,
	}).Info("Switching factory to real mode")

	f.defaultConfig.UseSimulation = false
}

// GetCurrentConfig returns a copy of the current default configuration
func (f *DeviceFactory) GetCurrentConfig() *interfaces.DeviceConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()

	config := *f.defaultConfig
	return &config
}

// IsUsingSimulation returns true if the factory is configured for simulation
func (f *DeviceFactory) IsUsingSimulation() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.defaultConfig.UseSimulation
}

// UpdateConfig replaces the factory's default configuration
func (f *DeviceFactory) UpdateConfig(config *interfaces.DeviceConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid device config: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":       "UpdateConfig",
		"old_simulation": f.defaultConfig.UseSimulation,
		"new_simulation": config.UseSimulation,
		"old_path":       f.defaultConfig.DevicePath,
		"new_path":       config.DevicePath,
	}).Info("Updating factory configuration")

	copied := *config
	f.defaultConfig = &copied
	return nil
}
