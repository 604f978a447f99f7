// Package config loads the node configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/power"
	"github.com/banshee-data/motion.report/internal/security"
	"github.com/banshee-data/motion.report/internal/serialmux"
	"github.com/banshee-data/motion.report/internal/telemetry"
	"github.com/banshee-data/motion.report/internal/timeutil"
	"github.com/banshee-data/motion.report/internal/units"
	"github.com/banshee-data/motion.report/internal/upload"
)

// DefaultConfigPath is the path to the canonical node defaults file.
const DefaultConfigPath = "config/node.defaults.json"

// Built-in defaults used when a field is omitted.
const (
	DefaultDeviceID       = "Device_Watchc01"
	DefaultEndpoint       = "http://localhost:8090/exec"
	DefaultPollInterval   = 15 * time.Millisecond
	DefaultWindow         = time.Second
	DefaultConnectTimeout = 180 * time.Second
	DefaultPowerPin       = 46
	DefaultBatteryADC     = "/sys/bus/iio/devices/iio:device0/in_voltage0_raw"
	SinkHTTP              = "http"
	SinkMQTT              = "mqtt"
)

// maxFileSize bounds the configuration file.
const maxFileSize = 1 * 1024 * 1024

// NodeConfig is the node configuration. Every field is optional; the Get*
// methods return the built-in default for fields left unset, so partial
// files are safe.
type NodeConfig struct {
	DeviceID *string `json:"device_id,omitempty"`
	Endpoint *string `json:"endpoint,omitempty"`
	Timezone *string `json:"timezone,omitempty"`

	// Cadence, as duration strings like "15ms"
	PollInterval *string `json:"poll_interval,omitempty"`
	Window       *string `json:"window,omitempty"`

	BatchCapacity   *int  `json:"batch_capacity,omitempty"`
	RetainOnFailure *bool `json:"retain_on_failure,omitempty"`

	// Aggregation thresholds
	MovingThresholdG *float64 `json:"moving_threshold_g,omitempty"`
	FallThresholdG   *float64 `json:"fall_threshold_g,omitempty"`
	MilliGThreshold  *float64 `json:"milli_g_threshold,omitempty"`
	MilliGDivisor    *float64 `json:"milli_g_divisor,omitempty"`
	AccelUnit        *string  `json:"accel_unit,omitempty"`

	// Upload
	Sink             *string `json:"sink,omitempty"`
	UploadTimeout    *string `json:"upload_timeout,omitempty"`
	UploadRetries    *int    `json:"upload_retries,omitempty"`
	UploadBackoff    *string `json:"upload_backoff,omitempty"`
	AcceptRedirect   *bool   `json:"accept_redirect,omitempty"`
	AsyncUpload      *bool   `json:"async_upload,omitempty"`
	UploadQueueDepth *int    `json:"upload_queue_depth,omitempty"`
	MQTTBroker       *string `json:"mqtt_broker,omitempty"`
	MQTTTopic        *string `json:"mqtt_topic,omitempty"`
	ConnectTimeout   *string `json:"connect_timeout,omitempty"`

	// Hardware
	SensorPorts    []string               `json:"sensor_ports,omitempty"`
	Serial         *serialmux.PortOptions `json:"serial,omitempty"`
	Sensor         *imu.SensorConfig      `json:"sensor,omitempty"`
	GPIOBase       *string                `json:"gpio_base,omitempty"`
	PowerPin       *int                   `json:"power_pin,omitempty"`
	BatteryADCPath *string                `json:"battery_adc_path,omitempty"`
	Battery        *power.Calibration     `json:"battery,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// LoadNodeConfig loads a NodeConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &NodeConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. It panics if the file
// cannot be loaded and is intended for test setup.
func MustLoadDefaultConfig() *NodeConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadNodeConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func checkDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configured values are usable.
func (c *NodeConfig) Validate() error {
	if c.DeviceID != nil {
		if err := telemetry.ValidateDeviceID(*c.DeviceID); err != nil {
			return fmt.Errorf("device_id: %w", err)
		}
	}
	if c.Endpoint != nil {
		u, err := url.Parse(*c.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("endpoint must be an http(s) URL, got %q", *c.Endpoint)
		}
	}
	if c.Timezone != nil && !units.IsTimezoneValid(*c.Timezone) {
		return fmt.Errorf("invalid timezone %q", *c.Timezone)
	}

	for name, v := range map[string]*string{
		"poll_interval":   c.PollInterval,
		"window":          c.Window,
		"upload_timeout":  c.UploadTimeout,
		"upload_backoff":  c.UploadBackoff,
		"connect_timeout": c.ConnectTimeout,
	} {
		if err := checkDuration(name, v); err != nil {
			return err
		}
	}
	if c.GetPollInterval() > c.GetWindow() {
		return fmt.Errorf("poll_interval %s exceeds window %s", c.GetPollInterval(), c.GetWindow())
	}

	if c.BatchCapacity != nil && *c.BatchCapacity < 1 {
		return fmt.Errorf("batch_capacity must be at least 1, got %d", *c.BatchCapacity)
	}
	if c.UploadRetries != nil && (*c.UploadRetries < 0 || *c.UploadRetries > 10) {
		return fmt.Errorf("upload_retries must be between 0 and 10, got %d", *c.UploadRetries)
	}
	if c.UploadQueueDepth != nil && *c.UploadQueueDepth < 1 {
		return fmt.Errorf("upload_queue_depth must be at least 1, got %d", *c.UploadQueueDepth)
	}

	for name, v := range map[string]*float64{
		"moving_threshold_g": c.MovingThresholdG,
		"fall_threshold_g":   c.FallThresholdG,
		"milli_g_threshold":  c.MilliGThreshold,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}
	if c.MilliGDivisor != nil && *c.MilliGDivisor < 0 {
		return fmt.Errorf("milli_g_divisor must be non-negative, got %f", *c.MilliGDivisor)
	}
	if c.AccelUnit != nil && !units.IsValidAccelUnit(*c.AccelUnit) {
		return fmt.Errorf("accel_unit must be one of %v, got %q", units.ValidAccelUnits, *c.AccelUnit)
	}

	switch c.GetSink() {
	case SinkHTTP:
	case SinkMQTT:
		if c.MQTTBroker == nil || *c.MQTTBroker == "" {
			return fmt.Errorf("sink %q requires mqtt_broker", SinkMQTT)
		}
	default:
		return fmt.Errorf("sink must be %q or %q, got %q", SinkHTTP, SinkMQTT, c.GetSink())
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	// hardware paths must stay inside the sysfs tree
	for name, v := range map[string]*string{
		"gpio_base":        c.GPIOBase,
		"battery_adc_path": c.BatteryADCPath,
	} {
		if v == nil {
			continue
		}
		if err := security.ValidatePathWithinAllowedDirs(*v, security.HardwareRoots); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Battery != nil && c.Battery.FullVolts <= c.Battery.EmptyVolts {
		return fmt.Errorf("battery full_volts must exceed empty_volts")
	}
	return nil
}

func getString(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}

// GetDeviceID returns the device_id value or the default.
func (c *NodeConfig) GetDeviceID() string { return getString(c.DeviceID, DefaultDeviceID) }

// GetEndpoint returns the endpoint value or the default.
func (c *NodeConfig) GetEndpoint() string { return getString(c.Endpoint, DefaultEndpoint) }

// GetTimezone returns the timezone value or the default.
func (c *NodeConfig) GetTimezone() string {
	return getString(c.Timezone, timeutil.DefaultTimezone)
}

// GetPollInterval parses and returns poll_interval.
func (c *NodeConfig) GetPollInterval() time.Duration {
	return getDuration(c.PollInterval, DefaultPollInterval)
}

// GetWindow parses and returns the window length.
func (c *NodeConfig) GetWindow() time.Duration { return getDuration(c.Window, DefaultWindow) }

// GetBatchCapacity returns the batch_capacity value or the default.
func (c *NodeConfig) GetBatchCapacity() int {
	if c.BatchCapacity == nil {
		return telemetry.DefaultCapacity
	}
	return *c.BatchCapacity
}

// GetRetainOnFailure returns the retain_on_failure value or the default.
func (c *NodeConfig) GetRetainOnFailure() bool {
	if c.RetainOnFailure == nil {
		return false // default: lossy
	}
	return *c.RetainOnFailure
}

// GetThresholds assembles the aggregator thresholds.
func (c *NodeConfig) GetThresholds() telemetry.Thresholds {
	th := telemetry.DefaultThresholds()
	if c.MovingThresholdG != nil {
		th.MovingG = *c.MovingThresholdG
	}
	if c.FallThresholdG != nil {
		th.FallG = *c.FallThresholdG
	}
	if c.MilliGThreshold != nil {
		th.MilliGThreshold = *c.MilliGThreshold
	}
	if c.MilliGDivisor != nil {
		th.MilliGDivisor = *c.MilliGDivisor
	}
	th.Unit = getString(c.AccelUnit, units.Auto)
	return th
}

// GetSink returns the sink value or the default.
func (c *NodeConfig) GetSink() string { return getString(c.Sink, SinkHTTP) }

// GetUploadOptions assembles the HTTP uploader options.
func (c *NodeConfig) GetUploadOptions() upload.Options {
	opts := upload.Options{
		Endpoint:       c.GetEndpoint(),
		Timeout:        getDuration(c.UploadTimeout, upload.DefaultTimeout),
		Backoff:        getDuration(c.UploadBackoff, upload.DefaultBackoff),
		MaxBackoff:     upload.DefaultMaxBackoff,
		AcceptRedirect: true,
	}
	if c.UploadRetries != nil {
		opts.Retries = *c.UploadRetries
	}
	if c.AcceptRedirect != nil {
		opts.AcceptRedirect = *c.AcceptRedirect
	}
	return opts
}

// GetAsyncUpload returns the async_upload value or the default.
func (c *NodeConfig) GetAsyncUpload() bool {
	if c.AsyncUpload == nil {
		return true
	}
	return *c.AsyncUpload
}

// GetUploadQueueDepth returns the upload_queue_depth value or the default.
func (c *NodeConfig) GetUploadQueueDepth() int {
	if c.UploadQueueDepth == nil {
		return upload.DefaultQueueDepth
	}
	return *c.UploadQueueDepth
}

// GetMQTTBroker returns the mqtt_broker value, empty when unset.
func (c *NodeConfig) GetMQTTBroker() string { return getString(c.MQTTBroker, "") }

// GetMQTTTopic returns the mqtt_topic value or the per-device default.
func (c *NodeConfig) GetMQTTTopic() string {
	return getString(c.MQTTTopic, upload.DefaultTopic(c.GetDeviceID()))
}

// GetConnectTimeout parses and returns connect_timeout.
func (c *NodeConfig) GetConnectTimeout() time.Duration {
	return getDuration(c.ConnectTimeout, DefaultConnectTimeout)
}

// GetSensorPorts returns the IMU bridge candidates or the defaults.
func (c *NodeConfig) GetSensorPorts() []string {
	if len(c.SensorPorts) == 0 {
		return imu.DefaultBridgePorts
	}
	return c.SensorPorts
}

// GetSerial returns the serial options or the zero value, which Normalize
// fills with defaults.
func (c *NodeConfig) GetSerial() serialmux.PortOptions {
	if c.Serial == nil {
		return serialmux.PortOptions{}
	}
	return *c.Serial
}

// GetSensor returns the sensor configuration or the shipped defaults.
func (c *NodeConfig) GetSensor() imu.SensorConfig {
	if c.Sensor == nil {
		return imu.DefaultSensorConfig()
	}
	return *c.Sensor
}

// GetGPIOBase returns the gpio_base value or the sysfs default.
func (c *NodeConfig) GetGPIOBase() string { return getString(c.GPIOBase, power.DefaultGPIOBase) }

// GetPowerPin returns the power_pin value or the default.
func (c *NodeConfig) GetPowerPin() int {
	if c.PowerPin == nil {
		return DefaultPowerPin
	}
	return *c.PowerPin
}

// GetBatteryADCPath returns the battery_adc_path value or the default.
func (c *NodeConfig) GetBatteryADCPath() string {
	return getString(c.BatteryADCPath, DefaultBatteryADC)
}

// GetBattery returns the battery calibration or the default.
func (c *NodeConfig) GetBattery() power.Calibration {
	if c.Battery == nil {
		return power.DefaultCalibration()
	}
	return *c.Battery
}
