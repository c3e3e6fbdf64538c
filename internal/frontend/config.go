package frontend

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// IntegrationMode selects how external motion data is folded into the
// per-scan estimate. Validated once at initialization; immutable for
// the lifetime of the pipeline.
type IntegrationMode int

const (
	// IntegrationNone runs pure LiDAR odometry with no external data.
	IntegrationNone IntegrationMode = iota
	// IntegrationOdometry seeds each cycle with a delta resolved from
	// the external odometry transform history.
	IntegrationOdometry
)

// ParseIntegrationMode maps the config string to a mode. Anything but
// "none" or "odometry" is a configuration error.
func ParseIntegrationMode(s string) (IntegrationMode, error) {
	switch s {
	case "none":
		return IntegrationNone, nil
	case "odometry":
		return IntegrationOdometry, nil
	default:
		return 0, fmt.Errorf("unsupported integration mode %q (want \"none\" or \"odometry\")", s)
	}
}

// String returns the config spelling of the mode.
func (m IntegrationMode) String() string {
	if m == IntegrationOdometry {
		return "odometry"
	}
	return "none"
}

// Config is the front end's startup configuration. Required fields are
// pointers so an omitted parameter is distinguishable from a zero
// value; Validate reports the first one missing. Fields omitted from
// the optional set fall back through the Get* methods.
type Config struct {
	// Required.
	Verbose                *bool    `json:"verbose"`
	TranslationThresholdKF *float64 `json:"translation_threshold_kf"`
	RotationThresholdKF    *float64 `json:"rotation_threshold_kf"`
	OpenSpacePoints        *int     `json:"number_of_points_open_space"`
	MapPublishPeriod       *int     `json:"map_publish_period"`
	PublishMap             *bool    `json:"publish_map"`
	FixedFrameID           *string  `json:"frame_id_fixed"`
	BaseFrameID            *string  `json:"frame_id_base"`
	OdomFrameID            *string  `json:"frame_id_odometry"`
	ScanQueueSize          *int     `json:"scan_queue_size"`
	OdomQueueSize          *int     `json:"odom_queue_size"`
	OdometryBufferLimit    *int     `json:"odometry_buffer_size_limit"`
	IntegrationMode        *string  `json:"data_integration_mode"`
	IntegrationRetryLimit  *int     `json:"data_integration_retry_limit"`
	Profiling              *bool    `json:"enable_time_profiling"`

	// Optional.
	PublishDiagnostics *bool   `json:"publish_diagnostics,omitempty"`
	GroundTruthPath    *string `json:"ground_truth_scan_log,omitempty"`
	RollingMapBuffer   *bool   `json:"rolling_map_buffer,omitempty"`
	TrajectoryDBPath   *string `json:"trajectory_db,omitempty"`
}

// LoadConfig loads and validates a front-end configuration from a JSON
// file. Validation failures here are fatal: the pipeline must not
// start on an incomplete configuration.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that every required parameter is present and
// well-formed.
func (c *Config) Validate() error {
	required := []struct {
		name string
		ok   bool
	}{
		{"verbose", c.Verbose != nil},
		{"translation_threshold_kf", c.TranslationThresholdKF != nil},
		{"rotation_threshold_kf", c.RotationThresholdKF != nil},
		{"number_of_points_open_space", c.OpenSpacePoints != nil},
		{"map_publish_period", c.MapPublishPeriod != nil},
		{"publish_map", c.PublishMap != nil},
		{"frame_id_fixed", c.FixedFrameID != nil},
		{"frame_id_base", c.BaseFrameID != nil},
		{"frame_id_odometry", c.OdomFrameID != nil},
		{"scan_queue_size", c.ScanQueueSize != nil},
		{"odom_queue_size", c.OdomQueueSize != nil},
		{"odometry_buffer_size_limit", c.OdometryBufferLimit != nil},
		{"data_integration_mode", c.IntegrationMode != nil},
		{"data_integration_retry_limit", c.IntegrationRetryLimit != nil},
		{"enable_time_profiling", c.Profiling != nil},
	}
	for _, r := range required {
		if !r.ok {
			return fmt.Errorf("missing required parameter %q", r.name)
		}
	}
	if _, err := ParseIntegrationMode(*c.IntegrationMode); err != nil {
		return err
	}
	if *c.TranslationThresholdKF <= 0 {
		return fmt.Errorf("translation_threshold_kf must be positive, got %v", *c.TranslationThresholdKF)
	}
	if *c.RotationThresholdKF <= 0 {
		return fmt.Errorf("rotation_threshold_kf must be positive, got %v", *c.RotationThresholdKF)
	}
	if *c.MapPublishPeriod < 1 {
		return fmt.Errorf("map_publish_period must be at least 1, got %d", *c.MapPublishPeriod)
	}
	if *c.OdometryBufferLimit < 1 {
		return fmt.Errorf("odometry_buffer_size_limit must be at least 1, got %d", *c.OdometryBufferLimit)
	}
	return nil
}

// Mode returns the parsed integration mode. Valid only after Validate.
func (c *Config) Mode() IntegrationMode {
	m, _ := ParseIntegrationMode(*c.IntegrationMode)
	return m
}

// GetPublishDiagnostics returns the publish_diagnostics value or false.
func (c *Config) GetPublishDiagnostics() bool {
	if c.PublishDiagnostics == nil {
		return false
	}
	return *c.PublishDiagnostics
}

// GetGroundTruthPath returns the ground-truth scan log path or "".
func (c *Config) GetGroundTruthPath() string {
	if c.GroundTruthPath == nil {
		return ""
	}
	return *c.GroundTruthPath
}

// GetRollingMapBuffer returns the rolling_map_buffer value or false.
func (c *Config) GetRollingMapBuffer() bool {
	if c.RollingMapBuffer == nil {
		return false
	}
	return *c.RollingMapBuffer
}

// GetTrajectoryDBPath returns the trajectory database path or "".
func (c *Config) GetTrajectoryDBPath() string {
	if c.TrajectoryDBPath == nil {
		return ""
	}
	return *c.TrajectoryDBPath
}
