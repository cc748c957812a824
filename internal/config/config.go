package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DashcamConfig is the root of the JSON configuration file. Every field is
// optional; the Get* methods fall back to defaults for anything unset.
type DashcamConfig struct {
	Buffer    BufferSettings    `json:"buffer,omitempty"`
	Detection DetectionSettings `json:"detection,omitempty"`

	SensorIntervalMs *int64  `json:"sensor_interval_ms,omitempty"`
	SerialPort       *string `json:"serial_port,omitempty"`
	SerialBaudRate   *int    `json:"serial_baud_rate,omitempty"`

	DataDir *string `json:"data_dir,omitempty"`
	DBPath  *string `json:"db_path,omitempty"`
	Listen  *string `json:"listen,omitempty"`

	// Sensitivity is the user-facing detection sensitivity, clamped to [0,1].
	Sensitivity *float64 `json:"sensitivity,omitempty"`
}

// BufferSettings is a partial buffer configuration. It is both the
// "buffer" section of the file and the body of a runtime update: nil
// fields leave the current value untouched.
type BufferSettings struct {
	MaxDurationMs     *int64 `json:"max_duration_ms,omitempty"`
	MaxSizeBytes      *int64 `json:"max_size_bytes,omitempty"`
	SegmentDurationMs *int64 `json:"segment_duration_ms,omitempty"`
	OverlapDurationMs *int64 `json:"overlap_duration_ms,omitempty"`
}

// DetectionSettings is a partial incident detection configuration, used the
// same way as BufferSettings.
type DetectionSettings struct {
	AccelerationThreshold *float64 `json:"acceleration_threshold,omitempty"`
	GyroscopeThreshold    *float64 `json:"gyroscope_threshold,omitempty"`
	TimeWindowMs          *int64   `json:"time_window_ms,omitempty"`
	MinIncidentDurationMs *int64   `json:"min_incident_duration_ms,omitempty"`
	BufferSize            *int     `json:"buffer_size,omitempty"`
	WindowSamples         *int     `json:"window_samples,omitempty"`
}

const (
	DefaultSensorIntervalMs = 50
	DefaultBaudRate         = 115200
	DefaultDataDir          = "data"
	DefaultListen           = ":8080"
	DefaultSensitivity      = 0.5

	maxFileSize = 1 * 1024 * 1024
)

// LoadConfig reads and validates a JSON configuration file.
func LoadConfig(path string) (*DashcamConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &DashcamConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every set field. Sensitivity is not validated because it
// is clamped on read.
func (c *DashcamConfig) Validate() error {
	if err := c.Buffer.Validate(); err != nil {
		return fmt.Errorf("buffer: %w", err)
	}
	if err := c.Detection.Validate(); err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	if c.SensorIntervalMs != nil && *c.SensorIntervalMs <= 0 {
		return fmt.Errorf("sensor_interval_ms must be positive, got %d", *c.SensorIntervalMs)
	}
	if c.SerialBaudRate != nil && *c.SerialBaudRate <= 0 {
		return fmt.Errorf("serial_baud_rate must be positive, got %d", *c.SerialBaudRate)
	}
	return nil
}

// Validate rejects non-positive budgets and an overlap that is not shorter
// than the segment duration.
func (b BufferSettings) Validate() error {
	if b.MaxDurationMs != nil && *b.MaxDurationMs <= 0 {
		return fmt.Errorf("max_duration_ms must be positive, got %d", *b.MaxDurationMs)
	}
	if b.MaxSizeBytes != nil && *b.MaxSizeBytes <= 0 {
		return fmt.Errorf("max_size_bytes must be positive, got %d", *b.MaxSizeBytes)
	}
	if b.SegmentDurationMs != nil && *b.SegmentDurationMs <= 0 {
		return fmt.Errorf("segment_duration_ms must be positive, got %d", *b.SegmentDurationMs)
	}
	if b.OverlapDurationMs != nil && *b.OverlapDurationMs < 0 {
		return fmt.Errorf("overlap_duration_ms must be non-negative, got %d", *b.OverlapDurationMs)
	}
	if b.SegmentDurationMs != nil && b.OverlapDurationMs != nil && *b.OverlapDurationMs >= *b.SegmentDurationMs {
		return fmt.Errorf("overlap_duration_ms (%d) must be shorter than segment_duration_ms (%d)",
			*b.OverlapDurationMs, *b.SegmentDurationMs)
	}
	return nil
}

// IsEmpty reports whether no field is set.
func (b BufferSettings) IsEmpty() bool {
	return b == BufferSettings{}
}

// Validate rejects non-positive thresholds and window sizes.
func (d DetectionSettings) Validate() error {
	if d.AccelerationThreshold != nil && *d.AccelerationThreshold <= 0 {
		return fmt.Errorf("acceleration_threshold must be positive, got %f", *d.AccelerationThreshold)
	}
	if d.GyroscopeThreshold != nil && *d.GyroscopeThreshold <= 0 {
		return fmt.Errorf("gyroscope_threshold must be positive, got %f", *d.GyroscopeThreshold)
	}
	if d.TimeWindowMs != nil && *d.TimeWindowMs <= 0 {
		return fmt.Errorf("time_window_ms must be positive, got %d", *d.TimeWindowMs)
	}
	if d.MinIncidentDurationMs != nil && *d.MinIncidentDurationMs < 0 {
		return fmt.Errorf("min_incident_duration_ms must be non-negative, got %d", *d.MinIncidentDurationMs)
	}
	if d.BufferSize != nil && *d.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", *d.BufferSize)
	}
	if d.WindowSamples != nil && *d.WindowSamples < 3 {
		return fmt.Errorf("window_samples must be at least 3, got %d", *d.WindowSamples)
	}
	if d.BufferSize != nil && d.WindowSamples != nil && *d.BufferSize < *d.WindowSamples {
		return fmt.Errorf("buffer_size (%d) must be at least window_samples (%d)", *d.BufferSize, *d.WindowSamples)
	}
	return nil
}

// IsEmpty reports whether no field is set.
func (d DetectionSettings) IsEmpty() bool {
	return d == DetectionSettings{}
}

func (c *DashcamConfig) GetSensorInterval() time.Duration {
	if c.SensorIntervalMs == nil {
		return DefaultSensorIntervalMs * time.Millisecond
	}
	return time.Duration(*c.SensorIntervalMs) * time.Millisecond
}

func (c *DashcamConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

func (c *DashcamConfig) GetSerialBaudRate() int {
	if c.SerialBaudRate == nil {
		return DefaultBaudRate
	}
	return *c.SerialBaudRate
}

func (c *DashcamConfig) GetDataDir() string {
	if c.DataDir == nil || *c.DataDir == "" {
		return DefaultDataDir
	}
	return *c.DataDir
}

// GetDBPath defaults to dashcam.db inside the data directory.
func (c *DashcamConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return filepath.Join(c.GetDataDir(), "dashcam.db")
	}
	return *c.DBPath
}

func (c *DashcamConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}

func (c *DashcamConfig) GetSensitivity() float64 {
	if c.Sensitivity == nil {
		return DefaultSensitivity
	}
	return ClampUnit(*c.Sensitivity)
}

// ClampUnit clamps v to [0,1].
func ClampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Pointer helpers for building settings in code and tests.
func Float64(v float64) *float64 { return &v }
func Int(v int) *int             { return &v }
func Int64(v int64) *int64       { return &v }
func String(v string) *string    { return &v }
