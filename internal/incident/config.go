package incident

import (
	"fmt"
	"sync"

	"github.com/banshee-data/dashcam/internal/config"
)

// DetectionConfig holds the live detection thresholds.
type DetectionConfig struct {
	AccelerationThreshold float64 `json:"acceleration_threshold"` // m/s²
	GyroscopeThreshold    float64 `json:"gyroscope_threshold"`    // rad/s
	TimeWindowMs          int64   `json:"time_window_ms"`
	MinIncidentDurationMs int64   `json:"min_incident_duration_ms"`
	BufferSize            int     `json:"buffer_size"`
	WindowSamples         int     `json:"window_samples"`
}

// DefaultDetectionConfig returns the stock thresholds.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		AccelerationThreshold: 2.5,
		GyroscopeThreshold:    1.0,
		TimeWindowMs:          2000,
		MinIncidentDurationMs: 100,
		BufferSize:            100,
		WindowSamples:         10,
	}
}

// Apply returns c with every set field of s merged over it.
func (c DetectionConfig) Apply(s config.DetectionSettings) DetectionConfig {
	if s.AccelerationThreshold != nil {
		c.AccelerationThreshold = *s.AccelerationThreshold
	}
	if s.GyroscopeThreshold != nil {
		c.GyroscopeThreshold = *s.GyroscopeThreshold
	}
	if s.TimeWindowMs != nil {
		c.TimeWindowMs = *s.TimeWindowMs
	}
	if s.MinIncidentDurationMs != nil {
		c.MinIncidentDurationMs = *s.MinIncidentDurationMs
	}
	if s.BufferSize != nil {
		c.BufferSize = *s.BufferSize
	}
	if s.WindowSamples != nil {
		c.WindowSamples = *s.WindowSamples
	}
	return c
}

// Validate checks a complete config. The sample ring must be able to hold
// a full window, or no rule could ever fire.
func (c DetectionConfig) Validate() error {
	if c.AccelerationThreshold <= 0 || c.GyroscopeThreshold <= 0 {
		return fmt.Errorf("thresholds must be positive, got %g and %g", c.AccelerationThreshold, c.GyroscopeThreshold)
	}
	if c.BufferSize < c.WindowSamples {
		return fmt.Errorf("buffer_size (%d) must be at least window_samples (%d)", c.BufferSize, c.WindowSamples)
	}
	return nil
}

// ConfigStore is the process-wide mutable detection config. The classifier
// reads it on every tick, so updates apply from the next sample.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg DetectionConfig
}

func NewConfigStore(cfg DetectionConfig) *ConfigStore {
	return &ConfigStore{cfg: cfg}
}

func (s *ConfigStore) Get() DetectionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update merges settings over the current config and stores the result
// only if it validates. The merge and the check happen under one lock.
func (s *ConfigStore) Update(settings config.DetectionSettings) (DetectionConfig, error) {
	if err := settings.Validate(); err != nil {
		return DetectionConfig{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := s.cfg.Apply(settings)
	if err := merged.Validate(); err != nil {
		return s.cfg, err
	}
	s.cfg = merged
	return s.cfg, nil
}
