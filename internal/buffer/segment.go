// Package buffer records fixed-duration video segments into a rolling
// buffer directory and keeps that buffer within its age and size budgets.
// Segments tied to an incident are protected from eviction and their
// footage is copied out of the buffer.
package buffer

import (
	"fmt"
	"sync"

	"github.com/banshee-data/dashcam/internal/config"
	"github.com/banshee-data/dashcam/internal/incident"
)

// Segment is one slice of recorded video.
type Segment struct {
	ID                   string             `json:"id"`
	Path                 string             `json:"path"`
	StartTimeMs          int64              `json:"start_time_ms"`
	EndTimeMs            int64              `json:"end_time_ms"`
	SizeBytes            int64              `json:"size_bytes"`
	IsProtected          bool               `json:"is_protected"`
	ProtectingIncidentID string             `json:"protecting_incident_id,omitempty"`
	Location             *incident.Location `json:"location,omitempty"`
}

func (s *Segment) clone() Segment {
	out := *s
	if s.Location != nil {
		loc := *s.Location
		out.Location = &loc
	}
	return out
}

// Stats summarises the retained segments. The start times are nil when no
// segment is retained.
type Stats struct {
	TotalSegments      int    `json:"total_segments"`
	IncidentSegments   int    `json:"incident_segments"`
	TotalSize          int64  `json:"total_size"`
	OldestSegmentStart *int64 `json:"oldest_segment_start"`
	NewestSegmentStart *int64 `json:"newest_segment_start"`
}

// EvictionReport describes one Evict pass.
type EvictionReport struct {
	AgeEvicted     int   `json:"age_evicted"`
	SizeEvicted    int   `json:"size_evicted"`
	FreedBytes     int64 `json:"freed_bytes"`
	RemoveFailures int   `json:"remove_failures"`
}

// Config holds the buffer budgets.
type Config struct {
	MaxDurationMs     int64 `json:"max_duration_ms"`
	MaxSizeBytes      int64 `json:"max_size_bytes"`
	SegmentDurationMs int64 `json:"segment_duration_ms"`
	OverlapDurationMs int64 `json:"overlap_duration_ms"`
}

// DefaultConfig keeps five minutes or 500 MiB of 30 second segments.
func DefaultConfig() Config {
	return Config{
		MaxDurationMs:     5 * 60 * 1000,
		MaxSizeBytes:      500 * 1024 * 1024,
		SegmentDurationMs: 30 * 1000,
		OverlapDurationMs: 5 * 1000,
	}
}

// Apply returns c with every set field of s merged over it.
func (c Config) Apply(s config.BufferSettings) Config {
	if s.MaxDurationMs != nil {
		c.MaxDurationMs = *s.MaxDurationMs
	}
	if s.MaxSizeBytes != nil {
		c.MaxSizeBytes = *s.MaxSizeBytes
	}
	if s.SegmentDurationMs != nil {
		c.SegmentDurationMs = *s.SegmentDurationMs
	}
	if s.OverlapDurationMs != nil {
		c.OverlapDurationMs = *s.OverlapDurationMs
	}
	return c
}

// Validate checks a complete config: positive budgets and an overlap
// shorter than the segment duration.
func (c Config) Validate() error {
	switch {
	case c.MaxDurationMs <= 0:
		return fmt.Errorf("max_duration_ms must be positive, got %d", c.MaxDurationMs)
	case c.MaxSizeBytes <= 0:
		return fmt.Errorf("max_size_bytes must be positive, got %d", c.MaxSizeBytes)
	case c.SegmentDurationMs <= 0:
		return fmt.Errorf("segment_duration_ms must be positive, got %d", c.SegmentDurationMs)
	case c.OverlapDurationMs < 0 || c.OverlapDurationMs >= c.SegmentDurationMs:
		return fmt.Errorf("overlap_duration_ms (%d) must be shorter than segment_duration_ms (%d)",
			c.OverlapDurationMs, c.SegmentDurationMs)
	}
	return nil
}

// ConfigStore is the process-wide mutable buffer config. Changes apply
// from the next eviction pass or segment.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg Config
}

func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{cfg: cfg}
}

func (s *ConfigStore) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update merges settings over the current config and stores the result
// only if it validates. The merge and the check happen under one lock.
func (s *ConfigStore) Update(settings config.BufferSettings) (Config, error) {
	if err := settings.Validate(); err != nil {
		return Config{}, err
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
