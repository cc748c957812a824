// Package dashcam wires the sensor sampler, incident monitor, segment
// buffer and incident journal into one service.
package dashcam

import (
	"fmt"
	"time"

	"github.com/banshee-data/dashcam/internal/buffer"
	"github.com/banshee-data/dashcam/internal/fsutil"
	"github.com/banshee-data/dashcam/internal/incident"
	"github.com/banshee-data/dashcam/internal/monitoring"
	"github.com/banshee-data/dashcam/internal/sensor"
	"github.com/banshee-data/dashcam/internal/timeutil"
)

var logs = monitoring.NewStreams("dashcam")

// Journal records incidents and protections. *db.DB implements it.
type Journal interface {
	RecordIncident(ev incident.Event) error
	RecordProtection(incidentID string, seg buffer.Segment, protectedAtMs int64) error
}

type Options struct {
	Source sensor.Source
	FS     fsutil.FileSystem
	Clock  timeutil.Clock
	// Journal is optional.
	Journal Journal
	// Location is optional; incidents carry no position without it.
	Location incident.LocationProvider

	Buffer          buffer.Options
	BufferConfig    *buffer.ConfigStore
	DetectionConfig *incident.ConfigStore
	SampleInterval  time.Duration
}

// Service owns one instance of each core component.
type Service struct {
	clock    timeutil.Clock
	interval time.Duration
	journal  Journal

	sampler *sensor.Sampler
	monitor *incident.Monitor
	buffer  *buffer.Manager
}

// New builds a Service. Nothing runs until Start.
func New(opts Options) (*Service, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("dashcam: sensor source is required")
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.BufferConfig == nil {
		opts.BufferConfig = buffer.NewConfigStore(buffer.DefaultConfig())
	}
	if opts.DetectionConfig == nil {
		opts.DetectionConfig = incident.NewConfigStore(incident.DefaultDetectionConfig())
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = 50 * time.Millisecond
	}

	s := &Service{
		clock:    opts.Clock,
		interval: opts.SampleInterval,
		journal:  opts.Journal,
	}
	s.sampler = sensor.NewSampler(opts.Source, opts.Clock, opts.DetectionConfig.Get().BufferSize)
	s.monitor = incident.NewMonitor(s.sampler, opts.DetectionConfig, opts.Clock)
	s.buffer = buffer.NewManager(opts.FS, opts.Clock, opts.BufferConfig, opts.Buffer)
	if opts.Location != nil {
		s.monitor.SetLocationProvider(opts.Location)
	}
	s.monitor.AddObserver(incident.ObserverFunc(s.onIncident))
	return s, nil
}

func (s *Service) Sampler() *sensor.Sampler  { return s.sampler }
func (s *Service) Monitor() *incident.Monitor { return s.monitor }
func (s *Service) Buffer() *buffer.Manager    { return s.buffer }

// Start prepares the buffer directory, starts recording, then starts
// monitoring. A monitoring failure stops recording again.
func (s *Service) Start() error {
	if err := s.buffer.Initialize(); err != nil {
		return err
	}
	if _, err := s.buffer.StartRecording(); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	if err := s.monitor.StartMonitoring(s.interval); err != nil {
		s.buffer.StopRecording()
		return fmt.Errorf("failed to start monitoring: %w", err)
	}
	logs.Opsf("dashcam started: sampling every %v", s.interval)
	return nil
}

// Stop halts monitoring and finalizes the active segment. Retained
// segments stay on disk.
func (s *Service) Stop() {
	s.monitor.StopMonitoring()
	s.buffer.StopRecording()
	logs.Opsf("dashcam stopped")
}

// Close stops the service and closes every incident subscription.
func (s *Service) Close() {
	s.Stop()
	s.monitor.Close()
}

// onIncident runs on the sampler delivery context for every event.
func (s *Service) onIncident(ev incident.Event) {
	logs.Opsf("incident %s: %s (%s)", ev.ID, ev.Kind, ev.Severity)
	if s.journal != nil {
		if err := s.journal.RecordIncident(ev); err != nil {
			logs.Opsf("failed to journal incident %s: %v", ev.ID, err)
		}
	}

	seg, ok := s.buffer.MarkAsIncident(ev.ID, ev.Location)
	if !ok || s.journal == nil {
		return
	}
	if err := s.journal.RecordProtection(ev.ID, seg, timeutil.NowMs(s.clock)); err != nil {
		logs.Opsf("failed to journal protection of %s: %v", seg.ID, err)
	}
}
