package buffer

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/dashcam/internal/fsutil"
	"github.com/banshee-data/dashcam/internal/monitoring"
	"github.com/banshee-data/dashcam/internal/timeutil"
)

var logs = monitoring.NewStreams("buffer")

const (
	DefaultExtension   = ".mp4"
	DefaultBufferDir   = "buffer"
	DefaultIncidentDir = "incidents"
)

// Options locates the buffer on disk.
type Options struct {
	BufferDir   string
	IncidentDir string
	// Extension is appended to segment IDs to form file names.
	Extension string
}

// Manager owns the segment list. All filesystem calls happen outside mu so a
// slow disk never blocks readers.
type Manager struct {
	fs    fsutil.FileSystem
	clock timeutil.Clock
	store *ConfigStore
	opts  Options

	mu        sync.Mutex
	segments  []*Segment // finalized, in finalize order
	current   *Segment   // active segment, or the last finalized one
	recording bool
}

// NewManager creates a Manager. A nil store uses DefaultConfig.
func NewManager(fsys fsutil.FileSystem, clock timeutil.Clock, store *ConfigStore, opts Options) *Manager {
	if store == nil {
		store = NewConfigStore(DefaultConfig())
	}
	if opts.BufferDir == "" {
		opts.BufferDir = DefaultBufferDir
	}
	if opts.IncidentDir == "" {
		opts.IncidentDir = DefaultIncidentDir
	}
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
	}
	return &Manager{fs: fsys, clock: clock, store: store, opts: opts}
}

// Config returns the store backing the manager.
func (m *Manager) Config() *ConfigStore { return m.store }

// Initialize creates the buffer directory and runs one eviction pass.
func (m *Manager) Initialize() error {
	if err := m.fs.MkdirAll(m.opts.BufferDir, 0o755); err != nil {
		return fmt.Errorf("failed to create buffer directory %s: %w", m.opts.BufferDir, err)
	}
	m.Evict()
	return nil
}

func (m *Manager) newSegment(now int64) (*Segment, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate segment id: %w", err)
	}
	path, err := fsutil.JoinWithin(m.opts.BufferDir, id.String()+m.opts.Extension)
	if err != nil {
		return nil, err
	}
	return &Segment{
		ID:          id.String(),
		Path:        path,
		StartTimeMs: now,
		EndTimeMs:   now + m.store.Get().SegmentDurationMs,
	}, nil
}

// StartRecording opens a new active segment and returns it. When already
// recording it returns the active segment unchanged.
func (m *Manager) StartRecording() (Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recording {
		return m.current.clone(), nil
	}
	seg, err := m.newSegment(timeutil.NowMs(m.clock))
	if err != nil {
		return Segment{}, err
	}
	m.current = seg
	m.recording = true
	logs.Diagf("recording started: segment %s", seg.ID)
	return seg.clone(), nil
}

// StopRecording finalizes the active segment and runs an eviction pass. It
// is a no-op when not recording.
func (m *Manager) StopRecording() {
	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return
	}
	seg := m.current
	m.recording = false
	m.mu.Unlock()

	m.finalize(seg)
	logs.Diagf("recording stopped: segment %s", seg.ID)
	m.Evict()
}

func (m *Manager) IsRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

// CurrentSegment returns the active segment, or the most recently finalized
// one while stopped.
func (m *Manager) CurrentSegment() (Segment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Segment{}, false
	}
	return m.current.clone(), true
}

// RolloverDue reports whether the active segment has run for its nominal
// SegmentDurationMs.
func (m *Manager) RolloverDue(nowMs int64) bool {
	cfg := m.store.Get()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.recording {
		return false
	}
	return nowMs-m.current.StartTimeMs >= cfg.SegmentDurationMs
}

// Rollover finalizes the active segment and opens the next one. It returns
// the finalized segment and false when not recording.
func (m *Manager) Rollover() (Segment, bool, error) {
	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return Segment{}, false, nil
	}
	next, err := m.newSegment(timeutil.NowMs(m.clock))
	if err != nil {
		m.mu.Unlock()
		return Segment{}, false, err
	}
	prev := m.current
	m.current = next
	m.mu.Unlock()

	done := m.finalize(prev)
	logs.Diagf("rolled over %s -> %s", prev.ID, next.ID)
	m.Evict()
	return done, true, nil
}

// finalize stats the backing file and appends seg to the retained list. A
// missing or unreadable file yields size 0.
func (m *Manager) finalize(seg *Segment) Segment {
	var size int64
	info, err := m.fs.Stat(seg.Path)
	switch {
	case err == nil:
		size = info.Size()
	case errors.Is(err, fs.ErrNotExist):
		logs.Diagf("segment %s has no file at %s", seg.ID, seg.Path)
	default:
		logs.Opsf("failed to stat segment %s: %v", seg.ID, err)
	}

	now := timeutil.NowMs(m.clock)
	m.mu.Lock()
	defer m.mu.Unlock()
	seg.EndTimeMs = now
	seg.SizeBytes = size
	m.segments = append(m.segments, seg)
	return seg.clone()
}

// Evict removes unprotected segments older than MaxDurationMs, then the
// oldest unprotected segments until the retained size fits MaxSizeBytes.
// Protected segments count toward the size but are never removed.
func (m *Manager) Evict() EvictionReport {
	cfg := m.store.Get()
	now := timeutil.NowMs(m.clock)
	var report EvictionReport

	m.mu.Lock()
	victims := make(map[*Segment]bool)
	var total int64
	for _, seg := range m.segments {
		if !seg.IsProtected && now-seg.EndTimeMs > cfg.MaxDurationMs {
			victims[seg] = true
			report.AgeEvicted++
			continue
		}
		total += seg.SizeBytes
	}

	if total > cfg.MaxSizeBytes {
		candidates := make([]*Segment, 0, len(m.segments))
		for _, seg := range m.segments {
			if !seg.IsProtected && !victims[seg] {
				candidates = append(candidates, seg)
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].StartTimeMs < candidates[j].StartTimeMs
		})
		for _, seg := range candidates {
			if total <= cfg.MaxSizeBytes {
				break
			}
			victims[seg] = true
			total -= seg.SizeBytes
			report.SizeEvicted++
		}
	}

	var removed []*Segment
	if len(victims) > 0 {
		kept := m.segments[:0]
		for _, seg := range m.segments {
			if victims[seg] {
				removed = append(removed, seg)
				continue
			}
			kept = append(kept, seg)
		}
		for i := len(kept); i < len(m.segments); i++ {
			m.segments[i] = nil
		}
		m.segments = kept
		if !m.recording && m.current != nil && victims[m.current] {
			m.current = nil
		}
	}
	m.mu.Unlock()

	for _, seg := range removed {
		report.FreedBytes += seg.SizeBytes
		if !m.removeFile(seg) {
			report.RemoveFailures++
		}
	}
	if len(removed) > 0 {
		logs.Diagf("evicted %d segments (%d by age, %d by size), freed %d bytes",
			len(removed), report.AgeEvicted, report.SizeEvicted, report.FreedBytes)
	}
	return report
}

// removeFile deletes a segment file. A file that is already gone counts as
// removed.
func (m *Manager) removeFile(seg *Segment) bool {
	err := m.fs.Remove(seg.Path)
	switch {
	case err == nil:
		return true
	case errors.Is(err, fs.ErrNotExist):
		logs.Tracef("segment %s already removed", seg.ID)
		return true
	default:
		logs.Opsf("failed to remove segment %s: %v", seg.ID, err)
		return false
	}
}

// Stats summarises the retained segments.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{TotalSegments: len(m.segments)}
	for _, seg := range m.segments {
		st.TotalSize += seg.SizeBytes
		if seg.IsProtected {
			st.IncidentSegments++
		}
		start := seg.StartTimeMs
		if st.OldestSegmentStart == nil || start < *st.OldestSegmentStart {
			st.OldestSegmentStart = &start
		}
		if st.NewestSegmentStart == nil || start > *st.NewestSegmentStart {
			newest := start
			st.NewestSegmentStart = &newest
		}
	}
	return st
}

// GetByID looks up a retained segment, or the active one.
func (m *Manager) GetByID(id string) (Segment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, seg := range m.segments {
		if seg.ID == id {
			return seg.clone(), true
		}
	}
	if m.recording && m.current.ID == id {
		return m.current.clone(), true
	}
	return Segment{}, false
}

// Segments returns a copy of the retained segments in finalize order.
func (m *Manager) Segments() []Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Segment, len(m.segments))
	for i, seg := range m.segments {
		out[i] = seg.clone()
	}
	return out
}

// IncidentSegments returns the retained protected segments.
func (m *Manager) IncidentSegments() []Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Segment
	for _, seg := range m.segments {
		if seg.IsProtected {
			out = append(out, seg.clone())
		}
	}
	return out
}

// Cleanup stops recording and deletes every retained segment file,
// protected ones included. Copies in the incident directory are kept.
func (m *Manager) Cleanup() {
	m.StopRecording()

	m.mu.Lock()
	all := m.segments
	m.segments = nil
	m.current = nil
	m.mu.Unlock()

	failures := 0
	for _, seg := range all {
		if !m.removeFile(seg) {
			failures++
		}
	}
	logs.Opsf("buffer cleanup removed %d segments (%d failures)", len(all)-failures, failures)
}
