package buffer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/dashcam/internal/fsutil"
	"github.com/banshee-data/dashcam/internal/incident"
	"github.com/banshee-data/dashcam/internal/timeutil"
)

const sidecarExt = ".json"

// ErrIncidentNotFound is returned when an incident has neither a copy nor a
// sidecar in the incident directory.
var ErrIncidentNotFound = errors.New("incident media not found")

// Sidecar is written next to each incident copy.
type Sidecar struct {
	IncidentID string             `json:"incident_id"`
	MarkedAtMs int64              `json:"marked_at_ms"`
	Segment    Segment            `json:"segment"`
	Location   *incident.Location `json:"location,omitempty"`
	MediaPath  string             `json:"media_path,omitempty"`
	Copied     bool               `json:"copied"`
}

// MarkAsIncident protects the current segment and copies its footage into
// the incident directory as <incidentID><ext>, with a JSON sidecar. The
// first incident to protect a segment is kept as its ProtectingIncidentID;
// later marks still get their own copy. It returns false when there is no
// current segment. Copy failures are logged and never undo the protection.
func (m *Manager) MarkAsIncident(incidentID string, loc *incident.Location) (Segment, bool) {
	m.mu.Lock()
	seg := m.current
	if seg == nil {
		m.mu.Unlock()
		logs.Diagf("incident %s: no segment to protect", incidentID)
		return Segment{}, false
	}
	if !seg.IsProtected {
		seg.IsProtected = true
		seg.ProtectingIncidentID = incidentID
	}
	if seg.Location == nil && loc != nil {
		l := *loc
		seg.Location = &l
	}
	snap := seg.clone()
	m.mu.Unlock()

	logs.Opsf("segment %s protected for incident %s", snap.ID, incidentID)
	if err := m.copyOut(incidentID, snap, loc); err != nil {
		logs.Opsf("incident %s: %v", incidentID, err)
	}
	return snap, true
}

func (m *Manager) copyOut(incidentID string, seg Segment, loc *incident.Location) error {
	mediaPath, err := fsutil.JoinWithin(m.opts.IncidentDir, incidentID+m.opts.Extension)
	if err != nil {
		return err
	}
	sidecarPath, err := fsutil.JoinWithin(m.opts.IncidentDir, incidentID+sidecarExt)
	if err != nil {
		return err
	}
	if err := m.fs.MkdirAll(m.opts.IncidentDir, 0o755); err != nil {
		return fmt.Errorf("failed to create incident directory: %w", err)
	}

	side := Sidecar{
		IncidentID: incidentID,
		MarkedAtMs: timeutil.NowMs(m.clock),
		Segment:    seg,
		Location:   loc,
	}

	var copyErr error
	if m.fs.Exists(seg.Path) {
		if err := m.fs.CopyFile(seg.Path, mediaPath); err != nil {
			copyErr = fmt.Errorf("failed to copy segment %s: %w", seg.ID, err)
		} else {
			side.MediaPath = mediaPath
			side.Copied = true
		}
	} else {
		logs.Diagf("incident %s: segment %s has no media yet", incidentID, seg.ID)
	}

	data, err := json.MarshalIndent(side, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}
	if err := m.fs.WriteFile(sidecarPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	return copyErr
}

// ReadSidecar loads the sidecar written for incidentID.
func (m *Manager) ReadSidecar(incidentID string) (*Sidecar, error) {
	path, err := fsutil.JoinWithin(m.opts.IncidentDir, incidentID+sidecarExt)
	if err != nil {
		return nil, err
	}
	data, err := m.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var side Sidecar
	if err := json.Unmarshal(data, &side); err != nil {
		return nil, fmt.Errorf("failed to decode sidecar %s: %w", path, err)
	}
	return &side, nil
}

// IncidentUsage summarises the incident directory.
type IncidentUsage struct {
	Incidents  int   `json:"incidents"`
	MediaFiles int   `json:"media_files"`
	TotalBytes int64 `json:"total_bytes"`
}

// IncidentMedia lists the sidecars in the incident directory, newest mark
// first, together with the directory's usage. Unreadable sidecars are
// logged and skipped. A missing directory is empty.
func (m *Manager) IncidentMedia() ([]Sidecar, IncidentUsage, error) {
	var usage IncidentUsage
	names, err := m.fs.ReadDir(m.opts.IncidentDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, usage, nil
	}
	if err != nil {
		return nil, usage, fmt.Errorf("failed to list incident directory: %w", err)
	}

	var out []Sidecar
	for _, name := range names {
		if info, err := m.fs.Stat(filepath.Join(m.opts.IncidentDir, name)); err == nil {
			usage.TotalBytes += info.Size()
		}
		switch {
		case strings.HasSuffix(name, m.opts.Extension):
			usage.MediaFiles++
		case strings.HasSuffix(name, sidecarExt):
			side, err := m.ReadSidecar(strings.TrimSuffix(name, sidecarExt))
			if err != nil {
				logs.Opsf("skipping sidecar %s: %v", name, err)
				continue
			}
			out = append(out, *side)
		}
	}
	usage.Incidents = len(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MarkedAtMs > out[j].MarkedAtMs })
	return out, usage, nil
}

// DeleteIncidentMedia removes an incident's copy and sidecar and releases
// the protection it holds on a retained segment, so the segment ages out
// with the rest of the buffer. It returns ErrIncidentNotFound when neither
// file exists.
func (m *Manager) DeleteIncidentMedia(incidentID string) error {
	mediaPath, err := fsutil.JoinWithin(m.opts.IncidentDir, incidentID+m.opts.Extension)
	if err != nil {
		return err
	}
	sidecarPath, err := fsutil.JoinWithin(m.opts.IncidentDir, incidentID+sidecarExt)
	if err != nil {
		return err
	}

	found := false
	for _, p := range []string{mediaPath, sidecarPath} {
		err := m.fs.Remove(p)
		switch {
		case err == nil:
			found = true
		case errors.Is(err, fs.ErrNotExist):
		default:
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}

	released := m.releaseProtection(incidentID)
	if !found && released == 0 {
		return ErrIncidentNotFound
	}
	logs.Opsf("deleted incident %s media (released %d segments)", incidentID, released)
	return nil
}

// ClearIncidentMedia deletes every incident listed in the incident
// directory and returns how many were removed.
func (m *Manager) ClearIncidentMedia() (int, error) {
	sides, _, err := m.IncidentMedia()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, side := range sides {
		if err := m.DeleteIncidentMedia(side.IncidentID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (m *Manager) releaseProtection(incidentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, seg := range m.segments {
		if seg.IsProtected && seg.ProtectingIncidentID == incidentID {
			seg.IsProtected = false
			seg.ProtectingIncidentID = ""
			n++
		}
	}
	if m.recording && m.current.IsProtected && m.current.ProtectingIncidentID == incidentID {
		m.current.IsProtected = false
		m.current.ProtectingIncidentID = ""
		n++
	}
	return n
}
