package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/dashcam/internal/buffer"
	"github.com/banshee-data/dashcam/internal/incident"
)

var ErrNotFound = errors.New("not found")

// DefaultIncidentLimit caps Incidents when the filter sets no limit.
const DefaultIncidentLimit = 100

// IncidentRecord is a journaled incident.Event.
type IncidentRecord struct {
	incident.Event
	RecordedAt string `json:"recorded_at"`
}

// IncidentFilter narrows Incidents. Zero values match everything.
type IncidentFilter struct {
	Kind     incident.Kind
	Severity incident.Severity
	SinceMs  int64
	UntilMs  int64
	Limit    int
}

// ProtectionRecord links an incident to the segment it protected.
type ProtectionRecord struct {
	IncidentID     string             `json:"incident_id"`
	SegmentID      string             `json:"segment_id"`
	SegmentPath    string             `json:"segment_path"`
	StartTimeMs    int64              `json:"start_time_ms"`
	EndTimeMs      int64              `json:"end_time_ms"`
	FirstProtector string             `json:"first_protector"`
	Location       *incident.Location `json:"location,omitempty"`
	ProtectedAtMs  int64              `json:"protected_at_ms"`
}

// RecordIncident stores ev. Recording the same ID twice is an error.
func (db *DB) RecordIncident(ev incident.Event) error {
	var lat, lon sql.NullFloat64
	if ev.Location != nil {
		lat = sql.NullFloat64{Float64: ev.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: ev.Location.Longitude, Valid: true}
	}
	_, err := db.Exec(
		`INSERT INTO incidents (
			incident_id, kind, severity, detected_at_ms, duration_ms,
			accel_x, accel_y, accel_z, gyro_x, gyro_y, gyro_z,
			latitude, longitude,
			window_samples, window_mean, window_stddev, window_peak
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), string(ev.Severity), ev.DetectedAtMs, ev.DurationMs,
		ev.Acceleration.X, ev.Acceleration.Y, ev.Acceleration.Z,
		ev.Gyroscope.X, ev.Gyroscope.Y, ev.Gyroscope.Z,
		lat, lon,
		ev.Window.Samples, ev.Window.MeanMagnitude, ev.Window.StdDevMagnitude, ev.Window.PeakMagnitude,
	)
	if err != nil {
		return fmt.Errorf("failed to record incident %s: %w", ev.ID, err)
	}
	return nil
}

const incidentColumns = `incident_id, kind, severity, detected_at_ms, duration_ms,
	accel_x, accel_y, accel_z, gyro_x, gyro_y, gyro_z,
	latitude, longitude,
	window_samples, window_mean, window_stddev, window_peak, recorded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (IncidentRecord, error) {
	var (
		rec      IncidentRecord
		kind     string
		severity string
		lat, lon sql.NullFloat64
		recorded sql.NullString
	)
	if err := row.Scan(
		&rec.ID, &kind, &severity, &rec.DetectedAtMs, &rec.DurationMs,
		&rec.Acceleration.X, &rec.Acceleration.Y, &rec.Acceleration.Z,
		&rec.Gyroscope.X, &rec.Gyroscope.Y, &rec.Gyroscope.Z,
		&lat, &lon,
		&rec.Window.Samples, &rec.Window.MeanMagnitude, &rec.Window.StdDevMagnitude, &rec.Window.PeakMagnitude,
		&recorded,
	); err != nil {
		return IncidentRecord{}, err
	}
	rec.Kind = incident.Kind(kind)
	rec.Severity = incident.Severity(severity)
	if lat.Valid && lon.Valid {
		rec.Location = &incident.Location{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	rec.RecordedAt = recorded.String
	return rec, nil
}

// Incidents returns matching incidents, newest first.
func (db *DB) Incidents(f IncidentFilter) ([]IncidentRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if f.SinceMs > 0 {
		where = append(where, "detected_at_ms >= ?")
		args = append(args, f.SinceMs)
	}
	if f.UntilMs > 0 {
		where = append(where, "detected_at_ms <= ?")
		args = append(args, f.UntilMs)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultIncidentLimit
	}

	query := "SELECT " + incidentColumns + " FROM incidents"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY detected_at_ms DESC, incident_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var out []IncidentRecord
	for rows.Next() {
		rec, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// IncidentByID returns ErrNotFound for an unknown id.
func (db *DB) IncidentByID(id string) (IncidentRecord, error) {
	row := db.QueryRow("SELECT "+incidentColumns+" FROM incidents WHERE incident_id = ?", id)
	rec, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return IncidentRecord{}, ErrNotFound
	}
	if err != nil {
		return IncidentRecord{}, fmt.Errorf("failed to load incident %s: %w", id, err)
	}
	return rec, nil
}

// RecordProtection stores that incidentID marked seg. Repeating the same
// pair updates the row.
func (db *DB) RecordProtection(incidentID string, seg buffer.Segment, protectedAtMs int64) error {
	var lat, lon sql.NullFloat64
	if seg.Location != nil {
		lat = sql.NullFloat64{Float64: seg.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: seg.Location.Longitude, Valid: true}
	}
	_, err := db.Exec(
		`INSERT INTO protected_segments (
			incident_id, segment_id, segment_path, start_time_ms, end_time_ms,
			first_protector, latitude, longitude, protected_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (incident_id, segment_id) DO UPDATE SET
			end_time_ms = excluded.end_time_ms,
			protected_at_ms = excluded.protected_at_ms`,
		incidentID, seg.ID, seg.Path, seg.StartTimeMs, seg.EndTimeMs,
		seg.ProtectingIncidentID, lat, lon, protectedAtMs,
	)
	if err != nil {
		return fmt.Errorf("failed to record protection of %s by %s: %w", seg.ID, incidentID, err)
	}
	return nil
}

// Protections lists the segments protected by incidentID.
func (db *DB) Protections(incidentID string) ([]ProtectionRecord, error) {
	rows, err := db.Query(
		`SELECT incident_id, segment_id, segment_path, start_time_ms, end_time_ms,
			first_protector, latitude, longitude, protected_at_ms
		FROM protected_segments WHERE incident_id = ? ORDER BY protected_at_ms`,
		incidentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query protections: %w", err)
	}
	defer rows.Close()

	var out []ProtectionRecord
	for rows.Next() {
		var (
			p        ProtectionRecord
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(&p.IncidentID, &p.SegmentID, &p.SegmentPath, &p.StartTimeMs, &p.EndTimeMs,
			&p.FirstProtector, &lat, &lon, &p.ProtectedAtMs); err != nil {
			return nil, fmt.Errorf("failed to scan protection: %w", err)
		}
		if lat.Valid && lon.Valid {
			p.Location = &incident.Location{Latitude: lat.Float64, Longitude: lon.Float64}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountIncidents returns the number of journaled incidents per kind.
func (db *DB) CountIncidents() (map[incident.Kind]int, error) {
	rows, err := db.Query("SELECT kind, COUNT(*) FROM incidents GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("failed to count incidents: %w", err)
	}
	defer rows.Close()

	out := make(map[incident.Kind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[incident.Kind(kind)] = n
	}
	return out, rows.Err()
}

// DeleteIncident removes an incident and its protection rows. It returns
// ErrNotFound when no incident has that id.
func (db *DB) DeleteIncident(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete of %s: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM incidents WHERE incident_id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete incident %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec("DELETE FROM protected_segments WHERE incident_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete protections of %s: %w", id, err)
	}
	return tx.Commit()
}

// ClearIncidents removes every incident and protection row and returns the
// number of incidents removed.
func (db *DB) ClearIncidents() (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin clear: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM incidents")
	if err != nil {
		return 0, fmt.Errorf("failed to clear incidents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec("DELETE FROM protected_segments"); err != nil {
		return 0, fmt.Errorf("failed to clear protections: %w", err)
	}
	return n, tx.Commit()
}
