package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/banshee-data/dashcam/internal/buffer"
	"github.com/banshee-data/dashcam/internal/db"
	"github.com/banshee-data/dashcam/internal/incident"
	"github.com/banshee-data/dashcam/internal/units"
)

const maxIncidentLimit = 1000

func (s *Server) convertIncident(rec db.IncidentRecord, target string) db.IncidentRecord {
	rec.Acceleration = convertSample(rec.Acceleration, target)
	rec.Window.MeanMagnitude = units.ConvertAcceleration(rec.Window.MeanMagnitude, target)
	rec.Window.StdDevMagnitude = units.ConvertAcceleration(rec.Window.StdDevMagnitude, target)
	rec.Window.PeakMagnitude = units.ConvertAcceleration(rec.Window.PeakMagnitude, target)
	return rec
}

func parseIncidentFilter(r *http.Request) (db.IncidentFilter, error) {
	q := r.URL.Query()
	var f db.IncidentFilter

	if k := q.Get("kind"); k != "" {
		f.Kind = incident.Kind(k)
		if !validKind(f.Kind) {
			return f, fmt.Errorf("invalid 'kind' parameter %q", k)
		}
	}
	if sev := q.Get("severity"); sev != "" {
		f.Severity = incident.Severity(sev)
		if f.Severity.Rank() < 0 {
			return f, fmt.Errorf("invalid 'severity' parameter %q", sev)
		}
	}
	for _, p := range []struct {
		name string
		dst  *int64
	}{{"since", &f.SinceMs}, {"until", &f.UntilMs}} {
		if v := q.Get(p.name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				return f, fmt.Errorf("invalid '%s' parameter", p.name)
			}
			*p.dst = n
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxIncidentLimit {
			return f, fmt.Errorf("invalid 'limit' parameter: must be 1-%d", maxIncidentLimit)
		}
		f.Limit = n
	}
	return f, nil
}

func validKind(k incident.Kind) bool {
	for _, v := range incident.Kinds {
		if v == k {
			return true
		}
	}
	return false
}

// handleIncidents serves GET (list) and DELETE (clear journal and media)
// on /api/incidents.
func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, http.MethodGet, http.MethodDelete) {
		return
	}
	if s.b.Journal == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Incident journal unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.listIncidents(w, r)
	case http.MethodDelete:
		s.clearIncidents(w)
	}
}

// handleIncident serves GET and DELETE on /api/incidents/{id}.
func (s *Server) handleIncident(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, http.MethodGet, http.MethodDelete) {
		return
	}
	if s.b.Journal == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Incident journal unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.showIncident(w, r)
	case http.MethodDelete:
		s.deleteIncident(w, r.PathValue("id"))
	}
}

func (s *Server) listIncidents(w http.ResponseWriter, r *http.Request) {
	target, ok := s.requestUnits(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'units' parameter: must be one of "+units.GetValidUnitsString())
		return
	}
	filter, err := parseIncidentFilter(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := s.b.Journal.Incidents(filter)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve incidents: %v", err))
		return
	}
	out := make([]db.IncidentRecord, len(recs))
	for i, rec := range recs {
		out[i] = s.convertIncident(rec, target)
	}
	s.writeJSON(w, out)
}

func (s *Server) showIncident(w http.ResponseWriter, r *http.Request) {
	target, ok := s.requestUnits(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'units' parameter: must be one of "+units.GetValidUnitsString())
		return
	}

	rec, err := s.b.Journal.IncidentByID(r.PathValue("id"))
	if errors.Is(err, db.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "Incident not found")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve incident: %v", err))
		return
	}
	s.writeJSON(w, s.convertIncident(rec, target))
}

// deleteIncident removes the journal row and the incident's media. It is a
// 404 only when neither existed.
func (s *Server) deleteIncident(w http.ResponseWriter, id string) {
	journalErr := s.b.Journal.DeleteIncident(id)
	if journalErr != nil && !errors.Is(journalErr, db.ErrNotFound) {
		log.Printf("Error deleting incident %s: %v", id, journalErr)
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to delete incident")
		return
	}
	mediaErr := s.b.Buffer.DeleteIncidentMedia(id)
	if mediaErr != nil && !errors.Is(mediaErr, buffer.ErrIncidentNotFound) {
		log.Printf("Error deleting media for incident %s: %v", id, mediaErr)
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to delete incident media")
		return
	}
	if journalErr != nil && mediaErr != nil {
		s.writeJSONError(w, http.StatusNotFound, "Incident not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IncidentsCleared is the DELETE /api/incidents response.
type IncidentsCleared struct {
	Records int64 `json:"records"`
	Media   int   `json:"media"`
}

func (s *Server) clearIncidents(w http.ResponseWriter) {
	records, err := s.b.Journal.ClearIncidents()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to clear incidents: %v", err))
		return
	}
	media, err := s.b.Buffer.ClearIncidentMedia()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to clear incident media: %v", err))
		return
	}
	log.Printf("Cleared %d incident records and %d media copies", records, media)
	s.writeJSON(w, IncidentsCleared{Records: records, Media: media})
}

// IncidentSummary is the GET /api/incidents/summary response.
type IncidentSummary struct {
	Total   int                   `json:"total"`
	ByKind  map[incident.Kind]int `json:"by_kind"`
	Monitor *incident.Status      `json:"monitor,omitempty"`
}

func (s *Server) showIncidentSummary(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, http.MethodGet) {
		return
	}
	if s.b.Journal == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Incident journal unavailable")
		return
	}
	counts, err := s.b.Journal.CountIncidents()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to count incidents: %v", err))
		return
	}
	sum := IncidentSummary{ByKind: make(map[incident.Kind]int, len(incident.Kinds))}
	for _, k := range incident.Kinds {
		sum.ByKind[k] = counts[k]
		sum.Total += counts[k]
	}
	if s.b.Monitor != nil {
		st := s.b.Monitor.Status()
		sum.Monitor = &st
	}
	s.writeJSON(w, sum)
}

// IncidentMediaList is the GET /api/media response.
type IncidentMediaList struct {
	Media []buffer.Sidecar     `json:"media"`
	Usage buffer.IncidentUsage `json:"usage"`
}

func (s *Server) listIncidentMedia(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, http.MethodGet) {
		return
	}
	sides, usage, err := s.b.Buffer.IncidentMedia()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list incident media: %v", err))
		return
	}
	if sides == nil {
		sides = []buffer.Sidecar{}
	}
	s.writeJSON(w, IncidentMediaList{Media: sides, Usage: usage})
}
