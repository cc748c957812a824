// Package api serves the dashcam HTTP JSON API.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/dashcam/internal/buffer"
	"github.com/banshee-data/dashcam/internal/db"
	"github.com/banshee-data/dashcam/internal/httputil"
	"github.com/banshee-data/dashcam/internal/incident"
	"github.com/banshee-data/dashcam/internal/sensor"
	"github.com/banshee-data/dashcam/internal/units"
)

// ANSI escape codes for request logging.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Buffer is the part of buffer.Manager the API serves.
type Buffer interface {
	Stats() buffer.Stats
	Segments() []buffer.Segment
	IncidentSegments() []buffer.Segment
	GetByID(id string) (buffer.Segment, bool)
	IncidentMedia() ([]buffer.Sidecar, buffer.IncidentUsage, error)
	DeleteIncidentMedia(incidentID string) error
	ClearIncidentMedia() (int, error)
}

// Journal is the part of db.DB the API serves.
type Journal interface {
	Incidents(f db.IncidentFilter) ([]db.IncidentRecord, error)
	IncidentByID(id string) (db.IncidentRecord, error)
	CountIncidents() (map[incident.Kind]int, error)
	DeleteIncident(id string) error
	ClearIncidents() (int64, error)
}

// Monitor reports live detection counters.
type Monitor interface {
	Status() incident.Status
}

// Samples exposes the sampler rings.
type Samples interface {
	Recent(ch sensor.Channel) []sensor.Sample
}

// Backends are the components the API reads and configures. Journal may be
// nil, in which case incident routes answer 503. Monitor may be nil.
type Backends struct {
	Buffer          Buffer
	Journal         Journal
	Monitor         Monitor
	Samples         Samples
	BufferConfig    *buffer.ConfigStore
	DetectionConfig *incident.ConfigStore
}

type Server struct {
	b     Backends
	units string
}

// NewServer creates a Server reporting accelerations in units unless a
// request overrides it.
func NewServer(b Backends, defaultUnits string) *Server {
	if !units.IsValid(defaultUnits) {
		defaultUnits = units.MPS2
	}
	return &Server{b: b, units: defaultUnits}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/buffer/stats", s.showBufferStats)
	mux.HandleFunc("/api/buffer/segments", s.listSegments)
	mux.HandleFunc("/api/buffer/segments/{id}", s.showSegment)
	mux.HandleFunc("/api/incidents", s.handleIncidents)
	mux.HandleFunc("/api/incidents/summary", s.showIncidentSummary)
	mux.HandleFunc("/api/incidents/{id}", s.handleIncident)
	mux.HandleFunc("/api/media", s.listIncidentMedia)
	mux.HandleFunc("/api/config/buffer", s.handleBufferConfig)
	mux.HandleFunc("/api/config/detection", s.handleDetectionConfig)
	mux.HandleFunc("/api/sensors/recent", s.listRecentSamples)
	mux.HandleFunc("/api/charts/motion", s.showMotionChart)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	httputil.WriteJSONError(w, status, msg)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	return httputil.AllowMethods(w, r, methods...)
}

// requestUnits resolves the ?units= override against the server default.
func (s *Server) requestUnits(r *http.Request) (string, bool) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, true
	}
	return u, units.IsValid(u)
}

func convertSample(sample sensor.Sample, target string) sensor.Sample {
	sample.X = units.ConvertAcceleration(sample.X, target)
	sample.Y = units.ConvertAcceleration(sample.Y, target)
	sample.Z = units.ConvertAcceleration(sample.Z, target)
	return sample
}
