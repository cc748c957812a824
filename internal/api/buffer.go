package api

import (
	"net/http"
	"strconv"

	"github.com/banshee-data/dashcam/internal/buffer"
)

func (s *Server) showBufferStats(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, s.b.Buffer.Stats())
}

func (s *Server) listSegments(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, http.MethodGet) {
		return
	}
	protected := false
	if p := r.URL.Query().Get("protected"); p != "" {
		v, err := strconv.ParseBool(p)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'protected' parameter")
			return
		}
		protected = v
	}
	segs := s.b.Buffer.Segments()
	if protected {
		segs = s.b.Buffer.IncidentSegments()
	}
	if segs == nil {
		segs = []buffer.Segment{}
	}
	s.writeJSON(w, segs)
}

func (s *Server) showSegment(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, http.MethodGet) {
		return
	}
	seg, ok := s.b.Buffer.GetByID(r.PathValue("id"))
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "Segment not found")
		return
	}
	s.writeJSON(w, seg)
}
