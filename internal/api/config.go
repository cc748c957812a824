package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/banshee-data/dashcam/internal/config"
)

const maxConfigBody = 64 * 1024

func decodeSettings(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) handleBufferConfig(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, http.MethodGet, http.MethodPatch) {
		return
	}
	store := s.b.BufferConfig
	if r.Method == http.MethodGet {
		s.writeJSON(w, store.Get())
		return
	}

	var settings config.BufferSettings
	if err := decodeSettings(w, r, &settings); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := store.Update(settings)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, cfg)
}

func (s *Server) handleDetectionConfig(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, http.MethodGet, http.MethodPatch) {
		return
	}
	store := s.b.DetectionConfig
	if r.Method == http.MethodGet {
		s.writeJSON(w, store.Get())
		return
	}

	var settings config.DetectionSettings
	if err := decodeSettings(w, r, &settings); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := store.Update(settings)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, cfg)
}
