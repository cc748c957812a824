package api

import (
	"net/http"

	"github.com/banshee-data/dashcam/internal/version"
)

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
		"summary":    version.String(),
	})
}
