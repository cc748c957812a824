package buffer

import (
	"net/http"

	"github.com/banshee-data/dashcam/internal/httputil"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes exposes the segment list and an eviction trigger on the
// tsweb debug page.
func (m *Manager) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("buffer", "Video buffer segments", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONIndent(w, map[string]any{
			"recording": m.IsRecording(),
			"config":    m.store.Get(),
			"stats":     m.Stats(),
			"segments":  m.Segments(),
		})
	})

	debug.HandleSilentFunc("buffer-evict", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.AllowMethods(w, r, http.MethodPost) {
			return
		}
		report := m.Evict()
		logs.Opsf("manual eviction: %d by age, %d by size", report.AgeEvicted, report.SizeEvicted)
		httputil.WriteJSON(w, http.StatusOK, report)
	})
}
