package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/johandahlberg/arteria-delivery/pkg/runfolders"
)

// RunfolderHandler exposes the read-only browse surface over the monitored
// directories.
type RunfolderHandler struct {
	Runfolders *runfolders.Repository
}

func (h *RunfolderHandler) ListRunfolders(w http.ResponseWriter, r *http.Request) {
	all, err := h.Runfolders.Runfolders()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runfolders": all})
}

func (h *RunfolderHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Runfolders.Projects()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (h *RunfolderHandler) ListRunfolderProjects(w http.ResponseWriter, r *http.Request) {
	runfolder, err := h.Runfolders.Runfolder(chi.URLParam(r, "name"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": runfolder.Projects})
}

// VersionHandler reports the build version.
func VersionHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": version})
	}
}
