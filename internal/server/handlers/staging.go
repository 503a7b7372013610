package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/johandahlberg/arteria-delivery/internal/errors"
	"github.com/johandahlberg/arteria-delivery/pkg/delivery"
)

// StagingHandler exposes the staging half of the API: starting staging
// orders and polling or cancelling them.
type StagingHandler struct {
	Delivery *delivery.Service
}

type stageRunfolderRequest struct {
	Projects      []string `json:"projects"`
	ForceDelivery bool     `json:"force_delivery"`
}

type stageProjectRequest struct {
	DirName       string `json:"dir_name"`
	ForceDelivery bool   `json:"force_delivery"`
}

type stageProjectRunfoldersRequest struct {
	Mode string `json:"mode"`
}

// StageRunfolder starts staging of the named runfolder, optionally scoped to
// a subset of its projects. Responds 202: the copies run in the background
// and are observed via the returned links.
func (h *StagingHandler) StageRunfolder(w http.ResponseWriter, r *http.Request) {
	var req stageRunfolderRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteError(w, http.StatusBadRequest, apperrors.CodeInvalidArgument,
				"cannot parse request body: "+err.Error())
			return
		}
	}

	orderIDs, err := h.Delivery.DeliverSingleRunfolder(r.Context(),
		chi.URLParam(r, "name"), req.Projects, req.ForceDelivery)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeStagingAccepted(w, r, orderIDs)
}

// StageProject stages a free-standing project directory.
func (h *StagingHandler) StageProject(w http.ResponseWriter, r *http.Request) {
	var req stageProjectRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteError(w, http.StatusBadRequest, apperrors.CodeInvalidArgument,
				"cannot parse request body: "+err.Error())
			return
		}
	}

	orderIDs, err := h.Delivery.DeliverArbitraryDirectoryProject(r.Context(),
		chi.URLParam(r, "name"), req.DirName, req.ForceDelivery)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeStagingAccepted(w, r, orderIDs)
}

// StageProjectRunfolders stages every runfolder containing the project as
// one batch, honoring the requested mode.
func (h *StagingHandler) StageProjectRunfolders(w http.ResponseWriter, r *http.Request) {
	var req stageProjectRunfoldersRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteError(w, http.StatusBadRequest, apperrors.CodeInvalidArgument,
				"cannot parse request body: "+err.Error())
			return
		}
	}

	mode, err := delivery.ParseMode(req.Mode)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	orderIDs, err := h.Delivery.DeliverAllRunfoldersForProject(r.Context(),
		chi.URLParam(r, "name"), mode)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeStagingAccepted(w, r, orderIDs)
}

// StagingStatus reports the state and, once staged, the byte size of one
// staging order.
func (h *StagingHandler) StagingStatus(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.CodeInvalidArgument, err.Error())
		return
	}

	order, err := h.Delivery.CheckStagingStatus(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	body := map[string]interface{}{"status": order.Status}
	if order.Size != nil {
		body["size"] = *order.Size
	}
	writeJSON(w, http.StatusOK, body)
}

// KillStaging stops an in-flight staging order.
func (h *StagingHandler) KillStaging(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.CodeInvalidArgument, err.Error())
		return
	}

	if !h.Delivery.KillStagingProcess(r.Context(), id) {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.CodeInternal,
			"cannot stop staging order "+strconv.FormatInt(id, 10))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func orderIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func writeStagingAccepted(w http.ResponseWriter, r *http.Request, orderIDs map[string]int64) {
	links := make(map[string]string, len(orderIDs))
	for projectName, orderID := range orderIDs {
		links[projectName] = baseURL(r) + "/api/1.0/stage/" + strconv.FormatInt(orderID, 10)
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"staging_order_links": links,
		"staging_order_ids":   orderIDs,
	})
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
