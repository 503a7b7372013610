package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "github.com/johandahlberg/arteria-delivery/internal/errors"
	"github.com/johandahlberg/arteria-delivery/pkg/mover"
)

// DeliveryHandler exposes the delivery half of the API: handing staged
// sources to mover and polling the resulting delivery orders.
type DeliveryHandler struct {
	Mover *mover.Service
}

type deliverRequest struct {
	DeliveryProjectID string `json:"delivery_project_id"`
	MD5SumsFile       string `json:"md5sums_file"`
	SkipMover         bool   `json:"skip_mover"`
}

// Deliver starts delivery of a successfully staged order. Responds 202; the
// mover hand-off runs in the background.
func (h *DeliveryHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	stagingOrderID, err := orderIDParam(r)
	if err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.CodeInvalidArgument, err.Error())
		return
	}

	var req deliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.CodeInvalidArgument,
			"cannot parse request body: "+err.Error())
		return
	}
	if req.DeliveryProjectID == "" {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.CodeInvalidArgument,
			"delivery_project_id is required")
		return
	}

	order, err := h.Mover.DeliverByStagingID(r.Context(), stagingOrderID,
		req.DeliveryProjectID, req.MD5SumsFile, req.SkipMover)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"delivery_order_id":   order.ID,
		"delivery_order_link": baseURL(r) + "/api/1.0/deliver/status/" + strconv.FormatInt(order.ID, 10),
	})
}

// DeliveryStatus reports the state of a delivery order, polling mover for
// orders it is still transferring.
func (h *DeliveryHandler) DeliveryStatus(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.CodeInvalidArgument, err.Error())
		return
	}

	order, err := h.Mover.UpdateDeliveryStatus(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":                order.ID,
		"status":            order.DeliveryStatus,
		"mover_delivery_id": order.MoverDeliveryID,
	})
}
