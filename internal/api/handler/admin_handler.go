package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/notifyhub/restock-monitor/internal/service"
)

// AdminHandler serves the operator endpoints: destination administration,
// manual check triggers and the stats snapshot.
type AdminHandler struct {
	svc    *service.ItemService
	logger *zap.Logger
}

func NewAdminHandler(svc *service.ItemService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

type disableRequest struct {
	Reason string `json:"reason"`
}

// DisableDestination handles POST /api/v1/destinations/{id}/disable
//
// @Summary  Stop routing to a destination
// @Tags     destinations
// @Accept   json
// @Param    id    path  string          true   "Destination id"
// @Param    body  body  disableRequest  false  "Reason"
// @Success  204
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/destinations/{id}/disable [post]
func (h *AdminHandler) DisableDestination(w http.ResponseWriter, r *http.Request) {
	var req disableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.svc.DisableDestination(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnableDestination handles POST /api/v1/destinations/{id}/enable
//
// @Summary  Resume routing to a destination
// @Tags     destinations
// @Param    id   path  string  true  "Destination id"
// @Success  204
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/destinations/{id}/enable [post]
func (h *AdminHandler) EnableDestination(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.EnableDestination(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TriggerCheck handles POST /api/v1/checks/trigger
//
// @Summary  Start a check cycle now
// @Tags     checks
// @Produce  json
// @Success  202  {object}  map[string]bool
// @Failure  409  {object}  map[string]string  "A cycle is already running"
// @Router   /api/v1/checks/trigger [post]
func (h *AdminHandler) TriggerCheck(w http.ResponseWriter, r *http.Request) {
	started, err := h.svc.TriggerCheck()
	if err != nil {
		h.logger.Error("trigger check failed", zap.Error(err))
		mapError(w, err)
		return
	}
	if !started {
		respondError(w, http.StatusConflict, "check cycle already in flight")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]bool{"started": true})
}

// Stats handles GET /api/v1/stats
//
// @Summary  Jobs by status, active items and destination counts
// @Tags     system
// @Produce  json
// @Success  200  {object}  domain.Stats
// @Router   /api/v1/stats [get]
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}
