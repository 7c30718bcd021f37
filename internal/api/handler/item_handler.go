package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/restock-monitor/internal/api/middleware"
	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/service"
)

// ItemHandler handles tracked-item endpoints.
type ItemHandler struct {
	svc    *service.ItemService
	logger *zap.Logger
}

func NewItemHandler(svc *service.ItemService, logger *zap.Logger) *ItemHandler {
	return &ItemHandler{svc: svc, logger: logger}
}

// Register handles POST /api/v1/items
//
// @Summary     Track a product
// @Tags        items
// @Accept      json
// @Produce     json
// @Param       body  body      domain.RegisterItemRequest  true  "Item to track"
// @Success     201   {object}  domain.TrackedItem
// @Failure     409   {object}  map[string]string
// @Failure     422   {object}  map[string]string
// @Router      /api/v1/items [post]
func (h *ItemHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	it, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.logger.Warn("register item failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, it)
}

// GetByID handles GET /api/v1/items/{id}
//
// @Summary  Get a tracked item
// @Tags     items
// @Produce  json
// @Param    id   path      string  true  "Item UUID"
// @Success  200  {object}  domain.TrackedItem
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/items/{id} [get]
func (h *ItemHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	it, err := h.svc.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, it)
}

// Reactivate handles POST /api/v1/items/{id}/reactivate
//
// @Summary  Resume checking a deactivated item
// @Tags     items
// @Produce  json
// @Param    id   path      string  true  "Item UUID"
// @Success  200  {object}  domain.TrackedItem
// @Failure  404  {object}  map[string]string
// @Failure  409  {object}  map[string]string
// @Router   /api/v1/items/{id}/reactivate [post]
func (h *ItemHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	it, err := h.svc.Reactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, it)
}
