package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shoptech/shoptech/internal/auth"
	"github.com/shoptech/shoptech/internal/order"
)

// OrderHandler serves the owner-facing and admin order endpoints. All routes
// sit behind the auth middleware, so an identity is always on the context.
type OrderHandler struct {
	svc order.Service
}

func NewOrderHandler(svc order.Service) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// ListMine handles GET /orders.
func (h *OrderHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	page, limit := pagination(r)
	orders, err := h.svc.ListUserOrders(r.Context(), identity.UserID, page, limit)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", identity.UserID).Msg("handler: failed to list user orders")
		respondWithError(w, mapErrorToStatusCode(err), "failed to fetch orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

// GetByID handles GET /orders/{id}.
func (h *OrderHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := h.svc.GetOrder(r.Context(), orderID, identity.UserID, identity.IsAdmin())
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

// Cancel handles PUT /orders/{id}/cancel.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := h.svc.CancelOrder(r.Context(), orderID, identity.UserID, identity.IsAdmin())
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"message": "order cancelled successfully",
		"order":   o,
	})
}

// AdminList handles GET /orders/admin/all.
func (h *OrderHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	orders, err := h.svc.ListAllOrders(r.Context(), page, limit)
	if err != nil {
		log.Error().Err(err).Msg("handler: failed to list all orders")
		respondWithError(w, mapErrorToStatusCode(err), "failed to fetch orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

// AdminSetStatus handles PUT /orders/admin/{id}.
func (h *OrderHandler) AdminSetStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" {
		respondWithError(w, http.StatusBadRequest, "status is required")
		return
	}

	o, err := h.svc.SetStatus(r.Context(), orderID, order.Status(req.Status))
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"message": "order updated successfully",
		"order":   o,
	})
}

func pagination(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 10
	}
	return page, limit
}
