package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shoptech/shoptech/internal/auth"
	"github.com/shoptech/shoptech/internal/checkout"
	"github.com/shoptech/shoptech/internal/order"
	"github.com/shoptech/shoptech/internal/payment"
	"github.com/shoptech/shoptech/pkg/metrics"
)

const maxWebhookBody = 1 << 20

// SessionStarter starts a checkout session for a cart.
type SessionStarter interface {
	CreateSession(ctx context.Context, lines []checkout.CartLine, ownerID *uuid.UUID) (string, error)
}

// PaymentReconciler applies the idempotent payment-confirmed transition.
type PaymentReconciler interface {
	ApplyPaymentConfirmation(ctx context.Context, orderID uuid.UUID, paymentID string) (*order.Order, error)
	RecordEvent(ctx context.Context, eventID string, orderID uuid.UUID, eventType string) (bool, error)
}

// EventConstructor verifies a raw webhook payload and parses the event.
// payment.ConstructEvent in production; tests substitute their own.
type EventConstructor func(payload []byte, sigHeader, secret string) (payment.Event, error)

// CheckoutHandler serves the checkout session, webhook and confirmation
// endpoints.
type CheckoutHandler struct {
	sessions       SessionStarter
	reconciler     PaymentReconciler
	verifier       *auth.Verifier
	constructEvent EventConstructor
	webhookSecret  string
}

func NewCheckoutHandler(sessions SessionStarter, reconciler PaymentReconciler, verifier *auth.Verifier, constructEvent EventConstructor, webhookSecret string) *CheckoutHandler {
	return &CheckoutHandler{
		sessions:       sessions,
		reconciler:     reconciler,
		verifier:       verifier,
		constructEvent: constructEvent,
		webhookSecret:  webhookSecret,
	}
}

type createSessionRequest struct {
	Items  []checkout.CartLine `json:"items"`
	UserID string              `json:"user_id,omitempty"`
}

// CreateSession handles POST /checkout/session.
func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Owner resolution is opportunistic: a bad token degrades to guest
	// checkout rather than failing the purchase.
	var ownerID *uuid.UUID
	if identity, err := h.verifier.ResolveBearer(r); err == nil {
		ownerID = &identity.UserID
	} else if req.UserID != "" {
		if parsed, err := uuid.FromString(req.UserID); err == nil {
			ownerID = &parsed
		}
	}

	url, err := h.sessions.CreateSession(r.Context(), req.Items, ownerID)
	if err != nil {
		log.Warn().Err(err).Msg("handler: failed to create checkout session")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Webhook handles POST /checkout/webhook. Signature failures are answered
// non-2xx so the processor retries; everything after a verified signature is
// acknowledged with 200 to avoid redelivery storms, and absorbed failures are
// logged and counted for operator follow-up.
func (h *CheckoutHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	event, err := h.constructEvent(payload, r.Header.Get(payment.SignatureHeader), h.webhookSecret)
	if err != nil {
		metrics.WebhookRejects.WithLabelValues("signature").Inc()
		log.Warn().Err(err).Msg("handler: webhook verification failed")
		respondWithError(w, http.StatusBadRequest, "webhook verification failed")
		return
	}

	if event.Type != payment.EventCheckoutCompleted {
		respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	orderID, err := uuid.FromString(event.Data.Object.Metadata["order_id"])
	if err != nil {
		// Metadata we did not write. Acknowledge: the processor retrying
		// cannot fix its own payload.
		metrics.WebhookRejects.WithLabelValues("metadata").Inc()
		log.Error().Str("event_id", event.ID).Msg("handler: webhook event carries no usable order id")
		respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	fresh, err := h.reconciler.RecordEvent(r.Context(), event.ID, orderID, event.Type)
	if err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("handler: failed to record webhook event")
	} else if !fresh {
		log.Info().Str("event_id", event.ID).Stringer("order_id", orderID).Msg("handler: webhook event replayed")
	}

	if _, err := h.reconciler.ApplyPaymentConfirmation(r.Context(), orderID, event.Data.Object.PaymentIntent); err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			// Intentional but risky: acknowledging hides a misconfigured
			// processor. The orphaned-event metric is the alerting hook.
			log.Error().Stringer("order_id", orderID).Str("event_id", event.ID).Msg("handler: webhook for unknown order")
		} else {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("handler: failed to apply payment confirmation")
		}
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// Confirm handles GET /checkout/confirm/{orderID}, the client-triggered
// fallback for a missed webhook. Safe to call any number of times.
func (h *CheckoutHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "orderID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	confirmed, err := h.reconciler.ApplyPaymentConfirmation(r.Context(), orderID, "")
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			respondWithError(w, http.StatusNotFound, "order not found")
			return
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("handler: failed to confirm order")
		respondWithError(w, http.StatusInternalServerError, "failed to confirm order")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"message": "order updated successfully",
		"order":   confirmed,
	})
}
