package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/shoptech/shoptech/internal/auth"
	"github.com/shoptech/shoptech/internal/checkout"
	"github.com/shoptech/shoptech/internal/handler"
	"github.com/shoptech/shoptech/internal/order"
	"github.com/shoptech/shoptech/internal/payment"
)

type stubSessions struct{}

func (stubSessions) CreateSession(ctx context.Context, lines []checkout.CartLine, ownerID *uuid.UUID) (string, error) {
	return "https://pay.example/cs_123", nil
}

type stubReconciler struct{}

func (stubReconciler) ApplyPaymentConfirmation(ctx context.Context, orderID uuid.UUID, paymentID string) (*order.Order, error) {
	return &order.Order{ID: orderID, Status: order.StatusProcessing, IsPaid: true}, nil
}

func (stubReconciler) RecordEvent(ctx context.Context, eventID string, orderID uuid.UUID, eventType string) (bool, error) {
	return true, nil
}

func newTestRouter() http.Handler {
	verifier := auth.NewVerifier("jwt-secret")
	checkoutH := handler.NewCheckoutHandler(stubSessions{}, stubReconciler{}, verifier, payment.ConstructEvent, "whsec_test")
	orderH := handler.NewOrderHandler(nil)
	return NewRouter(checkoutH, orderH, verifier)
}

func TestRouter_Health(t *testing.T) {
	srv := httptest.NewServer(newTestRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_OrdersRequireAuth(t *testing.T) {
	router := newTestRouter()

	for _, target := range []string{"/orders", "/orders/" + uuid.Must(uuid.NewV4()).String(), "/orders/admin/all"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, target)
	}
}

func TestRouter_CheckoutSessionRateLimit(t *testing.T) {
	router := newTestRouter()

	body := `{"items":[{"product_id":"123e4567-e89b-12d3-a456-426614174000","name":"Keyboard","unit_amount":10000,"quantity":1}]}`

	// Burst of 5, then the bucket is empty.
	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/checkout/session", strings.NewReader(body))
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		lastCode = w.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, lastCode)

	// A different client is unaffected.
	req := httptest.NewRequest(http.MethodPost, "/checkout/session", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_WebhookRejectsUnsigned(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/checkout/webhook", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
