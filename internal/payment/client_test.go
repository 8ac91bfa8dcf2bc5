package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CreateSession(t *testing.T) {
	var gotParams SessionParams
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotParams))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Session{ID: "cs_123", URL: "https://pay.example/cs_123"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test", 2*time.Second)
	session, err := client.CreateSession(context.Background(), SessionParams{
		LineItems: []LineItem{
			{Name: "Keyboard", UnitAmount: 10000, Quantity: 2, Currency: "usd"},
		},
		SuccessURL: "https://shop.example/success?orderId=abc",
		CancelURL:  "https://shop.example/cart",
		Metadata:   map[string]string{"order_id": "abc"},
	})

	require.NoError(t, err)
	assert.Equal(t, "cs_123", session.ID)
	assert.Equal(t, "https://pay.example/cs_123", session.URL)
	assert.Equal(t, "abc", gotParams.Metadata["order_id"])
	assert.Equal(t, int64(10000), gotParams.LineItems[0].UnitAmount)
}

func TestClient_CreateSession_ProcessorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_bad", 2*time.Second)
	_, err := client.CreateSession(context.Background(), SessionParams{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionCreate)
}

func TestClient_CreateSession_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test", 20*time.Millisecond)
	_, err := client.CreateSession(context.Background(), SessionParams{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionCreate)
}
