package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventCheckoutCompleted is the only event type the reconciler acts on.
const EventCheckoutCompleted = "checkout.session.completed"

// SignatureHeader carries the webhook signature: "t=<unix>,v1=<hex hmac>".
const SignatureHeader = "Processor-Signature"

// Deliveries older than this are rejected to stop signature replay.
const signatureTolerance = 5 * time.Minute

var ErrInvalidSignature = errors.New("webhook signature verification failed")

// Event is a processor webhook payload. Metadata echoes back whatever was
// attached to the checkout session, which is where the order id lives.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string            `json:"id"`
			PaymentIntent string            `json:"payment_intent"`
			Metadata      map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ConstructEvent verifies the signature header against the raw payload and
// the shared signing secret, then parses the event. Any verification failure
// returns ErrInvalidSignature so the handler can answer non-2xx and let the
// processor retry.
func ConstructEvent(payload []byte, sigHeader, secret string) (Event, error) {
	return constructEventAt(payload, sigHeader, secret, time.Now())
}

func constructEventAt(payload []byte, sigHeader, secret string, now time.Time) (Event, error) {
	var event Event

	timestamp, signature, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return event, err
	}

	if now.Sub(time.Unix(timestamp, 0)) > signatureTolerance {
		return event, fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := Signature(payload, secret, timestamp)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return event, fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}

	if err := json.Unmarshal(payload, &event); err != nil {
		return event, fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	return event, nil
}

// Signature computes the hex HMAC-SHA256 of "<timestamp>.<payload>" with the
// shared secret, per the processor's signing scheme.
func Signature(payload []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (timestamp int64, signature string, err error) {
	if header == "" {
		return 0, "", fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("%w: malformed timestamp", ErrInvalidSignature)
			}
		case "v1":
			signature = value
		}
	}
	if timestamp == 0 || signature == "" {
		return 0, "", fmt.Errorf("%w: malformed signature header", ErrInvalidSignature)
	}
	return timestamp, signature, nil
}
