// Package notify publishes order-confirmation events for the mailer service
// to consume. Publishing is best effort; callers decide what a failure means.
package notify

import (
	"context"

	"github.com/gofrs/uuid"

	"github.com/shoptech/shoptech/internal/order"
)

// Noop discards notifications. Used in tests and when no broker is
// configured.
type Noop struct{}

func (Noop) OrderConfirmation(ctx context.Context, userID uuid.UUID, o *order.Order) error {
	return nil
}
