package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shoptech/shoptech/pkg/metrics"
)

// Notifier delivers an order-confirmation notification to the owning
// account. Delivery is best effort; the reconciler never propagates its
// failures.
type Notifier interface {
	OrderConfirmation(ctx context.Context, userID uuid.UUID, order *Order) error
}

// Reconciler converges the two payment-confirmation paths (processor webhook
// and client-triggered confirm) onto one idempotent transition. Both paths
// may run concurrently, including against themselves on redelivery; the
// conditional MarkPaid update decides the single winner.
type Reconciler struct {
	repo     Repository
	notifier Notifier
}

func NewReconciler(repo Repository, notifier Notifier) *Reconciler {
	return &Reconciler{repo: repo, notifier: notifier}
}

// ApplyPaymentConfirmation marks the order paid and moves it from pending to
// processing. Applying it N times leaves the same state as applying it once:
// only the first call sets paid_at and triggers the notification.
func (rc *Reconciler) ApplyPaymentConfirmation(ctx context.Context, orderID uuid.UUID, paymentID string) (*Order, error) {
	transitioned, err := rc.repo.MarkPaid(ctx, orderID, paymentID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			metrics.PaymentEvents.WithLabelValues("orphaned").Inc()
			return nil, ErrOrderNotFound
		}
		metrics.PaymentEvents.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reconciler: failed to mark order paid: %w", err)
	}

	order, err := rc.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("reconciler: failed to reload order %s: %w", orderID, err)
	}

	if !transitioned {
		metrics.PaymentEvents.WithLabelValues("replay").Inc()
		log.Info().Stringer("order_id", orderID).Msg("reconciler: payment confirmation replayed, order already paid")
		return order, nil
	}

	metrics.PaymentEvents.WithLabelValues("applied").Inc()
	log.Info().
		Stringer("order_id", orderID).
		Str("payment_id", paymentID).
		Msg("reconciler: order marked as paid and processing")

	if order.UserID != nil && rc.notifier != nil {
		if err := rc.notifier.OrderConfirmation(ctx, *order.UserID, order); err != nil {
			// Notification failure must never fail the payment path.
			metrics.NotificationFailures.Inc()
			log.Error().Err(err).Stringer("order_id", orderID).Msg("reconciler: order confirmation notification failed")
		}
	}

	return order, nil
}

// RecordEvent audits a processor webhook delivery. A false return marks the
// event id as a replay.
func (rc *Reconciler) RecordEvent(ctx context.Context, eventID string, orderID uuid.UUID, eventType string) (bool, error) {
	return rc.repo.RecordPaymentEvent(ctx, eventID, orderID, eventType)
}
