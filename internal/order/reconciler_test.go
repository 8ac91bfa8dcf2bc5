package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoptech/shoptech/internal/order"
)

// fakeRepo mimics the conditional-update semantics of the Postgres
// repository: MarkPaid has exactly one winner per order, whatever the
// interleaving.
type fakeRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*order.Order
	events map[string]bool
}

func newFakeRepo(orders ...*order.Order) *fakeRepo {
	r := &fakeRepo{
		orders: make(map[uuid.UUID]*order.Order),
		events: make(map[string]bool),
	}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *fakeRepo) Create(ctx context.Context, o *order.Order) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	o.ID = id
	r.orders[id] = o
	return id, nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeRepo) ListByUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]order.Order, int, error) {
	return nil, 0, nil
}

func (r *fakeRepo) ListAll(ctx context.Context, page, limit int) ([]order.Order, int, error) {
	return nil, 0, nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus order.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.Status = newStatus
	return nil
}

func (r *fakeRepo) MarkDelivered(ctx context.Context, orderID uuid.UUID, deliveredAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.Status = order.StatusDelivered
	o.IsDelivered = true
	o.DeliveredAt = &deliveredAt
	return nil
}

func (r *fakeRepo) MarkPaid(ctx context.Context, orderID uuid.UUID, paymentID string, paidAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return false, order.ErrOrderNotFound
	}
	if o.IsPaid {
		return false, nil
	}
	if o.Status == order.StatusPending {
		o.Status = order.StatusProcessing
	}
	o.IsPaid = true
	if paymentID != "" {
		o.PaymentInfo.PaymentID = paymentID
	}
	o.PaymentInfo.PaymentStatus = "completed"
	o.PaymentInfo.PaidAt = &paidAt
	return true, nil
}

func (r *fakeRepo) RecordPaymentEvent(ctx context.Context, eventID string, orderID uuid.UUID, eventType string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events[eventID] {
		return false, nil
	}
	r.events[eventID] = true
	return true, nil
}

type countingNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (n *countingNotifier) OrderConfirmation(ctx context.Context, userID uuid.UUID, o *order.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return n.err
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func pendingOrder() *order.Order {
	owner := ownerID
	return &order.Order{
		ID:          orderID,
		UserID:      &owner,
		Status:      order.StatusPending,
		TotalAmount: 350.00,
	}
}

func TestReconciler_AppliesTransitionOnce(t *testing.T) {
	repo := newFakeRepo(pendingOrder())
	notifier := &countingNotifier{}
	rc := order.NewReconciler(repo, notifier)

	first, err := rc.ApplyPaymentConfirmation(context.Background(), orderID, "pi_789")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, first.Status)
	assert.True(t, first.IsPaid)
	assert.Equal(t, "pi_789", first.PaymentInfo.PaymentID)
	assert.Equal(t, "completed", first.PaymentInfo.PaymentStatus)
	require.NotNil(t, first.PaymentInfo.PaidAt)

	firstPaidAt := *first.PaymentInfo.PaidAt

	// Replays: same terminal state, paidAt untouched, no second notification.
	for i := 0; i < 3; i++ {
		replay, err := rc.ApplyPaymentConfirmation(context.Background(), orderID, "pi_789")
		require.NoError(t, err)
		assert.Equal(t, order.StatusProcessing, replay.Status)
		assert.True(t, replay.IsPaid)
		require.NotNil(t, replay.PaymentInfo.PaidAt)
		assert.Equal(t, firstPaidAt, *replay.PaymentInfo.PaidAt)
	}

	assert.Equal(t, 1, notifier.count())
}

func TestReconciler_WebhookAndConfirmRace(t *testing.T) {
	repo := newFakeRepo(pendingOrder())
	notifier := &countingNotifier{}
	rc := order.NewReconciler(repo, notifier)

	const attempts = 16

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(2)
		// Entry A: webhook delivery (carries the processor payment id).
		go func() {
			defer wg.Done()
			_, err := rc.ApplyPaymentConfirmation(context.Background(), orderID, "pi_789")
			assert.NoError(t, err)
		}()
		// Entry B: client-triggered confirmation (no payment id).
		go func() {
			defer wg.Done()
			_, err := rc.ApplyPaymentConfirmation(context.Background(), orderID, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := repo.GetByID(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, final.Status)
	assert.True(t, final.IsPaid)
	require.NotNil(t, final.PaymentInfo.PaidAt)
	assert.Equal(t, 1, notifier.count(), "exactly one effective transition")
}

func TestReconciler_UnknownOrder(t *testing.T) {
	repo := newFakeRepo()
	rc := order.NewReconciler(repo, &countingNotifier{})

	_, err := rc.ApplyPaymentConfirmation(context.Background(), orderID, "pi_789")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestReconciler_NotificationFailureDoesNotFailPayment(t *testing.T) {
	repo := newFakeRepo(pendingOrder())
	notifier := &countingNotifier{err: errors.New("smtp down")}
	rc := order.NewReconciler(repo, notifier)

	confirmed, err := rc.ApplyPaymentConfirmation(context.Background(), orderID, "pi_789")
	require.NoError(t, err)
	assert.True(t, confirmed.IsPaid)
	assert.Equal(t, 1, notifier.count())
}

func TestReconciler_GuestOrderSkipsNotification(t *testing.T) {
	guest := pendingOrder()
	guest.UserID = nil
	repo := newFakeRepo(guest)
	notifier := &countingNotifier{}
	rc := order.NewReconciler(repo, notifier)

	confirmed, err := rc.ApplyPaymentConfirmation(context.Background(), orderID, "pi_789")
	require.NoError(t, err)
	assert.True(t, confirmed.IsPaid)
	assert.Equal(t, 0, notifier.count())
}

func TestReconciler_DoesNotRegressLaterStatuses(t *testing.T) {
	// A paid order already shipped must stay shipped on webhook replay.
	shipped := pendingOrder()
	shipped.Status = order.StatusShipped
	shipped.IsPaid = true
	paidAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	shipped.PaymentInfo = order.PaymentInfo{PaymentID: "pi_789", PaymentStatus: "completed", PaidAt: &paidAt}

	repo := newFakeRepo(shipped)
	notifier := &countingNotifier{}
	rc := order.NewReconciler(repo, notifier)

	got, err := rc.ApplyPaymentConfirmation(context.Background(), orderID, "pi_789")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, got.Status)
	assert.Equal(t, paidAt, *got.PaymentInfo.PaidAt)
	assert.Equal(t, 0, notifier.count())
}

func TestReconciler_RecordEventDedup(t *testing.T) {
	repo := newFakeRepo(pendingOrder())
	rc := order.NewReconciler(repo, &countingNotifier{})

	fresh, err := rc.RecordEvent(context.Background(), "evt_123", orderID, "checkout.session.completed")
	require.NoError(t, err)
	assert.True(t, fresh)

	replay, err := rc.RecordEvent(context.Background(), "evt_123", orderID, "checkout.session.completed")
	require.NoError(t, err)
	assert.False(t, replay)
}
