package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

// Forward-only state machine. Paid orders leave "pending" through MarkPaid;
// everything else goes through here.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

var (
	ErrInvalidStatus           = errors.New("unknown order status")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrForbidden               = errors.New("not authorized to access this order")
)

// Page carries pagination metadata alongside a page of orders.
type Page struct {
	Orders      []Order `json:"data"`
	Total       int     `json:"total"`
	TotalPages  int     `json:"total_pages"`
	CurrentPage int     `json:"current_page"`
}

type Service interface {
	GetOrder(ctx context.Context, orderID, requesterID uuid.UUID, isAdmin bool) (*Order, error)
	ListUserOrders(ctx context.Context, userID uuid.UUID, page, limit int) (*Page, error)
	ListAllOrders(ctx context.Context, page, limit int) (*Page, error)
	CancelOrder(ctx context.Context, orderID, requesterID uuid.UUID, isAdmin bool) (*Order, error)
	SetStatus(ctx context.Context, orderID uuid.UUID, newStatus Status) (*Order, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) GetOrder(ctx context.Context, orderID, requesterID uuid.UUID, isAdmin bool) (*Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	if !isAdmin && !order.OwnedBy(requesterID) {
		log.Warn().Stringer("order_id", orderID).Stringer("requester_id", requesterID).Msg("service: order access denied")
		return nil, ErrForbidden
	}
	return order, nil
}

func (s *service) ListUserOrders(ctx context.Context, userID uuid.UUID, page, limit int) (*Page, error) {
	orders, total, err := s.repo.ListByUser(ctx, userID, page, limit)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}
	return newPage(orders, total, page, limit), nil
}

func (s *service) ListAllOrders(ctx context.Context, page, limit int) (*Page, error) {
	orders, total, err := s.repo.ListAll(ctx, page, limit)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch orders: %w", err)
	}
	return newPage(orders, total, page, limit), nil
}

func (s *service) CancelOrder(ctx context.Context, orderID, requesterID uuid.UUID, isAdmin bool) (*Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order for cancel: %w", err)
	}

	if !isAdmin && !order.OwnedBy(requesterID) {
		return nil, ErrForbidden
	}

	if order.Status != StatusPending && order.Status != StatusProcessing {
		log.Warn().
			Stringer("order_id", orderID).
			Stringer("current_status", order.Status).
			Msg("service: cancel attempted from non-cancellable status")
		return nil, fmt.Errorf("%w: cannot cancel order in %s status", ErrInvalidStatusTransition, order.Status)
	}

	if err := s.repo.UpdateStatus(ctx, orderID, StatusCancelled); err != nil {
		return nil, fmt.Errorf("service: failed to cancel order: %w", err)
	}

	order.Status = StatusCancelled
	log.Info().Stringer("order_id", orderID).Msg("service: order cancelled")
	return order, nil
}

func (s *service) SetStatus(ctx context.Context, orderID uuid.UUID, newStatus Status) (*Order, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order for status update: %w", err)
	}

	if order.Status == newStatus {
		log.Info().Stringer("order_id", orderID).Stringer("status", newStatus).Msg("service: order status already set, no update needed")
		return order, nil
	}

	if !allowedTransitions[order.Status][newStatus] {
		log.Warn().
			Stringer("order_id", orderID).
			Stringer("current_status", order.Status).
			Stringer("new_status", newStatus).
			Msg("service: invalid status transition attempt")
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, order.Status, newStatus)
	}

	if newStatus == StatusDelivered {
		deliveredAt := time.Now().UTC()
		if err := s.repo.MarkDelivered(ctx, orderID, deliveredAt); err != nil {
			return nil, fmt.Errorf("service: failed to mark order delivered: %w", err)
		}
		order.IsDelivered = true
		order.DeliveredAt = &deliveredAt
	} else {
		if err := s.repo.UpdateStatus(ctx, orderID, newStatus); err != nil {
			return nil, fmt.Errorf("service: failed to update order status: %w", err)
		}
	}

	log.Info().
		Stringer("order_id", orderID).
		Stringer("old_status", order.Status).
		Stringer("new_status", newStatus).
		Msg("service: order status updated")
	order.Status = newStatus
	return order, nil
}

func newPage(orders []Order, total, page, limit int) *Page {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	totalPages := (total + limit - 1) / limit
	return &Page{
		Orders:      orders,
		Total:       total,
		TotalPages:  totalPages,
		CurrentPage: page,
	}
}
