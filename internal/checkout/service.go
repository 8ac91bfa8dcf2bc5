// Package checkout turns a validated cart into a pending order plus a
// processor-hosted payment session.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shoptech/shoptech/internal/order"
	"github.com/shoptech/shoptech/internal/payment"
)

var (
	ErrEmptyCart   = errors.New("no items in cart")
	ErrInvalidCart = errors.New("invalid cart line")
)

// CartLine is a client-submitted cart entry. UnitAmount is in minor currency
// units (cents); the client never supplies a total.
type CartLine struct {
	ProductID  uuid.UUID `json:"product_id"`
	Name       string    `json:"name"`
	UnitAmount int64     `json:"unit_amount"`
	Quantity   int       `json:"quantity"`
	ImageURL   string    `json:"image_url,omitempty"`
}

// SessionCreator registers hosted payment sessions with the processor.
type SessionCreator interface {
	CreateSession(ctx context.Context, params payment.SessionParams) (*payment.Session, error)
}

type Service struct {
	repo        order.Repository
	processor   SessionCreator
	frontendURL string
	currency    string
}

func NewService(repo order.Repository, processor SessionCreator, frontendURL string) *Service {
	return &Service{
		repo:        repo,
		processor:   processor,
		frontendURL: frontendURL,
		currency:    "usd",
	}
}

// CreateSession validates the cart, persists a pending order and asks the
// processor for a hosted session. The order id rides along as session
// metadata and as a success-URL query parameter; that single key is the only
// correlation between the two systems.
//
// A processor failure leaves the pending order in place: an abandoned
// pending order is harmless, a rolled-back paid one is not.
func (s *Service) CreateSession(ctx context.Context, lines []CartLine, ownerID *uuid.UUID) (string, error) {
	if len(lines) == 0 {
		return "", ErrEmptyCart
	}

	items := make([]order.Item, 0, len(lines))
	lineItems := make([]payment.LineItem, 0, len(lines))
	var totalMinor int64

	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return "", fmt.Errorf("%w: product id is required", ErrInvalidCart)
		}
		if line.Name == "" {
			return "", fmt.Errorf("%w: name is required for product %s", ErrInvalidCart, line.ProductID)
		}
		if line.UnitAmount <= 0 {
			return "", fmt.Errorf("%w: unit amount for product %s must be positive", ErrInvalidCart, line.ProductID)
		}
		if line.Quantity <= 0 {
			return "", fmt.Errorf("%w: quantity for product %s must be positive", ErrInvalidCart, line.ProductID)
		}

		totalMinor += line.UnitAmount * int64(line.Quantity)
		items = append(items, order.Item{
			ProductID: line.ProductID,
			Name:      line.Name,
			Price:     float64(line.UnitAmount) / 100,
			Quantity:  line.Quantity,
		})
		lineItems = append(lineItems, payment.LineItem{
			Name:       line.Name,
			UnitAmount: line.UnitAmount,
			Quantity:   line.Quantity,
			Currency:   s.currency,
		})
	}

	newOrder := &order.Order{
		UserID:          ownerID,
		Items:           items,
		TotalAmount:     float64(totalMinor) / 100,
		Status:          order.StatusPending,
		ShippingAddress: order.PlaceholderAddress(),
	}

	orderID, err := s.repo.Create(ctx, newOrder)
	if err != nil {
		return "", fmt.Errorf("checkout: failed to create pending order: %w", err)
	}

	if ownerID != nil {
		log.Info().Stringer("order_id", orderID).Stringer("user_id", *ownerID).Msg("checkout: pending order created")
	} else {
		log.Info().Stringer("order_id", orderID).Msg("checkout: pending order created for guest")
	}

	session, err := s.processor.CreateSession(ctx, payment.SessionParams{
		LineItems:  lineItems,
		SuccessURL: fmt.Sprintf("%s/success?orderId=%s", s.frontendURL, orderID),
		CancelURL:  s.frontendURL + "/cart",
		Metadata:   map[string]string{"order_id": orderID.String()},
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("checkout: failed to create processor session, order left pending")
		return "", err
	}

	return session.URL, nil
}
