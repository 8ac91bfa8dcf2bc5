package order

import (
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the known order statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Item is a line of an order. Name and Price are snapshots taken at
// order-creation time and are never recomputed from the catalog.
type Item struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OrderID   uuid.UUID `json:"order_id" db:"order_id"`
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	Name      string    `json:"name" db:"name"`
	Price     float64   `json:"price" db:"price"`
	Quantity  int       `json:"quantity" db:"quantity"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type PaymentInfo struct {
	PaymentID     string     `json:"payment_id,omitempty"`
	PaymentStatus string     `json:"payment_status,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

type ShippingAddress struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// PlaceholderAddress marks an order created at checkout time, before the
// buyer has supplied a delivery destination.
func PlaceholderAddress() ShippingAddress {
	return ShippingAddress{
		Name:       "Pending",
		Street:     "Pending",
		City:       "Pending",
		State:      "Pending",
		PostalCode: "Pending",
		Country:    "Pending",
	}
}

// Order is a persisted purchase intent. UserID is nil for guest checkout;
// a guest order never resolves to an account.
type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          *uuid.UUID      `json:"user_id,omitempty"`
	Items           []Item          `json:"items"`
	TotalAmount     float64         `json:"total_amount"`
	Status          Status          `json:"status"`
	IsPaid          bool            `json:"is_paid"`
	IsDelivered     bool            `json:"is_delivered"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	PaymentInfo     PaymentInfo     `json:"payment_info"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OwnedBy reports whether the order belongs to the given user. Guest orders
// belong to nobody.
func (o *Order) OwnedBy(userID uuid.UUID) bool {
	return o.UserID != nil && *o.UserID == userID
}
