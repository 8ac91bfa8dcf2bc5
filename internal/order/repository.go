package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var ErrOrderNotFound = errors.New("order not found")

type Repository interface {
	Create(ctx context.Context, order *Order) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]Order, int, error)
	ListAll(ctx context.Context, page, limit int) ([]Order, int, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus Status) error
	MarkDelivered(ctx context.Context, orderID uuid.UUID, deliveredAt time.Time) error
	// MarkPaid applies the payment-confirmed transition as a single
	// conditional update. It returns true when this call performed the
	// transition and false when the order was already paid.
	MarkPaid(ctx context.Context, orderID uuid.UUID, paymentID string, paidAt time.Time) (bool, error)
	// RecordPaymentEvent persists a processor event id for auditing.
	// It returns false when the event id was seen before (webhook replay).
	RecordPaymentEvent(ctx context.Context, eventID string, orderID uuid.UUID, eventType string) (bool, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, orderInput *Order) (orderID uuid.UUID, err error) {
	finalOrderID := orderInput.ID
	if finalOrderID == uuid.Nil {
		genID, genErr := uuid.NewV4()
		if genErr != nil {
			return uuid.Nil, fmt.Errorf("repository: failed to generate order ID: %w", genErr)
		}
		finalOrderID = genID
	}
	orderInput.ID = finalOrderID

	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", finalOrderID).Msg("repository: failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
			}
		}
	}()

	now := time.Now().UTC()
	orderInput.CreatedAt = now
	orderInput.UpdatedAt = now

	queryOrder := `
		INSERT INTO orders (id, user_id, status, total_amount, is_paid, is_delivered,
			ship_name, ship_street, ship_city, ship_state, ship_postal_code, ship_country,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = tx.Exec(ctx, queryOrder,
		finalOrderID,
		orderInput.UserID,
		string(orderInput.Status),
		orderInput.TotalAmount,
		orderInput.IsPaid,
		orderInput.IsDelivered,
		orderInput.ShippingAddress.Name,
		orderInput.ShippingAddress.Street,
		orderInput.ShippingAddress.City,
		orderInput.ShippingAddress.State,
		orderInput.ShippingAddress.PostalCode,
		orderInput.ShippingAddress.Country,
		now,
		now,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (id, order_id, product_id, name, price, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for i := range orderInput.Items {
		item := &orderInput.Items[i]

		itemID, genErr := uuid.NewV4()
		if genErr != nil {
			return uuid.Nil, fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
		}
		item.ID = itemID
		item.OrderID = finalOrderID
		item.CreatedAt = now

		_, err = tx.Exec(ctx, queryItem,
			item.ID,
			finalOrderID,
			item.ProductID,
			item.Name,
			item.Price,
			item.Quantity,
			now,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("repository: failed to insert order item for order %s: %w", finalOrderID, err)
		}
	}
	return finalOrderID, nil
}

const orderColumns = `
	id, user_id, status, total_amount, is_paid, is_delivered, delivered_at,
	payment_id, payment_status, paid_at,
	ship_name, ship_street, ship_city, ship_state, ship_postal_code, ship_country,
	created_at, updated_at
`

func scanOrder(row pgx.Row, o *Order) error {
	var paymentID, paymentStatus *string
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Status,
		&o.TotalAmount,
		&o.IsPaid,
		&o.IsDelivered,
		&o.DeliveredAt,
		&paymentID,
		&paymentStatus,
		&o.PaymentInfo.PaidAt,
		&o.ShippingAddress.Name,
		&o.ShippingAddress.Street,
		&o.ShippingAddress.City,
		&o.ShippingAddress.State,
		&o.ShippingAddress.PostalCode,
		&o.ShippingAddress.Country,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if paymentID != nil {
		o.PaymentInfo.PaymentID = *paymentID
	}
	if paymentStatus != nil {
		o.PaymentInfo.PaymentStatus = *paymentStatus
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	queryOrder := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var order Order
	err := scanOrder(r.db.QueryRow(ctx, queryOrder, orderID), &order)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", orderID, err)
	}

	queryItems := `
		SELECT id, order_id, product_id, name, price, quantity, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, queryItems, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order id %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var item Item
		err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name, &item.Price, &item.Quantity, &item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order id %s: %w", orderID, err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for order id %s: %w", orderID, err)
	}
	order.Items = items

	return &order, nil
}

func (r *postgresRepository) ListByUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]Order, int, error) {
	return r.list(ctx, `WHERE user_id = $1`, []any{userID}, page, limit)
}

func (r *postgresRepository) ListAll(ctx context.Context, page, limit int) ([]Order, int, error) {
	return r.list(ctx, ``, nil, page, limit)
}

func (r *postgresRepository) list(ctx context.Context, where string, args []any, page, limit int) ([]Order, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	offset := (page - 1) * limit

	var total int
	countQuery := `SELECT count(*) FROM orders ` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository: failed to count orders: %w", err)
	}

	listQuery := fmt.Sprintf(`SELECT %s FROM orders %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)+1, len(args)+2)
	listArgs := append(append([]any{}, args...), limit, offset)

	rows, err := r.db.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID
	for rows.Next() {
		var order Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, 0, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		order.Items = make([]Item, 0)
		ordersMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository: error iterating orders: %w", err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, total, nil
	}

	itemsQuery := `
		SELECT id, order_id, product_id, name, price, quantity, created_at
		FROM order_items
		WHERE order_id = ANY($1)
	`
	itemRows, err := r.db.Query(ctx, itemsQuery, orderIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item Item
		err := itemRows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name, &item.Price, &item.Quantity, &item.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		if order, ok := ordersMap[item.OrderID]; ok {
			order.Items = append(order.Items, item)
		}
	}
	if err = itemRows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository: error iterating order items: %w", err)
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *ordersMap[id])
	}
	return result, total, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus Status) error {
	query := `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`

	cmdTag, err := r.db.Exec(ctx, query, string(newStatus), time.Now().UTC(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Str("new_status", string(newStatus)).Msg("repository: failed to update order status")
		return fmt.Errorf("repository: failed to update order status %s: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) MarkDelivered(ctx context.Context, orderID uuid.UUID, deliveredAt time.Time) error {
	query := `
		UPDATE orders
		SET status = $1, is_delivered = TRUE, delivered_at = $2, updated_at = $3
		WHERE id = $4
	`
	cmdTag, err := r.db.Exec(ctx, query, string(StatusDelivered), deliveredAt, time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to mark order %s delivered: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkPaid is the convergence point for the webhook and the client-triggered
// confirmation. The WHERE clause guarantees exactly one caller wins, no
// matter how the two paths interleave; paid_at is only ever written by the
// winner.
func (r *postgresRepository) MarkPaid(ctx context.Context, orderID uuid.UUID, paymentID string, paidAt time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET status = CASE WHEN status = 'pending' THEN 'processing' ELSE status END,
		    is_paid = TRUE,
		    payment_id = COALESCE(NULLIF($2, ''), payment_id),
		    payment_status = 'completed',
		    paid_at = $3,
		    updated_at = $4
		WHERE id = $1 AND is_paid = FALSE
	`
	cmdTag, err := r.db.Exec(ctx, query, orderID, paymentID, paidAt, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("repository: failed to mark order %s paid: %w", orderID, err)
	}
	if cmdTag.RowsAffected() > 0 {
		return true, nil
	}

	// Lost the race or replayed: distinguish "already paid" from "no such order".
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("repository: failed to check order %s: %w", orderID, err)
	}
	if !exists {
		return false, ErrOrderNotFound
	}
	return false, nil
}

func (r *postgresRepository) RecordPaymentEvent(ctx context.Context, eventID string, orderID uuid.UUID, eventType string) (bool, error) {
	query := `
		INSERT INTO payment_events (event_id, order_id, event_type, processed_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Exec(ctx, query, eventID, orderID, eventType, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("repository: failed to record payment event %s: %w", eventID, err)
	}
	return true, nil
}
