package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/shoptech/shoptech/internal/order"
)

// orderConfirmationEvent is the message the mailer consumes to render and
// send the confirmation email.
type orderConfirmationEvent struct {
	UserID      uuid.UUID    `json:"user_id"`
	OrderID     uuid.UUID    `json:"order_id"`
	TotalAmount float64      `json:"total_amount"`
	Items       []order.Item `json:"items"`
	PaidAt      *time.Time   `json:"paid_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

func (n *KafkaNotifier) OrderConfirmation(ctx context.Context, userID uuid.UUID, o *order.Order) error {
	event := orderConfirmationEvent{
		UserID:      userID,
		OrderID:     o.ID,
		TotalAmount: o.TotalAmount,
		Items:       o.Items,
		PaidAt:      o.PaymentInfo.PaidAt,
		CreatedAt:   o.CreatedAt,
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: failed to encode order confirmation: %w", err)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.ID.String()),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("notify: failed to publish order confirmation: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
