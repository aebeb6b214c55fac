package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys for gallery mutation events.
const (
	ItemAdded         = "gallery.item.added"
	ItemDeleted       = "gallery.item.deleted"
	VisibilityChanged = "gallery.item.visibility"
)

const exchangeName = "gallery.events"

// ItemEvent is the payload published for gallery mutations.
type ItemEvent struct {
	JobID         string `json:"jobId"`
	WalletAddress string `json:"walletAddress,omitempty"`
	IsPublic      bool   `json:"isPublic,omitempty"`
	OccurredAt    int64  `json:"occurredAt"`
}

// Publisher emits gallery mutation events to an AMQP topic exchange. A nil
// publisher drops everything, so event publishing stays optional.
type Publisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher connects to the broker and declares the exchange.
func NewPublisher(amqpURL string) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	slog.Info("event publisher connected", "exchange", exchangeName)
	return &Publisher{conn: conn, ch: ch}, nil
}

// Publish emits one event. Failures are logged, not returned; event delivery
// must never block a gallery mutation.
func (p *Publisher) Publish(ctx context.Context, routingKey string, event ItemEvent) {
	if p == nil || p.ch == nil {
		return
	}
	if event.OccurredAt == 0 {
		event.OccurredAt = time.Now().UnixMilli()
	}
	body, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal event", "key", routingKey, "err", err)
		return
	}
	err = p.ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		slog.Error("publish event", "key", routingKey, "err", err)
	}
}

// Close shuts down the channel and connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
