package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Routing keys for booking lifecycle events
const (
	EventBookingConfirmed     = "booking.confirmed"
	EventBookingStatusChanged = "booking.status_changed"
	EventDepositSettled       = "deposit.settled"
	EventBookingRefunded      = "booking.refunded"
)

// DomainEvent is the envelope published for every lifecycle event
type DomainEvent struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	BookingID  uuid.UUID              `json:"booking_id"`
	CompanyID  uuid.UUID              `json:"company_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// NewDomainEvent builds an event envelope
func NewDomainEvent(eventType string, bookingID, companyID uuid.UUID, data map[string]interface{}) DomainEvent {
	return DomainEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		BookingID:  bookingID,
		CompanyID:  companyID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// EventPublisher emits domain events. Publishing is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	Close() error
}

// RabbitMQPublisher publishes events to a topic exchange
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *logrus.Logger
	mu       sync.Mutex
}

// NewRabbitMQPublisher dials the broker and declares the exchange
func NewRabbitMQPublisher(uri, exchange string, logger *logrus.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create a channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &RabbitMQPublisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Publish sends the event with its type as routing key
func (p *RabbitMQPublisher) Publish(ctx context.Context, event DomainEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		event.Type, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	return nil
}

// Close closes the channel and connection
func (p *RabbitMQPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NoopPublisher drops events; used when RABBITMQ_URL is unset
type NoopPublisher struct {
	logger *logrus.Logger
}

// NewNoopPublisher creates a publisher that only logs
func NewNoopPublisher(logger *logrus.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(ctx context.Context, event DomainEvent) error {
	p.logger.WithFields(logrus.Fields{
		"event_type": event.Type,
		"booking_id": event.BookingID,
	}).Debug("Event publishing disabled")
	return nil
}

func (p *NoopPublisher) Close() error { return nil }
