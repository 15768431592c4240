package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventIntentCreated     PaymentEventType = "intent_created"
	PaymentEventIntentSucceeded   PaymentEventType = "intent_succeeded"
	PaymentEventIntentFailed      PaymentEventType = "intent_failed"
	PaymentEventIntentCanceled    PaymentEventType = "intent_canceled"
	PaymentEventDepositAuthorized PaymentEventType = "deposit_authorized"
	PaymentEventDepositCaptured   PaymentEventType = "deposit_captured"
	PaymentEventDepositReleased   PaymentEventType = "deposit_released"
	PaymentEventRefundCompleted   PaymentEventType = "refund_completed"
	PaymentEventBookingConfirmed  PaymentEventType = "booking_confirmed"
	PaymentEventWebhookReceived   PaymentEventType = "webhook_received"
	PaymentEventAccountUpdated    PaymentEventType = "account_updated"
	PaymentEventCustomerCreated   PaymentEventType = "customer_created"
	PaymentEventError             PaymentEventType = "error"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend       PaymentEventSource = "backend"
	PaymentSourceStripeWebhook PaymentEventSource = "stripe_webhook"
	PaymentSourceStripeAPI     PaymentEventSource = "stripe_api"
	PaymentSourceStaff         PaymentEventSource = "staff"
	PaymentSourceScheduler     PaymentEventSource = "scheduler"
)

// PaymentAudit represents an immutable audit log entry for payment events
type PaymentAudit struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	BookingID       *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	PaymentIntentID *string    `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	GatewayEventID  *string    `json:"gateway_event_id,omitempty" db:"gateway_event_id"`

	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	Amount        *float64 `json:"amount,omitempty" db:"amount"`
	Currency      *string  `json:"currency,omitempty" db:"currency"`
	PaymentStatus *string  `json:"payment_status,omitempty" db:"payment_status"`

	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
	ErrorCode    *string `json:"error_code,omitempty" db:"error_code"`

	IsDuplicate    bool    `json:"is_duplicate" db:"is_duplicate"`
	IdempotencyKey *string `json:"idempotency_key,omitempty" db:"idempotency_key"`

	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`
	Metadata  JSONB   `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetBooking sets the booking the event belongs to
func (pa *PaymentAudit) SetBooking(bookingID uuid.UUID) *PaymentAudit {
	pa.BookingID = &bookingID
	return pa
}

// SetPaymentIntent sets the Stripe PaymentIntent id
func (pa *PaymentAudit) SetPaymentIntent(intentID string) *PaymentAudit {
	if intentID != "" {
		pa.PaymentIntentID = &intentID
	}
	return pa
}

// SetGatewayEvent sets the Stripe event id
func (pa *PaymentAudit) SetGatewayEvent(eventID string) *PaymentAudit {
	if eventID != "" {
		pa.GatewayEventID = &eventID
	}
	return pa
}

// SetAmount sets the amount in major units
func (pa *PaymentAudit) SetAmount(amount float64, currency string) *PaymentAudit {
	pa.Amount = &amount
	pa.Currency = &currency
	return pa
}

// SetPaymentStatus sets the payment status reported by the gateway
func (pa *PaymentAudit) SetPaymentStatus(status string) *PaymentAudit {
	if status != "" {
		pa.PaymentStatus = &status
	}
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string, code string) *PaymentAudit {
	pa.ErrorMessage = &message
	if code != "" {
		pa.ErrorCode = &code
	}
	return pa
}

// SetIdempotencyKey sets the key sent with the gateway request
func (pa *PaymentAudit) SetIdempotencyKey(key string) *PaymentAudit {
	pa.IdempotencyKey = &key
	return pa
}

// SetRequestInfo records where the request came from
func (pa *PaymentAudit) SetRequestInfo(ip, userAgent string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	return pa
}

// MarkDuplicate flags a replayed webhook delivery
func (pa *PaymentAudit) MarkDuplicate() *PaymentAudit {
	pa.IsDuplicate = true
	return pa
}
