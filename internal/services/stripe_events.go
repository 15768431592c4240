package services

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// Gateway event types handled by the reconciler
const (
	EventPaymentSucceeded         = "payment_intent.succeeded"
	EventPaymentFailed            = "payment_intent.payment_failed"
	EventPaymentCapturableUpdated = "payment_intent.amount_capturable_updated"
	EventPaymentCanceled          = "payment_intent.canceled"
	EventChargeRefunded           = "charge.refunded"
	EventCheckoutCompleted        = "checkout.session.completed"
	EventAccountUpdated           = "account.updated"
)

// GatewayRefundInfo is one refund carried on a refunded charge
type GatewayRefundInfo struct {
	ID     string
	Amount int64
}

// GatewayEvent is a verified webhook event reduced to the fields the
// reconciler needs. Amounts are in minor units.
type GatewayEvent struct {
	ID       string
	Type     string
	Account  string
	IntentID string
	ChargeID string
	Status   string
	Currency string

	Amount           int64
	AmountCapturable int64
	AmountReceived   int64
	AmountRefunded   int64
	Refunds          []GatewayRefundInfo

	PaymentMethodID string
	FailureCode     string
	FailureMessage  string
	Metadata        map[string]string

	// checkout sessions
	SessionPaid bool

	// connected accounts
	ChargesEnabled bool
}

// ParseStripeEvent verifies the signature and decodes the event payload
func ParseStripeEvent(payload []byte, signature, secret string) (*GatewayEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("invalid webhook signature: %w", err)
	}
	return decodeStripeEvent(event)
}

func decodeStripeEvent(event stripe.Event) (*GatewayEvent, error) {
	out := &GatewayEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Account: event.Account,
	}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentCapturableUpdated, EventPaymentCanceled:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent: %w", err)
		}
		intent := toGatewayIntent(&pi)
		out.IntentID = intent.ID
		out.ChargeID = intent.LatestChargeID
		out.Status = string(intent.Status)
		out.Currency = intent.Currency
		out.Amount = intent.Amount
		out.AmountCapturable = intent.AmountCapturable
		out.AmountReceived = intent.AmountReceived
		out.PaymentMethodID = intent.PaymentMethodID
		out.FailureCode = intent.FailureCode
		out.FailureMessage = intent.FailureMessage
		out.Metadata = intent.Metadata

	case EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("failed to decode charge: %w", err)
		}
		out.ChargeID = ch.ID
		out.Currency = string(ch.Currency)
		out.Amount = ch.Amount
		out.AmountRefunded = ch.AmountRefunded
		out.Metadata = ch.Metadata
		if ch.PaymentIntent != nil {
			out.IntentID = ch.PaymentIntent.ID
		}
		if ch.Refunds != nil {
			for _, r := range ch.Refunds.Data {
				out.Refunds = append(out.Refunds, GatewayRefundInfo{ID: r.ID, Amount: r.Amount})
			}
		}

	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		out.Currency = string(session.Currency)
		out.Amount = session.AmountTotal
		out.AmountReceived = session.AmountTotal
		out.Metadata = session.Metadata
		out.SessionPaid = session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
		if session.PaymentIntent != nil {
			out.IntentID = session.PaymentIntent.ID
		}

	case EventAccountUpdated:
		var acct stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
			return nil, fmt.Errorf("failed to decode account: %w", err)
		}
		out.Account = acct.ID
		out.ChargesEnabled = acct.ChargesEnabled
	}

	return out, nil
}
