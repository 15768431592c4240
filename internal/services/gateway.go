package services

import (
	"context"
)

// IntentStatus is the gateway-neutral status of a payment intent
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// GatewayCredentials selects the API key and connected account for a call
type GatewayCredentials struct {
	SecretKey string
	AccountID string
}

// CreateIntentParams describes a new payment intent. Amount is in minor units.
type CreateIntentParams struct {
	Amount            int64
	Currency          string
	PaymentMethodID   string
	GatewayCustomerID string
	Description       string
	ManualCapture     bool
	// SaveForOffSession attaches the payment method to the customer for later holds
	SaveForOffSession bool
	// ConfirmNow creates and confirms in a single call (off-session holds)
	ConfirmNow     bool
	Metadata       map[string]string
	IdempotencyKey string
}

// GatewayIntent is the gateway's view of a payment intent. Amounts are minor units.
type GatewayIntent struct {
	ID               string
	Status           IntentStatus
	Amount           int64
	AmountCapturable int64
	AmountReceived   int64
	Currency         string
	LatestChargeID   string
	PaymentMethodID  string
	CustomerID       string
	FailureCode      string
	FailureMessage   string
	Metadata         map[string]string
}

// GatewayRefund is a refund as reported by the gateway
type GatewayRefund struct {
	ID       string
	IntentID string
	Amount   int64
	Currency string
	Status   string
}

// CreateCustomerParams describes a gateway customer on the company's account
type CreateCustomerParams struct {
	Email          string
	Name           string
	Phone          string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentGateway is the raw payment provider API. Implementations return
// *models.GatewayError for every provider-side failure.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, creds GatewayCredentials, params CreateIntentParams) (*GatewayIntent, error)
	ConfirmIntent(ctx context.Context, creds GatewayCredentials, intentID, paymentMethodID, idempotencyKey string) (*GatewayIntent, error)
	CaptureIntent(ctx context.Context, creds GatewayCredentials, intentID string, amount *int64, idempotencyKey string) (*GatewayIntent, error)
	CancelIntent(ctx context.Context, creds GatewayCredentials, intentID, idempotencyKey string) (*GatewayIntent, error)
	CreateRefund(ctx context.Context, creds GatewayCredentials, intentID string, amount int64, reason, idempotencyKey string) (*GatewayRefund, error)
	GetIntent(ctx context.Context, creds GatewayCredentials, intentID string) (*GatewayIntent, error)
	CreateCustomer(ctx context.Context, creds GatewayCredentials, params CreateCustomerParams) (string, error)
}
