package services

import (
	"context"
	"errors"
	"net/http"

	"github.com/rentflow/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeGateway implements PaymentGateway on the Stripe API.
// Calls are made on behalf of the company's connected account.
type StripeGateway struct {
	logger *logrus.Logger
}

// NewStripeGateway creates a Stripe-backed gateway
func NewStripeGateway(logger *logrus.Logger) *StripeGateway {
	return &StripeGateway{logger: logger}
}

func (g *StripeGateway) api(creds GatewayCredentials) *client.API {
	return client.New(creds.SecretKey, nil)
}

func applyParams(p *stripe.Params, ctx context.Context, creds GatewayCredentials, idempotencyKey string) {
	p.Context = ctx
	if creds.AccountID != "" {
		p.SetStripeAccount(creds.AccountID)
	}
	if idempotencyKey != "" {
		p.SetIdempotencyKey(idempotencyKey)
	}
}

// CreateIntent creates a PaymentIntent restricted to card payments
func (g *StripeGateway) CreateIntent(ctx context.Context, creds GatewayCredentials, in CreateIntentParams) (*GatewayIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(in.Amount),
		Currency:           stripe.String(in.Currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	if in.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(in.PaymentMethodID)
	}
	if in.GatewayCustomerID != "" {
		params.Customer = stripe.String(in.GatewayCustomerID)
	}
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	if in.SaveForOffSession {
		params.SetupFutureUsage = stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession))
	}
	if in.ManualCapture {
		params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	}
	if in.ConfirmNow {
		params.Confirm = stripe.Bool(true)
		params.OffSession = stripe.Bool(true)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	applyParams(&params.Params, ctx, creds, in.IdempotencyKey)

	pi, err := g.api(creds).PaymentIntents.New(params)
	if err != nil {
		return nil, g.translateError("create_intent", err)
	}
	return toGatewayIntent(pi), nil
}

// ConfirmIntent confirms an intent with the given payment method
func (g *StripeGateway) ConfirmIntent(ctx context.Context, creds GatewayCredentials, intentID, paymentMethodID, idempotencyKey string) (*GatewayIntent, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	if paymentMethodID != "" {
		params.PaymentMethod = stripe.String(paymentMethodID)
	}
	applyParams(&params.Params, ctx, creds, idempotencyKey)

	pi, err := g.api(creds).PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return nil, g.translateError("confirm_intent", err)
	}
	return toGatewayIntent(pi), nil
}

// CaptureIntent captures a manual-capture intent. A nil amount captures in full.
func (g *StripeGateway) CaptureIntent(ctx context.Context, creds GatewayCredentials, intentID string, amount *int64, idempotencyKey string) (*GatewayIntent, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	if amount != nil {
		params.AmountToCapture = stripe.Int64(*amount)
	}
	applyParams(&params.Params, ctx, creds, idempotencyKey)

	pi, err := g.api(creds).PaymentIntents.Capture(intentID, params)
	if err != nil {
		return nil, g.translateError("capture_intent", err)
	}
	return toGatewayIntent(pi), nil
}

// CancelIntent cancels an uncaptured intent
func (g *StripeGateway) CancelIntent(ctx context.Context, creds GatewayCredentials, intentID, idempotencyKey string) (*GatewayIntent, error) {
	params := &stripe.PaymentIntentCancelParams{}
	applyParams(&params.Params, ctx, creds, idempotencyKey)

	pi, err := g.api(creds).PaymentIntents.Cancel(intentID, params)
	if err != nil {
		return nil, g.translateError("cancel_intent", err)
	}
	return toGatewayIntent(pi), nil
}

// CreateRefund refunds part or all of a succeeded intent
func (g *StripeGateway) CreateRefund(ctx context.Context, creds GatewayCredentials, intentID string, amount int64, reason, idempotencyKey string) (*GatewayRefund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(amount),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if reason != "" {
		params.AddMetadata("reason", reason)
	}
	applyParams(&params.Params, ctx, creds, idempotencyKey)

	r, err := g.api(creds).Refunds.New(params)
	if err != nil {
		return nil, g.translateError("create_refund", err)
	}

	out := &GatewayRefund{
		ID:       r.ID,
		IntentID: intentID,
		Amount:   r.Amount,
		Currency: string(r.Currency),
		Status:   string(r.Status),
	}
	return out, nil
}

// GetIntent fetches the current state of an intent
func (g *StripeGateway) GetIntent(ctx context.Context, creds GatewayCredentials, intentID string) (*GatewayIntent, error) {
	params := &stripe.PaymentIntentParams{}
	applyParams(&params.Params, ctx, creds, "")

	pi, err := g.api(creds).PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, g.translateError("get_intent", err)
	}
	return toGatewayIntent(pi), nil
}

// CreateCustomer creates a customer on the connected account and returns its id
func (g *StripeGateway) CreateCustomer(ctx context.Context, creds GatewayCredentials, in CreateCustomerParams) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(in.Email),
	}
	if in.Name != "" {
		params.Name = stripe.String(in.Name)
	}
	if in.Phone != "" {
		params.Phone = stripe.String(in.Phone)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	applyParams(&params.Params, ctx, creds, in.IdempotencyKey)

	cus, err := g.api(creds).Customers.New(params)
	if err != nil {
		return "", g.translateError("create_customer", err)
	}
	return cus.ID, nil
}

func toGatewayIntent(pi *stripe.PaymentIntent) *GatewayIntent {
	out := &GatewayIntent{
		ID:               pi.ID,
		Status:           IntentStatus(pi.Status),
		Amount:           pi.Amount,
		AmountCapturable: pi.AmountCapturable,
		AmountReceived:   pi.AmountReceived,
		Currency:         string(pi.Currency),
		Metadata:         pi.Metadata,
	}
	if pi.LatestCharge != nil {
		out.LatestChargeID = pi.LatestCharge.ID
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	if pi.LastPaymentError != nil {
		out.FailureCode = string(pi.LastPaymentError.Code)
		if pi.LastPaymentError.DeclineCode != "" {
			out.FailureCode = string(pi.LastPaymentError.DeclineCode)
		}
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	return out
}

// translateError maps Stripe errors onto GatewayError.
// Transport failures and 5xx/429 responses are retryable, card errors are declines.
func (g *StripeGateway) translateError(op string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		g.logger.WithError(err).WithField("operation", op).Warn("Stripe transport error")
		return &models.GatewayError{
			Operation: op,
			Message:   err.Error(),
			Retryable: true,
			Err:       err,
		}
	}

	gwErr := &models.GatewayError{
		Operation: op,
		Code:      string(stripeErr.Code),
		Message:   stripeErr.Msg,
		Declined:  stripeErr.Type == stripe.ErrorTypeCard,
		Retryable: stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		Err: err,
	}
	if stripeErr.DeclineCode != "" {
		gwErr.Code = string(stripeErr.DeclineCode)
	}

	g.logger.WithFields(logrus.Fields{
		"operation":   op,
		"stripe_code": gwErr.Code,
		"http_status": stripeErr.HTTPStatusCode,
		"declined":    gwErr.Declined,
	}).Warn("Stripe API error")

	return gwErr
}
