package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// PaymentOrchestrator wraps gateway calls behind idempotent, retryable
// operations that speak major-unit amounts.
type PaymentOrchestrator struct {
	gateway     PaymentGateway
	credentials CredentialResolver
	audit       AuditLog
	metrics     *Metrics
	logger      *logrus.Logger

	maxRetries int
	backoff    time.Duration
}

// NewPaymentOrchestrator creates a new orchestrator
func NewPaymentOrchestrator(
	gateway PaymentGateway,
	credentials CredentialResolver,
	audit AuditLog,
	metrics *Metrics,
	logger *logrus.Logger,
	maxRetries int,
	backoff time.Duration,
) *PaymentOrchestrator {
	return &PaymentOrchestrator{
		gateway:     gateway,
		credentials: credentials,
		audit:       audit,
		metrics:     metrics,
		logger:      logger,
		maxRetries:  maxRetries,
		backoff:     backoff,
	}
}

// IntentRef identifies an existing gateway intent
type IntentRef struct {
	CompanyID uuid.UUID
	BookingID uuid.UUID
	IntentID  string
	Currency  string
}

// ChargeRequest is an immediate charge of a customer's payment method
type ChargeRequest struct {
	CompanyID         uuid.UUID
	BookingID         uuid.UUID
	Amount            float64
	Currency          string
	PaymentMethodID   string
	GatewayCustomerID string
	// SaveForOffSession keeps the card on the customer for the deposit hold
	SaveForOffSession bool
	Description       string
	Metadata          map[string]string
	IdempotencyKey    string
}

// ChargeResult describes a succeeded charge
type ChargeResult struct {
	IntentID        string
	ChargeID        string
	PaymentMethodID string
	Amount          float64
	Currency        string
}

// HoldRequest is a manual-capture authorization
type HoldRequest struct {
	CompanyID         uuid.UUID
	BookingID         uuid.UUID
	Amount            float64
	Currency          string
	PaymentMethodID   string
	GatewayCustomerID string
	Metadata          map[string]string
	IdempotencyKey    string
}

// HoldResult describes an authorized hold
type HoldResult struct {
	IntentID string
	Amount   float64
}

// CaptureResult reports the settled state of a hold after Capture
type CaptureResult struct {
	IntentID       string
	AmountCaptured float64
	// Canceled is set when the hold had already been released at the gateway
	Canceled bool
}

// CancelResult reports the settled state of a hold after Cancel
type CancelResult struct {
	IntentID string
	// Captured is set when the hold had already been captured at the gateway
	Captured       bool
	AmountCaptured float64
}

// RefundResult carries the gateway's refunded amount, which is authoritative
type RefundResult struct {
	RefundID string
	Amount   float64
	Currency string
}

// CreateAndConfirmPayment creates an intent and confirms it. Only a
// succeeded intent is a success; anything else is a payment_failed error.
func (o *PaymentOrchestrator) CreateAndConfirmPayment(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Amount <= 0 {
		return nil, models.NewValidationError(models.CodeInvalidAmount, "charge amount must be positive")
	}
	if req.PaymentMethodID == "" {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "payment method is required")
	}

	creds, err := o.credentials.ResolveGatewayCredentials(ctx, req.CompanyID)
	if err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = "charge-" + uuid.NewString()
	}

	var intent *GatewayIntent
	err = o.call(ctx, "create_intent", func() error {
		var callErr error
		intent, callErr = o.gateway.CreateIntent(ctx, creds, CreateIntentParams{
			Amount:            ToMinorUnits(req.Amount, req.Currency),
			Currency:          strings.ToLower(req.Currency),
			PaymentMethodID:   req.PaymentMethodID,
			GatewayCustomerID: req.GatewayCustomerID,
			SaveForOffSession: req.SaveForOffSession && req.GatewayCustomerID != "",
			Description:       req.Description,
			Metadata:          req.Metadata,
			IdempotencyKey:    key + ":create",
		})
		return callErr
	})
	if err != nil {
		o.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventError, models.PaymentSourceStripeAPI).
			SetBooking(req.BookingID).
			SetAmount(req.Amount, req.Currency).
			SetIdempotencyKey(key).
			SetError(err.Error(), gatewayCode(err)))
		return nil, err
	}

	o.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventIntentCreated, models.PaymentSourceStripeAPI).
		SetBooking(req.BookingID).
		SetPaymentIntent(intent.ID).
		SetAmount(req.Amount, req.Currency).
		SetPaymentStatus(string(intent.Status)).
		SetIdempotencyKey(key))

	if intent.Status != IntentSucceeded {
		err = o.call(ctx, "confirm_intent", func() error {
			var callErr error
			intent, callErr = o.gateway.ConfirmIntent(ctx, creds, intent.ID, req.PaymentMethodID, key+":confirm")
			return callErr
		})
		if err != nil {
			o.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventIntentFailed, models.PaymentSourceStripeAPI).
				SetBooking(req.BookingID).
				SetAmount(req.Amount, req.Currency).
				SetError(err.Error(), gatewayCode(err)))
			return nil, err
		}
	}

	if intent.Status != IntentSucceeded {
		reason := intent.FailureMessage
		if reason == "" {
			reason = fmt.Sprintf("payment ended in status %s", intent.Status)
		}
		o.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventIntentFailed, models.PaymentSourceStripeAPI).
			SetBooking(req.BookingID).
			SetPaymentIntent(intent.ID).
			SetPaymentStatus(string(intent.Status)).
			SetError(reason, intent.FailureCode))
		return nil, &models.GatewayError{
			Operation: "confirm_intent",
			Code:      models.CodePaymentFailed,
			Message:   reason,
			Declined:  true,
		}
	}

	o.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventIntentSucceeded, models.PaymentSourceStripeAPI).
		SetBooking(req.BookingID).
		SetPaymentIntent(intent.ID).
		SetAmount(FromMinorUnits(intent.AmountReceived, req.Currency), req.Currency).
		SetPaymentStatus(string(intent.Status)))

	paymentMethod := intent.PaymentMethodID
	if paymentMethod == "" {
		paymentMethod = req.PaymentMethodID
	}
	return &ChargeResult{
		IntentID:        intent.ID,
		ChargeID:        intent.LatestChargeID,
		PaymentMethodID: paymentMethod,
		Amount:          FromMinorUnits(intent.AmountReceived, req.Currency),
		Currency:        req.Currency,
	}, nil
}

// CreateCustomer creates the gateway customer a card is saved against.
// The idempotency key is derived from the local customer id, so a retried
// exchange does not create a second gateway customer.
func (o *PaymentOrchestrator) CreateCustomer(ctx context.Context, companyID uuid.UUID, customer *models.Customer) (string, error) {
	creds, err := o.credentials.ResolveGatewayCredentials(ctx, companyID)
	if err != nil {
		return "", err
	}

	params := CreateCustomerParams{
		Email:          customer.Email,
		Name:           customer.FullName(),
		Metadata:       map[string]string{"customer_id": customer.ID.String()},
		IdempotencyKey: "customer-" + customer.ID.String(),
	}
	if customer.Phone != nil {
		params.Phone = *customer.Phone
	}

	var gatewayID string
	err = o.call(ctx, "create_customer", func() error {
		var callErr error
		gatewayID, callErr = o.gateway.CreateCustomer(ctx, creds, params)
		return callErr
	})
	if err != nil {
		o.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventError, models.PaymentSourceStripeAPI).
			SetIdempotencyKey(params.IdempotencyKey).
			SetError(err.Error(), gatewayCode(err)))
		return "", err
	}

	audit := models.NewPaymentAudit(models.PaymentEventCustomerCreated, models.PaymentSourceStripeAPI).
		SetIdempotencyKey(params.IdempotencyKey)
	audit.Metadata = models.JSONB{"customer_id": customer.ID.String(), "gateway_customer_id": gatewayID}
	o.logAudit(ctx, audit)

	return gatewayID, nil
}

// AuthorizeHold reserves funds with a manual-capture intent. Used for deposits.
func (o *PaymentOrchestrator) AuthorizeHold(ctx context.Context, req HoldRequest) (*HoldResult, error) {
	if req.Amount <= 0 {
		return nil, models.NewValidationError(models.CodeInvalidAmount, "hold amount must be positive")
	}

	creds, err := o.credentials.ResolveGatewayCredentials(ctx, req.CompanyID)
	if err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = "hold-" + uuid.NewString()
	}

	var intent *GatewayIntent
	err = o.call(ctx, "authorize_hold", func() error {
		var callErr error
		intent, callErr = o.gateway.CreateIntent(ctx, creds, CreateIntentParams{
			Amount:            ToMinorUnits(req.Amount, req.Currency),
			Currency:          strings.ToLower(req.Currency),
			PaymentMethodID:   req.PaymentMethodID,
			GatewayCustomerID: req.GatewayCustomerID,
			Description:       "Security deposit hold",
			ManualCapture:     true,
			ConfirmNow:        true,
			Metadata:          req.Metadata,
			IdempotencyKey:    key,
		})
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if intent.Status != IntentRequiresCapture {
		return nil, &models.GatewayError{
			Operation: "authorize_hold",
			Code:      models.CodePaymentFailed,
			Message:   fmt.Sprintf("hold ended in status %s: %s", intent.Status, intent.FailureMessage),
			Declined:  true,
		}
	}

	o.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventDepositAuthorized, models.PaymentSourceStripeAPI).
		SetBooking(req.BookingID).
		SetPaymentIntent(intent.ID).
		SetAmount(req.Amount, req.Currency).
		SetIdempotencyKey(key))

	return &HoldResult{
		IntentID: intent.ID,
		Amount:   FromMinorUnits(intent.AmountCapturable, req.Currency),
	}, nil
}

// Capture captures a hold in full (amount nil) or partially. Calling it on
// an intent that is already captured returns the captured amount.
func (o *PaymentOrchestrator) Capture(ctx context.Context, ref IntentRef, amount *float64) (*CaptureResult, error) {
	creds, err := o.credentials.ResolveGatewayCredentials(ctx, ref.CompanyID)
	if err != nil {
		return nil, err
	}

	current, err := o.getIntent(ctx, creds, ref.IntentID)
	if err != nil {
		return nil, err
	}

	switch current.Status {
	case IntentSucceeded:
		return &CaptureResult{
			IntentID:       current.ID,
			AmountCaptured: FromMinorUnits(current.AmountReceived, ref.Currency),
		}, nil
	case IntentCanceled:
		return &CaptureResult{IntentID: current.ID, Canceled: true}, nil
	case IntentRequiresCapture:
	default:
		return nil, &models.GatewayError{
			Operation: "capture_intent",
			Code:      models.CodeDepositNotAuthorized,
			Message:   fmt.Sprintf("intent %s is %s and cannot be captured", current.ID, current.Status),
		}
	}

	var minor *int64
	if amount != nil {
		if *amount <= 0 {
			return nil, models.NewValidationError(models.CodeInvalidAmount, "capture amount must be positive")
		}
		m := ToMinorUnits(*amount, ref.Currency)
		if m < current.AmountCapturable {
			minor = &m
		}
	}

	var captured *GatewayIntent
	err = o.call(ctx, "capture_intent", func() error {
		var callErr error
		captured, callErr = o.gateway.CaptureIntent(ctx, creds, ref.IntentID, minor, "capture-"+ref.IntentID)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	result := &CaptureResult{
		IntentID:       captured.ID,
		AmountCaptured: FromMinorUnits(captured.AmountReceived, ref.Currency),
	}
	o.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventDepositCaptured, models.PaymentSourceStripeAPI).
		SetBooking(ref.BookingID).
		SetPaymentIntent(ref.IntentID).
		SetAmount(result.AmountCaptured, ref.Currency).
		SetPaymentStatus(string(captured.Status)))

	return result, nil
}

// Cancel releases an uncaptured hold; no-op if it is already canceled
func (o *PaymentOrchestrator) Cancel(ctx context.Context, ref IntentRef) (*CancelResult, error) {
	creds, err := o.credentials.ResolveGatewayCredentials(ctx, ref.CompanyID)
	if err != nil {
		return nil, err
	}

	current, err := o.getIntent(ctx, creds, ref.IntentID)
	if err != nil {
		return nil, err
	}

	switch current.Status {
	case IntentCanceled:
		return &CancelResult{IntentID: current.ID}, nil
	case IntentSucceeded:
		return &CancelResult{
			IntentID:       current.ID,
			Captured:       true,
			AmountCaptured: FromMinorUnits(current.AmountReceived, ref.Currency),
		}, nil
	}

	err = o.call(ctx, "cancel_intent", func() error {
		_, callErr := o.gateway.CancelIntent(ctx, creds, ref.IntentID, "cancel-"+ref.IntentID)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	o.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventDepositReleased, models.PaymentSourceStripeAPI).
		SetBooking(ref.BookingID).
		SetPaymentIntent(ref.IntentID))

	return &CancelResult{IntentID: ref.IntentID}, nil
}

// Refund returns money from a succeeded intent. The amount must be in
// (0, alreadyPaid]; the amount in the result is what the gateway refunded.
func (o *PaymentOrchestrator) Refund(ctx context.Context, ref IntentRef, amount, alreadyPaid float64, reason, idempotencyKey string) (*RefundResult, error) {
	if amount <= 0 {
		return nil, models.NewValidationError(models.CodeInvalidAmount, "refund amount must be greater than zero")
	}
	if ToMinorUnits(amount, ref.Currency) > ToMinorUnits(alreadyPaid, ref.Currency) {
		return nil, models.NewValidationError(models.CodeInvalidAmount,
			"refund amount %.2f exceeds paid amount %.2f", amount, alreadyPaid)
	}

	creds, err := o.credentials.ResolveGatewayCredentials(ctx, ref.CompanyID)
	if err != nil {
		return nil, err
	}

	if idempotencyKey == "" {
		idempotencyKey = "refund-" + uuid.NewString()
	}

	var refund *GatewayRefund
	err = o.call(ctx, "create_refund", func() error {
		var callErr error
		refund, callErr = o.gateway.CreateRefund(ctx, creds, ref.IntentID,
			ToMinorUnits(amount, ref.Currency), reason, idempotencyKey)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	return &RefundResult{
		RefundID: refund.ID,
		Amount:   FromMinorUnits(refund.Amount, ref.Currency),
		Currency: ref.Currency,
	}, nil
}

func (o *PaymentOrchestrator) getIntent(ctx context.Context, creds GatewayCredentials, intentID string) (*GatewayIntent, error) {
	var intent *GatewayIntent
	err := o.call(ctx, "get_intent", func() error {
		var callErr error
		intent, callErr = o.gateway.GetIntent(ctx, creds, intentID)
		return callErr
	})
	return intent, err
}

// call runs fn with exponential backoff. Only retryable gateway errors are
// retried; the same idempotency key is reused on every attempt.
func (o *PaymentOrchestrator) call(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.GatewayDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		}
	}()

	delay := o.backoff
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isRetryable(err) || attempt >= o.maxRetries {
			break
		}

		o.logger.WithFields(logrus.Fields{
			"operation": op,
			"attempt":   attempt + 1,
			"delay":     delay.String(),
		}).WithError(err).Warn("Retrying gateway call")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	if o.metrics != nil {
		o.metrics.GatewayCalls.WithLabelValues(op, resultLabel(err)).Inc()
	}
	return err
}

func (o *PaymentOrchestrator) logAudit(ctx context.Context, audit *models.PaymentAudit) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Log(ctx, audit); err != nil {
		o.logger.WithError(err).Warn("Failed to record payment audit")
	}
}

func isRetryable(err error) bool {
	var gwErr *models.GatewayError
	return errors.As(err, &gwErr) && gwErr.Retryable
}

func gatewayCode(err error) string {
	var gwErr *models.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Code
	}
	return ""
}
