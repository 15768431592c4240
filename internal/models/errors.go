package models

import (
	"fmt"
	"strings"
)

// ValidationError is returned when a request is well-formed but not allowed,
// including invalid booking status transitions.
type ValidationError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Allowed []string `json:"allowed,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Allowed) > 0 {
		return fmt.Sprintf("%s (allowed: %s)", e.Message, strings.Join(e.Allowed, ", "))
	}
	return e.Message
}

// NewValidationError creates a ValidationError
func NewValidationError(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError is returned when a referenced record does not exist
type NotFoundError struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConflictError is returned when the request lost a race or collides with
// existing state (overlapping booking, token already used).
type ConflictError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ExpiredError is returned for booking tokens past their expiry
type ExpiredError struct {
	Resource  string `json:"resource"`
	ExpiredAt string `json:"expired_at"`
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("%s expired at %s", e.Resource, e.ExpiredAt)
}

// GatewayError wraps a payment gateway failure.
// Declined is true for card declines and other customer-side failures.
type GatewayError struct {
	Operation string `json:"operation"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Declined  bool   `json:"declined"`
	Retryable bool   `json:"-"`
	Err       error  `json:"-"`
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment gateway %s failed [%s]: %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("payment gateway %s failed: %s", e.Operation, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ConfigurationError is a hard stop: payment credentials are missing or the
// company's connected account cannot accept charges.
type ConfigurationError struct {
	Message string `json:"message"`
}

func (e *ConfigurationError) Error() string {
	return "payment configuration error: " + e.Message
}

// Error codes shared by services and handlers
const (
	CodeInvalidTransition    = "invalid_transition"
	CodeInvalidAmount        = "invalid_amount"
	CodeInvalidDates         = "invalid_dates"
	CodeInvalidRequest       = "invalid_request"
	CodeVehicleUnavailable   = "vehicle_unavailable"
	CodeTokenAlreadyUsed     = "token_already_used"
	CodeBookingHasPayments   = "booking_has_payments"
	CodeAlreadyRefunded      = "already_refunded"
	CodeNoSucceededPayment   = "no_succeeded_payment"
	CodePaymentFailed        = "payment_failed"
	CodeDepositNotAuthorized = "deposit_not_authorized"
)
