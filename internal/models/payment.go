package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentType identifies what a payment row pays for
type PaymentType string

const (
	PaymentTypeFull            PaymentType = "full_payment"
	PaymentTypeSecurityDeposit PaymentType = "security_deposit"
	PaymentTypeAdjustment      PaymentType = "adjustment"
)

// PaymentStatus mirrors the gateway intent status
type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusRequiresAction PaymentStatus = "requires_action"
	PaymentStatusProcessing     PaymentStatus = "processing"
	PaymentStatusSucceeded      PaymentStatus = "succeeded"
	PaymentStatusFailed         PaymentStatus = "failed"
	PaymentStatusCanceled       PaymentStatus = "canceled"
	PaymentStatusRefunded       PaymentStatus = "refunded"
)

// paymentRank orders statuses so updates only ever move forward.
// Outcomes share a rank: once decided, only succeeded -> refunded remains.
var paymentRank = map[PaymentStatus]int{
	PaymentStatusPending:        0,
	PaymentStatusRequiresAction: 1,
	PaymentStatusProcessing:     2,
	PaymentStatusSucceeded:      3,
	PaymentStatusFailed:         3,
	PaymentStatusCanceled:       3,
	PaymentStatusRefunded:       4,
}

// IsFinal reports whether the gateway outcome is decided
func (s PaymentStatus) IsFinal() bool {
	return paymentRank[s] >= 3
}

// CanAdvanceTo reports whether s -> to keeps the status monotonic
func (s PaymentStatus) CanAdvanceTo(to PaymentStatus) bool {
	if s == to {
		return false
	}
	if to == PaymentStatusRefunded {
		return s == PaymentStatusSucceeded
	}
	return paymentRank[to] > paymentRank[s] && !s.IsFinal()
}

// PaymentStatusesBefore lists every status that may advance to target.
// Repositories use it to build conditional updates.
func PaymentStatusesBefore(target PaymentStatus) []string {
	var out []string
	for s := range paymentRank {
		if s.CanAdvanceTo(target) {
			out = append(out, string(s))
		}
	}
	return out
}

// Payment is one gateway PaymentIntent recorded against a booking
type Payment struct {
	ID                     uuid.UUID     `json:"id" db:"id"`
	BookingID              uuid.UUID     `json:"booking_id" db:"booking_id"`
	CompanyID              uuid.UUID     `json:"company_id" db:"company_id"`
	CustomerID             uuid.UUID     `json:"customer_id" db:"customer_id"`
	PaymentType            PaymentType   `json:"payment_type" db:"payment_type"`
	GatewayPaymentIntentID string        `json:"gateway_payment_intent_id" db:"gateway_payment_intent_id"`
	GatewayChargeID        *string       `json:"gateway_charge_id,omitempty" db:"gateway_charge_id"`
	PaymentMethodID        *string       `json:"payment_method_id,omitempty" db:"payment_method_id"`
	Status                 PaymentStatus `json:"status" db:"status"`
	Amount                 float64       `json:"amount" db:"amount"`
	Currency               string        `json:"currency" db:"currency"`
	RefundAmount           *float64      `json:"refund_amount,omitempty" db:"refund_amount"`
	RefundedAt             *time.Time    `json:"refunded_at,omitempty" db:"refunded_at"`
	FailureReason          *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt              time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at" db:"updated_at"`
}

// RefundType distinguishes full from partial refunds
type RefundType string

const (
	RefundTypeFull    RefundType = "full"
	RefundTypePartial RefundType = "partial"
)

// RefundRecord is an append-only record of money returned to a customer
type RefundRecord struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	BookingID       uuid.UUID  `json:"booking_id" db:"booking_id"`
	PaymentID       uuid.UUID  `json:"payment_id" db:"payment_id"`
	GatewayRefundID string     `json:"gateway_refund_id" db:"gateway_refund_id"`
	Amount          float64    `json:"amount" db:"amount"`
	Currency        string     `json:"currency" db:"currency"`
	RefundType      RefundType `json:"refund_type" db:"refund_type"`
	Reason          *string    `json:"reason,omitempty" db:"reason"`
	ProcessedBy     *uuid.UUID `json:"processed_by,omitempty" db:"processed_by"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// PaymentHistory is the money trail of one booking
type PaymentHistory struct {
	BookingID     uuid.UUID       `json:"booking_id"`
	Payments      []*Payment      `json:"payments"`
	Refunds       []*RefundRecord `json:"refunds"`
	RefundedTotal float64         `json:"refunded_total"`
}
