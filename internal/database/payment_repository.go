package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rentflow/rental-backend/internal/models"
)

const paymentColumns = `
	id, booking_id, company_id, customer_id, payment_type,
	gateway_payment_intent_id, gateway_charge_id, payment_method_id,
	status, amount, currency, refund_amount, refunded_at, failure_reason,
	created_at, updated_at`

// PaymentRepository handles payment rows keyed by gateway intent id
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// CreateIfAbsent inserts the payment unless a row for the same intent exists.
// Both the synchronous path and the webhook may call it; the first insert wins.
func (r *PaymentRepository) CreateIfAbsent(ctx context.Context, p *models.Payment) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16
		)
		ON CONFLICT (gateway_payment_intent_id) DO NOTHING`,
		p.ID, p.BookingID, p.CompanyID, p.CustomerID, p.PaymentType,
		p.GatewayPaymentIntentID, p.GatewayChargeID, p.PaymentMethodID,
		p.Status, p.Amount, p.Currency, p.RefundAmount, p.RefundedAt, p.FailureReason,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create payment: %w", err)
	}
	return rowsAffected(result)
}

// GetByIntentID returns the payment for a gateway intent or nil
func (r *PaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE gateway_payment_intent_id = $1`, intentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// GetLatestSucceeded returns the most recent succeeded payment of the type
func (r *PaymentRepository) GetLatestSucceeded(ctx context.Context, bookingID uuid.UUID, paymentType models.PaymentType) (*models.Payment, error) {
	var p models.Payment
	err := r.db.GetContext(ctx, &p, `
		SELECT `+paymentColumns+` FROM payments
		WHERE booking_id = $1 AND payment_type = $2 AND status = 'succeeded'
		ORDER BY created_at DESC
		LIMIT 1`, bookingID, paymentType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest succeeded payment: %w", err)
	}
	return &p, nil
}

// GetLatestByType returns the most recent payment of the type in any status
func (r *PaymentRepository) GetLatestByType(ctx context.Context, bookingID uuid.UUID, paymentType models.PaymentType) (*models.Payment, error) {
	var p models.Payment
	err := r.db.GetContext(ctx, &p, `
		SELECT `+paymentColumns+` FROM payments
		WHERE booking_id = $1 AND payment_type = $2
		ORDER BY created_at DESC
		LIMIT 1`, bookingID, paymentType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest payment: %w", err)
	}
	return &p, nil
}

// ListByBooking returns all payments for a booking, oldest first
func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.Payment, error) {
	var payments []*models.Payment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT `+paymentColumns+` FROM payments
		WHERE booking_id = $1
		ORDER BY created_at ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// AdvanceStatus moves a payment forward. Stale or duplicate updates that
// would move it backwards match no row and return false.
func (r *PaymentRepository) AdvanceStatus(ctx context.Context, intentID string, to models.PaymentStatus, chargeID, failureReason *string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2,
		    gateway_charge_id = COALESCE($3, gateway_charge_id),
		    failure_reason = COALESCE($4, failure_reason),
		    updated_at = NOW()
		WHERE gateway_payment_intent_id = $1 AND status = ANY($5)`,
		intentID, to, chargeID, failureReason, pq.Array(models.PaymentStatusesBefore(to)))
	if err != nil {
		return false, fmt.Errorf("failed to advance payment status: %w", err)
	}
	return rowsAffected(result)
}

// MarkRefunded records a refund. refundedTotal is cumulative, so a larger
// total may follow a smaller one but never exceed the original amount.
func (r *PaymentRepository) MarkRefunded(ctx context.Context, intentID string, refundedTotal float64, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = 'refunded',
		    refund_amount = $2,
		    refunded_at = COALESCE(refunded_at, $3),
		    updated_at = NOW()
		WHERE gateway_payment_intent_id = $1
		  AND $2 <= amount
		  AND (status = 'succeeded' OR (status = 'refunded' AND COALESCE(refund_amount, 0) < $2))`,
		intentID, refundedTotal, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment refunded: %w", err)
	}
	return rowsAffected(result)
}

// ============================================================================
// REFUNDS (append-only)
// ============================================================================

const refundColumns = `
	id, booking_id, payment_id, gateway_refund_id, amount, currency,
	refund_type, reason, processed_by, created_at`

// RefundRepository stores refund records. Rows are never updated.
type RefundRepository struct {
	db *sqlx.DB
}

// NewRefundRepository creates a new RefundRepository
func NewRefundRepository(db *sqlx.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

// Create appends a refund record. A second record for the same gateway
// refund is ignored and reported as false.
func (r *RefundRepository) Create(ctx context.Context, rec *models.RefundRecord) (bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO refunds (`+refundColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (gateway_refund_id) DO NOTHING`,
		rec.ID, rec.BookingID, rec.PaymentID, rec.GatewayRefundID, rec.Amount, rec.Currency,
		rec.RefundType, rec.Reason, rec.ProcessedBy, rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create refund record: %w", err)
	}
	return rowsAffected(result)
}

// ListByBooking returns refunds for a booking, oldest first
func (r *RefundRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.RefundRecord, error) {
	var refunds []*models.RefundRecord
	err := r.db.SelectContext(ctx, &refunds, `
		SELECT `+refundColumns+` FROM refunds
		WHERE booking_id = $1
		ORDER BY created_at ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	return refunds, nil
}
