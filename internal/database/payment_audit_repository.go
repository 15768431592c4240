package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/rentflow/rental-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}
	if info, ok := utils.RequestInfoFrom(ctx); ok && audit.IPAddress == nil {
		audit.SetRequestInfo(info.IP, info.UserAgent)
		if audit.Metadata == nil {
			audit.Metadata = models.JSONB{}
		}
		audit.Metadata["device_type"] = info.Device.DeviceType
		audit.Metadata["os"] = info.Device.OS
		audit.Metadata["browser"] = info.Device.Browser
	}

	query := `
		INSERT INTO payment_audits (
			id, booking_id, payment_intent_id, gateway_event_id,
			event_type, event_source,
			amount, currency, payment_status,
			error_message, error_code,
			is_duplicate, idempotency_key,
			ip_address, user_agent, metadata,
			created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9,
			$10, $11,
			$12, $13,
			$14, $15, $16,
			$17
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.BookingID, audit.PaymentIntentID, audit.GatewayEventID,
		audit.EventType, audit.EventSource,
		audit.Amount, audit.Currency, audit.PaymentStatus,
		audit.ErrorMessage, audit.ErrorCode,
		audit.IsDuplicate, audit.IdempotencyKey,
		audit.IPAddress, audit.UserAgent, audit.Metadata,
		audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":        audit.EventType,
			"payment_intent_id": audit.PaymentIntentID,
		}).Error("Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
	}).Debug("Payment audit logged")

	return nil
}

// HasProcessedEvent reports whether a gateway event id was already handled.
// This is the durable backstop behind the Redis event cache.
func (r *PaymentAuditRepository) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM payment_audits
		WHERE gateway_event_id = $1
		  AND event_type = $2
		  AND is_duplicate = FALSE`, eventID, models.PaymentEventWebhookReceived)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return count > 0, nil
}

// ListByBooking retrieves all audit entries for a booking
func (r *PaymentAuditRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	err := r.db.SelectContext(ctx, &audits, `
		SELECT * FROM payment_audits
		WHERE booking_id = $1
		ORDER BY created_at ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audits by booking: %w", err)
	}
	return audits, nil
}
