package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rentflow/rental-backend/internal/models"
)

const bookingColumns = `
	id, booking_number, customer_id, vehicle_id, company_id, source,
	pickup_date, return_date, pickup_time, return_time,
	daily_rate, rental_days, subtotal, tax_amount, insurance_amount, additional_fees,
	total_amount, currency, status, payment_intent_id,
	security_deposit_amount, security_deposit_status, security_deposit_intent_id,
	security_deposit_held, security_deposit_charged,
	security_deposit_authorized_at, security_deposit_captured_at, security_deposit_released_at,
	security_deposit_last_error, notes, created_by,
	confirmed_at, cancelled_at, created_at, updated_at`

// overlapCondition matches bookings whose [pickup, return) window intersects
// [$4, $3). A same-day rental occupies its pickup day, so back-to-back
// rentals sharing a handover day do not overlap.
const overlapCondition = `
	vehicle_id = $1
	AND status = ANY($2)
	AND pickup_date < $3
	AND GREATEST(return_date, pickup_date + 1) > $4`

// BookingRepository handles rental booking persistence
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func blockingStatusArray() interface{} {
	statuses := make([]string, 0, len(models.BlockingBookingStatuses))
	for _, s := range models.BlockingBookingStatuses {
		statuses = append(statuses, string(s))
	}
	return pq.Array(statuses)
}

// ============================================================================
// REFERENCE GENERATION
// ============================================================================

// GenerateBookingNumber generates a unique booking number
// Format: RB-YYYYMMDD-XXXXXX (6 hex chars)
func (r *BookingRepository) GenerateBookingNumber(ctx context.Context) (string, error) {
	todayStr := time.Now().UTC().Format("20060102")

	for attempts := 0; attempts < 10; attempts++ {
		randomBytes := make([]byte, 3)
		if _, err := rand.Read(randomBytes); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		candidate := fmt.Sprintf("RB-%s-%s", todayStr, strings.ToUpper(hex.EncodeToString(randomBytes)))

		var count int
		err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM bookings WHERE booking_number = $1`, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check booking number uniqueness: %w", err)
		}
		if count == 0 {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique booking number after 10 attempts")
}

// ============================================================================
// AVAILABILITY-GUARDED WRITES
// ============================================================================

// CreateIfAvailable inserts the booking only if no blocking booking overlaps
// its window. The per-vehicle advisory lock serializes concurrent creators, so
// exactly one of two racing requests for the last free window succeeds.
func (r *BookingRepository) CreateIfAvailable(ctx context.Context, b *models.Booking) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockVehicle(ctx, tx, b.VehicleID); err != nil {
		return err
	}

	start, end := b.RentalWindow()
	conflict, err := hasOverlap(ctx, tx, b.VehicleID, start, end, nil)
	if err != nil {
		return err
	}
	if conflict {
		return unavailableError(b.VehicleID, start, end)
	}

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now
	if b.SecurityDepositStatus == "" {
		b.SecurityDepositStatus = models.DepositStatusNone
	}

	query := `
		INSERT INTO bookings (` + bookingColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23,
			$24, $25,
			$26, $27, $28,
			$29, $30, $31,
			$32, $33, $34, $35
		)`
	_, err = tx.ExecContext(ctx, query,
		b.ID, b.BookingNumber, b.CustomerID, b.VehicleID, b.CompanyID, b.Source,
		b.PickupDate, b.ReturnDate, b.PickupTime, b.ReturnTime,
		b.DailyRate, b.RentalDays, b.Subtotal, b.TaxAmount, b.InsuranceAmount, b.AdditionalFees,
		b.TotalAmount, b.Currency, b.Status, b.PaymentIntentID,
		b.SecurityDepositAmount, b.SecurityDepositStatus, b.SecurityDepositIntentID,
		b.SecurityDepositHeld, b.SecurityDepositCharged,
		b.SecurityDepositAuthorizedAt, b.SecurityDepositCapturedAt, b.SecurityDepositReleasedAt,
		b.SecurityDepositLastError, b.Notes, b.CreatedBy,
		b.ConfirmedAt, b.CancelledAt, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}
	return nil
}

// UpdateDetailsIfAvailable persists changed dates and pricing, re-checking
// the vehicle calendar with the booking itself excluded.
func (r *BookingRepository) UpdateDetailsIfAvailable(ctx context.Context, b *models.Booking) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockVehicle(ctx, tx, b.VehicleID); err != nil {
		return err
	}

	start, end := b.RentalWindow()
	conflict, err := hasOverlap(ctx, tx, b.VehicleID, start, end, &b.ID)
	if err != nil {
		return err
	}
	if conflict {
		return unavailableError(b.VehicleID, start, end)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET pickup_date = $2, return_date = $3, pickup_time = $4, return_time = $5,
		    daily_rate = $6, rental_days = $7, subtotal = $8, tax_amount = $9,
		    insurance_amount = $10, additional_fees = $11, total_amount = $12,
		    notes = $13, updated_at = NOW()
		WHERE id = $1 AND status = $14`,
		b.ID, b.PickupDate, b.ReturnDate, b.PickupTime, b.ReturnTime,
		b.DailyRate, b.RentalDays, b.Subtotal, b.TaxAmount,
		b.InsuranceAmount, b.AdditionalFees, b.TotalAmount,
		b.Notes, b.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	changed, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if !changed {
		return &models.ConflictError{
			Code:    models.CodeInvalidTransition,
			Message: "booking status changed while updating details",
		}
	}

	return tx.Commit()
}

// HasConflict reports whether any blocking booking overlaps [start, end).
// Advisory only: the authoritative check runs inside CreateIfAvailable.
func (r *BookingRepository) HasConflict(ctx context.Context, vehicleID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	return hasOverlap(ctx, r.db, vehicleID, start, end, excludeID)
}

func lockVehicle(ctx context.Context, tx *sqlx.Tx, vehicleID uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, vehicleID.String()); err != nil {
		return fmt.Errorf("failed to lock vehicle calendar: %w", err)
	}
	return nil
}

func hasOverlap(ctx context.Context, q sqlx.QueryerContext, vehicleID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	query := `SELECT COUNT(*) FROM bookings WHERE` + overlapCondition
	args := []interface{}{vehicleID, blockingStatusArray(), end, start}
	if excludeID != nil {
		query += ` AND id <> $5`
		args = append(args, *excludeID)
	}

	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, args...); err != nil {
		return false, fmt.Errorf("failed to check booking overlap: %w", err)
	}
	return count > 0, nil
}

func unavailableError(vehicleID uuid.UUID, start, end time.Time) error {
	return &models.ConflictError{
		Code: models.CodeVehicleUnavailable,
		Message: fmt.Sprintf("vehicle %s is not available from %s to %s",
			vehicleID, start.Format(models.DateLayout), end.AddDate(0, 0, -1).Format(models.DateLayout)),
	}
}

// ============================================================================
// READS
// ============================================================================

// GetByID returns the booking or nil when it does not exist
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

// GetByPaymentIntentID finds a booking by its rental payment intent
func (r *BookingRepository) GetByPaymentIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_intent_id = $1`, intentID)
}

// GetByDepositIntentID finds a booking by its security deposit intent
func (r *BookingRepository) GetByDepositIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE security_deposit_intent_id = $1`, intentID)
}

func (r *BookingRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// ListAwaitingDepositHold returns picked-up or active bookings whose deposit
// hold attempt failed and has not been retried successfully.
func (r *BookingRepository) ListAwaitingDepositHold(ctx context.Context, limit int) ([]*models.Booking, error) {
	var bookings []*models.Booking
	err := r.db.SelectContext(ctx, &bookings, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status IN ('picked_up', 'active')
		  AND security_deposit_status = 'none'
		  AND security_deposit_last_error IS NOT NULL
		ORDER BY updated_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings awaiting deposit hold: %w", err)
	}
	return bookings, nil
}

// ListPendingWithSucceededPayment returns pending bookings whose rental
// payment already succeeded, typically because a webhook was missed.
func (r *BookingRepository) ListPendingWithSucceededPayment(ctx context.Context, olderThan time.Duration, limit int) ([]*models.Booking, error) {
	var bookings []*models.Booking
	err := r.db.SelectContext(ctx, &bookings, `
		SELECT `+prefixColumns("b", bookingColumns)+` FROM bookings b
		WHERE b.status = 'pending'
		  AND b.created_at < $1
		  AND EXISTS (
			SELECT 1 FROM payments p
			WHERE p.booking_id = b.id
			  AND p.payment_type = 'full_payment'
			  AND p.status = 'succeeded'
		  )
		ORDER BY b.created_at ASC
		LIMIT $2`, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending bookings with succeeded payments: %w", err)
	}
	return bookings, nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// ============================================================================
// STATUS (compare-and-set)
// ============================================================================

// TransitionStatus moves the booking from -> to only if it is still in from.
// Returns false when another writer got there first.
func (r *BookingRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.BookingStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $3,
		    confirmed_at = CASE WHEN $3 = 'confirmed' THEN COALESCE(confirmed_at, NOW()) ELSE confirmed_at END,
		    cancelled_at = CASE WHEN $3 = 'cancelled' THEN COALESCE(cancelled_at, NOW()) ELSE cancelled_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition booking status: %w", err)
	}
	return rowsAffected(result)
}

// ============================================================================
// SECURITY DEPOSIT (convergent)
// ============================================================================

// RecordDepositAuthorized marks the hold as placed. Timestamps keep their
// first value so duplicate or late events converge on the same row.
func (r *BookingRepository) RecordDepositAuthorized(ctx context.Context, id uuid.UUID, intentID string, amount float64, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET security_deposit_status = 'authorized',
		    security_deposit_intent_id = $2,
		    security_deposit_held = $3,
		    security_deposit_authorized_at = COALESCE(security_deposit_authorized_at, $4),
		    security_deposit_last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1
		  AND security_deposit_status IN ('none', 'authorized')
		  AND (security_deposit_intent_id IS NULL OR security_deposit_intent_id = $2)`,
		id, intentID, amount, at)
	if err != nil {
		return false, fmt.Errorf("failed to record deposit authorization: %w", err)
	}
	return rowsAffected(result)
}

// RecordDepositCaptured marks the hold as captured for charged. Released
// deposits are never overwritten.
func (r *BookingRepository) RecordDepositCaptured(ctx context.Context, id uuid.UUID, intentID string, charged float64, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET security_deposit_status = 'captured',
		    security_deposit_intent_id = COALESCE(security_deposit_intent_id, $2),
		    security_deposit_charged = $3,
		    security_deposit_captured_at = COALESCE(security_deposit_captured_at, $4),
		    updated_at = NOW()
		WHERE id = $1
		  AND security_deposit_status IN ('none', 'authorized', 'captured')
		  AND (security_deposit_intent_id IS NULL OR security_deposit_intent_id = $2)`,
		id, intentID, charged, at)
	if err != nil {
		return false, fmt.Errorf("failed to record deposit capture: %w", err)
	}
	return rowsAffected(result)
}

// RecordDepositReleased marks the hold as released. Captured deposits are
// never overwritten.
func (r *BookingRepository) RecordDepositReleased(ctx context.Context, id uuid.UUID, intentID string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET security_deposit_status = 'released',
		    security_deposit_intent_id = COALESCE(security_deposit_intent_id, $2),
		    security_deposit_released_at = COALESCE(security_deposit_released_at, $3),
		    updated_at = NOW()
		WHERE id = $1
		  AND security_deposit_status IN ('none', 'authorized', 'released')
		  AND (security_deposit_intent_id IS NULL OR security_deposit_intent_id = $2)`,
		id, intentID, at)
	if err != nil {
		return false, fmt.Errorf("failed to record deposit release: %w", err)
	}
	return rowsAffected(result)
}

// RecordDepositError stores the last hold failure for the retry job
func (r *BookingRepository) RecordDepositError(ctx context.Context, id uuid.UUID, message string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET security_deposit_last_error = $2, updated_at = NOW()
		WHERE id = $1 AND security_deposit_status = 'none'`, id, message)
	if err != nil {
		return fmt.Errorf("failed to record deposit error: %w", err)
	}
	return nil
}

// ============================================================================
// DELETE
// ============================================================================

// DeleteWithoutPayments hard-deletes a booking that never had a payment.
// Returns false when the booking is missing or has payments.
func (r *BookingRepository) DeleteWithoutPayments(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM bookings
		WHERE id = $1
		  AND NOT EXISTS (SELECT 1 FROM payments WHERE booking_id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete booking: %w", err)
	}
	return rowsAffected(result)
}
