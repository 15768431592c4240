package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rentflow/rental-backend/internal/models"
)

const bookingTokenColumns = `
	id, token, company_id, vehicle_id, customer_email,
	pickup_date, return_date, pickup_time, return_time,
	price_snapshot, expires_at, is_used, used_at, booking_id,
	created_by, created_at`

// BookingTokenRepository handles single-use booking link persistence
type BookingTokenRepository struct {
	db *sqlx.DB
}

// NewBookingTokenRepository creates a new BookingTokenRepository
func NewBookingTokenRepository(db *sqlx.DB) *BookingTokenRepository {
	return &BookingTokenRepository{db: db}
}

// Create stores a newly issued token
func (r *BookingTokenRepository) Create(ctx context.Context, t *models.BookingToken) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO booking_tokens (`+bookingTokenColumns+`
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16
		)`,
		t.ID, t.Token, t.CompanyID, t.VehicleID, t.CustomerEmail,
		t.PickupDate, t.ReturnDate, t.PickupTime, t.ReturnTime,
		t.PriceSnapshot, t.ExpiresAt, t.IsUsed, t.UsedAt, t.BookingID,
		t.CreatedBy, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking token: %w", err)
	}
	return nil
}

// GetByToken returns the token or nil when unknown
func (r *BookingTokenRepository) GetByToken(ctx context.Context, token string) (*models.BookingToken, error) {
	var t models.BookingToken
	err := r.db.GetContext(ctx, &t, `SELECT `+bookingTokenColumns+` FROM booking_tokens WHERE token = $1`, token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking token: %w", err)
	}
	return &t, nil
}

// Claim atomically marks an unused, unexpired token as used.
// Exactly one concurrent caller receives true.
func (r *BookingTokenRepository) Claim(ctx context.Context, token string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE booking_tokens
		SET is_used = TRUE, used_at = $2
		WHERE token = $1 AND is_used = FALSE AND expires_at > $2`, token, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim booking token: %w", err)
	}
	return rowsAffected(result)
}

// ReleaseClaim undoes a claim whose exchange failed before a booking was
// linked. Linked tokens stay used forever.
func (r *BookingTokenRepository) ReleaseClaim(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE booking_tokens
		SET is_used = FALSE, used_at = NULL
		WHERE token = $1 AND is_used = TRUE AND booking_id IS NULL`, token)
	if err != nil {
		return fmt.Errorf("failed to release booking token claim: %w", err)
	}
	return nil
}

// AttachBooking links a claimed token to the booking it produced
func (r *BookingTokenRepository) AttachBooking(ctx context.Context, token string, bookingID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE booking_tokens
		SET booking_id = $2
		WHERE token = $1 AND is_used = TRUE AND booking_id IS NULL`, token, bookingID)
	if err != nil {
		return fmt.Errorf("failed to attach booking to token: %w", err)
	}
	return nil
}
