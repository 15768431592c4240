package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimBookingToken(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingTokenRepository(db)
	ctx := context.Background()
	now := time.Now()

	t.Run("First Claim Wins", func(t *testing.T) {
		mock.ExpectExec(`UPDATE booking_tokens\s+SET is_used = TRUE`).
			WithArgs("tok_1", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.Claim(ctx, "tok_1", now)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Second Claim Loses", func(t *testing.T) {
		mock.ExpectExec(`UPDATE booking_tokens\s+SET is_used = TRUE`).
			WithArgs("tok_1", now).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.Claim(ctx, "tok_1", now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectExec(`UPDATE booking_tokens`).
			WillReturnError(fmt.Errorf("connection reset"))

		_, err := repo.Claim(ctx, "tok_1", now)
		assert.ErrorContains(t, err, "failed to claim booking token")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBookingToken(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingTokenRepository(db)
	ctx := context.Background()

	t.Run("Decodes Price Snapshot", func(t *testing.T) {
		id := uuid.New()
		snapshot := `{"vehicle_name":"Toyota Corolla 2022","daily_rate":50,"rental_days":2,"total_amount":108,"currency":"usd"}`
		mock.ExpectQuery(`SELECT (.+) FROM booking_tokens WHERE token = \$1`).
			WithArgs("tok_1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "token", "customer_email", "price_snapshot", "is_used"}).
				AddRow(id.String(), "tok_1", "jane@example.com", []byte(snapshot), false))

		tok, err := repo.GetByToken(ctx, "tok_1")
		require.NoError(t, err)
		require.NotNil(t, tok)
		assert.Equal(t, "Toyota Corolla 2022", tok.PriceSnapshot.VehicleName)
		assert.Equal(t, 108.0, tok.PriceSnapshot.TotalAmount)
		assert.False(t, tok.IsUsed)
	})

	t.Run("Unknown Token", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM booking_tokens WHERE token = \$1`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		tok, err := repo.GetByToken(ctx, "missing")
		assert.NoError(t, err)
		assert.Nil(t, tok)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseAndAttach(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingTokenRepository(db)
	ctx := context.Background()
	bookingID := uuid.New()

	mock.ExpectExec(`SET is_used = FALSE, used_at = NULL\s+WHERE token = \$1 AND is_used = TRUE AND booking_id IS NULL`).
		WithArgs("tok_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET booking_id = \$2`).
		WithArgs("tok_2", bookingID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ReleaseClaim(ctx, "tok_1"))
	require.NoError(t, repo.AttachBooking(ctx, "tok_2", bookingID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookingToken(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingTokenRepository(db)

	tok := &models.BookingToken{
		Token:         "tok_new",
		CompanyID:     uuid.New(),
		VehicleID:     uuid.New(),
		CustomerEmail: "jane@example.com",
		ExpiresAt:     time.Now().Add(72 * time.Hour),
		PriceSnapshot: models.PriceSnapshot{TotalAmount: 108, Currency: "usd"},
	}

	mock.ExpectExec(`INSERT INTO booking_tokens`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), tok))
	assert.NotEqual(t, uuid.Nil, tok.ID)
	assert.False(t, tok.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
