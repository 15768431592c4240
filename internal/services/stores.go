package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/models"
)

// The interfaces below are satisfied by the repositories in internal/database.
// Services depend on them so tests can swap in in-memory stores.

// BookingStore persists bookings
type BookingStore interface {
	GenerateBookingNumber(ctx context.Context) (string, error)
	CreateIfAvailable(ctx context.Context, b *models.Booking) error
	UpdateDetailsIfAvailable(ctx context.Context, b *models.Booking) error
	HasConflict(ctx context.Context, vehicleID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (*models.Booking, error)
	GetByDepositIntentID(ctx context.Context, intentID string) (*models.Booking, error)
	ListAwaitingDepositHold(ctx context.Context, limit int) ([]*models.Booking, error)
	ListPendingWithSucceededPayment(ctx context.Context, olderThan time.Duration, limit int) ([]*models.Booking, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.BookingStatus) (bool, error)
	RecordDepositAuthorized(ctx context.Context, id uuid.UUID, intentID string, amount float64, at time.Time) (bool, error)
	RecordDepositCaptured(ctx context.Context, id uuid.UUID, intentID string, charged float64, at time.Time) (bool, error)
	RecordDepositReleased(ctx context.Context, id uuid.UUID, intentID string, at time.Time) (bool, error)
	RecordDepositError(ctx context.Context, id uuid.UUID, message string) error
	DeleteWithoutPayments(ctx context.Context, id uuid.UUID) (bool, error)
}

// BookingTokenStore persists single-use booking links
type BookingTokenStore interface {
	Create(ctx context.Context, t *models.BookingToken) error
	GetByToken(ctx context.Context, token string) (*models.BookingToken, error)
	Claim(ctx context.Context, token string, now time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, token string) error
	AttachBooking(ctx context.Context, token string, bookingID uuid.UUID) error
}

// PaymentStore persists payments keyed by gateway intent id
type PaymentStore interface {
	CreateIfAbsent(ctx context.Context, p *models.Payment) (bool, error)
	GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	GetLatestSucceeded(ctx context.Context, bookingID uuid.UUID, paymentType models.PaymentType) (*models.Payment, error)
	GetLatestByType(ctx context.Context, bookingID uuid.UUID, paymentType models.PaymentType) (*models.Payment, error)
	AdvanceStatus(ctx context.Context, intentID string, to models.PaymentStatus, chargeID, failureReason *string) (bool, error)
	MarkRefunded(ctx context.Context, intentID string, refundedTotal float64, at time.Time) (bool, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.Payment, error)
}

// RefundStore appends refund records
type RefundStore interface {
	Create(ctx context.Context, rec *models.RefundRecord) (bool, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.RefundRecord, error)
}

// CustomerStore persists renters
type CustomerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	GetByEmail(ctx context.Context, companyID uuid.UUID, email string) (*models.Customer, error)
	Create(ctx context.Context, c *models.Customer) (*models.Customer, error)
	SetGatewayCustomerID(ctx context.Context, id uuid.UUID, gatewayCustomerID string) error
	ClaimInvitation(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) (bool, error)
	ResetInvitation(ctx context.Context, id uuid.UUID, at time.Time) error
}

// CatalogSource reads companies and vehicles
type CatalogSource interface {
	GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error)
	GetVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error)
	GetVehicleModel(ctx context.Context, id uuid.UUID) (*models.VehicleModel, error)
	ListActiveVehiclesByModel(ctx context.Context, modelID uuid.UUID) ([]*models.Vehicle, error)
	SetChargesEnabled(ctx context.Context, stripeAccountID string, enabled bool) (int64, error)
}

// AuditLog records payment events
type AuditLog interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
	HasProcessedEvent(ctx context.Context, eventID string) (bool, error)
}
