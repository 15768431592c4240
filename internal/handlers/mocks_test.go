package handlers

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/middleware"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/rentflow/rental-backend/internal/services"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// withStaff stands in for AuthMiddleware in handler tests
func withStaff(staff middleware.StaffContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.StaffContextKey, staff)
		c.Set("user_id", staff.UserID)
		c.Next()
	}
}

// MockBookingAPI
type MockBookingAPI struct {
	mock.Mock
}

func (m *MockBookingAPI) CreateBooking(ctx context.Context, companyID, actorID uuid.UUID, req *models.CreateBookingRequest) (*models.Booking, error) {
	args := m.Called(ctx, companyID, actorID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *MockBookingAPI) GetBooking(ctx context.Context, companyID, id uuid.UUID) (*models.Booking, error) {
	args := m.Called(ctx, companyID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *MockBookingAPI) UpdateDetails(ctx context.Context, companyID, id uuid.UUID, req *models.UpdateBookingRequest) (*models.Booking, error) {
	args := m.Called(ctx, companyID, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *MockBookingAPI) DeleteBooking(ctx context.Context, companyID, id uuid.UUID) error {
	args := m.Called(ctx, companyID, id)
	return args.Error(0)
}
func (m *MockBookingAPI) UpdateStatus(ctx context.Context, companyID, id uuid.UUID, req *models.UpdateBookingStatusRequest) (*models.Booking, error) {
	args := m.Called(ctx, companyID, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

// MockRefundAPI
type MockRefundAPI struct {
	mock.Mock
}

func (m *MockRefundAPI) RefundBooking(ctx context.Context, companyID, bookingID uuid.UUID, amount float64, reason string, actorID *uuid.UUID) (*models.RefundRecord, error) {
	args := m.Called(ctx, companyID, bookingID, amount, reason, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RefundRecord), args.Error(1)
}

func (m *MockRefundAPI) PaymentHistory(ctx context.Context, companyID, bookingID uuid.UUID) (*models.PaymentHistory, error) {
	args := m.Called(ctx, companyID, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentHistory), args.Error(1)
}

// MockAuditReader
type MockAuditReader struct {
	mock.Mock
}

func (m *MockAuditReader) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PaymentAudit), args.Error(1)
}

// MockBookingTokenAPI
type MockBookingTokenAPI struct {
	mock.Mock
}

func (m *MockBookingTokenAPI) IssueToken(ctx context.Context, companyID, actorID uuid.UUID, req *models.IssueBookingTokenRequest) (*models.BookingToken, error) {
	args := m.Called(ctx, companyID, actorID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BookingToken), args.Error(1)
}
func (m *MockBookingTokenAPI) GetToken(ctx context.Context, value string) (*models.BookingToken, error) {
	args := m.Called(ctx, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BookingToken), args.Error(1)
}
func (m *MockBookingTokenAPI) ExchangeToken(ctx context.Context, value string, req *models.ExchangeBookingTokenRequest) (*models.Booking, error) {
	args := m.Called(ctx, value, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

// MockAvailabilityAPI
type MockAvailabilityAPI struct {
	mock.Mock
}

func (m *MockAvailabilityAPI) IsAvailable(ctx context.Context, vehicleID uuid.UUID, pickup, ret time.Time, excludeID *uuid.UUID) (bool, error) {
	args := m.Called(ctx, vehicleID, pickup, ret, excludeID)
	return args.Bool(0), args.Error(1)
}
func (m *MockAvailabilityAPI) IsModelAvailable(ctx context.Context, modelID uuid.UUID, pickup, ret time.Time) (bool, error) {
	args := m.Called(ctx, modelID, pickup, ret)
	return args.Bool(0), args.Error(1)
}

// MockWebhookAPI
type MockWebhookAPI struct {
	mock.Mock
}

func (m *MockWebhookAPI) HandleEvent(ctx context.Context, evt *services.GatewayEvent) services.WebhookOutcome {
	args := m.Called(ctx, evt)
	return args.Get(0).(services.WebhookOutcome)
}
