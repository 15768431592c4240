package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// RefundService refunds a booking's rental payment
type RefundService struct {
	bookings     BookingStore
	payments     PaymentStore
	refunds      RefundStore
	bookingSvc   *BookingService
	orchestrator *PaymentOrchestrator
	events       EventPublisher
	audit        AuditLog
	metrics      *Metrics
	logger       *logrus.Logger
	now          func() time.Time
}

// NewRefundService creates a new refund service
func NewRefundService(
	bookings BookingStore,
	payments PaymentStore,
	refunds RefundStore,
	bookingSvc *BookingService,
	orchestrator *PaymentOrchestrator,
	events EventPublisher,
	audit AuditLog,
	metrics *Metrics,
	logger *logrus.Logger,
) *RefundService {
	return &RefundService{
		bookings:     bookings,
		payments:     payments,
		refunds:      refunds,
		bookingSvc:   bookingSvc,
		orchestrator: orchestrator,
		events:       events,
		audit:        audit,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// RefundBooking refunds amount from the booking's succeeded rental payment.
// The gateway's refunded amount is what gets recorded. The booking moves to
// cancelled when its current status allows it.
func (s *RefundService) RefundBooking(ctx context.Context, companyID, bookingID uuid.UUID, amount float64, reason string, actorID *uuid.UUID) (*models.RefundRecord, error) {
	if amount <= 0 {
		return nil, models.NewValidationError(models.CodeInvalidAmount, "refund amount must be greater than zero")
	}

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if b == nil || b.CompanyID != companyID {
		return nil, &models.NotFoundError{Resource: "booking", ID: bookingID.String()}
	}

	payment, err := s.payments.GetLatestSucceeded(ctx, bookingID, models.PaymentTypeFull)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		latest, err := s.payments.GetLatestByType(ctx, bookingID, models.PaymentTypeFull)
		if err != nil {
			return nil, err
		}
		if latest != nil && latest.Status == models.PaymentStatusRefunded {
			return nil, models.NewValidationError(models.CodeAlreadyRefunded, "booking payment is already refunded")
		}
		return nil, models.NewValidationError(models.CodeNoSucceededPayment, "booking has no succeeded payment to refund")
	}
	if ToMinorUnits(amount, payment.Currency) > ToMinorUnits(payment.Amount, payment.Currency) {
		return nil, models.NewValidationError(models.CodeInvalidAmount,
			"refund amount %.2f exceeds paid amount %.2f", amount, payment.Amount)
	}

	result, err := s.orchestrator.Refund(ctx,
		IntentRef{CompanyID: b.CompanyID, BookingID: b.ID, IntentID: payment.GatewayPaymentIntentID, Currency: payment.Currency},
		amount, payment.Amount, reason, fmt.Sprintf("refund-%s-%s", payment.ID, uuid.NewString()))
	if err != nil {
		return nil, err
	}

	now := s.now()
	if _, err := s.payments.MarkRefunded(ctx, payment.GatewayPaymentIntentID, result.Amount, now); err != nil {
		return nil, err
	}

	refundType := models.RefundTypePartial
	if result.Amount >= payment.Amount {
		refundType = models.RefundTypeFull
	}
	record := &models.RefundRecord{
		ID:              uuid.New(),
		BookingID:       b.ID,
		PaymentID:       payment.ID,
		GatewayRefundID: result.RefundID,
		Amount:          result.Amount,
		Currency:        payment.Currency,
		RefundType:      refundType,
		ProcessedBy:     actorID,
		CreatedAt:       now,
	}
	if reason != "" {
		record.Reason = &reason
	}
	if _, err := s.refunds.Create(ctx, record); err != nil {
		return nil, err
	}

	if _, err := s.bookingSvc.CancelIfAllowed(ctx, b.ID); err != nil {
		s.logger.WithError(err).WithField("booking_id", b.ID).Warn("Refunded booking could not be cancelled")
	}

	audit := models.NewPaymentAudit(models.PaymentEventRefundCompleted, models.PaymentSourceStaff).
		SetBooking(b.ID).
		SetPaymentIntent(payment.GatewayPaymentIntentID).
		SetAmount(result.Amount, payment.Currency).
		SetPaymentStatus(string(models.PaymentStatusRefunded))
	if err := s.audit.Log(ctx, audit); err != nil {
		s.logger.WithError(err).Warn("Failed to record payment audit")
	}

	if s.metrics != nil {
		s.metrics.RefundsTotal.Inc()
		s.metrics.RefundedAmount.WithLabelValues(payment.Currency).Add(result.Amount)
	}
	if s.events != nil {
		event := NewDomainEvent(EventBookingRefunded, b.ID, b.CompanyID, map[string]interface{}{
			"amount":      result.Amount,
			"currency":    payment.Currency,
			"refund_type": string(refundType),
		})
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.WithError(err).Warn("Failed to publish refund event")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"requested":  amount,
		"refunded":   result.Amount,
		"refund_id":  result.RefundID,
	}).Info("Booking refunded")

	return record, nil
}

// PaymentHistory lists the booking's payments and refunds, oldest first
func (s *RefundService) PaymentHistory(ctx context.Context, companyID, bookingID uuid.UUID) (*models.PaymentHistory, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if b == nil || b.CompanyID != companyID {
		return nil, &models.NotFoundError{Resource: "booking", ID: bookingID.String()}
	}

	payments, err := s.payments.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	refunds, err := s.refunds.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	history := &models.PaymentHistory{
		BookingID: bookingID,
		Payments:  payments,
		Refunds:   refunds,
	}
	for _, r := range refunds {
		history.RefundedTotal += r.Amount
	}
	history.RefundedTotal = models.RoundAmount(history.RefundedTotal)
	return history, nil
}
