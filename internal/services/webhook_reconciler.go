package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// WebhookOutcome summarizes what happened to a delivered event
type WebhookOutcome string

const (
	WebhookProcessed WebhookOutcome = "processed"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookFailed    WebhookOutcome = "failed"
)

// WebhookReconciler converges local booking and payment state with gateway
// events. Every update it makes is conditional, so replays and out of order
// deliveries settle on the same state the synchronous path produces.
type WebhookReconciler struct {
	bookings   BookingStore
	payments   PaymentStore
	refunds    RefundStore
	catalog    CatalogSource
	audit      AuditLog
	bookingSvc *BookingService
	cache      EventCache
	metrics    *Metrics
	logger     *logrus.Logger
	now        func() time.Time
}

// NewWebhookReconciler creates a new reconciler. cache may be nil.
func NewWebhookReconciler(
	bookings BookingStore,
	payments PaymentStore,
	refunds RefundStore,
	catalog CatalogSource,
	audit AuditLog,
	bookingSvc *BookingService,
	cache EventCache,
	metrics *Metrics,
	logger *logrus.Logger,
) *WebhookReconciler {
	return &WebhookReconciler{
		bookings:   bookings,
		payments:   payments,
		refunds:    refunds,
		catalog:    catalog,
		audit:      audit,
		bookingSvc: bookingSvc,
		cache:      cache,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// HandleEvent reconciles one event. It never fails: errors are logged and
// audited for operator follow-up, and the caller always acknowledges.
func (r *WebhookReconciler) HandleEvent(ctx context.Context, evt *GatewayEvent) WebhookOutcome {
	log := r.logger.WithFields(logrus.Fields{
		"event_id":   evt.ID,
		"event_type": evt.Type,
		"intent_id":  evt.IntentID,
	})

	outcome := r.handle(ctx, evt, log)
	if r.metrics != nil {
		r.metrics.WebhookEvents.WithLabelValues(evt.Type, string(outcome)).Inc()
	}
	return outcome
}

func (r *WebhookReconciler) handle(ctx context.Context, evt *GatewayEvent, log *logrus.Entry) WebhookOutcome {
	if evt.ID != "" && r.alreadyProcessed(ctx, evt, log) {
		log.Debug("Duplicate webhook event")
		return WebhookDuplicate
	}

	var err error
	switch evt.Type {
	case EventPaymentSucceeded:
		err = r.onPaymentSucceeded(ctx, evt, log)
	case EventCheckoutCompleted:
		if !evt.SessionPaid || evt.IntentID == "" {
			log.Info("Checkout session not paid, ignoring")
			return WebhookIgnored
		}
		err = r.onPaymentSucceeded(ctx, evt, log)
	case EventPaymentFailed:
		err = r.onPaymentFailed(ctx, evt, log)
	case EventPaymentCapturableUpdated:
		err = r.onDepositAuthorized(ctx, evt, log)
	case EventPaymentCanceled:
		err = r.onPaymentCanceled(ctx, evt, log)
	case EventChargeRefunded:
		err = r.onChargeRefunded(ctx, evt, log)
	case EventAccountUpdated:
		err = r.onAccountUpdated(ctx, evt, log)
	default:
		log.Info("Ignoring unhandled webhook event type")
		return WebhookIgnored
	}

	if err != nil {
		log.WithError(err).Error("Webhook event not reconciled, manual follow-up required")
		r.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventError, models.PaymentSourceStripeWebhook).
			SetGatewayEvent(evt.ID).
			SetPaymentIntent(evt.IntentID).
			SetError(err.Error(), evt.Type))
		return WebhookFailed
	}

	// the audit row is the durable processed marker
	r.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceStripeWebhook).
		SetGatewayEvent(evt.ID).
		SetPaymentIntent(evt.IntentID).
		SetAmount(FromMinorUnits(evt.Amount, evt.Currency), evt.Currency).
		SetPaymentStatus(evt.Status))
	if r.cache != nil && evt.ID != "" {
		if err := r.cache.Remember(ctx, evt.ID); err != nil {
			log.WithError(err).Warn("Failed to cache webhook event id")
		}
	}
	return WebhookProcessed
}

func (r *WebhookReconciler) alreadyProcessed(ctx context.Context, evt *GatewayEvent, log *logrus.Entry) bool {
	if r.cache != nil {
		seen, err := r.cache.Seen(ctx, evt.ID)
		if err != nil {
			log.WithError(err).Warn("Event cache unavailable, falling back to audit ledger")
		} else if seen {
			return true
		}
	}

	processed, err := r.audit.HasProcessedEvent(ctx, evt.ID)
	if err != nil {
		log.WithError(err).Warn("Could not check processed events, reconciling anyway")
		return false
	}
	if processed {
		r.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceStripeWebhook).
			SetGatewayEvent(evt.ID).
			SetPaymentIntent(evt.IntentID).
			MarkDuplicate())
	}
	return processed
}

// ============================================================================
// PAYMENT EVENTS
// ============================================================================

func (r *WebhookReconciler) onPaymentSucceeded(ctx context.Context, evt *GatewayEvent, log *logrus.Entry) error {
	deposit, err := r.depositBooking(ctx, evt)
	if err != nil {
		return err
	}
	if deposit != nil {
		charged := FromMinorUnits(evt.AmountReceived, evt.Currency)
		if _, err := r.bookings.RecordDepositCaptured(ctx, deposit.ID, evt.IntentID, charged, r.now()); err != nil {
			return err
		}
		_, err := r.payments.AdvanceStatus(ctx, evt.IntentID, models.PaymentStatusSucceeded, optional(evt.ChargeID), nil)
		return err
	}

	payment, err := r.payments.GetByIntentID(ctx, evt.IntentID)
	if err != nil {
		return err
	}

	var bookingID uuid.UUID
	if payment != nil {
		if _, err := r.payments.AdvanceStatus(ctx, evt.IntentID, models.PaymentStatusSucceeded, optional(evt.ChargeID), nil); err != nil {
			return err
		}
		bookingID = payment.BookingID
	} else {
		b, err := r.findBooking(ctx, evt)
		if err != nil {
			return err
		}
		if b == nil {
			log.Warn("No booking found for succeeded payment")
			return nil
		}
		if err := r.synthesizePayment(ctx, b, evt); err != nil {
			return err
		}
		bookingID = b.ID
	}

	won, err := r.bookingSvc.ConfirmFromPayment(ctx, bookingID, models.PaymentSourceStripeWebhook)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"confirmed":  won,
	}).Info("Payment succeeded")
	return nil
}

// synthesizePayment records a payment the synchronous path has not stored yet
func (r *WebhookReconciler) synthesizePayment(ctx context.Context, b *models.Booking, evt *GatewayEvent) error {
	currency := evt.Currency
	if currency == "" {
		currency = b.Currency
	}
	p := &models.Payment{
		ID:                     uuid.New(),
		BookingID:              b.ID,
		CompanyID:              b.CompanyID,
		CustomerID:             b.CustomerID,
		PaymentType:            models.PaymentTypeFull,
		GatewayPaymentIntentID: evt.IntentID,
		GatewayChargeID:        optional(evt.ChargeID),
		PaymentMethodID:        optional(evt.PaymentMethodID),
		Status:                 models.PaymentStatusSucceeded,
		Amount:                 FromMinorUnits(evt.AmountReceived, currency),
		Currency:               b.Currency,
	}

	created, err := r.payments.CreateIfAbsent(ctx, p)
	if err != nil {
		return err
	}
	if !created {
		// the synchronous path stored it in the meantime
		_, err = r.payments.AdvanceStatus(ctx, evt.IntentID, models.PaymentStatusSucceeded, optional(evt.ChargeID), nil)
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"intent_id":  evt.IntentID,
	}).Info("Synthesized missing payment from webhook")
	return nil
}

func (r *WebhookReconciler) onPaymentFailed(ctx context.Context, evt *GatewayEvent, log *logrus.Entry) error {
	reason := evt.FailureMessage
	if reason == "" {
		reason = "payment failed"
	}

	deposit, err := r.depositBooking(ctx, evt)
	if err != nil {
		return err
	}
	if deposit != nil {
		if err := r.bookings.RecordDepositError(ctx, deposit.ID, reason); err != nil {
			return err
		}
	}

	advanced, err := r.payments.AdvanceStatus(ctx, evt.IntentID, models.PaymentStatusFailed, nil, &reason)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"reason":   reason,
		"code":     evt.FailureCode,
		"advanced": advanced,
	}).Warn("Payment failed")
	return nil
}

func (r *WebhookReconciler) onPaymentCanceled(ctx context.Context, evt *GatewayEvent, log *logrus.Entry) error {
	deposit, err := r.depositBooking(ctx, evt)
	if err != nil {
		return err
	}
	if deposit != nil {
		if _, err := r.bookings.RecordDepositReleased(ctx, deposit.ID, evt.IntentID, r.now()); err != nil {
			return err
		}
		log.WithField("booking_id", deposit.ID).Info("Security deposit released")
	}

	_, err = r.payments.AdvanceStatus(ctx, evt.IntentID, models.PaymentStatusCanceled, nil, nil)
	return err
}

// ============================================================================
// DEPOSIT EVENTS
// ============================================================================

func (r *WebhookReconciler) onDepositAuthorized(ctx context.Context, evt *GatewayEvent, log *logrus.Entry) error {
	b, err := r.depositBooking(ctx, evt)
	if err != nil {
		return err
	}
	if b == nil {
		log.Info("Capturable update for a non-deposit intent, ignoring")
		return nil
	}

	held := FromMinorUnits(evt.AmountCapturable, evt.Currency)
	recorded, err := r.bookings.RecordDepositAuthorized(ctx, b.ID, evt.IntentID, held, r.now())
	if err != nil {
		return err
	}

	_, err = r.payments.CreateIfAbsent(ctx, &models.Payment{
		ID:                     uuid.New(),
		BookingID:              b.ID,
		CompanyID:              b.CompanyID,
		CustomerID:             b.CustomerID,
		PaymentType:            models.PaymentTypeSecurityDeposit,
		GatewayPaymentIntentID: evt.IntentID,
		PaymentMethodID:        optional(evt.PaymentMethodID),
		Status:                 models.PaymentStatusPending,
		Amount:                 held,
		Currency:               b.Currency,
	})
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"held":       held,
		"recorded":   recorded,
	}).Info("Security deposit authorization reconciled")
	return nil
}

// depositBooking returns the booking when the intent is a deposit hold
func (r *WebhookReconciler) depositBooking(ctx context.Context, evt *GatewayEvent) (*models.Booking, error) {
	if evt.IntentID == "" {
		return nil, nil
	}
	b, err := r.bookings.GetByDepositIntentID(ctx, evt.IntentID)
	if err != nil || b != nil {
		return b, err
	}
	if evt.Metadata["purpose"] != PurposeSecurityDeposit {
		return nil, nil
	}

	id, err := uuid.Parse(evt.Metadata["booking_id"])
	if err != nil {
		return nil, nil
	}
	return r.bookings.GetByID(ctx, id)
}

// findBooking locates the booking paid by the intent, falling back to the
// booking id carried in metadata
func (r *WebhookReconciler) findBooking(ctx context.Context, evt *GatewayEvent) (*models.Booking, error) {
	b, err := r.bookings.GetByPaymentIntentID(ctx, evt.IntentID)
	if err != nil || b != nil {
		return b, err
	}

	id, err := uuid.Parse(evt.Metadata["booking_id"])
	if err != nil {
		return nil, nil
	}
	b, err = r.bookings.GetByID(ctx, id)
	if err != nil || b == nil {
		return nil, err
	}
	if b.PaymentIntentID != nil && *b.PaymentIntentID != evt.IntentID {
		return nil, fmt.Errorf("booking %s is paid by a different intent %s", b.ID, *b.PaymentIntentID)
	}
	return b, nil
}

// ============================================================================
// REFUND & ACCOUNT EVENTS
// ============================================================================

func (r *WebhookReconciler) onChargeRefunded(ctx context.Context, evt *GatewayEvent, log *logrus.Entry) error {
	payment, err := r.payments.GetByIntentID(ctx, evt.IntentID)
	if err != nil {
		return err
	}
	if payment == nil {
		log.Warn("Refund for unknown payment, ignoring")
		return nil
	}

	total := FromMinorUnits(evt.AmountRefunded, evt.Currency)
	if total > payment.Amount {
		return fmt.Errorf("gateway refunded %.2f which exceeds payment amount %.2f", total, payment.Amount)
	}
	if _, err := r.payments.MarkRefunded(ctx, evt.IntentID, total, r.now()); err != nil {
		return err
	}

	refundType := models.RefundTypePartial
	if total >= payment.Amount {
		refundType = models.RefundTypeFull
	}
	reason := "recorded from gateway"
	for _, refund := range evt.Refunds {
		_, err := r.refunds.Create(ctx, &models.RefundRecord{
			ID:              uuid.New(),
			BookingID:       payment.BookingID,
			PaymentID:       payment.ID,
			GatewayRefundID: refund.ID,
			Amount:          FromMinorUnits(refund.Amount, evt.Currency),
			Currency:        payment.Currency,
			RefundType:      refundType,
			Reason:          &reason,
		})
		if err != nil {
			return err
		}
	}

	if payment.PaymentType == models.PaymentTypeFull {
		if _, err := r.bookingSvc.CancelIfAllowed(ctx, payment.BookingID); err != nil {
			return err
		}
	}

	log.WithFields(logrus.Fields{
		"booking_id": payment.BookingID,
		"refunded":   total,
	}).Info("Refund reconciled")
	return nil
}

func (r *WebhookReconciler) onAccountUpdated(ctx context.Context, evt *GatewayEvent, log *logrus.Entry) error {
	if evt.Account == "" {
		return nil
	}
	n, err := r.catalog.SetChargesEnabled(ctx, evt.Account, evt.ChargesEnabled)
	if err != nil {
		return err
	}

	r.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventAccountUpdated, models.PaymentSourceStripeWebhook).
		SetGatewayEvent(evt.ID))
	log.WithFields(logrus.Fields{
		"account":         evt.Account,
		"charges_enabled": evt.ChargesEnabled,
		"companies":       n,
	}).Info("Connected account status synced")
	return nil
}

func (r *WebhookReconciler) logAudit(ctx context.Context, audit *models.PaymentAudit) {
	if err := r.audit.Log(ctx, audit); err != nil {
		r.logger.WithError(err).Warn("Failed to record payment audit")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
