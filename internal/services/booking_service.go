package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/rentflow/rental-backend/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// BookingServiceConfig holds configuration for the booking service
type BookingServiceConfig struct {
	FrontendURL       string
	CustomerLoginURL  string
	BcryptCost        int
	TempPasswordBytes int
}

// DefaultBookingServiceConfig returns default configuration
func DefaultBookingServiceConfig() BookingServiceConfig {
	return BookingServiceConfig{
		FrontendURL:       "http://localhost:3000",
		CustomerLoginURL:  "http://localhost:3000/login",
		BcryptCost:        bcrypt.DefaultCost,
		TempPasswordBytes: 6,
	}
}

// BookingService owns the booking lifecycle. Every status change is a
// compare-and-set on the current status; side effects run only for the
// caller whose update won.
type BookingService struct {
	bookings     BookingStore
	payments     PaymentStore
	customers    CustomerStore
	catalog      CatalogSource
	availability *AvailabilityService
	orchestrator *PaymentOrchestrator
	notifier     Notifier
	events       EventPublisher
	audit        AuditLog
	metrics      *Metrics
	config       BookingServiceConfig
	logger       *logrus.Logger
	now          func() time.Time
}

// NewBookingService creates a new booking service
func NewBookingService(
	bookings BookingStore,
	payments PaymentStore,
	customers CustomerStore,
	catalog CatalogSource,
	availability *AvailabilityService,
	orchestrator *PaymentOrchestrator,
	notifier Notifier,
	events EventPublisher,
	audit AuditLog,
	metrics *Metrics,
	config BookingServiceConfig,
	logger *logrus.Logger,
) *BookingService {
	return &BookingService{
		bookings:     bookings,
		payments:     payments,
		customers:    customers,
		catalog:      catalog,
		availability: availability,
		orchestrator: orchestrator,
		notifier:     notifier,
		events:       events,
		audit:        audit,
		metrics:      metrics,
		config:       config,
		logger:       logger,
		now:          time.Now,
	}
}

// ============================================================================
// CRUD
// ============================================================================

// CreateBooking creates a pending booking on behalf of staff. The vehicle is
// either given directly or picked from a model.
func (s *BookingService) CreateBooking(ctx context.Context, companyID, actorID uuid.UUID, req *models.CreateBookingRequest) (*models.Booking, error) {
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "invalid customer_id")
	}

	pickup, ret, err := ParseRentalDates(req.PickupDate, req.ReturnDate)
	if err != nil {
		return nil, err
	}

	vehicle, err := s.resolveVehicle(ctx, req.VehicleID, req.VehicleModelID, pickup, ret)
	if err != nil {
		return nil, err
	}
	if vehicle.CompanyID != companyID || !vehicle.IsActive {
		return nil, &models.NotFoundError{Resource: "vehicle", ID: vehicle.ID.String()}
	}

	customer, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	if customer == nil || customer.CompanyID != companyID {
		return nil, &models.NotFoundError{Resource: "customer", ID: customerID.String()}
	}

	company, err := s.getCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}

	rate := vehicle.DailyRate
	if req.DailyRate != nil {
		if *req.DailyRate <= 0 {
			return nil, models.NewValidationError(models.CodeInvalidAmount, "daily_rate must be positive")
		}
		rate = *req.DailyRate
	}
	if req.AdditionalFees != nil && *req.AdditionalFees < 0 {
		return nil, models.NewValidationError(models.CodeInvalidAmount, "additional_fees cannot be negative")
	}

	number, err := s.bookings.GenerateBookingNumber(ctx)
	if err != nil {
		return nil, err
	}

	b := &models.Booking{
		ID:                    uuid.New(),
		BookingNumber:         number,
		CustomerID:            customer.ID,
		VehicleID:             vehicle.ID,
		CompanyID:             companyID,
		Source:                models.BookingSourceStaff,
		PickupDate:            pickup,
		ReturnDate:            ret,
		PickupTime:            defaultTime(req.PickupTime),
		ReturnTime:            defaultTime(req.ReturnTime),
		Currency:              company.Currency,
		Status:                models.BookingStatusPending,
		SecurityDepositAmount: company.SecurityDepositAmount,
		SecurityDepositStatus: models.DepositStatusNone,
		Notes:                 req.Notes,
		CreatedBy:             &actorID,
	}
	QuotePrice(company, rate, pickup, ret, req.AdditionalFees).ApplyTo(b)

	if err := s.bookings.CreateIfAvailable(ctx, b); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":     b.ID,
		"booking_number": b.BookingNumber,
		"vehicle_id":     b.VehicleID,
		"created_by":     actorID,
	}).Info("Booking created by staff")

	return b, nil
}

// GetBooking returns a booking owned by the company
func (s *BookingService) GetBooking(ctx context.Context, companyID, id uuid.UUID) (*models.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if b == nil || b.CompanyID != companyID {
		return nil, &models.NotFoundError{Resource: "booking", ID: id.String()}
	}
	return b, nil
}

// UpdateDetails changes dates, times or rates. Availability is re-checked
// excluding the booking itself and the total is recomputed.
func (s *BookingService) UpdateDetails(ctx context.Context, companyID, id uuid.UUID, req *models.UpdateBookingRequest) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if b.Status.IsTerminal() {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "cannot edit a %s booking", b.Status)
	}

	pickup, ret := b.PickupDate, b.ReturnDate
	if req.PickupDate != nil {
		if pickup, err = time.Parse(models.DateLayout, *req.PickupDate); err != nil {
			return nil, models.NewValidationError(models.CodeInvalidDates, "invalid pickup date %q, expected YYYY-MM-DD", *req.PickupDate)
		}
	}
	if req.ReturnDate != nil {
		if ret, err = time.Parse(models.DateLayout, *req.ReturnDate); err != nil {
			return nil, models.NewValidationError(models.CodeInvalidDates, "invalid return date %q, expected YYYY-MM-DD", *req.ReturnDate)
		}
	}
	if err := ValidateRentalDates(pickup, ret); err != nil {
		return nil, err
	}
	datesChanged := !pickup.Equal(b.PickupDate) || !ret.Equal(b.ReturnDate)

	company, err := s.getCompany(ctx, b.CompanyID)
	if err != nil {
		return nil, err
	}

	b.PickupDate, b.ReturnDate = pickup, ret
	if req.PickupTime != nil {
		b.PickupTime = *req.PickupTime
	}
	if req.ReturnTime != nil {
		b.ReturnTime = *req.ReturnTime
	}
	if req.DailyRate != nil {
		if *req.DailyRate <= 0 {
			return nil, models.NewValidationError(models.CodeInvalidAmount, "daily_rate must be positive")
		}
		b.DailyRate = *req.DailyRate
	}

	b.RentalDays = models.RentalDayCount(pickup, ret)
	b.Subtotal = models.RoundAmount(b.DailyRate * float64(b.RentalDays))
	b.TaxAmount = models.RoundAmount(b.Subtotal * company.TaxRate)
	switch {
	case req.InsuranceAmount != nil:
		b.InsuranceAmount = models.RoundAmount(*req.InsuranceAmount)
	case datesChanged:
		b.InsuranceAmount = models.RoundAmount(company.InsurancePerDay * float64(b.RentalDays))
	}
	if req.AdditionalFees != nil {
		b.AdditionalFees = models.RoundAmount(*req.AdditionalFees)
	}
	if b.InsuranceAmount < 0 || b.AdditionalFees < 0 {
		return nil, models.NewValidationError(models.CodeInvalidAmount, "amounts cannot be negative")
	}
	if req.Notes != nil {
		b.Notes = req.Notes
	}
	b.RecalculateTotal()

	if err := s.bookings.UpdateDetailsIfAvailable(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBooking hard-deletes a booking that has no payments
func (s *BookingService) DeleteBooking(ctx context.Context, companyID, id uuid.UUID) error {
	if _, err := s.GetBooking(ctx, companyID, id); err != nil {
		return err
	}

	deleted, err := s.bookings.DeleteWithoutPayments(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return &models.ConflictError{
			Code:    models.CodeBookingHasPayments,
			Message: "booking has payments and cannot be deleted; cancel it instead",
		}
	}

	s.logger.WithField("booking_id", id).Info("Booking deleted")
	return nil
}

// ============================================================================
// STATE MACHINE
// ============================================================================

// UpdateStatus applies a staff-requested transition with its side effects.
// Completion settles the deposit first; a settlement error leaves the
// booking unchanged. Pickup places the deposit hold on a best-effort basis.
func (s *BookingService) UpdateStatus(ctx context.Context, companyID, id uuid.UUID, req *models.UpdateBookingStatusRequest) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, companyID, id)
	if err != nil {
		return nil, err
	}

	target, ok := models.ParseBookingStatus(req.Status)
	if !ok || !b.Status.CanTransitionTo(target) {
		return nil, &models.ValidationError{
			Code:    models.CodeInvalidTransition,
			Message: fmt.Sprintf("cannot change booking status from %s to %s", b.Status, req.Status),
			Allowed: b.Status.AllowedTransitionNames(),
		}
	}
	if req.DamageAmount != nil && *req.DamageAmount < 0 {
		return nil, models.NewValidationError(models.CodeInvalidAmount, "damage_amount cannot be negative")
	}

	if target == models.BookingStatusCompleted {
		if err := s.SettleDeposit(ctx, b, req.DamageAmount); err != nil {
			return nil, err
		}
	}

	won, err := s.transition(ctx, b, target)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, &models.ConflictError{
			Code:    models.CodeInvalidTransition,
			Message: "booking status changed concurrently, reload and retry",
		}
	}

	switch target {
	case models.BookingStatusConfirmed:
		s.afterConfirmed(ctx, b, models.PaymentSourceStaff)
	case models.BookingStatusPickedUp:
		if err := s.HoldDeposit(ctx, b.ID); err != nil {
			s.logger.WithError(err).WithField("booking_id", b.ID).Warn("Deposit hold failed, pickup proceeds")
		}
	}

	return s.GetBooking(ctx, companyID, id)
}

// ConfirmFromPayment moves a pending booking to confirmed after its payment
// succeeded. Both the synchronous path and the webhook call this; the
// conditional update guarantees one winner and the one-time side effects
// run only for it. Returns whether this call performed the transition.
func (s *BookingService) ConfirmFromPayment(ctx context.Context, bookingID uuid.UUID, source models.PaymentEventSource) (bool, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return false, fmt.Errorf("failed to load booking: %w", err)
	}
	if b == nil {
		return false, &models.NotFoundError{Resource: "booking", ID: bookingID.String()}
	}
	if b.Status != models.BookingStatusPending {
		return false, nil
	}

	won, err := s.transition(ctx, b, models.BookingStatusConfirmed)
	if err != nil || !won {
		return false, err
	}

	s.afterConfirmed(ctx, b, source)
	return true, nil
}

// CancelIfAllowed cancels the booking when the state machine permits it.
// No vehicle or deposit release happens implicitly.
func (s *BookingService) CancelIfAllowed(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return false, fmt.Errorf("failed to load booking: %w", err)
	}
	if b == nil || !b.Status.CanTransitionTo(models.BookingStatusCancelled) {
		return false, nil
	}
	return s.transition(ctx, b, models.BookingStatusCancelled)
}

func (s *BookingService) transition(ctx context.Context, b *models.Booking, to models.BookingStatus) (bool, error) {
	from := b.Status
	won, err := s.bookings.TransitionStatus(ctx, b.ID, from, to)
	if err != nil {
		if s.metrics != nil {
			s.metrics.BookingTransitions.WithLabelValues(string(to), "error").Inc()
		}
		return false, err
	}

	if s.metrics != nil {
		result := "applied"
		if !won {
			result = "lost"
		}
		s.metrics.BookingTransitions.WithLabelValues(string(to), result).Inc()
	}
	if !won {
		return false, nil
	}

	b.Status = to
	s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"from":       from,
		"to":         to,
	}).Info("Booking status changed")

	s.publish(ctx, NewDomainEvent(EventBookingStatusChanged, b.ID, b.CompanyID, map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	}))
	return true, nil
}

// afterConfirmed runs the one-time confirmation side effects. Failures are
// logged and never undo the confirmation.
func (s *BookingService) afterConfirmed(ctx context.Context, b *models.Booking, source models.PaymentEventSource) {
	audit := models.NewPaymentAudit(models.PaymentEventBookingConfirmed, source).SetBooking(b.ID)
	if b.PaymentIntentID != nil {
		audit.SetPaymentIntent(*b.PaymentIntentID)
	}
	s.logAudit(ctx, audit)

	customer, err := s.customers.GetByID(ctx, b.CustomerID)
	if err != nil || customer == nil {
		s.logger.WithError(err).WithField("booking_id", b.ID).Error("Confirmed booking has no loadable customer")
		return
	}

	vehicleName := ""
	if v, err := s.catalog.GetVehicle(ctx, b.VehicleID); err == nil && v != nil {
		vehicleName = v.DisplayName()
	}

	s.sendInvitation(ctx, customer, b, vehicleName)

	err = s.notifier.SendBookingConfirmation(ctx, BookingConfirmationEmail{
		To:            customer.Email,
		CustomerName:  customer.FullName(),
		BookingNumber: b.BookingNumber,
		VehicleName:   vehicleName,
		PickupDate:    b.PickupDate.Format(models.DateLayout),
		ReturnDate:    b.ReturnDate.Format(models.DateLayout),
		Total:         b.TotalAmount,
		Currency:      b.Currency,
		URL:           strings.TrimRight(s.config.FrontendURL, "/") + "/bookings/" + b.BookingNumber,
	})
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", b.ID).Warn("Failed to send booking confirmation")
	}

	s.publish(ctx, NewDomainEvent(EventBookingConfirmed, b.ID, b.CompanyID, map[string]interface{}{
		"booking_number": b.BookingNumber,
		"customer_id":    b.CustomerID.String(),
		"total_amount":   b.TotalAmount,
		"currency":       b.Currency,
		"source":         string(source),
	}))
}

// sendInvitation emails a temporary credential to a customer without an
// account. invitation_sent_at is claimed with a conditional update so only
// one confirmation ever sends it; a delivery failure reopens the claim.
func (s *BookingService) sendInvitation(ctx context.Context, c *models.Customer, b *models.Booking, vehicleName string) {
	if c.InvitationSentAt != nil || c.PasswordHash != nil {
		return
	}

	temp, err := utils.GenerateSecret(s.config.TempPasswordBytes)
	if err != nil {
		s.logger.WithError(err).Error("Failed to generate temporary credential")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(temp), s.config.BcryptCost)
	if err != nil {
		s.logger.WithError(err).Error("Failed to hash temporary credential")
		return
	}

	// postgres keeps microseconds; the reset compares on this value
	at := s.now().UTC().Truncate(time.Microsecond)
	claimed, err := s.customers.ClaimInvitation(ctx, c.ID, string(hash), at)
	if err != nil {
		s.logger.WithError(err).WithField("customer_id", c.ID).Error("Failed to claim invitation")
		return
	}
	if !claimed {
		return
	}

	err = s.notifier.SendInvitation(ctx, InvitationEmail{
		To:             c.Email,
		Name:           c.FullName(),
		LoginURL:       s.config.CustomerLoginURL,
		TempCredential: temp,
		BookingSummary: fmt.Sprintf("%s, %s, %s to %s", b.BookingNumber, vehicleName,
			b.PickupDate.Format(models.DateLayout), b.ReturnDate.Format(models.DateLayout)),
	})
	if err != nil {
		s.logger.WithError(err).WithField("customer_id", c.ID).Warn("Invitation email failed, reopening invitation")
		if resetErr := s.customers.ResetInvitation(ctx, c.ID, at); resetErr != nil {
			s.logger.WithError(resetErr).WithField("customer_id", c.ID).Error("Failed to reopen invitation")
		}
		return
	}

	s.logger.WithField("customer_id", c.ID).Info("Customer invitation sent")
}

// ============================================================================
// SECURITY DEPOSIT
// ============================================================================

// HoldDeposit authorizes the security deposit against the customer's last
// successful payment method. The amount is the booking's deposit, falling
// back to the company default. Failures are recorded on the booking for
// the retry job and returned.
func (s *BookingService) HoldDeposit(ctx context.Context, bookingID uuid.UUID) error {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("failed to load booking: %w", err)
	}
	if b == nil {
		return &models.NotFoundError{Resource: "booking", ID: bookingID.String()}
	}
	if b.SecurityDepositStatus != models.DepositStatusNone {
		return nil
	}

	amount := b.SecurityDepositAmount
	if amount <= 0 {
		company, err := s.getCompany(ctx, b.CompanyID)
		if err != nil {
			return err
		}
		amount = company.SecurityDepositAmount
	}
	if amount <= 0 {
		return nil
	}

	payment, err := s.payments.GetLatestSucceeded(ctx, b.ID, models.PaymentTypeFull)
	if err != nil {
		return fmt.Errorf("failed to load payment: %w", err)
	}
	if payment == nil || payment.PaymentMethodID == nil {
		return s.depositFailed(ctx, b, fmt.Errorf("no successful payment method on file for deposit"))
	}

	var gatewayCustomerID string
	if c, err := s.customers.GetByID(ctx, b.CustomerID); err == nil && c != nil && c.GatewayCustomerID != nil {
		gatewayCustomerID = *c.GatewayCustomerID
	}

	hold, err := s.orchestrator.AuthorizeHold(ctx, HoldRequest{
		CompanyID:         b.CompanyID,
		BookingID:         b.ID,
		Amount:            amount,
		Currency:          b.Currency,
		PaymentMethodID:   *payment.PaymentMethodID,
		GatewayCustomerID: gatewayCustomerID,
		Metadata: map[string]string{
			"booking_id":     b.ID.String(),
			"booking_number": b.BookingNumber,
			"purpose":        PurposeSecurityDeposit,
		},
		IdempotencyKey: fmt.Sprintf("deposit-%s-%d", b.ID, s.now().Unix()),
	})
	if err != nil {
		return s.depositFailed(ctx, b, err)
	}

	recorded, err := s.bookings.RecordDepositAuthorized(ctx, b.ID, hold.IntentID, hold.Amount, s.now())
	if err != nil {
		return err
	}
	if !recorded {
		// another hold won; do not leave a second authorization on the card
		s.logger.WithFields(logrus.Fields{
			"booking_id": b.ID,
			"intent_id":  hold.IntentID,
		}).Warn("Deposit already recorded, releasing duplicate hold")
		if _, err := s.orchestrator.Cancel(ctx, IntentRef{CompanyID: b.CompanyID, BookingID: b.ID, IntentID: hold.IntentID, Currency: b.Currency}); err != nil {
			s.logger.WithError(err).WithField("intent_id", hold.IntentID).Error("Failed to release duplicate hold")
		}
		return nil
	}

	_, err = s.payments.CreateIfAbsent(ctx, &models.Payment{
		ID:                     uuid.New(),
		BookingID:              b.ID,
		CompanyID:              b.CompanyID,
		CustomerID:             b.CustomerID,
		PaymentType:            models.PaymentTypeSecurityDeposit,
		GatewayPaymentIntentID: hold.IntentID,
		PaymentMethodID:        payment.PaymentMethodID,
		Status:                 models.PaymentStatusPending,
		Amount:                 hold.Amount,
		Currency:               b.Currency,
	})
	if err != nil {
		s.logger.WithError(err).WithField("intent_id", hold.IntentID).Error("Failed to record deposit payment")
	}

	if s.metrics != nil {
		s.metrics.DepositOperations.WithLabelValues("hold", "ok").Inc()
	}
	s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"intent_id":  hold.IntentID,
		"amount":     hold.Amount,
	}).Info("Security deposit authorized")
	return nil
}

func (s *BookingService) depositFailed(ctx context.Context, b *models.Booking, cause error) error {
	if s.metrics != nil {
		s.metrics.DepositOperations.WithLabelValues("hold", "error").Inc()
	}
	if err := s.bookings.RecordDepositError(ctx, b.ID, cause.Error()); err != nil {
		s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to record deposit error")
	}
	s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventError, models.PaymentSourceBackend).
		SetBooking(b.ID).
		SetError(cause.Error(), models.CodeDepositNotAuthorized))
	return cause
}

// SettleDeposit captures or releases the hold when a rental completes.
// damage > 0 captures min(damage, held); no damage releases the hold. If the
// gateway already settled the hold, local state is reconciled to match.
func (s *BookingService) SettleDeposit(ctx context.Context, b *models.Booking, damage *float64) error {
	hasDamage := damage != nil && *damage > 0

	if b.SecurityDepositStatus.IsSettled() {
		return nil
	}
	if b.SecurityDepositStatus != models.DepositStatusAuthorized || b.SecurityDepositIntentID == nil {
		if hasDamage {
			return models.NewValidationError(models.CodeDepositNotAuthorized,
				"no authorized security deposit to charge damage against")
		}
		return nil
	}

	ref := IntentRef{
		CompanyID: b.CompanyID,
		BookingID: b.ID,
		IntentID:  *b.SecurityDepositIntentID,
		Currency:  b.Currency,
	}
	now := s.now()

	var (
		operation string
		captured  bool
		charged   float64
	)
	if hasDamage {
		operation = "capture"
		var amount *float64
		if *damage < b.SecurityDepositHeld {
			amount = damage
		}
		result, err := s.orchestrator.Capture(ctx, ref, amount)
		if err != nil {
			s.countDeposit(operation, err)
			return err
		}
		captured, charged = !result.Canceled, result.AmountCaptured
	} else {
		operation = "release"
		result, err := s.orchestrator.Cancel(ctx, ref)
		if err != nil {
			s.countDeposit(operation, err)
			return err
		}
		captured, charged = result.Captured, result.AmountCaptured
	}

	var err error
	if captured {
		_, err = s.bookings.RecordDepositCaptured(ctx, b.ID, ref.IntentID, charged, now)
		if err == nil {
			_, err = s.payments.AdvanceStatus(ctx, ref.IntentID, models.PaymentStatusSucceeded, nil, nil)
		}
	} else {
		_, err = s.bookings.RecordDepositReleased(ctx, b.ID, ref.IntentID, now)
		if err == nil {
			_, err = s.payments.AdvanceStatus(ctx, ref.IntentID, models.PaymentStatusCanceled, nil, nil)
		}
	}
	s.countDeposit(operation, err)
	if err != nil {
		return err
	}

	state := models.DepositStatusReleased
	if captured {
		state = models.DepositStatusCaptured
	}
	s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"intent_id":  ref.IntentID,
		"state":      state,
		"charged":    charged,
	}).Info("Security deposit settled")

	s.publish(ctx, NewDomainEvent(EventDepositSettled, b.ID, b.CompanyID, map[string]interface{}{
		"state":    string(state),
		"charged":  charged,
		"currency": b.Currency,
	}))
	return nil
}

func (s *BookingService) countDeposit(operation string, err error) {
	if s.metrics != nil {
		s.metrics.DepositOperations.WithLabelValues(operation, resultLabel(err)).Inc()
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *BookingService) resolveVehicle(ctx context.Context, vehicleID, modelID string, pickup, ret time.Time) (*models.Vehicle, error) {
	switch {
	case vehicleID != "":
		id, err := uuid.Parse(vehicleID)
		if err != nil {
			return nil, models.NewValidationError(models.CodeInvalidRequest, "invalid vehicle_id")
		}
		v, err := s.catalog.GetVehicle(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load vehicle: %w", err)
		}
		if v == nil {
			return nil, &models.NotFoundError{Resource: "vehicle", ID: vehicleID}
		}
		return v, nil
	case modelID != "":
		id, err := uuid.Parse(modelID)
		if err != nil {
			return nil, models.NewValidationError(models.CodeInvalidRequest, "invalid vehicle_model_id")
		}
		return s.availability.SelectVehicleForModel(ctx, id, pickup, ret)
	default:
		return nil, models.NewValidationError(models.CodeInvalidRequest, "vehicle_id or vehicle_model_id is required")
	}
}

func (s *BookingService) getCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	company, err := s.catalog.GetCompany(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load company: %w", err)
	}
	if company == nil {
		return nil, &models.NotFoundError{Resource: "company", ID: id.String()}
	}
	return company, nil
}

func (s *BookingService) publish(ctx context.Context, event DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.Type,
			"booking_id": event.BookingID,
		}).Warn("Failed to publish domain event")
	}
}

func (s *BookingService) logAudit(ctx context.Context, audit *models.PaymentAudit) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, audit); err != nil {
		s.logger.WithError(err).Warn("Failed to record payment audit")
	}
}

func defaultTime(t string) string {
	if t == "" {
		return "10:00"
	}
	return t
}

// PurposeSecurityDeposit tags deposit intents in gateway metadata
const PurposeSecurityDeposit = "security_deposit"
