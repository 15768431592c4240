package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/rentflow/rental-backend/internal/utils"
	"github.com/rentflow/rental-backend/pkg/validator"
	"github.com/sirupsen/logrus"
)

// BookingTokenConfig holds configuration for booking links
type BookingTokenConfig struct {
	DefaultTTLHours int
	MaxTTLHours     int
	FrontendURL     string
	TokenBytes      int
}

// DefaultBookingTokenConfig returns default configuration
func DefaultBookingTokenConfig() BookingTokenConfig {
	return BookingTokenConfig{
		DefaultTTLHours: 72,
		MaxTTLHours:     24 * 30,
		FrontendURL:     "http://localhost:3000",
		TokenBytes:      24,
	}
}

// BookingTokenService issues single-use booking links and exchanges them
// for a paid booking.
type BookingTokenService struct {
	tokens       BookingTokenStore
	bookings     BookingStore
	payments     PaymentStore
	customers    CustomerStore
	catalog      CatalogSource
	bookingSvc   *BookingService
	orchestrator *PaymentOrchestrator
	notifier     Notifier
	contacts     *validator.ContactValidator
	metrics      *Metrics
	config       BookingTokenConfig
	logger       *logrus.Logger
	now          func() time.Time
}

// NewBookingTokenService creates a new booking token service
func NewBookingTokenService(
	tokens BookingTokenStore,
	bookings BookingStore,
	payments PaymentStore,
	customers CustomerStore,
	catalog CatalogSource,
	bookingSvc *BookingService,
	orchestrator *PaymentOrchestrator,
	notifier Notifier,
	metrics *Metrics,
	config BookingTokenConfig,
	logger *logrus.Logger,
) *BookingTokenService {
	return &BookingTokenService{
		tokens:       tokens,
		bookings:     bookings,
		payments:     payments,
		customers:    customers,
		catalog:      catalog,
		bookingSvc:   bookingSvc,
		orchestrator: orchestrator,
		notifier:     notifier,
		contacts:     validator.NewContactValidator(),
		metrics:      metrics,
		config:       config,
		logger:       logger,
		now:          time.Now,
	}
}

// ============================================================================
// ISSUE
// ============================================================================

// IssueToken snapshots the current price for a vehicle and date range and
// emails the booking link. Later catalog changes do not affect the snapshot.
func (s *BookingTokenService) IssueToken(ctx context.Context, companyID, actorID uuid.UUID, req *models.IssueBookingTokenRequest) (*models.BookingToken, error) {
	email, err := s.contacts.ValidateEmail(req.CustomerEmail)
	if err != nil {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "customer_email: %v", err)
	}

	vehicleID, err := uuid.Parse(req.VehicleID)
	if err != nil {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "invalid vehicle_id")
	}

	pickup, ret, err := ParseRentalDates(req.PickupDate, req.ReturnDate)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if models.TruncateToDay(pickup).Before(models.TruncateToDay(now)) {
		return nil, models.NewValidationError(models.CodeInvalidDates, "pickup date is in the past")
	}

	ttl := req.TTLHours
	if ttl == 0 {
		ttl = s.config.DefaultTTLHours
	}
	if ttl < 1 || ttl > s.config.MaxTTLHours {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "ttl_hours must be between 1 and %d", s.config.MaxTTLHours)
	}

	vehicle, err := s.catalog.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load vehicle: %w", err)
	}
	if vehicle == nil || vehicle.CompanyID != companyID || !vehicle.IsActive {
		return nil, &models.NotFoundError{Resource: "vehicle", ID: req.VehicleID}
	}

	company, err := s.catalog.GetCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load company: %w", err)
	}
	if company == nil {
		return nil, &models.NotFoundError{Resource: "company", ID: companyID.String()}
	}

	start, end := models.RentalWindow(pickup, ret)
	conflict, err := s.bookings.HasConflict(ctx, vehicle.ID, start, end, nil)
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, &models.ConflictError{
			Code:    models.CodeVehicleUnavailable,
			Message: fmt.Sprintf("%s is not available from %s to %s", vehicle.DisplayName(), req.PickupDate, req.ReturnDate),
		}
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
	deposit := company.SecurityDepositAmount
	if req.SecurityDeposit != nil {
		if *req.SecurityDeposit < 0 {
			return nil, models.NewValidationError(models.CodeInvalidAmount, "security_deposit cannot be negative")
		}
		deposit = *req.SecurityDeposit
	}

	quote := QuotePrice(company, rate, pickup, ret, req.AdditionalFees)

	tokenValue, err := utils.GenerateSecret(s.config.TokenBytes)
	if err != nil {
		return nil, err
	}

	token := &models.BookingToken{
		ID:            uuid.New(),
		Token:         tokenValue,
		CompanyID:     companyID,
		VehicleID:     vehicle.ID,
		CustomerEmail: email,
		PickupDate:    pickup,
		ReturnDate:    ret,
		PickupTime:    defaultTime(req.PickupTime),
		ReturnTime:    defaultTime(req.ReturnTime),
		PriceSnapshot: quote.Snapshot(vehicle.DisplayName(), company.Name, deposit, company.Currency, now.UTC()),
		ExpiresAt:     now.Add(time.Duration(ttl) * time.Hour),
		CreatedBy:     &actorID,
		CreatedAt:     now,
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, err
	}

	err = s.notifier.SendBookingLink(ctx, BookingLinkEmail{
		To:          email,
		URL:         s.BookingURL(token.Token),
		VehicleName: token.PriceSnapshot.VehicleName,
		CompanyName: token.PriceSnapshot.CompanyName,
		PickupDate:  req.PickupDate,
		ReturnDate:  req.ReturnDate,
		Total:       token.PriceSnapshot.TotalAmount,
		Currency:    token.PriceSnapshot.Currency,
		ExpiresAt:   token.ExpiresAt.UTC().Format(time.RFC1123),
	})
	if err != nil {
		s.logger.WithError(err).WithField("token_id", token.ID).Warn("Failed to send booking link")
	}

	s.logger.WithFields(logrus.Fields{
		"token_id":   token.ID,
		"vehicle_id": vehicle.ID,
		"total":      quote.TotalAmount,
		"expires_at": token.ExpiresAt,
	}).Info("Booking token issued")

	return token, nil
}

// BookingURL is the customer-facing link for a token
func (s *BookingTokenService) BookingURL(token string) string {
	return strings.TrimRight(s.config.FrontendURL, "/") + "/book/" + token
}

// GetToken returns a token for display. Expired unused tokens are reported
// as expired.
func (s *BookingTokenService) GetToken(ctx context.Context, value string) (*models.BookingToken, error) {
	token, err := s.tokens.GetByToken(ctx, value)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, &models.NotFoundError{Resource: "booking token", ID: value}
	}
	if !token.IsUsed && token.IsExpired(s.now()) {
		return nil, &models.ExpiredError{Resource: "booking token", ExpiredAt: token.ExpiresAt.UTC().Format(time.RFC3339)}
	}
	return token, nil
}

// ============================================================================
// EXCHANGE
// ============================================================================

// ExchangeToken charges the quoted total and creates the booking.
//
// The token is claimed with a conditional update before any other work, so
// a concurrent second exchange fails immediately. If anything fails after
// the claim, the claim is released; if money already moved, it is refunded.
func (s *BookingTokenService) ExchangeToken(ctx context.Context, value string, req *models.ExchangeBookingTokenRequest) (booking *models.Booking, err error) {
	defer func() {
		if s.metrics != nil {
			s.metrics.TokenExchanges.WithLabelValues(exchangeResult(err)).Inc()
		}
	}()

	if strings.TrimSpace(req.PaymentMethodID) == "" {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "payment_method_id is required")
	}
	var phone *string
	if req.Phone != nil && *req.Phone != "" {
		p, err := s.contacts.ValidatePhone(*req.Phone)
		if err != nil {
			return nil, models.NewValidationError(models.CodeInvalidRequest, "phone: %v", err)
		}
		phone = &p
	}

	claimed, err := s.tokens.Claim(ctx, value, s.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, s.claimFailure(ctx, value)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// release with a context that survives request cancellation
		if releaseErr := s.tokens.ReleaseClaim(context.WithoutCancel(ctx), value); releaseErr != nil {
			s.logger.WithError(releaseErr).Error("Failed to release booking token claim")
		}
	}()

	token, err := s.tokens.GetByToken(ctx, value)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, &models.NotFoundError{Resource: "booking token", ID: value}
	}
	snapshot := token.PriceSnapshot

	customer, err := s.findOrCreateCustomer(ctx, token, req, phone)
	if err != nil {
		return nil, err
	}

	start, end := models.RentalWindow(token.PickupDate, token.ReturnDate)
	conflict, err := s.bookings.HasConflict(ctx, token.VehicleID, start, end, nil)
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, &models.ConflictError{
			Code:    models.CodeVehicleUnavailable,
			Message: "vehicle is no longer available for these dates",
		}
	}

	number, err := s.bookings.GenerateBookingNumber(ctx)
	if err != nil {
		return nil, err
	}
	b := &models.Booking{
		ID:                    uuid.New(),
		BookingNumber:         number,
		CustomerID:            customer.ID,
		VehicleID:             token.VehicleID,
		CompanyID:             token.CompanyID,
		Source:                models.BookingSourceToken,
		PickupDate:            token.PickupDate,
		ReturnDate:            token.ReturnDate,
		PickupTime:            token.PickupTime,
		ReturnTime:            token.ReturnTime,
		DailyRate:             snapshot.DailyRate,
		RentalDays:            snapshot.RentalDays,
		Subtotal:              snapshot.Subtotal,
		TaxAmount:             snapshot.TaxAmount,
		InsuranceAmount:       snapshot.InsuranceAmount,
		AdditionalFees:        snapshot.AdditionalFees,
		Currency:              snapshot.Currency,
		Status:                models.BookingStatusPending,
		SecurityDepositAmount: snapshot.SecurityDeposit,
		SecurityDepositStatus: models.DepositStatusNone,
	}
	b.RecalculateTotal()

	gatewayCustomerID, err := s.ensureGatewayCustomer(ctx, customer)
	if err != nil {
		return nil, err
	}
	charge, err := s.orchestrator.CreateAndConfirmPayment(ctx, ChargeRequest{
		CompanyID:         b.CompanyID,
		BookingID:         b.ID,
		Amount:            b.TotalAmount,
		Currency:          b.Currency,
		PaymentMethodID:   req.PaymentMethodID,
		GatewayCustomerID: gatewayCustomerID,
		SaveForOffSession: true,
		Description:       fmt.Sprintf("Rental %s: %s", b.BookingNumber, snapshot.VehicleName),
		Metadata: map[string]string{
			"booking_id":     b.ID.String(),
			"booking_number": b.BookingNumber,
			"token_id":       token.ID.String(),
			"purpose":        "rental",
		},
		IdempotencyKey: "charge-" + b.ID.String(),
	})
	if err != nil {
		return nil, err
	}
	b.PaymentIntentID = &charge.IntentID

	// from here on money has moved: every failure refunds before releasing
	if err := s.bookings.CreateIfAvailable(ctx, b); err != nil {
		s.compensate(ctx, b, charge, err)
		return nil, err
	}

	payment := &models.Payment{
		ID:                     uuid.New(),
		BookingID:              b.ID,
		CompanyID:              b.CompanyID,
		CustomerID:             b.CustomerID,
		PaymentType:            models.PaymentTypeFull,
		GatewayPaymentIntentID: charge.IntentID,
		PaymentMethodID:        &charge.PaymentMethodID,
		Status:                 models.PaymentStatusSucceeded,
		Amount:                 charge.Amount,
		Currency:               b.Currency,
	}
	if charge.ChargeID != "" {
		payment.GatewayChargeID = &charge.ChargeID
	}
	if _, err := s.payments.CreateIfAbsent(ctx, payment); err != nil {
		// the booking exists and the webhook can still synthesize the payment
		s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to record payment")
	}

	if err := s.tokens.AttachBooking(ctx, value, b.ID); err != nil {
		s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to attach booking to token")
	}
	committed = true

	if _, err := s.bookingSvc.ConfirmFromPayment(ctx, b.ID, models.PaymentSourceBackend); err != nil {
		s.logger.WithError(err).WithField("booking_id", b.ID).Warn("Confirmation deferred to webhook")
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":     b.ID,
		"booking_number": b.BookingNumber,
		"intent_id":      charge.IntentID,
		"total":          b.TotalAmount,
	}).Info("Booking token exchanged")

	confirmed, err := s.bookings.GetByID(ctx, b.ID)
	if err != nil || confirmed == nil {
		return b, nil
	}
	return confirmed, nil
}

// claimFailure explains why a claim did not succeed
func (s *BookingTokenService) claimFailure(ctx context.Context, value string) error {
	token, err := s.tokens.GetByToken(ctx, value)
	if err != nil {
		return err
	}
	switch {
	case token == nil:
		return &models.NotFoundError{Resource: "booking token", ID: value}
	case token.IsUsed:
		return &models.ConflictError{Code: models.CodeTokenAlreadyUsed, Message: "booking token already used"}
	case token.IsExpired(s.now()):
		return &models.ExpiredError{Resource: "booking token", ExpiredAt: token.ExpiresAt.UTC().Format(time.RFC3339)}
	default:
		return &models.ConflictError{Code: models.CodeTokenAlreadyUsed, Message: "booking token is being used"}
	}
}

func (s *BookingTokenService) findOrCreateCustomer(ctx context.Context, token *models.BookingToken, req *models.ExchangeBookingTokenRequest, phone *string) (*models.Customer, error) {
	existing, err := s.customers.GetByEmail(ctx, token.CompanyID, token.CustomerEmail)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	return s.customers.Create(ctx, &models.Customer{
		ID:        uuid.New(),
		CompanyID: token.CompanyID,
		Email:     token.CustomerEmail,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Phone:     phone,
	})
}

// ensureGatewayCustomer returns the customer's gateway id, creating and
// storing one on first use. The deposit hold at pickup charges the card
// off-session, which needs the card saved against this customer.
func (s *BookingTokenService) ensureGatewayCustomer(ctx context.Context, customer *models.Customer) (string, error) {
	if customer.GatewayCustomerID != nil && *customer.GatewayCustomerID != "" {
		return *customer.GatewayCustomerID, nil
	}

	gatewayID, err := s.orchestrator.CreateCustomer(ctx, customer.CompanyID, customer)
	if err != nil {
		return "", err
	}
	if err := s.customers.SetGatewayCustomerID(ctx, customer.ID, gatewayID); err != nil {
		return "", fmt.Errorf("failed to store gateway customer: %w", err)
	}
	customer.GatewayCustomerID = &gatewayID
	return gatewayID, nil
}

// compensate refunds a charge whose booking could not be stored
func (s *BookingTokenService) compensate(ctx context.Context, b *models.Booking, charge *ChargeResult, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"intent_id":  charge.IntentID,
		"amount":     charge.Amount,
	})
	log.WithError(cause).Warn("Booking not stored after payment, refunding")

	_, err := s.orchestrator.Refund(ctx,
		IntentRef{CompanyID: b.CompanyID, BookingID: b.ID, IntentID: charge.IntentID, Currency: b.Currency},
		charge.Amount, charge.Amount, "booking could not be created", "compensate-"+charge.IntentID)
	if err != nil {
		log.WithError(err).Error("Compensating refund failed, manual reconciliation required")
	}
}

func exchangeResult(err error) string {
	if err == nil {
		return "success"
	}
	var (
		conflict *models.ConflictError
		expired  *models.ExpiredError
		notFound *models.NotFoundError
		gateway  *models.GatewayError
	)
	switch {
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &expired):
		return "expired"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &gateway):
		return "payment_failed"
	default:
		return "error"
	}
}
