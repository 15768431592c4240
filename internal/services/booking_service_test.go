package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (env *testEnv) seedCustomer(email string) *models.Customer {
	c := &models.Customer{ID: uuid.New(), CompanyID: env.company.ID, Email: email, FirstName: "Lee", LastName: "Park"}
	env.customers.rows[c.ID] = c
	return c
}

func (env *testEnv) staffBooking(t *testing.T, customerID uuid.UUID, pickup, ret string) (*models.Booking, error) {
	t.Helper()
	return env.bookingSvc.CreateBooking(context.Background(), env.company.ID, env.staffID, &models.CreateBookingRequest{
		CustomerID: customerID.String(),
		VehicleID:  env.vehicle.ID.String(),
		PickupDate: pickup,
		ReturnDate: ret,
	})
}

func TestCreateBooking_Staff(t *testing.T) {
	env := newTestEnv(t, nil)
	customer := env.seedCustomer("walkin@example.com")

	b, err := env.staffBooking(t, customer.ID, "2030-06-10", "2030-06-13")
	require.NoError(t, err)

	assert.Equal(t, models.BookingStatusPending, b.Status)
	assert.Equal(t, models.BookingSourceStaff, b.Source)
	assert.Equal(t, "10:00", b.PickupTime)
	assert.Equal(t, 165.0, b.TotalAmount)
	require.NotNil(t, b.CreatedBy)
	assert.Equal(t, env.staffID, *b.CreatedBy)
}

func TestCreateBooking_Overlaps(t *testing.T) {
	env := newTestEnv(t, nil)
	customer := env.seedCustomer("walkin@example.com")

	_, err := env.staffBooking(t, customer.ID, "2030-06-10", "2030-06-13")
	require.NoError(t, err)

	tests := []struct {
		name      string
		pickup    string
		ret       string
		wantError bool
	}{
		{"same window", "2030-06-10", "2030-06-13", true},
		{"overlaps return day", "2030-06-12", "2030-06-15", true},
		{"same-day inside window", "2030-06-11", "2030-06-11", true},
		{"starts on return day", "2030-06-13", "2030-06-15", false},
		{"ends on pickup day", "2030-06-08", "2030-06-10", false},
		{"same-day on return day", "2030-06-13", "2030-06-13", false},
		{"day after return", "2030-06-14", "2030-06-16", false},
		{"day before pickup", "2030-06-05", "2030-06-09", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := env.staffBooking(t, customer.ID, tt.pickup, tt.ret)
			if !tt.wantError {
				require.NoError(t, err)
				// free the slot for the next case
				_, err = env.bookingSvc.CancelIfAllowed(context.Background(), b.ID)
				require.NoError(t, err)
				return
			}
			var conflict *models.ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, models.CodeVehicleUnavailable, conflict.Code)
		})
	}
}

func TestCreateBooking_ByModelPicksFreeVehicle(t *testing.T) {
	env := newTestEnv(t, nil)
	customer := env.seedCustomer("walkin@example.com")

	second := &models.Vehicle{
		ID: uuid.New(), CompanyID: env.company.ID, ModelID: &env.model.ID,
		Make: "Toyota", Model: "Corolla", Year: 2024, DailyRate: 55, IsActive: true,
	}
	env.catalog.vehicles[second.ID] = second

	_, err := env.staffBooking(t, customer.ID, "2030-06-10", "2030-06-13")
	require.NoError(t, err)

	b, err := env.bookingSvc.CreateBooking(context.Background(), env.company.ID, env.staffID, &models.CreateBookingRequest{
		CustomerID:     customer.ID.String(),
		VehicleModelID: env.model.ID.String(),
		PickupDate:     "2030-06-11",
		ReturnDate:     "2030-06-12",
	})
	require.NoError(t, err)
	assert.Equal(t, second.ID, b.VehicleID)

	_, err = env.bookingSvc.CreateBooking(context.Background(), env.company.ID, env.staffID, &models.CreateBookingRequest{
		CustomerID:     customer.ID.String(),
		VehicleModelID: env.model.ID.String(),
		PickupDate:     "2030-06-11",
		ReturnDate:     "2030-06-12",
	})
	var conflict *models.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Message, "no vehicle available for these dates")
}

func TestGetBooking_OtherCompany(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.bookViaToken(t, "2030-06-10", "2030-06-13")

	_, err := env.bookingSvc.GetBooking(context.Background(), uuid.New(), b.ID)
	var nf *models.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestUpdateDetails_RecomputesTotal(t *testing.T) {
	env := newTestEnv(t, nil)
	customer := env.seedCustomer("walkin@example.com")
	b, err := env.staffBooking(t, customer.ID, "2030-06-10", "2030-06-13")
	require.NoError(t, err)

	ret := "2030-06-15"
	updated, err := env.bookingSvc.UpdateDetails(context.Background(), env.company.ID, b.ID, &models.UpdateBookingRequest{
		ReturnDate:     &ret,
		AdditionalFees: floatPtr(20),
	})
	require.NoError(t, err)

	assert.Equal(t, 5, updated.RentalDays)
	assert.Equal(t, 250.0, updated.Subtotal)
	assert.Equal(t, 25.0, updated.TaxAmount)
	assert.Equal(t, 295.0, updated.TotalAmount)
	assert.True(t, updated.TotalMatches())

	stored := env.mustBooking(t, b.ID)
	assert.Equal(t, 295.0, stored.TotalAmount)
}

func TestUpdateDetails_RejectsOverlap(t *testing.T) {
	env := newTestEnv(t, nil)
	customer := env.seedCustomer("walkin@example.com")
	first, err := env.staffBooking(t, customer.ID, "2030-06-10", "2030-06-13")
	require.NoError(t, err)
	_, err = env.staffBooking(t, customer.ID, "2030-06-20", "2030-06-22")
	require.NoError(t, err)

	ret := "2030-06-21"
	_, err = env.bookingSvc.UpdateDetails(context.Background(), env.company.ID, first.ID, &models.UpdateBookingRequest{ReturnDate: &ret})

	var conflict *models.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 165.0, env.mustBooking(t, first.ID).TotalAmount)
}

func TestDeleteBooking(t *testing.T) {
	env := newTestEnv(t, nil)
	customer := env.seedCustomer("walkin@example.com")
	unpaid, err := env.staffBooking(t, customer.ID, "2030-06-20", "2030-06-22")
	require.NoError(t, err)
	paid := env.bookViaToken(t, "2030-06-10", "2030-06-13")

	require.NoError(t, env.bookingSvc.DeleteBooking(context.Background(), env.company.ID, unpaid.ID))
	gone, _ := env.bookings.GetByID(context.Background(), unpaid.ID)
	assert.Nil(t, gone)

	err = env.bookingSvc.DeleteBooking(context.Background(), env.company.ID, paid.ID)
	var conflict *models.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, models.CodeBookingHasPayments, conflict.Code)
}

func TestUpdateStatus_InvalidTransition(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.bookViaToken(t, "2030-06-10", "2030-06-13")

	tests := []struct {
		name   string
		status string
	}{
		{"skip to completed", "completed"},
		{"back to pending", "pending"},
		{"unknown status", "flying"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.bookingSvc.UpdateStatus(context.Background(), env.company.ID, b.ID,
				&models.UpdateBookingStatusRequest{Status: tt.status})

			var vErr *models.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, models.CodeInvalidTransition, vErr.Code)
			assert.Equal(t, []string{"active", "cancelled", "no_show", "picked_up"}, vErr.Allowed)
		})
	}
	assert.Equal(t, models.BookingStatusConfirmed, env.mustBooking(t, b.ID).Status)
}

func TestUpdateStatus_TerminalStates(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.bookViaToken(t, "2030-06-10", "2030-06-13")
	env.setStatus(t, b.ID, models.BookingStatusCancelled, nil)

	_, err := env.bookingSvc.UpdateStatus(context.Background(), env.company.ID, b.ID,
		&models.UpdateBookingStatusRequest{Status: "confirmed"})
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Empty(t, vErr.Allowed)
}

func TestUpdateStatus_StaffConfirmSendsSideEffectsOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	customer := env.seedCustomer("walkin@example.com")
	b, err := env.staffBooking(t, customer.ID, "2030-06-10", "2030-06-13")
	require.NoError(t, err)

	env.setStatus(t, b.ID, models.BookingStatusConfirmed, nil)

	won, err := env.bookingSvc.ConfirmFromPayment(context.Background(), b.ID, models.PaymentSourceStripeWebhook)
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, 1, env.notifier.sent("SendInvitation"))
	assert.Equal(t, 1, env.notifier.sent("SendBookingConfirmation"))
}

func TestConfirmFromPayment_ConcurrentCallersOneWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	customer := env.seedCustomer("walkin@example.com")
	b, err := env.staffBooking(t, customer.ID, "2030-06-10", "2030-06-13")
	require.NoError(t, err)

	const callers = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := env.bookingSvc.ConfirmFromPayment(context.Background(), b.ID, models.PaymentSourceBackend)
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, env.notifier.sent("SendInvitation"))
	assert.Equal(t, 1, env.events.count(EventBookingConfirmed))
}

func TestCancelledBookingFreesVehicle(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.bookViaToken(t, "2030-06-10", "2030-06-13")
	env.setStatus(t, b.ID, models.BookingStatusCancelled, nil)

	customer := env.seedCustomer("walkin@example.com")
	_, err := env.staffBooking(t, customer.ID, "2030-06-10", "2030-06-13")
	assert.NoError(t, err)
}

func TestCreateBooking_BackToBackOnHandoverDay(t *testing.T) {
	env := newTestEnv(t, nil)
	customer := env.seedCustomer("walkin@example.com")

	first, err := env.staffBooking(t, customer.ID, "2030-06-10", "2030-06-12")
	require.NoError(t, err)
	env.setStatus(t, first.ID, models.BookingStatusConfirmed, nil)

	next, err := env.staffBooking(t, customer.ID, "2030-06-12", "2030-06-14")
	require.NoError(t, err)
	assert.Equal(t, env.vehicle.ID, next.VehicleID)

	_, err = env.staffBooking(t, customer.ID, "2030-06-11", "2030-06-13")
	var conflict *models.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, models.CodeVehicleUnavailable, conflict.Code)
}

func TestCreateBooking_ConcurrentRequestsForLastWindow(t *testing.T) {
	env := newTestEnv(t, nil)
	customer := env.seedCustomer("walkin@example.com")

	const callers = 2
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.staffBooking(t, customer.ID, "2030-06-10", "2030-06-13")
			mu.Lock()
			defer mu.Unlock()
			var conflict *models.ConflictError
			switch {
			case err == nil:
				created++
			case assert.ErrorAs(t, err, &conflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, conflicts)
}

// ============================================================================
// SECURITY DEPOSIT
// ============================================================================

func TestPickup_HoldsDeposit(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.bookViaToken(t, "2030-06-10", "2030-06-13")

	picked := env.setStatus(t, b.ID, models.BookingStatusPickedUp, nil)

	assert.Equal(t, models.BookingStatusPickedUp, picked.Status)
	assert.Equal(t, models.DepositStatusAuthorized, picked.SecurityDepositStatus)
	assert.Equal(t, 300.0, picked.SecurityDepositHeld)
	require.NotNil(t, picked.SecurityDepositIntentID)

	hold := env.gateway.intent(*picked.SecurityDepositIntentID)
	assert.Equal(t, IntentRequiresCapture, hold.Status)
	assert.Equal(t, int64(30000), hold.AmountCapturable)
	assert.Equal(t, "pm_card_visa", hold.PaymentMethodID)
	assert.Equal(t, PurposeSecurityDeposit, hold.Metadata["purpose"])

	deposit, _ := env.payments.GetByIntentID(context.Background(), *picked.SecurityDepositIntentID)
	require.NotNil(t, deposit)
	assert.Equal(t, models.PaymentTypeSecurityDeposit, deposit.PaymentType)
	assert.Equal(t, models.PaymentStatusPending, deposit.Status)
}

func TestPickup_HoldUsesSavedCustomer(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.bookViaToken(t, "2030-06-10", "2030-06-13")
	customer, _ := env.customers.GetByID(context.Background(), b.CustomerID)
	require.NotNil(t, customer.GatewayCustomerID)

	picked := env.setStatus(t, b.ID, models.BookingStatusPickedUp, nil)
	require.NotNil(t, picked.SecurityDepositIntentID)

	hold := env.gateway.intent(*picked.SecurityDepositIntentID)
	assert.Equal(t, *customer.GatewayCustomerID, hold.CustomerID)
	assert.Equal(t, IntentRequiresCapture, hold.Status)
}

func TestPickup_HoldFailsWithoutSavedCustomer(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.bookViaToken(t, "2030-06-10", "2030-06-13")
	env.customers.rows[b.CustomerID].GatewayCustomerID = nil

	picked := env.setStatus(t, b.ID, models.BookingStatusPickedUp, nil)
	assert.Equal(t, models.BookingStatusPickedUp, picked.Status)
	assert.Equal(t, models.DepositStatusNone, picked.SecurityDepositStatus)
	require.NotNil(t, picked.SecurityDepositLastError)
}

func TestComplete_SettlesDeposit(t *testing.T) {
	tests := []struct {
		name        string
		damage      *float64
		wantStatus  models.DepositStatus
		wantCharged *float64
		wantIntent  IntentStatus
		wantPayment models.PaymentStatus
	}{
		{"no damage releases", nil, models.DepositStatusReleased, nil, IntentCanceled, models.PaymentStatusCanceled},
		{"zero damage releases", floatPtr(0), models.DepositStatusReleased, nil, IntentCanceled, models.PaymentStatusCanceled},
		{"partial damage captures part", floatPtr(120), models.DepositStatusCaptured, floatPtr(120), IntentSucceeded, models.PaymentStatusSucceeded},
		{"damage above hold captures all", floatPtr(500), models.DepositStatusCaptured, floatPtr(300), IntentSucceeded, models.PaymentStatusSucceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			b := env.bookViaToken(t, "2030-06-10", "2030-06-13")
			env.setStatus(t, b.ID, models.BookingStatusPickedUp, nil)

			done := env.setStatus(t, b.ID, models.BookingStatusCompleted, tt.damage)

			assert.Equal(t, models.BookingStatusCompleted, done.Status)
			assert.Equal(t, tt.wantStatus, done.SecurityDepositStatus)
			assert.Equal(t, tt.wantCharged, done.SecurityDepositCharged)

			intentID := *done.SecurityDepositIntentID
			assert.Equal(t, tt.wantIntent, env.gateway.intent(intentID).Status)
			deposit, _ := env.payments.GetByIntentID(context.Background(), intentID)
			assert.Equal(t, tt.wantPayment, deposit.Status)
			assert.Equal(t, 1, env.events.count(EventDepositSettled))
		})
	}
}

func TestComplete_DamageWithoutHold(t *testing.T) {
	env := newTestEnv(t, nil)
	customer := env.seedCustomer("walkin@example.com")
	b, err := env.staffBooking(t, customer.ID, "2030-06-10", "2030-06-13")
	require.NoError(t, err)

	// no payment method on file, so pickup proceeds without a hold
	picked := env.setStatus(t, b.ID, models.BookingStatusPickedUp, nil)
	assert.Equal(t, models.DepositStatusNone, picked.SecurityDepositStatus)
	require.NotNil(t, picked.SecurityDepositLastError)

	_, err = env.bookingSvc.UpdateStatus(context.Background(), env.company.ID, b.ID, &models.UpdateBookingStatusRequest{
		Status:       "completed",
		DamageAmount: floatPtr(50),
	})
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, models.CodeDepositNotAuthorized, vErr.Code)
	assert.Equal(t, models.BookingStatusPickedUp, env.mustBooking(t, b.ID).Status)

	// completing without damage still works
	done := env.setStatus(t, b.ID, models.BookingStatusCompleted, nil)
	assert.Equal(t, models.BookingStatusCompleted, done.Status)
}

func TestComplete_NegativeDamage(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.bookViaToken(t, "2030-06-10", "2030-06-13")
	env.setStatus(t, b.ID, models.BookingStatusPickedUp, nil)

	_, err := env.bookingSvc.UpdateStatus(context.Background(), env.company.ID, b.ID, &models.UpdateBookingStatusRequest{
		Status:       "completed",
		DamageAmount: floatPtr(-10),
	})
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, models.CodeInvalidAmount, vErr.Code)
}

func TestHoldDeposit_FailureIsRetriedByCron(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.bookViaToken(t, "2030-06-10", "2030-06-13")
	env.gateway.declineHold = true

	picked := env.setStatus(t, b.ID, models.BookingStatusPickedUp, nil)
	assert.Equal(t, models.BookingStatusPickedUp, picked.Status)
	assert.Equal(t, models.DepositStatusNone, picked.SecurityDepositStatus)
	require.NotNil(t, picked.SecurityDepositLastError)

	env.gateway.declineHold = false
	later := testNow.Add(15 * time.Minute)
	env.bookingSvc.now = func() time.Time { return later }

	placed, err := env.cron.RetryDepositHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, placed)

	retried := env.mustBooking(t, b.ID)
	assert.Equal(t, models.DepositStatusAuthorized, retried.SecurityDepositStatus)
	assert.Nil(t, retried.SecurityDepositLastError)

	placed, err = env.cron.RetryDepositHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, placed)
}

func TestHoldDeposit_SkipsWhenAlreadyHeld(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.bookViaToken(t, "2030-06-10", "2030-06-13")
	env.setStatus(t, b.ID, models.BookingStatusPickedUp, nil)
	holds := env.gateway.callCount("create")

	require.NoError(t, env.bookingSvc.HoldDeposit(context.Background(), b.ID))
	assert.Equal(t, holds, env.gateway.callCount("create"))
}
