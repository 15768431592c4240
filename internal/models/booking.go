package models

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the lifecycle state of a rental booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusPickedUp  BookingStatus = "picked_up"
	BookingStatusActive    BookingStatus = "active"
	BookingStatusReturned  BookingStatus = "returned"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusNoShow    BookingStatus = "no_show"
)

// bookingTransitions is the single source of truth for allowed status moves.
// Terminal states have no entry.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusPickedUp, BookingStatusCancelled, BookingStatusNoShow},
	BookingStatusConfirmed: {BookingStatusPickedUp, BookingStatusActive, BookingStatusCancelled, BookingStatusNoShow},
	BookingStatusPickedUp:  {BookingStatusActive, BookingStatusReturned, BookingStatusCompleted, BookingStatusCancelled},
	BookingStatusActive:    {BookingStatusReturned, BookingStatusCompleted, BookingStatusCancelled},
	BookingStatusReturned:  {BookingStatusCompleted, BookingStatusCancelled},
}

var allBookingStatuses = []BookingStatus{
	BookingStatusPending, BookingStatusConfirmed, BookingStatusPickedUp, BookingStatusActive,
	BookingStatusReturned, BookingStatusCompleted, BookingStatusCancelled, BookingStatusNoShow,
}

// BlockingBookingStatuses are the statuses that occupy a vehicle's calendar
var BlockingBookingStatuses = []BookingStatus{
	BookingStatusPending, BookingStatusConfirmed, BookingStatusPickedUp, BookingStatusActive,
}

// ParseBookingStatus returns the status for s and whether it is known
func ParseBookingStatus(s string) (BookingStatus, bool) {
	for _, st := range allBookingStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// AllowedTransitions lists the statuses reachable from s in one step
func (s BookingStatus) AllowedTransitions() []BookingStatus {
	return bookingTransitions[s]
}

// CanTransitionTo reports whether s -> to is allowed
func (s BookingStatus) CanTransitionTo(to BookingStatus) bool {
	for _, next := range bookingTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist
func (s BookingStatus) IsTerminal() bool {
	_, ok := bookingTransitions[s]
	return !ok
}

// IsBlocking reports whether a booking in this status holds the vehicle
func (s BookingStatus) IsBlocking() bool {
	for _, b := range BlockingBookingStatuses {
		if b == s {
			return true
		}
	}
	return false
}

// AllowedTransitionNames is AllowedTransitions as sorted strings for error payloads
func (s BookingStatus) AllowedTransitionNames() []string {
	next := bookingTransitions[s]
	names := make([]string, 0, len(next))
	for _, n := range next {
		names = append(names, string(n))
	}
	sort.Strings(names)
	return names
}

// DepositStatus is the security deposit sub-state of a booking.
// It only moves none -> authorized -> captured|released.
type DepositStatus string

const (
	DepositStatusNone       DepositStatus = "none"
	DepositStatusAuthorized DepositStatus = "authorized"
	DepositStatusCaptured   DepositStatus = "captured"
	DepositStatusReleased   DepositStatus = "released"
)

// IsSettled reports whether the deposit reached a terminal state
func (d DepositStatus) IsSettled() bool {
	return d == DepositStatusCaptured || d == DepositStatusReleased
}

// BookingSource records how a booking was created
type BookingSource string

const (
	BookingSourceToken BookingSource = "token"
	BookingSourceStaff BookingSource = "staff"
)

// Booking represents a vehicle rental reservation
type Booking struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	BookingNumber string        `json:"booking_number" db:"booking_number"`
	CustomerID    uuid.UUID     `json:"customer_id" db:"customer_id"`
	VehicleID     uuid.UUID     `json:"vehicle_id" db:"vehicle_id"`
	CompanyID     uuid.UUID     `json:"company_id" db:"company_id"`
	Source        BookingSource `json:"source" db:"source"`

	// Rental window (calendar dates; times are display-only "HH:MM")
	PickupDate time.Time `json:"pickup_date" db:"pickup_date"`
	ReturnDate time.Time `json:"return_date" db:"return_date"`
	PickupTime string    `json:"pickup_time" db:"pickup_time"`
	ReturnTime string    `json:"return_time" db:"return_time"`

	// Pricing - TotalAmount is always derived, see RecalculateTotal
	DailyRate       float64 `json:"daily_rate" db:"daily_rate"`
	RentalDays      int     `json:"rental_days" db:"rental_days"`
	Subtotal        float64 `json:"subtotal" db:"subtotal"`
	TaxAmount       float64 `json:"tax_amount" db:"tax_amount"`
	InsuranceAmount float64 `json:"insurance_amount" db:"insurance_amount"`
	AdditionalFees  float64 `json:"additional_fees" db:"additional_fees"`
	TotalAmount     float64 `json:"total_amount" db:"total_amount"`
	Currency        string  `json:"currency" db:"currency"`

	Status          BookingStatus `json:"status" db:"status"`
	PaymentIntentID *string       `json:"payment_intent_id,omitempty" db:"payment_intent_id"`

	// Security deposit
	SecurityDepositAmount       float64       `json:"security_deposit_amount" db:"security_deposit_amount"`
	SecurityDepositStatus       DepositStatus `json:"security_deposit_status" db:"security_deposit_status"`
	SecurityDepositIntentID     *string       `json:"security_deposit_intent_id,omitempty" db:"security_deposit_intent_id"`
	SecurityDepositHeld         float64       `json:"security_deposit_held" db:"security_deposit_held"`
	SecurityDepositCharged      *float64      `json:"security_deposit_charged,omitempty" db:"security_deposit_charged"`
	SecurityDepositAuthorizedAt *time.Time    `json:"security_deposit_authorized_at,omitempty" db:"security_deposit_authorized_at"`
	SecurityDepositCapturedAt   *time.Time    `json:"security_deposit_captured_at,omitempty" db:"security_deposit_captured_at"`
	SecurityDepositReleasedAt   *time.Time    `json:"security_deposit_released_at,omitempty" db:"security_deposit_released_at"`
	SecurityDepositLastError    *string       `json:"security_deposit_last_error,omitempty" db:"security_deposit_last_error"`

	Notes     *string    `json:"notes,omitempty" db:"notes"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty" db:"created_by"`

	ConfirmedAt *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// RecalculateTotal enforces Total = Subtotal + Tax + Insurance + Fees.
// Call after every mutation touching dates or rates.
func (b *Booking) RecalculateTotal() {
	b.TotalAmount = RoundAmount(b.Subtotal + b.TaxAmount + b.InsuranceAmount + b.AdditionalFees)
}

// TotalMatches reports whether the stored total agrees with its components
func (b *Booking) TotalMatches() bool {
	return math.Abs(b.TotalAmount-(b.Subtotal+b.TaxAmount+b.InsuranceAmount+b.AdditionalFees)) < 0.005
}

// RentalWindow returns the availability interval [pickup day, return day)
func (b *Booking) RentalWindow() (time.Time, time.Time) {
	return RentalWindow(b.PickupDate, b.ReturnDate)
}

// RentalWindow normalizes a pickup/return pair to a half-open day interval.
// The return day is free for the next pickup; a same-day rental holds its one day.
func RentalWindow(pickup, ret time.Time) (time.Time, time.Time) {
	start := TruncateToDay(pickup)
	end := TruncateToDay(ret)
	if !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}
	return start, end
}

// TruncateToDay drops the time-of-day component in UTC
func TruncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RentalDayCount counts billable days between pickup and return, minimum one
func RentalDayCount(pickup, ret time.Time) int {
	days := int(TruncateToDay(ret).Sub(TruncateToDay(pickup)).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// RoundAmount rounds to two decimal places
func RoundAmount(v float64) float64 {
	return math.Round(v*100) / 100
}

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// CreateBookingRequest is the staff request for a direct booking
type CreateBookingRequest struct {
	CustomerID     string   `json:"customer_id" binding:"required"`
	VehicleID      string   `json:"vehicle_id"`
	VehicleModelID string   `json:"vehicle_model_id"`
	PickupDate     string   `json:"pickup_date" binding:"required"` // YYYY-MM-DD
	ReturnDate     string   `json:"return_date" binding:"required"`
	PickupTime     string   `json:"pickup_time"`
	ReturnTime     string   `json:"return_time"`
	DailyRate      *float64 `json:"daily_rate"`
	AdditionalFees *float64 `json:"additional_fees"`
	Notes          *string  `json:"notes"`
}

// UpdateBookingRequest changes dates or rates of an existing booking
type UpdateBookingRequest struct {
	PickupDate      *string  `json:"pickup_date"`
	ReturnDate      *string  `json:"return_date"`
	PickupTime      *string  `json:"pickup_time"`
	ReturnTime      *string  `json:"return_time"`
	DailyRate       *float64 `json:"daily_rate"`
	InsuranceAmount *float64 `json:"insurance_amount"`
	AdditionalFees  *float64 `json:"additional_fees"`
	Notes           *string  `json:"notes"`
}

// UpdateBookingStatusRequest moves a booking through its lifecycle.
// DamageAmount only applies to completion.
type UpdateBookingStatusRequest struct {
	Status       string   `json:"status" binding:"required"`
	DamageAmount *float64 `json:"damage_amount"`
}

// RefundBookingRequest issues a refund against the booking's payment
type RefundBookingRequest struct {
	Amount float64 `json:"amount" binding:"required"`
	Reason string  `json:"reason"`
}
