package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PriceSnapshot freezes the quoted price at token issue time.
// Later catalog changes never alter what the customer was offered.
type PriceSnapshot struct {
	VehicleName     string    `json:"vehicle_name"`
	CompanyName     string    `json:"company_name"`
	DailyRate       float64   `json:"daily_rate"`
	RentalDays      int       `json:"rental_days"`
	Subtotal        float64   `json:"subtotal"`
	TaxRate         float64   `json:"tax_rate"`
	TaxAmount       float64   `json:"tax_amount"`
	InsuranceAmount float64   `json:"insurance_amount"`
	AdditionalFees  float64   `json:"additional_fees"`
	TotalAmount     float64   `json:"total_amount"`
	SecurityDeposit float64   `json:"security_deposit"`
	Currency        string    `json:"currency"`
	CalculatedAt    time.Time `json:"calculated_at"`
}

// Value implements the driver.Valuer interface
func (p PriceSnapshot) Value() (driver.Value, error) {
	bytes, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (p *PriceSnapshot) Scan(value interface{}) error {
	if value == nil {
		*p = PriceSnapshot{}
		return nil
	}
	return json.Unmarshal(jsonBytes(value), p)
}

// BookingToken is a single-use booking link sent to a customer
type BookingToken struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	Token         string        `json:"token" db:"token"`
	CompanyID     uuid.UUID     `json:"company_id" db:"company_id"`
	VehicleID     uuid.UUID     `json:"vehicle_id" db:"vehicle_id"`
	CustomerEmail string        `json:"customer_email" db:"customer_email"`
	PickupDate    time.Time     `json:"pickup_date" db:"pickup_date"`
	ReturnDate    time.Time     `json:"return_date" db:"return_date"`
	PickupTime    string        `json:"pickup_time" db:"pickup_time"`
	ReturnTime    string        `json:"return_time" db:"return_time"`
	PriceSnapshot PriceSnapshot `json:"price_snapshot" db:"price_snapshot"`
	ExpiresAt     time.Time     `json:"expires_at" db:"expires_at"`
	IsUsed        bool          `json:"is_used" db:"is_used"`
	UsedAt        *time.Time    `json:"used_at,omitempty" db:"used_at"`
	BookingID     *uuid.UUID    `json:"booking_id,omitempty" db:"booking_id"`
	CreatedBy     *uuid.UUID    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// IsExpired reports whether the token is past its expiry at now
func (t *BookingToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// IssueBookingTokenRequest is sent by staff to create a booking link
type IssueBookingTokenRequest struct {
	VehicleID       string   `json:"vehicle_id" binding:"required"`
	CustomerEmail   string   `json:"customer_email" binding:"required"`
	PickupDate      string   `json:"pickup_date" binding:"required"` // YYYY-MM-DD
	ReturnDate      string   `json:"return_date" binding:"required"`
	PickupTime      string   `json:"pickup_time"`
	ReturnTime      string   `json:"return_time"`
	TTLHours        int      `json:"ttl_hours"`
	DailyRate       *float64 `json:"daily_rate"`
	AdditionalFees  *float64 `json:"additional_fees"`
	SecurityDeposit *float64 `json:"security_deposit"`
}

// ExchangeBookingTokenRequest is sent by the customer to pay and book
type ExchangeBookingTokenRequest struct {
	PaymentMethodID string  `json:"payment_method_id" binding:"required"`
	FirstName       string  `json:"first_name" binding:"required"`
	LastName        string  `json:"last_name" binding:"required"`
	Phone           *string `json:"phone"`
}

// BookingTokenView is the public projection of a token for the booking page
type BookingTokenView struct {
	Token         string        `json:"token"`
	CustomerEmail string        `json:"customer_email"`
	PickupDate    string        `json:"pickup_date"`
	ReturnDate    string        `json:"return_date"`
	PickupTime    string        `json:"pickup_time"`
	ReturnTime    string        `json:"return_time"`
	PriceSnapshot PriceSnapshot `json:"price_snapshot"`
	ExpiresAt     time.Time     `json:"expires_at"`
	IsUsed        bool          `json:"is_used"`
}

// ToView builds the public projection
func (t *BookingToken) ToView() *BookingTokenView {
	return &BookingTokenView{
		Token:         t.Token,
		CustomerEmail: t.CustomerEmail,
		PickupDate:    t.PickupDate.Format(DateLayout),
		ReturnDate:    t.ReturnDate.Format(DateLayout),
		PickupTime:    t.PickupTime,
		ReturnTime:    t.ReturnTime,
		PriceSnapshot: t.PriceSnapshot,
		ExpiresAt:     t.ExpiresAt,
		IsUsed:        t.IsUsed,
	}
}

// DateLayout is the wire format for rental dates
const DateLayout = "2006-01-02"
