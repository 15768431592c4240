package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Company is a rental operator. Payments settle to its Stripe connected account.
type Company struct {
	ID                    uuid.UUID `json:"id" db:"id"`
	Name                  string    `json:"name" db:"name"`
	Currency              string    `json:"currency" db:"currency"`
	TaxRate               float64   `json:"tax_rate" db:"tax_rate"` // fraction, 0.08 = 8%
	SecurityDepositAmount float64   `json:"security_deposit_amount" db:"security_deposit_amount"`
	InsurancePerDay       float64   `json:"insurance_per_day" db:"insurance_per_day"`
	AdditionalFees        float64   `json:"additional_fees" db:"additional_fees"`
	StripeAccountID       *string   `json:"-" db:"stripe_account_id"`
	StripeChargesEnabled  bool      `json:"stripe_charges_enabled" db:"stripe_charges_enabled"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time `json:"updated_at" db:"updated_at"`
}

// VehicleModel groups interchangeable physical vehicles
type VehicleModel struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CompanyID uuid.UUID `json:"company_id" db:"company_id"`
	Make      string    `json:"make" db:"make"`
	Model     string    `json:"model" db:"model"`
	Year      int       `json:"year" db:"year"`
	DailyRate float64   `json:"daily_rate" db:"daily_rate"`
}

// DisplayName is "Make Model Year"
func (m *VehicleModel) DisplayName() string {
	return vehicleName(m.Make, m.Model, m.Year)
}

// Vehicle is a physical, bookable car
type Vehicle struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	CompanyID    uuid.UUID  `json:"company_id" db:"company_id"`
	ModelID      *uuid.UUID `json:"model_id,omitempty" db:"model_id"`
	Make         string     `json:"make" db:"make"`
	Model        string     `json:"model" db:"model"`
	Year         int        `json:"year" db:"year"`
	LicensePlate string     `json:"license_plate" db:"license_plate"`
	DailyRate    float64    `json:"daily_rate" db:"daily_rate"`
	IsActive     bool       `json:"is_active" db:"is_active"`
}

// DisplayName is "Make Model Year"
func (v *Vehicle) DisplayName() string {
	return vehicleName(v.Make, v.Model, v.Year)
}

func vehicleName(brand, model string, year int) string {
	if year == 0 {
		return brand + " " + model
	}
	return fmt.Sprintf("%s %s %d", brand, model, year)
}

// AvailabilityResponse is returned by the availability endpoints
type AvailabilityResponse struct {
	VehicleID  *uuid.UUID `json:"vehicle_id,omitempty"`
	ModelID    *uuid.UUID `json:"model_id,omitempty"`
	PickupDate string     `json:"pickup_date"`
	ReturnDate string     `json:"return_date"`
	Available  bool       `json:"available"`
}
