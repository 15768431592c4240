package services

import (
	"time"

	"github.com/rentflow/rental-backend/internal/models"
)

// PriceQuote is the rate breakdown for a rental window
type PriceQuote struct {
	DailyRate       float64
	RentalDays      int
	Subtotal        float64
	TaxRate         float64
	TaxAmount       float64
	InsuranceAmount float64
	AdditionalFees  float64
	TotalAmount     float64
}

// QuotePrice prices a rental using the company's tax, insurance and fee
// defaults. additionalFees overrides the company default when set.
func QuotePrice(company *models.Company, dailyRate float64, pickup, ret time.Time, additionalFees *float64) PriceQuote {
	days := models.RentalDayCount(pickup, ret)

	q := PriceQuote{
		DailyRate:  dailyRate,
		RentalDays: days,
		TaxRate:    company.TaxRate,
	}
	q.Subtotal = models.RoundAmount(dailyRate * float64(days))
	q.TaxAmount = models.RoundAmount(q.Subtotal * company.TaxRate)
	q.InsuranceAmount = models.RoundAmount(company.InsurancePerDay * float64(days))

	q.AdditionalFees = company.AdditionalFees
	if additionalFees != nil {
		q.AdditionalFees = *additionalFees
	}
	q.AdditionalFees = models.RoundAmount(q.AdditionalFees)

	q.TotalAmount = models.RoundAmount(q.Subtotal + q.TaxAmount + q.InsuranceAmount + q.AdditionalFees)
	return q
}

// ApplyTo copies the breakdown onto a booking and recomputes its total
func (q PriceQuote) ApplyTo(b *models.Booking) {
	b.DailyRate = q.DailyRate
	b.RentalDays = q.RentalDays
	b.Subtotal = q.Subtotal
	b.TaxAmount = q.TaxAmount
	b.InsuranceAmount = q.InsuranceAmount
	b.AdditionalFees = q.AdditionalFees
	b.RecalculateTotal()
}

// Snapshot freezes the quote for a booking token
func (q PriceQuote) Snapshot(vehicleName, companyName string, deposit float64, currency string, at time.Time) models.PriceSnapshot {
	return models.PriceSnapshot{
		VehicleName:     vehicleName,
		CompanyName:     companyName,
		DailyRate:       q.DailyRate,
		RentalDays:      q.RentalDays,
		Subtotal:        q.Subtotal,
		TaxRate:         q.TaxRate,
		TaxAmount:       q.TaxAmount,
		InsuranceAmount: q.InsuranceAmount,
		AdditionalFees:  q.AdditionalFees,
		TotalAmount:     q.TotalAmount,
		SecurityDeposit: models.RoundAmount(deposit),
		Currency:        currency,
		CalculatedAt:    at,
	}
}
