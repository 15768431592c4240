package services

import (
	"math"
	"strings"
)

// zeroDecimalCurrencies have no minor unit: 500 JPY is sent to Stripe as 500.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true,
	"JPY": true, "KMF": true, "KRW": true, "MGA": true,
	"PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// MinorUnitDivisor returns 1 for zero-decimal currencies and 100 otherwise
func MinorUnitDivisor(currency string) int64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 1
	}
	return 100
}

// ToMinorUnits converts a major-unit amount to the gateway's integer amount
func ToMinorUnits(amount float64, currency string) int64 {
	return int64(math.Round(amount * float64(MinorUnitDivisor(currency))))
}

// FromMinorUnits converts a gateway integer amount back to major units
func FromMinorUnits(amount int64, currency string) float64 {
	return float64(amount) / float64(MinorUnitDivisor(currency))
}
