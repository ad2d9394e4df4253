// Package pricing computes the fee breakdown for a stay.
package pricing

import (
	"errors"
	"time"
)

var (
	ErrInvalidRate   = errors.New("nightly rate must be positive")
	ErrInvalidNights = errors.New("stay must be at least one night")
)

const basisPoints = 10000

// Breakdown is the priced stay. All amounts are minor currency units.
type Breakdown struct {
	TotalNights int   `json:"total_nights"`
	Subtotal    int64 `json:"subtotal"`
	CleaningFee int64 `json:"cleaning_fee"`
	ServiceFee  int64 `json:"service_fee"`
	Tax         int64 `json:"tax"`
	OrderTotal  int64 `json:"order_total"`
}

// Calculator holds the flat fees and the tax rate in basis points
type Calculator struct {
	CleaningFee int64
	ServiceFee  int64
	TaxRateBps  int64
}

func NewCalculator(cleaningFee, serviceFee, taxRateBps int64) *Calculator {
	return &Calculator{
		CleaningFee: cleaningFee,
		ServiceFee:  serviceFee,
		TaxRateBps:  taxRateBps,
	}
}

// Nights returns the number of nights between check-in and check-out, rounding partial days up
func Nights(checkIn, checkOut time.Time) int {
	diff := checkOut.Sub(checkIn)
	if diff <= 0 {
		return 0
	}
	day := 24 * time.Hour
	nights := int(diff / day)
	if diff%day != 0 {
		nights++
	}
	return nights
}

// Quote prices a stay at the given nightly rate
func (c *Calculator) Quote(checkIn, checkOut time.Time, nightlyRate int64) (Breakdown, error) {
	if nightlyRate <= 0 {
		return Breakdown{}, ErrInvalidRate
	}
	nights := Nights(checkIn, checkOut)
	if nights < 1 {
		return Breakdown{}, ErrInvalidNights
	}

	subtotal := int64(nights) * nightlyRate
	tax := roundHalfUp(subtotal*c.TaxRateBps, basisPoints)

	return Breakdown{
		TotalNights: nights,
		Subtotal:    subtotal,
		CleaningFee: c.CleaningFee,
		ServiceFee:  c.ServiceFee,
		Tax:         tax,
		OrderTotal:  subtotal + c.CleaningFee + c.ServiceFee + tax,
	}, nil
}

// roundHalfUp divides n by d rounding halves away from zero. n and d are non-negative.
func roundHalfUp(n, d int64) int64 {
	return (n + d/2) / d
}
