package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestQuote_ThreeNights(t *testing.T) {
	calc := NewCalculator(1000, 3000, 1000)

	b, err := calc.Quote(day(2030, 6, 1), day(2030, 6, 4), 10000)
	require.NoError(t, err)

	assert.Equal(t, 3, b.TotalNights)
	assert.Equal(t, int64(30000), b.Subtotal)
	assert.Equal(t, int64(1000), b.CleaningFee)
	assert.Equal(t, int64(3000), b.ServiceFee)
	assert.Equal(t, int64(3000), b.Tax)
	assert.Equal(t, int64(37000), b.OrderTotal)
}

func TestQuote_TotalIsSumOfParts(t *testing.T) {
	calc := NewCalculator(1500, 2750, 875)

	for nights := 1; nights <= 30; nights++ {
		for _, rate := range []int64{1, 99, 12345, 50001} {
			b, err := calc.Quote(day(2030, 1, 1), day(2030, 1, 1).AddDate(0, 0, nights), rate)
			require.NoError(t, err)
			assert.Equal(t, nights, b.TotalNights)
			assert.Equal(t, int64(nights)*rate, b.Subtotal)
			assert.Equal(t, b.Subtotal+b.CleaningFee+b.ServiceFee+b.Tax, b.OrderTotal)
			assert.GreaterOrEqual(t, b.Tax, int64(0))
		}
	}
}

func TestQuote_TaxRoundsHalfUp(t *testing.T) {
	calc := NewCalculator(0, 0, 1000)

	// 10% of 5 is 0.5
	b, err := calc.Quote(day(2030, 1, 1), day(2030, 1, 2), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Tax)

	// 10% of 4 is 0.4
	b, err = calc.Quote(day(2030, 1, 1), day(2030, 1, 2), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Tax)
}

func TestQuote_PartialDayRoundsUp(t *testing.T) {
	calc := NewCalculator(0, 0, 0)

	b, err := calc.Quote(day(2030, 1, 1), day(2030, 1, 2).Add(time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, b.TotalNights)
}

func TestQuote_Errors(t *testing.T) {
	calc := NewCalculator(1000, 3000, 1000)

	_, err := calc.Quote(day(2030, 1, 1), day(2030, 1, 3), 0)
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = calc.Quote(day(2030, 1, 3), day(2030, 1, 3), 100)
	assert.ErrorIs(t, err, ErrInvalidNights)

	_, err = calc.Quote(day(2030, 1, 3), day(2030, 1, 1), 100)
	assert.ErrorIs(t, err, ErrInvalidNights)
}
