package shared

import "github.com/shopspring/decimal"

// LineTotal returns quantity × unitCost rounded half away from zero to cents.
func LineTotal(quantity, unitCost float64) float64 {
	return decimal.NewFromFloat(quantity).
		Mul(decimal.NewFromFloat(unitCost)).
		Round(2).
		InexactFloat64()
}

// SumAmounts adds already rounded amounts without accumulating float drift.
func SumAmounts(amounts ...float64) float64 {
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(decimal.NewFromFloat(amount))
	}
	return total.Round(2).InexactFloat64()
}

// RoundQuantity rounds to the three decimals line quantities are stored with.
func RoundQuantity(quantity float64) float64 {
	return decimal.NewFromFloat(quantity).Round(3).InexactFloat64()
}

// RoundCost rounds a unit cost to the cents it is stored with.
func RoundCost(unitCost float64) float64 {
	return decimal.NewFromFloat(unitCost).Round(2).InexactFloat64()
}

// NormalizeLine rounds quantity and unit cost to their stored precision and
// prices the line from the rounded values, so a persisted line always
// satisfies total == round(quantity*unitCost, 2).
func NormalizeLine(quantity, unitCost float64) (float64, float64, float64) {
	q, c := RoundQuantity(quantity), RoundCost(unitCost)
	return q, c, LineTotal(q, c)
}

// SumQuantities adds quantities at stored precision.
func SumQuantities(quantities ...float64) float64 {
	total := decimal.Zero
	for _, q := range quantities {
		total = total.Add(decimal.NewFromFloat(q))
	}
	return total.Round(3).InexactFloat64()
}
