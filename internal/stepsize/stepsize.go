// Package stepsize normalizes quantities to exchange lot steps using
// decimal arithmetic so repeated splits do not accumulate float drift.
package stepsize

import "github.com/shopspring/decimal"

// Floor truncates qty down to a multiple of step (qty - qty mod step).
// A non-positive step returns qty unchanged; a non-positive qty returns 0.
func Floor(qty, step float64) float64 {
	if qty <= 0 {
		return 0
	}
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	return q.Div(s).Floor().Mul(s).InexactFloat64()
}

// AtLeastOne raises qty to one step when it is below it
func AtLeastOne(qty, step float64) float64 {
	if qty < step {
		return step
	}
	return qty
}

// Sub returns a-b computed in decimal
func Sub(a, b float64) float64 {
	return decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).InexactFloat64()
}

// Add returns a+b computed in decimal
func Add(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).InexactFloat64()
}

// Format renders v with 8 decimals, the precision the exchange accepts
func Format(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(8)
}
