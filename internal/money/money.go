// Package money centralizes the fixed-point arithmetic rules shared by the
// profit calculator and decision pipeline: quantization, half-up rounding,
// and safe division. Nothing here touches a binary float.
package money

import "github.com/shopspring/decimal"

// DefaultMoneyQuantum is the default rounding quantum for money fields.
var DefaultMoneyQuantum = decimal.NewFromFloat(0.01)

// RatioQuantum is the fixed rounding quantum for ratios (ROI, margin).
var RatioQuantum = decimal.NewFromFloat(0.0001)

// Quantize rounds v to the nearest multiple of quantum, half-up.
func Quantize(v decimal.Decimal, quantum decimal.Decimal) decimal.Decimal {
	if quantum.IsZero() {
		return v
	}
	divided := v.DivRound(quantum, 16)
	return halfUpInt(divided).Mul(quantum)
}

// halfUpInt rounds a decimal to the nearest integer, ties away from zero.
func halfUpInt(v decimal.Decimal) decimal.Decimal {
	half := decimal.NewFromFloat(0.5)
	if v.Sign() >= 0 {
		return v.Add(half).Truncate(0)
	}
	return v.Sub(half).Truncate(0)
}

// QuantizeMoney rounds to the money quantum (default 0.01).
func QuantizeMoney(v decimal.Decimal, quantum decimal.Decimal) decimal.Decimal {
	if quantum.IsZero() {
		quantum = DefaultMoneyQuantum
	}
	return Quantize(v, quantum)
}

// QuantizeRatio rounds to the fixed ratio quantum (0.0001).
func QuantizeRatio(v decimal.Decimal) decimal.Decimal {
	return Quantize(v, RatioQuantum)
}

// SafeDivide returns zero instead of panicking/dividing-by-zero when the
// denominator is zero.
func SafeDivide(numerator, denominator decimal.Decimal) decimal.Decimal {
	if denominator.IsZero() {
		return decimal.Zero
	}
	return numerator.DivRound(denominator, 16)
}
