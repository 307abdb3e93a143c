package params

import (
	"math"
	"strconv"
)

// RoundToN rounds x to n significant decimal digits. The rounding position is
// -(floor(log10|x|) - (n-1)) decimal places and ties resolve half-to-even on
// the exact binary value, so the result is what the solver input has always
// been generated with. Zero stays zero.
func RoundToN(x float64, n int) float64 {
	if x == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	digits := -(int(math.Floor(math.Log10(math.Abs(x)))) - (n - 1))
	return roundDigits(x, digits)
}

// roundDigits rounds x to the given number of decimal places; negative
// digits round to tens, hundreds and so on.
func roundDigits(x float64, digits int) float64 {
	if digits >= 0 {
		v, _ := strconv.ParseFloat(strconv.FormatFloat(x, 'f', digits, 64), 64)
		return v
	}
	// Keep the significant digits above the rounding position: the exponent
	// of x minus the (negative) position gives the precision for 'e'.
	exp := int(math.Floor(math.Log10(math.Abs(x))))
	prec := exp + digits
	if prec < 0 {
		// Rounding position is above the leading digit.
		pow := math.Pow(10, float64(-digits))
		if math.Abs(x) > pow/2 {
			return math.Copysign(pow, x)
		}
		return math.Copysign(0, x)
	}
	v, _ := strconv.ParseFloat(strconv.FormatFloat(x, 'e', prec, 64), 64)
	return v
}
