// Package eval is the numeric stack machine that walks a compiled
// program (package program) pixel by pixel (§4.5/§4.6, grounded on
// ProcessStack.cpp's compute()/ProcessStepStatFunc.cpp). Every
// arithmetic function that can fail on its domain is guarded here,
// each guard returning ok=false to signal the caller should apply the
// run's error policy (fail or substitute the default value) instead
// of propagating a NaN/Inf into the result.
package eval

import "math"

func guardDivide(a, b float64) (float64, bool) {
	if b == 0 {
		return 0, false
	}
	return a / b, true
}

func guardModulo(a, b float64) (float64, bool) {
	if b == 0 {
		return 0, false
	}
	return math.Mod(a, b), true
}

func guardSqrt(v float64) (float64, bool) {
	if v < 0 {
		return 0, false
	}
	return math.Sqrt(v), true
}

func guardLog(v float64) (float64, bool) {
	if v <= 0 {
		return 0, false
	}
	return math.Log(v), true
}

func guardLog10(v float64) (float64, bool) {
	if v <= 0 {
		return 0, false
	}
	return math.Log10(v), true
}

func guardLog2(v float64) (float64, bool) {
	if v <= 0 {
		return 0, false
	}
	return math.Log2(v), true
}

func guardLogn(base, v float64) (float64, bool) {
	if v <= 0 || base <= 0 {
		return 0, false
	}
	return math.Log(v) / math.Log(base), true
}

func guardPow(base, exp float64) (float64, bool) {
	if base == 0 && exp == 0 {
		return 0, false
	}
	return math.Pow(base, exp), true
}

func guardAsin(v float64) (float64, bool) {
	if v < -1 || v > 1 {
		return 0, false
	}
	return math.Asin(v), true
}

func guardAcos(v float64) (float64, bool) {
	if v < -1 || v > 1 {
		return 0, false
	}
	return math.Acos(v), true
}

// guardAtan reproduces a defect in the formula this was ported from:
// it rejects v==0 even though atan(0)=0 is perfectly defined, so
// "atan(0)" returns the run's default/fail behavior instead of 0. Left
// in place pending product-owner sign-off on changing the behavior.
func guardAtan(v float64) (float64, bool) {
	if v == 0 {
		return 0, false
	}
	return math.Atan(v), true
}

func guardAtan2(y, x float64) (float64, bool) {
	if y == 0 && x == 0 {
		return 0, false
	}
	return math.Atan2(y, x), true
}
