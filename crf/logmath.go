package crf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var negInf = math.Inf(-1)

func isNegInf(x float64) bool {
	return math.IsInf(x, -1)
}

// logAdd returns log(exp(a) + exp(b)) as max + log1p(exp(-|a-b|)).
// Once the gap exceeds float64 precision (exp(-36) ≈ 2.3e-16) the smaller
// term is dropped.
func logAdd(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	if isNegInf(b) {
		return a
	}
	d := b - a
	if d < -36.0 {
		return a
	}
	return a + math.Log1p(math.Exp(d))
}

// logSumExp returns log(Σ exp(xs)); -Inf for an empty or all -Inf slice.
func logSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return negInf
	}
	return floats.LogSumExp(xs)
}

// checkWeight rejects NaN and +Inf.
func checkWeight(v float64, what string, pos, idx int) error {
	if math.IsNaN(v) || math.IsInf(v, 1) {
		return fmt.Errorf("%w: %s %d at position %d is %v", ErrNumeric, what, idx, pos, v)
	}
	return nil
}
