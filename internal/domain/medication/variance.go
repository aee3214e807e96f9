package medication

import (
	"math"
	"time"
)

// DefaultVarianceEpsilon is the band, in dose units, inside which
// expected and actual amounts count as equal.
const DefaultVarianceEpsilon = 0.01

// Variance is the signed difference between an expected and an
// actual dose. Percent is nil when no percentage is defined, either
// because nothing was expected or the expected amount was zero.
type Variance struct {
	Amount      float64  `json:"amount"`
	Percent     *float64 `json:"percent,omitempty"`
	HasVariance bool     `json:"has_variance"`
	Unexpected  bool     `json:"unexpected,omitempty"`
}

// VarianceCalculator compares actual doses against expected ones.
// Epsilon is the only place the comparison threshold is configured.
type VarianceCalculator struct {
	Epsilon float64
}

// NewVarianceCalculator returns a calculator with the default epsilon
func NewVarianceCalculator() VarianceCalculator {
	return VarianceCalculator{Epsilon: DefaultVarianceEpsilon}
}

// Calculate returns the variance of actual against expected. A nil
// expected marks an unscheduled intake: the whole actual amount is
// the variance and no percentage is defined.
func (c VarianceCalculator) Calculate(expected *float64, actual float64) Variance {
	v := Variance{}
	if expected == nil {
		v.Amount = actual
		v.Unexpected = true
		v.HasVariance = math.Abs(actual) > c.Epsilon
		return v
	}
	v.Amount = actual - *expected
	if *expected != 0 {
		pct := v.Amount / *expected * 100
		v.Percent = &pct
	}
	v.HasVariance = math.Abs(v.Amount) > c.Epsilon
	return v
}

// TimeVarianceMinutes returns the signed distance in minutes from the
// scheduled time to the actual intake time.
func TimeVarianceMinutes(scheduled, actual time.Time) float64 {
	return actual.Sub(scheduled).Minutes()
}
