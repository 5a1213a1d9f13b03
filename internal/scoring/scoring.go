// Package scoring maps a candidate's quality estimates to a single score.
//
// The formula is a weighted sum: progress, feasibility and confidence add to
// the score, risk subtracts from it. Inputs must already lie in [0,1]; only
// the combined result is clamped.
package scoring

import (
	"errors"
	"fmt"
	"math"
)

// ErrInputOutOfRange is returned when an estimate is NaN or outside [0,1].
var ErrInputOutOfRange = errors.New("scoring: input out of range")

// Weights is a scoring profile. Each exploration level carries its own.
type Weights struct {
	Progress    float64 `json:"progress" yaml:"progress"`
	Feasibility float64 `json:"feasibility" yaml:"feasibility"`
	Confidence  float64 `json:"confidence" yaml:"confidence"`
	Risk        float64 `json:"risk_penalty" yaml:"risk_penalty"`
}

// Validate checks that every weight is a finite, non-negative number.
func (w Weights) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"progress", w.Progress},
		{"feasibility", w.Feasibility},
		{"confidence", w.Confidence},
		{"risk_penalty", w.Risk},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return fmt.Errorf("scoring: weight %s must be a non-negative number, got %v", f.name, f.v)
		}
	}
	return nil
}

// Inputs are the estimates a score is computed from.
type Inputs struct {
	Progress    float64
	Feasibility float64
	Risk        float64
	Confidence  float64
}

// CheckInputs reports the first estimate that is NaN or outside [0,1].
func CheckInputs(in Inputs) error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"progress", in.Progress},
		{"feasibility", in.Feasibility},
		{"risk", in.Risk},
		{"confidence", in.Confidence},
	} {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 1 {
			return fmt.Errorf("%w: %s=%v", ErrInputOutOfRange, f.name, f.v)
		}
	}
	return nil
}

// Raw returns the unclamped weighted sum. It does not validate inputs.
func Raw(in Inputs, w Weights) float64 {
	return w.Progress*in.Progress +
		w.Feasibility*in.Feasibility +
		w.Confidence*in.Confidence -
		w.Risk*in.Risk
}

// Score validates the inputs and returns the weighted sum clamped to [0,1].
func Score(in Inputs, w Weights) (float64, error) {
	if err := CheckInputs(in); err != nil {
		return 0, err
	}
	return clamp(Raw(in, w)), nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
