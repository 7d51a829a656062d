package integrator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Step size controller limits.
const (
	safety    = 0.9
	minFactor = 0.2
	maxFactor = 5.0
)

// BogackiShampine is the adaptive third-order method with an embedded
// second-order error estimate. The last stage of an accepted step is the
// first stage of the next (first same as last), so an accepted step costs
// three evaluations.
//
// A rejected step is retried from the same state with a smaller step, so the
// system sees stage states that are later than the state it is finally
// advanced to.
type BogackiShampine struct {
	RTol    float64
	ATol    float64
	MinStep float64

	h        float64 // next trial step, 0 until the first step
	k1       []float64
	k2       []float64
	k3       []float64
	k4       []float64
	tmp      []float64
	ynew     []float64
	fsal     bool
	fsalT    float64
	rejected int
}

// NewBogackiShampine creates an adaptive stepper with the given relative and
// absolute tolerances. Steps shorter than minStep fail with ErrStepTooSmall.
func NewBogackiShampine(rtol, atol, minStep float64) *BogackiShampine {
	return &BogackiShampine{RTol: rtol, ATol: atol, MinStep: minStep}
}

// Rejected returns the number of trial steps discarded so far.
func (b *BogackiShampine) Rejected() int { return b.rejected }

// Reset forgets the cached first stage and step estimate. Call it after
// modifying y outside of Step.
func (b *BogackiShampine) Reset() {
	b.fsal = false
	b.h = 0
}

// Step advances y by an accepted step no longer than hmax.
func (b *BogackiShampine) Step(sys System, y []float64, t, hmax float64) (float64, error) {
	n := len(y)
	if len(b.k1) != n {
		b.k1 = grow(b.k1, n)
		b.k2 = grow(b.k2, n)
		b.k3 = grow(b.k3, n)
		b.k4 = grow(b.k4, n)
		b.tmp = grow(b.tmp, n)
		b.ynew = grow(b.ynew, n)
		b.fsal = false
	}

	if !b.fsal || b.fsalT != t {
		if err := sys.Derivative(b.k1, y, t); err != nil {
			return 0, err
		}
		b.fsal = true
		b.fsalT = t
	}

	h := b.h
	if h <= 0 || h > hmax {
		h = hmax
	}

	for {
		if h < b.MinStep || t+h == t {
			return 0, fmt.Errorf("%w: %g < %g", ErrStepTooSmall, h, b.MinStep)
		}

		floats.AddScaledTo(b.tmp, y, h/2, b.k1)
		if err := sys.Derivative(b.k2, b.tmp, t+h/2); err != nil {
			return 0, err
		}
		floats.AddScaledTo(b.tmp, y, 3*h/4, b.k2)
		if err := sys.Derivative(b.k3, b.tmp, t+3*h/4); err != nil {
			return 0, err
		}

		copy(b.ynew, y)
		floats.AddScaled(b.ynew, 2*h/9, b.k1)
		floats.AddScaled(b.ynew, h/3, b.k2)
		floats.AddScaled(b.ynew, 4*h/9, b.k3)
		if err := sys.Derivative(b.k4, b.ynew, t+h); err != nil {
			return 0, err
		}

		errNorm := b.errorNorm(y, h)
		if errNorm <= 1 {
			copy(y, b.ynew)
			b.k1, b.k4 = b.k4, b.k1
			b.fsalT = t + h
			b.h = h * stepFactor(errNorm)
			return h, nil
		}

		b.rejected++
		h *= stepFactor(errNorm)
	}
}

// errorNorm is the RMS of the embedded error estimate scaled by
// atol + rtol*max(|y|, |ynew|). Values at or below 1 are accepted.
func (b *BogackiShampine) errorNorm(y []float64, h float64) float64 {
	var sum float64
	for i := range y {
		e := h * (-5.0/72*b.k1[i] + 1.0/12*b.k2[i] + 1.0/9*b.k3[i] - 1.0/8*b.k4[i])
		sc := b.ATol + b.RTol*math.Max(math.Abs(y[i]), math.Abs(b.ynew[i]))
		sum += (e / sc) * (e / sc)
	}
	if len(y) == 0 {
		return 0
	}
	norm := math.Sqrt(sum / float64(len(y)))
	if math.IsNaN(norm) {
		return math.Inf(1)
	}
	return norm
}

func stepFactor(errNorm float64) float64 {
	if errNorm == 0 {
		return maxFactor
	}
	f := safety * math.Pow(errNorm, -1.0/3)
	return math.Min(maxFactor, math.Max(minFactor, f))
}
