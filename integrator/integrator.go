// Package integrator advances ordinary differential equations dy/dt = f(t, y)
// with explicit Runge-Kutta methods.
//
// Steppers work on a caller-owned state vector in place and only commit an
// update once every stage evaluation has succeeded.
package integrator

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrStepTooSmall is returned when an adaptive stepper cannot meet its
	// tolerances without shrinking below its minimum step.
	ErrStepTooSmall = errors.New("integrator: step size below minimum")

	// ErrInvalidStep is returned for non-positive or non-finite step sizes
	// and time spans.
	ErrInvalidStep = errors.New("integrator: invalid step size")
)

// System is the right-hand side of an ODE. Derivative writes f(t, y) into
// dy. It may be called with any y, in any order, including states from
// rejected steps.
type System interface {
	Derivative(dy, y []float64, t float64) error
}

// Stepper advances y from t by at most h and returns the step actually
// taken. Fixed-step methods always take h.
type Stepper interface {
	Step(sys System, y []float64, t, h float64) (float64, error)
}

// Func adapts a plain function to the System interface.
type Func func(dy, y []float64, t float64) error

func (f Func) Derivative(dy, y []float64, t float64) error { return f(dy, y, t) }

// Options controls Solve.
type Options struct {
	T0, T1 float64
	// Dt is the step for fixed-step methods and the largest step an adaptive
	// method may take.
	Dt float64
	// MaxSteps stops the run early after this many accepted steps. Zero
	// means no limit.
	MaxSteps int
}

// Observer is called after every accepted step. Returning an error aborts
// the run with that error.
type Observer func(step int, t, h float64, y []float64) error

// Result summarizes a run.
type Result struct {
	Steps       int
	Rejected    int
	Evaluations int
	T           float64 // time reached
}

// rejecter is implemented by adaptive steppers that discard trial steps.
type rejecter interface {
	Rejected() int
}

// resetter is implemented by steppers that cache stages or step estimates
// between calls.
type resetter interface {
	Reset()
}

// counter counts derivative evaluations.
type counter struct {
	sys System
	n   int
}

func (c *counter) Derivative(dy, y []float64, t float64) error {
	c.n++
	return c.sys.Derivative(dy, y, t)
}

// endpointTol is the relative distance to T1 treated as having arrived.
const endpointTol = 1e-12

// Solve integrates sys from opts.T0 to opts.T1, updating y in place. The
// context is checked between steps. On error y holds the state after the
// last accepted step and Result reports how far the run got.
//
// y may have been changed since the stepper last ran, so a stepper with
// cached state is reset before the first step.
func Solve(ctx context.Context, sys System, stepper Stepper, y []float64, opts Options, observe Observer) (res Result, err error) {
	res.T = opts.T0
	if !(opts.Dt > 0) || math.IsInf(opts.Dt, 0) {
		return res, fmt.Errorf("%w: dt %v", ErrInvalidStep, opts.Dt)
	}
	if !(opts.T1 >= opts.T0) || math.IsInf(opts.T1, 0) {
		return res, fmt.Errorf("%w: span [%v, %v]", ErrInvalidStep, opts.T0, opts.T1)
	}

	if r, ok := stepper.(resetter); ok {
		r.Reset()
	}

	c := &counter{sys: sys}
	rej, _ := stepper.(rejecter)
	rejected0 := 0
	if rej != nil {
		rejected0 = rej.Rejected()
	}
	defer func() {
		res.Evaluations = c.n
		if rej != nil {
			res.Rejected = rej.Rejected() - rejected0
		}
	}()

	t := opts.T0
	eps := endpointTol * math.Max(1, math.Abs(opts.T1))
	for opts.T1-t > eps {
		if opts.MaxSteps > 0 && res.Steps >= opts.MaxSteps {
			break
		}
		if cerr := ctx.Err(); cerr != nil {
			return res, fmt.Errorf("solve stopped at t=%g: %w", t, cerr)
		}

		h := math.Min(opts.Dt, opts.T1-t)
		taken, serr := stepper.Step(c, y, t, h)
		if serr != nil {
			return res, fmt.Errorf("step %d at t=%g: %w", res.Steps+1, t, serr)
		}
		t += taken
		if opts.T1-t <= eps {
			t = opts.T1
		}
		res.Steps++
		res.T = t

		if observe != nil {
			if oerr := observe(res.Steps, t, taken, y); oerr != nil {
				return res, oerr
			}
		}
	}
	return res, nil
}

// grow resizes buf to n, reusing its storage when possible.
func grow(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}
	return buf[:n]
}
