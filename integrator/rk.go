package integrator

import (
	"gonum.org/v1/gonum/floats"
)

// Euler is the explicit first-order method.
type Euler struct {
	k []float64
}

func (e *Euler) Step(sys System, y []float64, t, h float64) (float64, error) {
	e.k = grow(e.k, len(y))
	if err := sys.Derivative(e.k, y, t); err != nil {
		return 0, err
	}
	floats.AddScaled(y, h, e.k)
	return h, nil
}

// RK4 is the classic fourth-order Runge-Kutta method.
type RK4 struct {
	k1, k2, k3, k4, tmp []float64
}

func (r *RK4) Step(sys System, y []float64, t, h float64) (float64, error) {
	n := len(y)
	r.k1 = grow(r.k1, n)
	r.k2 = grow(r.k2, n)
	r.k3 = grow(r.k3, n)
	r.k4 = grow(r.k4, n)
	r.tmp = grow(r.tmp, n)

	if err := sys.Derivative(r.k1, y, t); err != nil {
		return 0, err
	}
	floats.AddScaledTo(r.tmp, y, h/2, r.k1)
	if err := sys.Derivative(r.k2, r.tmp, t+h/2); err != nil {
		return 0, err
	}
	floats.AddScaledTo(r.tmp, y, h/2, r.k2)
	if err := sys.Derivative(r.k3, r.tmp, t+h/2); err != nil {
		return 0, err
	}
	floats.AddScaledTo(r.tmp, y, h, r.k3)
	if err := sys.Derivative(r.k4, r.tmp, t+h); err != nil {
		return 0, err
	}

	floats.AddScaled(y, h/6, r.k1)
	floats.AddScaled(y, h/3, r.k2)
	floats.AddScaled(y, h/3, r.k3)
	floats.AddScaled(y, h/6, r.k4)
	return h, nil
}
