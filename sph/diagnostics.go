package sph

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// KineticEnergy returns sum(m |v|^2 / 2) for the state y.
func (s *System) KineticEnergy(y []float64) float64 {
	v := s.Velocities(y)
	return 0.5 * s.params.Mass * floats.Dot(v, v)
}

// MaxSpeed returns the largest particle speed in y.
func (s *System) MaxSpeed(y []float64) float64 {
	v := s.Velocities(y)
	d := s.dims
	var best float64
	for i := 0; i < s.n; i++ {
		if sp := floats.Norm(v[i*d:(i+1)*d], 2); sp > best {
			best = sp
		}
	}
	return best
}

// CFL returns the largest step allowed by the Courant condition for the
// given Courant number, or +Inf when every particle is at rest.
func (s *System) CFL(y []float64, courant float64) float64 {
	vmax := s.MaxSpeed(y)
	if vmax == 0 {
		return math.Inf(1)
	}
	return courant * s.kernel.Radius() / vmax
}
