// Package sph evaluates the right-hand side of an SPH particle system.
//
// System implements the integrator's derivative callback: on every
// evaluation it brings the spatial grid up to date with the positions it is
// handed, then runs a density pass and a force pass over each particle's
// candidate neighbors.
package sph

import (
	"math"
)

// Frame is the read-only view of particle state handed to a Kernel during
// one derivative evaluation. Pos and Vel hold Dims values per particle.
// Density and Pressure are filled by the density pass and are valid during
// the force pass.
type Frame struct {
	Dims     int
	Mass     float64
	Pos      []float64
	Vel      []float64
	Density  []float64
	Pressure []float64
}

// Kernel turns a particle's candidate neighbors into density and
// acceleration. Candidates include the particle itself and may lie beyond
// Radius; implementations filter both.
type Kernel interface {
	// Radius is the support radius. It must not exceed the grid radius.
	Radius() float64
	// Dims is the spatial dimensionality the kernel is normalized for.
	Dims() int
	Density(i int, neighbors []int, f *Frame) float64
	// Acceleration writes the interaction acceleration of particle i into
	// acc, which has Dims entries and arrives zeroed.
	Acceleration(i int, neighbors []int, f *Frame, acc []float64)
}

// minSeparation is the distance below which a pair has no usable direction.
const minSeparation = 1e-12

// Muller is the classic weakly compressible kernel set: poly6 for density,
// spiky gradient for pressure and the viscosity Laplacian for friction.
type Muller struct {
	h, h2     float64
	dims      int
	viscosity float64

	poly6     float64 // W(r) = poly6 * (h^2 - r^2)^3
	spikyGrad float64 // |grad W(r)| = spikyGrad * (h - r)^2
	viscLap   float64 // lap W(r) = viscLap * (h - r)
}

// NewMuller creates the kernel for support radius h in 2 or 3 dimensions.
func NewMuller(h float64, dims int, viscosity float64) *Muller {
	k := &Muller{h: h, h2: h * h, dims: dims, viscosity: viscosity}
	if dims == 2 {
		k.poly6 = 4 / (math.Pi * math.Pow(h, 8))
		k.spikyGrad = 30 / (math.Pi * math.Pow(h, 5))
		k.viscLap = 40 / (math.Pi * math.Pow(h, 5))
	} else {
		k.poly6 = 315 / (64 * math.Pi * math.Pow(h, 9))
		k.spikyGrad = 45 / (math.Pi * math.Pow(h, 6))
		k.viscLap = 45 / (math.Pi * math.Pow(h, 6))
	}
	return k
}

func (k *Muller) Radius() float64 { return k.h }
func (k *Muller) Dims() int       { return k.dims }

// W evaluates the poly6 smoothing function at squared distance r2.
func (k *Muller) W(r2 float64) float64 {
	if r2 >= k.h2 {
		return 0
	}
	d := k.h2 - r2
	return k.poly6 * d * d * d
}

// Density sums m * W over the candidates, self included.
func (k *Muller) Density(i int, neighbors []int, f *Frame) float64 {
	d := f.Dims
	xi := f.Pos[i*d : (i+1)*d]

	var rho float64
	for _, j := range neighbors {
		rho += f.Mass * k.W(dist2(xi, f.Pos[j*d:(j+1)*d]))
	}
	return rho
}

// Acceleration accumulates the symmetric pressure force and viscous drag on
// particle i, divided by its density.
func (k *Muller) Acceleration(i int, neighbors []int, f *Frame, acc []float64) {
	d := f.Dims
	xi := f.Pos[i*d : (i+1)*d]
	vi := f.Vel[i*d : (i+1)*d]
	rhoI := f.Density[i]
	pI := f.Pressure[i]

	for _, j := range neighbors {
		if j == i {
			continue
		}
		xj := f.Pos[j*d : (j+1)*d]
		r2 := dist2(xi, xj)
		if r2 >= k.h2 {
			continue
		}
		r := math.Sqrt(r2)
		rhoJ := f.Density[j]
		q := k.h - r

		// Pressure: -m (p_i + p_j) / (2 rho_j) * grad W, with grad W pointing
		// from j toward i scaled by -spikyGrad.
		if r > minSeparation {
			fp := f.Mass * (pI + f.Pressure[j]) / (2 * rhoJ) * k.spikyGrad * q * q / r
			for a := 0; a < d; a++ {
				acc[a] += fp * (xi[a] - xj[a])
			}
		}

		// Viscosity: mu m (v_j - v_i) / rho_j * lap W
		fv := k.viscosity * f.Mass / rhoJ * k.viscLap * q
		vj := f.Vel[j*d : (j+1)*d]
		for a := 0; a < d; a++ {
			acc[a] += fv * (vj[a] - vi[a])
		}
	}

	inv := 1 / rhoI
	for a := 0; a < d; a++ {
		acc[a] *= inv
	}
}

func dist2(a, b []float64) float64 {
	var s float64
	for k := range a {
		dx := a[k] - b[k]
		s += dx * dx
	}
	return s
}
