// Package main calibrates particle mass and search radius for a lattice
// spacing.
package main

import (
	"math"

	"github.com/pthm-cable/sphgrid/config"
)

// ParamSpec defines a single calibrated parameter.
type ParamSpec struct {
	Name string  // Human-readable name
	Path string  // Config path for logging
	Min  float64 // Lower bound
	Max  float64 // Upper bound
}

// ParamVector holds the set of calibrated parameters. Both are expressed
// relative to the lattice so the bounds hold for any spacing:
//
//	search_radius = radius_ratio * spacing
//	mass          = mass_ratio * rest_density * spacing^dims
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the calibrated parameter set.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			{Name: "radius_ratio", Path: "grid.search_radius", Min: 1.2, Max: 3.5},
			{Name: "mass_ratio", Path: "fluid.mass", Min: 0.2, Max: 3.0},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp restricts raw values to their bounds.
func (pv *ParamVector) Clamp(raw []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = math.Max(spec.Min, math.Min(spec.Max, raw[i]))
	}
	return clamped
}

// ApplyToConfig writes clamped raw values into cfg.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, raw []float64) {
	clamped := pv.Clamp(raw)
	spacing := cfg.Scenario.Spacing
	cfg.Grid.SearchRadius = clamped[0] * spacing
	cfg.Fluid.Mass = clamped[1] * cfg.Fluid.RestDensity * math.Pow(spacing, float64(cfg.Grid.Dims))
}

// ExtractFromConfig reads the current parameter values from cfg.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	spacing := cfg.Scenario.Spacing
	return pv.Clamp([]float64{
		cfg.Grid.SearchRadius / spacing,
		cfg.Fluid.Mass / (cfg.Fluid.RestDensity * math.Pow(spacing, float64(cfg.Grid.Dims))),
	})
}
