package main

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/sphgrid/config"
	"github.com/pthm-cable/sphgrid/scenario"
	"github.com/pthm-cable/sphgrid/spatial"
	"github.com/pthm-cable/sphgrid/sph"
)

// neighborWeight scales the neighbor count term against the density term.
const neighborWeight = 0.25

// Measurement is the outcome of one evaluation, averaged over seeds.
type Measurement struct {
	Objective float64
	Density   float64 // mean interior density
	Neighbors float64 // mean interior neighbors within the search radius
}

// Evaluator builds the configured scenario and measures the rest state.
type Evaluator struct {
	params          *ParamVector
	baseConfig      *config.Config
	seeds           []int64
	targetNeighbors float64
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(params *ParamVector, baseCfg *config.Config, seeds []int64, targetNeighbors float64) *Evaluator {
	return &Evaluator{
		params:          params,
		baseConfig:      baseCfg,
		seeds:           seeds,
		targetNeighbors: targetNeighbors,
	}
}

// Evaluate scores raw parameter values. Lower is better; a configuration
// that fails to build scores +Inf.
func (e *Evaluator) Evaluate(raw []float64) (Measurement, error) {
	cfg := *e.baseConfig
	e.params.ApplyToConfig(&cfg, raw)

	var m Measurement
	for _, seed := range e.seeds {
		density, neighbors, err := measure(&cfg, seed)
		if err != nil {
			return Measurement{Objective: math.Inf(1)}, err
		}
		m.Density += density
		m.Neighbors += neighbors
	}
	m.Density /= float64(len(e.seeds))
	m.Neighbors /= float64(len(e.seeds))

	dErr := (m.Density - cfg.Fluid.RestDensity) / cfg.Fluid.RestDensity
	nErr := (m.Neighbors - e.targetNeighbors) / e.targetNeighbors
	m.Objective = dErr*dErr + neighborWeight*nErr*nErr
	return m, nil
}

// measure evaluates densities once at the initial state and averages over
// particles at least one search radius inside the block.
func measure(cfg *config.Config, seed int64) (density, neighbors float64, err error) {
	sc, err := scenario.Build(scenario.Params{
		Kind:       cfg.Scenario.Kind,
		Dims:       cfg.Grid.Dims,
		NX:         cfg.Scenario.NX,
		NY:         cfg.Scenario.NY,
		NZ:         cfg.Scenario.NZ,
		Spacing:    cfg.Scenario.Spacing,
		Jitter:     cfg.Scenario.Jitter,
		NoiseScale: cfg.Scenario.NoiseScale,
		Seed:       seed,
	})
	if err != nil {
		return 0, 0, err
	}

	h := cfg.Grid.SearchRadius
	grid, err := spatial.NewGrid(h, cfg.Grid.Dims)
	if err != nil {
		return 0, 0, err
	}
	sys, err := sph.NewSystem(grid, sph.NewMuller(h, cfg.Grid.Dims, cfg.Fluid.Viscosity), sph.Params{
		Mass:        cfg.Fluid.Mass,
		RestDensity: cfg.Fluid.RestDensity,
		Stiffness:   cfg.Fluid.Stiffness,
	}, sc.N)
	if err != nil {
		return 0, 0, err
	}
	if err := sys.Init(sc.Y); err != nil {
		return 0, 0, err
	}
	dy := make([]float64, len(sc.Y))
	if err := sys.Derivative(dy, sc.Y, 0); err != nil {
		return 0, 0, err
	}

	pos := sc.Positions()
	interior := interiorParticles(pos, sc.N, sc.Dims, h)
	if len(interior) == 0 {
		return 0, 0, fmt.Errorf("block %dx%dx%d has no particles one radius from its faces",
			cfg.Scenario.NX, cfg.Scenario.NY, cfg.Scenario.NZ)
	}

	densities := make([]float64, len(interior))
	counts := make([]float64, len(interior))
	all := sys.Density()
	for k, i := range interior {
		densities[k] = all[i]
		xi := pos[i*sc.Dims : (i+1)*sc.Dims]
		err := grid.ForEachNeighbor(i, func(j int) bool {
			if j != i && floats.Distance(xi, pos[j*sc.Dims:(j+1)*sc.Dims], 2) < h {
				counts[k]++
			}
			return true
		})
		if err != nil {
			return 0, 0, err
		}
	}
	return stat.Mean(densities, nil), stat.Mean(counts, nil), nil
}

// interiorParticles returns the particles whose every coordinate lies at
// least margin inside the bounding box of pos.
func interiorParticles(pos []float64, n, dims int, margin float64) []int {
	lo := make([]float64, dims)
	hi := make([]float64, dims)
	for d := range dims {
		lo[d], hi[d] = math.Inf(1), math.Inf(-1)
	}
	for i := range n {
		for d := range dims {
			lo[d] = math.Min(lo[d], pos[i*dims+d])
			hi[d] = math.Max(hi[d], pos[i*dims+d])
		}
	}

	var out []int
	for i := range n {
		inside := true
		for d := range dims {
			x := pos[i*dims+d]
			if x < lo[d]+margin || x > hi[d]-margin {
				inside = false
				break
			}
		}
		if inside {
			out = append(out, i)
		}
	}
	return out
}
