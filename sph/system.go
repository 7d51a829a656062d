package sph

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/sphgrid/parallel"
	"github.com/pthm-cable/sphgrid/spatial"
	"github.com/pthm-cable/sphgrid/telemetry"
)

// Params holds the fluid constants.
type Params struct {
	Mass        float64
	RestDensity float64
	Stiffness   float64
	Gravity     []float64 // one entry per dimension

	// ClampNegativePressure drops tensile pressure below rest density.
	ClampNegativePressure bool
}

// Pressure evaluates the linear equation of state p = k (rho - rho0).
func (p Params) Pressure(rho float64) float64 {
	pr := p.Stiffness * (rho - p.RestDensity)
	if p.ClampNegativePressure && pr < 0 {
		return 0
	}
	return pr
}

// Option configures a System.
type Option func(*System)

// WithPool splits the density and force passes across p.
func WithPool(pool *parallel.Pool) Option {
	return func(s *System) { s.pool = pool }
}

// WithPerf records grid_update, density and forces phases on c.
func WithPerf(c *telemetry.PerfCollector) Option {
	return func(s *System) { s.perf = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *System) {
		if l != nil {
			s.logger = l
		}
	}
}

// System is the semidiscretized SPH right-hand side. The state vector is
// laid out as [positions | velocities], each N*Dims long.
//
// Every call to Derivative first updates the grid with the positions it is
// given, so the integrator may evaluate stages in any order, repeat them or
// roll back after a rejected step.
type System struct {
	grid   *spatial.Grid
	kernel Kernel
	params Params
	n      int
	dims   int

	frame    Frame
	density  []float64
	pressure []float64

	// Per-worker scratch
	neighbors [][]int
	acc       [][]float64
	errs      []error
	counts    []int // candidate count per particle from the last density pass

	densityFn parallel.Func
	forceFn   parallel.Func
	dy        []float64

	pool   *parallel.Pool
	perf   *telemetry.PerfCollector
	logger *slog.Logger
}

// NewSystem creates a system of n particles searched through grid.
func NewSystem(grid *spatial.Grid, kernel Kernel, params Params, n int, opts ...Option) (*System, error) {
	if grid == nil || kernel == nil {
		return nil, fmt.Errorf("%w: grid and kernel are required", spatial.ErrInvalidConfiguration)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: particle count %d", spatial.ErrInvalidConfiguration, n)
	}
	dims := grid.Dims()
	if kernel.Dims() != dims {
		return nil, fmt.Errorf("%w: kernel is %dD, grid is %dD", spatial.ErrInvalidConfiguration, kernel.Dims(), dims)
	}
	if kernel.Radius() > grid.Radius() {
		return nil, fmt.Errorf("%w: kernel radius %v exceeds search radius %v",
			spatial.ErrInvalidConfiguration, kernel.Radius(), grid.Radius())
	}
	if !(params.Mass > 0) || !(params.RestDensity > 0) {
		return nil, fmt.Errorf("%w: mass and rest density must be positive", spatial.ErrInvalidConfiguration)
	}
	if params.Gravity != nil && len(params.Gravity) != dims {
		return nil, fmt.Errorf("%w: gravity has %d components, want %d",
			spatial.ErrInvalidConfiguration, len(params.Gravity), dims)
	}

	s := &System{
		grid:     grid,
		kernel:   kernel,
		params:   params,
		n:        n,
		dims:     dims,
		density:  make([]float64, n),
		pressure: make([]float64, n),
		counts:   make([]int, n),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	workers := s.pool.Workers()
	s.neighbors = make([][]int, workers)
	s.acc = make([][]float64, workers)
	s.errs = make([]error, workers)
	for w := range workers {
		s.neighbors[w] = make([]int, 0, 64)
		s.acc[w] = make([]float64, dims)
	}

	s.frame = Frame{
		Dims:     dims,
		Mass:     params.Mass,
		Density:  s.density,
		Pressure: s.pressure,
	}

	// Method values are created once so Derivative does not allocate closures.
	s.densityFn = s.densityChunk
	s.forceFn = s.forceChunk
	return s, nil
}

// Len returns the particle count.
func (s *System) Len() int { return s.n }

// Dims returns the spatial dimensionality.
func (s *System) Dims() int { return s.dims }

// StateLen returns the length of the state vector.
func (s *System) StateLen() int { return 2 * s.n * s.dims }

// Grid returns the neighbor search grid.
func (s *System) Grid() *spatial.Grid { return s.grid }

// Positions returns the position half of y.
func (s *System) Positions(y []float64) []float64 { return y[:s.n*s.dims] }

// Velocities returns the velocity half of y.
func (s *System) Velocities(y []float64) []float64 { return y[s.n*s.dims:] }

// Density returns the densities from the most recent evaluation.
func (s *System) Density() []float64 { return s.density }

// NeighborCounts returns the candidate count of every particle from the most
// recent evaluation.
func (s *System) NeighborCounts() []int { return s.counts }

// Init files every particle of y in the grid. Call it once before the first
// Derivative.
func (s *System) Init(y []float64) error {
	if len(y) != s.StateLen() {
		return fmt.Errorf("init: %w: state has %d values, want %d",
			spatial.ErrInvalidConfiguration, len(y), s.StateLen())
	}
	if err := s.grid.Initialize(s.Positions(y), nil); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	s.logger.Info("sph system initialized",
		"particles", s.n,
		"dims", s.dims,
		"buckets", s.grid.NumBuckets(),
	)
	return nil
}

// Derivative writes dy/dt at (t, y) into dy.
func (s *System) Derivative(dy, y []float64, t float64) error {
	if len(y) != s.StateLen() || len(dy) != s.StateLen() {
		return fmt.Errorf("derivative: %w: state has %d values, want %d",
			spatial.ErrInvalidConfiguration, len(y), s.StateLen())
	}
	half := s.n * s.dims
	pos, vel := y[:half], y[half:]

	s.phase(telemetry.PhaseGridUpdate)
	if err := s.grid.Update(pos); err != nil {
		return fmt.Errorf("derivative at t=%g: %w", t, err)
	}

	s.frame.Pos = pos
	s.frame.Vel = vel
	s.dy = dy

	s.phase(telemetry.PhaseDensity)
	s.resetErrs()
	s.pool.Run(s.n, s.densityFn)
	if err := s.firstErr(); err != nil {
		return fmt.Errorf("derivative at t=%g: density: %w", t, err)
	}

	s.phase(telemetry.PhaseForces)
	s.pool.Run(s.n, s.forceFn)
	if err := s.firstErr(); err != nil {
		return fmt.Errorf("derivative at t=%g: forces: %w", t, err)
	}

	copy(dy[:half], vel)
	s.dy = nil

	// Time spent after returning belongs to the stepper's vector arithmetic.
	s.phase(telemetry.PhaseIntegrate)
	return nil
}

func (s *System) densityChunk(worker, start, end int) {
	nb := s.neighbors[worker]
	for i := start; i < end; i++ {
		var err error
		nb, err = s.grid.NeighborsInto(nb[:0], i)
		if err != nil {
			s.errs[worker] = err
			break
		}
		rho := s.kernel.Density(i, nb, &s.frame)
		s.density[i] = rho
		s.pressure[i] = s.params.Pressure(rho)
		s.counts[i] = len(nb)
	}
	s.neighbors[worker] = nb
}

func (s *System) forceChunk(worker, start, end int) {
	nb := s.neighbors[worker]
	acc := s.acc[worker]
	d := s.dims
	out := s.dy[s.n*d:]
	for i := start; i < end; i++ {
		var err error
		nb, err = s.grid.NeighborsInto(nb[:0], i)
		if err != nil {
			s.errs[worker] = err
			break
		}
		clear(acc)
		s.kernel.Acceleration(i, nb, &s.frame, acc)
		for a := 0; a < d; a++ {
			g := 0.0
			if s.params.Gravity != nil {
				g = s.params.Gravity[a]
			}
			out[i*d+a] = acc[a] + g
		}
	}
	s.neighbors[worker] = nb
}

func (s *System) phase(ph telemetry.Phase) {
	if s.perf != nil {
		s.perf.StartPhase(ph)
	}
}

func (s *System) resetErrs() {
	clear(s.errs)
}

func (s *System) firstErr() error {
	return errors.Join(s.errs...)
}
