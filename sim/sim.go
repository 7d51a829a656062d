// Package sim wires configuration, scenario, grid, force model and
// integrator into a runnable simulation.
package sim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/sphgrid/config"
	"github.com/pthm-cable/sphgrid/integrator"
	"github.com/pthm-cable/sphgrid/parallel"
	"github.com/pthm-cable/sphgrid/scenario"
	"github.com/pthm-cable/sphgrid/spatial"
	"github.com/pthm-cable/sphgrid/sph"
	"github.com/pthm-cable/sphgrid/telemetry"
)

// Options holds run settings that do not belong in the config file.
type Options struct {
	Seed       int64  // Overrides scenario.seed when non-zero
	LogStats   bool   // Log step and perf stats via slog
	OutputDir  string // CSV, config and snapshot output (empty = disabled)
	ResumeFrom string // Snapshot to start from instead of the scenario
	MaxSteps   int    // Stop after N steps (0 = run to t_end)

	// StatsCallback, if set, receives every flushed window.
	StatsCallback func(telemetry.StepStats)
}

// Sim is one configured run.
type Sim struct {
	cfg  *config.Config
	opts Options

	y    []float64
	t0   float64
	step int // steps completed before this run, non-zero when resumed
	seed int64
	kind string

	pool    *parallel.Pool
	grid    *spatial.Grid
	system  *sph.System
	stepper integrator.Stepper

	perf      *telemetry.PerfCollector
	collector *telemetry.Collector
	output    *telemetry.OutputManager
}

// New builds the simulation described by cfg.
func New(cfg *config.Config, opts Options) (*Sim, error) {
	s := &Sim{
		cfg:       cfg,
		opts:      opts,
		seed:      cfg.Scenario.Seed,
		kind:      cfg.Scenario.Kind,
		perf:      telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		collector: telemetry.NewCollector(cfg.Telemetry.LogEvery),
	}
	if opts.Seed != 0 {
		s.seed = opts.Seed
	}

	if err := s.loadState(); err != nil {
		return nil, err
	}

	s.pool = parallel.NewPool(cfg.Derived.Workers)
	if cfg.Parallel.Threshold > 0 {
		s.pool.SetThreshold(cfg.Parallel.Threshold)
	}

	grid, err := spatial.NewGrid(cfg.Grid.SearchRadius, cfg.Grid.Dims,
		spatial.WithPool(s.pool),
		spatial.WithParallelThreshold(cfg.Grid.ParallelThreshold),
	)
	if err != nil {
		s.pool.Close()
		return nil, fmt.Errorf("creating grid: %w", err)
	}
	s.grid = grid

	n := len(s.y) / (2 * cfg.Grid.Dims)
	kernel := sph.NewMuller(cfg.Grid.SearchRadius, cfg.Grid.Dims, cfg.Fluid.Viscosity)
	system, err := sph.NewSystem(grid, kernel, sph.Params{
		Mass:                  cfg.Fluid.Mass,
		RestDensity:           cfg.Fluid.RestDensity,
		Stiffness:             cfg.Fluid.Stiffness,
		Gravity:               cfg.Fluid.Gravity,
		ClampNegativePressure: cfg.Fluid.ClampNegativePressure,
	}, n, sph.WithPool(s.pool), sph.WithPerf(s.perf))
	if err != nil {
		s.pool.Close()
		return nil, fmt.Errorf("creating system: %w", err)
	}
	s.system = system

	if err := system.Init(s.y); err != nil {
		s.pool.Close()
		return nil, err
	}
	s.collector.StartAt(s.step, grid.Stats().TotalMovers)

	s.stepper = newStepper(cfg.Integrator)

	output, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		s.pool.Close()
		return nil, err
	}
	s.output = output
	if err := output.WriteConfig(cfg); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// loadState builds the initial state from the scenario or a snapshot.
func (s *Sim) loadState() error {
	if s.opts.ResumeFrom != "" {
		snap, err := telemetry.LoadSnapshot(s.opts.ResumeFrom)
		if err != nil {
			return err
		}
		if snap.Dims != s.cfg.Grid.Dims {
			return fmt.Errorf("resume: %w: snapshot is %dD, config is %dD",
				spatial.ErrInvalidConfiguration, snap.Dims, s.cfg.Grid.Dims)
		}
		s.y = snap.State()
		s.t0 = snap.Time
		s.step = snap.Step
		s.seed = snap.Seed
		s.kind = snap.Kind
		slog.Info("resuming from snapshot", "path", s.opts.ResumeFrom, "step", snap.Step, "time", snap.Time)
		return nil
	}

	sc, err := scenario.Build(scenario.Params{
		Kind:       s.cfg.Scenario.Kind,
		Dims:       s.cfg.Grid.Dims,
		NX:         s.cfg.Scenario.NX,
		NY:         s.cfg.Scenario.NY,
		NZ:         s.cfg.Scenario.NZ,
		Spacing:    s.cfg.Scenario.Spacing,
		Jitter:     s.cfg.Scenario.Jitter,
		NoiseScale: s.cfg.Scenario.NoiseScale,
		Seed:       s.seed,
	})
	if err != nil {
		return fmt.Errorf("building scenario: %w", err)
	}
	s.y = sc.Y
	return nil
}

// newStepper maps the configured method to a stepper.
func newStepper(c config.IntegratorConfig) integrator.Stepper {
	switch c.Method {
	case "euler":
		return &integrator.Euler{}
	case "rk4":
		return &integrator.RK4{}
	default:
		return integrator.NewBogackiShampine(c.RTol, c.ATol, c.MinDT)
	}
}

// State returns the current state vector.
func (s *Sim) State() []float64 { return s.y }

// System returns the force model.
func (s *Sim) System() *sph.System { return s.system }

// Run integrates until t_end, MaxSteps or cancellation.
func (s *Sim) Run(ctx context.Context) (integrator.Result, error) {
	dt := s.cfg.Integrator.DT
	if s.cfg.Integrator.Method == "rk23" {
		dt = s.cfg.Derived.MaxDT
	}
	opts := integrator.Options{
		T0:       s.t0,
		T1:       s.cfg.Integrator.TEnd,
		Dt:       dt,
		MaxSteps: s.opts.MaxSteps,
	}

	slog.Info("starting simulation",
		"particles", s.system.Len(),
		"dims", s.system.Dims(),
		"method", s.cfg.Integrator.Method,
		"workers", s.pool.Workers(),
		"seed", s.seed,
		"t0", opts.T0,
		"t_end", opts.T1,
	)

	s.perf.StartStep()
	s.perf.StartPhase(telemetry.PhaseIntegrate)
	res, err := integrator.Solve(ctx, s.system, s.stepper, s.y, opts, s.observe)
	if err != nil {
		return res, err
	}

	slog.Info("simulation finished",
		"steps", res.Steps,
		"rejected", res.Rejected,
		"evaluations", res.Evaluations,
		"time", res.T,
	)
	return res, nil
}

// observe runs after every accepted step.
func (s *Sim) observe(step int, t, h float64, y []float64) error {
	s.perf.StartPhase(telemetry.PhaseTelemetry)
	step += s.step
	s.collector.RecordStep(h)

	if s.cfg.Debug.VerifyGrid {
		// The last evaluation may have been at a stage state, not at y.
		pos := s.system.Positions(y)
		if err := s.grid.Update(pos); err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		if err := s.grid.Verify(pos); err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
	}

	if s.collector.ShouldFlush(step) {
		s.flushTelemetry(step, t, y)
	}
	if every := s.cfg.Telemetry.SnapshotEvery; every > 0 && step%every == 0 {
		s.saveSnapshot(step, t, y)
	}

	s.perf.EndStep()
	s.perf.StartStep()
	s.perf.StartPhase(telemetry.PhaseIntegrate)
	return nil
}

// Close releases the worker pool and output files.
func (s *Sim) Close() error {
	s.pool.Close()
	return s.output.Close()
}
