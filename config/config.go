// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/sphgrid/spatial"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Grid       GridConfig       `yaml:"grid"`
	Fluid      FluidConfig      `yaml:"fluid"`
	Integrator IntegratorConfig `yaml:"integrator"`
	Scenario   ScenarioConfig   `yaml:"scenario"`
	Parallel   ParallelConfig   `yaml:"parallel"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Debug      DebugConfig      `yaml:"debug"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// GridConfig holds neighbor search parameters.
type GridConfig struct {
	SearchRadius      float64 `yaml:"search_radius"`      // Cell side length and maximum interaction distance
	Dims              int     `yaml:"dims"`               // 2 or 3
	ParallelThreshold int     `yaml:"parallel_threshold"` // Bucket count at which Update scans in parallel
}

// FluidConfig holds the equation of state and body force.
type FluidConfig struct {
	Mass                  float64   `yaml:"mass"`
	RestDensity           float64   `yaml:"rest_density"`
	Stiffness             float64   `yaml:"stiffness"`
	Viscosity             float64   `yaml:"viscosity"`
	Gravity               []float64 `yaml:"gravity"` // One component per dimension
	ClampNegativePressure bool      `yaml:"clamp_negative_pressure"`
}

// IntegratorConfig holds time stepping parameters.
type IntegratorConfig struct {
	Method string  `yaml:"method"` // euler, rk4 or rk23
	DT     float64 `yaml:"dt"`     // Fixed step, or initial step for rk23
	TEnd   float64 `yaml:"t_end"`
	RTol   float64 `yaml:"rtol"` // rk23 only
	ATol   float64 `yaml:"atol"` // rk23 only
	MinDT  float64 `yaml:"min_dt"`
	MaxDT  float64 `yaml:"max_dt"` // rk23 step ceiling (0 = dt)

	Courant float64 `yaml:"courant"` // Courant number for the reported CFL step
}

// ScenarioConfig holds initial condition parameters.
type ScenarioConfig struct {
	Kind       string  `yaml:"kind"` // dam_break or noisy_block
	NX         int     `yaml:"nx"`
	NY         int     `yaml:"ny"`
	NZ         int     `yaml:"nz"`
	Spacing    float64 `yaml:"spacing"`
	Jitter     float64 `yaml:"jitter"`      // Fraction of spacing
	NoiseScale float64 `yaml:"noise_scale"` // Fraction of spacing
	Seed       int64   `yaml:"seed"`
}

// ParallelConfig holds worker pool parameters.
type ParallelConfig struct {
	Workers   int `yaml:"workers"`   // 0 = GOMAXPROCS
	Threshold int `yaml:"threshold"` // Minimum range split across workers
}

// TelemetryConfig holds logging and output cadence.
type TelemetryConfig struct {
	LogEvery      int `yaml:"log_every"`      // Steps between step stats records
	PerfWindow    int `yaml:"perf_window"`    // Steps in the perf rolling window
	SnapshotEvery int `yaml:"snapshot_every"` // Steps between particle snapshots (0 = off)
}

// DebugConfig holds checks too slow for normal runs.
type DebugConfig struct {
	VerifyGrid bool `yaml:"verify_grid"` // Check grid invariants after every step
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	NumParticles int // NX*NY*NZ (NZ treated as 1 in 2D)
	StateLen     int // 2 * NumParticles * Dims
	Workers      int // Effective worker count
	MaxDT        float64
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	// Start with embedded defaults
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	// Load user config if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	nz := c.Scenario.NZ
	if c.Grid.Dims == 2 {
		nz = 1
	}
	c.Derived.NumParticles = c.Scenario.NX * c.Scenario.NY * nz
	c.Derived.StateLen = 2 * c.Derived.NumParticles * c.Grid.Dims

	c.Derived.Workers = c.Parallel.Workers
	if c.Derived.Workers <= 0 {
		c.Derived.Workers = runtime.GOMAXPROCS(0)
	}

	c.Derived.MaxDT = c.Integrator.MaxDT
	if c.Derived.MaxDT <= 0 {
		c.Derived.MaxDT = c.Integrator.DT
	}

	// Gravity defaults to zero when omitted, and a 2D vector is extended to
	// 3D with a zero z component.
	switch {
	case len(c.Fluid.Gravity) == 0:
		c.Fluid.Gravity = make([]float64, c.Grid.Dims)
	case len(c.Fluid.Gravity) == 2 && c.Grid.Dims == 3:
		c.Fluid.Gravity = append(c.Fluid.Gravity, 0)
	}
}

// Validate checks parameter ranges. Errors wrap spatial.ErrInvalidConfiguration.
func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("config: %w: %s", spatial.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
	}

	if !(c.Grid.SearchRadius > 0) {
		return bad("grid.search_radius %v must be positive", c.Grid.SearchRadius)
	}
	if c.Grid.Dims != 2 && c.Grid.Dims != 3 {
		return bad("grid.dims %d must be 2 or 3", c.Grid.Dims)
	}
	if len(c.Fluid.Gravity) != c.Grid.Dims {
		return bad("fluid.gravity has %d components, want %d", len(c.Fluid.Gravity), c.Grid.Dims)
	}
	if !(c.Fluid.Mass > 0) || !(c.Fluid.RestDensity > 0) {
		return bad("fluid.mass and fluid.rest_density must be positive")
	}
	if c.Fluid.Stiffness < 0 || c.Fluid.Viscosity < 0 {
		return bad("fluid.stiffness and fluid.viscosity must not be negative")
	}
	if c.Derived.NumParticles < 1 {
		return bad("scenario lattice %dx%dx%d is empty", c.Scenario.NX, c.Scenario.NY, c.Scenario.NZ)
	}
	if !(c.Scenario.Spacing > 0) {
		return bad("scenario.spacing %v must be positive", c.Scenario.Spacing)
	}
	switch c.Integrator.Method {
	case "euler", "rk4", "rk23":
	default:
		return bad("integrator.method %q must be euler, rk4 or rk23", c.Integrator.Method)
	}
	if !(c.Integrator.DT > 0) || !(c.Integrator.TEnd > 0) {
		return bad("integrator.dt and integrator.t_end must be positive")
	}
	if c.Integrator.Method == "rk23" && (!(c.Integrator.RTol > 0) || c.Integrator.ATol < 0) {
		return bad("integrator.rtol must be positive and atol non-negative for rk23")
	}
	if !(c.Integrator.Courant > 0) {
		return bad("integrator.courant %v must be positive", c.Integrator.Courant)
	}
	if c.Telemetry.LogEvery < 1 {
		return bad("telemetry.log_every %d must be at least 1", c.Telemetry.LogEvery)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
