package telemetry

import (
	"log/slog"
	"time"
)

// Phase identifies a timed part of a simulation step. A step evaluates the
// right-hand side several times, so PhaseGridUpdate, PhaseDensity and
// PhaseForces accumulate across stages.
type Phase uint8

const (
	PhaseGridUpdate Phase = iota
	PhaseDensity
	PhaseForces
	PhaseIntegrate
	PhaseTelemetry

	numPhases
)

var phaseNames = [numPhases]string{
	PhaseGridUpdate: "grid_update",
	PhaseDensity:    "density",
	PhaseForces:     "forces",
	PhaseIntegrate:  "integrate",
	PhaseTelemetry:  "telemetry",
}

func (p Phase) String() string {
	if p < numPhases {
		return phaseNames[p]
	}
	return "unknown"
}

// PhaseDurations holds one duration per phase.
type PhaseDurations [numPhases]time.Duration

// stepSample is the timing of one completed step.
type stepSample struct {
	total  time.Duration
	phases PhaseDurations
}

// PerfCollector tracks step and phase timing over a rolling window of
// steps. It does not allocate after construction.
type PerfCollector struct {
	now func() time.Time

	ring  []stepSample
	next  int
	count int

	current    stepSample
	stepStart  time.Time
	phaseStart time.Time
	active     Phase
	inPhase    bool
}

// NewPerfCollector creates a collector averaging over windowSize steps.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{
		now:  time.Now,
		ring: make([]stepSample, windowSize),
	}
}

// StartStep begins timing a new simulation step.
func (p *PerfCollector) StartStep() {
	p.stepStart = p.now()
	p.current = stepSample{}
	p.inPhase = false
}

// StartPhase closes the running phase, if any, and starts timing phase.
func (p *PerfCollector) StartPhase(phase Phase) {
	t := p.now()
	p.closePhase(t)
	p.active = phase
	p.phaseStart = t
	p.inPhase = true
}

func (p *PerfCollector) closePhase(t time.Time) {
	if p.inPhase && p.active < numPhases {
		p.current.phases[p.active] += t.Sub(p.phaseStart)
	}
}

// EndStep closes the running phase and records the step in the window.
func (p *PerfCollector) EndStep() {
	t := p.now()
	p.closePhase(t)
	p.inPhase = false
	p.current.total = t.Sub(p.stepStart)

	p.ring[p.next] = p.current
	p.next = (p.next + 1) % len(p.ring)
	p.count = min(p.count+1, len(p.ring))
}

// PerfStats aggregates the steps in the window.
type PerfStats struct {
	AvgStepDuration time.Duration
	MinStepDuration time.Duration
	MaxStepDuration time.Duration
	StepsPerSecond  float64

	PhaseAvg PhaseDurations
	PhasePct [numPhases]float64 // share of the average step, in percent
}

// Stats summarizes the window. It returns zero stats before the first step.
func (p *PerfCollector) Stats() PerfStats {
	var s PerfStats
	if p.count == 0 {
		return s
	}

	var total time.Duration
	var sums PhaseDurations
	for i, sample := range p.ring[:p.count] {
		total += sample.total
		if i == 0 || sample.total < s.MinStepDuration {
			s.MinStepDuration = sample.total
		}
		s.MaxStepDuration = max(s.MaxStepDuration, sample.total)
		for ph, d := range sample.phases {
			sums[ph] += d
		}
	}

	n := time.Duration(p.count)
	s.AvgStepDuration = total / n
	if total > 0 {
		s.StepsPerSecond = float64(n) * float64(time.Second) / float64(total)
	}
	for ph, sum := range sums {
		s.PhaseAvg[ph] = sum / n
		if total > 0 {
			s.PhasePct[ph] = 100 * float64(sum) / float64(total)
		}
	}
	return s
}

// LogStats logs the window at info level. Phases under 0.1% are omitted.
func (s PerfStats) LogStats() {
	slog.Info("perf", "perf", s.logAttrs(0.1))
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	return s.logAttrs(0)
}

func (s PerfStats) logAttrs(minPct float64) slog.Value {
	attrs := make([]slog.Attr, 0, 4+int(numPhases))
	attrs = append(attrs,
		slog.Int64("avg_step_us", s.AvgStepDuration.Microseconds()),
		slog.Int64("min_step_us", s.MinStepDuration.Microseconds()),
		slog.Int64("max_step_us", s.MaxStepDuration.Microseconds()),
		slog.Float64("steps_per_sec", s.StepsPerSecond),
	)
	for ph := range numPhases {
		if pct := s.PhasePct[ph]; pct > minPct {
			attrs = append(attrs, slog.Float64(ph.String()+"_pct", pct))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is one row of perf.csv.
type PerfStatsCSV struct {
	WindowEnd     int     `csv:"window_end"`
	AvgStepUS     int64   `csv:"avg_step_us"`
	MinStepUS     int64   `csv:"min_step_us"`
	MaxStepUS     int64   `csv:"max_step_us"`
	StepsPerSec   float64 `csv:"steps_per_sec"`
	GridUpdatePct float64 `csv:"grid_update_pct"`
	DensityPct    float64 `csv:"density_pct"`
	ForcesPct     float64 `csv:"forces_pct"`
	IntegratePct  float64 `csv:"integrate_pct"`
	TelemetryPct  float64 `csv:"telemetry_pct"`
}

// ToCSV flattens the stats for the window ending at step windowEnd.
func (s PerfStats) ToCSV(windowEnd int) PerfStatsCSV {
	return PerfStatsCSV{
		WindowEnd:     windowEnd,
		AvgStepUS:     s.AvgStepDuration.Microseconds(),
		MinStepUS:     s.MinStepDuration.Microseconds(),
		MaxStepUS:     s.MaxStepDuration.Microseconds(),
		StepsPerSec:   s.StepsPerSecond,
		GridUpdatePct: s.PhasePct[PhaseGridUpdate],
		DensityPct:    s.PhasePct[PhaseDensity],
		ForcesPct:     s.PhasePct[PhaseForces],
		IntegratePct:  s.PhasePct[PhaseIntegrate],
		TelemetryPct:  s.PhasePct[PhaseTelemetry],
	}
}
