package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// StepStats holds aggregated statistics for a window of steps.
type StepStats struct {
	WindowStartStep int     `csv:"-"`
	WindowEndStep   int     `csv:"step"`
	SimTime         float64 `csv:"time"`

	// Step sizes taken during the window
	DTMin  float64 `csv:"dt_min"`
	DTMean float64 `csv:"dt_mean"`
	DTMax  float64 `csv:"dt_max"`

	// Grid occupancy at window end
	Particles  int     `csv:"particles"`
	Buckets    int     `csv:"buckets"`
	MaxBucket  int     `csv:"max_bucket"`
	MeanBucket float64 `csv:"mean_bucket"`
	Movers     int64   `csv:"movers"` // Re-filed during the window, all stages included

	// Candidate neighbor counts at window end
	NeighborMean float64 `csv:"neighbors_mean"`
	NeighborP10  float64 `csv:"neighbors_p10"`
	NeighborP50  float64 `csv:"neighbors_p50"`
	NeighborP90  float64 `csv:"neighbors_p90"`

	// Fluid state at window end
	DensityMean   float64 `csv:"density_mean"`
	DensityStd    float64 `csv:"density_std"`
	DensityMax    float64 `csv:"density_max"`
	KineticEnergy float64 `csv:"kinetic_energy"`
	MaxSpeed      float64 `csv:"max_speed"`
	CFLDT         float64 `csv:"cfl_dt"` // Courant-limited step, +Inf at rest
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeDistribution calculates mean and percentiles of values.
func ComputeDistribution(values []float64) (mean, p10, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}

	mean = stat.Mean(values, nil)

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, p10, p50, p90
}

// ComputeSpread calculates mean, population standard deviation and maximum.
func ComputeSpread(values []float64) (mean, std, peak float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	mean, std = stat.PopMeanStdDev(values, nil)
	peak = values[0]
	for _, v := range values[1:] {
		if v > peak {
			peak = v
		}
	}
	return mean, std, peak
}

// LogValue implements slog.LogValuer for structured logging.
func (s StepStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", s.WindowStartStep),
		slog.Int("step", s.WindowEndStep),
		slog.Float64("time", s.SimTime),
		slog.Float64("dt_min", s.DTMin),
		slog.Float64("dt_mean", s.DTMean),
		slog.Float64("dt_max", s.DTMax),
		slog.Int("particles", s.Particles),
		slog.Int("buckets", s.Buckets),
		slog.Int("max_bucket", s.MaxBucket),
		slog.Float64("mean_bucket", s.MeanBucket),
		slog.Int64("movers", s.Movers),
		slog.Float64("neighbors_mean", s.NeighborMean),
		slog.Float64("neighbors_p10", s.NeighborP10),
		slog.Float64("neighbors_p50", s.NeighborP50),
		slog.Float64("neighbors_p90", s.NeighborP90),
		slog.Float64("density_mean", s.DensityMean),
		slog.Float64("density_std", s.DensityStd),
		slog.Float64("density_max", s.DensityMax),
		slog.Float64("kinetic_energy", s.KineticEnergy),
		slog.Float64("max_speed", s.MaxSpeed),
		slog.Float64("cfl_dt", s.CFLDT),
	)
}

// LogStats logs the window stats using slog.
func (s StepStats) LogStats() {
	slog.Info("stats",
		"step", s.WindowEndStep,
		"time", s.SimTime,
		"dt_mean", s.DTMean,
		"buckets", s.Buckets,
		"max_bucket", s.MaxBucket,
		"movers", s.Movers,
		"neighbors_mean", s.NeighborMean,
		"neighbors_p90", s.NeighborP90,
		"density_mean", s.DensityMean,
		"density_max", s.DensityMax,
		"kinetic_energy", s.KineticEnergy,
		"max_speed", s.MaxSpeed,
	)
}
