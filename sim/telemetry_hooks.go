package sim

import (
	"log/slog"

	"github.com/pthm-cable/sphgrid/telemetry"
)

// flushTelemetry produces the stats for the window ending at step.
func (s *Sim) flushTelemetry(step int, t float64, y []float64) {
	stats := s.collector.Flush(step, t, telemetry.Sample{
		Grid:           s.grid.Stats(),
		NeighborCounts: s.system.NeighborCounts(),
		Densities:      s.system.Density(),
		KineticEnergy:  s.system.KineticEnergy(y),
		MaxSpeed:       s.system.MaxSpeed(y),
		CFLDT:          s.system.CFL(y, s.cfg.Integrator.Courant),
	})
	perfStats := s.perf.Stats()

	// Call stats callback if provided
	if s.opts.StatsCallback != nil {
		s.opts.StatsCallback(stats)
	}

	// Log stats if enabled (console output)
	if s.opts.LogStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if err := s.output.WriteSteps(stats); err != nil {
		slog.Error("failed to write step stats", "error", err)
	}
	if err := s.output.WritePerf(perfStats, step); err != nil {
		slog.Error("failed to write perf", "error", err)
	}
}

// saveSnapshot writes the particle state at step.
func (s *Sim) saveSnapshot(step int, t float64, y []float64) {
	snapshot := telemetry.NewSnapshot(step, t, s.system.Dims(), s.system.Len(), y, s.system.Density())
	snapshot.Seed = s.seed
	snapshot.Kind = s.kind

	path, err := s.output.WriteSnapshot(snapshot)
	if err != nil {
		slog.Error("failed to save snapshot", "error", err)
		return
	}
	if path != "" {
		slog.Info("snapshot saved", "path", path, "step", step)
	}
}
