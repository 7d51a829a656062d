package spatial

import (
	"fmt"
	"log/slog"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Stats summarizes grid occupancy.
type Stats struct {
	Particles   int
	Buckets     int
	MaxBucket   int
	MeanBucket  float64
	StdBucket   float64
	Movers      int   // movers re-filed by the last Update
	TotalMovers int64 // movers re-filed since the grid was created
}

// Stats computes occupancy statistics. It walks every bucket, so call it
// once per logging interval rather than per step.
func (g *Grid) Stats() Stats {
	s := Stats{
		Particles:   g.active,
		Buckets:     len(g.buckets),
		Movers:      g.lastMovers,
		TotalMovers: g.totalMovers,
	}
	if len(g.buckets) == 0 {
		return s
	}

	sizes := make([]float64, 0, len(g.buckets))
	for _, b := range g.buckets {
		sizes = append(sizes, float64(len(b)))
		if len(b) > s.MaxBucket {
			s.MaxBucket = len(b)
		}
	}
	s.MeanBucket, s.StdBucket = stat.PopMeanStdDev(sizes, nil)
	return s
}

// LogValue implements slog.LogValuer for structured logging.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("particles", s.Particles),
		slog.Int("buckets", s.Buckets),
		slog.Int("max_bucket", s.MaxBucket),
		slog.Float64("mean_bucket", s.MeanBucket),
		slog.Float64("std_bucket", s.StdBucket),
		slog.Int("movers", s.Movers),
		slog.Int64("total_movers", s.TotalMovers),
	)
}

// Cells returns the occupied cells in lexicographic order.
func (g *Grid) Cells() []Cell {
	cells := make([]Cell, 0, len(g.buckets))
	for c := range g.buckets {
		cells = append(cells, c)
	}
	slices.SortFunc(cells, Cell.Compare)
	return cells
}

// Verify checks the grid against pos: every stored bucket is non-empty,
// every filed particle is in range, filed once, and filed under the cell its
// position maps to, and the filed count matches Active.
func (g *Grid) Verify(pos []float64) error {
	if len(pos) != g.n*g.dims {
		return fmt.Errorf("%w: got %d coordinates, want %d", ErrInvalidConfiguration, len(pos), g.n*g.dims)
	}

	seen := make([]bool, g.n)
	count := 0
	for key, b := range g.buckets {
		if len(b) == 0 {
			return fmt.Errorf("%w: empty bucket stored at %v", ErrInvariantViolated, key)
		}
		for _, i := range b {
			if i < 0 || i >= g.n {
				return fmt.Errorf("%w: index %d in bucket %v not in [0, %d)", ErrInvariantViolated, i, key, g.n)
			}
			if seen[i] {
				return fmt.Errorf("%w: particle %d filed more than once", ErrInvariantViolated, i)
			}
			seen[i] = true
			count++

			if c := CellOf(pos[i*g.dims:(i+1)*g.dims], g.radius); c != key {
				return fmt.Errorf("%w: particle %d filed under %v, belongs in %v", ErrInvariantViolated, i, key, c)
			}
		}
	}
	if count != g.active {
		return fmt.Errorf("%w: %d particles filed, %d active", ErrInvariantViolated, count, g.active)
	}
	return nil
}
