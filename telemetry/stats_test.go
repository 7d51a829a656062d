package telemetry

import (
	"math"
	"testing"

	"github.com/pthm-cable/sphgrid/spatial"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty slice", []float64{}, 0.5, 0},
		{"single element", []float64{5.0}, 0.5, 5.0},
		{"p0", []float64{1, 2, 3, 4, 5}, 0.0, 1.0},
		{"p100", []float64{1, 2, 3, 4, 5}, 1.0, 5.0},
		{"p50 odd", []float64{1, 2, 3, 4, 5}, 0.5, 3.0},
		{"p50 even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"p10", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.1, 1.9},
		{"p90", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.9, 9.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(tt.sorted, tt.p)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("Percentile(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}

func TestComputeDistribution(t *testing.T) {
	values := []float64{1.0, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1}
	mean, p10, p50, p90 := ComputeDistribution(values)

	if math.Abs(mean-0.55) > 0.001 {
		t.Errorf("mean = %v, want 0.55", mean)
	}
	if math.Abs(p10-0.19) > 0.01 {
		t.Errorf("p10 = %v, want ~0.19", p10)
	}
	if math.Abs(p50-0.55) > 0.01 {
		t.Errorf("p50 = %v, want ~0.55", p50)
	}
	if math.Abs(p90-0.91) > 0.01 {
		t.Errorf("p90 = %v, want ~0.91", p90)
	}
	if values[0] != 1.0 {
		t.Error("input slice must not be reordered")
	}
}

func TestComputeDistributionEmpty(t *testing.T) {
	mean, p10, p50, p90 := ComputeDistribution(nil)
	if mean != 0 || p10 != 0 || p50 != 0 || p90 != 0 {
		t.Error("empty slice should return all zeros")
	}
}

func TestComputeSpread(t *testing.T) {
	mean, std, peak := ComputeSpread([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if mean != 5 || std != 2 || peak != 9 {
		t.Errorf("spread = %v/%v/%v, want 5/2/9", mean, std, peak)
	}
}

func TestCollector_Flush(t *testing.T) {
	c := NewCollector(3)

	for step, dt := range []float64{0.001, 0.002, 0.003} {
		if c.ShouldFlush(step) {
			t.Fatalf("ShouldFlush(%d) = true before window is full", step)
		}
		c.RecordStep(dt)
	}
	if !c.ShouldFlush(3) {
		t.Fatal("ShouldFlush(3) = false after three steps")
	}

	stats := c.Flush(3, 0.006, Sample{
		Grid:           spatial.Stats{Particles: 4, Buckets: 2, MaxBucket: 3, MeanBucket: 2, TotalMovers: 10},
		NeighborCounts: []int{3, 3, 4, 4},
		Densities:      []float64{990, 1000, 1010, 1000},
		KineticEnergy:  1.5,
		MaxSpeed:       0.7,
		CFLDT:          0.02,
	})

	if stats.WindowStartStep != 0 || stats.WindowEndStep != 3 {
		t.Errorf("window = [%d, %d], want [0, 3]", stats.WindowStartStep, stats.WindowEndStep)
	}
	if math.Abs(stats.DTMean-0.002) > 1e-12 || stats.DTMin != 0.001 || stats.DTMax != 0.003 {
		t.Errorf("dt = %v/%v/%v, want 0.001/0.002/0.003", stats.DTMin, stats.DTMean, stats.DTMax)
	}
	if stats.Movers != 10 {
		t.Errorf("Movers = %d, want 10", stats.Movers)
	}
	if stats.KineticEnergy != 1.5 || stats.MaxSpeed != 0.7 || stats.CFLDT != 0.02 {
		t.Errorf("kinetic/speed/cfl = %v/%v/%v, want 1.5/0.7/0.02", stats.KineticEnergy, stats.MaxSpeed, stats.CFLDT)
	}
	if stats.NeighborMean != 3.5 || stats.DensityMax != 1010 {
		t.Errorf("neighbors_mean/density_max = %v/%v, want 3.5/1010", stats.NeighborMean, stats.DensityMax)
	}

	// The next window reports movers relative to the last flush.
	c.RecordStep(0.004)
	stats = c.Flush(4, 0.01, Sample{Grid: spatial.Stats{TotalMovers: 12}})
	if stats.Movers != 2 {
		t.Errorf("Movers = %d, want 2", stats.Movers)
	}
	if stats.DTMin != 0.004 || stats.DTMax != 0.004 {
		t.Errorf("dt range = %v..%v, want 0.004", stats.DTMin, stats.DTMax)
	}
	if stats.WindowStartStep != 3 {
		t.Errorf("WindowStartStep = %d, want 3", stats.WindowStartStep)
	}
}

func TestCollector_EmptyWindow(t *testing.T) {
	c := NewCollector(0)
	if c.WindowSteps() != 1 {
		t.Errorf("WindowSteps = %d, want 1", c.WindowSteps())
	}
	stats := c.Flush(0, 0, Sample{})
	if stats.DTMin != 0 || stats.DTMean != 0 {
		t.Errorf("empty window dt = %v/%v, want zeros", stats.DTMin, stats.DTMean)
	}
}

func TestCollector_StartAt(t *testing.T) {
	c := NewCollector(10)
	c.StartAt(500, 40)
	if c.ShouldFlush(505) {
		t.Error("ShouldFlush(505) = true five steps into a resumed window")
	}
	if !c.ShouldFlush(510) {
		t.Error("ShouldFlush(510) = false after a full window")
	}
	stats := c.Flush(510, 1, Sample{Grid: spatial.Stats{TotalMovers: 45}})
	if stats.WindowStartStep != 500 || stats.Movers != 5 {
		t.Errorf("window start/movers = %d/%d, want 500/5", stats.WindowStartStep, stats.Movers)
	}
}
