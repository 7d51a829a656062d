package telemetry

import (
	"math"

	"github.com/pthm-cable/sphgrid/spatial"
)

// Collector accumulates per-step values within a window of steps and
// produces StepStats.
type Collector struct {
	windowSteps int

	// Current window tracking
	windowStartStep int
	startMovers     int64

	// Step sizes for current window
	steps int
	dtSum float64
	dtMin float64
	dtMax float64

	// Scratch for neighbor percentiles
	counts []float64
}

// NewCollector creates a new stats collector that flushes every windowSteps
// steps.
func NewCollector(windowSteps int) *Collector {
	if windowSteps < 1 {
		windowSteps = 1
	}
	return &Collector{
		windowSteps: windowSteps,
		dtMin:       math.Inf(1),
	}
}

// StartAt begins the first window at step, for runs resumed mid-way.
func (c *Collector) StartAt(step int, totalMovers int64) {
	c.windowStartStep = step
	c.startMovers = totalMovers
}

// RecordStep records the size of an accepted step.
func (c *Collector) RecordStep(dt float64) {
	c.steps++
	c.dtSum += dt
	c.dtMin = math.Min(c.dtMin, dt)
	c.dtMax = math.Max(c.dtMax, dt)
}

// ShouldFlush returns true if enough steps have passed to flush the window.
func (c *Collector) ShouldFlush(step int) bool {
	return step-c.windowStartStep >= c.windowSteps
}

// Sample is the system state handed to Flush.
type Sample struct {
	Grid           spatial.Stats
	NeighborCounts []int
	Densities      []float64
	KineticEnergy  float64
	MaxSpeed       float64
	CFLDT          float64
}

// Flush produces a StepStats and resets counters for the next window.
func (c *Collector) Flush(step int, t float64, s Sample) StepStats {
	c.counts = c.counts[:0]
	for _, n := range s.NeighborCounts {
		c.counts = append(c.counts, float64(n))
	}
	nMean, nP10, nP50, nP90 := ComputeDistribution(c.counts)
	dMean, dStd, dMax := ComputeSpread(s.Densities)

	stats := StepStats{
		WindowStartStep: c.windowStartStep,
		WindowEndStep:   step,
		SimTime:         t,

		Particles:  s.Grid.Particles,
		Buckets:    s.Grid.Buckets,
		MaxBucket:  s.Grid.MaxBucket,
		MeanBucket: s.Grid.MeanBucket,
		Movers:     s.Grid.TotalMovers - c.startMovers,

		NeighborMean: nMean,
		NeighborP10:  nP10,
		NeighborP50:  nP50,
		NeighborP90:  nP90,

		DensityMean:   dMean,
		DensityStd:    dStd,
		DensityMax:    dMax,
		KineticEnergy: s.KineticEnergy,
		MaxSpeed:      s.MaxSpeed,
		CFLDT:         s.CFLDT,
	}
	if c.steps > 0 {
		stats.DTMin = c.dtMin
		stats.DTMax = c.dtMax
		stats.DTMean = c.dtSum / float64(c.steps)
	}

	// Reset for next window
	c.windowStartStep = step
	c.startMovers = s.Grid.TotalMovers
	c.steps = 0
	c.dtSum = 0
	c.dtMin = math.Inf(1)
	c.dtMax = 0

	return stats
}

// WindowSteps returns the number of steps per window.
func (c *Collector) WindowSteps() int {
	return c.windowSteps
}
