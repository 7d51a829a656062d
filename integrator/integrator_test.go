package integrator

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decay is dy/dt = -y with solution y0 * exp(-t).
var decay = Func(func(dy, y []float64, t float64) error {
	for i := range y {
		dy[i] = -y[i]
	}
	return nil
})

// oscillator is x'' = -x as the first-order system (x, v).
var oscillator = Func(func(dy, y []float64, t float64) error {
	dy[0] = y[1]
	dy[1] = -y[0]
	return nil
})

func TestSolve_Accuracy(t *testing.T) {
	tests := []struct {
		name    string
		stepper func() Stepper
		dt      float64
		tol     float64
	}{
		{"euler", func() Stepper { return &Euler{} }, 1e-3, 1e-2},
		{"rk4", func() Stepper { return &RK4{} }, 1e-2, 1e-8},
		{"bs23", func() Stepper { return NewBogackiShampine(1e-8, 1e-10, 1e-12) }, 0.1, 1e-6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y := []float64{1, 0}
			res, err := Solve(context.Background(), oscillator, tt.stepper(), y,
				Options{T0: 0, T1: 2 * math.Pi, Dt: tt.dt}, nil)
			require.NoError(t, err)
			assert.Equal(t, 2*math.Pi, res.T)
			assert.InDelta(t, 1.0, y[0], tt.tol)
			assert.InDelta(t, 0.0, y[1], tt.tol)
		})
	}
}

func TestEuler_FirstOrder(t *testing.T) {
	errAt := func(dt float64) float64 {
		y := []float64{1}
		_, err := Solve(context.Background(), decay, &Euler{}, y, Options{T1: 1, Dt: dt}, nil)
		require.NoError(t, err)
		return math.Abs(y[0] - math.Exp(-1))
	}
	ratio := errAt(1e-2) / errAt(5e-3)
	assert.InDelta(t, 2.0, ratio, 0.05)
}

func TestRK4_FourthOrder(t *testing.T) {
	errAt := func(dt float64) float64 {
		y := []float64{1}
		_, err := Solve(context.Background(), decay, &RK4{}, y, Options{T1: 1, Dt: dt}, nil)
		require.NoError(t, err)
		return math.Abs(y[0] - math.Exp(-1))
	}
	ratio := errAt(0.1) / errAt(0.05)
	assert.InDelta(t, 16.0, ratio, 1.0)
}

func TestSolve_EvaluationCounts(t *testing.T) {
	y := []float64{1}
	res, err := Solve(context.Background(), decay, &RK4{}, y, Options{T1: 1, Dt: 0.25}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Steps)
	assert.Equal(t, 16, res.Evaluations)
	assert.Zero(t, res.Rejected)

	// One start-up evaluation, then three per attempted step.
	bs := NewBogackiShampine(1e-6, 1e-9, 1e-12)
	y = []float64{1}
	res, err = Solve(context.Background(), decay, bs, y, Options{T1: 1, Dt: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1+3*(res.Steps+res.Rejected), res.Evaluations)
}

func TestBogackiShampine_RejectsOversizedSteps(t *testing.T) {
	bs := NewBogackiShampine(1e-8, 1e-10, 1e-12)
	y := []float64{1, 0}

	var times []float64
	res, err := Solve(context.Background(), oscillator, bs, y, Options{T1: 3, Dt: 3},
		func(step int, t, h float64, y []float64) error {
			times = append(times, t)
			return nil
		})
	require.NoError(t, err)
	assert.Greater(t, res.Rejected, 0)
	assert.Equal(t, res.Steps, len(times))
	assert.IsIncreasing(t, times)
	assert.InDelta(t, math.Cos(3), y[0], 1e-6)
}

func TestBogackiShampine_StepTooSmall(t *testing.T) {
	// A discontinuous right-hand side cannot meet a tight tolerance with a
	// large minimum step.
	jump := Func(func(dy, y []float64, t float64) error {
		dy[0] = 0
		if t > 0.5 {
			dy[0] = 1e6
		}
		return nil
	})
	bs := NewBogackiShampine(1e-12, 1e-12, 0.1)
	y := []float64{0}
	_, err := Solve(context.Background(), jump, bs, y, Options{T1: 1, Dt: 1}, nil)
	assert.ErrorIs(t, err, ErrStepTooSmall)
}

func TestSolve_ResetsCachedStage(t *testing.T) {
	ctx := context.Background()
	used := NewBogackiShampine(1e-6, 1e-9, 1e-12)

	y := []float64{1}
	_, err := Solve(ctx, decay, used, y, Options{T0: 0, T1: 1, Dt: 0.1}, nil)
	require.NoError(t, err)

	// Continue from t=1 with a state edited outside the stepper. The cached
	// first stage belongs to the old state at the same time.
	y[0] = 3
	res, err := Solve(ctx, decay, used, y, Options{T0: 1, T1: 2, Dt: 0.1}, nil)
	require.NoError(t, err)

	fresh := []float64{3}
	want, err := Solve(ctx, decay, NewBogackiShampine(1e-6, 1e-9, 1e-12), fresh,
		Options{T0: 1, T1: 2, Dt: 0.1}, nil)
	require.NoError(t, err)

	assert.Equal(t, fresh, y)
	assert.Equal(t, want.Steps, res.Steps)
	assert.Equal(t, want.Evaluations, res.Evaluations)
	assert.InDelta(t, 3*math.Exp(-1), y[0], 1e-5)
}

func TestSolve_FailedStepLeavesStateIntact(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		stepper Stepper
	}{
		{"euler", &Euler{}},
		{"rk4", &RK4{}},
		{"bs23", NewBogackiShampine(1e-6, 1e-9, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			sys := Func(func(dy, y []float64, t float64) error {
				calls++
				if calls > 1 {
					return boom
				}
				return decay(dy, y, t)
			})
			y := []float64{1, 2}
			_, err := tt.stepper.Step(sys, y, 0, 0.1)
			if tt.name == "euler" {
				require.NoError(t, err)
				_, err = tt.stepper.Step(sys, y, 0.1, 0.1)
				assert.ErrorIs(t, err, boom)
				assert.Equal(t, []float64{0.9, 1.8}, y)
				return
			}
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, []float64{1, 2}, y)
		})
	}
}

func TestSolve_StopsEarly(t *testing.T) {
	t.Run("max steps", func(t *testing.T) {
		y := []float64{1}
		res, err := Solve(context.Background(), decay, &Euler{}, y, Options{T1: 1, Dt: 0.1, MaxSteps: 3}, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Steps)
		assert.InDelta(t, 0.3, res.T, 1e-12)
	})

	t.Run("context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		y := []float64{1}
		res, err := Solve(ctx, decay, &Euler{}, y, Options{T1: 1, Dt: 0.1},
			func(step int, t, h float64, y []float64) error {
				if step == 2 {
					cancel()
				}
				return nil
			})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, res.Steps)
	})

	t.Run("observer", func(t *testing.T) {
		stop := errors.New("stop")
		y := []float64{1}
		res, err := Solve(context.Background(), decay, &Euler{}, y, Options{T1: 1, Dt: 0.1},
			func(step int, t, h float64, y []float64) error {
				if step == 4 {
					return stop
				}
				return nil
			})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 4, res.Steps)
	})
}

func TestSolve_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"zero dt", Options{T1: 1}},
		{"negative dt", Options{T1: 1, Dt: -1}},
		{"nan dt", Options{T1: 1, Dt: math.NaN()}},
		{"backwards", Options{T0: 1, T1: 0, Dt: 0.1}},
		{"infinite end", Options{T1: math.Inf(1), Dt: 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Solve(context.Background(), decay, &Euler{}, []float64{1}, tt.opts, nil)
			assert.ErrorIs(t, err, ErrInvalidStep)
		})
	}
}

func TestSolve_EmptySpan(t *testing.T) {
	y := []float64{1}
	res, err := Solve(context.Background(), decay, &RK4{}, y, Options{T0: 2, T1: 2, Dt: 0.1}, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Steps)
	assert.Zero(t, res.Evaluations)
	assert.Equal(t, []float64{1}, y)
}
