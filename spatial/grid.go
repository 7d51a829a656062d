package spatial

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/pthm-cable/sphgrid/parallel"
)

// DefaultParallelThreshold is the minimum bucket count for which Update
// splits its mover scan across a pool.
const DefaultParallelThreshold = 256

// bucketCapacity is the initial capacity of a freshly allocated bucket.
const bucketCapacity = 8

// emptyBucket is returned for every absent cell. Zero length and zero
// capacity mean no caller can write through it or grow it in place.
var emptyBucket = make([]int, 0)

// move records a particle whose cell changed since the last pass.
type move struct {
	index    int
	from, to Cell
}

// Option configures a Grid.
type Option func(*Grid)

// WithPool runs the Update mover scan on p when the grid has at least the
// parallel threshold of buckets.
func WithPool(p *parallel.Pool) Option {
	return func(g *Grid) { g.pool = p }
}

// WithParallelThreshold sets the bucket count at which Update uses the pool.
func WithParallelThreshold(n int) Option {
	return func(g *Grid) {
		if n > 0 {
			g.parallelThreshold = n
		}
	}
}

// WithLogger sets the logger used for debug summaries.
func WithLogger(l *slog.Logger) Option {
	return func(g *Grid) {
		if l != nil {
			g.logger = l
		}
	}
}

// Grid is a sparse uniform hash grid mapping cells to the particle indices
// they contain.
//
// After every successful Initialize or Update each active particle appears
// in exactly one bucket, the one for its current cell, and no stored bucket
// is empty. Failed calls leave the grid exactly as it was.
//
// Grid is not safe for concurrent mutation. Queries may run concurrently
// with each other once Initialize or Update has returned.
type Grid struct {
	radius  float64
	dims    int
	offsets []Cell

	buckets map[Cell][]int
	pos     []float64 // positions from the last Initialize/Update
	n       int       // particle count fixed by Initialize
	active  int       // number of particles filed in the grid
	ready   bool

	// Scratch reused across calls
	keys        []Cell
	moves       []move
	workerMoves [][]move
	workerErrs  []error
	workerErrAt []int
	free        [][]int
	seen        []bool

	lastMovers  int
	totalMovers int64

	pool              *parallel.Pool
	parallelThreshold int
	logger            *slog.Logger
}

// NewGrid creates an empty grid with the given search radius, which is also
// the cell side length. dims must be 2 or 3.
func NewGrid(radius float64, dims int, opts ...Option) (*Grid, error) {
	if !(radius > 0) || math.IsInf(radius, 0) {
		return nil, fmt.Errorf("%w: search radius %v must be positive and finite", ErrInvalidConfiguration, radius)
	}
	if dims != 2 && dims != 3 {
		return nil, fmt.Errorf("%w: dims %d must be 2 or 3", ErrInvalidConfiguration, dims)
	}

	g := &Grid{
		radius:            radius,
		dims:              dims,
		offsets:           neighborOffsets(dims),
		buckets:           make(map[Cell][]int),
		parallelThreshold: DefaultParallelThreshold,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Radius returns the search radius.
func (g *Grid) Radius() float64 { return g.radius }

// Dims returns the grid dimensionality.
func (g *Grid) Dims() int { return g.dims }

// Len returns the particle count N fixed by the last Initialize.
func (g *Grid) Len() int { return g.n }

// Active returns the number of particles filed in the grid.
func (g *Grid) Active() int { return g.active }

// NumBuckets returns the number of occupied cells.
func (g *Grid) NumBuckets() int { return len(g.buckets) }

// Initialize discards all buckets and files every active particle by its
// position. active lists the particle indices to track; nil means all of
// [0, len(pos)/Dims()). It may be called any number of times.
//
// Inputs are validated before the grid is touched, so on error the previous
// state is kept.
func (g *Grid) Initialize(pos []float64, active []int) error {
	if len(pos)%g.dims != 0 {
		return fmt.Errorf("initialize: %w: %d coordinates is not a multiple of dims %d",
			ErrInvalidConfiguration, len(pos), g.dims)
	}
	n := len(pos) / g.dims

	if err := g.validateActive(pos, n, active); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	g.clear()
	g.pos = pos
	g.n = n
	g.ready = true
	g.lastMovers = 0

	if active == nil {
		for i := 0; i < n; i++ {
			g.insert(g.cellOf(i), i)
		}
		g.active = n
	} else {
		for _, i := range active {
			g.insert(g.cellOf(i), i)
		}
		g.active = len(active)
	}

	if g.logger.Enabled(context.Background(), slog.LevelDebug) {
		g.logger.Debug("grid initialized",
			"particles", g.active,
			"buckets", len(g.buckets),
			"radius", g.radius,
		)
	}
	return nil
}

// validateActive checks indices and positions for Initialize.
func (g *Grid) validateActive(pos []float64, n int, active []int) error {
	if active == nil {
		for i := 0; i < n; i++ {
			p := pos[i*g.dims : (i+1)*g.dims]
			if !validPosition(p, g.radius) {
				return fmt.Errorf("%w: particle %d at %v", ErrInvalidPosition, i, p)
			}
		}
		return nil
	}

	if cap(g.seen) < n {
		g.seen = make([]bool, n)
	}
	seen := g.seen[:n]
	clear(seen)

	for _, i := range active {
		if i < 0 || i >= n {
			return fmt.Errorf("%w: index %d not in [0, %d)", ErrIndexOutOfRange, i, n)
		}
		if seen[i] {
			return fmt.Errorf("%w: index %d listed twice", ErrIndexOutOfRange, i)
		}
		seen[i] = true

		p := pos[i*g.dims : (i+1)*g.dims]
		if !validPosition(p, g.radius) {
			return fmt.Errorf("%w: particle %d at %v", ErrInvalidPosition, i, p)
		}
	}
	return nil
}

// Update re-files the particles whose cell changed since the last call.
// pos must hold the same number of particles as the last Initialize; it may
// be any snapshot, including a repeated or earlier one, and particles may
// have moved any number of cells.
//
// The bucket key set is fixed before any particle migrates, so no particle
// is visited twice or dropped. Movers are removed from their old bucket
// (deleting it if it empties) and appended to their new one in ascending
// index order, which keeps bucket order deterministic.
func (g *Grid) Update(pos []float64) error {
	if !g.ready {
		return fmt.Errorf("update: %w: grid not initialized", ErrInvalidConfiguration)
	}
	if len(pos) != g.n*g.dims {
		return fmt.Errorf("update: %w: got %d coordinates, want %d (%d particles x %d dims)",
			ErrInvalidConfiguration, len(pos), g.n*g.dims, g.n, g.dims)
	}

	prev := g.pos
	g.pos = pos

	// Phase 1: read-only scan over a sorted snapshot of the current keys.
	// Sorting makes the reported particle deterministic when several
	// positions are invalid.
	g.keys = g.keys[:0]
	for k := range g.buckets {
		g.keys = append(g.keys, k)
	}
	slices.SortFunc(g.keys, Cell.Compare)

	var err error
	if g.pool != nil && len(g.keys) >= g.parallelThreshold {
		err = g.scanParallel()
	} else {
		g.moves, err = g.scan(g.keys, g.moves[:0])
	}
	if err != nil {
		g.pos = prev
		return fmt.Errorf("update: %w", err)
	}

	// Phase 2: migrate.
	g.apply()
	g.lastMovers = len(g.moves)
	g.totalMovers += int64(g.lastMovers)

	if g.lastMovers > 0 && g.logger.Enabled(context.Background(), slog.LevelDebug) {
		g.logger.Debug("grid updated",
			"movers", g.lastMovers,
			"buckets", len(g.buckets),
		)
	}
	return nil
}

// scan appends a move for every particle in the given buckets whose cell no
// longer matches its bucket key. It only reads the grid.
func (g *Grid) scan(keys []Cell, dst []move) ([]move, error) {
	for _, key := range keys {
		for _, i := range g.buckets[key] {
			p := g.pos[i*g.dims : (i+1)*g.dims]
			if !validPosition(p, g.radius) {
				return dst, fmt.Errorf("%w: particle %d at %v", ErrInvalidPosition, i, p)
			}
			if c := CellOf(p, g.radius); c != key {
				dst = append(dst, move{index: i, from: key, to: c})
			}
		}
	}
	return dst, nil
}

// scanParallel splits the key snapshot across the pool and merges the
// per-worker move lists into g.moves. If several chunks fail, the error from
// the earliest chunk is returned, matching a sequential scan.
func (g *Grid) scanParallel() error {
	workers := g.pool.Workers()
	if len(g.workerMoves) != workers {
		g.workerMoves = make([][]move, workers)
		g.workerErrs = make([]error, workers)
		g.workerErrAt = make([]int, workers)
	}
	for w := range g.workerMoves {
		g.workerMoves[w] = g.workerMoves[w][:0]
		g.workerErrs[w] = nil
	}

	keys := g.keys
	g.pool.Run(len(keys), func(worker, start, end int) {
		moves, err := g.scan(keys[start:end], g.workerMoves[worker])
		g.workerMoves[worker] = moves
		if err != nil && (g.workerErrs[worker] == nil || start < g.workerErrAt[worker]) {
			g.workerErrs[worker] = err
			g.workerErrAt[worker] = start
		}
	})

	var first error
	firstAt := len(keys)
	g.moves = g.moves[:0]
	for w := range g.workerMoves {
		if err := g.workerErrs[w]; err != nil && g.workerErrAt[w] < firstAt {
			first, firstAt = err, g.workerErrAt[w]
		}
		g.moves = append(g.moves, g.workerMoves[w]...)
	}
	return first
}

// apply removes every mover from its old bucket, then inserts it into its
// new one. Removal preserves the order of the particles that stay.
func (g *Grid) apply() {
	if len(g.moves) == 0 {
		return
	}
	slices.SortFunc(g.moves, func(a, b move) int { return cmp.Compare(a.index, b.index) })

	for _, m := range g.moves {
		b := g.buckets[m.from]
		at := slices.Index(b, m.index)
		if at < 0 {
			panic(fmt.Sprintf("spatial: particle %d missing from bucket %v", m.index, m.from))
		}
		b = slices.Delete(b, at, at+1)
		if len(b) == 0 {
			delete(g.buckets, m.from)
			g.free = append(g.free, b)
		} else {
			g.buckets[m.from] = b
		}
	}

	for _, m := range g.moves {
		g.insert(m.to, m.index)
	}
}

// insert appends particle i to the bucket for c, creating it if absent.
func (g *Grid) insert(c Cell, i int) {
	b, ok := g.buckets[c]
	if !ok {
		b = g.newBucket()
	}
	g.buckets[c] = append(b, i)
}

// newBucket returns an empty bucket, reusing a recycled one if available.
func (g *Grid) newBucket() []int {
	if n := len(g.free); n > 0 {
		b := g.free[n-1]
		g.free = g.free[:n-1]
		return b[:0]
	}
	return make([]int, 0, bucketCapacity)
}

// clear empties the grid, recycling bucket storage.
func (g *Grid) clear() {
	for _, b := range g.buckets {
		g.free = append(g.free, b[:0])
	}
	clear(g.buckets)
	g.active = 0
}

// position returns the coordinates of particle i.
func (g *Grid) position(i int) []float64 {
	return g.pos[i*g.dims : (i+1)*g.dims]
}

// cellOf returns the cell of particle i under the current positions.
func (g *Grid) cellOf(i int) Cell {
	return CellOf(g.position(i), g.radius)
}
