package spatial

import (
	"fmt"
	"iter"
)

// Bucket returns the particles filed under c in insertion order. An absent
// cell yields a shared empty slice. The result is read-only and valid until
// the next Initialize or Update; its capacity is clipped so appending to it
// never writes into grid storage.
func (g *Grid) Bucket(c Cell) []int {
	b, ok := g.buckets[c]
	if !ok {
		return emptyBucket
	}
	return b[:len(b):len(b)]
}

// NeighborsInto appends the candidate neighbors of particle i to dst and
// returns the extended slice. Candidates are the contents of i's cell and
// every adjacent cell, i itself included; they may lie beyond the search
// radius. Reuse dst across calls to avoid allocations.
func (g *Grid) NeighborsInto(dst []int, i int) ([]int, error) {
	if err := g.checkIndex(i); err != nil {
		return dst, err
	}
	return g.appendBlock(dst, g.cellOf(i)), nil
}

// ForEachNeighbor calls fn for each candidate neighbor of particle i, in the
// same order as NeighborsInto, until fn returns false.
func (g *Grid) ForEachNeighbor(i int, fn func(j int) bool) error {
	if err := g.checkIndex(i); err != nil {
		return err
	}
	g.visitBlock(g.cellOf(i), fn)
	return nil
}

// Neighbors returns the candidate neighbors of particle i as a lazy,
// restartable sequence. The sequence reads the grid when iterated, so it
// must be consumed before the next Initialize or Update.
func (g *Grid) Neighbors(i int) (iter.Seq[int], error) {
	if err := g.checkIndex(i); err != nil {
		return nil, err
	}
	c := g.cellOf(i)
	return func(yield func(int) bool) {
		g.visitBlock(c, yield)
	}, nil
}

// CellNeighbors returns the contents of c and its adjacent cells as a lazy
// sequence. Absent cells contribute nothing.
func (g *Grid) CellNeighbors(c Cell) iter.Seq[int] {
	return func(yield func(int) bool) {
		g.visitBlock(c, yield)
	}
}

// PointNeighbors appends the candidates around an arbitrary position to dst.
// len(pos) must equal Dims().
func (g *Grid) PointNeighbors(dst []int, pos []float64) ([]int, error) {
	if len(pos) != g.dims {
		return dst, fmt.Errorf("%w: point has %d coordinates, want %d", ErrInvalidConfiguration, len(pos), g.dims)
	}
	if !validPosition(pos, g.radius) {
		return dst, fmt.Errorf("%w: point %v", ErrInvalidPosition, pos)
	}
	return g.appendBlock(dst, CellOf(pos, g.radius)), nil
}

// appendBlock appends the buckets of the 3^dims block around c.
func (g *Grid) appendBlock(dst []int, c Cell) []int {
	for _, off := range g.offsets {
		dst = append(dst, g.buckets[c.Add(off)]...)
	}
	return dst
}

// visitBlock walks the 3^dims block around c. Returns false if fn stopped.
func (g *Grid) visitBlock(c Cell, fn func(int) bool) bool {
	for _, off := range g.offsets {
		for _, j := range g.buckets[c.Add(off)] {
			if !fn(j) {
				return false
			}
		}
	}
	return true
}

func (g *Grid) checkIndex(i int) error {
	if i < 0 || i >= g.n {
		return fmt.Errorf("%w: index %d not in [0, %d)", ErrIndexOutOfRange, i, g.n)
	}
	return nil
}
