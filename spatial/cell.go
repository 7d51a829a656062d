// Package spatial provides the sparse uniform hash grid used for SPH
// neighbor search.
//
// Space is divided into cubic cells whose side equals the search radius.
// Only occupied cells are stored, so the particle domain may be unbounded
// and sparse. Any two particles closer than the search radius lie in the
// same or adjacent cells, which makes the 3x3 (2D) or 3x3x3 (3D) block
// around a particle's cell a complete candidate set.
//
// The grid owns cell membership only. Positions are read from a flat
// []float64 with Dims consecutive coordinates per particle, owned by the
// caller and passed in on every Initialize and Update.
package spatial

import (
	"cmp"
	"errors"
	"math"
)

var (
	// ErrInvalidConfiguration reports a non-positive or non-finite search
	// radius, unsupported dimensionality, or a position slice whose length
	// does not match the grid.
	ErrInvalidConfiguration = errors.New("spatial: invalid configuration")

	// ErrIndexOutOfRange reports a particle index outside [0, N) or listed
	// more than once.
	ErrIndexOutOfRange = errors.New("spatial: particle index out of range")

	// ErrInvalidPosition reports a coordinate that cannot be mapped to a cell
	// (NaN, infinite, or beyond the representable cell range).
	ErrInvalidPosition = errors.New("spatial: invalid particle position")

	// ErrInvariantViolated is returned by Verify when the grid does not match
	// the positions it was given.
	ErrInvariantViolated = errors.New("spatial: grid invariant violated")
)

// maxCellCoord bounds |position/radius| so the floored quotient fits an int64.
const maxCellCoord = 1 << 62

// Cell is an integer grid coordinate. In 2D the third component is zero.
// Cell is comparable and used directly as a map key.
type Cell [3]int64

// Add returns the component-wise sum c + o.
func (c Cell) Add(o Cell) Cell {
	return Cell{c[0] + o[0], c[1] + o[1], c[2] + o[2]}
}

// Compare orders cells lexicographically by x, then y, then z.
func (c Cell) Compare(o Cell) int {
	if r := cmp.Compare(c[0], o[0]); r != 0 {
		return r
	}
	if r := cmp.Compare(c[1], o[1]); r != 0 {
		return r
	}
	return cmp.Compare(c[2], o[2])
}

// CellOf maps a position to its cell: floor(pos[d] / radius) on each axis,
// taken on the rounded float64 quotient. Floor rounds toward negative
// infinity, so negative coordinates need no special casing.
//
// A coordinate equal to the exact real product k*radius lands in cell k.
// A coordinate computed as float64(k)*radius is rounded first and may land
// in cell k-1: with radius 0.1, float64(-1996)*0.1 is -199.60000000000002,
// which maps to -1997. The same inputs always give the same cell, and that
// is all the grid relies on.
//
// pos holds one to three coordinates. The caller guarantees radius > 0 and
// finite positions; see Grid for validated entry points.
func CellOf(pos []float64, radius float64) Cell {
	var c Cell
	switch len(pos) {
	case 3:
		c[2] = int64(math.Floor(pos[2] / radius))
		fallthrough
	case 2:
		c[1] = int64(math.Floor(pos[1] / radius))
		fallthrough
	case 1:
		c[0] = int64(math.Floor(pos[0] / radius))
	}
	return c
}

// validPosition reports whether every coordinate maps to a representable cell.
func validPosition(pos []float64, radius float64) bool {
	for _, x := range pos {
		q := x / radius
		if math.IsNaN(q) || math.Abs(q) >= maxCellCoord {
			return false
		}
	}
	return true
}

// neighborOffsets returns the 3^dims cell offsets in lexicographic order
// (dx, then dy, then dz), each ranging over -1, 0, +1.
func neighborOffsets(dims int) []Cell {
	zs := []int64{0}
	if dims == 3 {
		zs = []int64{-1, 0, 1}
	}

	offsets := make([]Cell, 0, 27)
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, dz := range zs {
				offsets = append(offsets, Cell{dx, dy, dz})
			}
		}
	}
	return offsets
}
