// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resident

import (
	"fmt"
	"math"
)

// Extent of a structured grid, in point indices, inclusive: {xmin, xmax, ymin, ymax, zmin, zmax}.
// An extent with any max < min is empty.
type Extent [6]int

// EmptyExtent is the canonical empty extent.
var EmptyExtent = Extent{0, -1, 0, -1, 0, -1}

// IsEmpty returns whether the extent has no points.
func (e Extent) IsEmpty() bool {
	return e[1] < e[0] || e[3] < e[2] || e[5] < e[4]
}

// Dims returns the number of points along each axis.
func (e Extent) Dims() [3]int {
	if e.IsEmpty() {
		return [3]int{}
	}
	return [3]int{e[1] - e[0] + 1, e[3] - e[2] + 1, e[5] - e[4] + 1}
}

// NumPoints in the extent.
func (e Extent) NumPoints() int {
	d := e.Dims()
	return d[0] * d[1] * d[2]
}

// NumCells in the extent: the number of hexahedra (or quads/lines for degenerated axes) between points.
func (e Extent) NumCells() int {
	if e.IsEmpty() {
		return 0
	}
	n := 1
	for axis := range 3 {
		if size := e[2*axis+1] - e[2*axis]; size > 0 {
			n *= size
		}
	}
	return n
}

// Contains returns whether other is fully inside e.
func (e Extent) Contains(other Extent) bool {
	if other.IsEmpty() {
		return true
	}
	for axis := range 3 {
		if other[2*axis] < e[2*axis] || other[2*axis+1] > e[2*axis+1] {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (e Extent) String() string {
	return fmt.Sprintf("[%d..%d, %d..%d, %d..%d]", e[0], e[1], e[2], e[3], e[4], e[5])
}

// Bounds of a data set: {xmin, xmax, ymin, ymax, zmin, zmax}.
type Bounds [6]float64

// EmptyBounds are bounds that contain nothing: merging any point into them gives the bounds of that point.
var EmptyBounds = Bounds{math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(-1)}

// IsEmpty returns whether the bounds contain no point.
func (b Bounds) IsEmpty() bool {
	return b[1] < b[0] || b[3] < b[2] || b[5] < b[4]
}

// Merge returns bounds that contain both b and other.
func (b Bounds) Merge(other Bounds) Bounds {
	for axis := range 3 {
		b[2*axis] = math.Min(b[2*axis], other[2*axis])
		b[2*axis+1] = math.Max(b[2*axis+1], other[2*axis+1])
	}
	return b
}

// Center of the bounds.
func (b Bounds) Center() [3]float64 {
	return [3]float64{(b[0] + b[1]) / 2, (b[2] + b[3]) / 2, (b[4] + b[5]) / 2}
}

// Diagonal length of the bounds.
func (b Bounds) Diagonal() float64 {
	if b.IsEmpty() {
		return 0
	}
	dx, dy, dz := b[1]-b[0], b[3]-b[2], b[5]-b[4]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// StructuredBounds returns the bounds of the points of extent, given the grid origin and spacing.
func StructuredBounds(extent Extent, origin, spacing [3]float64) Bounds {
	if extent.IsEmpty() {
		return EmptyBounds
	}
	var b Bounds
	for axis := range 3 {
		lo := origin[axis] + float64(extent[2*axis])*spacing[axis]
		hi := origin[axis] + float64(extent[2*axis+1])*spacing[axis]
		b[2*axis], b[2*axis+1] = math.Min(lo, hi), math.Max(lo, hi)
	}
	return b
}
