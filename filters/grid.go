// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package filters

import "github.com/gomlx/vizflow/resident"

// grid describes the points of a structured grid payload, for kernels.
type grid struct {
	extent, owned, whole resident.Extent
	origin, spacing      [3]float64
	dims                 [3]int
}

func gridOf(meta resident.Metadata) grid {
	g := grid{
		extent:  meta.Extent,
		owned:   meta.OwnedExtent,
		whole:   meta.WholeExtent,
		origin:  meta.Origin,
		spacing: meta.Spacing,
		dims:    meta.Extent.Dims(),
	}
	if g.owned.IsEmpty() {
		g.owned = g.extent
	}
	if g.whole.IsEmpty() {
		g.whole = g.extent
	}
	return g
}

func (g *grid) numPoints() int { return g.extent.NumPoints() }

// index of point (i, j, k) in the flat arrays of the payload, x varying fastest.
func (g *grid) index(i, j, k int) int {
	return (i - g.extent[0]) + g.dims[0]*((j-g.extent[2])+g.dims[1]*(k-g.extent[4]))
}

// ijk returns the structured coordinates of the flat index.
func (g *grid) ijk(idx int) (i, j, k int) {
	i = idx%g.dims[0] + g.extent[0]
	idx /= g.dims[0]
	j = idx%g.dims[1] + g.extent[2]
	k = idx/g.dims[1] + g.extent[4]
	return
}

func (g *grid) position(i, j, k int) [3]float32 {
	return [3]float32{
		float32(g.origin[0] + float64(i)*g.spacing[0]),
		float32(g.origin[1] + float64(j)*g.spacing[1]),
		float32(g.origin[2] + float64(k)*g.spacing[2]),
	}
}

// ownsPoint returns whether the piece is responsible for the point: it must be inside the owned extent, and
// points on an upper boundary shared with another piece belong to that other piece.
func (g *grid) ownsPoint(i, j, k int) bool {
	for axis, v := range [3]int{i, j, k} {
		lo, hi := g.owned[2*axis], g.owned[2*axis+1]
		if v < lo || v > hi {
			return false
		}
		if v == hi && hi < g.whole[2*axis+1] {
			return false
		}
	}
	return true
}

// cellDims returns the number of owned 3D cells along each axis, zero if the owned extent is not 3D.
func (g *grid) cellDims() (dims [3]int, numCells int) {
	numCells = 1
	for axis := range 3 {
		dims[axis] = g.owned[2*axis+1] - g.owned[2*axis]
		if dims[axis] <= 0 {
			return dims, 0
		}
		numCells *= dims[axis]
	}
	return
}

// cellOrigin returns the structured coordinates of the lowest corner of the owned cell idx.
func (g *grid) cellOrigin(cellDims [3]int, idx int) (i, j, k int) {
	i = idx%cellDims[0] + g.owned[0]
	idx /= cellDims[0]
	j = idx%cellDims[1] + g.owned[2]
	k = idx/cellDims[1] + g.owned[4]
	return
}
