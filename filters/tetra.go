// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package filters

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/vizflow/devices"
)

// cubeTets splits a hexahedral cell in 6 tetrahedra sharing the diagonal from corner 0 to corner 7.
// Corner c is at offset (c&1, (c>>1)&1, (c>>2)&1) from the cell origin. Every cell uses the same split, so
// the faces shared by neighbor cells are triangulated consistently.
var cubeTets = [6][4]int{
	{0, 1, 3, 7},
	{0, 3, 2, 7},
	{0, 2, 6, 7},
	{0, 6, 4, 7},
	{0, 4, 5, 7},
	{0, 5, 1, 7},
}

// isoSurface extracts the surface where field crosses iso over the owned cells of a structured grid, using
// marching tetrahedra. The carry values are interpolated onto the vertices of the emitted triangles.
type isoSurface struct {
	g            grid
	field, carry []float32
	iso          float32
}

// triangleWriter receives the 3 vertices (positions and carried values) of each emitted triangle.
type triangleWriter func(points *[3][3]float32, values *[3]float32)

// polygonizeCell emits the triangles of the cell with the given lowest corner, and returns how many.
// If write is nil, triangles are only counted.
func (s *isoSurface) polygonizeCell(i, j, k int, write triangleWriter) int {
	var corners [8]int
	for c := range 8 {
		corners[c] = s.g.index(i+c&1, j+(c>>1)&1, k+(c>>2)&1)
	}
	count := 0
	var points [3][3]float32
	var values [3]float32
	emit := func(edges ...[2]int) {
		count++
		if write == nil {
			return
		}
		for v, edge := range edges {
			points[v], values[v] = s.edgeVertex(corners[edge[0]], corners[edge[1]])
		}
		write(&points, &values)
	}
	for _, tet := range cubeTets {
		var inside, outside [4]int
		numInside, numOutside := 0, 0
		for _, c := range tet {
			if s.field[corners[c]] > s.iso {
				inside[numInside] = c
				numInside++
			} else {
				outside[numOutside] = c
				numOutside++
			}
		}
		switch numInside {
		case 1:
			a := inside[0]
			emit([2]int{a, outside[0]}, [2]int{a, outside[1]}, [2]int{a, outside[2]})
		case 3:
			a := outside[0]
			emit([2]int{a, inside[0]}, [2]int{a, inside[1]}, [2]int{a, inside[2]})
		case 2:
			e0, e1 := [2]int{inside[0], outside[0]}, [2]int{inside[0], outside[1]}
			e2, e3 := [2]int{inside[1], outside[1]}, [2]int{inside[1], outside[0]}
			emit(e0, e1, e2)
			emit(e0, e2, e3)
		}
	}
	return count
}

// edgeVertex interpolates the crossing point on the edge between the points with flat indices a and b.
// The edge is always interpolated from its lowest index, so neighbor cells produce identical vertices.
func (s *isoSurface) edgeVertex(a, b int) (point [3]float32, value float32) {
	if a > b {
		a, b = b, a
	}
	fa, fb := s.field[a], s.field[b]
	t := (s.iso - fa) / (fb - fa)
	pa, pb := s.g.position(s.g.ijk(a)), s.g.position(s.g.ijk(b))
	for axis := range 3 {
		point[axis] = pa[axis] + t*(pb[axis]-pa[axis])
	}
	value = s.carry[a] + t*(s.carry[b]-s.carry[a])
	return
}

// extract runs the two pass (count, scan, write) extraction in the kernel, and returns the newly allocated
// points (9 per triangle) and scalars (3 per triangle) buffers.
func (s *isoSurface) extract(mem devices.Memory) (points, scalars devices.Buffer, numTriangles int) {
	cellDims, numCells := s.g.cellDims()
	offsets := make([]int, (numCells+kernelGrain-1)/kernelGrain)
	mem.ParallelFor(numCells, kernelGrain, func(chunkIdx, start, end int) {
		count := 0
		for cell := start; cell < end; cell++ {
			i, j, k := s.g.cellOrigin(cellDims, cell)
			count += s.polygonizeCell(i, j, k, nil)
		}
		offsets[chunkIdx] = count
	})
	numTriangles = exclusiveScan(offsets)

	points = mem.Alloc(dtypes.Float32, 9*numTriangles)
	scalars = mem.Alloc(dtypes.Float32, 3*numTriangles)
	dstPoints, dstScalars := mem.Float32s(points), mem.Float32s(scalars)
	mem.ParallelFor(numCells, kernelGrain, func(chunkIdx, start, end int) {
		tri := offsets[chunkIdx]
		write := func(p *[3][3]float32, v *[3]float32) {
			for vertex := range 3 {
				copy(dstPoints[9*tri+3*vertex:9*tri+3*vertex+3], p[vertex][:])
				dstScalars[3*tri+vertex] = v[vertex]
			}
			tri++
		}
		for cell := start; cell < end; cell++ {
			i, j, k := s.g.cellOrigin(cellDims, cell)
			s.polygonizeCell(i, j, k, write)
		}
	})
	return
}
