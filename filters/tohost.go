// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package filters

import (
	"github.com/gomlx/vizflow/resident"
	"github.com/pkg/errors"
)

// HostTriangles is a triangle set in host memory: 9 coordinates and 3 scalars per triangle.
type HostTriangles struct {
	Points  []float32
	Scalars []float32
}

// NumTriangles in the set.
func (h *HostTriangles) NumTriangles() int {
	if h == nil {
		return 0
	}
	return len(h.Scalars) / 3
}

// Append the triangles of other to h.
func (h *HostTriangles) Append(other *HostTriangles) {
	if other == nil {
		return
	}
	h.Points = append(h.Points, other.Points...)
	h.Scalars = append(h.Scalars, other.Scalars...)
}

// Validate checks the sizes of the arrays are consistent.
func (h *HostTriangles) Validate() error {
	if len(h.Scalars)%3 != 0 || len(h.Points) != 3*len(h.Scalars) {
		return errors.Errorf("inconsistent host triangles: %d coordinates and %d scalars", len(h.Points), len(h.Scalars))
	}
	return nil
}

// HostPoints is a point set in host memory: 3 coordinates and NumComponents scalars per point.
type HostPoints struct {
	Points        []float32
	Scalars       []float32
	NumComponents int
}

// NumPoints in the set.
func (h *HostPoints) NumPoints() int {
	if h == nil {
		return 0
	}
	return len(h.Points) / 3
}

// ToHostTriangles transfers a resident TriangleSet to host memory.
func ToHostTriangles(obj *resident.Object) (*HostTriangles, error) {
	if obj.Kind() != resident.KindTriangleSet {
		return nil, errors.Wrapf(ErrTypeMismatch, "ToHostTriangles requires a %s, got %s", resident.KindTriangleSet, obj.Kind())
	}
	n := obj.NumTriangles()
	h := &HostTriangles{Points: make([]float32, 9*n), Scalars: make([]float32, 3*n)}
	if err := transferToHost(obj, h.Points, h.Scalars); err != nil {
		return nil, err
	}
	return h, nil
}

// ToHostPoints transfers a resident PointSet to host memory.
func ToHostPoints(obj *resident.Object) (*HostPoints, error) {
	if obj.Kind() != resident.KindPointSet {
		return nil, errors.Wrapf(ErrTypeMismatch, "ToHostPoints requires a %s, got %s", resident.KindPointSet, obj.Kind())
	}
	n, numComponents := obj.NumPoints(), max(obj.Metadata().NumComponents, 1)
	h := &HostPoints{Points: make([]float32, 3*n), Scalars: make([]float32, numComponents*n), NumComponents: numComponents}
	if err := transferToHost(obj, h.Points, h.Scalars); err != nil {
		return nil, err
	}
	return h, nil
}

func transferToHost(obj *resident.Object, points, scalars []float32) error {
	for _, transfer := range []struct {
		name string
		flat []float32
	}{{resident.ArrayPoints, points}, {resident.ArrayScalars, scalars}} {
		buf, err := obj.Array(transfer.name)
		if err != nil {
			return err
		}
		if err = obj.Device().BufferToFlatData(buf, transfer.flat); err != nil {
			return errors.WithMessagef(err, "transferring %q of %s to host", transfer.name, obj)
		}
	}
	return nil
}
