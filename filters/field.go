// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package filters

import (
	"fmt"
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/pipeline"
	"github.com/gomlx/vizflow/resident"
	"github.com/pkg/errors"
)

// Field is an analytic scalar field that can be sampled anywhere.
type Field interface {
	// Name of the scalar field produced.
	Name() string

	// Value of the field at position (x, y, z).
	Value(x, y, z float64) float64

	// Range of the field values within the bounds, computed analytically.
	Range(bounds resident.Bounds) [2]float64
}

// DistanceField is the euclidean distance to Center.
type DistanceField struct {
	Center [3]float64
}

// Name implements Field.
func (f DistanceField) Name() string { return "distance" }

// Value implements Field.
func (f DistanceField) Value(x, y, z float64) float64 {
	dx, dy, dz := x-f.Center[0], y-f.Center[1], z-f.Center[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Range implements Field.
func (f DistanceField) Range(bounds resident.Bounds) [2]float64 {
	if bounds.IsEmpty() {
		return [2]float64{}
	}
	var nearest, farthest [3]float64
	for axis := range 3 {
		lo, hi, c := bounds[2*axis], bounds[2*axis+1], f.Center[axis]
		nearest[axis] = math.Max(lo, math.Min(c, hi)) - c
		farthest[axis] = math.Max(math.Abs(lo-c), math.Abs(hi-c))
	}
	norm := func(v [3]float64) float64 { return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2]) }
	return [2]float64{norm(nearest), norm(farthest)}
}

// PlaneField is the signed distance to the plane through Origin with the given Normal, scaled by the
// length of the normal.
type PlaneField struct {
	Origin, Normal [3]float64
}

// Name implements Field.
func (f PlaneField) Name() string { return "plane" }

// Value implements Field.
func (f PlaneField) Value(x, y, z float64) float64 {
	return (x-f.Origin[0])*f.Normal[0] + (y-f.Origin[1])*f.Normal[1] + (z-f.Origin[2])*f.Normal[2]
}

// Range implements Field: the extremes of a linear field are on the corners of the bounds.
func (f PlaneField) Range(bounds resident.Bounds) [2]float64 {
	if bounds.IsEmpty() {
		return [2]float64{}
	}
	r := [2]float64{math.Inf(1), math.Inf(-1)}
	for corner := range 8 {
		v := f.Value(bounds[corner&1], bounds[2+(corner>>1)&1], bounds[4+(corner>>2)&1])
		r[0], r[1] = math.Min(r[0], v), math.Max(r[1], v)
	}
	return r
}

// FieldSource samples a Field on the points of a structured grid, producing a StructuredGrid.
type FieldSource struct {
	pipeline.StageBase
	device          devices.Device
	field           Field
	whole           resident.Extent
	origin, spacing [3]float64
}

var (
	_ pipeline.Stage               = (*FieldSource)(nil)
	_ pipeline.InformationProvider = (*FieldSource)(nil)
)

// NewFieldSource creates a source sampling field on the points of the whole extent, positioned at
// origin + (i, j, k) * spacing.
func NewFieldSource(device devices.Device, field Field, whole resident.Extent, origin, spacing [3]float64) *FieldSource {
	return &FieldSource{
		StageBase: pipeline.NewStageBase(fmt.Sprintf("FieldSource(%s)", field.Name())),
		device:    device,
		field:     field,
		whole:     whole,
		origin:    origin,
		spacing:   spacing,
	}
}

// SetField changes the field sampled.
func (s *FieldSource) SetField(field Field) {
	s.field = field
	s.Modified()
}

// Field returns the field sampled.
func (s *FieldSource) Field() Field { return s.field }

// NumInputs implements pipeline.Stage.
func (s *FieldSource) NumInputs() int { return 0 }

// NumOutputs implements pipeline.Stage.
func (s *FieldSource) NumOutputs() int { return 1 }

// InputKinds implements pipeline.Stage.
func (s *FieldSource) InputKinds(int) []resident.Kind { return nil }

// OutputKind implements pipeline.Stage.
func (s *FieldSource) OutputKind(int) resident.Kind { return resident.KindStructuredGrid }

// RequestInformation publishes the whole extent, the geometry and the analytic scalar range.
func (s *FieldSource) RequestInformation(req *pipeline.Request) error {
	out := req.Outputs[0]
	out.WholeExtent = s.whole
	out.Origin = s.origin
	out.Spacing = s.spacing
	out.ScalarName = s.field.Name()
	out.NumComponents = 1
	out.ScalarRange = s.field.Range(resident.StructuredBounds(s.whole, s.origin, s.spacing))
	out.HasScalarRange = true
	return nil
}

// RequestData samples the field on the requested extent (owned extent plus ghosts).
func (s *FieldSource) RequestData(req *pipeline.Request) error {
	out := req.Outputs[0]
	meta := resident.EmptyMetadata()
	meta.Origin, meta.Spacing = s.origin, s.spacing
	meta.WholeExtent = s.whole
	meta.Extent, meta.OwnedExtent = out.UpdateExtent, out.UpdateOwnedExtent
	meta.GhostLevel = out.UpdatePiece.GhostLevel
	meta.Bounds = resident.StructuredBounds(meta.Extent, s.origin, s.spacing)
	meta.ScalarName = s.field.Name()
	meta.NumComponents = 1
	meta.NumPoints = meta.Extent.NumPoints()

	g := gridOf(meta)
	field := s.field
	var scalars devices.Buffer
	err := s.device.Launch("FieldSource", func(mem devices.Memory) {
		scalars = mem.Alloc(dtypes.Float32, meta.NumPoints)
		values := mem.Float32s(scalars)
		mem.ParallelFor(meta.NumPoints, kernelGrain, func(_, start, end int) {
			for idx := start; idx < end; idx++ {
				i, j, k := g.ijk(idx)
				values[idx] = float32(field.Value(
					s.origin[0]+float64(i)*s.spacing[0],
					s.origin[1]+float64(j)*s.spacing[1],
					s.origin[2]+float64(k)*s.spacing[2]))
			}
		})
	})
	if err != nil {
		if scalars != nil {
			_ = s.device.BufferFinalize(scalars)
		}
		return errors.WithMessagef(err, "sampling %s", field.Name())
	}
	return setOutput(s.device, out.Object, resident.KindStructuredGrid,
		map[string]devices.Buffer{resident.ArrayScalars: scalars}, meta, false)
}
