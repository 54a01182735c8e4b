// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package filters

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/pipeline"
	"github.com/gomlx/vizflow/resident"
	"github.com/pkg/errors"
)

// Slice cuts a StructuredGrid with a plane, producing a TriangleSet carrying the grid scalars
// interpolated on the cut.
type Slice struct {
	pipeline.StageBase
	plane PlaneField
}

var (
	_ pipeline.Stage               = (*Slice)(nil)
	_ pipeline.InformationProvider = (*Slice)(nil)
)

// NewSlice creates a Slice stage with the plane through origin with the given normal.
func NewSlice(origin, normal [3]float64) *Slice {
	return &Slice{StageBase: pipeline.NewStageBase("Slice"), plane: PlaneField{Origin: origin, Normal: normal}}
}

// SetPlane changes the cutting plane.
func (s *Slice) SetPlane(origin, normal [3]float64) {
	s.plane = PlaneField{Origin: origin, Normal: normal}
	s.Modified()
}

// String implements fmt.Stringer.
func (s *Slice) String() string {
	return fmt.Sprintf("Slice(origin=%v, normal=%v)", s.plane.Origin, s.plane.Normal)
}

// NumInputs implements pipeline.Stage.
func (s *Slice) NumInputs() int { return 1 }

// NumOutputs implements pipeline.Stage.
func (s *Slice) NumOutputs() int { return 1 }

// InputKinds implements pipeline.Stage.
func (s *Slice) InputKinds(int) []resident.Kind { return []resident.Kind{resident.KindStructuredGrid} }

// OutputKind implements pipeline.Stage.
func (s *Slice) OutputKind(int) resident.Kind { return resident.KindTriangleSet }

// RequestInformation implements pipeline.InformationProvider.
func (s *Slice) RequestInformation(req *pipeline.Request) error {
	req.Outputs[0].WholeExtent = resident.EmptyExtent
	return nil
}

// RequestData implements pipeline.Stage.
func (s *Slice) RequestData(req *pipeline.Request) error {
	if s.plane.Normal == [3]float64{} {
		return errors.Errorf("%s: plane normal can't be zero", s)
	}
	in, err := checkInput(s, req, true)
	if err != nil {
		return err
	}
	inScalars, err := in.Array(resident.ArrayScalars)
	if err != nil {
		return err
	}
	device := in.Device()
	g := gridOf(in.Metadata())
	surface := &isoSurface{g: g, iso: 0}
	plane := s.plane
	var points, scalars devices.Buffer
	var numTriangles int
	err = device.Launch("Slice", func(mem devices.Memory) {
		distanceBuf := mem.Alloc(dtypes.Float32, g.numPoints())
		defer mem.Free(distanceBuf)
		distance := mem.Float32s(distanceBuf)
		mem.ParallelFor(len(distance), kernelGrain, func(_, start, end int) {
			for idx := start; idx < end; idx++ {
				i, j, k := g.ijk(idx)
				distance[idx] = float32(plane.Value(
					g.origin[0]+float64(i)*g.spacing[0],
					g.origin[1]+float64(j)*g.spacing[1],
					g.origin[2]+float64(k)*g.spacing[2]))
			}
		})
		surface.field = distance
		surface.carry = mem.Float32s(inScalars)
		points, scalars, numTriangles = surface.extract(mem)
	})
	arrays := map[string]devices.Buffer{resident.ArrayPoints: points, resident.ArrayScalars: scalars}
	if err != nil {
		freeBuffers(device, arrays)
		return errors.WithMessagef(err, "%s", s)
	}
	return setOutput(device, req.Outputs[0].Object, resident.KindTriangleSet, arrays,
		triangleMetadata(in.Metadata(), numTriangles), true)
}
