// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package filters

import (
	"fmt"

	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/pipeline"
	"github.com/gomlx/vizflow/resident"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Contour extracts the iso-surface of the scalars of a StructuredGrid, producing a TriangleSet.
//
// Only the cells owned by the piece are polygonized, so the pieces' triangles add up to the triangles of
// the whole grid. Grids that are not 3D produce no triangles.
type Contour struct {
	pipeline.StageBase
	isoValue float64
}

var (
	_ pipeline.Stage               = (*Contour)(nil)
	_ pipeline.InformationProvider = (*Contour)(nil)
)

// NewContour creates a Contour stage for the iso value.
func NewContour(isoValue float64) *Contour {
	return &Contour{StageBase: pipeline.NewStageBase("Contour"), isoValue: isoValue}
}

// SetIsoValue changes the iso value of the surface.
func (s *Contour) SetIsoValue(isoValue float64) {
	if isoValue == s.isoValue {
		return
	}
	s.isoValue = isoValue
	s.Modified()
}

// IsoValue of the surface.
func (s *Contour) IsoValue() float64 { return s.isoValue }

// String implements fmt.Stringer.
func (s *Contour) String() string { return fmt.Sprintf("Contour(%g)", s.isoValue) }

// NumInputs implements pipeline.Stage.
func (s *Contour) NumInputs() int { return 1 }

// NumOutputs implements pipeline.Stage.
func (s *Contour) NumOutputs() int { return 1 }

// InputKinds implements pipeline.Stage.
func (s *Contour) InputKinds(int) []resident.Kind { return []resident.Kind{resident.KindStructuredGrid} }

// OutputKind implements pipeline.Stage.
func (s *Contour) OutputKind(int) resident.Kind { return resident.KindTriangleSet }

// RequestInformation implements pipeline.InformationProvider.
func (s *Contour) RequestInformation(req *pipeline.Request) error {
	out := req.Outputs[0]
	out.WholeExtent = resident.EmptyExtent
	out.ScalarRange = [2]float64{s.isoValue, s.isoValue}
	return nil
}

// RequestData implements pipeline.Stage.
func (s *Contour) RequestData(req *pipeline.Request) error {
	in, err := checkInput(s, req, true)
	if err != nil {
		return err
	}
	inScalars, err := in.Array(resident.ArrayScalars)
	if err != nil {
		return err
	}
	device := in.Device()
	surface := &isoSurface{g: gridOf(in.Metadata()), iso: float32(s.isoValue)}
	var points, scalars devices.Buffer
	var numTriangles int
	err = device.Launch("Contour", func(mem devices.Memory) {
		surface.field = mem.Float32s(inScalars)
		surface.carry = surface.field
		points, scalars, numTriangles = surface.extract(mem)
	})
	arrays := map[string]devices.Buffer{resident.ArrayPoints: points, resident.ArrayScalars: scalars}
	if err != nil {
		freeBuffers(device, arrays)
		return errors.WithMessagef(err, "%s", s)
	}
	klog.V(2).Infof("%s: %d triangles from %d cells", s, numTriangles, in.Metadata().OwnedExtent.NumCells())
	return setOutput(device, req.Outputs[0].Object, resident.KindTriangleSet, arrays,
		triangleMetadata(in.Metadata(), numTriangles), true)
}

// triangleMetadata returns the metadata of a triangle set derived from the input, before the bounds and
// scalar range are computed.
func triangleMetadata(in resident.Metadata, numTriangles int) resident.Metadata {
	meta := resident.EmptyMetadata()
	meta.ScalarName = in.ScalarName
	meta.NumComponents = 1
	meta.NumTriangles = numTriangles
	meta.NumPoints = 3 * numTriangles
	return meta
}
