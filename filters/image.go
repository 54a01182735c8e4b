// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package filters

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/pipeline"
	"github.com/gomlx/vizflow/resident"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// Numeric host types accepted by ImageSource.
type Numeric interface {
	constraints.Integer | constraints.Float
}

// ImageSource ingests a host structured grid into device memory, as a StructuredGrid.
//
// The host values are converted to float32 (the dtype of all device scalars). Only the requested piece
// (with ghosts) is uploaded.
type ImageSource struct {
	pipeline.StageBase
	device          devices.Device
	whole           resident.Extent
	origin, spacing [3]float64
	numComponents   int
	scalarName      string
	hostDType       dtypes.DType
	values          []float32
	valueRange      [2]float64
}

var (
	_ pipeline.Stage               = (*ImageSource)(nil)
	_ pipeline.InformationProvider = (*ImageSource)(nil)
)

// NewImageSource creates an ImageSource with the given grid values: numComponents values per point of the
// whole extent, x varying fastest.
func NewImageSource[T Numeric](device devices.Device, name string, whole resident.Extent, origin, spacing [3]float64,
	numComponents int, values []T) (*ImageSource, error) {
	if numComponents < 1 {
		return nil, errors.Errorf("ImageSource %q: invalid number of components %d", name, numComponents)
	}
	if len(values) != whole.NumPoints()*numComponents {
		return nil, errors.Errorf("ImageSource %q: extent %s with %d components requires %d values, got %d",
			name, whole, numComponents, whole.NumPoints()*numComponents, len(values))
	}
	s := &ImageSource{
		StageBase:     pipeline.NewStageBase("ImageSource(" + name + ")"),
		device:        device,
		whole:         whole,
		origin:        origin,
		spacing:       spacing,
		numComponents: numComponents,
		scalarName:    name,
		hostDType:     dtypes.FromGoType(reflect.TypeFor[T]()),
		values:        convertToFloat32(values),
	}
	s.valueRange = hostRange(s.values, numComponents)
	klog.V(1).Infof("%s: ingested %d %s values", s.Name(), len(values), s.hostDType)
	return s, nil
}

func convertToFloat32[T Numeric](values []T) []float32 {
	converted := make([]float32, len(values))
	for ii, v := range values {
		converted[ii] = float32(v)
	}
	return converted
}

func hostRange(values []float32, numComponents int) [2]float64 {
	if len(values) == 0 {
		return [2]float64{}
	}
	r := [2]float64{float64(values[0]), float64(values[0])}
	for ii := 0; ii < len(values); ii += numComponents {
		r[0] = min(r[0], float64(values[ii]))
		r[1] = max(r[1], float64(values[ii]))
	}
	return r
}

// HostDType returns the dtype of the values as given by the host.
func (s *ImageSource) HostDType() dtypes.DType { return s.hostDType }

// NumInputs implements pipeline.Stage.
func (s *ImageSource) NumInputs() int { return 0 }

// NumOutputs implements pipeline.Stage.
func (s *ImageSource) NumOutputs() int { return 1 }

// InputKinds implements pipeline.Stage.
func (s *ImageSource) InputKinds(int) []resident.Kind { return nil }

// OutputKind implements pipeline.Stage.
func (s *ImageSource) OutputKind(int) resident.Kind { return resident.KindStructuredGrid }

// RequestInformation implements pipeline.InformationProvider.
func (s *ImageSource) RequestInformation(req *pipeline.Request) error {
	out := req.Outputs[0]
	out.WholeExtent = s.whole
	out.Origin, out.Spacing = s.origin, s.spacing
	out.ScalarName = s.scalarName
	out.NumComponents = s.numComponents
	out.ScalarRange = s.valueRange
	out.HasScalarRange = true
	return nil
}

// RequestData uploads the requested extent of the grid.
func (s *ImageSource) RequestData(req *pipeline.Request) error {
	out := req.Outputs[0]
	meta := resident.EmptyMetadata()
	meta.Origin, meta.Spacing = s.origin, s.spacing
	meta.WholeExtent = s.whole
	meta.Extent, meta.OwnedExtent = out.UpdateExtent, out.UpdateOwnedExtent
	meta.GhostLevel = out.UpdatePiece.GhostLevel
	meta.Bounds = resident.StructuredBounds(meta.Extent, s.origin, s.spacing)
	meta.ScalarName = s.scalarName
	meta.NumComponents = s.numComponents
	meta.NumPoints = meta.Extent.NumPoints()

	// Gather the rows of the requested extent.
	wholeGrid := grid{extent: s.whole, dims: s.whole.Dims()}
	ext := meta.Extent
	piece := make([]float32, 0, meta.NumPoints*s.numComponents)
	for k := ext[4]; k <= ext[5]; k++ {
		for j := ext[2]; j <= ext[3]; j++ {
			start := wholeGrid.index(ext[0], j, k) * s.numComponents
			end := (wholeGrid.index(ext[1], j, k) + 1) * s.numComponents
			piece = append(piece, s.values[start:end]...)
		}
	}
	scalars, err := s.device.BufferFromFlatData(piece)
	if err != nil {
		return errors.WithMessagef(err, "%s: uploading %d values", s.Name(), len(piece))
	}
	return setOutput(s.device, out.Object, resident.KindStructuredGrid,
		map[string]devices.Buffer{resident.ArrayScalars: scalars}, meta, false)
}
