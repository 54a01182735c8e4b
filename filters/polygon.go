// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package filters

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/pipeline"
	"github.com/gomlx/vizflow/resident"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// FanTriangulate splits each face (a list of vertex indices) with n >= 3 vertices into n-2 triangles
// sharing the face's first vertex, preserving the original winding: (v0, v1, v2), (v0, v2, v3), ...
//
// It returns 3 vertex indices per triangle.
func FanTriangulate(faces [][]int) ([]int32, error) {
	numTriangles := 0
	for faceIdx, face := range faces {
		if len(face) < 3 {
			return nil, errors.Errorf("face #%d has %d vertices, at least 3 are required", faceIdx, len(face))
		}
		numTriangles += len(face) - 2
	}
	indices := make([]int32, 0, 3*numTriangles)
	for _, face := range faces {
		for ii := 1; ii < len(face)-1; ii++ {
			indices = append(indices, int32(face[0]), int32(face[ii]), int32(face[ii+1]))
		}
	}
	return indices, nil
}

// PolygonSource ingests host polygons into device memory, producing a TriangleSet.
//
// Faces with more than 3 vertices are fan-triangulated (see FanTriangulate), and the per-vertex scalars are
// replicated onto every emitted copy of the vertex.
type PolygonSource struct {
	pipeline.StageBase
	device      devices.Device
	points      []float32
	scalars     []float32
	indices     []int32
	scalarName  string
	scalarDType dtypes.DType
}

var (
	_ pipeline.Stage               = (*PolygonSource)(nil)
	_ pipeline.InformationProvider = (*PolygonSource)(nil)
)

// NewPolygonSource creates an empty PolygonSource: it produces an empty triangle set until SetPolygons is called.
func NewPolygonSource(device devices.Device, name string) *PolygonSource {
	return &PolygonSource{
		StageBase:   pipeline.NewStageBase("PolygonSource(" + name + ")"),
		device:      device,
		scalarName:  name,
		scalarDType: dtypes.Float32,
	}
}

// SetPolygons sets the polygons to ingest: points holds 3 coordinates per vertex, faces the vertex indices of
// each polygon, and scalars one value per vertex, as []float32, []float64 or []float16.Float16.
func (s *PolygonSource) SetPolygons(points []float32, faces [][]int, scalars any) error {
	if len(points)%3 != 0 {
		return errors.Errorf("%s: points must have 3 coordinates per vertex, got %d values", s.Name(), len(points))
	}
	numVertices := len(points) / 3
	var values []float32
	var dtype dtypes.DType
	switch typed := scalars.(type) {
	case []float32:
		values, dtype = typed, dtypes.Float32
	case []float64:
		values, dtype = convertToFloat32(typed), dtypes.Float64
	case []float16.Float16:
		values = make([]float32, len(typed))
		for ii, v := range typed {
			values[ii] = v.Float32()
		}
		dtype = dtypes.Float16
	default:
		return errors.Wrapf(ErrTypeMismatch, "%s: scalars of type %T not supported", s.Name(), scalars)
	}
	if len(values) != numVertices {
		return errors.Errorf("%s: %d scalars given for %d vertices", s.Name(), len(values), numVertices)
	}
	for faceIdx, face := range faces {
		for _, v := range face {
			if v < 0 || v >= numVertices {
				return errors.Errorf("%s: face #%d refers to vertex %d, but there are only %d vertices",
					s.Name(), faceIdx, v, numVertices)
			}
		}
	}
	indices, err := FanTriangulate(faces)
	if err != nil {
		return errors.WithMessage(err, s.Name())
	}
	s.points, s.scalars, s.indices, s.scalarDType = points, values, indices, dtype
	s.Modified()
	return nil
}

// SetTriangles sets independent triangles to ingest, e.g. as gathered from other processes.
func (s *PolygonSource) SetTriangles(triangles *HostTriangles) error {
	numTriangles := triangles.NumTriangles()
	faces := make([][]int, numTriangles)
	for ii := range faces {
		faces[ii] = []int{3 * ii, 3*ii + 1, 3*ii + 2}
	}
	return s.SetPolygons(triangles.Points, faces, triangles.Scalars)
}

// NumTriangles ingested so far.
func (s *PolygonSource) NumTriangles() int { return len(s.indices) / 3 }

// NumInputs implements pipeline.Stage.
func (s *PolygonSource) NumInputs() int { return 0 }

// NumOutputs implements pipeline.Stage.
func (s *PolygonSource) NumOutputs() int { return 1 }

// InputKinds implements pipeline.Stage.
func (s *PolygonSource) InputKinds(int) []resident.Kind { return nil }

// OutputKind implements pipeline.Stage.
func (s *PolygonSource) OutputKind(int) resident.Kind { return resident.KindTriangleSet }

// RequestInformation implements pipeline.InformationProvider.
func (s *PolygonSource) RequestInformation(req *pipeline.Request) error {
	out := req.Outputs[0]
	out.WholeExtent = resident.EmptyExtent
	out.ScalarName = s.scalarName
	out.NumComponents = 1
	out.ScalarRange = hostRange(s.scalars, 1)
	out.HasScalarRange = true
	return nil
}

// RequestData uploads the vertices and builds the triangles on the device. The polygons are not partitioned:
// only piece 0 gets them, other pieces are empty.
func (s *PolygonSource) RequestData(req *pipeline.Request) error {
	indices := s.indices
	if req.Piece.Index != 0 {
		indices = nil
	}
	numTriangles := len(indices) / 3
	meta := resident.EmptyMetadata()
	meta.ScalarName = s.scalarName
	meta.NumComponents = 1
	meta.NumTriangles = numTriangles
	meta.NumPoints = 3 * numTriangles

	var uploaded []devices.Buffer
	defer func() {
		for _, buf := range uploaded {
			_ = s.device.BufferFinalize(buf)
		}
	}()
	for _, flat := range []any{nonNil(s.points), nonNil(s.scalars), nonNil(indices)} {
		buf, err := s.device.BufferFromFlatData(flat)
		if err != nil {
			return errors.WithMessagef(err, "%s: uploading polygons", s.Name())
		}
		uploaded = append(uploaded, buf)
	}
	vertexPoints, vertexScalars, indexBuf := uploaded[0], uploaded[1], uploaded[2]

	var points, scalars devices.Buffer
	err := s.device.Launch("PolygonSource", func(mem devices.Memory) {
		points = mem.Alloc(dtypes.Float32, 9*numTriangles)
		scalars = mem.Alloc(dtypes.Float32, 3*numTriangles)
		srcPoints, srcScalars, idx := mem.Float32s(vertexPoints), mem.Float32s(vertexScalars), mem.Int32s(indexBuf)
		dstPoints, dstScalars := mem.Float32s(points), mem.Float32s(scalars)
		mem.ParallelFor(3*numTriangles, kernelGrain, func(_, start, end int) {
			for ii := start; ii < end; ii++ {
				v := int(idx[ii])
				copy(dstPoints[3*ii:3*ii+3], srcPoints[3*v:3*v+3])
				dstScalars[ii] = srcScalars[v]
			}
		})
	})
	arrays := map[string]devices.Buffer{resident.ArrayPoints: points, resident.ArrayScalars: scalars}
	if err != nil {
		freeBuffers(s.device, arrays)
		return errors.WithMessagef(err, "%s: building triangles", s.Name())
	}
	return setOutput(s.device, req.Outputs[0].Object, resident.KindTriangleSet, arrays, meta, true)
}

// nonNil returns an empty slice instead of nil, so an empty buffer of the right dtype can be created.
func nonNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}
