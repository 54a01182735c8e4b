// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package filters

import (
	"cmp"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/pipeline"
	"github.com/gomlx/vizflow/resident"
	"github.com/pkg/errors"
)

// Sort reorders the points of a PointSet by increasing scalar value. Points with equal values keep
// their relative order.
type Sort struct {
	pipeline.StageBase
}

var _ pipeline.Stage = (*Sort)(nil)

// NewSort creates a Sort stage.
func NewSort() *Sort {
	return &Sort{StageBase: pipeline.NewStageBase("Sort")}
}

// NumInputs implements pipeline.Stage.
func (s *Sort) NumInputs() int { return 1 }

// NumOutputs implements pipeline.Stage.
func (s *Sort) NumOutputs() int { return 1 }

// InputKinds implements pipeline.Stage.
func (s *Sort) InputKinds(int) []resident.Kind { return []resident.Kind{resident.KindPointSet} }

// OutputKind implements pipeline.Stage.
func (s *Sort) OutputKind(int) resident.Kind { return resident.KindPointSet }

// RequestData implements pipeline.Stage.
func (s *Sort) RequestData(req *pipeline.Request) error {
	in, err := checkInput(s, req, true)
	if err != nil {
		return err
	}
	device := in.Device()
	inMeta := in.Metadata()
	inPoints, err := in.Array(resident.ArrayPoints)
	if err != nil {
		return err
	}
	inScalars, err := in.Array(resident.ArrayScalars)
	if err != nil {
		return err
	}
	numPoints := inMeta.NumPoints

	var points, scalars devices.Buffer
	err = device.Launch("Sort", func(mem devices.Memory) {
		values, coords := mem.Float32s(inScalars), mem.Float32s(inPoints)
		permutationBuf := mem.Alloc(dtypes.Int32, numPoints)
		defer mem.Free(permutationBuf)
		permutation := mem.Int32s(permutationBuf)
		for ii := range permutation {
			permutation[ii] = int32(ii)
		}
		slices.SortStableFunc(permutation, func(a, b int32) int {
			return cmp.Compare(values[a], values[b])
		})

		points = mem.Alloc(dtypes.Float32, 3*numPoints)
		scalars = mem.Alloc(dtypes.Float32, numPoints)
		dstPoints, dstScalars := mem.Float32s(points), mem.Float32s(scalars)
		mem.ParallelFor(numPoints, kernelGrain, func(_, start, end int) {
			for ii := start; ii < end; ii++ {
				src := int(permutation[ii])
				copy(dstPoints[3*ii:3*ii+3], coords[3*src:3*src+3])
				dstScalars[ii] = values[src]
			}
		})
	})
	arrays := map[string]devices.Buffer{resident.ArrayPoints: points, resident.ArrayScalars: scalars}
	if err != nil {
		freeBuffers(device, arrays)
		return errors.WithMessagef(err, "%s", s.Name())
	}
	outMeta := inMeta
	outMeta.NumComponents = 1
	return setOutput(device, req.Outputs[0].Object, resident.KindPointSet, arrays,
		resident.PassBoundsForward(inMeta, outMeta), false)
}
