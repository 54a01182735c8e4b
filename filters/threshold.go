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

// Threshold keeps the points whose scalar is within [lower, upper], producing a PointSet.
//
// For structured grid pieces only owned points are considered: ghost points and points on a boundary plane
// shared with a following piece are skipped.
type Threshold struct {
	pipeline.StageBase
	lower, upper float64
}

var (
	_ pipeline.Stage               = (*Threshold)(nil)
	_ pipeline.InformationProvider = (*Threshold)(nil)
)

// NewThreshold creates a Threshold stage keeping values in [lower, upper].
func NewThreshold(lower, upper float64) *Threshold {
	return &Threshold{StageBase: pipeline.NewStageBase("Threshold"), lower: lower, upper: upper}
}

// SetRange of values to keep.
func (s *Threshold) SetRange(lower, upper float64) {
	if lower == s.lower && upper == s.upper {
		return
	}
	s.lower, s.upper = lower, upper
	s.Modified()
}

// Range of values kept.
func (s *Threshold) Range() (lower, upper float64) { return s.lower, s.upper }

// String implements fmt.Stringer.
func (s *Threshold) String() string { return fmt.Sprintf("Threshold[%g, %g]", s.lower, s.upper) }

// NumInputs implements pipeline.Stage.
func (s *Threshold) NumInputs() int { return 1 }

// NumOutputs implements pipeline.Stage.
func (s *Threshold) NumOutputs() int { return 1 }

// InputKinds implements pipeline.Stage.
func (s *Threshold) InputKinds(int) []resident.Kind {
	return []resident.Kind{resident.KindStructuredGrid, resident.KindPointSet}
}

// OutputKind implements pipeline.Stage.
func (s *Threshold) OutputKind(int) resident.Kind { return resident.KindPointSet }

// RequestInformation marks the output as unstructured and narrows the published scalar range.
func (s *Threshold) RequestInformation(req *pipeline.Request) error {
	out := req.Outputs[0]
	out.WholeExtent = resident.EmptyExtent
	if out.HasScalarRange {
		out.ScalarRange[0] = max(out.ScalarRange[0], s.lower)
		out.ScalarRange[1] = min(out.ScalarRange[1], s.upper)
	}
	return nil
}

// RequestData implements pipeline.Stage.
func (s *Threshold) RequestData(req *pipeline.Request) error {
	in, err := checkInput(s, req, true)
	if err != nil {
		return err
	}
	device := in.Device()
	inMeta := in.Metadata()
	inScalars, err := in.Array(resident.ArrayScalars)
	if err != nil {
		return err
	}
	var inPoints devices.Buffer
	structured := in.Kind() == resident.KindStructuredGrid
	if !structured {
		if inPoints, err = in.Array(resident.ArrayPoints); err != nil {
			return err
		}
	}
	g := gridOf(inMeta)
	lower, upper := float32(s.lower), float32(s.upper)
	numPoints := inMeta.NumPoints

	var points, scalars devices.Buffer
	var numKept int
	err = device.Launch("Threshold", func(mem devices.Memory) {
		values := mem.Float32s(inScalars)
		var coords []float32
		if !structured {
			coords = mem.Float32s(inPoints)
		}
		keep := func(idx int) bool {
			v := values[idx]
			if v < lower || v > upper {
				return false
			}
			if structured {
				i, j, k := g.ijk(idx)
				return g.ownsPoint(i, j, k)
			}
			return true
		}

		// Pass 1: count per chunk.
		offsets := make([]int, (numPoints+kernelGrain-1)/kernelGrain)
		mem.ParallelFor(numPoints, kernelGrain, func(chunkIdx, start, end int) {
			count := 0
			for idx := start; idx < end; idx++ {
				if keep(idx) {
					count++
				}
			}
			offsets[chunkIdx] = count
		})
		numKept = exclusiveScan(offsets)

		// Pass 2: write.
		points = mem.Alloc(dtypes.Float32, 3*numKept)
		scalars = mem.Alloc(dtypes.Float32, numKept)
		dstPoints, dstScalars := mem.Float32s(points), mem.Float32s(scalars)
		mem.ParallelFor(numPoints, kernelGrain, func(chunkIdx, start, end int) {
			out := offsets[chunkIdx]
			for idx := start; idx < end; idx++ {
				if !keep(idx) {
					continue
				}
				if structured {
					pos := g.position(g.ijk(idx))
					copy(dstPoints[3*out:3*out+3], pos[:])
				} else {
					copy(dstPoints[3*out:3*out+3], coords[3*idx:3*idx+3])
				}
				dstScalars[out] = values[idx]
				out++
			}
		})
	})
	arrays := map[string]devices.Buffer{resident.ArrayPoints: points, resident.ArrayScalars: scalars}
	if err != nil {
		freeBuffers(device, arrays)
		return errors.WithMessagef(err, "%s", s)
	}
	outMeta := resident.EmptyMetadata()
	outMeta.ScalarName = inMeta.ScalarName
	outMeta.NumComponents = 1
	outMeta.NumPoints = numKept
	return setOutput(device, req.Outputs[0].Object, resident.KindPointSet, arrays,
		resident.PassBoundsForward(inMeta, outMeta), false)
}
