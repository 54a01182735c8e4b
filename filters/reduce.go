// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package filters

import (
	"math"

	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/resident"
	"github.com/pkg/errors"
)

// ScalarRange computes on the device the minimum and maximum of the first component of the scalars.
// It returns {0, 0} for empty arrays.
func ScalarRange(device devices.Device, scalars devices.Buffer, numComponents int) (valueRange [2]float64, err error) {
	if scalars == nil {
		return valueRange, errors.New("ScalarRange: nil scalars buffer")
	}
	if numComponents < 1 {
		return valueRange, errors.Errorf("ScalarRange: invalid number of components %d", numComponents)
	}
	err = device.Launch("ScalarRange", func(mem devices.Memory) {
		values := mem.Float32s(scalars)
		numValues := len(values) / numComponents
		numChunks := (numValues + kernelGrain - 1) / kernelGrain
		partials := make([][2]float32, numChunks)
		mem.ParallelFor(numValues, kernelGrain, func(chunkIdx, start, end int) {
			lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
			for ii := start; ii < end; ii++ {
				v := values[ii*numComponents]
				lo = min(lo, v)
				hi = max(hi, v)
			}
			partials[chunkIdx] = [2]float32{lo, hi}
		})
		if numValues == 0 {
			return
		}
		valueRange = [2]float64{math.Inf(1), math.Inf(-1)}
		for _, p := range partials {
			valueRange[0] = min(valueRange[0], float64(p[0]))
			valueRange[1] = max(valueRange[1], float64(p[1]))
		}
	})
	return
}

// PointBounds computes on the device the bounds of the points (3 float32 per point).
// It returns resident.EmptyBounds for empty arrays.
func PointBounds(device devices.Device, points devices.Buffer) (bounds resident.Bounds, err error) {
	if points == nil {
		return resident.EmptyBounds, errors.New("PointBounds: nil points buffer")
	}
	bounds = resident.EmptyBounds
	err = device.Launch("PointBounds", func(mem devices.Memory) {
		coords := mem.Float32s(points)
		numPoints := len(coords) / 3
		numChunks := (numPoints + kernelGrain - 1) / kernelGrain
		partials := make([]resident.Bounds, numChunks)
		mem.ParallelFor(numPoints, kernelGrain, func(chunkIdx, start, end int) {
			b := resident.EmptyBounds
			for ii := start; ii < end; ii++ {
				for axis := range 3 {
					v := float64(coords[3*ii+axis])
					b[2*axis] = min(b[2*axis], v)
					b[2*axis+1] = max(b[2*axis+1], v)
				}
			}
			partials[chunkIdx] = b
		})
		for _, b := range partials {
			bounds = bounds.Merge(b)
		}
	})
	return
}
