// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package filters

import (
	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/pipeline"
	"github.com/gomlx/vizflow/resident"
	"github.com/pkg/errors"
)

var (
	// ErrTypeMismatch is returned by stages receiving an input kind they don't support.
	ErrTypeMismatch = errors.New("unsupported input type")

	// ErrMultiComponent is returned by stages that only support single component scalars.
	ErrMultiComponent = errors.New("multi-component scalars not supported")
)

// kernelGrain is the number of items (points or cells) processed per chunk by the kernels.
const kernelGrain = 4096

// checkInput returns the input object of the single input stage, after checking its kind and, if
// singleComponent, the number of components of its scalars.
func checkInput(stage pipeline.Stage, req *pipeline.Request, singleComponent bool) (*resident.Object, error) {
	in := req.Input(0)
	if in.IsEmpty() {
		return nil, errors.Errorf("stage %q: empty input", stage.Name())
	}
	if !pipeline.AcceptsKind(stage, 0, in.Kind()) {
		return nil, errors.Wrapf(ErrTypeMismatch, "stage %q got %s, it accepts %v",
			stage.Name(), in.Kind(), stage.InputKinds(0))
	}
	if singleComponent && in.Metadata().NumComponents > 1 {
		return nil, errors.Wrapf(ErrMultiComponent, "stage %q got %d components in scalars %q",
			stage.Name(), in.Metadata().NumComponents, in.Metadata().ScalarName)
	}
	return in, nil
}

// setOutput finishes the metadata of a new payload and sets it to out, which takes ownership of the arrays.
//
// The scalar range is always computed on the device. The bounds are computed on the device only if
// recomputeBounds is set, otherwise they are taken from meta.
// On failure, the arrays are freed.
func setOutput(device devices.Device, out *resident.Object, kind resident.Kind, arrays map[string]devices.Buffer,
	meta resident.Metadata, recomputeBounds bool) error {
	err := func() error {
		var err error
		meta.ScalarRange, err = ScalarRange(device, arrays[resident.ArrayScalars], max(meta.NumComponents, 1))
		if err != nil {
			return err
		}
		if recomputeBounds {
			meta.Bounds, err = PointBounds(device, arrays[resident.ArrayPoints])
			if err != nil {
				return err
			}
		}
		return nil
	}()
	if err != nil {
		freeBuffers(device, arrays)
		return err
	}
	return out.SetPayload(device, kind, arrays, meta)
}

func freeBuffers(device devices.Device, arrays map[string]devices.Buffer) {
	for _, buf := range arrays {
		if buf != nil {
			_ = device.BufferFinalize(buf)
		}
	}
}

// exclusiveScan replaces counts by their exclusive prefix sum, and returns the total.
func exclusiveScan(counts []int) int {
	total := 0
	for ii, c := range counts {
		counts[ii] = total
		total += c
	}
	return total
}
