// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simdevice

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/vizflow/devices"
)

// memory implements devices.Memory for kernels running on the simulated device.
type memory struct {
	d *Device
}

var _ devices.Memory = (*memory)(nil)

func (m *memory) flat(buffer devices.Buffer, dtype dtypes.DType) any {
	buf, err := m.d.castBuffer(buffer)
	if err != nil {
		panic(err)
	}
	if buf.dtype != dtype {
		exceptions.Panicf("kernel accessed buffer of dtype %s as %s", buf.dtype, dtype)
	}
	return buf.flat
}

func (m *memory) Float32s(buffer devices.Buffer) []float32 {
	return m.flat(buffer, dtypes.Float32).([]float32)
}

func (m *memory) Int32s(buffer devices.Buffer) []int32 {
	return m.flat(buffer, dtypes.Int32).([]int32)
}

func (m *memory) Uint8s(buffer devices.Buffer) []uint8 {
	return m.flat(buffer, dtypes.Uint8).([]uint8)
}

func (m *memory) Alloc(dtype dtypes.DType, length int) devices.Buffer {
	buf, err := m.d.getBuffer(dtype, length)
	if err != nil {
		panic(err)
	}
	return buf
}

func (m *memory) Free(buffer devices.Buffer) {
	if err := m.d.BufferFinalize(buffer); err != nil {
		panic(err)
	}
}

func (m *memory) ParallelFor(numItems, grain int, fn func(chunkIdx, start, end int)) {
	m.d.workers.ParallelFor(numItems, grain, fn)
}
