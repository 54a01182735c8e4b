// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devices

import "github.com/gomlx/gopjrt/dtypes"

// Kernel is a function run on the device with Device.Launch.
//
// It is handed a Memory view to read and write device buffers. Slices returned by Memory are only valid
// during the execution of the kernel and must not be retained.
//
// Kernels report errors by panicking, preferably with exceptions.Panicf.
type Kernel func(mem Memory)

// Memory gives kernels access to device memory.
type Memory interface {
	// Float32s returns the contents of a float32 buffer. It panics if the buffer has a different dtype.
	Float32s(buffer Buffer) []float32

	// Int32s returns the contents of an int32 buffer. It panics if the buffer has a different dtype.
	Int32s(buffer Buffer) []int32

	// Uint8s returns the contents of an uint8 buffer. It panics if the buffer has a different dtype.
	Uint8s(buffer Buffer) []uint8

	// Alloc allocates a new buffer on the device from within the kernel.
	// The buffer is owned by the caller, who must eventually finalize it.
	Alloc(dtype dtypes.DType, length int) Buffer

	// Free finalizes a buffer from within the kernel, typically a temporary one.
	Free(buffer Buffer)

	// ParallelFor calls fn for every chunk of at most grain items in [0, numItems), possibly in parallel, and
	// waits for all chunks to finish. Chunk boundaries depend only on numItems and grain, so results
	// stored per chunk are deterministic.
	ParallelFor(numItems, grain int, fn func(chunkIdx, start, end int))
}
