// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devices

import "github.com/gomlx/gopjrt/dtypes"

// Buffer represents data stored in the device memory.
//
// It is opaque from vizflow perspective: only the Device that created it can interpret it.
type Buffer any

// DataInterface is the Device's sub-interface that defines the API to allocate, transfer and free buffers.
type DataInterface interface {
	// NewBuffer allocates an uninitialized buffer for length elements of the given dtype.
	NewBuffer(dtype dtypes.DType, length int) (Buffer, error)

	// BufferFinalize allows the client to inform device that buffer is no longer needed and associated resources
	// can be freed immediately.
	//
	// A finalized buffer should never be used again. Preferably, the caller should set its references to it to nil.
	// Finalizing a buffer twice returns an error.
	BufferFinalize(buffer Buffer) error

	// BufferInfo returns the dtype and number of elements of the buffer.
	BufferInfo(buffer Buffer) (dtype dtypes.DType, length int, err error)

	// BufferToFlatData transfers the flat values of buffer to the Go flat slice.
	// The slice flat must have the exact number of elements of the buffer, and the matching Go type.
	BufferToFlatData(buffer Buffer, flat any) error

	// BufferFromFlatData transfers data from Go given as a flat slice to the device, and returns the
	// corresponding Buffer. The dtype is taken from the slice element type.
	BufferFromFlatData(flat any) (Buffer, error)

	// BufferClone creates a new buffer on the device with a copy of the contents of buffer, without
	// transferring it to the host.
	BufferClone(buffer Buffer) (Buffer, error)
}

// SharedBufferer is implemented by devices that can share memory with the host display, a requirement
// for interop (see package interop).
type SharedBufferer interface {
	// HasSharedBuffers returns whether the device currently supports shared buffers.
	HasSharedBuffers() bool

	// NewSharedBuffer returns a buffer that can be both used by kernels and directly read by the host,
	// with the slice (of the dtype's Go type) pointing to the shared data.
	//
	// When done, to release the memory, call BufferFinalize on the returned buffer.
	NewSharedBuffer(dtype dtypes.DType, length int) (buffer Buffer, flat any, err error)
}
