// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package resident implements data objects whose payload lives in a device (foreign) memory space.
//
// A Handle references one allocation: a set of named device buffers (see ArrayPoints and ArrayScalars).
// Exactly one Handle owns an allocation at any time, and it is the only one that frees it. Other handles
// may borrow the same allocation (after a shallow copy): they read it but never free it.
//
// An Object is the pipeline-visible wrapper around a Handle: it carries the metadata (bounds, extents,
// scalar range...) that can be queried without transferring the payload back to the host. Objects never
// hold their payload in host memory: the only ways to reach it are kernels launched on the device, or
// explicit transfers (see package filters, ToHostTriangles and ToHostPoints).
//
// Objects are not safe for concurrent use: all the mutations of a given allocation are confined to the
// single owning Object.
package resident
