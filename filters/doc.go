// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package filters implements the accelerated pipeline stages: sources that ingest or synthesize data
// directly into device memory, and filters whose data phase runs as device kernels over resident objects.
//
// All stages follow the same contract:
//
//   - The input kind is checked against the kinds the stage declares; stages that only handle single
//     component scalars reject multi-component inputs before launching any kernel. Both fail the data
//     phase (the executive logs it) and leave the output empty.
//   - On success the output gets a new owned payload. Metadata is either passed forward from the input
//     (resident.PassBoundsForward) or recomputed with device reductions, for stages that change geometry.
//   - Kernels are deterministic: work is split in fixed size chunks and compaction is done in two passes
//     (count per chunk, exclusive scan, write), so outputs don't depend on the number of workers.
//
// Structured grids split in pieces (see pipeline.SplitExtent) share the plane of points on their common
// boundaries: stages only process the points and cells owned by their piece, so the union of the pieces'
// outputs equals the output of the whole grid, without duplicates.
package filters
