// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pipeline implements the demand-driven executive that drives stages ("filters") through the
// four phases of an update:
//
//  1. RequestDataObject: create the (empty) output objects of the right kind.
//  2. RequestInformation: publish metadata about what would be produced (whole extent, scalar range...),
//     without touching payload data.
//  3. RequestUpdateExtent: translate the piece requested from the outputs into the piece requested from
//     each input.
//  4. RequestData: compute the output payload from the already updated inputs. This is the only phase
//     allowed to allocate or mutate device memory.
//
// Phases 1 to 3 have defaults, used when a stage doesn't implement the corresponding optional interface
// (DataObjectCreator, InformationProvider, UpdateExtentTranslator). RequestData is always implemented
// by the stage.
//
// A stage failing in any phase aborts the update of its branch: its outputs and everything downstream of
// it is reported as "no data" (empty objects) and Pipeline.Update returns an error matching ErrNoData.
// Failures are never fatal to the program.
//
// A Pipeline is not safe for concurrent use: concurrent updates must be serialized by the caller.
package pipeline
