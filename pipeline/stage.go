// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"slices"

	"github.com/gomlx/vizflow/resident"
	"github.com/gomlx/vizflow/types/timestamp"
)

// Stage is a node of the pipeline: it consumes the objects in its input ports and produces the objects
// of its output ports.
//
// Sources have no inputs, and sinks (e.g. presenters) have no outputs.
type Stage interface {
	// Name of the stage, used for logging and error messages.
	Name() string

	// NumInputs returns the number of input ports. Each input port takes exactly one connection.
	NumInputs() int

	// NumOutputs returns the number of output ports.
	NumOutputs() int

	// InputKinds returns the object kinds accepted by the input port.
	InputKinds(port int) []resident.Kind

	// OutputKind returns the kind of object produced in the output port.
	OutputKind(port int) resident.Kind

	// MTime returns the last time the parameters of the stage were modified.
	MTime() timestamp.Time

	// RequestData computes the output payloads from the inputs, in the RequestData phase.
	// The inputs are guaranteed to be up-to-date for the requested piece.
	RequestData(req *Request) error
}

// DataObjectCreator is implemented by stages that create their own output objects, in the
// RequestDataObject phase. The default creates an empty resident.Object per output port.
type DataObjectCreator interface {
	RequestDataObject(req *Request) error
}

// InformationProvider is implemented by stages that publish (or change) metadata in the
// RequestInformation phase.
//
// It is called after the default behavior, which copies the metadata of the first input to all outputs.
// It must not touch payloads or allocate device memory.
type InformationProvider interface {
	RequestInformation(req *Request) error
}

// UpdateExtentTranslator is implemented by stages that need a different piece from their inputs than
// the one requested from their outputs, in the RequestUpdateExtent phase.
//
// The default requests req.Piece from every input, with ExactExtent set.
type UpdateExtentTranslator interface {
	RequestUpdateExtent(req *Request) error
}

// StageBase implements the bookkeeping part of Stage: name and modification time.
// It's meant to be embedded by stage implementations.
type StageBase struct {
	name  string
	stamp timestamp.Stamp
}

// NewStageBase creates a StageBase with the given name.
func NewStageBase(name string) StageBase {
	var s StageBase
	s.name = name
	s.stamp.Modified()
	return s
}

// Name implements Stage.
func (s *StageBase) Name() string { return s.name }

// MTime implements Stage.
func (s *StageBase) MTime() timestamp.Time { return s.stamp.Time() }

// Modified marks the stage parameters as changed: the next update will re-execute it.
func (s *StageBase) Modified() { s.stamp.Modified() }

// AcceptsKind returns whether the stage input port accepts the kind.
func AcceptsKind(stage Stage, port int, kind resident.Kind) bool {
	return slices.Contains(stage.InputKinds(port), kind)
}
