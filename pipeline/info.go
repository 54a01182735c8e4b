// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"github.com/gomlx/vizflow/resident"
	"github.com/gomlx/vizflow/types/timestamp"
)

// Info is the pipeline information of one output port, shared with every input port connected to it.
type Info struct {
	// Kind of object produced, set in the RequestDataObject phase.
	Kind resident.Kind

	// Object holding the data of the port, created in the RequestDataObject phase.
	Object *resident.Object

	// WholeExtent of a structured output, published in the RequestInformation phase.
	// It's empty for unstructured outputs.
	WholeExtent resident.Extent

	// Origin and Spacing of a structured output, published in the RequestInformation phase.
	Origin, Spacing [3]float64

	// ScalarName, NumComponents and ScalarRange of the active scalars, if known without executing.
	ScalarName     string
	NumComponents  int
	ScalarRange    [2]float64
	HasScalarRange bool

	// UpdatePiece requested from this port, set in the RequestUpdateExtent phase.
	UpdatePiece Piece

	// UpdateExtent is the structured extent (including ghosts) corresponding to UpdatePiece, if WholeExtent is
	// not empty. UpdateOwnedExtent is the same without ghosts.
	UpdateExtent, UpdateOwnedExtent resident.Extent

	// ExactExtent requests the upstream to produce exactly UpdatePiece, no more.
	ExactExtent bool

	// Bookkeeping of the RequestData phase.
	dataPiece Piece
	dataTime  timestamp.Time
	failed    bool
}

func newInfo() *Info {
	return &Info{
		WholeExtent:       resident.EmptyExtent,
		Spacing:           [3]float64{1, 1, 1},
		UpdatePiece:       WholePiece,
		UpdateExtent:      resident.EmptyExtent,
		UpdateOwnedExtent: resident.EmptyExtent,
	}
}

// upToDate returns whether the data last computed satisfies UpdatePiece. With ExactExtent the piece must be
// the same, otherwise data with more ghost levels is accepted.
func (info *Info) upToDate() bool {
	if info.ExactExtent {
		return info.dataPiece == info.UpdatePiece
	}
	return info.dataPiece.covers(info.UpdatePiece)
}

// IsStructured returns whether the port publishes a structured whole extent.
func (info *Info) IsStructured() bool {
	return !info.WholeExtent.IsEmpty()
}

// Failed returns whether the last update of this port failed, in which case its object is empty.
func (info *Info) Failed() bool {
	return info.failed
}

// DataTime returns when the data of this port was last computed.
func (info *Info) DataTime() timestamp.Time {
	return info.dataTime
}

// copyInformation copies the metadata published in the RequestInformation phase.
func (info *Info) copyInformation(from *Info) {
	info.WholeExtent = from.WholeExtent
	info.Origin = from.Origin
	info.Spacing = from.Spacing
	info.ScalarName = from.ScalarName
	info.NumComponents = from.NumComponents
	info.ScalarRange = from.ScalarRange
	info.HasScalarRange = from.HasScalarRange
}

// SetUpdatePiece sets the piece requested from this port, and the corresponding structured extents.
func (info *Info) SetUpdatePiece(piece Piece, exact bool) {
	info.UpdatePiece = piece
	info.ExactExtent = exact
	if info.IsStructured() {
		info.UpdateExtent, info.UpdateOwnedExtent = PieceExtent(info.WholeExtent, piece)
	} else {
		info.UpdateExtent, info.UpdateOwnedExtent = resident.EmptyExtent, resident.EmptyExtent
	}
}
