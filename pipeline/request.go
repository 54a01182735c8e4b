// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"

	"github.com/gomlx/vizflow/resident"
	"github.com/pkg/errors"
)

// RequestKind enumerates the phases of an update.
type RequestKind int

const (
	RequestDataObject RequestKind = iota
	RequestInformation
	RequestUpdateExtent
	RequestData
)

var requestKindNames = []string{"RequestDataObject", "RequestInformation", "RequestUpdateExtent", "RequestData"}

// String implements fmt.Stringer.
func (k RequestKind) String() string {
	if k < 0 || int(k) >= len(requestKindNames) {
		return fmt.Sprintf("RequestKind(%d)", int(k))
	}
	return requestKindNames[k]
}

// Piece describes a partition of the data: piece Index out of NumPieces, with GhostLevel layers
// of extra boundary elements.
type Piece struct {
	Index, NumPieces, GhostLevel int
}

// WholePiece requests all the data in one piece.
var WholePiece = Piece{Index: 0, NumPieces: 1}

// Validate returns an error if the piece is not valid.
func (p Piece) Validate() error {
	if p.NumPieces < 1 {
		return errors.Errorf("invalid piece %s: number of pieces must be >= 1", p)
	}
	if p.Index < 0 || p.Index >= p.NumPieces {
		return errors.Errorf("invalid piece %s: index out of range", p)
	}
	if p.GhostLevel < 0 {
		return errors.Errorf("invalid piece %s: negative ghost level", p)
	}
	return nil
}

// String implements fmt.Stringer.
func (p Piece) String() string {
	return fmt.Sprintf("piece %d/%d (ghost level %d)", p.Index, p.NumPieces, p.GhostLevel)
}

// covers returns whether data computed for p can satisfy a request for other.
func (p Piece) covers(other Piece) bool {
	return p.Index == other.Index && p.NumPieces == other.NumPieces && p.GhostLevel >= other.GhostLevel
}

// Request is passed to the stage on each phase of an update.
type Request struct {
	// Kind of the request: the phase of the update.
	Kind RequestKind

	// Context of the update.
	Context context.Context

	// OutputPort the request comes from, or -1 if it concerns all output ports (or the stage has none).
	OutputPort int

	// Piece requested from the stage outputs (or from the stage itself, for sinks without outputs).
	Piece Piece

	// Inputs is the information of each input port: it is the same Info as the one of the upstream
	// output port connected to it.
	Inputs []*Info

	// Outputs is the information of each output port.
	Outputs []*Info
}

// Input returns the object connected to the input port, or nil if not connected or not yet created.
func (r *Request) Input(port int) *resident.Object {
	if port < 0 || port >= len(r.Inputs) || r.Inputs[port] == nil {
		return nil
	}
	return r.Inputs[port].Object
}

// Output returns the object of the output port.
func (r *Request) Output(port int) *resident.Object {
	if port < 0 || port >= len(r.Outputs) {
		return nil
	}
	return r.Outputs[port].Object
}
