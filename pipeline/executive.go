// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/vizflow/resident"
	"github.com/gomlx/vizflow/types/timestamp"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Executive drives one Stage through the phases of the update.
type Executive struct {
	stage    Stage
	inputs   []*Info
	outputs  []*Info
	upstream []*Executive

	// sinkPiece is the piece requested from a stage without outputs.
	sinkPiece Piece

	lastExecuted timestamp.Time
	lastPiece    Piece
	failed       bool
}

func newExecutive(stage Stage) *Executive {
	e := &Executive{
		stage:     stage,
		inputs:    make([]*Info, stage.NumInputs()),
		outputs:   make([]*Info, stage.NumOutputs()),
		upstream:  make([]*Executive, stage.NumInputs()),
		sinkPiece: WholePiece,
	}
	for port := range e.outputs {
		e.outputs[port] = newInfo()
	}
	return e
}

// Stage driven by the executive.
func (e *Executive) Stage() Stage { return e.stage }

// OutputInfo returns the information of the output port.
func (e *Executive) OutputInfo(port int) *Info { return e.outputs[port] }

// InputInfo returns the information of the input port, nil if not connected.
func (e *Executive) InputInfo(port int) *Info { return e.inputs[port] }

// Failed returns whether the last update of the stage failed.
func (e *Executive) Failed() bool { return e.failed }

// requestedPiece is the piece requested from the stage outputs, or from the stage itself if it has none.
func (e *Executive) requestedPiece() Piece {
	if len(e.outputs) == 0 {
		return e.sinkPiece
	}
	return e.outputs[0].UpdatePiece
}

func (e *Executive) newRequest(ctx context.Context, kind RequestKind) *Request {
	outputPort := -1
	if len(e.outputs) == 1 {
		outputPort = 0
	}
	return &Request{
		Kind:       kind,
		Context:    ctx,
		OutputPort: outputPort,
		Piece:      e.requestedPiece(),
		Inputs:     e.inputs,
		Outputs:    e.outputs,
	}
}

// ProcessRequest dispatches the request to the default behavior of the phase and/or to the stage.
// Panics raised by the stage are converted to errors.
func (e *Executive) ProcessRequest(req *Request) (err error) {
	exception := exceptions.Try(func() {
		switch req.Kind {
		case RequestDataObject:
			err = e.processDataObject(req)
		case RequestInformation:
			err = e.processInformation(req)
		case RequestUpdateExtent:
			err = e.processUpdateExtent(req)
		case RequestData:
			err = e.stage.RequestData(req)
		default:
			err = errors.Errorf("unknown request kind %s", req.Kind)
		}
	})
	if exception != nil {
		if excErr, ok := exception.(error); ok {
			err = excErr
		} else {
			err = errors.Errorf("%v", exception)
		}
	}
	if err != nil {
		return errors.WithMessagef(err, "stage %q failed in %s", e.stage.Name(), req.Kind)
	}
	return nil
}

func (e *Executive) processDataObject(req *Request) error {
	for port, info := range e.outputs {
		info.Kind = e.stage.OutputKind(port)
		if info.Object == nil {
			info.Object = resident.NewObject()
		}
	}
	if creator, ok := e.stage.(DataObjectCreator); ok {
		return creator.RequestDataObject(req)
	}
	return nil
}

func (e *Executive) processInformation(req *Request) error {
	if len(e.inputs) > 0 && e.inputs[0] != nil {
		for _, info := range e.outputs {
			info.copyInformation(e.inputs[0])
		}
	}
	if provider, ok := e.stage.(InformationProvider); ok {
		return provider.RequestInformation(req)
	}
	return nil
}

func (e *Executive) processUpdateExtent(req *Request) error {
	if translator, ok := e.stage.(UpdateExtentTranslator); ok {
		return translator.RequestUpdateExtent(req)
	}
	for _, info := range e.inputs {
		if info != nil {
			info.SetUpdatePiece(req.Piece, true)
		}
	}
	return nil
}

// needToExecute returns whether the stage must run its RequestData phase: it never ran (or its last run failed),
// its parameters or inputs changed since, or the requested piece is not the one computed.
func (e *Executive) needToExecute() (bool, string) {
	if e.lastExecuted == 0 {
		return true, "never executed"
	}
	if e.stage.MTime() > e.lastExecuted {
		return true, "stage modified"
	}
	for port, info := range e.inputs {
		if info.dataTime > e.lastExecuted {
			return true, fmt.Sprintf("input %d modified", port)
		}
	}
	if len(e.outputs) == 0 {
		if !e.lastPiece.covers(e.sinkPiece) {
			return true, "piece changed"
		}
		return false, ""
	}
	for port, info := range e.outputs {
		if info.Object.IsEmpty() {
			return true, fmt.Sprintf("output %d released", port)
		}
		if !info.upToDate() {
			return true, fmt.Sprintf("output %d piece changed", port)
		}
	}
	return false, ""
}

// markFailed resets the outputs to empty objects and flags them as failed.
func (e *Executive) markFailed() {
	e.failed = true
	e.lastExecuted = 0
	for _, info := range e.outputs {
		if info.Object != nil {
			info.Object.Reset()
		}
		info.failed = true
		info.dataTime = timestamp.Next()
	}
}

func (e *Executive) markExecuted() {
	now := timestamp.Next()
	e.failed = false
	e.lastExecuted = now
	e.lastPiece = e.requestedPiece()
	for _, info := range e.outputs {
		info.failed = false
		info.dataPiece = info.UpdatePiece
		info.dataTime = now
	}
}

func (e *Executive) inputFailed() bool {
	for _, info := range e.inputs {
		if info != nil && info.failed {
			return true
		}
	}
	return false
}

// executeData runs the RequestData phase if needed. It returns false if the stage has no data.
func (e *Executive) executeData(ctx context.Context) bool {
	for port, info := range e.inputs {
		if info.failed || info.Object.IsEmpty() {
			if klog.V(1).Enabled() {
				klog.Infof("stage %q: no data on input %d, skipping", e.stage.Name(), port)
			}
			e.markFailed()
			return false
		}
	}
	execute, reason := e.needToExecute()
	if !execute {
		klog.V(2).Infof("stage %q: up-to-date", e.stage.Name())
		return true
	}
	klog.V(2).Infof("stage %q: executing %s (%s)", e.stage.Name(), e.requestedPiece(), reason)
	if err := e.ProcessRequest(e.newRequest(ctx, RequestData)); err != nil {
		klog.Errorf("%+v", err)
		e.markFailed()
		return false
	}
	e.markExecuted()
	return true
}
