// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"slices"

	"github.com/gomlx/vizflow/resident"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrNoData is returned (wrapped) by Pipeline.Update when the requested stage could not produce data,
// because it or some stage upstream of it failed. Test for it with errors.Is.
var ErrNoData = errors.New("no data")

// Pipeline holds a graph of connected stages and drives their updates.
type Pipeline struct {
	executives map[Stage]*Executive
}

// New creates an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{executives: make(map[Stage]*Executive)}
}

// Add the stage to the pipeline, if not yet there, and returns its executive.
// Connect adds the stages automatically.
func (p *Pipeline) Add(stage Stage) *Executive {
	e, found := p.executives[stage]
	if !found {
		e = newExecutive(stage)
		p.executives[stage] = e
	}
	return e
}

// Executive returns the executive of the stage, or nil if the stage is not in the pipeline.
func (p *Pipeline) Executive(stage Stage) *Executive {
	return p.executives[stage]
}

// Connect the output port of upstream to the input port of downstream.
//
// An input port takes only one connection: connecting it again replaces the previous connection.
// An output port can feed any number of input ports.
func (p *Pipeline) Connect(upstream Stage, outputPort int, downstream Stage, inputPort int) error {
	if outputPort < 0 || outputPort >= upstream.NumOutputs() {
		return errors.Errorf("stage %q has no output port %d", upstream.Name(), outputPort)
	}
	if inputPort < 0 || inputPort >= downstream.NumInputs() {
		return errors.Errorf("stage %q has no input port %d", downstream.Name(), inputPort)
	}
	kind := upstream.OutputKind(outputPort)
	if !AcceptsKind(downstream, inputPort, kind) {
		return errors.Errorf("stage %q input %d doesn't accept %s (from stage %q), it accepts %v",
			downstream.Name(), inputPort, kind, upstream.Name(), downstream.InputKinds(inputPort))
	}
	up, down := p.Add(upstream), p.Add(downstream)
	if slices.Contains(p.upstreamOrder(up), down) {
		return errors.Errorf("connecting stage %q to %q would create a cycle", upstream.Name(), downstream.Name())
	}
	down.inputs[inputPort] = up.outputs[outputPort]
	down.upstream[inputPort] = up
	// Force re-execution of the downstream stage with the new input.
	down.lastExecuted = 0
	return nil
}

// Output returns the object of the stage output port, or nil if the stage is not in the pipeline or
// the RequestDataObject phase hasn't run yet.
func (p *Pipeline) Output(stage Stage, port int) *resident.Object {
	e := p.executives[stage]
	if e == nil || port < 0 || port >= len(e.outputs) {
		return nil
	}
	return e.outputs[port].Object
}

// upstreamOrder returns the executives reachable upstream of e (e included), in an order where every
// executive comes after all of its inputs.
func (p *Pipeline) upstreamOrder(e *Executive) []*Executive {
	var order []*Executive
	visited := make(map[*Executive]bool)
	var visit func(e *Executive)
	visit = func(e *Executive) {
		if visited[e] {
			return
		}
		visited[e] = true
		for _, up := range e.upstream {
			if up != nil {
				visit(up)
			}
		}
		order = append(order, e)
	}
	visit(e)
	return order
}

func (p *Pipeline) sinkOrder(sink Stage) ([]*Executive, error) {
	e := p.executives[sink]
	if e == nil {
		return nil, errors.Errorf("stage %q is not part of the pipeline", sink.Name())
	}
	order := p.upstreamOrder(e)
	for _, e := range order {
		for port, up := range e.upstream {
			if up == nil {
				return nil, errors.Errorf("stage %q input port %d is not connected", e.stage.Name(), port)
			}
		}
	}
	return order, nil
}

// runPhase runs the phase on the executives in the given order, skipping the ones that already failed
// or with failed inputs. It returns whether any stage failed.
func runPhase(ctx context.Context, order []*Executive, kind RequestKind) bool {
	anyFailed := false
	for _, e := range order {
		if e.failed || e.inputFailed() {
			if !e.failed {
				e.markFailed()
			}
			anyFailed = true
			continue
		}
		if err := e.ProcessRequest(e.newRequest(ctx, kind)); err != nil {
			klog.Errorf("%+v", err)
			e.markFailed()
			anyFailed = true
		}
	}
	return anyFailed
}

// UpdateInformation runs the RequestDataObject and RequestInformation phases up to the sink stage.
//
// It only touches metadata: no payload is computed, and no device memory is allocated, so it's cheap
// to call repeatedly (e.g. to query the whole extent of a source).
func (p *Pipeline) UpdateInformation(ctx context.Context, sink Stage) error {
	order, err := p.sinkOrder(sink)
	if err != nil {
		return err
	}
	return p.updateInformation(ctx, order)
}

func (p *Pipeline) updateInformation(ctx context.Context, order []*Executive) error {
	for _, e := range order {
		e.failed = false
		for _, info := range e.outputs {
			info.failed = false
		}
	}
	runPhase(ctx, order, RequestDataObject)
	runPhase(ctx, order, RequestInformation)
	return p.sinkStatus(order)
}

// PropagateUpdateExtent runs the first three phases up to the sink, requesting the given piece from it.
// Like UpdateInformation, it doesn't touch any payload.
func (p *Pipeline) PropagateUpdateExtent(ctx context.Context, sink Stage, piece Piece) error {
	order, err := p.sinkOrder(sink)
	if err != nil {
		return err
	}
	return p.propagateUpdateExtent(ctx, order, piece)
}

func (p *Pipeline) propagateUpdateExtent(ctx context.Context, order []*Executive, piece Piece) error {
	if err := piece.Validate(); err != nil {
		return err
	}
	if err := p.updateInformation(ctx, order); err != nil {
		return err
	}
	sink := order[len(order)-1]
	sink.sinkPiece = piece
	for _, info := range sink.outputs {
		info.SetUpdatePiece(piece, true)
	}
	reversed := slices.Clone(order)
	slices.Reverse(reversed)
	runPhase(ctx, reversed, RequestUpdateExtent)
	return p.sinkStatus(order)
}

// Update brings the outputs of the sink stage up-to-date for the requested piece: it runs all four phases
// on the sink and on every stage upstream of it. Stages whose parameters, inputs and requested pieces haven't
// changed since their last execution are not re-executed.
//
// If the sink (or a stage upstream of it) fails, the failing stage and all stages downstream of it end up
// with empty outputs, the failure is logged, and an error wrapping ErrNoData is returned.
func (p *Pipeline) Update(ctx context.Context, sink Stage, piece Piece) error {
	order, err := p.sinkOrder(sink)
	if err != nil {
		return err
	}
	if err = p.propagateUpdateExtent(ctx, order, piece); err != nil {
		return err
	}
	for _, e := range order {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "update of stage %q interrupted", sink.Name())
		}
		if e.failed {
			continue
		}
		e.executeData(ctx)
	}
	return p.sinkStatus(order)
}

// sinkStatus returns an ErrNoData error if the last executive (the sink) of order failed.
func (p *Pipeline) sinkStatus(order []*Executive) error {
	sink := order[len(order)-1]
	if !sink.failed {
		return nil
	}
	return errors.Wrapf(ErrNoData, "stage %q", sink.stage.Name())
}

// ReleaseData releases the payload of every output in the pipeline, freeing the device memory they own.
// The next Update re-executes every stage.
func (p *Pipeline) ReleaseData() {
	for _, e := range p.executives {
		for _, info := range e.outputs {
			if info.Object != nil {
				info.Object.Reset()
			}
		}
		e.lastExecuted = 0
	}
}
