// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package composite

import (
	"context"

	"github.com/gomlx/vizflow/filters"
	"github.com/gomlx/vizflow/pipeline"
	"github.com/gomlx/vizflow/transport"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TagParameter is the trigger id used by the leader of a GeometryGather to start a round.
const TagParameter transport.TriggerID = 20

// Producer computes the partial triangle set of a rank for the given parameters.
type Producer func(ctx context.Context, params []float64) (*filters.HostTriangles, error)

// GeometryGather implements geometry gather compositing: for each round the leader sends the new parameters
// to every worker, all ranks (leader included) produce their partial triangle set, and the leader appends
// them in rank order.
//
// Workers run Serve until the leader calls Stop. Rounds are never pipelined: the leader only starts a new
// round after it received every answer of the previous one.
type GeometryGather struct {
	ctl     *transport.Controller
	produce Producer
	round   uint64
}

// NewGeometryGather creates the state machine for the rank of comm. Every rank must create one.
func NewGeometryGather(comm transport.PointToPoint, produce Producer) (*GeometryGather, error) {
	if produce == nil {
		return nil, errors.New("GeometryGather requires a Producer")
	}
	g := &GeometryGather{
		ctl:     transport.NewController(comm),
		produce: produce,
	}
	if comm.Rank() != LeaderRank {
		if err := g.ctl.AddTrigger(TagParameter, g.answer); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Rounds returns the number of rounds run (leader) or answered (workers) so far.
func (g *GeometryGather) Rounds() uint64 { return g.round }

// produceOrEmpty runs the producer, replacing failures by an empty triangle set.
func (g *GeometryGather) produceOrEmpty(ctx context.Context, params []float64) *filters.HostTriangles {
	triangles, err := g.produce(ctx, params)
	if err == nil && triangles != nil {
		err = triangles.Validate()
	}
	if err != nil {
		klog.Errorf("rank %d: producing geometry for round %d failed, sending an empty part: %+v",
			g.ctl.Communicator().Rank(), g.round, err)
		return &filters.HostTriangles{}
	}
	if triangles == nil {
		return &filters.HostTriangles{}
	}
	return triangles
}

// answer is the worker handler of TagParameter.
func (g *GeometryGather) answer(ctx context.Context, trigger transport.Trigger) error {
	comm := g.ctl.Communicator()
	params, err := decodeParameterRound(trigger.Arg)
	if err != nil {
		// The leader still waits for a part: answer the expected round with an empty one.
		g.round++
		klog.Errorf("rank %d: parameters from rank %d for round %d, sending an empty part: %+v",
			comm.Rank(), trigger.Source, g.round, err)
		empty := partialGeometry{Round: g.round, Triangles: &filters.HostTriangles{}}
		if sendErr := comm.Send(ctx, trigger.Source, TagPartialGeometry, encodePartialGeometry(empty)); sendErr != nil {
			return sendErr
		}
		return errors.WithMessagef(err, "parameters from rank %d", trigger.Source)
	}
	g.round = params.Round
	part := partialGeometry{Round: params.Round, Triangles: g.produceOrEmpty(ctx, params.Params)}
	klog.V(2).Infof("rank %d: round %d produced %d triangles",
		comm.Rank(), params.Round, part.Triangles.NumTriangles())
	return comm.Send(ctx, trigger.Source, TagPartialGeometry, encodePartialGeometry(part))
}

// Round runs one round from the leader: it returns all the parts appended in rank order.
func (g *GeometryGather) Round(ctx context.Context, params []float64) (*filters.HostTriangles, error) {
	comm := g.ctl.Communicator()
	if comm.Rank() != LeaderRank {
		return nil, errors.Errorf("GeometryGather.Round can only be called by the leader, not rank %d", comm.Rank())
	}
	g.round++
	if err := g.ctl.BroadcastTrigger(ctx, TagParameter, encodeParameterRound(parameterRound{Round: g.round, Params: params})); err != nil {
		return nil, errors.WithMessagef(err, "starting round %d", g.round)
	}
	merged := &filters.HostTriangles{}
	merged.Append(g.produceOrEmpty(ctx, params))
	for rank := range comm.Size() {
		if rank == LeaderRank {
			continue
		}
		part, err := g.receivePart(ctx, rank)
		if err != nil {
			return nil, err
		}
		merged.Append(part.Triangles)
	}
	klog.V(1).Infof("round %d: gathered %d triangles from %d ranks", g.round, merged.NumTriangles(), comm.Size())
	return merged, nil
}

// receivePart returns the part of rank for the current round. Parts of earlier rounds, answered after
// the leader gave up on them, are discarded.
func (g *GeometryGather) receivePart(ctx context.Context, rank int) (partialGeometry, error) {
	for {
		msg, err := g.ctl.Communicator().Receive(ctx, rank, TagPartialGeometry)
		if err != nil {
			return partialGeometry{}, errors.WithMessagef(err, "round %d waiting for rank %d", g.round, rank)
		}
		part, err := decodePartialGeometry(msg.Data)
		if err != nil {
			return partialGeometry{}, errors.WithMessagef(err, "round %d part of rank %d", g.round, rank)
		}
		if part.Round < g.round {
			klog.Warningf("round %d: discarding late part of round %d from rank %d", g.round, part.Round, rank)
			continue
		}
		if part.Round > g.round {
			return partialGeometry{}, errors.Errorf("rank %d answered round %d during round %d", rank, part.Round, g.round)
		}
		return part, nil
	}
}

// Serve answers the rounds of the leader until it calls Stop. Only for workers.
func (g *GeometryGather) Serve(ctx context.Context) error {
	if g.ctl.Communicator().Rank() == LeaderRank {
		return errors.New("GeometryGather.Serve can't be called by the leader")
	}
	return g.ctl.Serve(ctx, LeaderRank)
}

// Stop ends the Serve loop of every worker. Only for the leader.
func (g *GeometryGather) Stop(ctx context.Context) error {
	if g.ctl.Communicator().Rank() != LeaderRank {
		return errors.New("GeometryGather.Stop can only be called by the leader")
	}
	return g.ctl.BroadcastStop(ctx)
}

// PipelineProducer returns a Producer that runs the pipeline up to sink for the piece, after calling apply
// with the round parameters, and transfers the sink's first output (a TriangleSet) to the host.
//
// A pipeline failure (pipeline.ErrNoData) produces an empty triangle set.
func PipelineProducer(p *pipeline.Pipeline, sink pipeline.Stage, piece pipeline.Piece, apply func(params []float64)) Producer {
	return func(ctx context.Context, params []float64) (*filters.HostTriangles, error) {
		if apply != nil {
			apply(params)
		}
		if err := p.Update(ctx, sink, piece); err != nil {
			if errors.Is(err, pipeline.ErrNoData) {
				klog.Warningf("piece %s: %v", piece, err)
				return &filters.HostTriangles{}, nil
			}
			return nil, err
		}
		out := p.Output(sink, 0)
		if out == nil || out.IsEmpty() {
			return &filters.HostTriangles{}, nil
		}
		return filters.ToHostTriangles(out)
	}
}
