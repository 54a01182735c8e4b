// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package composite coordinates the processes of a distributed visualization with sort-last compositing:
// every rank runs its own pipeline on its piece of the data, and the partial results are merged on the
// leader (rank 0).
//
// Two compositing modes are supported:
//
//   - Image compositing: every rank renders a full size framebuffer with the same camera, and the
//     framebuffers are merged per pixel by depth (see CompositeImage and Session.CompositeFrame).
//   - Geometry gather: the leader triggers a parameter change on every worker, and appends the partial
//     triangle sets they send back (see GeometryGather).
package composite

import (
	"context"
	"math"

	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/devices/interop"
	"github.com/gomlx/vizflow/pipeline"
	"github.com/gomlx/vizflow/present"
	"github.com/gomlx/vizflow/resident"
	"github.com/gomlx/vizflow/transport"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Session holds the state of one rank of a distributed render.
type Session struct {
	comm    transport.Communicator
	id      uuid.UUID
	device  devices.Device
	window  *present.Window
	scope   *interop.Scope
	interop *interop.Context
}

// NewSession starts a session on every rank of the group: it must be called by all ranks.
//
// The leader generates the session id and broadcasts it. Each rank initializes interop between its device
// and window on its own interop scope (if unavailable, presentation falls back to host copies). All ranks
// wait for each other at a barrier before returning.
func NewSession(ctx context.Context, comm transport.Communicator, device devices.Device, window *present.Window) (*Session, error) {
	s := &Session{
		comm:   comm,
		device: device,
		window: window,
		scope:  interop.NewScope(),
	}
	var idBytes []byte
	if s.IsLeader() {
		id := uuid.New()
		idBytes = id[:]
	}
	idBytes, err := comm.Broadcast(ctx, LeaderRank, idBytes)
	if err != nil {
		return nil, errors.WithMessage(err, "broadcasting session id")
	}
	if s.id, err = uuid.FromBytes(idBytes); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "session id: %v", err)
	}

	s.interop, err = s.scope.Init(device, window)
	if err != nil {
		klog.V(1).Infof("session %s rank %d: %v", s.id, s.Rank(), err)
		s.interop = nil
	}
	if err := comm.Barrier(ctx); err != nil {
		return nil, errors.WithMessagef(err, "session %s: waiting for all ranks to initialize", s.id)
	}
	klog.V(1).Infof("session %s: rank %d of %d ready on device %q (interop=%v)",
		s.id, s.Rank(), s.Size(), device.Name(), s.interop != nil)
	return s, nil
}

// ID of the session, the same on every rank.
func (s *Session) ID() uuid.UUID { return s.id }

// Rank of this process.
func (s *Session) Rank() int { return s.comm.Rank() }

// Size is the number of processes in the session.
func (s *Session) Size() int { return s.comm.Size() }

// IsLeader returns whether this process is the leader.
func (s *Session) IsLeader() bool { return s.comm.Rank() == LeaderRank }

// Comm returns the communicator of the session.
func (s *Session) Comm() transport.Communicator { return s.comm }

// Device of this rank.
func (s *Session) Device() devices.Device { return s.device }

// Window this rank renders into.
func (s *Session) Window() *present.Window { return s.window }

// InteropScope of this rank, to be given to present.Presenter.SetInteropScope.
func (s *Session) InteropScope() *interop.Scope { return s.scope }

// HasInterop returns whether interop between the device and the window is available.
func (s *Session) HasInterop() bool { return s.interop != nil }

// Resize the window of this rank. All ranks must use the same size for image compositing.
func (s *Session) Resize(width, height int) {
	s.window.Resize(width, height)
}

// BroadcastCamera returns on every rank the camera given by the leader.
func (s *Session) BroadcastCamera(ctx context.Context, camera present.Camera) (present.Camera, error) {
	var data []byte
	if s.IsLeader() {
		data = encodeCamera(camera)
	}
	data, err := s.comm.Broadcast(ctx, LeaderRank, data)
	if err != nil {
		return camera, errors.WithMessage(err, "broadcasting camera")
	}
	return decodeCamera(data)
}

// GlobalSummary merges the bounds and scalar ranges of the objects of every rank, and returns the result
// on every rank. Empty objects don't contribute.
func (s *Session) GlobalSummary(ctx context.Context, obj *resident.Object) (bounds resident.Bounds, scalarRange [2]float64, err error) {
	local := summary{Bounds: resident.EmptyBounds}
	if obj != nil && !obj.IsEmpty() {
		meta := obj.Metadata()
		local.Bounds = meta.Bounds
		if meta.NumPoints > 0 || meta.NumTriangles > 0 {
			local.ScalarRange, local.HasScalarRange = meta.ScalarRange, 1
		}
	}
	var data []byte
	if s.IsLeader() {
		merged := local
		for rank := range s.Size() {
			if rank == LeaderRank {
				continue
			}
			msg, err := s.comm.Receive(ctx, rank, TagSummary)
			if err != nil {
				return bounds, scalarRange, err
			}
			part, err := decodeSummary(msg.Data)
			if err != nil {
				return bounds, scalarRange, errors.WithMessagef(err, "summary of rank %d", rank)
			}
			merged = mergeSummaries(merged, part)
		}
		data = encodeSummary(merged)
	} else if err = s.comm.Send(ctx, LeaderRank, TagSummary, encodeSummary(local)); err != nil {
		return
	}
	data, err = s.comm.Broadcast(ctx, LeaderRank, data)
	if err != nil {
		return
	}
	merged, err := decodeSummary(data)
	if err != nil {
		return
	}
	return merged.Bounds, merged.ScalarRange, nil
}

func mergeSummaries(a, b summary) summary {
	merged := summary{Bounds: a.Bounds.Merge(b.Bounds)}
	switch {
	case a.HasScalarRange != 0 && b.HasScalarRange != 0:
		merged.ScalarRange = [2]float64{math.Min(a.ScalarRange[0], b.ScalarRange[0]), math.Max(a.ScalarRange[1], b.ScalarRange[1])}
		merged.HasScalarRange = 1
	case a.HasScalarRange != 0:
		merged.ScalarRange, merged.HasScalarRange = a.ScalarRange, 1
	case b.HasScalarRange != 0:
		merged.ScalarRange, merged.HasScalarRange = b.ScalarRange, 1
	}
	return merged
}

// RenderFrame updates the presenter of this rank's pipeline with the piece, and composites the framebuffers
// of all ranks. The leader gets the merged framebuffer, the other ranks nil.
//
// A rank whose pipeline fails contributes an empty (background) framebuffer, so the others don't block.
func (s *Session) RenderFrame(ctx context.Context, p *pipeline.Pipeline, presenter *present.Presenter,
	piece pipeline.Piece, strategy Strategy) (*present.Framebuffer, error) {
	if err := p.Update(ctx, presenter, piece); err != nil {
		if !errors.Is(err, pipeline.ErrNoData) {
			return nil, err
		}
		klog.Errorf("session %s rank %d: rendering piece %s: %v", s.id, s.Rank(), piece, err)
		presenter.Clear()
	}
	return s.CompositeFrame(ctx, strategy)
}

// CompositeFrame merges the current framebuffers of the windows of all ranks.
// The leader gets the merged framebuffer, the other ranks nil.
func (s *Session) CompositeFrame(ctx context.Context, strategy Strategy) (*present.Framebuffer, error) {
	merged, err := CompositeImage(ctx, s.comm, s.window.Framebuffer(), strategy)
	if err != nil {
		return nil, errors.WithMessagef(err, "session %s rank %d compositing", s.id, s.Rank())
	}
	return merged, nil
}

// Close releases the interop resources and the window of this rank.
func (s *Session) Close() {
	s.window.Close()
	s.scope.Close()
	klog.V(1).Infof("session %s: rank %d closed", s.id, s.Rank())
}
