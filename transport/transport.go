// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package transport defines the process group contract used to coordinate the processes of a distributed
// visualization, and the remote trigger Controller built on top of it.
//
// Implementations: transport/local (goroutines in one process) and transport/grpcnet (processes
// connected with gRPC).
package transport

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Tag identifies the kind of a message, so receivers can select which messages they wait for.
type Tag int32

// Reserved tags. Applications should use tags >= TagUser.
const (
	// TagControl carries remote trigger headers, see Controller.
	TagControl Tag = 1

	// TagControlArg carries the argument of a remote trigger, following its header.
	TagControlArg Tag = 2

	// TagBreak is the trigger id of the Stop control: it's never registered as a trigger.
	TagBreak Tag = 3

	// TagBroadcast and TagBarrier are used by the collective operations.
	TagBroadcast Tag = 4
	TagBarrier   Tag = 5

	// TagUser is the first tag free for applications.
	TagUser Tag = 100
)

// String implements fmt.Stringer.
func (t Tag) String() string {
	switch t {
	case TagControl:
		return "TagControl"
	case TagControlArg:
		return "TagControlArg"
	case TagBreak:
		return "TagBreak"
	case TagBroadcast:
		return "TagBroadcast"
	case TagBarrier:
		return "TagBarrier"
	}
	return fmt.Sprintf("Tag(%d)", int32(t))
}

// AnySource can be given to Receive to accept a message from any rank.
const AnySource = -1

// ErrClosed is returned by operations on a closed group.
var ErrClosed = errors.New("process group closed")

// Message received from a peer.
type Message struct {
	Source int
	Tag    Tag
	Data   []byte
}

// PointToPoint is the minimal transport: ordered point-to-point messages between the ranks of a group.
//
// Messages from one rank to another with the same tag are received in the order they were sent.
type PointToPoint interface {
	// Rank of this process in the group, from 0 to Size()-1. Rank 0 is the leader.
	Rank() int

	// Size is the number of processes in the group.
	Size() int

	// Send data to the dst rank. It doesn't wait for the message to be received.
	// The data must not be modified after Send.
	Send(ctx context.Context, dst int, tag Tag, data []byte) error

	// Receive blocks until a message with the tag arrives from src (or from anyone if src is AnySource),
	// or the context is done.
	Receive(ctx context.Context, src int, tag Tag) (Message, error)
}

// Communicator is a PointToPoint transport with collective operations.
type Communicator interface {
	PointToPoint

	// Broadcast returns on every rank the data given by the root rank. The data given by the other
	// ranks is ignored.
	Broadcast(ctx context.Context, root int, data []byte) ([]byte, error)

	// Barrier blocks until every rank of the group called it.
	Barrier(ctx context.Context) error
}

// CheckRank returns an error if rank is not valid for the group (or AnySource, if allowed).
func CheckRank(p PointToPoint, rank int, allowAnySource bool) error {
	if allowAnySource && rank == AnySource {
		return nil
	}
	if rank < 0 || rank >= p.Size() {
		return errors.Errorf("invalid rank %d for a group of size %d", rank, p.Size())
	}
	return nil
}

// LinearBroadcast implements Communicator.Broadcast with point-to-point messages: the root sends the data
// to every other rank.
func LinearBroadcast(ctx context.Context, p PointToPoint, root int, data []byte) ([]byte, error) {
	if err := CheckRank(p, root, false); err != nil {
		return nil, err
	}
	if p.Rank() != root {
		msg, err := p.Receive(ctx, root, TagBroadcast)
		if err != nil {
			return nil, errors.WithMessagef(err, "rank %d receiving broadcast from %d", p.Rank(), root)
		}
		return msg.Data, nil
	}
	for rank := range p.Size() {
		if rank == root {
			continue
		}
		if err := p.Send(ctx, rank, TagBroadcast, data); err != nil {
			return nil, errors.WithMessagef(err, "broadcasting to rank %d", rank)
		}
	}
	return data, nil
}

// GatherBarrier implements Communicator.Barrier with point-to-point messages: every rank notifies rank 0,
// which releases everyone once all arrived.
func GatherBarrier(ctx context.Context, p PointToPoint) error {
	if p.Rank() != 0 {
		if err := p.Send(ctx, 0, TagBarrier, nil); err != nil {
			return errors.WithMessagef(err, "rank %d entering barrier", p.Rank())
		}
		_, err := p.Receive(ctx, 0, TagBarrier)
		return errors.WithMessagef(err, "rank %d leaving barrier", p.Rank())
	}
	for rank := 1; rank < p.Size(); rank++ {
		if _, err := p.Receive(ctx, rank, TagBarrier); err != nil {
			return errors.WithMessagef(err, "barrier waiting for rank %d", rank)
		}
	}
	for rank := 1; rank < p.Size(); rank++ {
		if err := p.Send(ctx, rank, TagBarrier, nil); err != nil {
			return errors.WithMessagef(err, "barrier releasing rank %d", rank)
		}
	}
	return nil
}
