// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package local implements transport.Communicator for a group of goroutines in the same process.
//
// Each rank has a transport.Mailbox: Send appends to the destination mailbox and never blocks,
// Receive takes the oldest message matching the source and tag.
//
// Use Run to execute an SPMD function on N ranks.
package local

import (
	"context"

	"github.com/gomlx/vizflow/transport"
	"github.com/gomlx/vizflow/types/xsync"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Group of in-process ranks.
type Group struct {
	size      int
	mailboxes []*transport.Mailbox
	closed    *xsync.Latch
}

// NewGroup creates a group with size ranks.
func NewGroup(size int) (*Group, error) {
	if size <= 0 {
		return nil, errors.Errorf("invalid group size %d", size)
	}
	g := &Group{
		size:      size,
		mailboxes: make([]*transport.Mailbox, size),
		closed:    xsync.NewLatch(),
	}
	for ii := range g.mailboxes {
		g.mailboxes[ii] = transport.NewMailbox()
	}
	return g, nil
}

// Size of the group.
func (g *Group) Size() int { return g.size }

// Comm returns the communicator of the given rank.
func (g *Group) Comm(rank int) *Comm {
	if rank < 0 || rank >= g.size {
		klog.Errorf("local.Group.Comm(%d) for a group of size %d", rank, g.size)
		return nil
	}
	return &Comm{group: g, rank: rank}
}

// Close the group: pending and future Receive calls that can't be matched return transport.ErrClosed.
// It can be called more than once.
func (g *Group) Close() {
	g.closed.Trigger()
	for _, m := range g.mailboxes {
		m.Close()
	}
}

// Pending returns the number of messages waiting in the mailbox of rank.
func (g *Group) Pending(rank int) int {
	return g.mailboxes[rank].Len()
}

// Comm is the transport.Communicator of one rank of a Group.
type Comm struct {
	group *Group
	rank  int
}

var _ transport.Communicator = (*Comm)(nil)

// Rank implements transport.PointToPoint.
func (c *Comm) Rank() int { return c.rank }

// Size implements transport.PointToPoint.
func (c *Comm) Size() int { return c.group.size }

// Send implements transport.PointToPoint.
func (c *Comm) Send(ctx context.Context, dst int, tag transport.Tag, data []byte) error {
	if err := transport.CheckRank(c, dst, false); err != nil {
		return err
	}
	if c.group.closed.Test() {
		return errors.Wrapf(transport.ErrClosed, "rank %d sending %s to rank %d", c.rank, tag, dst)
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "rank %d sending %s to rank %d", c.rank, tag, dst)
	}
	err := c.group.mailboxes[dst].Put(transport.Message{Source: c.rank, Tag: tag, Data: data})
	return errors.Wrapf(err, "rank %d sending %s to rank %d", c.rank, tag, dst)
}

// Receive implements transport.PointToPoint.
func (c *Comm) Receive(ctx context.Context, src int, tag transport.Tag) (transport.Message, error) {
	if err := transport.CheckRank(c, src, true); err != nil {
		return transport.Message{}, err
	}
	msg, err := c.group.mailboxes[c.rank].Take(ctx, src, tag)
	if err != nil {
		return msg, errors.WithMessagef(err, "rank %d", c.rank)
	}
	return msg, nil
}

// Broadcast implements transport.Communicator.
func (c *Comm) Broadcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	return transport.LinearBroadcast(ctx, c, root, data)
}

// Barrier implements transport.Communicator.
func (c *Comm) Barrier(ctx context.Context) error {
	return transport.GatherBarrier(ctx, c)
}

// Run executes fn on size ranks, each in its own goroutine, and waits for all of them.
//
// The context given to fn is cancelled as soon as one rank returns an error, and the first error is returned.
// The group is closed when Run returns.
func Run(ctx context.Context, size int, fn func(ctx context.Context, comm *Comm) error) error {
	group, err := NewGroup(size)
	if err != nil {
		return err
	}
	defer group.Close()
	eg, egCtx := errgroup.WithContext(ctx)
	for rank := range size {
		comm := group.Comm(rank)
		eg.Go(func() error {
			if err := fn(egCtx, comm); err != nil {
				return errors.WithMessagef(err, "rank %d", rank)
			}
			return nil
		})
	}
	return eg.Wait()
}
