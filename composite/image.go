// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package composite

import (
	"context"
	"fmt"

	"github.com/gomlx/vizflow/internal/workerspool"
	"github.com/gomlx/vizflow/present"
	"github.com/gomlx/vizflow/transport"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LeaderRank is the rank that receives the composited results and drives the rounds.
const LeaderRank = 0

// Tags used by the compositing messages.
const (
	TagFramebuffer transport.Tag = transport.TagUser + iota
	TagPartialGeometry
	TagSummary
)

// Strategy of sort-last image compositing.
type Strategy int

const (
	// GatherToLeader sends every framebuffer to the leader, which merges them in rank order.
	GatherToLeader Strategy = iota

	// ReduceTree merges framebuffers pairwise over a binary tree of contiguous rank ranges:
	// the leader receives log2(N) framebuffers instead of N-1.
	ReduceTree
)

// String implements fmt.Stringer.
func (s Strategy) String() string {
	switch s {
	case GatherToLeader:
		return "gather"
	case ReduceTree:
		return "tree"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy converts the output of Strategy.String back to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	for _, s := range []Strategy{GatherToLeader, ReduceTree} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, errors.Errorf("unknown compositing strategy %q, valid values are \"gather\" and \"tree\"", name)
}

// mergeRowBand is the number of rows merged by each parallel task.
const mergeRowBand = 64

var mergePool = workerspool.New()

// MergeDepth composites src into dst: a pixel of src replaces the one in dst only if its depth is strictly
// smaller. So with dst holding the lower ranks, ties keep the lowest rank.
func MergeDepth(dst, src *present.Framebuffer) error {
	if dst.Width != src.Width || dst.Height != src.Height {
		return errors.Errorf("can't merge framebuffer %dx%d into %dx%d", src.Width, src.Height, dst.Width, dst.Height)
	}
	if err := src.Validate(); err != nil {
		return err
	}
	width := dst.Width
	mergePool.ParallelFor(dst.Height, mergeRowBand, func(_, rowStart, rowEnd int) {
		for pixel := rowStart * width; pixel < rowEnd*width; pixel++ {
			if src.Depth[pixel] < dst.Depth[pixel] {
				dst.Depth[pixel] = src.Depth[pixel]
				copy(dst.Color[4*pixel:4*pixel+4], src.Color[4*pixel:4*pixel+4])
			}
		}
	})
	return nil
}

// CompositeImage merges the framebuffers of every rank of the group with the given strategy.
// The leader gets the merged framebuffer (a new one, fb is not modified), the other ranks get nil.
//
// Every rank must call it with framebuffers of the same size.
func CompositeImage(ctx context.Context, comm transport.PointToPoint, fb *present.Framebuffer, strategy Strategy) (*present.Framebuffer, error) {
	if err := fb.Validate(); err != nil {
		return nil, err
	}
	switch strategy {
	case GatherToLeader:
		return gatherToLeader(ctx, comm, fb)
	case ReduceTree:
		return reduceTree(ctx, comm, fb)
	}
	return nil, errors.Errorf("unknown compositing strategy %s", strategy)
}

func receiveFramebuffer(ctx context.Context, comm transport.PointToPoint, src int) (*present.Framebuffer, error) {
	msg, err := comm.Receive(ctx, src, TagFramebuffer)
	if err != nil {
		return nil, err
	}
	part, err := decodeFramebuffer(msg.Data)
	if err != nil {
		return nil, errors.WithMessagef(err, "framebuffer from rank %d", src)
	}
	return part, nil
}

func gatherToLeader(ctx context.Context, comm transport.PointToPoint, fb *present.Framebuffer) (*present.Framebuffer, error) {
	if comm.Rank() != LeaderRank {
		return nil, comm.Send(ctx, LeaderRank, TagFramebuffer, encodeFramebuffer(fb))
	}
	merged := fb.Clone()
	for rank := range comm.Size() {
		if rank == LeaderRank {
			continue
		}
		part, err := receiveFramebuffer(ctx, comm, rank)
		if err != nil {
			return nil, err
		}
		if err := MergeDepth(merged, part); err != nil {
			return nil, errors.WithMessagef(err, "merging framebuffer of rank %d", rank)
		}
	}
	klog.V(2).Infof("composited %d framebuffers of %dx%d", comm.Size(), fb.Width, fb.Height)
	return merged, nil
}

// reduceTree merges at each level the range [rank, rank+step) with [rank+step, rank+2*step), the lower range
// being the destination. It requires LeaderRank to be 0.
func reduceTree(ctx context.Context, comm transport.PointToPoint, fb *present.Framebuffer) (*present.Framebuffer, error) {
	rank, size := comm.Rank(), comm.Size()
	merged := fb.Clone()
	for step := 1; step < size; step *= 2 {
		if rank%(2*step) != 0 {
			// Hand over the merged range to the lower neighbor, and we're done.
			return nil, comm.Send(ctx, rank-step, TagFramebuffer, encodeFramebuffer(merged))
		}
		partner := rank + step
		if partner >= size {
			continue
		}
		part, err := receiveFramebuffer(ctx, comm, partner)
		if err != nil {
			return nil, err
		}
		if err := MergeDepth(merged, part); err != nil {
			return nil, errors.WithMessagef(err, "merging framebuffer of ranks %d to %d", partner, min(partner+step, size)-1)
		}
	}
	klog.V(2).Infof("composited %d framebuffers of %dx%d with a reduction tree", size, fb.Width, fb.Height)
	return merged, nil
}
