// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package local

import (
	"context"
	"flag"
	"testing"
	"time"

	"github.com/gomlx/vizflow/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
	_ = flag.Set("v", "2")
}

func TestSendReceive(t *testing.T) {
	group, err := NewGroup(3)
	require.NoError(t, err)
	defer group.Close()
	ctx := context.Background()
	c0, c1, c2 := group.Comm(0), group.Comm(1), group.Comm(2)

	require.NoError(t, c1.Send(ctx, 0, transport.TagUser, []byte("a")))
	require.NoError(t, c2.Send(ctx, 0, transport.TagUser, []byte("b")))
	require.NoError(t, c1.Send(ctx, 0, transport.TagUser, []byte("c")))
	require.NoError(t, c1.Send(ctx, 0, transport.TagUser+1, []byte("d")))
	assert.Equal(t, 4, group.Pending(0))

	// Selecting by tag skips earlier messages.
	msg, err := c0.Receive(ctx, 1, transport.TagUser+1)
	require.NoError(t, err)
	assert.Equal(t, "d", string(msg.Data))

	// Selecting by source keeps FIFO order per source.
	msg, err = c0.Receive(ctx, 1, transport.TagUser)
	require.NoError(t, err)
	assert.Equal(t, "a", string(msg.Data))
	msg, err = c0.Receive(ctx, 1, transport.TagUser)
	require.NoError(t, err)
	assert.Equal(t, "c", string(msg.Data))

	msg, err = c0.Receive(ctx, transport.AnySource, transport.TagUser)
	require.NoError(t, err)
	assert.Equal(t, 2, msg.Source)
	assert.Equal(t, "b", string(msg.Data))
	assert.Equal(t, 0, group.Pending(0))

	// Invalid ranks.
	require.Error(t, c0.Send(ctx, 3, transport.TagUser, nil))
	_, err = c0.Receive(ctx, -2, transport.TagUser)
	require.Error(t, err)
}

func TestReceiveBlocks(t *testing.T) {
	group, err := NewGroup(2)
	require.NoError(t, err)
	defer group.Close()
	ctx := context.Background()

	done := make(chan transport.Message)
	go func() {
		msg, err := group.Comm(1).Receive(ctx, 0, transport.TagUser)
		assert.NoError(t, err)
		done <- msg
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, group.Comm(0).Send(ctx, 1, transport.TagUser, []byte("late")))
	select {
	case msg := <-done:
		assert.Equal(t, "late", string(msg.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("Receive didn't wake up")
	}

	// Deadline.
	ctxTimeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = group.Comm(1).Receive(ctxTimeout, 0, transport.TagUser)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Close.
	go func() {
		time.Sleep(10 * time.Millisecond)
		group.Close()
	}()
	_, err = group.Comm(1).Receive(ctx, transport.AnySource, transport.TagUser)
	require.ErrorIs(t, err, transport.ErrClosed)
	require.ErrorIs(t, group.Comm(0).Send(ctx, 1, transport.TagUser, nil), transport.ErrClosed)
}

func TestCollectives(t *testing.T) {
	const size = 5
	results := make([]string, size)
	err := Run(context.Background(), size, func(ctx context.Context, comm *Comm) error {
		var data []byte
		if comm.Rank() == 2 {
			data = []byte("from 2")
		}
		for range 3 {
			if err := comm.Barrier(ctx); err != nil {
				return err
			}
		}
		got, err := comm.Broadcast(ctx, 2, data)
		if err != nil {
			return err
		}
		results[comm.Rank()] = string(got)
		return comm.Barrier(ctx)
	})
	require.NoError(t, err)
	for rank, got := range results {
		assert.Equal(t, "from 2", got, "rank %d", rank)
	}
}

func TestRunError(t *testing.T) {
	errBoom := errors.New("boom")
	err := Run(context.Background(), 3, func(ctx context.Context, comm *Comm) error {
		if comm.Rank() == 1 {
			return errBoom
		}
		// The other ranks block until the failure cancels the context.
		_, err := comm.Receive(ctx, transport.AnySource, transport.TagUser)
		return err
	})
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "rank 1")

	_, err = NewGroup(0)
	require.Error(t, err)
}
