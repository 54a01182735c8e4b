// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transport_test

import (
	"context"
	"flag"
	"sync"
	"testing"

	"github.com/gomlx/vizflow/transport"
	"github.com/gomlx/vizflow/transport/local"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
	_ = flag.Set("v", "2")
}

const (
	triggerAppend transport.TriggerID = 10
	triggerFail   transport.TriggerID = 11
	triggerEcho   transport.TriggerID = 12
)

func TestController(t *testing.T) {
	const size = 4
	var mu sync.Mutex
	received := make(map[int][]string)

	err := local.Run(context.Background(), size, func(ctx context.Context, comm *local.Comm) error {
		ctl := transport.NewController(comm)
		if comm.Rank() == 0 {
			for _, arg := range []string{"a", "", "b"} {
				if err := ctl.BroadcastTrigger(ctx, triggerAppend, []byte(arg)); err != nil {
					return err
				}
			}
			// Unknown and failing triggers don't stop the servers.
			if err := ctl.BroadcastTrigger(ctx, 99, nil); err != nil {
				return err
			}
			if err := ctl.BroadcastTrigger(ctx, triggerFail, nil); err != nil {
				return err
			}
			if err := ctl.BroadcastTrigger(ctx, triggerEcho, []byte("ping")); err != nil {
				return err
			}
			for rank := 1; rank < size; rank++ {
				msg, err := comm.Receive(ctx, rank, transport.TagUser)
				if err != nil {
					return err
				}
				assert.Equal(t, "ping", string(msg.Data))
			}
			return ctl.BroadcastStop(ctx)
		}

		assert.NoError(t, ctl.AddTrigger(triggerAppend, func(_ context.Context, trigger transport.Trigger) error {
			assert.Equal(t, 0, trigger.Source)
			mu.Lock()
			defer mu.Unlock()
			received[comm.Rank()] = append(received[comm.Rank()], string(trigger.Arg))
			return nil
		}))
		assert.NoError(t, ctl.AddTrigger(triggerFail, func(context.Context, transport.Trigger) error {
			return errors.New("handler failure")
		}))
		assert.NoError(t, ctl.AddTrigger(triggerEcho, func(ctx context.Context, trigger transport.Trigger) error {
			return comm.Send(ctx, trigger.Source, transport.TagUser, trigger.Arg)
		}))
		return ctl.Serve(ctx, 0)
	})
	require.NoError(t, err)
	for rank := 1; rank < size; rank++ {
		assert.Equal(t, []string{"a", "", "b"}, received[rank], "rank %d", rank)
	}
}

func TestControllerReserved(t *testing.T) {
	group, err := local.NewGroup(2)
	require.NoError(t, err)
	defer group.Close()
	ctl := transport.NewController(group.Comm(0))
	noop := func(context.Context, transport.Trigger) error { return nil }
	require.Error(t, ctl.AddTrigger(transport.StopTriggerID, noop))
	require.Error(t, ctl.AddTrigger(-1, noop))
	require.Error(t, ctl.AddTrigger(1, nil))
	require.NoError(t, ctl.AddTrigger(1, noop))
	ctx := context.Background()
	require.Error(t, ctl.Trigger(ctx, 1, transport.StopTriggerID, nil))
	require.Error(t, ctl.Trigger(ctx, 2, 1, nil))

	// Controls are received as a sum type.
	workerCtl := transport.NewController(group.Comm(1))
	require.NoError(t, ctl.Trigger(ctx, 1, 7, []byte{1, 2, 3}))
	require.NoError(t, ctl.TriggerStop(ctx, 1))
	control, err := workerCtl.ReceiveControl(ctx, transport.AnySource)
	require.NoError(t, err)
	assert.Equal(t, transport.Trigger{ID: 7, Arg: []byte{1, 2, 3}, Source: 0}, control)
	control, err = workerCtl.ReceiveControl(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, transport.Stop{Source: 0}, control)

	// A malformed header.
	require.NoError(t, group.Comm(0).Send(ctx, 1, transport.TagControl, []byte{1}))
	_, err = workerCtl.ReceiveControl(ctx, 0)
	require.Error(t, err)
}

func TestTagString(t *testing.T) {
	assert.Equal(t, "TagBreak", transport.TagBreak.String())
	assert.Equal(t, "Tag(100)", transport.TagUser.String())
}
