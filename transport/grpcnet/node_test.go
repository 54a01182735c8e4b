// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package grpcnet

import (
	"context"
	"flag"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gomlx/vizflow/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
	_ = flag.Set("v", "2")
}

const bufSize = 1024 * 1024

// startGroup starts size nodes connected through in-memory listeners.
func startGroup(t *testing.T, size int) []*Node {
	listeners := make(map[string]*bufconn.Listener, size)
	addresses := make([]string, size)
	for rank := range size {
		name := fmt.Sprintf("rank-%d", rank)
		listeners[name] = bufconn.Listen(bufSize)
		addresses[rank] = "passthrough:///" + name
	}
	dialer := func(ctx context.Context, addr string) (net.Conn, error) {
		lis, found := listeners[addr]
		if !found {
			return nil, fmt.Errorf("unknown address %q", addr)
		}
		return lis.DialContext(ctx)
	}
	nodes := make([]*Node, size)
	for rank := range size {
		node, err := Start(Config{
			Rank:        rank,
			Addresses:   addresses,
			DialOptions: []grpc.DialOption{grpc.WithContextDialer(dialer)},
		}, listeners[fmt.Sprintf("rank-%d", rank)])
		require.NoError(t, err)
		nodes[rank] = node
	}
	t.Cleanup(func() {
		for _, node := range nodes {
			assert.NoError(t, node.Close())
		}
	})
	return nodes
}

func TestCodec(t *testing.T) {
	codec := rawCodec{}
	buf, err := codec.Marshal(&envelope{Source: 3, Tag: transport.TagUser + 7, Data: []byte("payload")})
	require.NoError(t, err)
	var got envelope
	require.NoError(t, codec.Unmarshal(buf, &got))
	assert.Equal(t, envelope{Source: 3, Tag: transport.TagUser + 7, Data: []byte("payload")}, got)

	require.Error(t, codec.Unmarshal([]byte{1, 2}, &got))
	_, err = codec.Marshal("not an envelope")
	require.Error(t, err)
}

func TestStartErrors(t *testing.T) {
	_, err := Start(Config{Rank: 2, Addresses: []string{"a", "b"}}, bufconn.Listen(bufSize))
	require.Error(t, err)
}

func TestGroup(t *testing.T) {
	const size = 3
	nodes := startGroup(t, size)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results := make([]string, size)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, node := range nodes {
		eg.Go(func() error {
			if err := node.WaitPeers(egCtx); err != nil {
				return err
			}
			if err := node.Barrier(egCtx); err != nil {
				return err
			}
			var data []byte
			if node.Rank() == 0 {
				data = []byte("camera")
			}
			got, err := node.Broadcast(egCtx, 0, data)
			if err != nil {
				return err
			}
			results[node.Rank()] = string(got)

			// Ordered point-to-point messages to the next rank, and one to itself.
			next := (node.Rank() + 1) % size
			for ii := range 5 {
				if err := node.Send(egCtx, next, transport.TagUser, []byte{byte(ii)}); err != nil {
					return err
				}
			}
			if err := node.Send(egCtx, node.Rank(), transport.TagUser+1, []byte("self")); err != nil {
				return err
			}
			prev := (node.Rank() + size - 1) % size
			for ii := range 5 {
				msg, err := node.Receive(egCtx, transport.AnySource, transport.TagUser)
				if err != nil {
					return err
				}
				assert.Equal(t, prev, msg.Source)
				assert.Equal(t, []byte{byte(ii)}, msg.Data)
			}
			msg, err := node.Receive(egCtx, node.Rank(), transport.TagUser+1)
			if err != nil {
				return err
			}
			assert.Equal(t, "self", string(msg.Data))
			return node.Barrier(egCtx)
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, []string{"camera", "camera", "camera"}, results)
}

func TestControllerOverGRPC(t *testing.T) {
	nodes := startGroup(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var got []string
	worker := transport.NewController(nodes[1])
	require.NoError(t, worker.AddTrigger(1, func(_ context.Context, trigger transport.Trigger) error {
		got = append(got, string(trigger.Arg))
		return nil
	}))
	serveDone := make(chan error, 1)
	go func() { serveDone <- worker.Serve(ctx, 0) }()

	leader := transport.NewController(nodes[0])
	require.NoError(t, leader.Trigger(ctx, 1, 1, []byte("x")))
	require.NoError(t, leader.Trigger(ctx, 1, 1, []byte("y")))
	require.NoError(t, leader.BroadcastStop(ctx))
	require.NoError(t, <-serveDone)
	assert.Equal(t, []string{"x", "y"}, got)
}

func TestReceiveAfterClose(t *testing.T) {
	nodes := startGroup(t, 2)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = nodes[1].Close()
	}()
	_, err := nodes[1].Receive(context.Background(), 0, transport.TagUser)
	require.ErrorIs(t, err, transport.ErrClosed)
}
