// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package grpcnet implements transport.Communicator for a group of processes connected with gRPC.
//
// Every rank runs a gRPC server with a mailbox service and a standard health service,
// and keeps one client connection to each of the other ranks.
// Send is a unary call that returns once the message is in the destination mailbox,
// so messages between two ranks are received in the order they were sent.
package grpcnet

import (
	"context"
	"net"
	"sync"

	"github.com/gomlx/vizflow/transport"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthPb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// Config of a Node.
type Config struct {
	// Rank of the node in the group.
	Rank int

	// Addresses is the gRPC target of every rank of the group, indexed by rank.
	// The entry of the node's own rank is not used.
	Addresses []string

	// DialOptions are appended to the default ones (insecure transport credentials).
	DialOptions []grpc.DialOption

	// ServerOptions are used to create the node's gRPC server.
	ServerOptions []grpc.ServerOption
}

// Node is the transport.Communicator of one rank.
type Node struct {
	rank    int
	size    int
	mailbox *transport.Mailbox
	server  *grpc.Server
	health  *health.Server
	conns   []*grpc.ClientConn

	serveDone chan error
	closeOnce sync.Once
	closeErr  error
}

var (
	_ transport.Communicator = (*Node)(nil)
	_ mailboxServer          = (*Node)(nil)
)

// Start serves the node on lis and creates the client connections to its peers.
// Connections are established lazily: use WaitPeers to wait for every rank to be serving.
func Start(cfg Config, lis net.Listener) (*Node, error) {
	size := len(cfg.Addresses)
	if cfg.Rank < 0 || cfg.Rank >= size {
		return nil, errors.Errorf("invalid rank %d for a group of %d addresses", cfg.Rank, size)
	}
	n := &Node{
		rank:      cfg.Rank,
		size:      size,
		mailbox:   transport.NewMailbox(),
		server:    grpc.NewServer(cfg.ServerOptions...),
		health:    health.NewServer(),
		conns:     make([]*grpc.ClientConn, size),
		serveDone: make(chan error, 1),
	}
	dialOptions := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, cfg.DialOptions...)
	for rank, address := range cfg.Addresses {
		if rank == cfg.Rank {
			continue
		}
		conn, err := grpc.NewClient(address, dialOptions...)
		if err != nil {
			n.closeConns()
			return nil, errors.Wrapf(err, "rank %d connecting to rank %d at %q", cfg.Rank, rank, address)
		}
		n.conns[rank] = conn
	}

	n.server.RegisterService(&mailboxServiceDesc, n)
	healthPb.RegisterHealthServer(n.server, n.health)
	n.health.SetServingStatus(serviceName, healthPb.HealthCheckResponse_SERVING)
	go func() {
		n.serveDone <- n.server.Serve(lis)
	}()
	klog.V(1).Infof("grpcnet: rank %d of %d serving on %s", n.rank, n.size, lis.Addr())
	return n, nil
}

// Rank implements transport.PointToPoint.
func (n *Node) Rank() int { return n.rank }

// Size implements transport.PointToPoint.
func (n *Node) Size() int { return n.size }

// deliver implements mailboxServer.
func (n *Node) deliver(_ context.Context, in *envelope) (*ack, error) {
	source := int(in.Source)
	if source < 0 || source >= n.size || source == n.rank {
		return nil, status.Errorf(codes.InvalidArgument, "message from invalid rank %d", source)
	}
	msg := transport.Message{Source: source, Tag: in.Tag, Data: in.Data}
	if err := n.mailbox.Put(msg); err != nil {
		return nil, status.Errorf(codes.Unavailable, "rank %d: %v", n.rank, err)
	}
	return &ack{}, nil
}

// Send implements transport.PointToPoint. It blocks until the message is delivered to the dst mailbox,
// waiting for dst to be ready if needed.
func (n *Node) Send(ctx context.Context, dst int, tag transport.Tag, data []byte) error {
	if err := transport.CheckRank(n, dst, false); err != nil {
		return err
	}
	if dst == n.rank {
		err := n.mailbox.Put(transport.Message{Source: n.rank, Tag: tag, Data: data})
		return errors.Wrapf(err, "rank %d sending %s to itself", n.rank, tag)
	}
	in := &envelope{Source: int32(n.rank), Tag: tag, Data: data}
	err := n.conns[dst].Invoke(ctx, deliverMethod, in, &ack{},
		grpc.CallContentSubtype(codecName), grpc.WaitForReady(true))
	if err != nil {
		return errors.Wrapf(err, "rank %d sending %s to rank %d", n.rank, tag, dst)
	}
	return nil
}

// Receive implements transport.PointToPoint.
func (n *Node) Receive(ctx context.Context, src int, tag transport.Tag) (transport.Message, error) {
	if err := transport.CheckRank(n, src, true); err != nil {
		return transport.Message{}, err
	}
	msg, err := n.mailbox.Take(ctx, src, tag)
	if err != nil {
		return msg, errors.WithMessagef(err, "rank %d", n.rank)
	}
	return msg, nil
}

// Broadcast implements transport.Communicator.
func (n *Node) Broadcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	return transport.LinearBroadcast(ctx, n, root, data)
}

// Barrier implements transport.Communicator.
func (n *Node) Barrier(ctx context.Context) error {
	return transport.GatherBarrier(ctx, n)
}

// WaitPeers blocks until the health service of every other rank reports the mailbox as serving.
func (n *Node) WaitPeers(ctx context.Context) error {
	for rank, conn := range n.conns {
		if conn == nil {
			continue
		}
		resp, err := healthPb.NewHealthClient(conn).Check(ctx,
			&healthPb.HealthCheckRequest{Service: serviceName}, grpc.WaitForReady(true))
		if err != nil {
			return errors.Wrapf(err, "rank %d checking health of rank %d", n.rank, rank)
		}
		if resp.GetStatus() != healthPb.HealthCheckResponse_SERVING {
			return errors.Errorf("rank %d is %s", rank, resp.GetStatus())
		}
	}
	klog.V(1).Infof("grpcnet: rank %d sees all %d peers serving", n.rank, n.size-1)
	return nil
}

func (n *Node) closeConns() {
	for rank, conn := range n.conns {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil {
			klog.Warningf("grpcnet: rank %d closing connection to rank %d: %v", n.rank, rank, err)
		}
		n.conns[rank] = nil
	}
}

// Close marks the node as not serving, stops its server and closes the connections to its peers.
// Pending Receive calls return transport.ErrClosed. It can be called more than once.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.health.Shutdown()
		n.mailbox.Close()
		n.server.GracefulStop()
		n.closeConns()
		if err := <-n.serveDone; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			n.closeErr = errors.Wrapf(err, "rank %d serving", n.rank)
		}
	})
	return n.closeErr
}
