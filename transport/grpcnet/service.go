// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package grpcnet

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName   = "vizflow.transport.Mailbox"
	deliverMethod = "/" + serviceName + "/Deliver"
)

// mailboxServer is implemented by Node: it receives the messages sent by the other ranks.
type mailboxServer interface {
	deliver(ctx context.Context, in *envelope) (*ack, error)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(mailboxServer).deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(mailboxServer).deliver(ctx, req.(*envelope))
	}
	return interceptor(ctx, in, info, handler)
}

// mailboxServiceDesc describes the mailbox service, whose messages are serialized by rawCodec.
var mailboxServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*mailboxServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "transport/grpcnet",
}
