// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package grpcnet

import (
	"encoding/binary"
	"slices"

	"github.com/gomlx/vizflow/transport"
	"github.com/pkg/errors"
	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype of the messages of the mailbox service.
const codecName = "vizflow-raw"

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// envelope is the request of the Deliver method: a message addressed to the receiving rank.
type envelope struct {
	Source int32
	Tag    transport.Tag
	Data   []byte
}

// ack is the (empty) response of the Deliver method.
type ack struct{}

const envelopeHeaderSize = 8

// rawCodec serializes envelopes as a little-endian header (source, tag) followed by the raw payload.
type rawCodec struct{}

// Name implements encoding.Codec.
func (rawCodec) Name() string { return codecName }

// Marshal implements encoding.Codec.
func (rawCodec) Marshal(v any) ([]byte, error) {
	switch msg := v.(type) {
	case *envelope:
		buf := make([]byte, envelopeHeaderSize+len(msg.Data))
		binary.LittleEndian.PutUint32(buf[0:4], uint32(msg.Source))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(msg.Tag))
		copy(buf[envelopeHeaderSize:], msg.Data)
		return buf, nil
	case *ack:
		return nil, nil
	}
	return nil, errors.Errorf("grpcnet codec can't marshal %T", v)
}

// Unmarshal implements encoding.Codec.
func (rawCodec) Unmarshal(data []byte, v any) error {
	switch msg := v.(type) {
	case *envelope:
		if len(data) < envelopeHeaderSize {
			return errors.Errorf("grpcnet envelope with %d bytes, header alone needs %d", len(data), envelopeHeaderSize)
		}
		msg.Source = int32(binary.LittleEndian.Uint32(data[0:4]))
		msg.Tag = transport.Tag(int32(binary.LittleEndian.Uint32(data[4:8])))
		if len(data) > envelopeHeaderSize {
			msg.Data = slices.Clone(data[envelopeHeaderSize:])
		}
		return nil
	case *ack:
		return nil
	}
	return errors.Errorf("grpcnet codec can't unmarshal into %T", v)
}
