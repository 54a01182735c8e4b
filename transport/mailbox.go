// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"

	"github.com/gomlx/vizflow/types/xsync"
	"github.com/pkg/errors"
)

// Mailbox is the FIFO of messages received by a rank, used by the implementations of PointToPoint.
//
// Put never blocks. Take returns the oldest message matching a source and tag.
type Mailbox struct {
	mu      sync.Mutex
	queue   []Message
	arrived *xsync.Broadcaster
	closed  *xsync.Latch
}

// NewMailbox creates an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		arrived: xsync.NewBroadcaster(),
		closed:  xsync.NewLatch(),
	}
}

// Put appends msg to the mailbox and wakes up the waiting Take calls.
func (m *Mailbox) Put(msg Message) error {
	if m.closed.Test() {
		return ErrClosed
	}
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	m.arrived.Broadcast()
	return nil
}

// Len returns the number of messages waiting.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close the mailbox: Take calls that can't be matched return ErrClosed, and Put fails.
func (m *Mailbox) Close() {
	m.closed.Trigger()
}

func (m *Mailbox) find(src int, tag Tag) (*Message, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ii, msg := range m.queue {
		if msg.Tag != tag || (src != AnySource && msg.Source != src) {
			continue
		}
		m.queue = append(m.queue[:ii], m.queue[ii+1:]...)
		return &msg, nil
	}
	return nil, m.arrived.C()
}

// Take blocks until a message from src (or anyone, if src is AnySource) with the tag is available,
// removes it from the mailbox and returns it.
func (m *Mailbox) Take(ctx context.Context, src int, tag Tag) (Message, error) {
	for {
		msg, arrived := m.find(src, tag)
		if msg != nil {
			return *msg, nil
		}
		select {
		case <-arrived:
		case <-ctx.Done():
			return Message{}, errors.Wrapf(ctx.Err(), "waiting for %s from rank %d", tag, src)
		case <-m.closed.WaitChan():
			return Message{}, errors.Wrapf(ErrClosed, "waiting for %s from rank %d", tag, src)
		}
	}
}
