// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	require.False(t, l.Test())
	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()
	l.Trigger()
	l.Trigger() // Second trigger is a no-op.
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Latch.Wait() didn't return after Trigger()")
	}
	require.True(t, l.Test())
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	c := b.C()
	select {
	case <-c:
		t.Fatal("channel closed before Broadcast()")
	default:
	}
	b.Broadcast()
	select {
	case <-c:
	case <-time.After(time.Second):
		t.Fatal("channel not closed by Broadcast()")
	}
	// Re-armed.
	select {
	case <-b.C():
		t.Fatal("Broadcaster not re-armed")
	default:
	}
}
