// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package timestamp provides process-wide monotonically increasing modification times.
//
// Pipeline stages and resident handles record the Time of their last modification, and the executive
// compares them to decide whether a stage needs to execute again.
package timestamp

import "sync/atomic"

// Time is a modification time. Larger values are more recent. The zero value means "never modified".
type Time uint64

var counter atomic.Uint64

// Next returns a new Time, strictly larger than any other returned before.
func Next() Time {
	return Time(counter.Add(1))
}

// Stamp holds a modification Time that can be updated with Modified.
// The zero value is ready to use, and reports Time 0.
type Stamp struct {
	t atomic.Uint64
}

// Modified updates the stamp to a new Time.
func (s *Stamp) Modified() {
	s.t.Store(uint64(Next()))
}

// Time of the last call to Modified.
func (s *Stamp) Time() Time {
	return Time(s.t.Load())
}
