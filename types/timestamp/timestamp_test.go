// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package timestamp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStamp(t *testing.T) {
	var s Stamp
	require.Equal(t, Time(0), s.Time())
	s.Modified()
	first := s.Time()
	require.Greater(t, first, Time(0))
	other := Next()
	require.Greater(t, other, first)
	s.Modified()
	require.Greater(t, s.Time(), other)
}
