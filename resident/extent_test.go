// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resident

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtent(t *testing.T) {
	e := Extent{0, 4, 0, 2, 0, 0}
	assert.False(t, e.IsEmpty())
	assert.Equal(t, [3]int{5, 3, 1}, e.Dims())
	assert.Equal(t, 15, e.NumPoints())
	assert.Equal(t, 8, e.NumCells())
	assert.True(t, e.Contains(Extent{1, 2, 0, 1, 0, 0}))
	assert.False(t, e.Contains(Extent{1, 5, 0, 1, 0, 0}))
	assert.True(t, EmptyExtent.IsEmpty())
	assert.Equal(t, 0, EmptyExtent.NumPoints())
	assert.Equal(t, 0, EmptyExtent.NumCells())
}

func TestBounds(t *testing.T) {
	assert.True(t, EmptyBounds.IsEmpty())
	b := EmptyBounds.Merge(Bounds{0, 1, 0, 2, 0, 2})
	assert.Equal(t, Bounds{0, 1, 0, 2, 0, 2}, b)
	assert.Equal(t, [3]float64{0.5, 1, 1}, b.Center())
	assert.InDelta(t, 3.0, b.Diagonal(), 1e-12)

	sb := StructuredBounds(Extent{0, 4, 0, 2, 1, 1}, [3]float64{-1, 0, 0}, [3]float64{0.5, 1, 2})
	assert.Equal(t, Bounds{-1, 1, 0, 2, 2, 2}, sb)
}
