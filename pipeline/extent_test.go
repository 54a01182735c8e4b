// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"testing"

	"github.com/gomlx/vizflow/resident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitExtent(t *testing.T) {
	whole := resident.Extent{0, 10, 0, 4, 0, 2}

	// Single piece is the whole extent.
	assert.Equal(t, whole, SplitExtent(whole, 0, 1))

	// Two pieces split the largest axis (x), sharing the plane x=5.
	assert.Equal(t, resident.Extent{0, 5, 0, 4, 0, 2}, SplitExtent(whole, 0, 2))
	assert.Equal(t, resident.Extent{5, 10, 0, 4, 0, 2}, SplitExtent(whole, 1, 2))

	// Out of range pieces are empty.
	assert.True(t, SplitExtent(whole, 2, 2).IsEmpty())
	assert.True(t, SplitExtent(whole, -1, 2).IsEmpty())
	assert.True(t, SplitExtent(resident.EmptyExtent, 0, 1).IsEmpty())

	// Cells are partitioned: the sum of the cells of the pieces is the number of cells of the whole.
	for _, numPieces := range []int{1, 2, 3, 4, 5, 7, 16} {
		totalCells := 0
		for piece := range numPieces {
			ext := SplitExtent(whole, piece, numPieces)
			if ext.IsEmpty() {
				continue
			}
			require.True(t, whole.Contains(ext), "piece %d/%d: %s not inside %s", piece, numPieces, ext, whole)
			totalCells += ext.NumCells()
		}
		assert.Equal(t, whole.NumCells(), totalCells, "numPieces=%d", numPieces)
	}

	// A single point can't be split: only the first piece gets it.
	point := resident.Extent{3, 3, 3, 3, 3, 3}
	assert.Equal(t, point, SplitExtent(point, 0, 3))
	assert.True(t, SplitExtent(point, 1, 3).IsEmpty())
}

func TestGhostExtent(t *testing.T) {
	whole := resident.Extent{0, 10, 0, 4, 0, 0}
	ext := resident.Extent{5, 10, 0, 4, 0, 0}
	assert.Equal(t, ext, GhostExtent(ext, whole, 0))
	assert.Equal(t, resident.Extent{4, 10, 0, 4, 0, 0}, GhostExtent(ext, whole, 1))
	assert.Equal(t, resident.Extent{0, 10, 0, 4, 0, 0}, GhostExtent(ext, whole, 20))
	assert.True(t, GhostExtent(resident.EmptyExtent, whole, 1).IsEmpty())

	extent, owned := PieceExtent(whole, Piece{Index: 1, NumPieces: 2, GhostLevel: 1})
	assert.Equal(t, ext, owned)
	assert.Equal(t, resident.Extent{4, 10, 0, 4, 0, 0}, extent)
}

func TestPiece(t *testing.T) {
	require.NoError(t, WholePiece.Validate())
	require.NoError(t, Piece{Index: 2, NumPieces: 3, GhostLevel: 1}.Validate())
	require.Error(t, Piece{Index: 3, NumPieces: 3}.Validate())
	require.Error(t, Piece{Index: 0, NumPieces: 0}.Validate())
	require.Error(t, Piece{Index: 0, NumPieces: 1, GhostLevel: -1}.Validate())

	p := Piece{Index: 1, NumPieces: 4, GhostLevel: 1}
	assert.True(t, p.covers(Piece{Index: 1, NumPieces: 4}))
	assert.False(t, p.covers(Piece{Index: 1, NumPieces: 4, GhostLevel: 2}))
	assert.False(t, p.covers(Piece{Index: 2, NumPieces: 4, GhostLevel: 1}))
}
