// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pipeline

import "github.com/gomlx/vizflow/resident"

// SplitExtent returns the extent of piece out of numPieces of whole.
//
// The whole extent is recursively halved along its largest axis (in number of cells). Adjacent pieces
// share the plane of points on their common boundary, but no cells: each cell belongs to exactly one piece.
// If the extent can't be split enough, the extra pieces are empty.
func SplitExtent(whole resident.Extent, piece, numPieces int) resident.Extent {
	if whole.IsEmpty() || piece < 0 || piece >= numPieces {
		return resident.EmptyExtent
	}
	ext := whole
	for numPieces > 1 {
		splitAxis, size := -1, 0
		for axis := range 3 {
			if s := ext[2*axis+1] - ext[2*axis]; s > size {
				splitAxis, size = axis, s
			}
		}
		if splitAxis < 0 {
			// Nothing left to split: only the first piece gets the data.
			if piece == 0 {
				return ext
			}
			return resident.EmptyExtent
		}
		numInFirstHalf := numPieces / 2
		mid := size*numInFirstHalf/numPieces + ext[2*splitAxis]
		if piece < numInFirstHalf {
			ext[2*splitAxis+1] = mid
			numPieces = numInFirstHalf
		} else {
			ext[2*splitAxis] = mid
			numPieces -= numInFirstHalf
			piece -= numInFirstHalf
		}
	}
	return ext
}

// GhostExtent grows ext by ghostLevel points in every direction, clamped to whole.
func GhostExtent(ext, whole resident.Extent, ghostLevel int) resident.Extent {
	if ext.IsEmpty() || ghostLevel <= 0 {
		return ext
	}
	for axis := range 3 {
		ext[2*axis] = max(ext[2*axis]-ghostLevel, whole[2*axis])
		ext[2*axis+1] = min(ext[2*axis+1]+ghostLevel, whole[2*axis+1])
	}
	return ext
}

// PieceExtent returns the extent (including ghosts) and the owned extent (without ghosts) of the piece.
func PieceExtent(whole resident.Extent, piece Piece) (extent, owned resident.Extent) {
	owned = SplitExtent(whole, piece.Index, piece.NumPieces)
	return GhostExtent(owned, whole, piece.GhostLevel), owned
}
