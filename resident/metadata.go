// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resident

// Metadata of a resident Object, kept in host memory so it can be queried without touching the payload.
type Metadata struct {
	// Bounds of the points of the payload.
	Bounds Bounds

	// Origin and Spacing of structured grids: point (i,j,k) is at Origin + (i,j,k)*Spacing.
	Origin, Spacing [3]float64

	// Extent of the structured grid stored, including ghost points.
	Extent Extent

	// WholeExtent of the full (all pieces) structured grid.
	WholeExtent Extent

	// OwnedExtent is the Extent without ghost points: the part of the grid this piece is responsible for.
	OwnedExtent Extent

	// GhostLevel is the number of layers of ghost points around OwnedExtent included in Extent.
	GhostLevel int

	// ScalarName is the name of the active scalar field.
	ScalarName string

	// NumComponents of the active scalar field: 1 for plain scalars.
	NumComponents int

	// ScalarRange is the minimum and maximum value of the active scalar field (of the first component).
	ScalarRange [2]float64

	// NumPoints stored in the payload. For triangle sets it's 3 times NumTriangles.
	NumPoints int

	// NumTriangles stored in the payload, only for KindTriangleSet.
	NumTriangles int
}

// EmptyMetadata returns the metadata of an empty object.
func EmptyMetadata() Metadata {
	return Metadata{
		Bounds:      EmptyBounds,
		Spacing:     [3]float64{1, 1, 1},
		Extent:      EmptyExtent,
		WholeExtent: EmptyExtent,
		OwnedExtent: EmptyExtent,
	}
}

// PassBoundsForward returns the metadata of an output that has the same spatial extent as the input:
// bounds, origin, spacing, extents and ghost level are copied from the input; the scalar information
// and counts are taken from out.
//
// It's the default for stages that don't alter geometry (e.g. threshold, sort). Stages that change
// geometry (e.g. contour, slice) must recompute the bounds instead.
func PassBoundsForward(in Metadata, out Metadata) Metadata {
	out.Bounds = in.Bounds
	out.Origin = in.Origin
	out.Spacing = in.Spacing
	out.Extent = in.Extent
	out.WholeExtent = in.WholeExtent
	out.OwnedExtent = in.OwnedExtent
	out.GhostLevel = in.GhostLevel
	return out
}
