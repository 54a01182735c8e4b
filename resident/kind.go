// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resident

import "fmt"

// Kind tags the concrete payload a Handle represents.
type Kind int

const (
	// KindNone is the kind of empty objects.
	KindNone Kind = iota

	// KindStructuredGrid is a regular grid of points: only ArrayScalars is stored, the point positions are
	// implicit from the Metadata (Origin, Spacing and Extent), with x varying fastest.
	KindStructuredGrid

	// KindPointSet is an unstructured set of points: ArrayPoints holds 3 float32 per point, and ArrayScalars
	// holds NumComponents float32 per point.
	KindPointSet

	// KindTriangleSet is a set of independent triangles: ArrayPoints holds 9 float32 per triangle (3 vertices)
	// and ArrayScalars holds one float32 per emitted vertex.
	KindTriangleSet
)

var kindNames = []string{"None", "StructuredGrid", "PointSet", "TriangleSet"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Names of the device arrays of a payload.
const (
	ArrayPoints  = "points"
	ArrayScalars = "scalars"
)

// RequiredArrays returns the arrays a payload of the given kind must have.
func (k Kind) RequiredArrays() []string {
	switch k {
	case KindStructuredGrid:
		return []string{ArrayScalars}
	case KindPointSet, KindTriangleSet:
		return []string{ArrayPoints, ArrayScalars}
	default:
		return nil
	}
}
