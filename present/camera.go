// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package present

import (
	"fmt"
	"math"

	"github.com/gomlx/vizflow/resident"
)

// Camera is an orthographic camera looking from Position towards FocalPoint.
type Camera struct {
	Position, FocalPoint, ViewUp [3]float64

	// ParallelScale is half the height of the viewport, in world units.
	ParallelScale float64

	// Near and Far are the distances from Position of the clipping planes: depth 0 is at Near and 1 at Far.
	Near, Far float64
}

// NewCamera returns a camera looking down the -z axis at the origin.
func NewCamera() Camera {
	return Camera{
		Position:      [3]float64{0, 0, 1},
		ViewUp:        [3]float64{0, 1, 0},
		ParallelScale: 1,
		Near:          0.01,
		Far:           1000,
	}
}

// String implements fmt.Stringer.
func (c Camera) String() string {
	return fmt.Sprintf("Camera(position=%v, focal=%v, up=%v, scale=%g, clip=[%g, %g])",
		c.Position, c.FocalPoint, c.ViewUp, c.ParallelScale, c.Near, c.Far)
}

// ResetCamera keeps the view direction and up vector, and moves the camera so the bounds fill the view.
func (c *Camera) ResetCamera(bounds resident.Bounds) {
	if bounds.IsEmpty() {
		return
	}
	radius := bounds.Diagonal() / 2
	if radius == 0 {
		radius = 0.5
	}
	direction := sub(c.Position, c.FocalPoint)
	if norm(direction) == 0 {
		direction = [3]float64{0, 0, 1}
	}
	direction = normalize(direction)
	center := bounds.Center()
	distance := 3 * radius
	c.FocalPoint = center
	for axis := range 3 {
		c.Position[axis] = center[axis] + distance*direction[axis]
	}
	c.ParallelScale = radius
	c.Near = distance - 1.01*radius
	c.Far = distance + 1.01*radius
}

// projection maps world coordinates to pixel coordinates and normalized depth, for a viewport of
// width x height pixels. Pixel rows go from the bottom (0) to the top.
type projection struct {
	eye, u, v, w [3]float32
	pixelsPerUnit  float32
	halfW, halfH   float32
	near, invDepth float32
}

func (c Camera) projection(width, height int) projection {
	w := normalize(sub(c.Position, c.FocalPoint))
	u := normalize(cross(c.ViewUp, w))
	v := cross(w, u)
	scale := c.ParallelScale
	if scale <= 0 {
		scale = 1
	}
	depthRange := c.Far - c.Near
	if depthRange <= 0 {
		depthRange = 1
	}
	return projection{
		eye:           to32(c.Position),
		u:             to32(u),
		v:             to32(v),
		w:             to32(w),
		pixelsPerUnit: float32(float64(height) / (2 * scale)),
		halfW:         float32(width) / 2,
		halfH:         float32(height) / 2,
		near:          float32(c.Near),
		invDepth:      float32(1 / depthRange),
	}
}

// project returns the pixel coordinates and the normalized depth of the point.
func (p *projection) project(x, y, z float32) (px, py, depth float32) {
	rx, ry, rz := x-p.eye[0], y-p.eye[1], z-p.eye[2]
	xc := rx*p.u[0] + ry*p.u[1] + rz*p.u[2]
	yc := rx*p.v[0] + ry*p.v[1] + rz*p.v[2]
	dist := -(rx*p.w[0] + ry*p.w[1] + rz*p.w[2])
	return xc*p.pixelsPerUnit + p.halfW, yc*p.pixelsPerUnit + p.halfH, (dist - p.near) * p.invDepth
}

func sub(a, b [3]float64) [3]float64 { return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}

func norm(a [3]float64) float64 { return math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2]) }

func normalize(a [3]float64) [3]float64 {
	n := norm(a)
	if n == 0 {
		return a
	}
	return [3]float64{a[0] / n, a[1] / n, a[2] / n}
}

func to32(a [3]float64) [3]float32 { return [3]float32{float32(a[0]), float32(a[1]), float32(a[2])} }
