// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package present

import "math"

// rowBand is the number of rows rasterized per chunk.
const rowBand = 16

// ColorFunc maps a scalar value to an RGBA color.
type ColorFunc func(value float32) [4]uint8

// GrayRamp returns a ColorFunc mapping [lo, hi] linearly from black to white, clamping values outside.
// If the range is empty, everything is white.
func GrayRamp(lo, hi float64) ColorFunc {
	lo32, scale := float32(lo), float32(0)
	if hi > lo {
		scale = float32(255 / (hi - lo))
	}
	return func(value float32) [4]uint8 {
		gray := float32(255)
		if scale > 0 {
			gray = min(max((value-lo32)*scale, 0), 255)
		}
		g := uint8(gray + 0.5)
		if gray >= 255 {
			g = 255
		}
		return [4]uint8{g, g, g, 255}
	}
}

// target is the memory rasterized into: it is either a host framebuffer or a device buffer shared with
// the display.
type target struct {
	width, height int
	color         []uint8
	depth         []float32
}

func (t target) clearRows(rowStart, rowEnd int, background [4]uint8) {
	for pixel := rowStart * t.width; pixel < rowEnd*t.width; pixel++ {
		copy(t.color[4*pixel:4*pixel+4], background[:])
		t.depth[pixel] = BackgroundDepth
	}
}

// plot writes the fragment if it's nearer than what's already there. Fragments at the same depth keep
// the first one drawn.
func (t target) plot(x, y int, depth float32, color [4]uint8) {
	pixel := y*t.width + x
	if depth < t.depth[pixel] {
		t.depth[pixel] = depth
		copy(t.color[4*pixel:4*pixel+4], color[:])
	}
}

// edge function: twice the signed area of (a, b, p).
func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

// drawTriangles rasterizes the triangles (9 coordinates and 3 scalars each), restricted to rows
// [rowStart, rowEnd). Triangles are drawn in order, so the result only depends on the band, not on
// which goroutine draws it.
func (t target) drawTriangles(rowStart, rowEnd int, proj *projection, points, scalars []float32, colorFn ColorFunc) {
	numTriangles := len(scalars) / 3
	var sx, sy, sz [3]float32
	for tri := range numTriangles {
		for v := range 3 {
			p := points[9*tri+3*v : 9*tri+3*v+3]
			sx[v], sy[v], sz[v] = proj.project(p[0], p[1], p[2])
		}
		area := edge(sx[0], sy[0], sx[1], sy[1], sx[2], sy[2])
		if area == 0 || math.IsNaN(float64(area)) {
			continue
		}
		x0 := max(int(math.Floor(float64(min(sx[0], sx[1], sx[2])))), 0)
		x1 := min(int(math.Ceil(float64(max(sx[0], sx[1], sx[2])))), t.width-1)
		y0 := max(int(math.Floor(float64(min(sy[0], sy[1], sy[2])))), rowStart)
		y1 := min(int(math.Ceil(float64(max(sy[0], sy[1], sy[2])))), rowEnd-1)
		s := scalars[3*tri : 3*tri+3]
		for y := y0; y <= y1; y++ {
			py := float32(y) + 0.5
			for x := x0; x <= x1; x++ {
				px := float32(x) + 0.5
				w0 := edge(sx[1], sy[1], sx[2], sy[2], px, py) / area
				w1 := edge(sx[2], sy[2], sx[0], sy[0], px, py) / area
				w2 := edge(sx[0], sy[0], sx[1], sy[1], px, py) / area
				if w0 < 0 || w1 < 0 || w2 < 0 {
					continue
				}
				depth := w0*sz[0] + w1*sz[1] + w2*sz[2]
				if depth < 0 || depth > 1 {
					continue
				}
				t.plot(x, y, depth, colorFn(w0*s[0]+w1*s[1]+w2*s[2]))
			}
		}
	}
}

// drawPoints rasterizes each point (3 coordinates, numComponents scalars) as a single pixel, restricted to
// rows [rowStart, rowEnd).
func (t target) drawPoints(rowStart, rowEnd int, proj *projection, points, scalars []float32, numComponents int, colorFn ColorFunc) {
	numPoints := len(points) / 3
	for ii := range numPoints {
		fx, fy, depth := proj.project(points[3*ii], points[3*ii+1], points[3*ii+2])
		if depth < 0 || depth > 1 || fx < 0 || fy < 0 {
			continue
		}
		x, y := int(fx), int(fy)
		if x >= t.width || y < rowStart || y >= rowEnd {
			continue
		}
		t.plot(x, y, depth, colorFn(scalars[ii*numComponents]))
	}
}
