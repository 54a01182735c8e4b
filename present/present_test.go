// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package present

import (
	"context"
	"testing"

	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/devices/interop"
	"github.com/gomlx/vizflow/devices/simdevice"
	"github.com/gomlx/vizflow/filters"
	"github.com/gomlx/vizflow/pipeline"
	"github.com/gomlx/vizflow/resident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func newDevice(t *testing.T, config string) devices.Device {
	d, err := simdevice.New(config)
	require.NoError(t, err)
	t.Cleanup(d.Finalize)
	return d
}

func TestCamera(t *testing.T) {
	c := NewCamera()
	bounds := resident.Bounds{0, 2, 0, 2, 0, 2}
	c.ResetCamera(bounds)
	assert.Equal(t, [3]float64{1, 1, 1}, c.FocalPoint)
	assert.Greater(t, c.Position[2], 2.0)
	assert.InDelta(t, bounds.Diagonal()/2, c.ParallelScale, 1e-9)

	proj := c.projection(100, 50)
	x, y, depth := proj.project(1, 1, 1)
	assert.InDelta(t, 50, x, 1e-4)
	assert.InDelta(t, 25, y, 1e-4)
	assert.InDelta(t, 0.5, depth, 1e-4)

	// Points nearer to the camera have smaller depth.
	_, _, nearDepth := proj.project(1, 1, 2)
	_, _, farDepth := proj.project(1, 1, 0)
	assert.Less(t, nearDepth, depth)
	assert.Greater(t, farDepth, depth)
	assert.GreaterOrEqual(t, nearDepth, float32(0))
	assert.LessOrEqual(t, farDepth, float32(1))

	// Up is +y on screen, right is +x.
	_, yUp, _ := proj.project(1, 2, 1)
	xRight, _, _ := proj.project(2, 1, 1)
	assert.Greater(t, yUp, y)
	assert.Greater(t, xRight, x)

	// Empty bounds leave the camera untouched.
	before := c
	c.ResetCamera(resident.EmptyBounds)
	assert.Equal(t, before, c)
}

func TestGrayRamp(t *testing.T) {
	ramp := GrayRamp(10, 20)
	assert.Equal(t, [4]uint8{0, 0, 0, 255}, ramp(10))
	assert.Equal(t, [4]uint8{0, 0, 0, 255}, ramp(-5))
	assert.Equal(t, [4]uint8{255, 255, 255, 255}, ramp(20))
	assert.Equal(t, [4]uint8{255, 255, 255, 255}, ramp(100))
	assert.Equal(t, [4]uint8{128, 128, 128, 255}, ramp(15))
	assert.Equal(t, [4]uint8{255, 255, 255, 255}, GrayRamp(1, 1)(0))
}

func TestFramebuffer(t *testing.T) {
	fb := NewFramebuffer(3, 2)
	require.NoError(t, fb.Validate())
	assert.Zero(t, fb.CoveredPixels())
	fb.Clear([4]uint8{1, 2, 3, 4})
	fb.target().plot(0, 0, 0.5, [4]uint8{9, 9, 9, 9})
	assert.Equal(t, 1, fb.CoveredPixels())

	// Farther or equal depth doesn't overwrite.
	fb.target().plot(0, 0, 0.5, [4]uint8{7, 7, 7, 7})
	fb.target().plot(0, 0, 0.7, [4]uint8{7, 7, 7, 7})
	assert.Equal(t, []uint8{9, 9, 9, 9}, fb.Color[0:4])

	// Row 0 is the bottom of the image.
	img := fb.Image()
	assert.Equal(t, []uint8{9, 9, 9, 9}, img.Pix[img.Stride:img.Stride+4])
	assert.Equal(t, []uint8{1, 2, 3, 4}, img.Pix[0:4])

	clone := fb.Clone()
	assert.True(t, clone.Equal(fb))
	clone.Depth[1] = 0
	assert.False(t, clone.Equal(fb))

	require.Error(t, (&Framebuffer{Width: 2, Height: 2}).Validate())
}

// squares returns a polygon source with two overlapping squares: a white one at z=1 and a black one at z=0.
func squares(t *testing.T, d devices.Device, nearFirst bool) *filters.PolygonSource {
	src := filters.NewPolygonSource(d, "squares")
	near := []float32{-1, -1, 1, 1, -1, 1, 1, 1, 1, -1, 1, 1}
	far := []float32{-0.5, -0.5, 0, 1.5, -0.5, 0, 1.5, 1.5, 0, -0.5, 1.5, 0}
	nearScalars, farScalars := []float32{1, 1, 1, 1}, []float32{0, 0, 0, 0}
	var points, scalars []float32
	if nearFirst {
		points, scalars = append(near, far...), append(nearScalars, farScalars...)
	} else {
		points, scalars = append(far, near...), append(farScalars, nearScalars...)
	}
	require.NoError(t, src.SetPolygons(points, [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}}, scalars))
	return src
}

func render(t *testing.T, src pipeline.Stage, presenter *Presenter) {
	p := pipeline.New()
	require.NoError(t, p.Connect(src, 0, presenter, 0))
	require.NoError(t, p.Update(context.Background(), presenter, pipeline.WholePiece))
}

func topDownCamera() Camera {
	c := NewCamera()
	c.ResetCamera(resident.Bounds{-1, 1.5, -1, 1.5, 0, 1})
	return c
}

func TestDepthOrder(t *testing.T) {
	d := newDevice(t, "")
	var frames []*Framebuffer
	for _, nearFirst := range []bool{true, false} {
		presenter := NewPresenter(NewWindow(64, 48))
		presenter.SetInteropScope(interop.NewScope())
		presenter.SetCamera(topDownCamera())
		render(t, squares(t, d, nearFirst), presenter)
		assert.Equal(t, PathHost, presenter.LastPath())
		fb := presenter.Window().Framebuffer()
		frames = append(frames, fb.Clone())

		// Center of the near square is white; the part of the far square not covered is black.
		proj := presenter.Camera().projection(64, 48)
		cx, cy, _ := proj.project(0, 0, 1)
		center := int(cy)*64 + int(cx)
		assert.Equal(t, []uint8{255, 255, 255, 255}, fb.Color[4*center:4*center+4])
		fx, fy, _ := proj.project(1.3, 1.3, 0)
		farPixel := int(fy)*64 + int(fx)
		assert.Equal(t, []uint8{0, 0, 0, 255}, fb.Color[4*farPixel:4*farPixel+4])
		assert.Less(t, fb.Depth[center], fb.Depth[farPixel])
	}
	assert.True(t, frames[0].Equal(frames[1]), "drawing order must not matter for overlaps at different depths")
}

func TestInteropAndHostPathsMatch(t *testing.T) {
	d := newDevice(t, "workers=4")
	camera := NewCamera()
	camera.Position = [3]float64{1, 2, 3}
	whole := resident.Extent{0, 16, 0, 16, 0, 16}
	field := filters.DistanceField{Center: [3]float64{8, 8, 8}}
	camera.ResetCamera(resident.StructuredBounds(whole, [3]float64{}, [3]float64{1, 1, 1}))

	for _, kind := range []resident.Kind{resident.KindTriangleSet, resident.KindPointSet} {
		t.Run(kind.String(), func(t *testing.T) {
			var frames []*Framebuffer
			for _, useInterop := range []bool{true, false} {
				window := NewWindow(97, 61)
				presenter := NewPresenter(window)
				scope := interop.NewScope()
				if useInterop {
					_, err := scope.Init(d, window)
					require.NoError(t, err)
				}
				presenter.SetInteropScope(scope)
				presenter.SetCamera(camera)
				presenter.SetBackground([4]uint8{10, 20, 30, 255})

				src := filters.NewFieldSource(d, field, whole, [3]float64{}, [3]float64{1, 1, 1})
				var last pipeline.Stage = filters.NewContour(6)
				if kind == resident.KindPointSet {
					last = filters.NewThreshold(5, 7)
				}
				p := pipeline.New()
				require.NoError(t, p.Connect(src, 0, last, 0))
				require.NoError(t, p.Connect(last, 0, presenter, 0))
				require.NoError(t, p.Update(context.Background(), presenter, pipeline.WholePiece))
				if useInterop {
					assert.Equal(t, PathInterop, presenter.LastPath())
					assert.True(t, window.IsShared())
				} else {
					assert.Equal(t, PathHost, presenter.LastPath())
					assert.False(t, window.IsShared())
				}
				fb := window.Framebuffer()
				require.NoError(t, fb.Validate())
				assert.Greater(t, fb.CoveredPixels(), 100)
				frames = append(frames, fb.Clone())
				window.Close()
				scope.Close()
			}
			assert.True(t, frames[0].Equal(frames[1]), "interop and host paths must render identical images")
		})
	}
}

func TestInteropFromOtherDeviceFallsBack(t *testing.T) {
	d1, d2 := newDevice(t, ""), newDevice(t, "")
	window := NewWindow(32, 32)
	scope := interop.NewScope()
	_, err := scope.Init(d1, window)
	require.NoError(t, err)
	presenter := NewPresenter(window)
	presenter.SetInteropScope(scope)
	presenter.SetCamera(topDownCamera())
	render(t, squares(t, d2, true), presenter)
	assert.Equal(t, PathHost, presenter.LastPath())

	// Unavailable interop is not fatal either.
	noInterop := newDevice(t, "nointerop")
	scope2 := interop.NewScope()
	_, err = scope2.Init(noInterop, window)
	require.ErrorIs(t, err, interop.ErrUnavailable)
	presenter2 := NewPresenter(NewWindow(32, 32))
	presenter2.SetInteropScope(scope2)
	presenter2.SetCamera(topDownCamera())
	render(t, squares(t, noInterop, true), presenter2)
	assert.Equal(t, PathHost, presenter2.LastPath())
	assert.True(t, presenter.Window().Framebuffer().Equal(presenter2.Window().Framebuffer()))
}

func TestEmptyInput(t *testing.T) {
	d := newDevice(t, "")
	window := NewWindow(16, 16)
	presenter := NewPresenter(window)
	presenter.SetInteropScope(interop.NewScope())
	presenter.SetBackground([4]uint8{1, 2, 3, 4})
	render(t, filters.NewPolygonSource(d, "nothing"), presenter)
	fb := window.Framebuffer()
	assert.Zero(t, fb.CoveredPixels())
	for pixel := range 16 * 16 {
		require.Equal(t, []uint8{1, 2, 3, 4}, fb.Color[4*pixel:4*pixel+4])
	}

	window.Resize(8, 4)
	require.NoError(t, window.Framebuffer().Validate())
	w, h := window.Size()
	assert.Equal(t, 8, w)
	assert.Equal(t, 4, h)
}
