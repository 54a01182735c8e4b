// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package present implements the presentation stage: it rasterizes triangle and point sets into the
// color and depth framebuffer of a Window, with an orthographic Camera.
//
// If interop between the input's device and the window was initialized (see package interop), the
// rasterizer runs as a device kernel writing directly into display memory. Otherwise the payload is copied
// to host memory and rasterized there. Both paths produce exactly the same image.
package present

import (
	"fmt"

	"github.com/gomlx/vizflow/devices"
	"github.com/gomlx/vizflow/devices/interop"
	"github.com/gomlx/vizflow/filters"
	"github.com/gomlx/vizflow/pipeline"
	"github.com/gomlx/vizflow/resident"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Path taken by the Presenter to render the last frame.
type Path int

const (
	// PathNone means nothing was rendered yet.
	PathNone Path = iota

	// PathInterop renders with a device kernel into a framebuffer shared with the display.
	PathInterop

	// PathHost copies the payload to the host and renders there.
	PathHost
)

// String implements fmt.Stringer.
func (p Path) String() string {
	switch p {
	case PathNone:
		return "none"
	case PathInterop:
		return "interop"
	case PathHost:
		return "host"
	}
	return fmt.Sprintf("Path(%d)", int(p))
}

// Presenter is a pipeline sink stage rendering its input into a Window.
type Presenter struct {
	pipeline.StageBase
	window     *Window
	camera     Camera
	background [4]uint8
	colorFunc  ColorFunc
	scope      *interop.Scope
	lastPath   Path
}

var _ pipeline.Stage = (*Presenter)(nil)

// NewPresenter creates a Presenter rendering into the window.
//
// It uses the process-wide interop context, if initialized. See SetInteropScope.
func NewPresenter(window *Window) *Presenter {
	return &Presenter{
		StageBase: pipeline.NewStageBase("Presenter"),
		window:    window,
		camera:    NewCamera(),
	}
}

// SetInteropScope sets the interop scope used to find an initialized interop context. If nil, the
// process-wide scope is used.
func (p *Presenter) SetInteropScope(scope *interop.Scope) {
	p.scope = scope
	p.Modified()
}

// SetCamera changes the camera.
func (p *Presenter) SetCamera(camera Camera) {
	p.camera = camera
	p.Modified()
}

// Camera used to render.
func (p *Presenter) Camera() Camera { return p.camera }

// SetBackground color.
func (p *Presenter) SetBackground(color [4]uint8) {
	p.background = color
	p.Modified()
}

// SetColorFunc sets the mapping of scalars to colors. If nil (the default), a GrayRamp over the scalar range
// published by the pipeline is used.
func (p *Presenter) SetColorFunc(colorFunc ColorFunc) {
	p.colorFunc = colorFunc
	p.Modified()
}

// Window rendered into.
func (p *Presenter) Window() *Window { return p.window }

// LastPath returns the path used to render the last frame.
func (p *Presenter) LastPath() Path { return p.lastPath }

// Clear the window to the background.
func (p *Presenter) Clear() {
	p.window.Framebuffer().Clear(p.background)
}

// NumInputs implements pipeline.Stage.
func (p *Presenter) NumInputs() int { return 1 }

// NumOutputs implements pipeline.Stage.
func (p *Presenter) NumOutputs() int { return 0 }

// InputKinds implements pipeline.Stage.
func (p *Presenter) InputKinds(int) []resident.Kind {
	return []resident.Kind{resident.KindTriangleSet, resident.KindPointSet}
}

// OutputKind implements pipeline.Stage.
func (p *Presenter) OutputKind(int) resident.Kind { return resident.KindNone }

func (p *Presenter) interopContext() *interop.Context {
	if p.scope != nil {
		return p.scope.Current()
	}
	return interop.Current()
}

func (p *Presenter) colorFuncFor(req *pipeline.Request, in *resident.Object) ColorFunc {
	if p.colorFunc != nil {
		return p.colorFunc
	}
	scalarRange := in.ScalarRange()
	if info := req.Inputs[0]; info != nil && info.HasScalarRange {
		scalarRange = info.ScalarRange
	}
	return GrayRamp(scalarRange[0], scalarRange[1])
}

// RequestData renders the input into the window.
func (p *Presenter) RequestData(req *pipeline.Request) error {
	in := req.Input(0)
	if !pipeline.AcceptsKind(p, 0, in.Kind()) {
		return errors.Wrapf(filters.ErrTypeMismatch, "%s got %s", p.Name(), in.Kind())
	}
	colorFn := p.colorFuncFor(req, in)
	if ictx := p.interopContext(); ictx != nil && ictx.Device() == in.Device() {
		img, err := p.window.useShared(ictx)
		if err == nil {
			err = p.renderOnDevice(in, img, colorFn)
			if err == nil {
				p.lastPath = PathInterop
				return nil
			}
		}
		klog.Warningf("%s: rendering with interop failed, falling back to host: %+v", p.Name(), err)
	}
	p.window.useHost()
	if err := p.renderOnHost(in, colorFn); err != nil {
		return err
	}
	p.lastPath = PathHost
	return nil
}

// renderOnDevice runs the rasterizer as a kernel writing into the shared image.
func (p *Presenter) renderOnDevice(in *resident.Object, img *interop.SharedImage, colorFn ColorFunc) error {
	pointsBuf, err := in.Array(resident.ArrayPoints)
	if err != nil {
		return err
	}
	scalarsBuf, err := in.Array(resident.ArrayScalars)
	if err != nil {
		return err
	}
	proj := p.camera.projection(img.Width, img.Height)
	kind, numComponents := in.Kind(), max(in.Metadata().NumComponents, 1)
	background := p.background
	return in.Device().Launch("Present", func(mem devices.Memory) {
		t := target{width: img.Width, height: img.Height, color: mem.Uint8s(img.Color), depth: mem.Float32s(img.Depth)}
		points, scalars := mem.Float32s(pointsBuf), mem.Float32s(scalarsBuf)
		mem.ParallelFor(img.Height, rowBand, func(_, start, end int) {
			t.clearRows(start, end, background)
			if kind == resident.KindTriangleSet {
				t.drawTriangles(start, end, &proj, points, scalars, colorFn)
			} else {
				t.drawPoints(start, end, &proj, points, scalars, numComponents, colorFn)
			}
		})
	})
}

// renderOnHost copies the payload to the host and rasterizes it into the window framebuffer.
func (p *Presenter) renderOnHost(in *resident.Object, colorFn ColorFunc) error {
	fb := p.window.Framebuffer()
	t := fb.target()
	proj := p.camera.projection(fb.Width, fb.Height)
	var draw func(start, end int)
	switch in.Kind() {
	case resident.KindTriangleSet:
		host, err := filters.ToHostTriangles(in)
		if err != nil {
			return err
		}
		draw = func(start, end int) { t.drawTriangles(start, end, &proj, host.Points, host.Scalars, colorFn) }
	default:
		host, err := filters.ToHostPoints(in)
		if err != nil {
			return err
		}
		draw = func(start, end int) {
			t.drawPoints(start, end, &proj, host.Points, host.Scalars, host.NumComponents, colorFn)
		}
	}
	for start := 0; start < fb.Height; start += rowBand {
		end := min(start+rowBand, fb.Height)
		t.clearRows(start, end, p.background)
		draw(start, end)
	}
	return nil
}
