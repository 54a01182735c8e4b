// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package interop establishes, once per process, the ability to share display buffers with a device.
//
// Init must be called after a display surface exists and before any presentation that wants to render
// directly into display memory. Failure to initialize is not fatal: it returns ErrUnavailable, and the
// presentation falls back to copying the data to host memory.
//
// The initialization state is held in a Scope. Most programs use the process-wide default scope through
// the package functions Init, Current and Shutdown. Programs simulating several processes in one
// (see transport/local) give each simulated process its own Scope.
package interop

import (
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/vizflow/devices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrUnavailable is returned when the device can't share memory with the display.
var ErrUnavailable = errors.New("device/display interop unavailable")

// Surface is the display surface interop shares buffers with, e.g. a window.
type Surface interface {
	// Size of the surface in pixels.
	Size() (width, height int)
}

// Context is an initialized interop between one device and one display surface.
type Context struct {
	device  devices.Device
	shared  devices.SharedBufferer
	surface Surface
}

// Device the context shares buffers with.
func (c *Context) Device() devices.Device { return c.device }

// Surface the context shares buffers with.
func (c *Context) Surface() Surface { return c.surface }

// SharedImage is a color (RGBA, uint8) and depth (float32) image pair living in device memory and directly
// visible to the display.
type SharedImage struct {
	Width, Height int

	// Color and Depth device buffers, to be used by kernels.
	Color, Depth devices.Buffer

	// ColorView and DepthView are the display side of the same memory.
	ColorView []uint8
	DepthView []float32

	device devices.Device
}

// NewSharedImage allocates a color+depth image shared between the device and the display.
func (c *Context) NewSharedImage(width, height int) (*SharedImage, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid shared image size %dx%d", width, height)
	}
	color, colorFlat, err := c.shared.NewSharedBuffer(dtypes.Uint8, 4*width*height)
	if err != nil {
		return nil, errors.WithMessage(err, "allocating shared color buffer")
	}
	depth, depthFlat, err := c.shared.NewSharedBuffer(dtypes.Float32, width*height)
	if err != nil {
		_ = c.device.BufferFinalize(color)
		return nil, errors.WithMessage(err, "allocating shared depth buffer")
	}
	return &SharedImage{
		Width:     width,
		Height:    height,
		Color:     color,
		Depth:     depth,
		ColorView: colorFlat.([]uint8),
		DepthView: depthFlat.([]float32),
		device:    c.device,
	}, nil
}

// Release the device memory of the shared image. The views become invalid.
func (img *SharedImage) Release() {
	if img == nil || img.device == nil {
		return
	}
	for _, buf := range []devices.Buffer{img.Color, img.Depth} {
		if err := img.device.BufferFinalize(buf); err != nil {
			klog.Warningf("failed to release shared image buffer: %+v", err)
		}
	}
	img.device = nil
	img.ColorView, img.DepthView = nil, nil
}

// Scope holds the one-time interop initialization state.
type Scope struct {
	mu     sync.Mutex
	once   *sync.Once
	ctx    *Context
	err    error
	closed bool
}

// NewScope returns a new un-initialized Scope.
func NewScope() *Scope {
	return &Scope{once: &sync.Once{}}
}

// Init initializes interop between device and surface, only the first time it is called on the scope.
// Later calls return the same result, regardless of the arguments.
//
// It returns ErrUnavailable (possibly wrapped) if the device can't share memory with the display.
func (s *Scope) Init(device devices.Device, surface Surface) (*Context, error) {
	s.mu.Lock()
	once := s.once
	s.mu.Unlock()
	once.Do(func() {
		ctx, err := initContext(device, surface)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.ctx, s.err = ctx, err
		if err != nil {
			klog.V(1).Infof("interop not initialized, presentation falls back to host copies: %v", err)
		} else {
			klog.V(1).Infof("interop initialized for device %q", device.Name())
		}
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.WithMessage(ErrUnavailable, "interop scope already closed")
	}
	return s.ctx, s.err
}

// Current returns the initialized context, or nil if Init hasn't been called or it failed.
func (s *Scope) Current() *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.ctx
}

// Close tears down the scope. Later calls to Init fail with ErrUnavailable.
func (s *Scope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.ctx = nil
}

func initContext(device devices.Device, surface Surface) (*Context, error) {
	if device == nil {
		return nil, errors.WithMessage(ErrUnavailable, "no device")
	}
	if surface == nil {
		return nil, errors.WithMessage(ErrUnavailable, "interop requires an existing display surface")
	}
	shared, ok := device.(devices.SharedBufferer)
	if !ok || !shared.HasSharedBuffers() {
		return nil, errors.WithMessagef(ErrUnavailable, "device %q doesn't support shared buffers", device.Name())
	}
	return &Context{device: device, shared: shared, surface: surface}, nil
}

var processScope = NewScope()

// Init initializes the process-wide interop, see Scope.Init.
func Init(device devices.Device, surface Surface) (*Context, error) {
	return processScope.Init(device, surface)
}

// Current returns the process-wide interop context, or nil if not initialized.
func Current() *Context {
	return processScope.Current()
}

// Shutdown tears down the process-wide interop scope, typically at exit.
func Shutdown() {
	processScope.Close()
}
