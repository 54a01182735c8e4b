// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package present

import (
	"image"
	"slices"

	"github.com/gomlx/vizflow/devices/interop"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackgroundDepth is the depth of pixels where nothing was drawn.
const BackgroundDepth float32 = 1

// Framebuffer holds a color (RGBA, 4 bytes per pixel) and a depth (float32) image.
// Rows are stored from the bottom of the image to the top.
type Framebuffer struct {
	Width, Height int
	Color         []uint8
	Depth         []float32
}

// NewFramebuffer allocates a framebuffer in host memory, cleared to a transparent black background.
func NewFramebuffer(width, height int) *Framebuffer {
	fb := &Framebuffer{
		Width:  width,
		Height: height,
		Color:  make([]uint8, 4*width*height),
		Depth:  make([]float32, width*height),
	}
	fb.Clear([4]uint8{})
	return fb
}

// Clear sets all pixels to the background color at BackgroundDepth.
func (fb *Framebuffer) Clear(background [4]uint8) {
	fb.target().clearRows(0, fb.Height, background)
}

func (fb *Framebuffer) target() target {
	return target{width: fb.Width, height: fb.Height, color: fb.Color, depth: fb.Depth}
}

// Clone returns a copy of the framebuffer in host memory.
func (fb *Framebuffer) Clone() *Framebuffer {
	return &Framebuffer{Width: fb.Width, Height: fb.Height, Color: slices.Clone(fb.Color), Depth: slices.Clone(fb.Depth)}
}

// Equal returns whether both framebuffers have the same size and exactly the same contents.
func (fb *Framebuffer) Equal(other *Framebuffer) bool {
	return fb.Width == other.Width && fb.Height == other.Height &&
		slices.Equal(fb.Color, other.Color) && slices.Equal(fb.Depth, other.Depth)
}

// Validate checks the sizes of the buffers match the dimensions.
func (fb *Framebuffer) Validate() error {
	if fb.Width <= 0 || fb.Height <= 0 {
		return errors.Errorf("invalid framebuffer size %dx%d", fb.Width, fb.Height)
	}
	if len(fb.Color) != 4*fb.Width*fb.Height || len(fb.Depth) != fb.Width*fb.Height {
		return errors.Errorf("framebuffer %dx%d has %d color bytes and %d depth values",
			fb.Width, fb.Height, len(fb.Color), len(fb.Depth))
	}
	return nil
}

// CoveredPixels returns the number of pixels where something was drawn.
func (fb *Framebuffer) CoveredPixels() int {
	count := 0
	for _, d := range fb.Depth {
		if d < BackgroundDepth {
			count++
		}
	}
	return count
}

// Image returns a copy of the color buffer as an image, with its first row at the top.
func (fb *Framebuffer) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, fb.Width, fb.Height))
	rowBytes := 4 * fb.Width
	for row := range fb.Height {
		src := fb.Color[row*rowBytes : (row+1)*rowBytes]
		copy(img.Pix[(fb.Height-1-row)*img.Stride:], src)
	}
	return img
}

// Window is the display surface the Presenter renders into. It implements interop.Surface.
//
// When interop is used, its framebuffer aliases device memory shared with the display. Otherwise it's
// plain host memory.
type Window struct {
	width, height int
	fb            *Framebuffer
	shared        *interop.SharedImage
	sharedWith    *interop.Context
}

var _ interop.Surface = (*Window)(nil)

// NewWindow creates a window of the given size in pixels.
func NewWindow(width, height int) *Window {
	return &Window{width: width, height: height, fb: NewFramebuffer(width, height)}
}

// Size implements interop.Surface.
func (w *Window) Size() (width, height int) { return w.width, w.height }

// Resize the window: the framebuffer is re-created, and its contents lost.
func (w *Window) Resize(width, height int) {
	if width == w.width && height == w.height {
		return
	}
	w.releaseShared()
	w.width, w.height = width, height
	w.fb = NewFramebuffer(width, height)
}

// Framebuffer currently displayed by the window.
func (w *Window) Framebuffer() *Framebuffer { return w.fb }

// IsShared returns whether the framebuffer is shared with a device.
func (w *Window) IsShared() bool { return w.shared != nil }

// useShared makes the framebuffer alias device memory shared through the interop context.
func (w *Window) useShared(ictx *interop.Context) (*interop.SharedImage, error) {
	if w.shared != nil && w.sharedWith == ictx {
		return w.shared, nil
	}
	w.releaseShared()
	img, err := ictx.NewSharedImage(w.width, w.height)
	if err != nil {
		return nil, err
	}
	w.shared, w.sharedWith = img, ictx
	w.fb = &Framebuffer{Width: w.width, Height: w.height, Color: img.ColorView, Depth: img.DepthView}
	klog.V(2).Infof("window %dx%d: framebuffer shared with device %q", w.width, w.height, ictx.Device().Name())
	return img, nil
}

// useHost makes the framebuffer plain host memory.
func (w *Window) useHost() {
	if w.shared != nil {
		w.releaseShared()
		w.fb = NewFramebuffer(w.width, w.height)
	}
}

func (w *Window) releaseShared() {
	if w.shared != nil {
		w.shared.Release()
		w.shared, w.sharedWith = nil, nil
	}
}

// Close releases the device memory shared with the window, if any.
func (w *Window) Close() {
	if w.shared != nil {
		w.fb = w.fb.Clone()
		w.releaseShared()
	}
}
