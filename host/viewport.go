package host

import (
	"errors"
	"sync"
)

// Renderer is the view a mapper renders into.
type Renderer interface {
	MTimer

	// Size returns the viewport size in pixels.
	Size() (width, height int)

	ActiveCamera() Camera
}

// Viewport is the reference Renderer. MTime covers the size only;
// camera changes are tracked by the camera.
//
// Viewport is safe for concurrent use.
type Viewport struct {
	Modified

	mu     sync.RWMutex
	width  int
	height int
	camera Camera
}

var _ Renderer = (*Viewport)(nil)

// NewViewport creates a viewport of the given size.
func NewViewport(width, height int, cam Camera) *Viewport {
	v := &Viewport{width: width, height: height, camera: cam}
	v.Touch()
	return v
}

// SetSize resizes the viewport.
func (v *Viewport) SetSize(width, height int) {
	v.mu.Lock()
	v.width, v.height = width, height
	v.mu.Unlock()
	v.Touch()
}

// Size returns the viewport size.
func (v *Viewport) Size() (int, int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.width, v.height
}

// SetActiveCamera replaces the camera.
func (v *Viewport) SetActiveCamera(c Camera) {
	v.mu.Lock()
	v.camera = c
	v.mu.Unlock()
	v.Touch()
}

// ActiveCamera returns the camera.
func (v *Viewport) ActiveCamera() Camera {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.camera
}

// ErrInvalidFrame is returned by presenters for frames whose pixel buffer
// does not match their resolution.
var ErrInvalidFrame = errors.New("host: invalid frame")

// Frame is a host-resident RGBA8 image handed to a Presenter.
type Frame struct {
	// Pixels holds Width*Height RGBA texels, row by row.
	Pixels []byte

	// Width and Height are the resolution of Pixels.
	Width, Height int

	// ViewWidth and ViewHeight are the target viewport size. The buffer
	// is usually larger because of the alignment rule of the output
	// handler, so presenters scale or crop.
	ViewWidth, ViewHeight int
}

// Validate checks that Pixels matches the resolution.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 || len(f.Pixels) < f.Width*f.Height*4 {
		return ErrInvalidFrame
	}
	return nil
}

// Presenter displays a rendered frame.
type Presenter interface {
	Present(f Frame) error
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(f Frame) error

// Present calls fn(f).
func (fn PresenterFunc) Present(f Frame) error { return fn(f) }
