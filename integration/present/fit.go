// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package present

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/gogpu/volren/host"
)

// Presentation errors.
var (
	// ErrClosed is returned when a closed presenter is used.
	ErrClosed = errors.New("present: presenter is closed")

	// ErrInvalidFrame is returned when a frame does not match its resolution.
	ErrInvalidFrame = errors.New("present: invalid frame")

	// ErrNoFrame is returned when output is requested before any frame arrived.
	ErrNoFrame = errors.New("present: no frame presented")

	// ErrInvalidRenderer is returned when the draw context has no
	// gpucontext.TextureCreator.
	ErrInvalidRenderer = errors.New("present: draw context has no texture creator")
)

// Option configures a presenter.
type Option func(*options)

type options struct {
	scaler     draw.Scaler
	background color.Color
	x, y       float32
}

func defaultOptions() options {
	return options{scaler: draw.BiLinear}
}

func newOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithScaler selects the resampling kernel used to fit frames to the
// viewport. The default is draw.BiLinear.
func WithScaler(s draw.Scaler) Option {
	return func(o *options) {
		if s != nil {
			o.scaler = s
		}
	}
}

// WithBackground composites frames over a solid color. Without a
// background frames keep their alpha.
func WithBackground(c color.Color) Option {
	return func(o *options) {
		o.background = c
	}
}

// WithPosition sets where TexturePresenter draws the texture.
func WithPosition(x, y float32) Option {
	return func(o *options) {
		o.x, o.y = x, y
	}
}

// FrameImage wraps the frame pixels as a premultiplied image without
// copying them.
func FrameImage(f host.Frame) (*image.RGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	return &image.RGBA{
		Pix:    f.Pixels,
		Stride: 4 * f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}, nil
}

// viewSize returns the size a frame is shown at. A frame without a view
// size is shown at its own resolution.
func viewSize(f host.Frame) (int, int) {
	w, h := f.ViewWidth, f.ViewHeight
	if w <= 0 || h <= 0 {
		return f.Width, f.Height
	}
	return w, h
}

// fit scales f onto dst, reallocating dst when the view size changed. It
// reports whether dst was reallocated.
func fit(dst *image.RGBA, f host.Frame, o *options) (*image.RGBA, bool, error) {
	src, err := FrameImage(f)
	if err != nil {
		return dst, false, err
	}
	w, h := viewSize(f)
	resized := false
	if dst == nil || dst.Rect.Dx() != w || dst.Rect.Dy() != h {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		resized = true
	}

	op := draw.Src
	if o.background != nil {
		draw.Draw(dst, dst.Rect, image.NewUniform(o.background), image.Point{}, draw.Src)
		op = draw.Over
	}
	if w == f.Width && h == f.Height {
		draw.Draw(dst, dst.Rect, src, image.Point{}, op)
	} else {
		o.scaler.Scale(dst, dst.Rect, src, src.Rect, op, nil)
	}
	return dst, resized, nil
}
