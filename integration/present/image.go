// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package present

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gogpu/volren/host"
)

// ImagePresenter keeps the latest frame as an image fitted to the
// viewport. It is safe for concurrent use.
type ImagePresenter struct {
	opts options

	mu        sync.Mutex
	img       *image.RGBA
	presented int
}

// NewImagePresenter creates an offscreen presenter.
func NewImagePresenter(opts ...Option) *ImagePresenter {
	return &ImagePresenter{opts: newOptions(opts)}
}

// Present implements host.Presenter.
func (p *ImagePresenter) Present(f host.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	img, _, err := fit(p.img, f, &p.opts)
	if err != nil {
		return err
	}
	p.img = img
	p.presented++
	return nil
}

// Presented returns how many frames were presented.
func (p *ImagePresenter) Presented() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.presented
}

// Image returns a copy of the latest frame, or nil before the first one.
func (p *ImagePresenter) Image() *image.RGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.img == nil {
		return nil
	}
	out := image.NewRGBA(p.img.Rect)
	copy(out.Pix, p.img.Pix)
	return out
}

// EncodePNG encodes the latest frame as PNG to w.
func (p *ImagePresenter) EncodePNG(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.img == nil {
		return ErrNoFrame
	}
	if err := png.Encode(w, p.img); err != nil {
		return fmt.Errorf("present: encode PNG: %w", err)
	}
	return nil
}

// SavePNG writes the latest frame to a PNG file.
func (p *ImagePresenter) SavePNG(path string) error {
	if p.Presented() == 0 {
		return ErrNoFrame
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("present: create file: %w", err)
	}
	if err := p.EncodePNG(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
