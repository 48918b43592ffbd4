// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package present

import (
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/volren/host"
)

// textureDestroyer is the interface for destroying textures.
// This matches the gogpu.Texture.Destroy signature.
type textureDestroyer interface {
	Destroy()
}

// TexturePresenter shows frames through a GPU texture.
//
// Present stores the latest frame on the host. The texture is created
// lazily in RenderTo, where a texture creator is available, and updated
// in place while the view size stays the same.
type TexturePresenter struct {
	opts options

	mu          sync.Mutex
	frame       *image.RGBA
	texture     gpucontext.Texture
	oldTexture  gpucontext.Texture // previous texture awaiting deferred destruction
	dirty       bool
	sizeChanged bool
	closed      bool
	presented   int
}

// NewTexturePresenter creates a presenter for window integration.
func NewTexturePresenter(opts ...Option) *TexturePresenter {
	return &TexturePresenter{opts: newOptions(opts)}
}

// Present implements host.Presenter.
func (p *TexturePresenter) Present(f host.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	frame, resized, err := fit(p.frame, f, &p.opts)
	if err != nil {
		return err
	}
	p.frame = frame
	p.dirty = true
	if resized {
		p.sizeChanged = true
	}
	p.presented++
	return nil
}

// Size returns the size of the latest frame, or zero before the first one.
func (p *TexturePresenter) Size() (width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frame == nil {
		return 0, 0
	}
	return p.frame.Rect.Dx(), p.frame.Rect.Dy()
}

// Presented returns how many frames were presented.
func (p *TexturePresenter) Presented() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.presented
}

// RenderTo uploads the latest frame if needed and draws it.
// Nothing is drawn before the first frame.
func (p *TexturePresenter) RenderTo(dc gpucontext.TextureDrawer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.frame == nil {
		return nil
	}

	// The old texture may still be referenced by in-flight command buffers,
	// so it is destroyed only after the new one has been written.
	if p.sizeChanged {
		if p.texture != nil {
			destroyTexture(p.oldTexture)
			p.oldTexture = p.texture
			p.texture = nil
		}
		p.sizeChanged = false
	}

	if p.texture != nil && p.dirty {
		updater, ok := p.texture.(gpucontext.TextureUpdater)
		if ok {
			if err := updater.UpdateData(p.frame.Pix); err != nil {
				return fmt.Errorf("present: texture update failed: %w", err)
			}
			p.dirty = false
		} else {
			destroyTexture(p.oldTexture)
			p.oldTexture = p.texture
			p.texture = nil
		}
	}

	if p.texture == nil {
		creator := dc.TextureCreator()
		if creator == nil {
			return ErrInvalidRenderer
		}
		tex, err := creator.NewTextureFromRGBA(p.frame.Rect.Dx(), p.frame.Rect.Dy(), p.frame.Pix)
		if err != nil {
			return fmt.Errorf("present: NewTextureFromRGBA failed: %w", err)
		}
		if pt, ok := tex.(interface{ SetPremultiplied(bool) }); ok {
			pt.SetPremultiplied(true)
		}
		p.texture = tex
		p.dirty = false

		destroyTexture(p.oldTexture)
		p.oldTexture = nil
	}

	return dc.DrawTexture(p.texture, p.opts.x, p.opts.y)
}

// Close destroys the textures. Close is idempotent.
func (p *TexturePresenter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	destroyTexture(p.oldTexture)
	destroyTexture(p.texture)
	p.oldTexture, p.texture = nil, nil
	p.frame = nil
	return nil
}

func destroyTexture(tex gpucontext.Texture) {
	if tex == nil {
		return
	}
	if d, ok := tex.(textureDestroyer); ok {
		d.Destroy()
	}
}
