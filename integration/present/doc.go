// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package present provides host.Presenter implementations that hand
// rendered volume frames to a display.
//
// The mapper renders into a buffer whose resolution follows the output
// alignment rule, so it is usually larger than the viewport. Presenters
// in this package scale the frame back to the viewport size with
// golang.org/x/image/draw before showing it.
//
// # Window integration
//
// TexturePresenter uploads frames to a GPU texture through the
// gpucontext interfaces, so it works with any host that implements
// gpucontext.TextureDrawer (for example a gogpu application):
//
//	tp := present.NewTexturePresenter()
//	defer tp.Close()
//
//	m, _ := volren.NewMapper(reg, nil, volren.WithPresenter(tp))
//
//	app.OnDraw(func(dc *gogpu.Context) {
//	    _ = m.Render(viewport, actor)
//	    _ = tp.RenderTo(dc.AsTextureDrawer())
//	})
//
// Present may be called from the rendering goroutine while RenderTo runs
// on the draw goroutine.
//
// # Offscreen output
//
// ImagePresenter keeps the latest frame as an *image.RGBA and can encode
// it as PNG:
//
//	ip := present.NewImagePresenter(present.WithBackground(color.Black))
//	m, _ := volren.NewMapper(reg, nil, volren.WithPresenter(ip))
//	_ = m.Render(viewport, actor)
//	_ = ip.SavePNG("volume.png")
package present
