package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/volren"
	"github.com/gogpu/volren/device"
	"github.com/gogpu/volren/host"
	"github.com/gogpu/volren/integration/present"
)

// ViewResult reports one rendered view.
type ViewResult struct {
	Name    string
	Path    string
	Device  int
	Stats   volren.Stats
	Elapsed time.Duration
}

// Render draws every view of cfg concurrently. Views share reg and the
// phantom; each view owns a mapper, a camera and a presenter.
func Render(ctx context.Context, reg *device.Registry, cfg Config) ([]ViewResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	im, err := NewPhantom(cfg.Phantom)
	if err != nil {
		return nil, err
	}
	devices := reg.Driver().DeviceCount()
	if devices == 0 {
		return nil, device.ErrInvalidDevice
	}

	results := make([]ViewResult, len(cfg.Views))
	g, ctx := errgroup.WithContext(ctx)
	for i, v := range cfg.Views {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := renderView(reg, &cfg, im, v, v.Device%devices)
			if err != nil {
				return fmt.Errorf("view %s: %w", v.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func renderView(reg *device.Registry, cfg *Config, im *host.ImageData, v ViewConfig, dev int) (ViewResult, error) {
	start := time.Now()
	ip := present.NewImagePresenter(present.WithBackground(cfg.BackgroundColor()))
	m, err := volren.NewMapper(reg, nil,
		volren.WithLabel(v.Name),
		volren.WithDevice(dev),
		volren.WithPresenter(ip),
		volren.WithScaleFactor(cfg.Scale),
		volren.WithGradientDarkness(cfg.Darkness))
	if err != nil {
		return ViewResult{}, err
	}
	defer func() {
		if err := m.Release(); err != nil {
			volren.Logger().Warn("volrender: release mapper", "view", v.Name, "err", err)
		}
	}()

	if err := m.SetInput(im, 0); err != nil {
		return ViewResult{}, err
	}

	dims := im.Dimensions()
	cam := host.NewPerspectiveCamera()
	cam.ResetCamera([6]float64{
		0, float64(dims[0] - 1),
		0, float64(dims[1] - 1),
		0, float64(dims[2] - 1),
	})
	cam.Azimuth(v.Azimuth)
	cam.Elevation(v.Elevation)

	viewport := host.NewViewport(cfg.Width, cfg.Height, cam)
	actor := host.NewVolumeActor(cfg.Property())
	if err := m.Render(viewport, actor); err != nil {
		return ViewResult{}, err
	}

	path := cfg.OutputPath(v)
	if err := ip.SavePNG(path); err != nil {
		return ViewResult{}, err
	}
	return ViewResult{
		Name:    v.Name,
		Path:    path,
		Device:  dev,
		Stats:   m.Stats(),
		Elapsed: time.Since(start),
	}, nil
}
