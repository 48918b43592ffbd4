package volren

import "github.com/gogpu/volren/host"

// MapperOption configures a Mapper during creation.
//
// Example:
//
//	// Mirror-only rendering at full resolution
//	m, err := volren.NewMapper(reg, nil)
//
//	// Half-resolution rendering presented to a window texture
//	m, err := volren.NewMapper(reg, nil,
//	    volren.WithScaleFactor(2),
//	    volren.WithPresenter(texturePresenter))
type MapperOption func(*mapperOptions)

// mapperOptions holds optional configuration for Mapper creation.
type mapperOptions struct {
	label     string
	presenter host.Presenter
	scale     float64
	darkness  float64
	device    int
	workers   int
}

func defaultMapperOptions() mapperOptions {
	return mapperOptions{
		label: "volume-mapper",
		scale: 1,
	}
}

// WithLabel names the mapper in registry statistics and logs.
func WithLabel(label string) MapperOption {
	return func(o *mapperOptions) {
		if label != "" {
			o.label = label
		}
	}
}

// WithPresenter sets where finished frames are displayed. Without a
// presenter frames are only copied into the host mirror.
func WithPresenter(p host.Presenter) MapperOption {
	return func(o *mapperOptions) {
		o.presenter = p
	}
}

// WithScaleFactor renders at 1/f of the viewport resolution. Values below
// 1 are clamped to 1.
func WithScaleFactor(f float64) MapperOption {
	return func(o *mapperOptions) {
		o.scale = f
	}
}

// WithGradientDarkness sets the initial gradient shading darkness; see
// Mapper.SetGradientShadingConstants.
func WithGradientDarkness(d float64) MapperOption {
	return func(o *mapperOptions) {
		o.darkness = d
	}
}

// WithDevice moves the mapper to device dev right after creation.
func WithDevice(dev int) MapperOption {
	return func(o *mapperOptions) {
		o.device = dev
	}
}

// WithWorkers gives the mapper a private pool of n goroutines for scalar
// conversion and the default kernel, closed by Release. Without it the
// process-wide pool is used.
func WithWorkers(n int) MapperOption {
	return func(o *mapperOptions) {
		o.workers = n
	}
}
