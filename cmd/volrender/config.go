package main

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/volren/host"
)

// phantomTypes maps the supported scalar types to their largest value.
var phantomTypes = map[string]float64{
	"uint8":   math.MaxUint8,
	"int16":   math.MaxInt16,
	"uint16":  math.MaxUint16,
	"float32": math.MaxFloat32,
}

var (
	errUnknownFormat = errors.New("unknown config format (want .toml, .yaml or .yml)")
	errInvalidConfig = errors.New("invalid configuration")
)

// Config describes what volrender renders.
type Config struct {
	Output     string    `toml:"output" yaml:"output"`
	Width      int       `toml:"width" yaml:"width"`
	Height     int       `toml:"height" yaml:"height"`
	Driver     string    `toml:"driver" yaml:"driver"`
	Devices    int       `toml:"devices" yaml:"devices"`
	Scale      float64   `toml:"scale" yaml:"scale"`
	Darkness   float64   `toml:"darkness" yaml:"darkness"`
	Shading    bool      `toml:"shading" yaml:"shading"`
	Background []float64 `toml:"background" yaml:"background"`

	Phantom PhantomConfig  `toml:"phantom" yaml:"phantom"`
	Color   []ColorPoint   `toml:"color" yaml:"color"`
	Opacity []OpacityPoint `toml:"opacity" yaml:"opacity"`
	Views   []ViewConfig   `toml:"views" yaml:"views"`
}

// PhantomConfig selects the synthetic volume.
type PhantomConfig struct {
	// Kind is sphere, shells or cube.
	Kind string `toml:"kind" yaml:"kind"`
	// Type is the scalar type: uint8, int16, uint16 or float32.
	Type  string  `toml:"type" yaml:"type"`
	Size  int     `toml:"size" yaml:"size"`
	Value float64 `toml:"value" yaml:"value"`
}

// ColorPoint is a color transfer function node.
type ColorPoint struct {
	X float64 `toml:"x" yaml:"x"`
	R float64 `toml:"r" yaml:"r"`
	G float64 `toml:"g" yaml:"g"`
	B float64 `toml:"b" yaml:"b"`
}

// OpacityPoint is a scalar opacity node.
type OpacityPoint struct {
	X float64 `toml:"x" yaml:"x"`
	Y float64 `toml:"y" yaml:"y"`
}

// ViewConfig is one camera rendered into its own image.
type ViewConfig struct {
	Name      string  `toml:"name" yaml:"name"`
	Azimuth   float64 `toml:"azimuth" yaml:"azimuth"`
	Elevation float64 `toml:"elevation" yaml:"elevation"`
	Device    int     `toml:"device" yaml:"device"`
}

// DefaultConfig returns a single front view of a uint16 sphere phantom.
func DefaultConfig() Config {
	return Config{
		Output:  "volume.png",
		Width:   512,
		Height:  512,
		Devices: 1,
		Scale:   1,
		Phantom: PhantomConfig{Kind: "sphere", Type: "uint16", Size: 64, Value: 1000},
	}
}

// LoadConfig reads a TOML or YAML file, chosen by extension, over the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("%s: %w", path, errUnknownFormat)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", errInvalidConfig, c.Width, c.Height)
	}
	if c.Output == "" {
		return fmt.Errorf("%w: empty output", errInvalidConfig)
	}
	if c.Phantom.Size < 2 {
		return fmt.Errorf("%w: phantom size %d", errInvalidConfig, c.Phantom.Size)
	}
	if _, ok := phantomKinds[c.Phantom.Kind]; !ok {
		return fmt.Errorf("%w: phantom kind %q", errInvalidConfig, c.Phantom.Kind)
	}
	limit, ok := phantomTypes[c.Phantom.Type]
	if !ok {
		return fmt.Errorf("%w: phantom type %q", errInvalidConfig, c.Phantom.Type)
	}
	if c.Phantom.Value <= 0 || c.Phantom.Value > limit {
		return fmt.Errorf("%w: phantom value %v for %s", errInvalidConfig, c.Phantom.Value, c.Phantom.Type)
	}
	if len(c.Views) == 0 {
		c.Views = []ViewConfig{{Name: "front"}}
	}
	seen := make(map[string]bool, len(c.Views))
	for i, v := range c.Views {
		if v.Name == "" {
			c.Views[i].Name = fmt.Sprintf("view%d", i)
		}
		if seen[c.Views[i].Name] {
			return fmt.Errorf("%w: duplicate view %q", errInvalidConfig, c.Views[i].Name)
		}
		seen[c.Views[i].Name] = true
	}
	return nil
}

// OutputPath returns the PNG path of a view. A single view writes to
// Output; several views insert the view name before the extension.
func (c *Config) OutputPath(view ViewConfig) string {
	if len(c.Views) <= 1 {
		return c.Output
	}
	ext := filepath.Ext(c.Output)
	return strings.TrimSuffix(c.Output, ext) + "-" + view.Name + ext
}

// BackgroundColor returns the opaque background color from the RGB
// components in [0, 1]. Missing components are 0.
func (c *Config) BackgroundColor() color.Color {
	var rgb [3]uint8
	for i := range min(len(c.Background), 3) {
		rgb[i] = uint8(max(0, min(1, c.Background[i]))*255 + 0.5)
	}
	return color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255}
}

// Property builds the volume property. Missing curves default to a warm
// ramp over [0, Phantom.Value].
func (c *Config) Property() *host.VolumeProperty {
	v := c.Phantom.Value
	colors := make([]host.ColorPoint, 0, len(c.Color))
	for _, p := range c.Color {
		colors = append(colors, host.ColorPoint{X: p.X, R: p.R, G: p.G, B: p.B})
	}
	if len(colors) == 0 {
		colors = []host.ColorPoint{
			{X: 0},
			{X: v / 2, R: 0.9, G: 0.4, B: 0.2},
			{X: v, R: 1, G: 0.95, B: 0.85},
		}
	}
	opacity := make([]host.ControlPoint, 0, len(c.Opacity))
	for _, p := range c.Opacity {
		opacity = append(opacity, host.ControlPoint{X: p.X, Y: p.Y})
	}
	if len(opacity) == 0 {
		opacity = []host.ControlPoint{{X: 0}, {X: v / 4}, {X: v, Y: 0.6}}
	}

	prop := host.NewVolumeProperty()
	prop.SetColor(host.NewColorTransferFunction(colors...))
	prop.SetScalarOpacity(host.NewPiecewiseFunction(opacity...))
	if c.Shading {
		s := prop.Shading()
		s.Enabled = true
		prop.SetShading(s)
	}
	return prop
}
