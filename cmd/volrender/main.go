// Command volrender ray casts a synthetic volume phantom to PNG.
//
// Usage:
//
//	volrender [flags]
//
// Settings come from an optional TOML or YAML file (-config) and are
// overridden by flags given on the command line. Several views are
// rendered concurrently, sharing one device registry. With -watch the
// views are re-rendered every time the config file changes.
//
// Example config (volume.toml):
//
//	output = "head.png"
//	width = 800
//	height = 600
//
//	[phantom]
//	kind = "shells"
//	type = "uint16"
//	size = 96
//	value = 1000
//
//	[[views]]
//	name = "front"
//
//	[[views]]
//	name = "side"
//	azimuth = 90
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/gogpu/volren"
	_ "github.com/gogpu/volren/backend/wgpu"
	"github.com/gogpu/volren/device"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "volrender:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("volrender", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "", "TOML or YAML config file")
		output     = fs.String("output", "", "output PNG file")
		width      = fs.Int("width", 0, "image width")
		height     = fs.Int("height", 0, "image height")
		driver     = fs.String("driver", "", "device driver (software, wgpu, wgpu-software; default picks the best)")
		devices    = fs.Int("devices", 0, "emulated devices for the software driver")
		scale      = fs.Float64("scale", 0, "render at 1/scale of the image resolution")
		kind       = fs.String("phantom", "", "phantom kind: sphere, shells or cube")
		size       = fs.Int("size", 0, "phantom edge length in voxels")
		shading    = fs.Bool("shading", false, "enable gradient shading")
		watch      = fs.Bool("watch", false, "re-render when the config file changes")
		list       = fs.Bool("list-drivers", false, "print the registered drivers and exit")
		verbose    = fs.Bool("v", false, "verbose logging")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	volren.SetLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))
	log := volren.Logger()

	if *list {
		fmt.Fprintln(stderr, strings.Join(device.AvailableDrivers(), "\n"))
		return nil
	}

	// Only flags given on the command line override the config file.
	overrides := func(cfg *Config) {
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "output":
				cfg.Output = *output
			case "width":
				cfg.Width = *width
			case "height":
				cfg.Height = *height
			case "driver":
				cfg.Driver = *driver
			case "devices":
				cfg.Devices = *devices
			case "scale":
				cfg.Scale = *scale
			case "phantom":
				cfg.Phantom.Kind = *kind
			case "size":
				cfg.Phantom.Size = *size
			case "shading":
				cfg.Shading = *shading
			}
		})
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = LoadConfig(*configPath); err != nil {
			return err
		}
	}
	overrides(&cfg)
	if *watch && *configPath == "" {
		return errors.New("-watch needs -config")
	}

	drv, name, err := openDriver(cfg.Driver, cfg.Devices)
	if err != nil {
		return err
	}
	defer func() {
		if err := drv.Close(); err != nil {
			log.Warn("volrender: close driver", "err", err)
		}
	}()
	reg := device.NewRegistry(drv)
	defer func() { _ = reg.Close() }()
	log.Info("volrender: driver ready", "driver", name, "devices", drv.DeviceCount())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	render := func(cfg Config) error {
		results, err := Render(ctx, reg, cfg)
		if err != nil {
			return err
		}
		for _, r := range results {
			log.Info("volrender: view written",
				"view", r.Name, "path", r.Path, "device", r.Device,
				"resolution", fmt.Sprintf("%dx%d", r.Stats.Resolution[0], r.Stats.Resolution[1]),
				"elapsed", r.Elapsed)
		}
		return nil
	}

	if err := render(cfg); err != nil {
		if !*watch {
			return err
		}
		log.Warn("volrender: render failed", "err", err)
	}
	if *watch {
		return Watch(ctx, *configPath, render, overrides)
	}
	return nil
}

// openDriver opens the named driver. An empty name picks the best
// registered driver.
func openDriver(name string, devices int) (device.Driver, string, error) {
	switch name {
	case "", "auto":
		return device.OpenDefaultDriver()
	case device.DriverSoftware:
		return device.NewSoftwareDriver(device.WithDevices(devices)), name, nil
	default:
		drv, err := device.OpenDriver(name)
		return drv, name, err
	}
}
