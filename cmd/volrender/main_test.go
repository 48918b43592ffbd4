package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "cube.png")
	var stderr bytes.Buffer
	err := run(context.Background(), []string{
		"-driver", "software",
		"-output", out,
		"-width", "40", "-height", "30",
		"-phantom", "cube", "-size", "12",
		"-shading",
	}, &stderr)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, stderr.String())
	}
	if w, h := decodePNG(t, out); w != 40 || h != 30 {
		t.Errorf("PNG is %dx%d, want 40x30", w, h)
	}
	if !strings.Contains(stderr.String(), "view written") {
		t.Errorf("log missing view line:\n%s", stderr.String())
	}
}

func TestRunConfigWithOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "volume.toml", tomlConfig)
	out := filepath.Join(dir, "renders.png")
	var stderr bytes.Buffer
	err := run(context.Background(), []string{
		"-config", cfgPath,
		"-driver", "software", "-devices", "2",
		"-output", out,
		"-width", "50",
	}, &stderr)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, stderr.String())
	}
	for _, view := range []string{"front", "side"} {
		path := filepath.Join(dir, "renders-"+view+".png")
		if w, h := decodePNG(t, path); w != 50 || h != 240 {
			t.Errorf("%s: PNG is %dx%d, want 50x240", view, w, h)
		}
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"help", []string{"-h"}, flag.ErrHelp},
		{"watch without config", []string{"-watch"}, nil},
		{"unknown driver", []string{"-driver", "metal"}, nil},
		{"missing config", []string{"-config", "missing.toml"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			err := run(context.Background(), tt.args, &stderr)
			if err == nil {
				t.Fatal("run succeeded")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("run = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRunListDrivers(t *testing.T) {
	var stderr bytes.Buffer
	if err := run(context.Background(), []string{"-list-drivers"}, &stderr); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"software", "wgpu", "wgpu-software"} {
		if !strings.Contains(stderr.String(), name) {
			t.Errorf("driver list missing %s:\n%s", name, stderr.String())
		}
	}
}
