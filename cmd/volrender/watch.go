package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gogpu/volren"
)

// settleDelay coalesces the burst of events editors emit on save.
const settleDelay = 150 * time.Millisecond

// Watch re-renders whenever the config file changes, until ctx is done.
// The directory is watched rather than the file so that editors which
// replace the file on save keep triggering events. A config that fails
// to load or render is logged and the previous output is kept.
func Watch(ctx context.Context, path string, render func(Config) error, overrides func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer func() { _ = w.Close() }()

	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	log := volren.Logger().With("config", path)
	log.Info("volrender: watching config")

	timer := time.NewTimer(settleDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(settleDelay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("volrender: watcher error", "err", err)
		case <-timer.C:
			cfg, err := LoadConfig(path)
			if err != nil {
				log.Warn("volrender: reload failed", "err", err)
				continue
			}
			if overrides != nil {
				overrides(&cfg)
			}
			if err := render(cfg); err != nil {
				log.Warn("volrender: render failed", "err", err)
			}
		}
	}
}
