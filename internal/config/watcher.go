package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the device config file and calls onChange with the freshly
// loaded config whenever it is rewritten. Friends can be added or removed
// by the setup tooling while the daemon runs; everything else in the file is
// picked up on the next restart. It blocks until the context is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Device)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and provisioning scripts replace the
	// file rather than writing in place.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	log := slog.Default().With("component", "config-watcher")
	base := filepath.Base(path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadDevice(path)
			if err != nil {
				log.Warn("config reload failed, keeping previous", "error", err)
				continue
			}
			log.Info("config reloaded", "friends", len(cfg.Friends))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", "error", err)
		}
	}
}
