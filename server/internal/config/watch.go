package config

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors path for changes and calls onChange with the newly loaded
// Config each time the file changes. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file, so atomic saves
// (write a temp file, rename it over path) and symlink swaps such as a
// Kubernetes ConfigMap update are picked up as well as in-place writes.
//
// If a reload fails (e.g., invalid YAML), the error is logged and the
// previous config remains active. Watch does not call onChange.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	target := resolve(path)
	slog.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Events for path itself, or for anything that moved the file
			// path resolves to (the ..data swap of a mounted ConfigMap).
			next := resolve(path)
			if filepath.Clean(event.Name) != path && next == target {
				continue
			}
			target = next

			cfg, err := Load(path)
			if errors.Is(err, fs.ErrNotExist) {
				// Renamed away; the replacement arrives as a Create.
				slog.Debug("config: file moved, waiting for replacement", "path", path)
				continue
			}
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}

			slog.Info("config: reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// resolve returns the file path ultimately points at, or "" when it is
// missing.
func resolve(path string) string {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return ""
	}
	return real
}
