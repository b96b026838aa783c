package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent signals that a watched config file changed on disk.
type ReloadEvent struct {
	Path string
	Op   string
}

// Watch emits a ReloadEvent whenever config.yaml is written, created, or
// renamed. The returned channel closes when ctx is cancelled.
func Watch(ctx context.Context, homeDir string, logger *slog.Logger) (<-chan ReloadEvent, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory rather than the file: editors replace the file on
	// save, which would otherwise drop the watch.
	if err := watcher.Add(homeDir); err != nil {
		watcher.Close()
		return nil, err
	}

	target := ConfigPath(homeDir)
	events := make(chan ReloadEvent, 16)

	go func() {
		defer watcher.Close()
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case events <- ReloadEvent{Path: ev.Name, Op: ev.Op.String()}:
				default:
					// Drop rather than block; a reload is already pending.
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if logger != nil {
					logger.Warn("config watcher error", "error", err)
				}
			}
		}
	}()

	return events, nil
}
