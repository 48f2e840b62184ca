package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// rescanDelay coalesces bursts of events from a plugin being unpacked.
const rescanDelay = 200 * time.Millisecond

// Watch rescans the registry whenever a plugin directory changes, until ctx
// is done. onChange, if non-nil, runs after each rescan.
func (r *Registry) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create plugin watcher: %w", err)
	}
	defer watcher.Close()

	watched := 0
	for _, dir := range r.dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			r.logger.Warn("failed to watch plugin directory", "path", dir, "error", err)
			continue
		}
		watched++
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			if e.IsDir() {
				_ = watcher.Add(filepath.Join(dir, e.Name()))
			}
		}
	}
	if watched == 0 {
		r.logger.Debug("no plugin directories to watch")
	}

	timer := time.NewTimer(rescanDelay)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Watch new plugin directories so edits to their metadata count too.
			if event.Op&fsnotify.Create == fsnotify.Create {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			timer.Reset(rescanDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("plugin watcher error", "error", err)
		case <-timer.C:
			if err := r.Scan(ctx); err != nil {
				r.logger.Warn("failed to rescan plugins", "error", err)
			}
			if onChange != nil {
				onChange()
			}
		}
	}
}
