package appwd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchBootMarker calls fn once the file at path exists, then returns. If it
// exists already fn runs right away. The parent directory must exist.
func WatchBootMarker(ctx context.Context, path string, fn func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("appwd: boot marker watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("appwd: watch %s: %w", dir, err)
	}

	// Checked after Add so a marker created in between is not missed.
	if _, err := os.Stat(path); err == nil {
		fn()
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("appwd: boot marker: %w", err)
	}

	want := filepath.Clean(path)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("appwd: boot marker watcher closed")
			}
			if filepath.Clean(ev.Name) != want || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			fn()
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("appwd: boot marker watcher closed")
			}
			return fmt.Errorf("appwd: boot marker watcher: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
