package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports keys removed from a FileStore directory by other processes
type Watcher struct {
	watcher *fsnotify.Watcher
	root    string
}

// NewWatcher starts watching root
func NewWatcher(root string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(root); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}
	return &Watcher{watcher: w, root: root}, nil
}

// Run calls onRemove for every removed or renamed-away key until ctx ends.
// Temp files written by FileStore.Set are ignored. onError may be nil.
func (w *Watcher) Run(ctx context.Context, onRemove func(key string), onError func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			key := filepath.Base(event.Name)
			if strings.HasPrefix(key, ".") {
				continue
			}
			onRemove(key)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
