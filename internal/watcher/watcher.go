// Package watcher reports file creations, changes and deletions under a
// workspace directory.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// excludedDirs are never watched.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
}

// Handler receives file notifications. events.Normalizer implements it.
type Handler interface {
	FileCreated(ctx context.Context, path string)
	FileChanged(ctx context.Context, path string)
	FileDeleted(ctx context.Context, path string)
}

// Watcher monitors a directory tree for file changes.
type Watcher struct {
	root    string
	exclude []string
	handler Handler
	log     zerolog.Logger

	mu        sync.Mutex
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
	done      chan struct{}
}

// New creates a watcher for root. exclude holds doublestar globs matched
// against slash-separated paths relative to root.
func New(root string, exclude []string, handler Handler, log zerolog.Logger) *Watcher {
	return &Watcher{
		root:    root,
		exclude: exclude,
		handler: handler,
		log:     log.With().Str("component", "watcher").Str("root", root).Logger(),
	}
}

// Start adds root and its subdirectories and runs the event loop until ctx is
// done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := w.addDirsRecursive(fsW, w.root); err != nil {
		_ = fsW.Close()
		return err
	}

	w.mu.Lock()
	w.fsWatcher = fsW
	w.cancel = make(chan struct{})
	w.done = make(chan struct{})
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	go w.watchLoop(ctx, fsW, cancel, done)

	w.log.Debug().Msg("watching workspace")
	return nil
}

// Close stops the event loop and waits for it to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	fsW, cancel, done := w.fsWatcher, w.cancel, w.done
	w.fsWatcher, w.cancel, w.done = nil, nil, nil
	w.mu.Unlock()

	if fsW == nil {
		return nil
	}

	close(cancel)
	err := fsW.Close()
	<-done
	return err
}

func (w *Watcher) watchLoop(ctx context.Context, fsW *fsnotify.Watcher, cancel, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return

		case <-cancel:
			return

		case event, ok := <-fsW.Events:
			if !ok {
				return
			}
			w.handle(ctx, fsW, event)

		case err, ok := <-fsW.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fsW *fsnotify.Watcher, event fsnotify.Event) {
	if w.excluded(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		// If a new directory is created, watch it too.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDirsRecursive(fsW, event.Name); err != nil {
				w.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
			}
		}
		w.handler.FileCreated(ctx, event.Name)

	case event.Has(fsnotify.Write):
		w.handler.FileChanged(ctx, event.Name)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.handler.FileDeleted(ctx, event.Name)
	}
}

// excluded reports whether path lies in an excluded directory or matches an
// exclude glob.
func (w *Watcher) excluded(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	for dir := filepath.Dir(filepath.FromSlash(rel)); dir != "." && dir != ".."; dir = filepath.Dir(dir) {
		if excludedDirs[filepath.Base(dir)] {
			return true
		}
	}
	if excludedDirs[filepath.Base(path)] {
		return true
	}

	for _, pattern := range w.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// addDirsRecursive adds a directory and its subdirectories to an fsnotify watcher.
func (w *Watcher) addDirsRecursive(fsW *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil // Skip inaccessible paths.
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.excluded(path) {
			return filepath.SkipDir
		}

		if err := fsW.Add(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
}
