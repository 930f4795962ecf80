// Package watcher triggers reloads when watched files change, coalescing bursts of fsnotify
// events into one callback.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-greeter/internal/constants"
	"github.com/kozaktomas/face-greeter/internal/logging"
)

// Watcher watches directories and calls onChange once per burst of matching events.
type Watcher struct {
	roots     []string
	match     func(path string) bool
	onChange  func(ctx context.Context)
	debounce  time.Duration
	recursive bool
	logger    *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger. Nil means no logging.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = logging.OrNop(l) }
}

// WithDebounce sets the quiet period after the last event before onChange runs.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRecursive also watches sub-directories, including ones created later.
func WithRecursive() Option {
	return func(w *Watcher) { w.recursive = true }
}

// New creates a watcher over roots. match filters event paths (nil matches everything).
// onChange runs on the watcher goroutine, so a slow callback delays the next one instead of
// overlapping it.
func New(roots []string, match func(path string) bool, onChange func(ctx context.Context), opts ...Option) *Watcher {
	w := &Watcher{
		roots:    roots,
		match:    match,
		onChange: onChange,
		debounce: constants.WatchDebounce,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. Missing roots are created.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.roots) == 0 {
		return errors.New("watcher: no directories to watch")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, root := range w.roots {
		if err := w.addRoot(fw, root); err != nil {
			return err
		}
	}
	w.logger.Debug("watcher started", zap.Strings("roots", w.roots), zap.Bool("recursive", w.recursive))

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.handleEvent(fw, ev) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			w.logger.Debug("watched files changed")
			w.onChange(ctx)
		}
	}
}

// handleEvent reports whether ev should trigger a change.
func (w *Watcher) handleEvent(fw *fsnotify.Watcher, ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))

	if w.recursive && ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(fw, ev.Name); err != nil {
				w.logger.Warn("watcher failed to add directory", zap.String("path", ev.Name), zap.Error(err))
			}
			return true
		}
	}
	return w.match == nil || w.match(ev.Name)
}

func (w *Watcher) addRoot(fw *fsnotify.Watcher, root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	if !w.recursive {
		return fw.Add(root)
	}
	return w.addTree(fw, root)
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}
