// Package watcher feeds photos dropped into per-user upload directories into the index.
//
// The watched root holds one directory per user; a file at <root>/<userID>/.../photo.jpg is
// indexed for userID when it appears and removed from userID's index when it disappears.
// A sibling text file with the same base name (photo.txt) supplies the caption.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/kioku/internal/indexer"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// PhotoIndex is the part of indexer.Manager the watcher drives.
type PhotoIndex interface {
	Add(ctx context.Context, userID, path, caption string) (*indexer.Collection, error)
	Delete(ctx context.Context, userID, path string) error
	Contains(ctx context.Context, userID, path string) (bool, error)
}

// Watcher watches an upload root and keeps each user's index in step with it.
type Watcher struct {
	root       string
	extensions []string
	index      PhotoIndex
	debounce   time.Duration
	logger     *zap.Logger
	watcher    *fsnotify.Watcher
	ctx        context.Context
	mu         sync.Mutex
	pending    map[string]*time.Timer
	inflight   sync.WaitGroup
	done       chan struct{}
	started    bool
	stopOnce   sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a file must be quiet before it is indexed.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New returns a watcher over root. Only files whose extension is in extensions are
// considered; an empty list accepts every file except caption sidecars.
func New(root string, extensions []string, index PhotoIndex, opts ...Option) *Watcher {
	w := &Watcher{
		root:       filepath.Clean(root),
		extensions: extensions,
		index:      index,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start creates the root if needed, watches it and every directory below it, and returns.
// Events are handled until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != w.root && hidden(d.Name()) {
				return filepath.SkipDir
			}
			return fw.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw
	w.ctx = ctx
	w.started = true
	w.logger.Info("upload watcher started", zap.String("root", w.root), zap.Strings("extensions", w.extensions))
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("upload watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	w.logger.Debug("upload watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if _, ok := w.photoOwner(path); ok {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancel(path)
		if userID, ok := w.photoOwner(path); ok {
			w.remove(userID, path)
		}
	}
}

// photoOwner returns the user a photo path belongs to, or false when the path is not a
// photo inside a valid user directory.
func (w *Watcher) photoOwner(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 2 {
		return "", false
	}
	for _, p := range parts {
		if hidden(p) {
			return "", false
		}
	}
	if indexer.ValidateUserID(parts[0]) != nil {
		return "", false
	}
	ext := filepath.Ext(path)
	if strings.EqualFold(ext, captionExt) {
		return "", false
	}
	if len(w.extensions) > 0 && !indexer.ExtensionAllowed(ext, w.extensions) {
		return "", false
	}
	return parts[0], true
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// handleNewDirectory watches a directory moved or created under the root and indexes the
// photos already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if hidden(d.Name()) {
				return filepath.SkipDir
			}
			if err := fw.Add(path); err != nil {
				w.logger.Warn("failed to watch directory", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		if _, ok := w.photoOwner(path); ok {
			w.schedule(path)
		}
		return nil
	})
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if userID, ok := w.photoOwner(path); ok {
			w.add(userID, path)
		}
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// begin registers an index call. It returns false once the watcher is stopped.
func (w *Watcher) begin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return false
	}
	w.inflight.Add(1)
	return true
}

// add indexes path unless it is already indexed.
func (w *Watcher) add(userID, path string) {
	if !w.begin() {
		return
	}
	defer w.inflight.Done()
	ctx := w.ctx
	if _, err := os.Stat(path); err != nil {
		return
	}
	ok, err := w.index.Contains(ctx, userID, path)
	if err != nil {
		w.logger.Warn("upload watcher lookup failed", zap.String("user", userID), zap.String("path", path), zap.Error(err))
		return
	}
	if ok {
		return
	}
	if _, err := w.index.Add(ctx, userID, path, readCaption(path)); err != nil {
		w.logger.Warn("upload watcher failed to index photo", zap.String("user", userID), zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("indexed uploaded photo", zap.String("user", userID), zap.String("path", path))
}

func (w *Watcher) remove(userID, path string) {
	if !w.begin() {
		return
	}
	defer w.inflight.Done()
	err := w.index.Delete(w.ctx, userID, path)
	switch {
	case err == nil:
		w.logger.Info("removed deleted photo", zap.String("user", userID), zap.String("path", path))
	case errors.Is(err, indexer.ErrNotFound):
	default:
		w.logger.Warn("upload watcher failed to remove photo", zap.String("user", userID), zap.String("path", path), zap.Error(err))
	}
}

// SyncExisting indexes every photo already under the root that is not yet indexed.
// Call it after Start. It returns the number of photos it tried to add.
func (w *Watcher) SyncExisting() int {
	n := 0
	_ = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != w.root && hidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if userID, ok := w.photoOwner(path); ok {
			w.add(userID, path)
			n++
		}
		return nil
	})
	w.logger.Debug("upload watcher synced existing photos", zap.Int("photos", n))
	return n
}

// Root returns the watched upload root.
func (w *Watcher) Root() string {
	return w.root
}

// Stop stops watching, drops pending debounced adds and waits for running index calls.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
	w.inflight.Wait()
}
