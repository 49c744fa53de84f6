// Package watcher keeps watched directories in sync with the document index using fsnotify.
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
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Sink receives file changes. *indexer.Indexer satisfies it.
type Sink interface {
	IndexFile(ctx context.Context, path string) error
	DeleteDocument(ctx context.Context, id string) error
}

// Watcher indexes files created or written under its roots and removes documents
// whose files are deleted.
type Watcher struct {
	sink       Sink
	extensions []string
	recursive  bool
	debounce   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	roots   []string
	watched map[string][]string // root -> directories added to fsw
	pending map[string]*time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watcher events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a path must stay quiet before it is indexed.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher over roots. Only files whose extension is in
// extensions are passed to sink; an empty list matches every file.
func NewWatcher(roots, extensions []string, recursive bool, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		sink:       sink,
		extensions: extensions,
		recursive:  recursive,
		debounce:   defaultDebounce,
		watched:    make(map[string][]string),
		pending:    make(map[string]*time.Timer),
	}
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			w.roots = append(w.roots, filepath.Clean(abs))
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
// Missing roots are created.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	for _, root := range w.roots {
		if err := w.watchRootLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.debug("watcher started", zap.Strings("roots", w.roots), zap.Bool("recursive", w.recursive))
	go w.run(w.ctx, fsw)
	return nil
}

// Stop stops the watcher and drops pending debounced work.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.cancel()
	_ = w.fsw.Close()
	w.fsw = nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	w.debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.matches(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.unschedule(path)
		if w.matches(path) {
			w.remove(path)
		}
	}
}

// handleNewDirectory watches a directory created (or moved) under a root and
// indexes what it already contains.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	paths, err := w.addTreeLocked(dir)
	if err != nil && w.logger != nil {
		w.logger.Warn("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	if root := w.rootOfLocked(dir); root != "" {
		w.watched[root] = append(w.watched[root], paths...)
	}
	w.mu.Unlock()
	w.syncDirectory(dir)
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.index(path)
	})
}

func (w *Watcher) unschedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) baseContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

func (w *Watcher) index(path string) {
	if w.sink == nil {
		return
	}
	ctx := w.baseContext()
	if ctx.Err() != nil {
		return
	}
	w.debug("watcher indexing file", zap.String("path", path))
	if err := w.sink.IndexFile(ctx, path); err != nil && w.logger != nil {
		w.logger.Warn("watcher index file failed", zap.String("path", path), zap.Error(err))
	}
}

func (w *Watcher) remove(path string) {
	if w.sink == nil {
		return
	}
	id := fileid.FileDocID(path)
	err := w.sink.DeleteDocument(w.baseContext(), id)
	switch {
	case err == nil:
		w.debug("watcher removed document", zap.String("path", path), zap.String("doc_id", id))
	case errors.Is(err, models.ErrNotFound):
	default:
		if w.logger != nil {
			w.logger.Warn("watcher delete failed", zap.String("path", path), zap.Error(err))
		}
	}
}

// AddDirectory adds a root directory and, when syncExisting is set, indexes the
// files already in it in the background.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.roots {
		if r == abs {
			return nil
		}
	}
	if w.fsw != nil {
		if err := w.watchRootLocked(abs); err != nil {
			return err
		}
	}
	w.roots = append(w.roots, abs)
	w.debug("watcher directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting && w.fsw != nil {
		go w.syncDirectory(abs)
	}
	return nil
}

// RemoveDirectory stops watching root. Documents already indexed from it are kept.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, r := range w.roots {
		if r != abs {
			continue
		}
		if w.fsw != nil {
			for _, p := range w.watched[abs] {
				_ = w.fsw.Remove(p)
			}
		}
		delete(w.watched, abs)
		w.roots = append(w.roots[:i], w.roots[i+1:]...)
		w.debug("watcher directory removed", zap.String("path", abs))
		return nil
	}
	return nil
}

// Directories returns a copy of the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles indexes every matching file under the roots. Call it after
// Start to pick up files that were present before the watcher ran.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

func (w *Watcher) syncDirectory(root string) {
	w.debug("watcher syncing directory", zap.String("root", root))
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if w.matches(path) {
			w.index(path)
		}
		return nil
	})
}

func (w *Watcher) watchRootLocked(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	paths, err := w.addTreeLocked(root)
	if err != nil {
		for _, p := range paths {
			_ = w.fsw.Remove(p)
		}
		return err
	}
	w.watched[root] = paths
	return nil
}

// addTreeLocked adds dir, and its subdirectories when recursive, to fsw.
func (w *Watcher) addTreeLocked(dir string) ([]string, error) {
	if !w.recursive {
		if err := w.fsw.Add(dir); err != nil {
			return nil, err
		}
		return []string{dir}, nil
	}
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

func (w *Watcher) rootOfLocked(path string) string {
	for _, r := range w.roots {
		if inDir(r, path) {
			return r
		}
	}
	return ""
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rootOfLocked(path) != ""
}

func (w *Watcher) matches(path string) bool {
	return matchExtension(path, w.extensions)
}

func (w *Watcher) debug(msg string, fields ...zap.Field) {
	if w.logger != nil {
		w.logger.Debug(msg, fields...)
	}
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}
