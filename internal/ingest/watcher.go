package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used when WatcherConfig.Debounce is not positive.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches a directory tree and keeps the index in sync with it.
// Changed files are re-ingested once they have been quiet for the debounce
// period; removed files are deleted from the index.
type Watcher struct {
	ingester *Ingester
	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[string]time.Time
}

// WatcherConfig contains watcher configuration.
type WatcherConfig struct {
	Ingester *Ingester
	Dir      string
	Debounce time.Duration
}

// NewWatcher creates a watcher and registers every directory under Dir.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	w := &Watcher{
		ingester: cfg.Ingester,
		dir:      cfg.Dir,
		debounce: cfg.Debounce,
		watcher:  fw,
		pending:  make(map[string]time.Time),
	}
	if err := w.addWatchDirs(cfg.Dir); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Watch processes file events until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	slog.Info("watching for file changes", "dir", w.dir, "debounce", w.debounce)

	ticker := time.NewTicker(w.debounce / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping watcher")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// addWatchDirs recursively adds directories to watch.
func (w *Watcher) addWatchDirs(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipDir(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			slog.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) skipDir(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return true
	}
	return w.ingester.excluded(filepath.ToSlash(rel))
}

// handleEvent queues a relevant event for the debounced flush.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	// New directories are watched and their existing files queued.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.skipDir(event.Name) {
				return
			}
			if err := w.addWatchDirs(event.Name); err != nil {
				slog.Warn("failed to watch directory", "path", event.Name, "error", err)
			}
			if files, err := w.ingester.scan(context.Background(), event.Name); err == nil {
				for _, f := range files {
					w.queue(f)
				}
			}
			return
		}
	}

	rel, err := filepath.Rel(w.dir, event.Name)
	if err != nil || !w.ingester.Matches(filepath.ToSlash(rel)) {
		return
	}
	w.queue(event.Name)
	slog.Debug("file changed", "path", rel, "op", event.Op.String())
}

func (w *Watcher) queue(path string) {
	w.pendingMu.Lock()
	w.pending[path] = time.Now()
	w.pendingMu.Unlock()
}

// flush processes files that have been quiet for the debounce period.
func (w *Watcher) flush(ctx context.Context) {
	now := time.Now()
	var ready []string

	w.pendingMu.Lock()
	for path, changedAt := range w.pending {
		if now.Sub(changedAt) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.pendingMu.Unlock()

	for _, path := range ready {
		if ctx.Err() != nil {
			return
		}
		w.sync(ctx, path)
	}
}

// sync re-ingests path, or removes its documents when it no longer exists.
func (w *Watcher) sync(ctx context.Context, path string) {
	source := w.ingester.SourceName(path)

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		n, err := w.ingester.Remove(ctx, source)
		if err != nil {
			slog.Warn("failed to remove documents", "source", source, "error", err)
			return
		}
		slog.Info("removed deleted file from index", "source", source, "documents", n)
		return
	}
	if err != nil {
		slog.Warn("failed to stat file", "path", path, "error", err)
		return
	}
	if info.IsDir() {
		return
	}

	n, err := w.ingester.IngestFile(ctx, path)
	if err != nil {
		slog.Warn("failed to ingest file", "path", path, "error", err)
		return
	}
	slog.Info("re-ingested file", "source", source, "chunks", n)
}

// Close closes the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
