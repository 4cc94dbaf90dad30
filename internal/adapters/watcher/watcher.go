package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.Watcher = (*Watcher)(nil)

// Watcher reports changes to individual program files. fsnotify watches
// directories, so the parent of every watched file is added and events for
// other files in it are ignored.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	logger    ports.Logger

	mu    sync.Mutex
	files map[string]struct{}
	dirs  map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewWatcher starts a watcher that calls onChange with batches of changed
// program paths, coalesced over window.
func NewWatcher(window time.Duration, logger ports.Logger, onChange func(paths []string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, zerr.Wrap(err, "failed to create file watcher")
	}
	w := &Watcher{
		fsWatcher: fsw,
		debouncer: NewDebouncer(window, onChange),
		logger:    logger,
		files:     make(map[string]struct{}),
		dirs:      make(map[string]struct{}),
		done:      make(chan struct{}),
	}
	go w.processEvents()
	return w, nil
}

// Factory returns a ports.WatcherFactory producing watchers with the given window.
func Factory(window time.Duration, logger ports.Logger) ports.WatcherFactory {
	return func(onChange func(paths []string)) (ports.Watcher, error) {
		return NewWatcher(window, logger, onChange)
	}
}

// Watch starts reporting changes to the file at path.
func (w *Watcher) Watch(path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.files[path]; ok {
		return nil
	}
	if _, ok := w.dirs[dir]; !ok {
		if err := w.fsWatcher.Add(dir); err != nil {
			return zerr.With(zerr.Wrap(err, "failed to watch directory"), "dir", dir)
		}
		w.dirs[dir] = struct{}{}
	}
	w.files[path] = struct{}{}
	return nil
}

// Close stops watching and waits for a running notification to return.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.fsWatcher.Close()
		<-w.done
		w.debouncer.Stop()
	})
	return w.closeErr
}

func (w *Watcher) processEvents() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if w.isWatched(event.Name) {
				w.debouncer.Add(filepath.Clean(event.Name))
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error: " + err.Error())
		}
	}
}

func (w *Watcher) isWatched(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[filepath.Clean(path)]
	return ok
}
