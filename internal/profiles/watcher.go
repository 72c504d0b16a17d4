package profiles

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"chatroute/pkg/logger"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads the store when the document changes on disk. Editors and
// WriteConfig both replace the file by rename, so the directory is watched
// and events are filtered by name.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	delay    time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for store. A non-positive delay uses 100ms.
func NewWatcher(store *Store, delay time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if delay <= 0 {
		delay = defaultDebounce
	}
	return &Watcher{
		store:   store,
		watcher: w,
		delay:   delay,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.store.Path())); err != nil {
		return err
	}
	go w.run()
	return nil
}

func (w *Watcher) run() {
	name := filepath.Base(w.store.Path())
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		logger.Debug().Str("path", w.store.Path()).Msg("Config changed, reloading")
		w.store.notify()
	})
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		w.watcher.Close()
	})
}
