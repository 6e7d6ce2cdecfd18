package tablemap

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"sqlbridge/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the mapping CSV when the data team publishes a new
// version. It watches the containing directory because most tools write
// a temp file and rename it over the old one.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	mapper      *Mapper
	csvPath     string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity for diagnostics.
type WatcherStats struct {
	EventsSeen    int
	Reloads       int
	ReloadErrors  int
	LastEventTime time.Time
	LastEventPath string
}

// NewWatcher creates a watcher that reloads mapper whenever csvPath
// changes on disk.
func NewWatcher(csvPath string, mapper *Mapper) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:     watcher,
		mapper:      mapper,
		csvPath:     filepath.Clean(csvPath),
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // Settle window for rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the watcher runs in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.csvPath)
	if err := w.watcher.Add(dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	logging.TableMap("watching %s for mapping updates", dir)

	go w.run(ctx)

	return nil
}

// Stop stops the watcher and waits for cleanup.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryTableMap).Error("error closing watcher: %v", err)
	}
	logging.TableMap("watcher stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryTableMap).Error("watcher error: %v", err)

		case <-debounceTicker.C:
			w.processDebouncedEvents()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.csvPath {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	logging.TableMapDebug("%s event for %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.EventsSeen++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebouncedEvents() {
	w.mu.Lock()
	now := time.Now()
	settled := false
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			settled = true
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	if !settled {
		return
	}

	if err := w.mapper.Reload(); err != nil {
		logging.Get(logging.CategoryTableMap).Error("reload failed, keeping previous mapping: %v", err)
		w.mu.Lock()
		w.stats.ReloadErrors++
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.stats.Reloads++
	w.mu.Unlock()
	logging.TableMap("mapping reloaded (%d entries)", w.mapper.Size())
}

// GetStats returns the current watcher statistics.
func (w *Watcher) GetStats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsWatching returns true if the watcher is currently running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
