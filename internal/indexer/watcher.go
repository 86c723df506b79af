package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"sortd/internal/logging"
)

// Watcher invalidates the index when the tree changes underneath it. Events
// are debounced: the callback fires once per quiet period, not once per
// write, so a burst of downloads triggers a single rescan.
type Watcher struct {
	root     string
	debounce time.Duration
	onChange func()

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	running bool
}

// NewWatcher creates a watcher over root. onChange runs on the watcher
// goroutine after each debounced burst of events.
func NewWatcher(root string, debounce time.Duration, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		onChange: onChange,
		watcher:  fsw,
	}, nil
}

// Run watches until the context is cancelled. fsnotify does not recurse, so
// every non-hidden directory under root is registered, including ones that
// appear while running.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer w.watcher.Close()
		return w.loop(ctx)
	})
	return g.Wait()
}

func (w *Watcher) loop(ctx context.Context) error {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			logging.Indexer("watcher stopping")
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.ignorable(ev.Name) {
				continue
			}
			logging.IndexerDebug("fs event: %s %s", ev.Op, ev.Name)

			// A new directory must be watched too.
			if ev.Op.Has(fsnotify.Create) {
				w.maybeWatchDir(ev.Name)
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryIndexer).Error("watcher error: %v", err)

		case <-fire:
			timer = nil
			fire = nil
			logging.Indexer("tree changed, invalidating index")
			if w.onChange != nil {
				w.onChange()
			}
		}
	}
}

// ignorable filters events from hidden directories, including the
// application's own state writes.
func (w *Watcher) ignorable(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if addErr := w.watcher.Add(path); addErr != nil {
			logging.IndexerDebug("cannot watch %s: %v", path, addErr)
		}
		return nil
	})
}

func (w *Watcher) maybeWatchDir(path string) {
	if w.ignorable(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	_ = w.addRecursive(path)
}
