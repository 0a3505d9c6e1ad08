package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow is the coalescing window applied when none is
// configured.
const DefaultDebounceWindow = 200 * time.Millisecond

// FileWatcher watches one file and emits a tick after each burst of
// changes to it.
type FileWatcher struct {
	path   string
	window time.Duration

	ticks chan struct{}
	errs  chan error

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	stopped bool
}

// New creates a watcher for the given file. The file itself does not
// need to exist yet; its directory does.
func New(path string, window time.Duration) *FileWatcher {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &FileWatcher{
		path:   filepath.Clean(path),
		window: window,
		ticks:  make(chan struct{}, 1),
		errs:   make(chan error, 4),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins watching. The watcher runs until Stop is called or the
// context is cancelled.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the containing directory: editors and runtimes often
	// replace files, which breaks a direct file watch.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.fsw = fsw
	w.started = true
	go w.run(ctx)
	return nil
}

// Ticks returns the channel receiving one tick per coalesced burst of
// changes. The channel is never closed; select against the watcher's
// lifetime instead.
func (w *FileWatcher) Ticks() <-chan struct{} {
	return w.ticks
}

// Errors returns non-fatal watcher errors.
func (w *FileWatcher) Errors() <-chan error {
	return w.errs
}

// Stop stops the watcher and releases resources. Safe to call more
// than once.
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	close(w.stopCh)
	w.mu.Unlock()

	if started {
		<-w.doneCh
	}
}

// run is the event loop: filter to the watched file, debounce, tick.
func (w *FileWatcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.fsw.Close()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.window)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timerC:
					default:
					}
				}
				timer.Reset(w.window)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			select {
			case w.ticks <- struct{}{}:
			default:
				// A tick is already pending; the consumer will see the
				// latest file state when it gets to it.
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}
