// Package engine implements the background indexing engine: it watches
// session transcript files, builds and incrementally updates their
// indexes, and publishes the index-ready and session-changed event
// streams. The engine is the in-process implementation of the host
// bridge; internal/daemon exposes the same engine over a unix socket.
package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sessionlens/sessionlens/internal/bridge"
	lenserr "github.com/sessionlens/sessionlens/internal/errors"
	"github.com/sessionlens/sessionlens/internal/index"
	"github.com/sessionlens/sessionlens/internal/session"
	"github.com/sessionlens/sessionlens/internal/watcher"
)

// DefaultCacheSize is the number of built indexes retained after their
// watch stops, so re-opening a recent session updates incrementally
// instead of rebuilding.
const DefaultCacheSize = 16

// Config configures the engine.
type Config struct {
	// SessionsDir is the root directory holding per-project session
	// transcript directories.
	SessionsDir string

	// DebounceWindow coalesces rapid transcript writes. Zero means the
	// watcher default.
	DebounceWindow time.Duration

	// CacheSize is the retained-index LRU capacity. Zero means
	// DefaultCacheSize.
	CacheSize int
}

// Engine watches and indexes sessions, one watch per identity.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	bus    *eventBus
	cache  *lru.Cache[string, *index.Index]

	mu      sync.Mutex
	watches map[session.Identity]*watch
	closed  bool
}

// watch is one identity's indexing lifecycle.
type watch struct {
	id     session.Identity
	file   string
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	idx *index.Index
}

func (w *watch) setIndex(ix *index.Index) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.idx = ix
}

func (w *watch) index() *index.Index {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idx
}

// New creates an engine. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, *index.Index](size)
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		bus:     newEventBus(),
		cache:   cache,
		watches: make(map[session.Identity]*watch),
	}
}

// SessionFile resolves the transcript path for an identity.
func (e *Engine) SessionFile(id session.Identity) string {
	return filepath.Join(e.cfg.SessionsDir, EncodeProjectPath(id.ProjectPath), id.SessionID+".jsonl")
}

// EncodeProjectPath flattens a project path into the directory name the
// runtime stores its transcripts under (path separators and dots become
// dashes).
func EncodeProjectPath(projectPath string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '.', ':':
			return '-'
		default:
			return r
		}
	}, projectPath)
}

// StartWatch begins watching and indexing the identity. It returns once
// the request is accepted; indexing completion is reported via the
// index-ready event. Starting an identity that is already watched is an
// error: watch requests are not idempotent.
func (e *Engine) StartWatch(ctx context.Context, id session.Identity) error {
	if !id.Active() {
		return lenserr.New(lenserr.ErrCodeInvalidIdentity, "identity has no session id", nil).
			WithDetail("project", id.ProjectPath)
	}

	file := e.SessionFile(id)
	if _, err := os.Stat(file); err != nil {
		if os.IsNotExist(err) {
			return lenserr.New(lenserr.ErrCodeSessionFileNotFound, "session file not found: "+file, err)
		}
		return lenserr.Wrap(lenserr.ErrCodeFilePermission, err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return lenserr.New(lenserr.ErrCodeEngineClosed, "engine is closed", nil)
	}
	if _, exists := e.watches[id]; exists {
		e.mu.Unlock()
		return lenserr.New(lenserr.ErrCodeWatchConflict, "session already watched: "+id.String(), nil)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w := &watch{
		id:     id,
		file:   file,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.watches[id] = w
	e.mu.Unlock()

	go e.run(runCtx, w)
	return nil
}

// StopWatch stops watching the identity and releases its resources.
// Stopping an identity that is not watched is not an error.
func (e *Engine) StopWatch(ctx context.Context, id session.Identity) error {
	e.mu.Lock()
	w, ok := e.watches[id]
	if ok {
		delete(e.watches, id)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}

	w.cancel()
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Retain the built index so re-opening this session is cheap.
	if ix := w.index(); ix != nil {
		e.cache.Add(w.file, ix)
	}
	return nil
}

// Subscribe registers a handler on one of the two event streams.
func (e *Engine) Subscribe(ctx context.Context, event string, h bridge.Handler) (bridge.Disposable, error) {
	if event != bridge.EventIndexReady && event != bridge.EventSessionChanged {
		return nil, lenserr.New(lenserr.ErrCodeUnknownEvent, "unknown event: "+event, nil)
	}
	return e.bus.subscribe(event, h), nil
}

// IndexStatus returns the identity's current index status: nil when the
// identity is not watched, a building status while the initial build is
// in progress, and the index summary once it is ready.
func (e *Engine) IndexStatus(id session.Identity) *index.Status {
	e.mu.Lock()
	w, ok := e.watches[id]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if ix := w.index(); ix != nil {
		st := ix.Status()
		return &st
	}
	st := index.Building()
	return &st
}

// EditContext returns the conversation segment leading up to the most
// recent edit of the given file in a watched session. The path must
// match how the index recorded it (project-relative for files inside
// the project).
func (e *Engine) EditContext(id session.Identity, path string) (*index.EditContext, error) {
	e.mu.Lock()
	w, ok := e.watches[id]
	e.mu.Unlock()
	if !ok {
		return nil, lenserr.New(lenserr.ErrCodeInvalidIdentity, "session not watched: "+id.String(), nil)
	}

	ix := w.index()
	if ix == nil {
		return nil, lenserr.New(lenserr.ErrCodeIndexNotReady, "index still building: "+id.String(), nil)
	}

	lines := ix.EditLines(path)
	if len(lines) == 0 {
		return nil, lenserr.New(lenserr.ErrCodeFileNotEdited, "no edits recorded for "+path, nil).
			WithDetail("session", id.String())
	}
	return ix.EditContext(w.file, lines[len(lines)-1])
}

// WatchCount returns the number of active watches.
func (e *Engine) WatchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.watches)
}

// Close stops every watch. The engine accepts no new watches afterward.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	watches := make([]*watch, 0, len(e.watches))
	for _, w := range e.watches {
		watches = append(watches, w)
	}
	e.watches = make(map[session.Identity]*watch)
	e.mu.Unlock()

	for _, w := range watches {
		w.cancel()
		<-w.done
	}
}

// run builds the index, reports readiness, and then keeps the index
// current as the transcript grows.
func (e *Engine) run(ctx context.Context, w *watch) {
	defer close(w.done)

	ix, err := e.buildIndex(w.file, w.id.ProjectPath)
	if err != nil {
		e.logger.Error("index build failed",
			slog.String("session", w.id.String()),
			slog.String("error", err.Error()),
		)
		// Failures are reported on the ready stream, status carrying
		// the error.
		failed := index.Failed(err.Error())
		e.publish(bridge.EventIndexReady, w.id, &failed)
		return
	}
	w.setIndex(ix)

	st := ix.Status()
	e.publish(bridge.EventIndexReady, w.id, &st)
	e.logger.Info("session indexed",
		slog.String("session", w.id.String()),
		slog.Int("events", st.TotalEvents),
		slog.Int("file_edits", st.FileEditsCount),
	)

	fw := watcher.New(w.file, e.cfg.DebounceWindow)
	if err := fw.Start(ctx); err != nil {
		e.logger.Error("transcript watch failed",
			slog.String("session", w.id.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	defer fw.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-fw.Ticks():
			res, err := ix.Update(w.file, w.id.ProjectPath)
			if err != nil {
				e.logger.Warn("incremental update failed",
					slog.String("session", w.id.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if res == index.Unchanged {
				continue
			}
			e.logger.Debug("transcript changed",
				slog.String("session", w.id.String()),
				slog.String("result", res.String()),
			)
			e.publish(bridge.EventSessionChanged, w.id, nil)

		case werr := <-fw.Errors():
			e.logger.Warn("watcher error",
				slog.String("session", w.id.String()),
				slog.String("error", werr.Error()),
			)
		}
	}
}

// buildIndex builds from scratch, or revives a cached index with an
// incremental update when the session was watched recently.
func (e *Engine) buildIndex(file, projectPath string) (*index.Index, error) {
	if cached, ok := e.cache.Get(file); ok {
		if _, err := cached.Update(file, projectPath); err == nil {
			return cached, nil
		}
		e.cache.Remove(file)
	}
	return index.Build(file, projectPath)
}

// publish emits an event on the bus.
func (e *Engine) publish(event string, id session.Identity, st *index.Status) {
	e.bus.publish(event, bridge.Event{
		ProjectPath: id.ProjectPath,
		SessionID:   id.SessionID,
		Status:      st,
	})
}
