// Package bridge defines the host bridge contract between the session
// index synchronizer and the indexing engine: two request calls plus
// two subscribable event streams. Implementations exist in-process
// (internal/engine) and over the daemon socket (internal/daemon).
package bridge

import (
	"context"
	"sync"

	"github.com/sessionlens/sessionlens/internal/index"
	"github.com/sessionlens/sessionlens/internal/session"
)

// Event stream names.
const (
	// EventIndexReady is delivered once per indexing run, carrying the
	// run's status.
	EventIndexReady = "index-ready"
	// EventSessionChanged is delivered whenever the watched session's
	// data mutates after readiness. It carries identity only.
	EventSessionChanged = "session-changed"
)

// Event is a delivered event payload. Status is set only on the
// index-ready stream.
type Event struct {
	ProjectPath string        `json:"projectPath"`
	SessionID   string        `json:"sessionId"`
	Status      *index.Status `json:"status,omitempty"`
}

// Identity returns the identity the event is scoped to.
func (e Event) Identity() session.Identity {
	return session.Identity{ProjectPath: e.ProjectPath, SessionID: e.SessionID}
}

// Handler receives delivered events. Handlers are invoked for every
// event on the stream; filtering by identity is the subscriber's job.
type Handler func(Event)

// Disposable is a subscription handle. Dispose stops future deliveries
// for that registration and is safe to call more than once. A delivery
// already in flight when Dispose is called may still complete, so
// handlers must tolerate one late invocation; the syncer drops such
// events through its identity and activation checks.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a function to the Disposable interface, invoking
// it at most once.
type DisposeFunc func()

// Dispose implements Disposable.
func (f DisposeFunc) Dispose() {
	f()
}

// Once wraps a dispose function so repeated Dispose calls are no-ops.
func Once(f func()) Disposable {
	var once sync.Once
	return DisposeFunc(func() { once.Do(f) })
}

// Bridge is the asynchronous call/event interface to the indexing
// engine.
type Bridge interface {
	// StartWatch asks the engine to begin watching and indexing the
	// identity. It returns once the request is accepted; indexing
	// completion is reported via the index-ready event, never through
	// this call's result.
	StartWatch(ctx context.Context, id session.Identity) error

	// StopWatch asks the engine to stop watching the identity and
	// release its resources. Best-effort; failures are non-fatal to the
	// caller.
	StopWatch(ctx context.Context, id session.Identity) error

	// Subscribe registers a handler for one of the named event streams
	// and returns its disposer.
	Subscribe(ctx context.Context, event string, h Handler) (Disposable, error)
}
