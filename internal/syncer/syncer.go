// Package syncer keeps client-visible indexing state in sync with the
// background indexing engine for one selected session at a time.
//
// The Syncer drives a small state machine (Idle, Indexing, Ready,
// Error) through the host bridge's start/stop calls and its two event
// streams. The one hard ordering requirement: event subscriptions are
// registered before the start request is issued, so a readiness event
// racing the request cannot be missed. Events for any identity other
// than the active one are dropped, and only the most recent activation
// may commit a state transition.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sessionlens/sessionlens/internal/bridge"
	"github.com/sessionlens/sessionlens/internal/index"
	"github.com/sessionlens/sessionlens/internal/session"
)

// State is the synchronizer's lifecycle state for the active identity.
type State int

const (
	// StateIdle holds while no session is selected.
	StateIdle State = iota
	// StateIndexing holds from identity adoption until readiness.
	StateIndexing
	// StateReady holds once a successful readiness event arrives.
	StateReady
	// StateError holds after an activation or engine failure.
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateIndexing:
		return "indexing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is a coherent read of the consumer-facing model. All fields
// are projections of the state at one instant.
type Snapshot struct {
	State      State
	IsIndexing bool
	IsReady    bool
	Status     *index.Status
	Err        error
}

// activation tracks the lifecycle of watching one identity. A new
// activation supersedes the previous one; superseded activations may
// still have asynchronous work outstanding, which must not commit any
// state.
type activation struct {
	identity session.Identity

	// stopDone is closed once this activation can never issue another
	// stop request: either its stop completed or teardown determined no
	// stop was needed. A later activation re-adopting the same identity
	// waits on it so its start cannot race this activation's stop.
	stopDone chan struct{}
	// waitRelease, when non-nil, is the previous same-identity
	// activation's stopDone channel.
	waitRelease <-chan struct{}

	mu        sync.Mutex
	cancelled bool
	// startAttempted is set just before the start call is issued;
	// startReturned once it completes. Together with stopIssued they
	// guarantee exactly one stop per attempted start, no matter how
	// teardown races the in-flight call.
	startAttempted bool
	startReturned  bool
	stopIssued     bool
	subs           []bridge.Disposable
}

// addSub records a subscription handle, or reports false when the
// activation was cancelled while the registration was in flight (the
// caller must dispose the handle itself).
func (a *activation) addSub(d bridge.Disposable) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelled {
		return false
	}
	a.subs = append(a.subs, d)
	return true
}

// Syncer synchronizes indexing state for a single session identity.
type Syncer struct {
	bridge bridge.Bridge
	logger *slog.Logger

	mu      sync.Mutex
	current *activation
	state   State
	status  *index.Status
	err     error
	closed  bool
	// pending maps a torn-down identity to its activation's stopDone
	// channel until the teardown has fully released the watch.
	pending map[session.Identity]chan struct{}

	// onChange holds the latest change callback. It is read at event
	// delivery time, so replacing it never forces a resubscription.
	onChange atomic.Pointer[func()]
}

// New creates a synchronizer over the given bridge. A nil logger falls
// back to slog.Default.
func New(b bridge.Bridge, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		bridge:  b,
		logger:  logger,
		state:   StateIdle,
		pending: make(map[session.Identity]chan struct{}),
	}
}

// SetOnChange installs the callback invoked whenever a change event for
// the active identity arrives. The latest callback is used even when it
// is supplied after subscription. A nil callback disables notification.
func (s *Syncer) SetOnChange(fn func()) {
	if fn == nil {
		s.onChange.Store(nil)
		return
	}
	s.onChange.Store(&fn)
}

// SetIdentity selects the session to synchronize with. Adopting a new
// identity tears down the previous activation (unsubscribe, stop) and
// starts a fresh one. An identity with no session ID returns the
// synchronizer to Idle. Setting the identity already active is a no-op.
func (s *Syncer) SetIdentity(id session.Identity) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.current != nil && s.current.identity.Equal(id) {
		s.mu.Unlock()
		return
	}
	if s.current == nil && !id.Active() {
		s.mu.Unlock()
		return
	}

	prev := s.current

	var next *activation
	if id.Active() {
		next = &activation{identity: id, stopDone: make(chan struct{})}
		if ch, ok := s.pending[id]; ok {
			// The same identity was just torn down and its stop may
			// still be in flight; the new start must wait for it.
			next.waitRelease = ch
		}
		// Indexing is committed synchronously, before any asynchronous
		// work, so consumers never observe stale state from the prior
		// identity.
		s.state = StateIndexing
	} else {
		s.state = StateIdle
	}
	if prev != nil {
		s.pending[prev.identity] = prev.stopDone
	}
	s.current = next
	s.status = nil
	s.err = nil
	s.mu.Unlock()

	if prev != nil {
		s.deactivate(prev)
	}
	if next != nil {
		go s.activate(next)
	}
}

// Close tears down the active identity and releases the synchronizer.
// Idempotent.
func (s *Syncer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	prev := s.current
	if prev != nil {
		s.pending[prev.identity] = prev.stopDone
	}
	s.current = nil
	s.state = StateIdle
	s.status = nil
	s.err = nil
	s.mu.Unlock()

	if prev != nil {
		s.deactivate(prev)
	}
}

// State returns the current lifecycle state.
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsIndexing reports whether indexing is in progress.
func (s *Syncer) IsIndexing() bool {
	return s.State() == StateIndexing
}

// IsReady reports whether the index is ready.
func (s *Syncer) IsReady() bool {
	return s.State() == StateReady
}

// Status returns the engine-reported status. Non-nil only in Ready.
func (s *Syncer) Status() *index.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil
	}
	return s.status
}

// Err returns the failure that produced the Error state. Non-nil only
// in Error.
func (s *Syncer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateError {
		return nil
	}
	return s.err
}

// Snapshot returns all consumer-facing projections read at one instant.
func (s *Syncer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:      s.state,
		IsIndexing: s.state == StateIndexing,
		IsReady:    s.state == StateReady,
	}
	if s.state == StateReady {
		snap.Status = s.status
	}
	if s.state == StateError {
		snap.Err = s.err
	}
	return snap
}

// activate registers both event subscriptions and then issues the start
// request. Runs on its own goroutine; every outcome is committed only
// if this activation is still the current one.
func (s *Syncer) activate(a *activation) {
	if a.waitRelease != nil {
		// Re-adopting an identity whose previous watch is still being
		// released: the engine must see the stop before the new start.
		<-a.waitRelease
	}

	ctx := context.Background()

	readySub, err := s.bridge.Subscribe(ctx, bridge.EventIndexReady, func(ev bridge.Event) {
		s.handleReady(a, ev)
	})
	if err != nil {
		s.failActivation(a, err)
		return
	}
	if !a.addSub(readySub) {
		readySub.Dispose()
		return
	}

	changeSub, err := s.bridge.Subscribe(ctx, bridge.EventSessionChanged, func(ev bridge.Event) {
		s.handleChanged(a, ev)
	})
	if err != nil {
		s.failActivation(a, err)
		return
	}
	if !a.addSub(changeSub) {
		changeSub.Dispose()
		return
	}

	a.mu.Lock()
	if a.cancelled {
		a.mu.Unlock()
		return
	}
	a.startAttempted = true
	a.mu.Unlock()

	startErr := s.bridge.StartWatch(ctx, a.identity)

	a.mu.Lock()
	a.startReturned = true
	cancelled := a.cancelled
	needStop := cancelled && !a.stopIssued
	if needStop {
		a.stopIssued = true
	}
	a.mu.Unlock()

	if needStop {
		// Teardown ran while the start call was pending; it deferred
		// the stop to us.
		s.stopWatch(a.identity)
		s.release(a)
		return
	}
	if cancelled {
		return
	}
	if startErr != nil {
		s.failActivation(a, startErr)
	}
}

// deactivate cancels an activation, disposes its subscriptions, and
// issues the stop request when a start was attempted. Idempotent, and
// never blocks on an in-flight start call: when start has not returned
// yet, the stop is deferred to the activation goroutine.
func (s *Syncer) deactivate(a *activation) {
	a.mu.Lock()
	if a.cancelled {
		a.mu.Unlock()
		return
	}
	a.cancelled = true
	subs := a.subs
	a.subs = nil
	needStop := a.startAttempted && a.startReturned && !a.stopIssued
	if needStop {
		a.stopIssued = true
	}
	// When start is still in flight, the stop (and the release) is
	// deferred to the activation goroutine.
	deferred := a.startAttempted && !a.startReturned
	a.mu.Unlock()

	for _, d := range subs {
		d.Dispose()
	}
	switch {
	case needStop:
		go func() {
			s.stopWatch(a.identity)
			s.release(a)
		}()
	case !deferred:
		// No start was attempted, so no stop will ever be issued. If
		// this activation was itself waiting on a predecessor's stop,
		// chain the release behind it so a successor re-adopting the
		// identity still waits the whole line out.
		if a.waitRelease != nil {
			go func() {
				<-a.waitRelease
				s.release(a)
			}()
		} else {
			s.release(a)
		}
	}
}

// release marks the activation's teardown as fully done and clears its
// pending-stop record, waking any activation re-adopting the identity.
func (s *Syncer) release(a *activation) {
	close(a.stopDone)
	s.mu.Lock()
	if ch, ok := s.pending[a.identity]; ok && ch == a.stopDone {
		delete(s.pending, a.identity)
	}
	s.mu.Unlock()
}

// stopWatch issues the best-effort stop request. Failures go to the log
// only; they are never surfaced to the consumer.
func (s *Syncer) stopWatch(id session.Identity) {
	if err := s.bridge.StopWatch(context.Background(), id); err != nil {
		s.logger.Warn("failed to stop session watch",
			slog.String("project", id.ProjectPath),
			slog.String("session", id.SessionID),
			slog.String("error", err.Error()),
		)
	}
}

// failActivation commits the Error state for an activation failure,
// unless the activation has been superseded in the meantime.
func (s *Syncer) failActivation(a *activation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != a {
		return
	}
	s.state = StateError
	s.status = nil
	s.err = err
}

// handleReady applies a readiness event for the activation's identity.
func (s *Syncer) handleReady(a *activation, ev bridge.Event) {
	if !ev.Identity().Equal(a.identity) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != a {
		// Late event from a just-abandoned identity.
		return
	}

	if ev.Status != nil && ev.Status.Error != "" {
		// The engine reported a failed run on the ready stream. Any
		// partial counts in the status are discarded.
		s.state = StateError
		s.status = nil
		s.err = errors.New(ev.Status.Error)
		return
	}

	status := ev.Status
	if status == nil {
		status = &index.Status{Ready: true}
	}
	s.state = StateReady
	s.status = status
	s.err = nil
}

// handleChanged forwards a change event for the active identity to the
// current change callback.
func (s *Syncer) handleChanged(a *activation, ev bridge.Event) {
	if !ev.Identity().Equal(a.identity) {
		return
	}

	s.mu.Lock()
	live := s.current == a
	s.mu.Unlock()
	if !live {
		return
	}

	if fn := s.onChange.Load(); fn != nil {
		(*fn)()
	}
}
