package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionlens/sessionlens/internal/bridge"
	lenserr "github.com/sessionlens/sessionlens/internal/errors"
	"github.com/sessionlens/sessionlens/internal/session"
)

const testProject = "/home/dev/app"

// newTestEngine returns an engine rooted at a temp sessions dir with a
// fast debounce window.
func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	eng := New(Config{
		SessionsDir:    dir,
		DebounceWindow: 20 * time.Millisecond,
	}, nil)
	t.Cleanup(eng.Close)
	return eng, dir
}

// writeSession creates a transcript for the identity under the sessions
// dir and returns its path.
func writeSession(t *testing.T, dir string, id session.Identity, lines ...string) string {
	t.Helper()
	projDir := filepath.Join(dir, EncodeProjectPath(id.ProjectPath))
	require.NoError(t, os.MkdirAll(projDir, 0o755))
	path := filepath.Join(projDir, id.SessionID+".jsonl")
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// eventCollector gathers delivered events for assertions.
type eventCollector struct {
	mu     sync.Mutex
	events []bridge.Event
}

func (c *eventCollector) handler(ev bridge.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) all() []bridge.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bridge.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *eventCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

const humanHello = `{"type":"user","userType":"external","uuid":"u1","message":{"content":"hello"}}`

func TestEncodeProjectPath(t *testing.T) {
	assert.Equal(t, "-home-dev-app", EncodeProjectPath("/home/dev/app"))
	assert.Equal(t, "-home-dev-my-app", EncodeProjectPath("/home/dev/my.app"))
	assert.Equal(t, "C--work", EncodeProjectPath(`C:\work`))
}

func TestEngine_StartWatch_PublishesReady(t *testing.T) {
	// Given: a transcript on disk and a ready subscriber
	eng, dir := newTestEngine(t)
	id := session.Identity{ProjectPath: testProject, SessionID: "s1"}
	writeSession(t, dir, id, humanHello)

	var ready eventCollector
	sub, err := eng.Subscribe(context.Background(), bridge.EventIndexReady, ready.handler)
	require.NoError(t, err)
	defer sub.Dispose()

	// When: the watch starts
	require.NoError(t, eng.StartWatch(context.Background(), id))

	// Then: one ready event with the index status
	require.Eventually(t, func() bool { return ready.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := ready.all()[0]
	assert.Equal(t, id, ev.Identity())
	require.NotNil(t, ev.Status)
	assert.True(t, ev.Status.Ready)
	assert.Equal(t, 1, ev.Status.TotalEvents)
}

func TestEngine_StartWatch_MissingFile(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := session.Identity{ProjectPath: testProject, SessionID: "missing"}

	err := eng.StartWatch(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeSessionFileNotFound, lenserr.GetCode(err))
}

func TestEngine_StartWatch_InactiveIdentity(t *testing.T) {
	eng, _ := newTestEngine(t)

	err := eng.StartWatch(context.Background(), session.Identity{ProjectPath: testProject})
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeInvalidIdentity, lenserr.GetCode(err))
}

func TestEngine_StartWatch_DuplicateConflicts(t *testing.T) {
	eng, dir := newTestEngine(t)
	id := session.Identity{ProjectPath: testProject, SessionID: "s1"}
	writeSession(t, dir, id, humanHello)

	require.NoError(t, eng.StartWatch(context.Background(), id))
	err := eng.StartWatch(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeWatchConflict, lenserr.GetCode(err))
	assert.Equal(t, 1, eng.WatchCount())
}

func TestEngine_BuildFailure_ReportedOnReadyStream(t *testing.T) {
	// Given: a transcript path that stats fine but cannot be read
	eng, dir := newTestEngine(t)
	id := session.Identity{ProjectPath: testProject, SessionID: "s1"}
	projDir := filepath.Join(dir, EncodeProjectPath(id.ProjectPath))
	require.NoError(t, os.MkdirAll(filepath.Join(projDir, id.SessionID+".jsonl"), 0o755))

	var ready eventCollector
	sub, err := eng.Subscribe(context.Background(), bridge.EventIndexReady, ready.handler)
	require.NoError(t, err)
	defer sub.Dispose()

	// When: the watch is accepted but the build fails
	require.NoError(t, eng.StartWatch(context.Background(), id))

	// Then: the failure arrives on the ready stream, status carrying the
	// error
	require.Eventually(t, func() bool { return ready.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := ready.all()[0]
	require.NotNil(t, ev.Status)
	assert.False(t, ev.Status.Ready)
	assert.NotEmpty(t, ev.Status.Error)
}

func TestEngine_TranscriptGrowth_PublishesSessionChanged(t *testing.T) {
	// Given: a watched session that reached readiness
	eng, dir := newTestEngine(t)
	id := session.Identity{ProjectPath: testProject, SessionID: "s1"}
	path := writeSession(t, dir, id, humanHello)

	var ready, changed eventCollector
	subR, err := eng.Subscribe(context.Background(), bridge.EventIndexReady, ready.handler)
	require.NoError(t, err)
	defer subR.Dispose()
	subC, err := eng.Subscribe(context.Background(), bridge.EventSessionChanged, changed.handler)
	require.NoError(t, err)
	defer subC.Dispose()

	require.NoError(t, eng.StartWatch(context.Background(), id))
	require.Eventually(t, func() bool { return ready.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// When: the transcript grows
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"assistant","uuid":"a1","parentUuid":"u1","message":{"content":[{"type":"text"}]}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Then: a change event for the identity arrives, with no status
	require.Eventually(t, func() bool { return changed.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	ev := changed.all()[0]
	assert.Equal(t, id, ev.Identity())
	assert.Nil(t, ev.Status)
}

func TestEngine_StopWatch_UnknownIdentity_IsTolerated(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := session.Identity{ProjectPath: testProject, SessionID: "never-started"}
	assert.NoError(t, eng.StopWatch(context.Background(), id))
}

func TestEngine_StopWatch_ReleasesWatch(t *testing.T) {
	eng, dir := newTestEngine(t)
	id := session.Identity{ProjectPath: testProject, SessionID: "s1"}
	writeSession(t, dir, id, humanHello)

	require.NoError(t, eng.StartWatch(context.Background(), id))
	require.Equal(t, 1, eng.WatchCount())

	require.NoError(t, eng.StopWatch(context.Background(), id))
	assert.Equal(t, 0, eng.WatchCount())

	// The identity can be watched again after stopping.
	assert.NoError(t, eng.StartWatch(context.Background(), id))
}

func TestEngine_Subscribe_UnknownEvent(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.Subscribe(context.Background(), "no-such-stream", func(bridge.Event) {})
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeUnknownEvent, lenserr.GetCode(err))
}

func TestEngine_DisposedSubscriber_StopsReceiving(t *testing.T) {
	eng, dir := newTestEngine(t)
	id := session.Identity{ProjectPath: testProject, SessionID: "s1"}
	writeSession(t, dir, id, humanHello)

	var ready eventCollector
	sub, err := eng.Subscribe(context.Background(), bridge.EventIndexReady, ready.handler)
	require.NoError(t, err)
	sub.Dispose()

	require.NoError(t, eng.StartWatch(context.Background(), id))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, ready.count())
}

func TestEngine_ClosedEngine_RejectsWatches(t *testing.T) {
	eng, dir := newTestEngine(t)
	id := session.Identity{ProjectPath: testProject, SessionID: "s1"}
	writeSession(t, dir, id, humanHello)

	eng.Close()
	err := eng.StartWatch(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeEngineClosed, lenserr.GetCode(err))
}

func TestEngine_CachedIndex_RevivedAfterRestart(t *testing.T) {
	// Given: a session watched, stopped, and grown in the meantime
	eng, dir := newTestEngine(t)
	id := session.Identity{ProjectPath: testProject, SessionID: "s1"}
	path := writeSession(t, dir, id, humanHello)

	var ready eventCollector
	sub, err := eng.Subscribe(context.Background(), bridge.EventIndexReady, ready.handler)
	require.NoError(t, err)
	defer sub.Dispose()

	require.NoError(t, eng.StartWatch(context.Background(), id))
	require.Eventually(t, func() bool { return ready.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, eng.StopWatch(context.Background(), id))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"assistant","uuid":"a1","parentUuid":"u1","message":{"content":[{"type":"text"}]}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// When: the session is watched again
	require.NoError(t, eng.StartWatch(context.Background(), id))

	// Then: readiness reflects the grown transcript
	require.Eventually(t, func() bool { return ready.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	st := ready.all()[1].Status
	require.NotNil(t, st)
	assert.Equal(t, 2, st.TotalEvents)
}

const editMain = `{"type":"assistant","uuid":"e1","parentUuid":"u1","timestamp":"2026-08-29T10:00:00Z","message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"/home/dev/app/main.go","old_string":"x"}}]}}`

func TestEngine_IndexStatus(t *testing.T) {
	// Given: a watched session
	eng, dir := newTestEngine(t)
	id := session.Identity{ProjectPath: testProject, SessionID: "s1"}
	writeSession(t, dir, id, humanHello)

	// Then: an unwatched identity has no status
	assert.Nil(t, eng.IndexStatus(id))

	// When: a watch is registered but its build has not finished
	building := &watch{id: id}
	eng.mu.Lock()
	eng.watches[id] = building
	eng.mu.Unlock()

	// Then: the status reports building, not ready
	st := eng.IndexStatus(id)
	require.NotNil(t, st)
	assert.False(t, st.Ready)
	assert.Empty(t, st.Error)

	eng.mu.Lock()
	delete(eng.watches, id)
	eng.mu.Unlock()

	// When: the watch runs to readiness
	var ready eventCollector
	sub, err := eng.Subscribe(context.Background(), bridge.EventIndexReady, ready.handler)
	require.NoError(t, err)
	defer sub.Dispose()
	require.NoError(t, eng.StartWatch(context.Background(), id))
	require.Eventually(t, func() bool { return ready.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Then: the status is the index summary
	st = eng.IndexStatus(id)
	require.NotNil(t, st)
	assert.True(t, st.Ready)
	assert.Equal(t, 1, st.TotalEvents)
}

func TestEngine_EditContext_ReturnsConversationSegment(t *testing.T) {
	// Given: a ready session whose transcript edits a file
	eng, dir := newTestEngine(t)
	id := session.Identity{ProjectPath: testProject, SessionID: "s1"}
	writeSession(t, dir, id, humanHello, editMain)

	var ready eventCollector
	sub, err := eng.Subscribe(context.Background(), bridge.EventIndexReady, ready.handler)
	require.NoError(t, err)
	defer sub.Dispose()
	require.NoError(t, eng.StartWatch(context.Background(), id))
	require.Eventually(t, func() bool { return ready.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// When: querying the context behind the edit
	res, err := eng.EditContext(id, "main.go")

	// Then: the segment spans the triggering human message to the edit
	require.NoError(t, err)
	assert.Equal(t, 0, res.TriggerLine)
	assert.Equal(t, 1, res.EditLine)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "u1", res.Events[0].Entry.UUID)
	assert.Equal(t, "e1", res.Events[1].Entry.UUID)
}

func TestEngine_EditContext_Errors(t *testing.T) {
	eng, dir := newTestEngine(t)
	id := session.Identity{ProjectPath: testProject, SessionID: "s1"}
	writeSession(t, dir, id, humanHello, editMain)

	// An unwatched session cannot be queried.
	_, err := eng.EditContext(id, "main.go")
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeInvalidIdentity, lenserr.GetCode(err))

	// A watch whose build is still running reports a retryable error.
	eng.mu.Lock()
	eng.watches[id] = &watch{id: id}
	eng.mu.Unlock()
	_, err = eng.EditContext(id, "main.go")
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeIndexNotReady, lenserr.GetCode(err))
	assert.True(t, lenserr.IsRetryable(err))
	eng.mu.Lock()
	delete(eng.watches, id)
	eng.mu.Unlock()

	// A file the session never edited is a validation error.
	var ready eventCollector
	sub, err := eng.Subscribe(context.Background(), bridge.EventIndexReady, ready.handler)
	require.NoError(t, err)
	defer sub.Dispose()
	require.NoError(t, eng.StartWatch(context.Background(), id))
	require.Eventually(t, func() bool { return ready.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = eng.EditContext(id, "nope.go")
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeFileNotEdited, lenserr.GetCode(err))
}

var _ bridge.Bridge = (*Engine)(nil)
