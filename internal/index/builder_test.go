package index

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionlens/sessionlens/internal/session"
)

const testProject = "/home/dev/app"

// writeTranscript writes lines as a JSONL file and returns its path.
func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func humanLine(uuid, parent, text string) string {
	s := `{"type":"user","userType":"external","uuid":"` + uuid + `"`
	if parent != "" {
		s += `,"parentUuid":"` + parent + `"`
	}
	return s + `,"message":{"content":"` + text + `"}}`
}

func assistantTextLine(uuid, parent string) string {
	return `{"type":"assistant","uuid":"` + uuid + `","parentUuid":"` + parent + `","message":{"content":[{"type":"text"}]}}`
}

func editLine(uuid, parent, path, oldString, ts string) string {
	return `{"type":"assistant","uuid":"` + uuid + `","parentUuid":"` + parent + `","timestamp":"` + ts + `",` +
		`"message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"` + path + `","old_string":"` + oldString + `"}}]}}`
}

func writeToolLine(uuid, parent, path, ts string) string {
	return `{"type":"assistant","uuid":"` + uuid + `","parentUuid":"` + parent + `","timestamp":"` + ts + `",` +
		`"message":{"content":[{"type":"tool_use","name":"Write","input":{"file_path":"` + path + `"}}]}}`
}

func TestBuild_EmptyFile(t *testing.T) {
	path := writeTranscript(t)

	ix, err := Build(path, testProject)
	require.NoError(t, err)
	assert.Equal(t, 0, ix.TotalEvents())
	assert.Empty(t, ix.FileEdits())
}

func TestBuild_MissingFile(t *testing.T) {
	_, err := Build(filepath.Join(t.TempDir(), "nope.jsonl"), testProject)
	assert.Error(t, err)
}

func TestBuild_IndexesEventsAndLookups(t *testing.T) {
	// Given: a transcript with a human message, a reply, and an edit
	path := writeTranscript(t,
		humanLine("u1", "", "fix the bug"),
		assistantTextLine("a1", "u1"),
		editLine("a2", "a1", testProject+"/main.go", "old", "2026-08-29T10:00:00Z"),
	)

	// When: building the index
	ix, err := Build(path, testProject)
	require.NoError(t, err)

	// Then: lookups resolve
	assert.Equal(t, 3, ix.TotalEvents())

	line, ok := ix.LineForUUID("a2")
	require.True(t, ok)
	assert.Equal(t, 2, line)

	parent, ok := ix.ParentOf("a2")
	require.True(t, ok)
	assert.Equal(t, "a1", parent)

	assert.True(t, ix.IsHumanMessage(0))
	assert.False(t, ix.IsHumanMessage(1))
}

func TestBuild_EditWithPriorContent_IsModified(t *testing.T) {
	path := writeTranscript(t,
		humanLine("u1", "", "change it"),
		editLine("a1", "u1", testProject+"/main.go", "old code", "2026-08-29T10:00:00Z"),
	)

	ix, err := Build(path, testProject)
	require.NoError(t, err)

	edits := ix.FileEdits()
	require.Len(t, edits, 1)
	assert.Equal(t, "main.go", edits[0].Path)
	assert.Equal(t, session.EditModified, edits[0].EditType)
	assert.Equal(t, "2026-08-29T10:00:00Z", edits[0].LastEditedAt)
}

func TestBuild_EditWithoutPriorContent_IsAdded(t *testing.T) {
	// Edits that never carry old content cannot prove the file existed
	// before the session.
	path := writeTranscript(t,
		humanLine("u1", "", "create it"),
		editLine("a1", "u1", testProject+"/fresh.go", "", "2026-08-29T10:00:00Z"),
	)

	ix, err := Build(path, testProject)
	require.NoError(t, err)

	edits := ix.FileEdits()
	require.Len(t, edits, 1)
	assert.Equal(t, session.EditAdded, edits[0].EditType)
}

func TestBuild_WriteTool_IsAdded(t *testing.T) {
	path := writeTranscript(t,
		humanLine("u1", "", "make a file"),
		writeToolLine("a1", "u1", testProject+"/new.go", "2026-08-29T10:00:00Z"),
	)

	ix, err := Build(path, testProject)
	require.NoError(t, err)

	edits := ix.FileEdits()
	require.Len(t, edits, 1)
	assert.Equal(t, "new.go", edits[0].Path)
	assert.Equal(t, session.EditAdded, edits[0].EditType)
}

func TestBuild_EditThenWrite_StaysModified(t *testing.T) {
	// A Write after an Edit with prior content does not demote the file
	// back to "added".
	path := writeTranscript(t,
		humanLine("u1", "", "rewrite it"),
		editLine("a1", "u1", testProject+"/main.go", "old", "2026-08-29T10:00:00Z"),
		writeToolLine("a2", "a1", testProject+"/main.go", "2026-08-29T10:01:00Z"),
	)

	ix, err := Build(path, testProject)
	require.NoError(t, err)

	edits := ix.FileEdits()
	require.Len(t, edits, 1)
	assert.Equal(t, session.EditModified, edits[0].EditType)
	assert.Equal(t, "2026-08-29T10:01:00Z", edits[0].LastEditedAt)
	assert.Equal(t, []int{1, 2}, ix.EditLines("main.go"))
}

func TestBuild_EditsSortedByPath(t *testing.T) {
	path := writeTranscript(t,
		humanLine("u1", "", "touch files"),
		writeToolLine("a1", "u1", testProject+"/zebra.go", "t1"),
		writeToolLine("a2", "a1", testProject+"/alpha.go", "t2"),
	)

	ix, err := Build(path, testProject)
	require.NoError(t, err)

	edits := ix.FileEdits()
	require.Len(t, edits, 2)
	assert.Equal(t, "alpha.go", edits[0].Path)
	assert.Equal(t, "zebra.go", edits[1].Path)
}

func TestBuild_PathOutsideProject_KeptAbsolute(t *testing.T) {
	path := writeTranscript(t,
		humanLine("u1", "", "edit elsewhere"),
		editLine("a1", "u1", "/etc/hosts", "x", "t1"),
	)

	ix, err := Build(path, testProject)
	require.NoError(t, err)

	edits := ix.FileEdits()
	require.Len(t, edits, 1)
	assert.Equal(t, "/etc/hosts", edits[0].Path)
}

func TestBuild_CorruptLines_AreSkippedButCounted(t *testing.T) {
	// Given: a transcript with a corrupt line in the middle
	path := writeTranscript(t,
		humanLine("u1", "", "hello"),
		`{"type":"assistant","uuid":"a1"`,
		assistantTextLine("a2", "u1"),
	)

	// When: building the index
	ix, err := Build(path, testProject)
	require.NoError(t, err)

	// Then: the corrupt line holds its slot so offsets stay correct
	assert.Equal(t, 3, ix.TotalEvents())
	_, ok := ix.LineForUUID("a1")
	assert.False(t, ok)
	line, ok := ix.LineForUUID("a2")
	require.True(t, ok)
	assert.Equal(t, 2, line)
}

func TestBuild_Status(t *testing.T) {
	path := writeTranscript(t,
		humanLine("u1", "", "go"),
		editLine("a1", "u1", testProject+"/a.go", "x", "t1"),
		editLine("a2", "a1", testProject+"/a.go", "y", "t2"),
		writeToolLine("a3", "a2", testProject+"/b.go", "t3"),
	)

	ix, err := Build(path, testProject)
	require.NoError(t, err)

	st := ix.Status()
	assert.True(t, st.Ready)
	assert.Equal(t, 4, st.TotalEvents)
	assert.Equal(t, 2, st.FileEditsCount)
	assert.Equal(t, 2, st.FilesEditedCount)
	assert.Empty(t, st.Error)
}

func TestFindHumanBoundary(t *testing.T) {
	path := writeTranscript(t,
		humanLine("u1", "", "first"),
		assistantTextLine("a1", "u1"),
		humanLine("u2", "a1", "second"),
		assistantTextLine("a2", "u2"),
	)

	ix, err := Build(path, testProject)
	require.NoError(t, err)

	b, ok := ix.FindHumanBoundary(3)
	require.True(t, ok)
	assert.Equal(t, 2, b)

	b, ok = ix.FindHumanBoundary(2)
	require.True(t, ok)
	assert.Equal(t, 2, b)

	b, ok = ix.FindHumanBoundary(1)
	require.True(t, ok)
	assert.Equal(t, 0, b)
}
