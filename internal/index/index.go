// Package index builds and maintains per-session transcript indexes.
//
// An Index is built in a single pass over a session JSONL file and
// updated incrementally as the file grows. It provides O(1) UUID and
// file-edit lookups, O(log n) human-message boundary queries, and
// pre-computed line offsets for reading individual events without
// rescanning the file.
package index

import (
	"sort"
	"time"

	"github.com/sessionlens/sessionlens/internal/session"
)

// lineSpan records where a transcript line lives in the file.
type lineSpan struct {
	Offset int64
	Length int
}

// editMeta links an edit event back to its transcript entry for parent
// chain walking.
type editMeta struct {
	UUID string
}

// Index is the in-memory index for a single session transcript.
type Index struct {
	// File state at the time of the last build/update, used to decide
	// between incremental update and full rebuild.
	fileSize int64
	modTime  time.Time

	lineOffsets []lineSpan
	uuidToLine  map[string]int
	parentMap   map[string]string

	// Sequence numbers of human messages, kept sorted for binary search.
	humanLines []int

	fileEdits       []session.FileEdit
	fileToEditLines map[string][]int
	editMeta        map[int]editMeta
}

// newIndex returns an empty index ready to be populated.
func newIndex() *Index {
	return &Index{
		uuidToLine:      make(map[string]int),
		parentMap:       make(map[string]string),
		fileToEditLines: make(map[string][]int),
		editMeta:        make(map[int]editMeta),
	}
}

// TotalEvents returns the number of transcript lines indexed.
func (ix *Index) TotalEvents() int {
	return len(ix.lineOffsets)
}

// LineForUUID returns the sequence number of the event with the given
// UUID.
func (ix *Index) LineForUUID(uuid string) (int, bool) {
	line, ok := ix.uuidToLine[uuid]
	return line, ok
}

// ParentOf returns the parent UUID of the given event UUID.
func (ix *Index) ParentOf(uuid string) (string, bool) {
	parent, ok := ix.parentMap[uuid]
	return parent, ok
}

// IsHumanMessage reports whether the given line is a human message
// boundary.
func (ix *Index) IsHumanMessage(line int) bool {
	i := sort.SearchInts(ix.humanLines, line)
	return i < len(ix.humanLines) && ix.humanLines[i] == line
}

// FindHumanBoundary returns the most recent human message at or before
// the given line. The second return is false when no human message
// precedes the line.
func (ix *Index) FindHumanBoundary(line int) (int, bool) {
	i := sort.SearchInts(ix.humanLines, line)
	if i < len(ix.humanLines) && ix.humanLines[i] == line {
		return line, true
	}
	if i == 0 {
		return 0, false
	}
	return ix.humanLines[i-1], true
}

// FileEdits returns the files touched by the session, sorted by path.
func (ix *Index) FileEdits() []session.FileEdit {
	out := make([]session.FileEdit, len(ix.fileEdits))
	copy(out, ix.fileEdits)
	return out
}

// EditLines returns the sequence numbers of edits to the given
// project-relative path.
func (ix *Index) EditLines(path string) []int {
	lines := ix.fileToEditLines[path]
	out := make([]int, len(lines))
	copy(out, lines)
	return out
}

// Status produces the consumer-facing summary of this index.
func (ix *Index) Status() Status {
	return Status{
		Ready:            true,
		TotalEvents:      ix.TotalEvents(),
		FileEditsCount:   len(ix.fileEdits),
		FilesEditedCount: len(ix.fileToEditLines),
	}
}
