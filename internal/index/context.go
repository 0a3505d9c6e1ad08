package index

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/sessionlens/sessionlens/internal/session"
)

// Event is a transcript entry loaded back out of the file, with its
// position in the session.
type Event struct {
	Entry  session.Entry `json:"entry"`
	Line   int           `json:"line"`
	Offset int64         `json:"offset"`
}

// EditContext is the conversation segment leading up to a file edit:
// every event from the triggering human message through the edit
// itself, in chronological order.
type EditContext struct {
	Events      []Event `json:"events"`
	TriggerLine int     `json:"triggerLine"`
	EditLine    int     `json:"editLine"`
}

// EditContext walks the parent chain backwards from an edit until it
// reaches a human message boundary and loads the events in that range.
func (ix *Index) EditContext(sessionFile string, editLine int) (*EditContext, error) {
	meta, ok := ix.editMeta[editLine]
	if !ok {
		return nil, fmt.Errorf("no edit metadata found for line %d", editLine)
	}

	lines := []int{editLine}
	currentUUID := meta.UUID

	for currentUUID != "" {
		parentUUID, ok := ix.ParentOf(currentUUID)
		if !ok {
			break
		}
		parentLine, ok := ix.LineForUUID(parentUUID)
		if !ok {
			break
		}
		lines = append(lines, parentLine)
		if ix.IsHumanMessage(parentLine) {
			break
		}
		currentUUID = parentUUID
	}

	// Reverse into chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}

	triggerLine := 0
	if len(lines) > 1 && ix.IsHumanMessage(lines[0]) {
		triggerLine = lines[0]
	} else if boundary, ok := ix.FindHumanBoundary(editLine); ok {
		// The chain was broken before reaching a human message; fall
		// back to the nearest boundary.
		triggerLine = boundary
	}

	events, err := ix.loadEvents(sessionFile, lines)
	if err != nil {
		return nil, err
	}

	return &EditContext{
		Events:      events,
		TriggerLine: triggerLine,
		EditLine:    editLine,
	}, nil
}

// loadEvents reads and parses the transcript entries at the given
// sequence numbers using the pre-computed line offsets.
func (ix *Index) loadEvents(sessionFile string, lines []int) ([]Event, error) {
	f, err := os.Open(sessionFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	events := make([]Event, 0, len(lines))
	for _, line := range lines {
		if line < 0 || line >= len(ix.lineOffsets) {
			continue
		}
		span := ix.lineOffsets[line]
		entry, err := readEntryAt(f, span.Offset)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}
		events = append(events, Event{Entry: *entry, Line: line, Offset: span.Offset})
	}

	return events, nil
}

// readEntryAt reads one line at the given byte offset. Returns nil for
// lines that fail to parse.
func readEntryAt(f *os.File, offset int64) (*session.Entry, error) {
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek: %w", err)
	}

	r := bufio.NewReaderSize(f, 64*1024)
	line, err := r.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read line: %w", err)
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}

	entry, parseErr := session.ParseEntry(line)
	if parseErr != nil {
		return nil, nil
	}
	return entry, nil
}
