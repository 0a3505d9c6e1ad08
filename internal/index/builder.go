package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sessionlens/sessionlens/internal/session"
)

// maxLineSize bounds a single transcript line. Tool results embedding
// large file contents can produce lines of several megabytes.
const maxLineSize = 16 * 1024 * 1024

// editAccumulator collects file edit evidence during a scan. Whether a
// file counts as "added" or "modified" can only be decided once the
// whole range has been seen.
type editAccumulator struct {
	operations   map[string]session.EditType
	priorContent map[string]struct{}
	timestamps   map[string]string
}

func newEditAccumulator() *editAccumulator {
	return &editAccumulator{
		operations:   make(map[string]session.EditType),
		priorContent: make(map[string]struct{}),
		timestamps:   make(map[string]string),
	}
}

// Build constructs a complete index from a session JSONL file in a
// single pass.
func Build(sessionFile, projectPath string) (*Index, error) {
	info, err := os.Stat(sessionFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file metadata: %w", err)
	}

	f, err := os.Open(sessionFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	ix := newIndex()
	ix.fileSize = info.Size()
	ix.modTime = info.ModTime()

	acc := newEditAccumulator()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var byteOffset int64
	seq := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		lineLen := len(line) + 1 // +1 for newline

		ix.lineOffsets = append(ix.lineOffsets, lineSpan{Offset: byteOffset, Length: lineLen})
		ix.scanLine(line, seq, projectPath, acc, nil)

		byteOffset += int64(lineLen)
		seq++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	ix.fileEdits = acc.finalize()
	sort.Ints(ix.humanLines)

	return ix, nil
}

// scanLine parses a single transcript line and folds it into the index.
// existing is consulted for incremental updates to tell new files from
// already-indexed ones; it is nil during a full build.
func (ix *Index) scanLine(line []byte, seq int, projectPath string, acc *editAccumulator, existing map[string][]int) {
	entry, err := session.ParseEntry(line)
	if err != nil {
		// Partial trailing writes or corrupt lines are skipped; the
		// line offset is still recorded so pagination stays correct.
		return
	}

	if entry.UUID != "" {
		ix.uuidToLine[entry.UUID] = seq
		if entry.ParentUUID != "" {
			ix.parentMap[entry.UUID] = entry.ParentUUID
		}
	}

	if entry.IsHumanMessage() {
		ix.humanLines = append(ix.humanLines, seq)
	}

	if entry.Type != "assistant" {
		return
	}
	for _, item := range entry.Message.ContentItems() {
		ix.recordToolUse(item, seq, projectPath, entry, acc, existing)
	}
}

// recordToolUse extracts file edit information from a tool_use content
// item.
func (ix *Index) recordToolUse(item session.ContentItem, seq int, projectPath string, entry *session.Entry, acc *editAccumulator, existing map[string][]int) {
	if item.Type != "tool_use" || len(item.Input) == 0 {
		return
	}

	var input session.ToolInput
	if err := json.Unmarshal(item.Input, &input); err != nil || input.FilePath == "" {
		return
	}
	relPath := relativePath(input.FilePath, projectPath)

	switch item.Name {
	case "Edit":
		// Edits with old content prove the file existed before.
		if input.OldString != "" {
			acc.priorContent[relPath] = struct{}{}
		}
		acc.operations[relPath] = session.EditModified

	case "Write":
		_, seenBefore := existing[relPath]
		if _, pending := acc.operations[relPath]; !pending && !seenBefore {
			acc.operations[relPath] = session.EditAdded
		}

	default:
		return
	}

	if entry.Timestamp != "" {
		acc.timestamps[relPath] = entry.Timestamp
	}
	ix.editMeta[seq] = editMeta{UUID: entry.UUID}
	ix.fileToEditLines[relPath] = append(ix.fileToEditLines[relPath], seq)
}

// finalize resolves the added/modified classification and returns the
// edits sorted by path.
func (acc *editAccumulator) finalize() []session.FileEdit {
	edits := make([]session.FileEdit, 0, len(acc.operations))
	for path, editType := range acc.operations {
		if editType == session.EditModified {
			if _, ok := acc.priorContent[path]; !ok {
				// Written but never had prior content: created by this
				// session.
				editType = session.EditAdded
			}
		}
		edits = append(edits, session.FileEdit{
			Path:         path,
			EditType:     editType,
			LastEditedAt: acc.timestamps[path],
		})
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].Path < edits[j].Path })
	return edits
}

// relativePath strips the project root prefix from an absolute path.
func relativePath(filePath, projectPath string) string {
	project := strings.TrimRight(projectPath, "/")
	if project != "" && strings.HasPrefix(filePath, project) {
		return strings.TrimLeft(filePath[len(project):], "/")
	}
	return filePath
}
