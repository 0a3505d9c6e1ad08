package index

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sessionlens/sessionlens/internal/session"
)

// UpdateResult reports what an incremental update did.
type UpdateResult int

const (
	// Unchanged means the file was identical to the last scan.
	Unchanged UpdateResult = iota
	// Updated means only the appended tail was parsed.
	Updated
	// Rebuilt means the file shrank or changed shape and the index was
	// rebuilt from scratch.
	Rebuilt
)

// String returns a human-readable form of the result.
func (r UpdateResult) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case Updated:
		return "updated"
	case Rebuilt:
		return "rebuilt"
	default:
		return "unknown"
	}
}

// Update brings the index up to date with the file on disk.
//
// Transcripts are append-only in normal operation, so the common case
// seeks to the previous end of file and parses only new lines. A file
// that shrank (compaction, corruption) forces a full rebuild.
func (ix *Index) Update(sessionFile, projectPath string) (UpdateResult, error) {
	info, err := os.Stat(sessionFile)
	if err != nil {
		return Unchanged, fmt.Errorf("failed to read file metadata: %w", err)
	}

	currentSize := info.Size()
	currentMod := info.ModTime()

	if currentSize == ix.fileSize && currentMod.Equal(ix.modTime) {
		return Unchanged, nil
	}

	if currentSize < ix.fileSize {
		rebuilt, err := Build(sessionFile, projectPath)
		if err != nil {
			return Unchanged, err
		}
		*ix = *rebuilt
		return Rebuilt, nil
	}

	f, err := os.Open(sessionFile)
	if err != nil {
		return Unchanged, fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(ix.fileSize, io.SeekStart); err != nil {
		return Unchanged, fmt.Errorf("failed to seek in file: %w", err)
	}

	acc := newEditAccumulator()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	byteOffset := ix.fileSize
	seq := len(ix.lineOffsets)
	for scanner.Scan() {
		line := scanner.Bytes()
		lineLen := len(line) + 1

		ix.lineOffsets = append(ix.lineOffsets, lineSpan{Offset: byteOffset, Length: lineLen})
		// Sequence numbers only grow, so appended human-message lines
		// keep humanLines sorted.
		ix.scanLine(line, seq, projectPath, acc, ix.fileToEditLines)

		byteOffset += int64(lineLen)
		seq++
	}
	if err := scanner.Err(); err != nil {
		return Unchanged, fmt.Errorf("failed to read session file: %w", err)
	}

	ix.mergeEdits(acc)

	ix.fileSize = currentSize
	ix.modTime = currentMod

	return Updated, nil
}

// mergeEdits folds newly observed edits into the existing edit list.
func (ix *Index) mergeEdits(acc *editAccumulator) {
	for path, editType := range acc.operations {
		if existing := ix.findEdit(path); existing != nil {
			if ts, ok := acc.timestamps[path]; ok {
				existing.LastEditedAt = ts
			}
			// An edit with prior content upgrades "added" to "modified".
			if _, ok := acc.priorContent[path]; ok {
				existing.EditType = session.EditModified
			}
			continue
		}

		finalType := editType
		if finalType == session.EditModified {
			if _, ok := acc.priorContent[path]; !ok {
				finalType = session.EditAdded
			}
		}
		ix.fileEdits = append(ix.fileEdits, session.FileEdit{
			Path:         path,
			EditType:     finalType,
			LastEditedAt: acc.timestamps[path],
		})
	}

	sort.Slice(ix.fileEdits, func(i, j int) bool { return ix.fileEdits[i].Path < ix.fileEdits[j].Path })
}

// findEdit returns a pointer to the edit entry for path, or nil.
func (ix *Index) findEdit(path string) *session.FileEdit {
	for i := range ix.fileEdits {
		if ix.fileEdits[i].Path == path {
			return &ix.fileEdits[i]
		}
	}
	return nil
}
