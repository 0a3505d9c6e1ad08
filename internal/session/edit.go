package session

// EditType classifies how a file was touched during a session.
type EditType string

const (
	// EditAdded indicates the file was created by the session.
	EditAdded EditType = "added"
	// EditModified indicates an existing file was changed.
	EditModified EditType = "modified"
)

// FileEdit is one file touched by the session, with the timestamp of
// the most recent edit to it.
type FileEdit struct {
	Path         string   `json:"path"`
	EditType     EditType `json:"editType"`
	LastEditedAt string   `json:"lastEditedAt,omitempty"`
}
