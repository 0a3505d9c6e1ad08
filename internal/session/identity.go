// Package session defines the identity of a coding session and the
// transcript event model shared by the index engine and the synchronizer.
package session

import "fmt"

// Identity names the (project, session) pair an activation is scoped to.
// An empty SessionID means "no active session".
type Identity struct {
	ProjectPath string `json:"projectPath"`
	SessionID   string `json:"sessionId"`
}

// Active reports whether the identity names an actual session.
func (id Identity) Active() bool {
	return id.SessionID != ""
}

// Equal compares two identities by value.
func (id Identity) Equal(other Identity) bool {
	return id == other
}

// String returns a compact form for logging.
func (id Identity) String() string {
	if !id.Active() {
		return fmt.Sprintf("%s (no session)", id.ProjectPath)
	}
	return fmt.Sprintf("%s:%s", id.ProjectPath, id.SessionID)
}
