package daemon

import (
	"fmt"

	"github.com/sessionlens/sessionlens/internal/bridge"
	"github.com/sessionlens/sessionlens/internal/index"
)

// JSON-RPC 2.0 method names.
const (
	MethodWatch       = "watch"
	MethodUnwatch     = "unwatch"
	MethodSubscribe   = "subscribe"
	MethodStatus      = "status"
	MethodPing        = "ping"
	MethodEditContext = "editContext"

	// MethodEvent is the notification method used on subscription
	// connections to push events to the client.
	MethodEvent = "event"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Custom error codes for daemon-specific errors.
const (
	ErrCodeWatchFailed  = -32001
	ErrCodeUnknownEvent = -32002
	ErrCodeQueryFailed  = -32003

	// ErrCodeNotReady means the index is still building; the request can
	// be retried.
	ErrCodeNotReady = -32004
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Notification is a JSON-RPC 2.0 notification, used for pushed events.
type Notification struct {
	JSONRPC string       `json:"jsonrpc"`
	Method  string       `json:"method"`
	Params  EventPayload `json:"params"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// WatchParams are the parameters for the watch and unwatch methods.
type WatchParams struct {
	// ProjectPath is the project root path (required).
	ProjectPath string `json:"projectPath"`

	// SessionID is the session to watch (required).
	SessionID string `json:"sessionId"`
}

// Validate checks that required fields are present.
func (p *WatchParams) Validate() error {
	if p.ProjectPath == "" {
		return fmt.Errorf("projectPath is required")
	}
	if p.SessionID == "" {
		return fmt.Errorf("sessionId is required")
	}
	return nil
}

// EditContextParams are the parameters for the editContext method.
type EditContextParams struct {
	// ProjectPath is the project root path (required).
	ProjectPath string `json:"projectPath"`

	// SessionID is the watched session to query (required).
	SessionID string `json:"sessionId"`

	// File is the edited file path as recorded in the index (required).
	File string `json:"file"`
}

// Validate checks that required fields are present.
func (p *EditContextParams) Validate() error {
	if p.ProjectPath == "" {
		return fmt.Errorf("projectPath is required")
	}
	if p.SessionID == "" {
		return fmt.Errorf("sessionId is required")
	}
	if p.File == "" {
		return fmt.Errorf("file is required")
	}
	return nil
}

// SubscribeParams are the parameters for the subscribe method.
type SubscribeParams struct {
	// Event is the stream to subscribe to: "index-ready" or
	// "session-changed".
	Event string `json:"event"`
}

// Validate checks the event name.
func (p *SubscribeParams) Validate() error {
	if p.Event != bridge.EventIndexReady && p.Event != bridge.EventSessionChanged {
		return fmt.Errorf("unknown event: %q", p.Event)
	}
	return nil
}

// EventPayload is the body of a pushed event notification.
type EventPayload struct {
	Event       string        `json:"event"`
	ProjectPath string        `json:"projectPath"`
	SessionID   string        `json:"sessionId"`
	Status      *index.Status `json:"status,omitempty"`
}

// WatchResult acknowledges a watch or unwatch request. Status carries
// the identity's index status at acknowledgement time: a building
// status for a just-accepted watch, nil once the watch is released.
type WatchResult struct {
	OK     bool          `json:"ok"`
	Status *index.Status `json:"status,omitempty"`
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running    bool   `json:"running"`
	PID        int    `json:"pid"`
	Uptime     string `json:"uptime"`
	WatchCount int    `json:"watch_count"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}

// SubscribedResult acknowledges a subscription; event notifications
// follow on the same connection.
type SubscribedResult struct {
	Subscribed bool   `json:"subscribed"`
	Event      string `json:"event"`
}
