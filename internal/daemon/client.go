package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sessionlens/sessionlens/internal/bridge"
	lenserr "github.com/sessionlens/sessionlens/internal/errors"
	"github.com/sessionlens/sessionlens/internal/index"
	"github.com/sessionlens/sessionlens/internal/session"
)

// Client talks to the daemon over its Unix socket. It implements
// bridge.Bridge, so a syncer runs unchanged against a local engine or a
// daemon.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, lenserr.New(lenserr.ErrCodeSocketUnavailable, "failed to connect to daemon: "+err.Error(), err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var result PingResult
	return c.call(ctx, MethodPing, nil, &result)
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var result StatusResult
	if err := c.call(ctx, MethodStatus, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StartWatch implements bridge.Bridge.
func (c *Client) StartWatch(ctx context.Context, id session.Identity) error {
	params := WatchParams{ProjectPath: id.ProjectPath, SessionID: id.SessionID}
	if err := params.Validate(); err != nil {
		return lenserr.New(lenserr.ErrCodeInvalidIdentity, err.Error(), err)
	}
	return c.call(ctx, MethodWatch, params, nil)
}

// StopWatch implements bridge.Bridge.
func (c *Client) StopWatch(ctx context.Context, id session.Identity) error {
	params := WatchParams{ProjectPath: id.ProjectPath, SessionID: id.SessionID}
	if err := params.Validate(); err != nil {
		return lenserr.New(lenserr.ErrCodeInvalidIdentity, err.Error(), err)
	}
	return c.call(ctx, MethodUnwatch, params, nil)
}

// EditContext queries the conversation segment behind the most recent
// edit of a file in a watched session. While the index is still
// building the returned error is retryable.
func (c *Client) EditContext(ctx context.Context, id session.Identity, file string) (*index.EditContext, error) {
	params := EditContextParams{ProjectPath: id.ProjectPath, SessionID: id.SessionID, File: file}
	if err := params.Validate(); err != nil {
		return nil, lenserr.New(lenserr.ErrCodeInvalidIdentity, err.Error(), err)
	}
	var result index.EditContext
	if err := c.call(ctx, MethodEditContext, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Subscribe implements bridge.Bridge. It holds a dedicated connection
// open and forwards pushed event notifications to the handler until the
// returned handle is disposed.
func (c *Client) Subscribe(ctx context.Context, event string, h bridge.Handler) (bridge.Disposable, error) {
	conn, err := c.Connect()
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  MethodSubscribe,
		Params:  SubscribeParams{Event: event},
		ID:      c.nextID(),
	}

	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	decoder := json.NewDecoder(conn)
	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		_ = conn.Close()
		return nil, lenserr.New(lenserr.ErrCodeBadResponse, "failed to receive response: "+err.Error(), err)
	}
	if resp.Error != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe failed: %s (code: %d)", resp.Error.Message, resp.Error.Code)
	}

	// The stream outlives the handshake deadline.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to clear deadline: %w", err)
	}

	// Disposing closes the connection, which ends the reader loop. A
	// notification already decoded when Dispose runs may still reach the
	// handler once.
	disposed := make(chan struct{})
	go func() {
		for {
			var note Notification
			if err := decoder.Decode(&note); err != nil {
				return
			}
			if note.Method != MethodEvent {
				continue
			}
			select {
			case <-disposed:
				return
			default:
			}
			h(bridge.Event{
				ProjectPath: note.Params.ProjectPath,
				SessionID:   note.Params.SessionID,
				Status:      note.Params.Status,
			})
		}
	}()

	return bridge.Once(func() {
		close(disposed)
		_ = conn.Close()
	}), nil
}

// call performs one request/response exchange on a fresh connection.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID(),
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return lenserr.New(lenserr.ErrCodeBadResponse, "failed to receive response: "+err.Error(), err)
	}

	if resp.Error != nil {
		if resp.Error.Code == ErrCodeNotReady {
			// Preserve retryability across the wire.
			return lenserr.New(lenserr.ErrCodeIndexNotReady, resp.Error.Message, nil)
		}
		return fmt.Errorf("%s failed: %s (code: %d)", method, resp.Error.Message, resp.Error.Code)
	}

	if result == nil {
		return nil
	}

	resultData, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultData, result); err != nil {
		return lenserr.New(lenserr.ErrCodeBadResponse, "failed to decode result: "+err.Error(), err)
	}
	return nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
