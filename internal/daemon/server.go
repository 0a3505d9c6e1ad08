package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sessionlens/sessionlens/internal/bridge"
	"github.com/sessionlens/sessionlens/internal/engine"
	lenserr "github.com/sessionlens/sessionlens/internal/errors"
	"github.com/sessionlens/sessionlens/internal/session"
)

// Server listens on a Unix socket and serves watch, unwatch, status,
// ping, and subscribe requests against an engine.
type Server struct {
	cfg     Config
	engine  *engine.Engine
	logger  *slog.Logger
	started time.Time

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
}

// NewServer creates a server over the given engine.
func NewServer(cfg Config, eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		engine: eng,
		logger: logger,
	}
}

// ListenAndServe starts the server and blocks until the context is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Clean up any stale socket.
	_ = os.Remove(s.cfg.SocketPath)

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.SocketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.started = time.Now()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.cfg.SocketPath)
	}()

	s.logger.Info("daemon listening", slog.String("socket", s.cfg.SocketPath))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		return listener.Close()
	})

	g.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				s.mu.Lock()
				shutdown := s.shutdown
				s.mu.Unlock()
				if shutdown {
					return nil
				}
				s.logger.Error("accept error", slog.String("error", err.Error()))
				continue
			}

			g.Go(func() error {
				s.handleConnection(ctx, conn)
				return nil
			})
		}
	})

	_ = g.Wait()
	return ctx.Err()
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// handleConnection processes a single client connection. Ordinary
// requests are one exchange per connection; subscribe requests upgrade
// the connection to a long-lived event stream.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		s.logger.Warn("failed to set connection deadline", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		resp := NewErrorResponse("", ErrCodeParseError, "failed to parse request")
		_ = encoder.Encode(resp)
		return
	}

	if req.Method == MethodSubscribe {
		s.handleSubscribe(ctx, conn, encoder, req)
		return
	}

	resp := s.handleRequest(ctx, req)
	_ = encoder.Encode(resp)
}

// handleRequest dispatches a request/response method.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, StatusResult{
			Running:    true,
			PID:        os.Getpid(),
			Uptime:     time.Since(s.started).Round(time.Second).String(),
			WatchCount: s.engine.WatchCount(),
		})

	case MethodWatch:
		return s.handleWatch(ctx, req, s.engine.StartWatch)

	case MethodUnwatch:
		return s.handleWatch(ctx, req, s.engine.StopWatch)

	case MethodEditContext:
		return s.handleEditContext(req)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// handleWatch decodes watch/unwatch params and invokes op.
func (s *Server) handleWatch(ctx context.Context, req Request, op func(context.Context, session.Identity) error) Response {
	var params WatchParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	id := session.Identity{ProjectPath: params.ProjectPath, SessionID: params.SessionID}
	if err := op(ctx, id); err != nil {
		s.logger.Warn("watch request failed",
			slog.String("method", req.Method),
			slog.String("category", string(lenserr.GetCategory(err))),
			slog.String("error", err.Error()),
		)
		return NewErrorResponse(req.ID, ErrCodeWatchFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, WatchResult{OK: true, Status: s.engine.IndexStatus(id)})
}

// handleEditContext serves an edit-context query against a watched
// session's index.
func (s *Server) handleEditContext(req Request) Response {
	var params EditContextParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	id := session.Identity{ProjectPath: params.ProjectPath, SessionID: params.SessionID}
	res, err := s.engine.EditContext(id, params.File)
	if err != nil {
		if lenserr.IsRetryable(err) {
			return NewErrorResponse(req.ID, ErrCodeNotReady, err.Error())
		}
		s.logger.Warn("edit context query failed",
			slog.String("category", string(lenserr.GetCategory(err))),
			slog.String("error", err.Error()),
		)
		return NewErrorResponse(req.ID, ErrCodeQueryFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, res)
}

// handleSubscribe registers a bus subscription whose handler writes
// event notifications to the connection, then blocks until the client
// disconnects or the server shuts down.
func (s *Server) handleSubscribe(ctx context.Context, conn net.Conn, encoder *json.Encoder, req Request) {
	var params SubscribeParams
	if err := decodeParams(req.Params, &params); err != nil {
		_ = encoder.Encode(NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error()))
		return
	}
	if err := params.Validate(); err != nil {
		_ = encoder.Encode(NewErrorResponse(req.ID, ErrCodeUnknownEvent, err.Error()))
		return
	}

	// The stream lives until the client goes away.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		s.logger.Warn("failed to clear connection deadline", slog.String("error", err.Error()))
	}

	var writeMu sync.Mutex
	sub, err := s.engine.Subscribe(ctx, params.Event, func(ev bridge.Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = encoder.Encode(Notification{
			JSONRPC: "2.0",
			Method:  MethodEvent,
			Params: EventPayload{
				Event:       params.Event,
				ProjectPath: ev.ProjectPath,
				SessionID:   ev.SessionID,
				Status:      ev.Status,
			},
		})
	})
	if err != nil {
		_ = encoder.Encode(NewErrorResponse(req.ID, ErrCodeUnknownEvent, err.Error()))
		return
	}
	defer sub.Dispose()

	writeMu.Lock()
	ack := encoder.Encode(NewSuccessResponse(req.ID, SubscribedResult{Subscribed: true, Event: params.Event}))
	writeMu.Unlock()
	if ack != nil {
		return
	}

	// Detect disconnect by reading; the client never sends again on
	// this connection, so any return means it is gone.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		_, _ = io.Copy(io.Discard, conn)
	}()

	select {
	case <-ctx.Done():
	case <-disconnected:
	}
}

// decodeParams round-trips loosely typed params into a concrete type.
func decodeParams(params any, dst any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}
