// Package server exposes a venus session over WebSocket. Clients send
// JSON requests tagged with an op and an optional id; the server answers
// each request and pushes session events to every connected client.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ml-rust/venus"
)

// Server serves one session to any number of WebSocket clients.
type Server struct {
	session  *venus.Session
	log      *slog.Logger
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New creates a server for the given session.
func New(session *venus.Session, log *slog.Logger) *Server {
	return &Server{
		session: session,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 16,
			WriteBufferSize: 1 << 16,
			// The engine binds to loopback by default; cross-origin
			// browser clients are the expected consumers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ListenAndServe blocks serving WebSocket connections on addr until ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", slog.Any("error", err))
		return
	}
	c := &client{
		server: s,
		conn:   conn,
		log:    s.log.With(slog.String("remote", conn.RemoteAddr().String())),
	}
	c.log.Info("client connected")
	c.serve(r.Context())
	c.log.Info("client disconnected")
}

// client is one WebSocket connection. Writes are serialized: the request
// handler and the event forwarder share the connection.
type client struct {
	server *Server
	conn   *websocket.Conn
	log    *slog.Logger

	writeMu sync.Mutex
}

func (c *client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *client) serve(ctx context.Context) {
	defer c.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := c.server.session.Subscribe()
	defer unsubscribe()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := c.send(eventMessage{Kind: "event", Event: ev}); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		var req Request
		if err := c.conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read request", slog.Any("error", err))
			}
			return
		}
		resp := c.server.dispatch(ctx, &req)
		if err := c.send(resp); err != nil {
			return
		}
	}
}
