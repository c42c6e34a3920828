package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Server struct {
	ctx      context.Context
	hub      messageHub
	opts     ConnectionOptions
	logger   *slog.Logger
	upgrader *websocket.Upgrader
}

// NewServer returns the websocket endpoint of the relay. Connections live
// until ctx is done, independently of the HTTP request that opened them.
func NewServer(ctx context.Context, hub messageHub, opts ConnectionOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		ctx:    ctx,
		hub:    hub,
		opts:   opts,
		logger: opts.Logger,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Any origin may connect
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("error upgrading to websocket", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	connID := uuid.NewString()
	conn, err := NewConnection(s.hub, ws, connID, s.opts)
	if err != nil {
		s.logger.Error("failed to register connection", "conn_id", connID, "error", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "relay unavailable"), time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}

	s.logger.Info("client connected", "conn_id", connID, "remote_addr", r.RemoteAddr)

	err = conn.Handle(s.ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrEvicted):
		s.logger.Warn("client dropped", "conn_id", connID, "error", err)
	case websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived):
	default:
		s.logger.Warn("client connection error", "conn_id", connID, "error", err)
	}

	s.logger.Info("client disconnected", "conn_id", connID)
}
