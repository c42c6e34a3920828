package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"conversa/internal/models"

	"github.com/gorilla/websocket"
)

var ErrEvicted = errors.New("connection evicted by hub")

const (
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// keepaliveConn is implemented by *websocket.Conn. Connections that support
// it get pings and read deadlines.
type keepaliveConn interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

type messageHub interface {
	Register(connID string) (<-chan models.ServerEvent, error)
	Unregister(connID string)
	Join(connID, roomID string)
	Leave(connID, roomID string)
	Publish(connID, roomID string, message json.RawMessage)
}

type ConnectionOptions struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// clientFrame is either a decoded event or a payload error for the frame.
type clientFrame struct {
	event models.ClientEvent
	err   *models.ServerError
}

type Connection struct {
	ws         wsConnection
	hub        messageHub
	connID     string
	opts       ConnectionOptions
	logger     *slog.Logger
	fromClient chan clientFrame
	fromServer <-chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	connID string,
	opts ConnectionOptions,
) (*Connection, error) {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fromServer, err := hub.Register(connID)
	if err != nil {
		return nil, err
	}

	return &Connection{
		ws:         ws,
		hub:        hub,
		connID:     connID,
		opts:       opts,
		logger:     opts.Logger.With("conn_id", connID),
		fromClient: make(chan clientFrame),
		fromServer: fromServer,
		errorCh:    make(chan error, 2),
	}, nil
}

// Handle serves the connection until the socket fails, the hub evicts it or
// ctx is done. The connection is always unregistered and closed on return.
func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.errorCh)
		c.hub.Unregister(c.connID)
	}()

	if ka, ok := c.ws.(keepaliveConn); ok {
		c.setupKeepalive(ka)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) setupKeepalive(ka keepaliveConn) {
	deadline := c.opts.PingInterval * 2
	_ = ka.SetReadDeadline(time.Now().Add(deadline))
	ka.SetPongHandler(func(string) error {
		return ka.SetReadDeadline(time.Now().Add(deadline))
	})
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var frame clientFrame
		if err := c.ws.ReadJSON(&frame.event); err != nil {
			if !isPayloadError(err) {
				return err
			}
			frame = clientFrame{err: &models.ServerError{
				Code:    models.ErrorCodeInvalidPayload,
				Message: "malformed frame: " + err.Error(),
			}}
		}
		select {
		case c.fromClient <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.fromClient:
			if err := c.processClientFrame(frame); err != nil {
				return err
			}
		case msg, ok := <-c.fromServer:
			if !ok {
				return ErrEvicted
			}
			if err := c.write(msg); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientFrame(frame clientFrame) error {
	if frame.err != nil {
		c.logger.Warn("rejected client frame", "error", frame.err)
		return c.write(frame.err.Frame())
	}

	msg := frame.event
	if serr := msg.Validate(); serr != nil {
		c.logger.Warn("rejected client event", "error", serr)
		return c.write(serr.Frame())
	}

	switch msg.Type {
	case models.ClientEventJoinRoom:
		c.hub.Join(c.connID, msg.RoomID)
	case models.ClientEventLeaveRoom:
		c.hub.Leave(c.connID, msg.RoomID)
	case models.ClientEventSendMessage:
		c.hub.Publish(c.connID, msg.RoomID, msg.Message)
	}

	return nil
}

func (c *Connection) write(v any) error {
	if ka, ok := c.ws.(keepaliveConn); ok {
		_ = ka.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	return c.ws.WriteJSON(v)
}

func (c *Connection) ping() error {
	ka, ok := c.ws.(keepaliveConn)
	if !ok {
		return nil
	}
	return ka.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
}

// isPayloadError separates frames that failed to decode from transport
// failures. The socket is still usable after the former. A truncated or
// empty frame surfaces as io.ErrUnexpectedEOF; transport failures come back
// as close or net errors instead.
func isPayloadError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}
