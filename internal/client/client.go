package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conversa/internal/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("not connected to relay")
	ErrClosed       = errors.New("client closed")
	ErrEmptyRoomID  = errors.New("room id is empty")
	ErrNotJoined    = errors.New("room not joined")
)

// TimestampLayout is used for timestamps the client assigns: ISO-8601 in
// UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultReadTimeout  = 75 * time.Second
)

// Backoff bounds the delay between reconnect attempts.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

var DefaultBackoff = Backoff{
	Initial: 500 * time.Millisecond,
	Max:     30 * time.Second,
	Factor:  2,
}

type Config struct {
	// URL of the relay websocket endpoint, e.g. ws://localhost:3001/ws.
	URL string
	// SelfID is the participant id of this client. Messages sent by it do not
	// count as unread.
	SelfID models.ID

	Backoff      Backoff
	WriteTimeout time.Duration
	// ReadTimeout is how long the connection may stay silent, relay pings
	// included, before it is considered dead.
	ReadTimeout time.Duration
	Dialer      *websocket.Dialer
	Logger      *slog.Logger

	OnConversation func(Conversation)
	OnState        func(State)
	OnError        func(models.ServerError)
}

// Client keeps one connection to the relay and projects the rooms it joined
// into conversations. It reconnects on its own until Close is called.
type Client struct {
	cfg    Config
	logger *slog.Logger
	convs  *conversations

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	started   bool
	firstDial chan struct{}
	firstErr  error
	cancel    context.CancelFunc

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func New(cfg Config) *Client {
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff.Initial = DefaultBackoff.Initial
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = DefaultBackoff.Max
	}
	if cfg.Backoff.Factor < 1 {
		cfg.Backoff.Factor = DefaultBackoff.Factor
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		cfg:       cfg,
		logger:    cfg.Logger.With("relay", cfg.URL),
		convs:     newConversations(),
		state:     StateDisconnected,
		firstDial: make(chan struct{}),
	}
}

// Connect starts the connection supervisor on the first call and waits for
// its first dial attempt. A failed attempt is returned, but the supervisor
// keeps retrying. Later calls report the first attempt without dialing.
// ctx only bounds the wait.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.started {
		c.started = true
		runCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Go(func() { c.supervise(runCtx) })
	}
	firstDial := c.firstDial
	c.mu.Unlock()

	select {
	case <-firstDial:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.firstErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops reconnecting and closes the connection. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.wg.Wait()

	c.emitState(StateClosed)
	return err
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) RoomState(roomID string) RoomState {
	conv, ok := c.convs.get(roomID)
	if !ok {
		return RoomNone
	}
	return conv.State
}

func (c *Client) Conversation(roomID string) (Conversation, bool) {
	return c.convs.get(roomID)
}

// Conversations lists all conversations, most recent message first.
func (c *Client) Conversations() []Conversation {
	return c.convs.list()
}

// JoinRoom subscribes to roomID. The history arrives asynchronously through
// OnConversation. While disconnected the join is sent after reconnecting.
func (c *Client) JoinRoom(roomID string) error {
	if roomID == "" {
		return ErrEmptyRoomID
	}
	if c.State() == StateClosed {
		return ErrClosed
	}

	conv, _ := c.convs.update(roomID, func(conv *Conversation, _ bool) bool {
		conv.State = RoomJoining
		return true
	})
	c.emitConversation(conv)

	return c.sendControl(models.ClientEvent{Type: models.ClientEventJoinRoom, RoomID: roomID})
}

// LeaveRoom unsubscribes from roomID. The conversation is kept.
func (c *Client) LeaveRoom(roomID string) error {
	if roomID == "" {
		return ErrEmptyRoomID
	}
	if c.State() == StateClosed {
		return ErrClosed
	}

	if conv, ok := c.convs.update(roomID, func(conv *Conversation, fresh bool) bool {
		if fresh || conv.State == RoomLeft {
			return false
		}
		conv.State = RoomLeft
		return true
	}); ok {
		c.emitConversation(conv)
	}

	return c.sendControl(models.ClientEvent{Type: models.ClientEventLeaveRoom, RoomID: roomID})
}

// SendMessage publishes msg to roomID, which must have been joined. Missing
// id and timestamp are filled in. The message is added to the conversation
// as pending right away and becomes delivered when the relay echoes it back.
// Sending a failed message again with the same id retries it.
func (c *Client) SendMessage(roomID string, msg models.Message) (models.Message, error) {
	if roomID == "" {
		return msg, ErrEmptyRoomID
	}
	if c.State() == StateClosed {
		return msg, ErrClosed
	}
	// Only members get the echo that marks a message delivered.
	if !c.RoomState(roomID).wantsMembership() {
		return msg, ErrNotJoined
	}

	if msg.ID == "" {
		msg.ID = models.ID(uuid.NewString())
	}
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(TimestampLayout)
	}

	conv, _ := c.convs.update(roomID, func(conv *Conversation, _ bool) bool {
		if i := conv.index(msg.ID); i >= 0 {
			conv.Messages[i] = Entry{Message: msg, Status: StatusPending}
			return true
		}
		conv.Messages = append(conv.Messages, Entry{Message: msg, Status: StatusPending})
		return true
	})
	c.emitConversation(conv)

	payload, err := json.Marshal(msg)
	if err != nil {
		c.markFailed(roomID, msg.ID)
		return msg, fmt.Errorf("encode message: %w", err)
	}

	err = c.send(models.ClientEvent{
		Type:    models.ClientEventSendMessage,
		RoomID:  roomID,
		Message: payload,
	})
	if err != nil {
		c.markFailed(roomID, msg.ID)
		return msg, err
	}

	return msg, nil
}

// MarkRoomRead clears the unread counter of roomID. Nothing is sent to the
// relay.
func (c *Client) MarkRoomRead(roomID string) {
	if conv, ok := c.convs.update(roomID, func(conv *Conversation, fresh bool) bool {
		if fresh || conv.UnreadCount == 0 {
			return false
		}
		conv.UnreadCount = 0
		return true
	}); ok {
		c.emitConversation(conv)
	}
}

func (c *Client) markFailed(roomID string, id models.ID) {
	if conv, ok := c.convs.update(roomID, func(conv *Conversation, _ bool) bool {
		return conv.setStatus(id, StatusFailed)
	}); ok {
		c.emitConversation(conv)
	}
}

// sendControl sends a membership request. Not being connected is fine, the
// supervisor replays memberships after reconnecting.
func (c *Client) sendControl(ev models.ClientEvent) error {
	err := c.send(ev)
	switch {
	case err == nil, errors.Is(err, ErrNotConnected):
		return nil
	case errors.Is(err, ErrClosed):
		return err
	default:
		c.logger.Warn("failed to send request, will retry after reconnect", "type", ev.Type, "room_id", ev.RoomID, "error", err)
		return nil
	}
}

func (c *Client) send(ev models.ClientEvent) error {
	c.mu.Lock()
	state, conn := c.state, c.conn
	c.mu.Unlock()

	if state == StateClosed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("write %s: %w", ev.Type, err)
	}
	return nil
}

func (c *Client) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.Backoff.Initial
	bo.MaxInterval = c.cfg.Backoff.Max
	bo.Multiplier = c.cfg.Backoff.Factor
	bo.Reset()
	return bo
}

// supervise dials, serves and redials the relay connection until ctx is done.
func (c *Client) supervise(ctx context.Context) {
	bo := c.newBackoff()
	first := true

	c.setState(StateConnecting)
	for {
		conn, err := c.dial(ctx)
		attached := err == nil && c.attach(conn)
		if err == nil && !attached {
			err = ErrClosed
		}
		if first {
			first = false
			c.mu.Lock()
			c.firstErr = err
			close(c.firstDial)
			c.mu.Unlock()
		}

		if attached {
			bo.Reset()
			c.rejoin()
			err = c.readLoop(conn)
			c.detach(conn)
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn("relay connection lost", "error", err)
		}

		c.setState(StateReconnecting)
		wait := bo.NextBackOff()
		c.logger.Debug("reconnecting", "in", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return conn, nil
}

// attach makes conn the current connection unless the client was closed in
// the meantime.
func (c *Client) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("connected to relay")
	c.emitState(StateConnected)
	return true
}

// detach drops conn. Messages still waiting for their echo are marked
// failed; the history replayed after reconnecting marks the stored ones
// delivered again.
func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()

	for _, conv := range c.convs.updateAll((*Conversation).failPending) {
		c.emitConversation(conv)
	}
}

func (c *Client) rejoin() {
	for _, conv := range c.convs.list() {
		if !conv.State.wantsMembership() {
			continue
		}
		if updated, ok := c.convs.update(conv.RoomID, func(conv *Conversation, _ bool) bool {
			if !conv.State.wantsMembership() {
				return false
			}
			conv.State = RoomJoining
			return true
		}); ok {
			c.emitConversation(updated)
		}
		if err := c.send(models.ClientEvent{Type: models.ClientEventJoinRoom, RoomID: conv.RoomID}); err != nil {
			c.logger.Warn("failed to rejoin room", "room_id", conv.RoomID, "error", err)
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		var ev models.ServerEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		c.handleEvent(ev)
	}
}

func (c *Client) handleEvent(ev models.ServerEvent) {
	switch ev.Type {
	case models.ServerEventRoomHistory:
		history := make([]models.Message, 0, len(ev.Messages))
		for _, raw := range ev.Messages {
			msg, ok := c.decodeMessage(ev.RoomID, raw)
			if ok {
				history = append(history, msg)
			}
		}
		conv, _ := c.convs.update(ev.RoomID, func(conv *Conversation, _ bool) bool {
			conv.mergeHistory(history, c.cfg.SelfID)
			if conv.State != RoomLeft {
				conv.State = RoomJoined
			}
			return true
		})
		c.emitConversation(conv)

	case models.ServerEventNewMessage:
		msg, ok := c.decodeMessage(ev.RoomID, ev.Message)
		if !ok {
			return
		}
		if conv, ok := c.convs.update(ev.RoomID, func(conv *Conversation, _ bool) bool {
			// A leave may cross a message already queued for this client.
			if !conv.State.wantsMembership() {
				return false
			}
			return conv.mergeMessage(msg, c.cfg.SelfID)
		}); ok {
			c.emitConversation(conv)
		}

	case models.ServerEventError:
		if ev.Error == nil {
			c.logger.Warn("error event without details", "room_id", ev.RoomID)
			return
		}
		c.logger.Warn("relay rejected request", "error", ev.Error)
		if ev.Error.Event == models.ClientEventSendMessage && ev.Error.RoomID != "" {
			if conv, ok := c.convs.update(ev.Error.RoomID, func(conv *Conversation, fresh bool) bool {
				return !fresh && conv.failOldestPending()
			}); ok {
				c.emitConversation(conv)
			}
		}
		if c.cfg.OnError != nil {
			c.cfg.OnError(*ev.Error)
		}

	default:
		c.logger.Debug("ignoring unknown event", "type", ev.Type)
	}
}

func (c *Client) decodeMessage(roomID string, raw json.RawMessage) (models.Message, bool) {
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn("skipping undecodable message", "room_id", roomID, "error", err)
		return models.Message{}, false
	}
	return msg, true
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.emitState(state)
}

func (c *Client) emitState(state State) {
	if c.cfg.OnState != nil {
		c.cfg.OnState(state)
	}
}

func (c *Client) emitConversation(conv Conversation) {
	if c.cfg.OnConversation != nil {
		c.cfg.OnConversation(conv)
	}
}
