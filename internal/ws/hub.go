package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"conversa/internal/models"
	"conversa/internal/room"
	"conversa/internal/storage"
)

var ErrHubStopped = errors.New("hub stopped")

const DefaultSendBuffer = 256

// Hub owns room membership and fans published messages out to members.
// Every request is executed by the Run loop one at a time, so per-room order
// is the order in which requests reach the loop.
type Hub struct {
	store      storage.RoomStore
	sendBuffer int
	logger     *slog.Logger
	now        func() time.Time

	// Owned by the Run loop.
	rooms       map[string]*room.Room
	subscribers map[string]*subscriber

	requests chan func()
	done     chan struct{}
}

type subscriber struct {
	id    string
	send  chan models.ServerEvent
	rooms map[string]struct{}
}

type HubConfig struct {
	Store storage.RoomStore
	// SendBuffer is the number of outbound events queued per connection
	// before the connection is considered too slow and evicted.
	SendBuffer int
	Logger     *slog.Logger
}

type Stats struct {
	Connections int `json:"connections"`
	// Rooms counts rooms joined or published to since the process started.
	// Rooms that only exist in a durable store are listed by Hub.Rooms.
	Rooms int `json:"rooms"`
}

// RoomActivity describes a room the hub has touched in this process.
type RoomActivity struct {
	ID        string    `json:"id"`
	Members   int       `json:"members"`
	Published int64     `json:"published"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}

	return &Hub{
		store:       cfg.Store,
		sendBuffer:  cfg.SendBuffer,
		logger:      cfg.Logger,
		now:         time.Now,
		rooms:       make(map[string]*room.Room),
		subscribers: make(map[string]*subscriber),
		requests:    make(chan func()),
		done:        make(chan struct{}),
	}
}

// Run processes requests until ctx is done. Outbound channels of connections
// still registered at that point are closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down", "connections", len(h.subscribers))
			for _, sub := range h.subscribers {
				h.drop(sub)
			}
			return
		case fn := <-h.requests:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) do(fn func()) error {
	select {
	case h.requests <- fn:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// call runs fn on the loop and waits for it to finish.
func (h *Hub) call(fn func()) error {
	finished := make(chan struct{})
	if err := h.do(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Register creates the outbound queue of a connection. The channel is closed
// when the connection is unregistered, evicted or the hub stops.
func (h *Hub) Register(connID string) (<-chan models.ServerEvent, error) {
	var ch chan models.ServerEvent
	err := h.call(func() {
		if old, ok := h.subscribers[connID]; ok {
			h.drop(old)
		}
		sub := &subscriber{
			id:    connID,
			send:  make(chan models.ServerEvent, h.sendBuffer),
			rooms: make(map[string]struct{}),
		}
		h.subscribers[connID] = sub
		ch = sub.send
		h.logger.Debug("connection registered", "conn_id", connID, "connections", len(h.subscribers))
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Unregister drops every membership of the connection. Room histories are
// left untouched.
func (h *Hub) Unregister(connID string) {
	_ = h.do(func() {
		if sub, ok := h.subscribers[connID]; ok {
			h.drop(sub)
			h.logger.Debug("connection unregistered", "conn_id", connID, "connections", len(h.subscribers))
		}
	})
}

// Join subscribes the connection to roomID and queues the room history on
// the connection's channel.
func (h *Hub) Join(connID, roomID string) {
	_ = h.do(func() { h.handleJoin(connID, roomID) })
}

// Leave unsubscribes the connection from roomID. Leaving a room the
// connection is not in does nothing.
func (h *Hub) Leave(connID, roomID string) {
	_ = h.do(func() { h.handleLeave(connID, roomID) })
}

// Publish appends message to the room history and sends it to every member,
// the publisher included.
func (h *Hub) Publish(connID, roomID string, message json.RawMessage) {
	_ = h.do(func() { h.handlePublish(connID, roomID, message) })
}

func (h *Hub) Stats() (Stats, error) {
	var stats Stats
	err := h.call(func() {
		stats = Stats{
			Connections: len(h.subscribers),
			Rooms:       len(h.rooms),
		}
	})
	return stats, err
}

// ActiveRooms reports membership and publish counts of the rooms touched
// since the process started, ordered by id.
func (h *Hub) ActiveRooms() ([]RoomActivity, error) {
	var rooms []RoomActivity
	err := h.call(func() {
		rooms = make([]RoomActivity, 0, len(h.rooms))
		for _, r := range h.rooms {
			rooms = append(rooms, RoomActivity{
				ID:        r.ID,
				Members:   r.Len(),
				Published: r.Published,
				CreatedAt: r.CreatedAt,
			})
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

// Rooms lists rooms known to the store.
func (h *Hub) Rooms() ([]storage.RoomInfo, error) {
	return h.store.Rooms()
}

func (h *Hub) handleJoin(connID, roomID string) {
	sub, ok := h.subscribers[connID]
	if !ok {
		return
	}
	if roomID == "" {
		h.deliver(sub, models.NewServerError(models.ErrorCodeInvalidPayload,
			models.ClientEvent{Type: models.ClientEventJoinRoom}, "roomId is required").Frame())
		return
	}

	history, err := h.store.History(roomID)
	if err != nil {
		h.logger.Error("failed to load room history", "room_id", roomID, "error", err)
		h.deliver(sub, models.NewServerError(models.ErrorCodeStoreFailure,
			models.ClientEvent{Type: models.ClientEventJoinRoom, RoomID: roomID}, "history unavailable").Frame())
		return
	}

	r := h.room(roomID)
	if r.Join(connID) {
		sub.rooms[roomID] = struct{}{}
		h.logger.Debug("joined room", "conn_id", connID, "room_id", roomID, "members", r.Len())
	}

	h.deliver(sub, models.ServerEvent{
		Type:     models.ServerEventRoomHistory,
		RoomID:   roomID,
		Messages: history,
	})
}

func (h *Hub) handleLeave(connID, roomID string) {
	sub, ok := h.subscribers[connID]
	if !ok {
		return
	}
	delete(sub.rooms, roomID)
	if r, ok := h.rooms[roomID]; ok && r.Leave(connID) {
		h.logger.Debug("left room", "conn_id", connID, "room_id", roomID, "members", r.Len())
	}
}

func (h *Hub) handlePublish(connID, roomID string, message json.RawMessage) {
	req := models.ClientEvent{Type: models.ClientEventSendMessage, RoomID: roomID}

	sub := h.subscribers[connID]
	if roomID == "" || models.IsEmptyPayload(message) {
		if sub != nil {
			h.deliver(sub, models.NewServerError(models.ErrorCodeInvalidPayload, req, "roomId and message are required").Frame())
		}
		return
	}

	seq, err := h.store.Append(roomID, message)
	if err != nil {
		h.logger.Error("failed to append message", "room_id", roomID, "conn_id", connID, "error", err)
		if sub != nil {
			h.deliver(sub, models.NewServerError(models.ErrorCodeStoreFailure, req, "message was not stored").Frame())
		}
		return
	}

	event := models.ServerEvent{
		Type:    models.ServerEventNewMessage,
		RoomID:  roomID,
		Message: message,
	}

	r := h.room(roomID)
	r.Broadcast(func(memberID string) {
		if member, ok := h.subscribers[memberID]; ok {
			h.deliver(member, event)
		}
	})

	h.logger.Debug("message published", "room_id", roomID, "conn_id", connID, "seq", seq, "members", r.Len())
}

func (h *Hub) room(roomID string) *room.Room {
	r, ok := h.rooms[roomID]
	if !ok {
		r = room.New(roomID, h.now())
		h.rooms[roomID] = r
	}
	return r
}

// deliver queues ev without blocking the loop. A full queue means the
// connection fell behind; it is evicted and recovers through history replay
// after reconnecting.
func (h *Hub) deliver(sub *subscriber, ev models.ServerEvent) {
	select {
	case sub.send <- ev:
	default:
		h.logger.Warn("evicting slow connection", "conn_id", sub.id, "queued", len(sub.send))
		h.drop(sub)
	}
}

func (h *Hub) drop(sub *subscriber) {
	for roomID := range sub.rooms {
		if r, ok := h.rooms[roomID]; ok {
			r.Leave(sub.id)
		}
	}
	sub.rooms = nil
	delete(h.subscribers, sub.id)
	close(sub.send)
}
