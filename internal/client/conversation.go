package client

import (
	"errors"
	"slices"
	"sort"
	"time"

	"conversa/internal/models"

	"github.com/c-pro/geche"
)

// Entry is a message as seen by this client.
type Entry struct {
	models.Message
	Status Status `json:"status"`
}

// Conversation is the client's projection of a room.
type Conversation struct {
	RoomID          string
	Messages        []Entry
	LastMessage     *models.Message
	LastMessageTime time.Time
	UnreadCount     int
	State           RoomState

	// synced is set once a history has been merged.
	synced bool
}

func (c Conversation) clone() Conversation {
	c.Messages = slices.Clone(c.Messages)
	if c.LastMessage != nil {
		last := *c.LastMessage
		c.LastMessage = &last
	}
	return c
}

func (c *Conversation) refresh() {
	if len(c.Messages) == 0 {
		c.LastMessage = nil
		c.LastMessageTime = time.Time{}
		return
	}
	last := c.Messages[len(c.Messages)-1].Message
	c.LastMessage = &last
	c.LastMessageTime = parseTimestamp(last.Timestamp)
}

func (c *Conversation) index(id models.ID) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(c.Messages, func(e Entry) bool { return e.ID == id })
}

// mergeHistory replaces the message list with the server history. Local
// messages that are still pending or failed and missing from the history stay
// at the end. Messages from others that were not known before count as unread
// once a first history has been merged.
func (c *Conversation) mergeHistory(history []models.Message, selfID models.ID) {
	known := make(map[models.ID]struct{}, len(c.Messages))
	for _, e := range c.Messages {
		if e.ID != "" {
			known[e.ID] = struct{}{}
		}
	}

	inHistory := make(map[models.ID]struct{}, len(history))
	merged := make([]Entry, 0, len(history)+len(c.Messages))
	for _, msg := range history {
		merged = append(merged, Entry{Message: msg, Status: StatusDelivered})
		if msg.ID == "" {
			continue
		}
		inHistory[msg.ID] = struct{}{}
		if _, ok := known[msg.ID]; !ok && c.synced && msg.SenderID != selfID {
			c.UnreadCount++
		}
	}

	for _, e := range c.Messages {
		if e.Status == StatusDelivered {
			continue
		}
		if _, ok := inHistory[e.ID]; !ok {
			merged = append(merged, e)
		}
	}

	c.Messages = merged
	c.synced = true
}

// mergeMessage applies a new_message event. The echo of a message already in
// the list marks it delivered. It reports whether anything changed.
func (c *Conversation) mergeMessage(msg models.Message, selfID models.ID) bool {
	if i := c.index(msg.ID); i >= 0 {
		if c.Messages[i].Status == StatusDelivered && c.Messages[i].Message == msg {
			return false
		}
		c.Messages[i] = Entry{Message: msg, Status: StatusDelivered}
		return true
	}

	c.Messages = append(c.Messages, Entry{Message: msg, Status: StatusDelivered})
	if selfID == "" || msg.SenderID != selfID {
		c.UnreadCount++
	}
	return true
}

func (c *Conversation) setStatus(id models.ID, status Status) bool {
	i := c.index(id)
	if i < 0 || c.Messages[i].Status == status {
		return false
	}
	c.Messages[i].Status = status
	return true
}

// failOldestPending marks the earliest pending message failed. The relay
// answers a connection's requests in order, so a send error belongs to it.
func (c *Conversation) failOldestPending() bool {
	for i := range c.Messages {
		if c.Messages[i].Status == StatusPending {
			c.Messages[i].Status = StatusFailed
			return true
		}
	}
	return false
}

func (c *Conversation) failPending() bool {
	changed := false
	for i := range c.Messages {
		if c.Messages[i].Status == StatusPending {
			c.Messages[i].Status = StatusFailed
			changed = true
		}
	}
	return changed
}

func parseTimestamp(ts string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}

// conversations holds the projections of all rooms the client has touched.
type conversations struct {
	locker *geche.Locker[string, Conversation]
}

func newConversations() *conversations {
	return &conversations{
		locker: geche.NewLocker[string, Conversation](geche.NewMapCache[string, Conversation]()),
	}
}

func (cs *conversations) get(roomID string) (Conversation, bool) {
	tx := cs.locker.RLock()
	defer tx.Unlock()

	conv, err := tx.Get(roomID)
	if err != nil {
		return Conversation{}, false
	}
	return conv.clone(), true
}

// list returns all projections, most recent activity first.
func (cs *conversations) list() []Conversation {
	tx := cs.locker.RLock()
	snapshot := tx.Snapshot()
	tx.Unlock()

	list := make([]Conversation, 0, len(snapshot))
	for _, conv := range snapshot {
		list = append(list, conv.clone())
	}

	sort.Slice(list, func(i, j int) bool {
		if !list[i].LastMessageTime.Equal(list[j].LastMessageTime) {
			return list[i].LastMessageTime.After(list[j].LastMessageTime)
		}
		return list[i].RoomID < list[j].RoomID
	})
	return list
}

// update runs fn on the projection of roomID, creating it when missing. The
// result is stored only if fn reports a change; the second return value is
// fn's answer.
func (cs *conversations) update(roomID string, fn func(conv *Conversation, fresh bool) bool) (Conversation, bool) {
	tx := cs.locker.Lock()
	defer tx.Unlock()

	conv, err := tx.Get(roomID)
	fresh := errors.Is(err, geche.ErrNotFound)
	if fresh {
		conv = Conversation{RoomID: roomID}
	}

	if !fn(&conv, fresh) {
		return Conversation{}, false
	}

	conv.refresh()
	tx.Set(roomID, conv)
	return conv.clone(), true
}

// updateAll runs fn on every projection and returns the changed ones.
func (cs *conversations) updateAll(fn func(conv *Conversation) bool) []Conversation {
	tx := cs.locker.Lock()
	defer tx.Unlock()

	var changed []Conversation
	for roomID, conv := range tx.Snapshot() {
		conv.Messages = slices.Clone(conv.Messages)
		if !fn(&conv) {
			continue
		}
		conv.refresh()
		tx.Set(roomID, conv)
		changed = append(changed, conv.clone())
	}

	sort.Slice(changed, func(i, j int) bool { return changed[i].RoomID < changed[j].RoomID })
	return changed
}
