package room

import (
	"sort"
	"time"
)

// Room tracks which connections receive broadcasts for one conversation.
// It is owned by the hub loop and is not safe for concurrent use.
type Room struct {
	ID        string
	CreatedAt time.Time
	// Published counts messages fanned out since the room was created in
	// this process.
	Published int64

	members map[string]struct{}
}

func New(id string, now time.Time) *Room {
	return &Room{
		ID:        id,
		CreatedAt: now,
		members:   make(map[string]struct{}),
	}
}

// Join adds a member. It returns false when the member was already there.
func (r *Room) Join(memberID string) bool {
	if _, ok := r.members[memberID]; ok {
		return false
	}
	r.members[memberID] = struct{}{}
	return true
}

// Leave removes a member. It returns false when the member was not there.
func (r *Room) Leave(memberID string) bool {
	if _, ok := r.members[memberID]; !ok {
		return false
	}
	delete(r.members, memberID)
	return true
}

func (r *Room) Len() int {
	return len(r.members)
}

// Members returns a sorted snapshot of member ids.
func (r *Room) Members() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast calls deliver once per member. deliver may remove members from
// the room; the snapshot taken before the first call is used throughout.
func (r *Room) Broadcast(deliver func(memberID string)) {
	r.Published++
	for _, id := range r.Members() {
		deliver(id)
	}
}
