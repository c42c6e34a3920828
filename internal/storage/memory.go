package storage

import (
	"encoding/json"
	"errors"
	"slices"
	"sort"

	"github.com/c-pro/geche"
)

// MemoryStore keeps room histories for the lifetime of the process.
type MemoryStore struct {
	rooms *geche.Locker[string, []json.RawMessage]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: geche.NewLocker[string, []json.RawMessage](geche.NewMapCache[string, []json.RawMessage]()),
	}
}

func (s *MemoryStore) Append(roomID string, msg json.RawMessage) (Seq, error) {
	if roomID == "" {
		return 0, ErrEmptyRoomID
	}

	tx := s.rooms.Lock()
	defer tx.Unlock()

	history, err := tx.Get(roomID)
	if err != nil && !errors.Is(err, geche.ErrNotFound) {
		return 0, err
	}

	history = append(history, slices.Clone(msg))
	tx.Set(roomID, history)

	return Seq(len(history)), nil
}

func (s *MemoryStore) History(roomID string) ([]json.RawMessage, error) {
	tx := s.rooms.RLock()
	defer tx.Unlock()

	history, err := tx.Get(roomID)
	if errors.Is(err, geche.ErrNotFound) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}

	return slices.Clone(history), nil
}

func (s *MemoryStore) Rooms() ([]RoomInfo, error) {
	tx := s.rooms.RLock()
	defer tx.Unlock()

	snapshot := tx.Snapshot()
	rooms := make([]RoomInfo, 0, len(snapshot))
	for id, history := range snapshot {
		rooms = append(rooms, RoomInfo{ID: id, LastSeq: Seq(len(history))})
	}

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].ID < rooms[j].ID
	})

	return rooms, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
