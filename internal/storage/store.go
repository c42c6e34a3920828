package storage

import (
	"encoding/json"
	"errors"
)

var ErrEmptyRoomID = errors.New("room id is empty")

// Seq is the 1-based position of a message in its room history.
type Seq int64

// RoomStore keeps the append-only message log of every room.
type RoomStore interface {
	// Append adds msg to the end of the room history, creating the room
	// when needed, and returns the sequence number assigned to it.
	Append(roomID string, msg json.RawMessage) (Seq, error)
	// History returns the whole room history in append order. Unknown rooms
	// have an empty history.
	History(roomID string) ([]json.RawMessage, error)
	// Rooms lists every known room.
	Rooms() ([]RoomInfo, error)
	Close() error
}

type RoomInfo struct {
	ID      string `json:"id"`
	LastSeq Seq    `json:"lastSeq"`
}
