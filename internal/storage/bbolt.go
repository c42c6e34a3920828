package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketRooms    = []byte("rooms")
	bucketRoomMeta = []byte("room_meta")
)

// BboltStore is a RoomStore that survives restarts. Every room gets a nested
// bucket under "rooms" keyed by big-endian sequence number.
type BboltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStore(path string) (*BboltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRooms); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketRoomMeta); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStore{db: db, now: time.Now}, nil
}

func (s *BboltStore) Close() error {
	return s.db.Close()
}

// Append saves the message and bumps the room LastSeq in one transaction.
func (s *BboltStore) Append(roomID string, msg json.RawMessage) (Seq, error) {
	if roomID == "" {
		return 0, ErrEmptyRoomID
	}

	var seq Seq
	err := s.db.Update(func(tx *bbolt.Tx) error {
		now := s.now()

		metaBucket := tx.Bucket(bucketRoomMeta)
		dbRoom := DBRoom{ID: roomID, CreatedAt: now.Unix()}
		if data := metaBucket.Get(dbRoom.Key()); data != nil {
			if err := dbRoom.UnmarshalBinary(data); err != nil {
				return fmt.Errorf("failed to unmarshal room %s: %w", roomID, err)
			}
		}

		roomBucket, err := tx.Bucket(bucketRooms).CreateBucketIfNotExists([]byte(roomID))
		if err != nil {
			return fmt.Errorf("failed to create room bucket: %w", err)
		}

		dbRoom.LastSeq++
		dbMessage := DBMessage{
			Seq:        dbRoom.LastSeq,
			RoomID:     roomID,
			Payload:    msg,
			ReceivedAt: now.UnixMilli(),
		}

		if err := put(roomBucket, &dbMessage); err != nil {
			return fmt.Errorf("failed to store message: %w", err)
		}
		if err := put(metaBucket, &dbRoom); err != nil {
			return fmt.Errorf("failed to store room %s: %w", roomID, err)
		}

		seq = Seq(dbRoom.LastSeq)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return seq, nil
}

// History returns the stored payloads of a room in sequence order.
func (s *BboltStore) History(roomID string) ([]json.RawMessage, error) {
	messages := []json.RawMessage{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		roomBucket := tx.Bucket(bucketRooms).Bucket([]byte(roomID))
		if roomBucket == nil {
			return nil // No messages for this room
		}

		return roomBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("corrupt message in room %s: %w", roomID, err)
			}
			messages = append(messages, json.RawMessage(dbMsg.Payload))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Rooms returns every room that has at least one message, ordered by id.
func (s *BboltStore) Rooms() ([]RoomInfo, error) {
	var rooms []RoomInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRoomMeta)
		return b.ForEach(func(k, v []byte) error {
			var dbRoom DBRoom
			if err := dbRoom.UnmarshalBinary(v); err != nil {
				return err
			}
			rooms = append(rooms, RoomInfo{
				ID:      dbRoom.ID,
				LastSeq: Seq(dbRoom.LastSeq),
			})
			return nil
		})
	})
	return rooms, err
}

func put(b *bbolt.Bucket, item Storeable) error {
	data, err := item.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(item.Key(), data)
}
