package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBRoom is the per-room metadata record.
type DBRoom struct {
	ID        string `msgpack:"id"`
	LastSeq   int64  `msgpack:"lastSeq"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (r *DBRoom) Key() []byte {
	return []byte(r.ID)
}

func (r *DBRoom) MarshalBinary() (data []byte, err error) {
	type alias DBRoom
	return msgpack.Marshal((*alias)(r))
}

func (r *DBRoom) UnmarshalBinary(data []byte) error {
	type alias DBRoom
	return msgpack.Unmarshal(data, (*alias)(r))
}

// DBMessage wraps a relayed payload. Payload holds the bytes exactly as the
// publisher sent them.
type DBMessage struct {
	Seq        int64  `msgpack:"seq"`
	RoomID     string `msgpack:"roomId"`
	Payload    []byte `msgpack:"payload"`
	ReceivedAt int64  `msgpack:"receivedAt"` // Unix milliseconds
}

func (m *DBMessage) Key() []byte {
	return seqKey(Seq(m.Seq))
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func seqKey(seq Seq) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(seq))
	return key
}
