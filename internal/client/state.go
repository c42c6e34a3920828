package client

// State is the state of the client's connection to the relay.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RoomState tracks the client's membership of a room. Rooms in RoomJoining
// or RoomJoined are joined again after every reconnect.
type RoomState int

const (
	RoomNone RoomState = iota
	RoomJoining
	RoomJoined
	RoomLeft
)

func (s RoomState) String() string {
	switch s {
	case RoomNone:
		return "none"
	case RoomJoining:
		return "joining"
	case RoomJoined:
		return "joined"
	case RoomLeft:
		return "left"
	default:
		return "unknown"
	}
}

func (s RoomState) wantsMembership() bool {
	return s == RoomJoining || s == RoomJoined
}

// Status is the delivery status of a message in a conversation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)
