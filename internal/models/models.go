package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type SenderType string

const (
	SenderTypePatient      SenderType = "patient"
	SenderTypeProfessional SenderType = "professional"
)

// ID identifies a message or a participant. Clients send both numeric and
// string ids, so it decodes either form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("id must be a string or a number: %w", err)
		}
		*id = ID(n.String())
	}
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(id))), nil
}

// Message is the client-side view of a chat message. The relay never decodes
// it and forwards the raw JSON it was given.
type Message struct {
	ID            ID         `json:"id"`
	SenderID      ID         `json:"senderId"`
	SenderName    string     `json:"senderName"`
	SenderType    SenderType `json:"senderType"`
	ReceiverID    ID         `json:"receiverId"`
	ReceiverName  string     `json:"receiverName"`
	Content       string     `json:"content"`
	Timestamp     string     `json:"timestamp"` // ISO-8601, assigned by the sender
	Read          bool       `json:"read"`
	AppointmentID ID         `json:"appointmentId,omitempty"`
}

// ClientEvent is a frame sent from a client to the relay.
type ClientEvent struct {
	Type    ClientEventType `json:"type"`
	RoomID  string          `json:"roomId"`
	Message json.RawMessage `json:"message,omitempty"`
}

// Validate reports a protocol error for frames the relay cannot act on.
func (e ClientEvent) Validate() *ServerError {
	switch e.Type {
	case ClientEventJoinRoom, ClientEventLeaveRoom:
		if e.RoomID == "" {
			return NewServerError(ErrorCodeInvalidPayload, e, "roomId is required")
		}
	case ClientEventSendMessage:
		if e.RoomID == "" {
			return NewServerError(ErrorCodeInvalidPayload, e, "roomId is required")
		}
		if IsEmptyPayload(e.Message) {
			return NewServerError(ErrorCodeInvalidPayload, e, "message is required")
		}
	default:
		return NewServerError(ErrorCodeUnknownEvent, e, fmt.Sprintf("unknown event type %q", e.Type))
	}
	return nil
}

// ServerEvent is a frame sent from the relay to a client.
type ServerEvent struct {
	Type     ServerEventType   `json:"type"`
	RoomID   string            `json:"roomId,omitempty"`
	Message  json.RawMessage   `json:"message,omitempty"`
	Messages []json.RawMessage `json:"messages,omitempty"`
	Error    *ServerError      `json:"error,omitempty"`
}

// MarshalJSON keeps "messages" present on room_history frames even when the
// room is empty.
func (e ServerEvent) MarshalJSON() ([]byte, error) {
	type alias ServerEvent
	if e.Type != ServerEventRoomHistory {
		return json.Marshal(alias(e))
	}
	messages := e.Messages
	if messages == nil {
		messages = []json.RawMessage{}
	}
	return json.Marshal(struct {
		alias
		Messages []json.RawMessage `json:"messages"`
	}{alias(e), messages})
}

type ErrorCode string

const (
	ErrorCodeInvalidPayload ErrorCode = "invalid_payload"
	ErrorCodeUnknownEvent   ErrorCode = "unknown_event"
	ErrorCodeStoreFailure   ErrorCode = "store_failure"
)

// ServerError is the payload of an error frame. Event and RoomID echo the
// request that failed.
type ServerError struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Event   ClientEventType `json:"event,omitempty"`
	RoomID  string          `json:"roomId,omitempty"`
}

func NewServerError(code ErrorCode, req ClientEvent, msg string) *ServerError {
	return &ServerError{
		Code:    code,
		Message: msg,
		Event:   req.Type,
		RoomID:  req.RoomID,
	}
}

func (e *ServerError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Event, e.Message)
}

// Frame wraps the error into a server event.
func (e *ServerError) Frame() ServerEvent {
	return ServerEvent{
		Type:   ServerEventError,
		RoomID: e.RoomID,
		Error:  e,
	}
}

// IsEmptyPayload is true for absent and JSON null payloads.
func IsEmptyPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

type ClientEventType string

const (
	ClientEventJoinRoom    ClientEventType = "join_room"
	ClientEventLeaveRoom   ClientEventType = "leave_room"
	ClientEventSendMessage ClientEventType = "send_message"
)

type ServerEventType string

const (
	ServerEventRoomHistory ServerEventType = "room_history"
	ServerEventNewMessage  ServerEventType = "new_message"
	ServerEventError       ServerEventType = "error"
)
