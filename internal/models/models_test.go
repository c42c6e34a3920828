package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestID_Unmarshal(t *testing.T) {
	tests := []struct {
		input string
		want  ID
	}{
		{`100`, "100"},
		{`"100"`, "100"},
		{`"msg-abc"`, "msg-abc"},
		{`1700000000123`, "1700000000123"},
		{`null`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var id ID
			require.NoError(t, json.Unmarshal([]byte(tt.input), &id))
			require.Equal(t, tt.want, id)
		})
	}

	var id ID
	require.Error(t, json.Unmarshal([]byte(`{"n":1}`), &id))
}

func TestMessage_NumericIDs(t *testing.T) {
	raw := `{"id":100,"senderId":1,"senderName":"Ana","senderType":"patient","receiverId":"2","receiverName":"Dr. Silva","content":"hi","timestamp":"2024-01-01T10:00:00Z","read":false}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.Equal(t, ID("100"), msg.ID)
	require.Equal(t, ID("1"), msg.SenderID)
	require.Equal(t, SenderTypePatient, msg.SenderType)

	out, err := json.Marshal(msg)
	require.NoError(t, err)
	require.Contains(t, string(out), `"id":"100"`)
	require.NotContains(t, string(out), "appointmentId")
}

func TestServerEvent_EmptyHistory(t *testing.T) {
	out, err := json.Marshal(ServerEvent{Type: ServerEventRoomHistory, RoomID: "1-2"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"room_history","roomId":"1-2","messages":[]}`, string(out))

	out, err = json.Marshal(ServerEvent{
		Type:     ServerEventRoomHistory,
		RoomID:   "1-2",
		Messages: []json.RawMessage{json.RawMessage(`{"id":1}`)},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"room_history","roomId":"1-2","messages":[{"id":1}]}`, string(out))

	out, err = json.Marshal(ServerEvent{Type: ServerEventNewMessage, RoomID: "1-2", Message: json.RawMessage(`{"id":1}`)})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"new_message","roomId":"1-2","message":{"id":1}}`, string(out))
}

func TestServerError_Frame(t *testing.T) {
	serr := NewServerError(ErrorCodeInvalidPayload, ClientEvent{Type: ClientEventSendMessage, RoomID: "1-2"}, "message is required")

	out, err := json.Marshal(serr.Frame())
	require.NoError(t, err)
	require.JSONEq(t, `{
		"type": "error",
		"roomId": "1-2",
		"error": {"code": "invalid_payload", "message": "message is required", "event": "send_message", "roomId": "1-2"}
	}`, string(out))
	require.Equal(t, "invalid_payload (send_message): message is required", serr.Error())
}

func TestClientEvent_Validate(t *testing.T) {
	tests := []struct {
		name  string
		event ClientEvent
		code  ErrorCode
	}{
		{"join", ClientEvent{Type: ClientEventJoinRoom, RoomID: "1-2"}, ""},
		{"join without room", ClientEvent{Type: ClientEventJoinRoom}, ErrorCodeInvalidPayload},
		{"leave without room", ClientEvent{Type: ClientEventLeaveRoom}, ErrorCodeInvalidPayload},
		{"send", ClientEvent{Type: ClientEventSendMessage, RoomID: "1-2", Message: json.RawMessage(`{"id":1}`)}, ""},
		{"send null", ClientEvent{Type: ClientEventSendMessage, RoomID: "1-2", Message: json.RawMessage(`null`)}, ErrorCodeInvalidPayload},
		{"send without room", ClientEvent{Type: ClientEventSendMessage, Message: json.RawMessage(`{}`)}, ErrorCodeInvalidPayload},
		{"unknown", ClientEvent{Type: "typing", RoomID: "1-2"}, ErrorCodeUnknownEvent},
		{"missing type", ClientEvent{RoomID: "1-2"}, ErrorCodeUnknownEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serr := tt.event.Validate()
			if tt.code == "" {
				require.Nil(t, serr)
				return
			}
			require.NotNil(t, serr)
			require.Equal(t, tt.code, serr.Code)
			require.Equal(t, tt.event.Type, serr.Event)
		})
	}
}
