package main

import (
	"bytes"
	"testing"

	"conversa/internal/client"
	"conversa/internal/models"

	"github.com/stretchr/testify/require"
)

func TestPrinter(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out, "1-2")

	hello := models.Message{ID: "1", SenderName: "Ana", Content: "hello", Timestamp: "not a time"}
	mine := models.Message{ID: "2", SenderID: "7", Content: "hi Ana", Timestamp: "later"}

	p.conversation(client.Conversation{RoomID: "1-2", Messages: []client.Entry{
		{Message: hello, Status: client.StatusDelivered},
		{Message: mine, Status: client.StatusPending},
	}})
	require.Equal(t, "[not a time] Ana: hello\n", out.String())

	// Echo of the pending message.
	p.conversation(client.Conversation{RoomID: "1-2", Messages: []client.Entry{
		{Message: hello, Status: client.StatusDelivered},
		{Message: mine, Status: client.StatusDelivered},
	}})
	require.Equal(t, "[not a time] Ana: hello\n[later] 7: hi Ana\n", out.String())

	out.Reset()
	p.conversation(client.Conversation{RoomID: "other", Messages: []client.Entry{
		{Message: models.Message{ID: "3", Content: "elsewhere"}, Status: client.StatusDelivered},
	}})
	p.conversation(client.Conversation{RoomID: "1-2", Messages: []client.Entry{
		{Message: models.Message{ID: "4", Content: "oops", Timestamp: "t"}, Status: client.StatusFailed},
	}})
	require.Equal(t, "[t] : oops (not sent)\n", out.String())
}

func TestRelayURL(t *testing.T) {
	require.Equal(t, "ws://localhost:3001/ws", relayURL("localhost:3001"))
	require.Equal(t, "wss://chat.example.com/ws", relayURL("wss://chat.example.com/ws"))
}
