package main

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"conversa/internal/models"
	"conversa/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	testAPIAddr   = "127.0.0.1:18931"
	testAdminAddr = "127.0.0.1:18932"
)

func startRelay(t *testing.T, dbFile string) {
	t.Helper()

	t.Setenv("LISTEN_HOST", "127.0.0.1")
	t.Setenv("PORT", "18931")
	t.Setenv("ADMIN_ADDR", testAdminAddr)
	t.Setenv("CONVERSA_DB", dbFile)
	t.Setenv("LOG_FILE", filepath.Join(t.TempDir(), "relay.log"))
	t.Setenv("PING_INTERVAL", "30s")
	t.Setenv("WRITE_TIMEOUT", "10s")
	t.Setenv("SEND_BUFFER", "256")
	t.Setenv("LOG_LEVEL", "debug")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("relay did not stop")
		}
	})

	waitForServer(t, "http://"+testAPIAddr+"/health", 50)
}

func dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+testAPIAddr+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, ev any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(ev))
}

func read(t *testing.T, conn *websocket.Conn) models.ServerEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev models.ServerEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestIntegration(t *testing.T) {
	startRelay(t, filepath.Join(t.TempDir(), "rooms.db"))

	patient := dial(t)
	professional := dial(t)

	// Step 1: both sides join the conversation room
	send(t, patient, map[string]string{"type": "join_room", "roomId": "1-2"})
	send(t, professional, map[string]string{"type": "join_room", "roomId": "1-2"})

	for _, conn := range []*websocket.Conn{patient, professional} {
		ev := read(t, conn)
		require.Equal(t, models.ServerEventRoomHistory, ev.Type)
		require.Equal(t, "1-2", ev.RoomID)
		require.NotNil(t, ev.Messages)
		require.Empty(t, ev.Messages)
	}

	// Step 2: the patient sends, both receive the payload verbatim
	payload := `{"id":100,"senderId":"1","senderName":"Ana","senderType":"patient","receiverId":"2","receiverName":"Dr. Silva","content":"hi","timestamp":"2024-01-01T10:00:00Z","read":false}`
	send(t, patient, map[string]any{"type": "send_message", "roomId": "1-2", "message": json.RawMessage(payload)})

	for _, conn := range []*websocket.Conn{patient, professional} {
		ev := read(t, conn)
		require.Equal(t, models.ServerEventNewMessage, ev.Type)
		require.Equal(t, "1-2", ev.RoomID)
		require.JSONEq(t, payload, string(ev.Message))
	}

	// Step 3: invalid frames get typed errors and the socket stays usable
	send(t, patient, map[string]string{"type": "typing", "roomId": "1-2"})
	ev := read(t, patient)
	require.Equal(t, models.ServerEventError, ev.Type)
	require.Equal(t, models.ErrorCodeUnknownEvent, ev.Error.Code)

	require.NoError(t, patient.WriteMessage(websocket.TextMessage, []byte(`{"type":`)))
	ev = read(t, patient)
	require.Equal(t, models.ErrorCodeInvalidPayload, ev.Error.Code)

	// Step 4: the patient reconnects and gets the history back
	_ = patient.Close()
	patient = dial(t)
	send(t, patient, map[string]string{"type": "join_room", "roomId": "1-2"})
	ev = read(t, patient)
	require.Equal(t, models.ServerEventRoomHistory, ev.Type)
	require.Len(t, ev.Messages, 1)
	require.JSONEq(t, payload, string(ev.Messages[0]))

	// Step 5: health and admin endpoints
	resp, err := http.Get("http://" + testAPIAddr + "/health?verbose=1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status string `json:"status"`
		Stats  struct {
			Connections int `json:"connections"`
			Rooms       int `json:"rooms"`
		} `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, 1, health.Stats.Rooms)

	adminResp, err := http.Get("http://" + testAdminAddr + "/admin/rooms")
	require.NoError(t, err)
	defer func() { _ = adminResp.Body.Close() }()

	var rooms []storage.RoomInfo
	require.NoError(t, json.NewDecoder(adminResp.Body).Decode(&rooms))
	require.Len(t, rooms, 1)
	require.Equal(t, "1-2", rooms[0].ID)
	require.EqualValues(t, 1, rooms[0].LastSeq)
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	t.Helper()
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
