package websocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/wricardo/mcp-training/blockbot/game/engine"
)

func newTestHub() *Hub {
	return NewHub(log.New(io.Discard))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestNewHub(t *testing.T) {
	hub := newTestHub()

	if hub.sessions == nil {
		t.Error("Hub sessions map is nil")
	}
	if cap(hub.broadcast) != engine.WebSocketBufferSize {
		t.Errorf("Expected buffered broadcast channel of %d, got %d", engine.WebSocketBufferSize, cap(hub.broadcast))
	}
	if hub.register == nil || hub.unregister == nil {
		t.Error("Hub register channels are nil")
	}
}

func TestHubRegisterClient(t *testing.T) {
	hub := newTestHub()

	client := &Client{hub: hub, sessionID: "test-session", send: make(chan []byte, 8)}
	hub.registerClient(client)

	if !hub.sessions["test-session"][client] {
		t.Error("Client was not registered in session")
	}
	if hub.ClientCount("test-session") != 1 {
		t.Errorf("Expected 1 client in session, got %d", hub.ClientCount("test-session"))
	}

	hub.unregisterClient(client)
	if _, exists := hub.sessions["test-session"]; exists {
		t.Error("Session should have been cleaned up after last client unregistered")
	}

	// Unregistering twice is harmless
	hub.unregisterClient(client)
}

func TestHubMultipleClientsInSession(t *testing.T) {
	hub := newTestHub()
	sessionID := "multi-client-session"

	client1 := &Client{hub: hub, sessionID: sessionID, send: make(chan []byte, 8)}
	client2 := &Client{hub: hub, sessionID: sessionID, send: make(chan []byte, 8)}
	other := &Client{hub: hub, sessionID: "other", send: make(chan []byte, 8)}

	hub.registerClient(client1)
	hub.registerClient(client2)
	hub.registerClient(other)

	hub.broadcastMessage(&Message{SessionID: sessionID, Event: "run_started"})

	if len(client1.send) != 1 || len(client2.send) != 1 {
		t.Error("Both session clients should receive the message")
	}
	if len(other.send) != 0 {
		t.Error("Clients of other sessions must not receive the message")
	}

	hub.unregisterClient(client1)
	if hub.ClientCount(sessionID) != 1 || !hub.sessions[sessionID][client2] {
		t.Error("client2 should still be registered")
	}
}

func TestHubBroadcastToSession(t *testing.T) {
	hub := newTestHub()
	state := &engine.GameState{
		LevelID: "tutorial",
		Robot:   engine.RobotSnapshot{Position: engine.Position{X: 2, Y: 1}, Orientation: engine.North},
	}

	hub.BroadcastToSession("broadcast-test", state)

	select {
	case message := <-hub.broadcast:
		if message.SessionID != "broadcast-test" {
			t.Errorf("Expected sessionID broadcast-test, got %s", message.SessionID)
		}
		if message.Event != EventStateUpdate {
			t.Errorf("Expected event %q, got %s", EventStateUpdate, message.Event)
		}
		if message.GameState != state {
			t.Error("GameState not attached to the message")
		}
	default:
		t.Fatal("Expected the message to be queued")
	}
}

func TestHubCoalescesStateUpdates(t *testing.T) {
	hub := newTestHub()

	for i := 0; i < 100; i++ {
		hub.BroadcastEvent("fast", "command_executed", i)
		hub.BroadcastToSession("fast", &engine.GameState{TotalMoves: i + 1})
	}
	if got := len(hub.broadcast); got != 101 {
		t.Fatalf("Expected 100 events and one state frame queued, got %d", got)
	}

	var states []*Message
	for len(hub.broadcast) > 0 {
		if message := hub.claim(<-hub.broadcast); message.Event == EventStateUpdate {
			states = append(states, message)
		}
	}
	if len(states) != 1 || states[0].GameState.TotalMoves != 100 {
		t.Fatalf("Expected a single frame with the latest state, got %+v", states)
	}

	// Once delivered, the next state queues a new frame
	hub.BroadcastToSession("fast", &engine.GameState{TotalMoves: 101})
	if len(hub.broadcast) != 1 {
		t.Errorf("Expected a new state frame, got %d queued", len(hub.broadcast))
	}
}

func TestHubBroadcastNeverBlocks(t *testing.T) {
	hub := newTestHub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < engine.WebSocketBufferSize+10; i++ {
			hub.BroadcastEvent("busy", "command_executed", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BroadcastEvent blocked without a running hub")
	}
	if len(hub.broadcast) != engine.WebSocketBufferSize {
		t.Errorf("Expected a full queue, got %d", len(hub.broadcast))
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := newTestHub()
	slow := &Client{hub: hub, sessionID: "slow", send: make(chan []byte)}
	hub.registerClient(slow)

	hub.broadcastMessage(&Message{SessionID: "slow", Event: "run_started"})

	if hub.ClientCount("slow") != 0 {
		t.Error("Slow client should have been dropped")
	}
	if _, ok := <-slow.send; ok {
		t.Error("Dropped client's send channel should be closed")
	}
}

func newWSServer(t *testing.T, hub *Hub, initial *engine.GameState) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("session"), initial)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read WebSocket message: %v", err)
	}
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return message
}

func TestWebSocketStream(t *testing.T) {
	hub := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	initial := &engine.GameState{LevelID: "tutorial", Width: 5, Height: 5}
	url := newWSServer(t, hub, initial)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?session=ws-test", nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer conn.Close()

	first := readMessage(t, conn)
	if first.Event != EventStateUpdate || first.GameState == nil || first.GameState.Width != 5 {
		t.Errorf("Expected initial state frame, got %+v", first)
	}

	waitFor(t, "registration", func() bool { return hub.ClientCount("ws-test") == 1 })

	hub.BroadcastEvent("ws-test", "run_started", map[string]string{"run_id": "r1"})
	hub.BroadcastToSession("ws-test", &engine.GameState{
		Robot: engine.RobotSnapshot{Position: engine.Position{X: 1, Y: 0}},
	})

	event := readMessage(t, conn)
	if event.Event != "run_started" || event.SessionID != "ws-test" {
		t.Errorf("Unexpected event frame: %+v", event)
	}
	if data, ok := event.Data.(map[string]interface{}); !ok || data["run_id"] != "r1" {
		t.Errorf("Unexpected event data: %v", event.Data)
	}

	update := readMessage(t, conn)
	if update.GameState == nil || update.GameState.Robot.Position.X != 1 {
		t.Errorf("Unexpected state frame: %+v", update)
	}

	conn.Close()
	waitFor(t, "cleanup", func() bool { return hub.ClientCount("ws-test") == 0 })
}

func TestHubRunStopsOnCancel(t *testing.T) {
	hub := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	url := newWSServer(t, hub, nil)
	conn, _, err := websocket.DefaultDialer.Dial(url+"?session=bye", nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer conn.Close()
	waitFor(t, "registration", func() bool { return hub.ClientCount("bye") == 1 })

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected the connection to be closed by the hub")
	}
	if hub.ClientCount("bye") != 0 {
		t.Error("Expected no clients after shutdown")
	}
}
