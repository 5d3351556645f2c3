package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hubHarness struct {
	hub    *Hub
	server *httptest.Server

	mu       sync.Mutex
	clients  []*Client
	received []Envelope
}

func newHubHarness(t *testing.T) *hubHarness {
	t.Helper()
	h := &hubHarness{}
	h.hub = NewHub(
		func(c *Client, env Envelope) {
			h.mu.Lock()
			h.received = append(h.received, env)
			h.mu.Unlock()
		},
		nil,
	)

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		c := h.hub.NewClient(conn)
		h.mu.Lock()
		h.clients = append(h.clients, c)
		h.mu.Unlock()
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *hubHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// lastClient waits for the server side of the most recent dial.
func (h *hubHarness) lastClient(t *testing.T, n int) *Client {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.clients) >= n
	}, time.Second, 5*time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[n-1]
}

func readFrame(t *testing.T, conn *websocket.Conn) Outgoing {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
		ID    string          `json:"id"`
	}
	require.NoError(t, conn.ReadJSON(&out))
	return Outgoing{Event: out.Event, Data: out.Data, ID: out.ID}
}

func TestBroadcastReachesOnlySubscribers(t *testing.T) {
	h := newHubHarness(t)
	connA := h.dial(t)
	clientA := h.lastClient(t, 1)
	connB := h.dial(t)
	h.lastClient(t, 2)

	h.hub.JoinRoomChannel(clientA.ID, "room-1")
	require.Equal(t, 1, h.hub.Subscribers("room-1"))

	h.hub.Broadcast("room-1", "ping", map[string]int{"n": 1})

	frame := readFrame(t, connA)
	assert.Equal(t, "ping", frame.Event)

	// The unsubscribed connection stays silent.
	connB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var discard any
	assert.Error(t, connB.ReadJSON(&discard))
}

func TestPerRecipientOrderingPreserved(t *testing.T) {
	h := newHubHarness(t)
	conn := h.dial(t)
	client := h.lastClient(t, 1)
	h.hub.JoinRoomChannel(client.ID, "room-1")

	const n = 50
	for i := 0; i < n; i++ {
		h.hub.Broadcast("room-1", "seq", map[string]int{"n": i})
	}

	for i := 0; i < n; i++ {
		frame := readFrame(t, conn)
		var payload struct {
			N int `json:"n"`
		}
		require.NoError(t, json.Unmarshal(frame.Data.(json.RawMessage), &payload))
		require.Equal(t, i, payload.N, "frames must arrive in emission order")
	}
}

func TestSendTargetsOneConnection(t *testing.T) {
	h := newHubHarness(t)
	connA := h.dial(t)
	clientA := h.lastClient(t, 1)
	connB := h.dial(t)
	h.lastClient(t, 2)

	h.hub.Send(clientA.ID, "private", "비밀")

	frame := readFrame(t, connA)
	assert.Equal(t, "private", frame.Event)

	connB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var discard any
	assert.Error(t, connB.ReadJSON(&discard))
}

func TestSendReplyCarriesRequestID(t *testing.T) {
	h := newHubHarness(t)
	conn := h.dial(t)
	client := h.lastClient(t, 1)

	h.hub.SendReply(client.ID, "get_rooms", map[string]any{"rooms": []any{}}, "req-7")
	frame := readFrame(t, conn)
	assert.Equal(t, "get_rooms", frame.Event)
	assert.Equal(t, "req-7", frame.ID)
}

func TestInboundFramesDispatch(t *testing.T) {
	h := newHubHarness(t)
	conn := h.dial(t)
	h.lastClient(t, 1)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"event": "player_ready",
		"data":  map[string]string{"roomId": "r1", "userId": "u1"},
		"id":    "req-1",
	}))

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.received) == 1
	}, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	env := h.received[0]
	h.mu.Unlock()
	assert.Equal(t, "player_ready", env.Event)
	assert.Equal(t, "req-1", env.ID)
}

func TestLeaveRoomChannelStopsDelivery(t *testing.T) {
	h := newHubHarness(t)
	conn := h.dial(t)
	client := h.lastClient(t, 1)

	h.hub.JoinRoomChannel(client.ID, "room-1")
	h.hub.LeaveRoomChannel(client.ID, "room-1")
	require.Zero(t, h.hub.Subscribers("room-1"))

	h.hub.Broadcast("room-1", "ping", nil)
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var discard any
	assert.Error(t, conn.ReadJSON(&discard))
}

func TestDisconnectRunsCallbackAndUnsubscribes(t *testing.T) {
	var gone sync.WaitGroup
	gone.Add(1)

	hub := NewHub(nil, func(c *Client) { gone.Done() })
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	var client *Client
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		client = hub.NewClient(conn)
		mu.Unlock()
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return client != nil
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	hub.JoinRoomChannel(client.ID, "room-1")
	mu.Unlock()

	conn.Close()

	done := make(chan struct{})
	go func() { gone.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback never ran")
	}

	assert.Eventually(t, func() bool { return hub.Subscribers("room-1") == 0 },
		time.Second, 5*time.Millisecond)
}
