package wshub

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defektu/oscquery/osc"
)

func newTestHub(t *testing.T, handler OSCHandler) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(HubDeps{OSCHandler: handler})
	hub.Start()
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Stop()
		server.Close()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", want, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func listen(t *testing.T, conn *websocket.Conn, prefix string) {
	t.Helper()

	data, err := json.Marshal(prefix)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Command{Command: CommandListen, Data: data}))
}

// readCommand reads one frame and decodes it as a JSON command; it reports
// false when no frame arrives before the deadline.
func readCommand(t *testing.T, conn *websocket.Conn) (*Command, bool) {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	var cmd Command
	require.NoError(t, json.Unmarshal(data, &cmd))
	return &cmd, true
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub, server := newTestHub(t, nil)

	conn := dial(t, server)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_PathChangedReachesEmptySubscriptionSet(t *testing.T) {
	hub, server := newTestHub(t, nil)
	conn := dial(t, server)
	waitForClients(t, hub, 1)

	hub.BroadcastPathChanged("/anything")

	cmd, ok := readCommand(t, conn)
	require.True(t, ok, "client with no subscriptions must receive everything")
	assert.Equal(t, CommandPathChanged, cmd.Command)

	var path string
	require.NoError(t, json.Unmarshal(cmd.Data, &path))
	assert.Equal(t, "/anything", path)
}

func TestHub_PrefixSubscriptionFiltering(t *testing.T) {
	hub, server := newTestHub(t, nil)

	connA := dial(t, server)
	connB := dial(t, server)
	waitForClients(t, hub, 2)

	listen(t, connA, "/a")
	listen(t, connB, "/b")

	// Give the read pumps a moment to apply the subscriptions.
	time.Sleep(50 * time.Millisecond)

	hub.BroadcastPathChanged("/a/x/y")

	cmd, ok := readCommand(t, connA)
	require.True(t, ok, "subscriber of /a must receive /a/x/y")
	assert.Equal(t, CommandPathChanged, cmd.Command)

	_, ok = readCommand(t, connB)
	assert.False(t, ok, "subscriber of /b must not receive /a/x/y")
}

func TestHub_PrefixMatchingIsPathAware(t *testing.T) {
	hub, server := newTestHub(t, nil)
	conn := dial(t, server)
	waitForClients(t, hub, 1)

	listen(t, conn, "/ab")
	time.Sleep(50 * time.Millisecond)

	// Exact match delivers.
	hub.BroadcastPathChanged("/ab")
	cmd, ok := readCommand(t, conn)
	require.True(t, ok)
	assert.Equal(t, CommandPathChanged, cmd.Command)

	// "/ab" is not a path prefix of "/a/b/c". A timed-out read leaves the
	// connection unreadable, so this check comes last.
	hub.BroadcastPathChanged("/a/b/c")
	_, ok = readCommand(t, conn)
	assert.False(t, ok)
}

func TestHub_IgnoreRemovesSubscription(t *testing.T) {
	hub, server := newTestHub(t, nil)
	conn := dial(t, server)
	waitForClients(t, hub, 1)

	listen(t, conn, "/a")
	time.Sleep(50 * time.Millisecond)

	data, err := json.Marshal("/a")
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Command{Command: CommandIgnore, Data: data}))
	time.Sleep(50 * time.Millisecond)

	// Back to an empty set: receives everything again.
	hub.BroadcastPathChanged("/other")
	cmd, ok := readCommand(t, conn)
	require.True(t, ok)
	assert.Equal(t, CommandPathChanged, cmd.Command)
}

func TestHub_PathRenamedIgnoresSubscriptions(t *testing.T) {
	hub, server := newTestHub(t, nil)
	conn := dial(t, server)
	waitForClients(t, hub, 1)

	listen(t, conn, "/elsewhere")
	time.Sleep(50 * time.Millisecond)

	hub.BroadcastPathRenamed("/old", "/new")

	cmd, ok := readCommand(t, conn)
	require.True(t, ok, "PATH_RENAMED is always broadcast to all clients")
	assert.Equal(t, CommandPathRenamed, cmd.Command)

	var rename RenameData
	require.NoError(t, json.Unmarshal(cmd.Data, &rename))
	assert.Equal(t, "/old", rename.Old)
	assert.Equal(t, "/new", rename.New)
}

func TestHub_BinaryOSCFrameInvokesHandler(t *testing.T) {
	var mu sync.Mutex
	var gotPath string
	var gotArgs []any
	received := make(chan struct{}, 1)

	hub, server := newTestHub(t, func(path string, args []any) {
		mu.Lock()
		gotPath = path
		gotArgs = args
		mu.Unlock()
		received <- struct{}{}
	})

	conn := dial(t, server)
	waitForClients(t, hub, 1)

	frame, skipped := osc.Encode("/foo", []any{int32(7), "hi"})
	require.Empty(t, skipped)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("OSC handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/foo", gotPath)
	require.Len(t, gotArgs, 2)
	assert.Equal(t, int32(7), gotArgs[0])
	assert.Equal(t, "hi", gotArgs[1])
}

func TestHub_BroadcastOSCDeliversBinaryFrame(t *testing.T) {
	hub, server := newTestHub(t, nil)
	conn := dial(t, server)
	waitForClients(t, hub, 1)

	hub.BroadcastOSC("/bar", []any{1.5})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)

	msg, err := osc.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "/bar", msg.Path)
	require.Len(t, msg.Args, 1)
	assert.Equal(t, float32(1.5), msg.Args[0])
}

func TestHub_UnknownCommandIgnored(t *testing.T) {
	hub, server := newTestHub(t, nil)
	conn := dial(t, server)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(Command{Command: "NOPE"}))
	time.Sleep(50 * time.Millisecond)

	// Client still connected and reachable.
	assert.Equal(t, 1, hub.ClientCount())
	hub.BroadcastPathChanged("/x")
	_, ok := readCommand(t, conn)
	assert.True(t, ok)
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub(HubDeps{})
	hub.Start()
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server)
	waitForClients(t, hub, 1)

	hub.Stop()
	waitForClients(t, hub, 0)
	assert.False(t, hub.Running())

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "closed hub must tear down client sockets")
}
