package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rubistv/viewertrack/server/internal/registry"
	wsHub "github.com/rubistv/viewertrack/server/internal/ws"
)

const testWelcome = "Connected to test server"

// --- helpers ----------------------------------------------------------------

// startHub starts a test HTTP server with the hub as its handler.
// The hub's Run loop is started with a cancellable context.
// Returns the ws:// URL, the hub, its registry, and a cancel function.
func startHub(t *testing.T) (wsURL string, hub *wsHub.Hub, reg *registry.Registry, cancel func()) {
	t.Helper()

	reg = registry.New(0)
	hub = wsHub.New(reg, wsHub.Options{WelcomeMessage: testWelcome})
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(hub)
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, reg, cancelFn
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect dials and consumes the welcome and stats frames, returning the
// connection and its client id.
func connect(t *testing.T, wsURL string) (*websocket.Conn, string) {
	t.Helper()
	conn := dial(t, wsURL)
	welcome := expect(t, conn, "welcome")
	expect(t, conn, "stats")
	return conn, welcome["clientId"].(string)
}

// readMessage reads and decodes one JSON message from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", msg, err)
	}
	return m
}

// expect reads one message and fails unless its type is want.
func expect(t *testing.T, conn *websocket.Conn, want string) map[string]interface{} {
	t.Helper()
	m := readMessage(t, conn)
	if m["type"] != want {
		t.Fatalf("type: got %v, want %s (message %v)", m["type"], want, m)
	}
	return m
}

// expectNothing fails if conn receives a message within d.
func expectNothing(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(d))
	if _, msg, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected message: %s", msg)
	}
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func subscribe(t *testing.T, conn *websocket.Conn, channel string) {
	t.Helper()
	send(t, conn, map[string]string{"type": "subscribe", "channelId": channel})
}

// waitFor polls cond until it holds or a second elapses.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func number(m map[string]interface{}, key string) int {
	f, _ := m[key].(float64)
	return int(f)
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesWelcomeThenStats(t *testing.T) {
	wsURL, _, reg, _ := startHub(t)
	conn := dial(t, wsURL)

	welcome := expect(t, conn, "welcome")
	id, _ := welcome["clientId"].(string)
	if id == "" {
		t.Fatal("clientId: missing")
	}
	if welcome["message"] != testWelcome {
		t.Errorf("message: got %v, want %q", welcome["message"], testWelcome)
	}
	if _, ok := reg.Session(id); !ok {
		t.Errorf("session %q not registered", id)
	}

	stats := expect(t, conn, "stats")
	if n := number(stats, "totalConnections"); n != 1 {
		t.Errorf("totalConnections: got %d, want 1", n)
	}
	if n := number(stats, "totalViewers"); n != 0 {
		t.Errorf("totalViewers: got %d, want 0", n)
	}
	if number(stats, "timestamp") <= 0 {
		t.Error("timestamp: missing")
	}
}

func TestHub_Connect_StatsReflectOthers(t *testing.T) {
	wsURL, _, _, _ := startHub(t)

	a, _ := connect(t, wsURL)
	subscribe(t, a, "alpha")
	expect(t, a, "subscribed")
	expect(t, a, "channel_viewers")

	b := dial(t, wsURL)
	expect(t, b, "welcome")
	stats := expect(t, b, "stats")
	if n := number(stats, "totalConnections"); n != 2 {
		t.Errorf("totalConnections: got %d, want 2", n)
	}
	if n := number(stats, "totalViewers"); n != 1 {
		t.Errorf("totalViewers: got %d, want 1", n)
	}
}

func TestHub_SetWelcomeMessage(t *testing.T) {
	wsURL, hub, _, _ := startHub(t)
	hub.SetWelcomeMessage("changed")

	conn := dial(t, wsURL)
	welcome := expect(t, conn, "welcome")
	if welcome["message"] != "changed" {
		t.Errorf("message: got %v, want changed", welcome["message"])
	}
}

func TestHub_Subscribe_ConfirmsAndBroadcasts(t *testing.T) {
	wsURL, _, reg, _ := startHub(t)
	conn, _ := connect(t, wsURL)

	subscribe(t, conn, "alpha")

	sub := expect(t, conn, "subscribed")
	if sub["channelId"] != "alpha" {
		t.Errorf("channelId: got %v, want alpha", sub["channelId"])
	}
	if n := number(sub, "viewers"); n != 1 {
		t.Errorf("viewers: got %d, want 1", n)
	}

	cv := expect(t, conn, "channel_viewers")
	if cv["channelId"] != "alpha" || number(cv, "count") != 1 {
		t.Errorf("channel_viewers: got %v, want alpha/1", cv)
	}
	if number(cv, "timestamp") <= 0 {
		t.Error("timestamp: missing")
	}
	if n := reg.Count("alpha"); n != 1 {
		t.Errorf("registry count: got %d, want 1", n)
	}
}

func TestHub_Subscribe_DefaultChannel(t *testing.T) {
	wsURL, _, reg, _ := startHub(t)
	conn, _ := connect(t, wsURL)

	send(t, conn, map[string]string{"type": "subscribe"})

	sub := expect(t, conn, "subscribed")
	if sub["channelId"] != registry.DefaultChannel {
		t.Errorf("channelId: got %v, want %s", sub["channelId"], registry.DefaultChannel)
	}
	if n := reg.Count(registry.DefaultChannel); n != 1 {
		t.Errorf("registry count: got %d, want 1", n)
	}
}

func TestHub_ChannelSwitch_BroadcastsBothChannels(t *testing.T) {
	wsURL, _, reg, _ := startHub(t)
	a, _ := connect(t, wsURL)
	b, _ := connect(t, wsURL)

	subscribe(t, a, "alpha")
	expect(t, a, "subscribed")
	expect(t, a, "channel_viewers")

	subscribe(t, b, "alpha")
	if n := number(expect(t, b, "subscribed"), "viewers"); n != 2 {
		t.Errorf("b subscribed viewers: got %d, want 2", n)
	}
	expect(t, b, "channel_viewers")
	if n := number(expect(t, a, "channel_viewers"), "count"); n != 2 {
		t.Errorf("a alpha count: got %d, want 2", n)
	}

	subscribe(t, b, "beta")

	// a stays on alpha and sees it drop back to one.
	cv := expect(t, a, "channel_viewers")
	if cv["channelId"] != "alpha" || number(cv, "count") != 1 {
		t.Errorf("a update: got %v, want alpha/1", cv)
	}

	// b only hears about its new channel.
	sub := expect(t, b, "subscribed")
	if sub["channelId"] != "beta" || number(sub, "viewers") != 1 {
		t.Errorf("b subscribed: got %v, want beta/1", sub)
	}
	cv = expect(t, b, "channel_viewers")
	if cv["channelId"] != "beta" || number(cv, "count") != 1 {
		t.Errorf("b update: got %v, want beta/1", cv)
	}

	if reg.Count("alpha") != 1 || reg.Count("beta") != 1 {
		t.Errorf("counts: alpha=%d beta=%d, want 1/1", reg.Count("alpha"), reg.Count("beta"))
	}
}

func TestHub_Resubscribe_SameChannel(t *testing.T) {
	wsURL, _, reg, _ := startHub(t)
	a, _ := connect(t, wsURL)
	b, _ := connect(t, wsURL)

	subscribe(t, a, "alpha")
	expect(t, a, "subscribed")
	expect(t, a, "channel_viewers")
	subscribe(t, b, "alpha")
	expect(t, b, "subscribed")
	expect(t, b, "channel_viewers")
	expect(t, a, "channel_viewers")

	subscribe(t, a, "alpha")
	if n := number(expect(t, a, "subscribed"), "viewers"); n != 2 {
		t.Errorf("viewers: got %d, want 2", n)
	}
	if n := reg.Count("alpha"); n != 2 {
		t.Errorf("registry count: got %d, want 2", n)
	}
}

func TestHub_Ping_Pong(t *testing.T) {
	wsURL, _, _, _ := startHub(t)
	conn, _ := connect(t, wsURL)

	before := time.Now().UnixMilli()
	send(t, conn, map[string]string{"type": "ping"})

	pong := expect(t, conn, "pong")
	if ts := int64(number(pong, "timestamp")); ts < before {
		t.Errorf("timestamp: got %d, want >= %d", ts, before)
	}
}

func TestHub_MalformedMessage_KeepsConnection(t *testing.T) {
	wsURL, _, _, _ := startHub(t)
	conn, _ := connect(t, wsURL)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	send(t, conn, map[string]string{"type": "ping"})
	expect(t, conn, "pong")
}

func TestHub_UnknownType_Ignored(t *testing.T) {
	wsURL, _, reg, _ := startHub(t)
	conn, _ := connect(t, wsURL)

	send(t, conn, map[string]string{"type": "dance", "channelId": "alpha"})
	send(t, conn, map[string]string{"type": "ping"})
	expect(t, conn, "pong")

	if n := reg.Count("alpha"); n != 0 {
		t.Errorf("registry count: got %d, want 0", n)
	}
}

func TestHub_Disconnect_NotifiesChannel(t *testing.T) {
	wsURL, hub, reg, _ := startHub(t)
	a, _ := connect(t, wsURL)
	b, bID := connect(t, wsURL)

	subscribe(t, a, "alpha")
	expect(t, a, "subscribed")
	expect(t, a, "channel_viewers")
	subscribe(t, b, "alpha")
	expect(t, b, "subscribed")
	expect(t, b, "channel_viewers")
	expect(t, a, "channel_viewers")

	b.Close()

	cv := expect(t, a, "channel_viewers")
	if number(cv, "count") != 1 {
		t.Errorf("count after disconnect: got %d, want 1", number(cv, "count"))
	}
	waitFor(t, "hub to drop client", func() bool { return hub.Count() == 1 })
	if _, ok := reg.Session(bID); ok {
		t.Error("disconnected session still registered")
	}
}

func TestHub_OtherChannelsNotNotified(t *testing.T) {
	wsURL, _, _, _ := startHub(t)
	a, _ := connect(t, wsURL)
	b, _ := connect(t, wsURL)

	subscribe(t, a, "alpha")
	expect(t, a, "subscribed")
	expect(t, a, "channel_viewers")

	subscribe(t, b, "beta")
	expect(t, b, "subscribed")
	expect(t, b, "channel_viewers")

	expectNothing(t, a, 100*time.Millisecond)
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, reg, _ := startHub(t)

	conn, _ := connect(t, wsURL)
	if n := hub.Count(); n != 1 {
		t.Errorf("Count before disconnect: got %d, want 1", n)
	}

	conn.Close()
	waitFor(t, "hub to drop client", func() bool { return hub.Count() == 0 })
	waitFor(t, "registry to drop session", func() bool { return reg.Snapshot().TotalSessions == 0 })
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, reg, cancel := startHub(t)

	conn, _ := connect(t, wsURL)
	subscribe(t, conn, "alpha")
	expect(t, conn, "subscribed")
	expect(t, conn, "channel_viewers")

	cancel()

	waitFor(t, "hub to close clients", func() bool { return hub.Count() == 0 })
	waitFor(t, "registry to drain", func() bool { return reg.Snapshot().TotalSessions == 0 })
	if n := reg.Count("alpha"); n != 0 {
		t.Errorf("alpha after shutdown: got %d, want 0", n)
	}

	// The socket is closed from the server side.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected read error after shutdown")
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(registry.New(0), wsHub.Options{})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

// --- broadcast engine -------------------------------------------------------

type recordingSender struct {
	mu   sync.Mutex
	msgs [][]byte
	err  error
}

func (s *recordingSender) Send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSender) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.msgs...)
}

func TestNotifyChannel_IsolatesFailedSends(t *testing.T) {
	reg := registry.New(0)
	hub := wsHub.New(reg, wsHub.Options{})

	good1 := &recordingSender{}
	bad := &recordingSender{err: errors.New("socket gone")}
	good2 := &recordingSender{}
	other := &recordingSender{}
	for _, s := range []*recordingSender{good1, bad, good2} {
		sess := reg.Connect(s)
		if _, err := reg.Subscribe(sess.ID, "alpha"); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}
	o := reg.Connect(other)
	if _, err := reg.Subscribe(o.ID, "beta"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	hub.NotifyChannel("alpha")

	for name, s := range map[string]*recordingSender{"good1": good1, "good2": good2} {
		msgs := s.received()
		if len(msgs) != 1 {
			t.Fatalf("%s: got %d messages, want 1", name, len(msgs))
		}
		var m wsHub.ChannelViewersMessage
		if err := json.Unmarshal(msgs[0], &m); err != nil {
			t.Fatalf("%s: unmarshal: %v", name, err)
		}
		if m.Type != "channel_viewers" || m.ChannelID != "alpha" || m.Count != 3 {
			t.Errorf("%s: got %+v, want channel_viewers alpha/3", name, m)
		}
	}
	if n := len(other.received()); n != 0 {
		t.Errorf("beta viewer: got %d messages, want 0", n)
	}
}

func TestNotifyChannel_EmptyChannel(t *testing.T) {
	reg := registry.New(0)
	hub := wsHub.New(reg, wsHub.Options{})
	s := &recordingSender{}
	reg.Connect(s)

	hub.NotifyChannel("nobody-here")

	if n := len(s.received()); n != 0 {
		t.Errorf("unsubscribed session: got %d messages, want 0", n)
	}
}
