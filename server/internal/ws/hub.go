package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rubistv/viewertrack/server/internal/metrics"
	"github.com/rubistv/viewertrack/server/internal/registry"
)

// DefaultSendBuffer is the per-client outgoing queue depth used when
// Options.SendBuffer is zero.
const DefaultSendBuffer = 16

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Viewers connect from player pages on any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Options configures a Hub.
type Options struct {
	// SendBuffer is the per-client outgoing frame queue depth.
	SendBuffer int

	// WelcomeMessage is the text of the welcome frame.
	WelcomeMessage string

	// Recorder counts broadcasts and failed pushes. May be nil.
	Recorder *metrics.Recorder
}

// Hub accepts viewer WebSocket connections, feeds their lifecycle events into
// the registry and pushes count updates to the affected channels.
type Hub struct {
	reg     *registry.Registry
	rec     *metrics.Recorder
	sendBuf int
	welcome atomic.Pointer[string]
	now     func() time.Time

	mu       sync.Mutex
	clients  map[*client]struct{}
	shutdown bool
}

// New creates a Hub backed by reg.
func New(reg *registry.Registry, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	h := &Hub{
		reg:     reg,
		rec:     opts.Recorder,
		sendBuf: opts.SendBuffer,
		now:     time.Now,
		clients: make(map[*client]struct{}),
	}
	h.SetWelcomeMessage(opts.WelcomeMessage)
	return h
}

// SetWelcomeMessage changes the welcome text for connections accepted from
// now on.
func (h *Hub) SetWelcomeMessage(msg string) {
	h.welcome.Store(&msg)
}

// Run blocks until ctx is cancelled, then closes every connection. Each
// closed connection is disconnected from the registry by its own handler.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the request to a WebSocket, registers a session, sends
// the welcome and stats frames and then serves client messages until the
// connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := newClient(conn, h.sendBuf)
	if !h.register(c) {
		conn.Close()
		return
	}
	sess := h.reg.Connect(c)
	c.id = sess.ID
	defer h.disconnect(c)

	slog.Info("ws: client connected", "client", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	h.push(c, WelcomeMessage{
		Type:     "welcome",
		ClientID: c.id,
		Message:  *h.welcome.Load(),
	})
	snap := h.reg.Snapshot()
	h.push(c, StatsMessage{
		Type:             "stats",
		TotalConnections: snap.TotalSessions,
		TotalViewers:     snap.TotalViewers,
		Timestamp:        h.millis(),
	})

	c.readPump(func(data []byte) { h.handle(c, data) })
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// NotifyChannel pushes the current viewer count of channelID to every
// session watching it. The count and audience are read together; sends
// happen after the registry lock is released and a failed send only affects
// its own session.
func (h *Hub) NotifyChannel(channelID string) {
	count, audience := h.reg.Audience(channelID)
	if len(audience) == 0 {
		return
	}
	data, err := json.Marshal(ChannelViewersMessage{
		Type:      "channel_viewers",
		ChannelID: channelID,
		Count:     count,
		Timestamp: h.millis(),
	})
	if err != nil {
		slog.Error("ws: encode channel_viewers", "channel", channelID, "err", err)
		return
	}

	h.rec.Broadcast()
	for _, s := range audience {
		if err := s.Send(data); err != nil {
			h.rec.PushFailed()
			slog.Debug("ws: push failed", "client", s.ID, "channel", channelID, "err", err)
		}
	}
}

// --- internal ---------------------------------------------------------------

// handle dispatches one inbound frame from c.
func (h *Hub) handle(c *client, data []byte) {
	msg, err := DecodeInbound(data)
	if err != nil {
		slog.Warn("ws: ignoring malformed message", "client", c.id, "err", err)
		return
	}

	switch msg.Kind {
	case KindSubscribe:
		h.subscribe(c, msg.ChannelID)
	case KindPing:
		h.push(c, PongMessage{Type: "pong", Timestamp: h.millis()})
	default:
		slog.Debug("ws: ignoring message", "client", c.id, "type", msg.Type)
	}
}

func (h *Hub) subscribe(c *client, channelID string) {
	res, err := h.reg.Subscribe(c.id, channelID)
	if err != nil {
		// Only possible when a subscribe races the client's own disconnect.
		slog.Warn("ws: subscribe rejected", "client", c.id, "err", err)
		return
	}
	slog.Info("ws: client subscribed",
		"client", c.id,
		"channel", res.Channel,
		"previous", res.Previous,
		"viewers", res.Count,
	)

	h.push(c, SubscribedMessage{
		Type:      "subscribed",
		ChannelID: res.Channel,
		Viewers:   res.Count,
	})
	if res.Switched() {
		h.NotifyChannel(res.Previous)
	}
	h.NotifyChannel(res.Channel)
}

// push encodes v and queues it for c alone.
func (h *Hub) push(c *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("ws: encode message", "client", c.id, "err", err)
		return
	}
	if err := c.Send(data); err != nil {
		h.rec.PushFailed()
		slog.Debug("ws: push failed", "client", c.id, "err", err)
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// disconnect runs once per connection when its read pump exits.
func (h *Hub) disconnect(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()

	prev, ok := h.reg.Disconnect(c.id)
	if !ok {
		return
	}
	slog.Info("ws: client disconnected", "client", c.id, "channel", prev)
	if prev != "" {
		h.NotifyChannel(prev)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	h.shutdown = true
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
}

func (h *Hub) millis() int64 {
	return h.now().UnixMilli()
}
