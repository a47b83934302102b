package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultChannel is used when a client subscribes without naming a channel.
const DefaultChannel = "default"

// ErrUnknownSession is returned by Subscribe for an id that was never
// connected or has already disconnected.
var ErrUnknownSession = errors.New("registry: unknown session")

// Sender delivers one encoded frame to a client. Implementations must not
// block; the registry calls it only through Session.Send, never under its lock.
type Sender interface {
	Send(msg []byte) error
}

// Session is one live client connection. ID and ConnectedAt never change;
// the subscribed channel is owned by the Registry and read through it.
type Session struct {
	ID          string
	ConnectedAt time.Time

	sender  Sender
	channel string // guarded by Registry.mu
}

// Send pushes msg to the client through its transport.
func (s *Session) Send(msg []byte) error {
	return s.sender.Send(msg)
}

// SubscribeResult describes the outcome of a successful Subscribe.
type SubscribeResult struct {
	Channel  string
	Previous string // empty when the session had no channel
	Count    int    // viewers on Channel after the change
}

// Switched reports whether the session left a different channel.
func (r SubscribeResult) Switched() bool {
	return r.Previous != "" && r.Previous != r.Channel
}

// ChannelCount is one channel's viewer count at snapshot time.
type ChannelCount struct {
	Channel string
	Viewers int
}

// Snapshot is a point-in-time view of the registry.
type Snapshot struct {
	TotalSessions int
	TotalViewers  int
	Channels      []ChannelCount // sorted by channel id
	TakenAt       time.Time
}

// channel holds the members of one channel. The viewer count is the size of
// the member set, so it cannot drop below zero on a repeated removal.
type channel struct {
	members   map[string]*Session
	idleSince time.Time // when the count last reached zero
}

// Registry tracks live sessions and per-channel viewer counts.
// A single RWMutex guards both maps; a subscribe or disconnect updates the
// session and every affected count before the lock is released.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	channels map[string]*channel
	idleTTL  time.Duration

	now   func() time.Time // injectable for deterministic tests
	newID func() string
}

// New creates an empty Registry. Channels left at zero viewers for longer
// than idleTTL are removed by Prune; idleTTL <= 0 keeps them forever.
func New(idleTTL time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		channels: make(map[string]*channel),
		idleTTL:  idleTTL,
		now:      time.Now,
		newID:    func() string { return "viewer_" + uuid.NewString() },
	}
}

// Connect registers a new unsubscribed session that delivers through sender.
func (r *Registry) Connect(sender Sender) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for _, taken := r.sessions[id]; taken; _, taken = r.sessions[id] {
		id = r.newID()
	}
	s := &Session{ID: id, ConnectedAt: r.now(), sender: sender}
	r.sessions[id] = s
	return s
}

// Subscribe moves session id onto channelID, leaving its previous channel if
// any. An empty channelID resolves to DefaultChannel.
func (r *Registry) Subscribe(id, channelID string) (SubscribeResult, error) {
	if channelID == "" {
		channelID = DefaultChannel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return SubscribeResult{}, ErrUnknownSession
	}

	prev := s.channel
	if prev != "" {
		r.leave(prev, id)
	}
	s.channel = channelID
	ch := r.join(channelID, s)

	return SubscribeResult{
		Channel:  channelID,
		Previous: prev,
		Count:    len(ch.members),
	}, nil
}

// Disconnect removes session id and returns the channel it was watching.
// Unknown or already-removed ids are a no-op and report ok=false.
func (r *Registry) Disconnect(id string) (prev string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	prev = s.channel
	if prev != "" {
		r.leave(prev, id)
	}
	s.channel = ""
	delete(r.sessions, id)
	return prev, true
}

// Session returns the live session with the given id.
func (r *Registry) Session(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ChannelOf returns the channel session id is subscribed to, or "" when it is
// unsubscribed or unknown.
func (r *Registry) ChannelOf(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[id]; ok {
		return s.channel
	}
	return ""
}

// Count returns the current number of viewers on channelID.
func (r *Registry) Count(channelID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ch, ok := r.channels[channelID]; ok {
		return len(ch.members)
	}
	return 0
}

// Audience returns the current viewer count of channelID together with the
// sessions subscribed to it, read under one lock so the two agree.
func (r *Registry) Audience(channelID string) (int, []*Session) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[channelID]
	if !ok {
		return 0, nil
	}
	out := make([]*Session, 0, len(ch.members))
	for _, s := range ch.members {
		out = append(out, s)
	}
	return len(out), out
}

// Snapshot returns totals and per-channel counts as of a single instant.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		TotalSessions: len(r.sessions),
		Channels:      make([]ChannelCount, 0, len(r.channels)),
		TakenAt:       r.now(),
	}
	for id, ch := range r.channels {
		n := len(ch.members)
		snap.TotalViewers += n
		snap.Channels = append(snap.Channels, ChannelCount{Channel: id, Viewers: n})
	}
	sort.Slice(snap.Channels, func(i, j int) bool {
		return snap.Channels[i].Channel < snap.Channels[j].Channel
	})
	return snap
}

// Prune removes channels that have had no viewers since before now minus the
// idle TTL. It returns the number of channels removed.
func (r *Registry) Prune(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.idleTTL)
	removed := 0
	for id, ch := range r.channels {
		if len(ch.members) == 0 && !ch.idleSince.After(cutoff) {
			delete(r.channels, id)
			removed++
		}
	}
	return removed
}

// Run starts the idle channel pruning loop. It ticks at half the idle TTL
// (minimum 1 second) and blocks until ctx is cancelled. With pruning disabled
// it just waits for ctx.
func (r *Registry) Run(ctx context.Context) {
	if r.idleTTL <= 0 {
		<-ctx.Done()
		return
	}
	interval := r.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := r.Prune(now); n > 0 {
				slog.Debug("registry: pruned idle channels", "count", n)
			}
		}
	}
}

// --- internal (caller holds r.mu) -------------------------------------------

func (r *Registry) join(channelID string, s *Session) *channel {
	ch, ok := r.channels[channelID]
	if !ok {
		ch = &channel{members: make(map[string]*Session)}
		r.channels[channelID] = ch
	}
	ch.members[s.ID] = s
	return ch
}

func (r *Registry) leave(channelID, sessionID string) {
	ch, ok := r.channels[channelID]
	if !ok {
		return
	}
	delete(ch.members, sessionID)
	if len(ch.members) == 0 {
		ch.idleSince = r.now()
	}
}
