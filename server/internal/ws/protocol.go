package ws

import (
	"encoding/json"
	"fmt"
)

// Kind identifies an inbound client message.
type Kind int

const (
	// KindUnknown covers any well-formed message whose type is not handled.
	KindUnknown Kind = iota
	// KindSubscribe asks to watch a channel.
	KindSubscribe
	// KindPing asks for a pong carrying the server time.
	KindPing
)

func (k Kind) String() string {
	switch k {
	case KindSubscribe:
		return "subscribe"
	case KindPing:
		return "ping"
	default:
		return "unknown"
	}
}

// Inbound is a decoded client message.
type Inbound struct {
	Kind      Kind
	Type      string // raw type field, kept for logging unknown kinds
	ChannelID string // subscribe only; may be empty
}

// DecodeInbound parses one text frame from a client.
func DecodeInbound(data []byte) (Inbound, error) {
	var raw struct {
		Type      string `json:"type"`
		ChannelID string `json:"channelId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{}, fmt.Errorf("ws: decode message: %w", err)
	}

	in := Inbound{Type: raw.Type}
	switch raw.Type {
	case "subscribe":
		in.Kind = KindSubscribe
		in.ChannelID = raw.ChannelID
	case "ping":
		in.Kind = KindPing
	default:
		in.Kind = KindUnknown
	}
	return in, nil
}

// Outbound message types. Timestamps are Unix epoch milliseconds.

// WelcomeMessage is sent once, right after the connection is accepted.
type WelcomeMessage struct {
	Type     string `json:"type"` // "welcome"
	ClientID string `json:"clientId"`
	Message  string `json:"message"`
}

// StatsMessage is the point-in-time totals sent once at connect.
type StatsMessage struct {
	Type             string `json:"type"` // "stats"
	TotalConnections int    `json:"totalConnections"`
	TotalViewers     int    `json:"totalViewers"`
	Timestamp        int64  `json:"timestamp"`
}

// SubscribedMessage confirms a subscribe to the requesting client.
type SubscribedMessage struct {
	Type      string `json:"type"` // "subscribed"
	ChannelID string `json:"channelId"`
	Viewers   int    `json:"viewers"`
}

// ChannelViewersMessage is broadcast to a channel's viewers when its count
// changes.
type ChannelViewersMessage struct {
	Type      string `json:"type"` // "channel_viewers"
	ChannelID string `json:"channelId"`
	Count     int    `json:"count"`
	Timestamp int64  `json:"timestamp"`
}

// PongMessage answers a ping.
type PongMessage struct {
	Type      string `json:"type"` // "pong"
	Timestamp int64  `json:"timestamp"`
}
