package api

// StatsResponse is the payload for GET /api/stats.
type StatsResponse struct {
	Status           string            `json:"status"`
	Server           string            `json:"server"`
	Version          string            `json:"version"`
	TotalConnections int               `json:"totalConnections"`
	TotalViewers     int               `json:"totalViewers"`
	Channels         []ChannelResponse `json:"channels"`
	Uptime           float64           `json:"uptime"`    // seconds
	Timestamp        int64             `json:"timestamp"` // epoch ms
}

// ChannelResponse is one channel entry in StatsResponse.
type ChannelResponse struct {
	Channel string `json:"channel"`
	Viewers int    `json:"viewers"`
}

// HealthResponse is the payload for GET /api/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"` // epoch ms
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
