package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rubistv/viewertrack/server/internal/registry"
)

// Info identifies the running server in stats responses.
type Info struct {
	Name      string
	Version   string
	StartedAt time.Time
}

// Handler serves the read-only /api/* endpoints from registry snapshots.
type Handler struct {
	reg  *registry.Registry
	info Info
	mux  *http.ServeMux
	now  func() time.Time
}

// New creates a Handler wired to reg and registers all routes.
func New(reg *registry.Registry, info Info) http.Handler {
	h := &Handler{reg: reg, info: info, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/stats", h.stats)
	h.mux.HandleFunc("/api/health", h.health)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// stats returns GET /api/stats — totals, per-channel counts and uptime.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap := h.reg.Snapshot()
	channels := make([]ChannelResponse, 0, len(snap.Channels))
	for _, c := range snap.Channels {
		channels = append(channels, ChannelResponse{Channel: c.Channel, Viewers: c.Viewers})
	}

	now := h.now()
	jsonResp(w, http.StatusOK, StatsResponse{
		Status:           "online",
		Server:           h.info.Name,
		Version:          h.info.Version,
		TotalConnections: snap.TotalSessions,
		TotalViewers:     snap.TotalViewers,
		Channels:         channels,
		Uptime:           now.Sub(h.info.StartedAt).Seconds(),
		Timestamp:        now.UnixMilli(),
	})
}

// health returns GET /api/health — always healthy while the process serves.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UnixMilli(),
	})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
