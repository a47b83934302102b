// Package metrics exposes viewer tracker state in Prometheus format.
//
// Collector reads one registry.Snapshot per scrape and reports:
//
//	viewertrack_connections                 — live sessions
//	viewertrack_viewers                     — sessions subscribed to a channel
//	viewertrack_channel_viewers{channel}    — viewers per known channel
//
// Recorder counts broadcast activity from the WebSocket hub:
//
//	viewertrack_broadcasts_total            — channel_viewers fan-outs
//	viewertrack_push_failures_total         — per-session sends that failed
//
// New(reg) builds a dedicated prometheus.Registry holding both, and Handler
// serves it for GET /metrics.
package metrics
