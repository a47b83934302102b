// Package api implements the read-only HTTP reporting endpoints.
//
// New(registry, info) returns an http.Handler that serves:
//
//	GET /api/stats   — status, server name/version, totalConnections,
//	                   totalViewers, channels [{channel, viewers}],
//	                   uptime (seconds) and timestamp (epoch ms)
//	GET /api/health  — {"status":"healthy","timestamp":ms}
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for methods other than GET
//   - Allow any origin (Access-Control-Allow-Origin: *); OPTIONS preflight gets 204
//
// Every stats response is built from one registry snapshot.
package api
