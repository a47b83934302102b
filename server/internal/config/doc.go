// Package config loads the viewer tracker configuration from config.yaml.
//
// Config fields:
//   - Server.Host            — listen interface (default all)
//   - Server.Port            — HTTP/WebSocket port (default 3000, PORT env overrides)
//   - Server.AdminPort       — gRPC admin port; 0 disables (default 0)
//   - Server.WelcomeMessage  — text of the welcome frame
//   - Server.SendBuffer      — per-client outgoing queue depth (default 16)
//   - Server.ChannelIdleTTL  — prune zero-viewer channels after this long (default 0 = never)
//   - Server.AdminAuth       — env var holding the admin API key, metadata header
//   - Log.Level              — debug | info | warn | error (default info)
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads the file on change; only Log.Level and
// Server.WelcomeMessage are applied to a running server.
package config
