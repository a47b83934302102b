// Package ws implements the viewer WebSocket transport for viewertrack-server.
//
// Hub accepts connections, mirrors each one's lifecycle into the registry and
// pushes channel viewer counts back out.
//
// New(registry, opts) creates a Hub.
// Hub.ServeHTTP upgrades the connection, registers a session and sends:
//
//	{"type":"welcome","clientId":"viewer_…","message":"…"}
//	{"type":"stats","totalConnections":N,"totalViewers":N,"timestamp":ms}
//
// Client messages:
//
//	{"type":"subscribe","channelId":"alpha"}  — "" or absent means "default";
//	                                             replies {"type":"subscribed",…}
//	{"type":"ping"}                           — replies {"type":"pong","timestamp":ms}
//
// Malformed frames are logged and dropped; other types are ignored.
//
// Hub.NotifyChannel(channel) sends
//
//	{"type":"channel_viewers","channelId":"alpha","count":N,"timestamp":ms}
//
// to every session on the channel. It runs after every subscribe (old and new
// channel) and disconnect. Each client has a bounded send queue; a client
// that lets it fill is dropped rather than slowing down anyone else.
//
// Hub.Run(ctx) blocks until ctx is cancelled, then closes all connections.
// The upgrader accepts all origins. The server mounts the hub at /ws and at /.
package ws
