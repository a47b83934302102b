// Package registry tracks live viewer sessions and per-channel viewer counts.
//
// New(idleTTL) creates an empty Registry. All mutation goes through three
// operations, each applied atomically under one mutex:
//
//	Connect(sender)        — new unsubscribed session with a fresh "viewer_<uuid>" id
//	Subscribe(id, channel) — leave the old channel (if any), join the new one;
//	                         "" means "default"; unknown ids return ErrUnknownSession
//	Disconnect(id)         — leave the channel and drop the session; idempotent
//
// Snapshot() and Audience(channel) take the read lock, so readers never see a
// channel switch half applied. The registry performs no I/O: callers send to
// the returned sessions after the lock is released.
//
// Channels whose count falls to zero stay listed until Prune removes them
// after idleTTL; Run(ctx) drives Prune on a ticker.
package registry
