// Package peer defines the application-facing view of a network peer: the
// Peer identity/address pair the discovery orchestrator and cache exchange,
// the richer CachedPeer record the cache stores, and the deterministic
// peer_id <-> node_id mapping that lets the DHT and the application layer
// talk about the same entity under two different names.
package peer
