// Package cache implements the two-tier peer cache: a bounded, low-latency
// hot tier and a larger cold tier, pluggable eviction policies, reputation
// tracking with periodic decay, and the retrieval-latency and hit/miss
// statistics the discovery orchestrator observes.
//
// The hot tier is backed by a hashicorp/golang-lru Cache for its bounded,
// concurrency-safe storage; which entry to evict when the tier is full is
// decided by the configured EvictionPolicy, not by the LRU container's own
// recency order (the container is storage, not the eviction authority).
// The cold tier is backed by an embedded bbolt key/value store.
package cache
