// Package discovery implements the DiscoveryOrchestrator: the component
// that drives a dht.Engine to find peers, records them in a cache.Cache,
// and publishes their lifecycle as events.Bus events. It owns bootstrap,
// periodic discovery, bootstrap retry, and cache-expiry sweeping.
package discovery
