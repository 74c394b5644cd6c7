// Package events implements the peer-lifecycle event bus: a bounded,
// ordered, priority-dispatched stream of typed events that the discovery
// orchestrator and DHT engine publish to and application code subscribes
// to. Delivery preserves emission order per subscriber; a background
// dispatcher drains the emit queue so Emit does not wait for callbacks to
// run, and blocks only while that bounded queue is full.
package events
