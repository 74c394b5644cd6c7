package dht

import (
	"sync"
	"time"
)

// Stats is a snapshot of the engine's aggregate counters and average
// request latency, exposed as an observable per §4.2.
type Stats struct {
	RoutingTableSize int
	StoredValues     int
	RequestsSent     uint64
	RequestsTimedOut uint64
	ResponsesHandled uint64
	AverageLatency   time.Duration
}

// statsTracker accumulates the counters behind Stats. Latency is tracked as
// a running mean rather than a fixed-size ring, since unlike the cache's
// bounded retrieval-time window the DHT has no natural cap on outstanding
// requests.
type statsTracker struct {
	mu               sync.Mutex
	requestsSent     uint64
	requestsTimedOut uint64
	responsesHandled uint64
	totalLatency     time.Duration
	latencySamples   uint64
}

func (s *statsTracker) recordSent() {
	s.mu.Lock()
	s.requestsSent++
	s.mu.Unlock()
}

func (s *statsTracker) recordTimeout() {
	s.mu.Lock()
	s.requestsTimedOut++
	s.mu.Unlock()
}

func (s *statsTracker) recordResponse(latency time.Duration) {
	s.mu.Lock()
	s.responsesHandled++
	s.totalLatency += latency
	s.latencySamples++
	s.mu.Unlock()
}

func (s *statsTracker) snapshot() (sent, timedOut, handled uint64, avgLatency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sent, timedOut, handled = s.requestsSent, s.requestsTimedOut, s.responsesHandled
	if s.latencySamples > 0 {
		avgLatency = s.totalLatency / time.Duration(s.latencySamples)
	}
	return
}
