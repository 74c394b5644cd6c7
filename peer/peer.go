package peer

import (
	"time"

	"github.com/opd-ai/peercore/nodeid"
)

// Peer is the application-facing view of a network participant: an
// addressable identity plus the liveness bookkeeping the orchestrator
// needs. It is the projection of a dht.Node through the deterministic
// peer_id/node_id mapping in nodeid.ID.
//
//export PeerInfo
type Peer struct {
	ID        string // peer_id: hex rendering of the underlying node_id
	Address   string
	Port      uint16
	Connected bool
	LastSeen  time.Time
}

// NodeID recovers the 160-bit identity a Peer's ID was derived from.
func (p Peer) NodeID() (nodeid.ID, error) {
	return nodeid.FromPeerID(p.ID)
}

// FromNodeID constructs a Peer from a DHT-level identity and address.
func FromNodeID(id nodeid.ID, address string, port uint16) Peer {
	return Peer{ID: id.PeerID(), Address: address, Port: port}
}

// Priority controls a CachedPeer's retention and default TTL. CRITICAL
// entries are never evicted from the hot tier, and HIGH and CRITICAL get
// the longer default TTL; otherwise the eviction policies do not rank on
// priority.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ConnectionAttempt records a single connection attempt's outcome, as kept
// in a CachedPeer's FIFO connection history.
type ConnectionAttempt struct {
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
	Err       string
	Method    string
}

// CachedPeer is the PeerCache's full record for a peer: the Peer itself
// plus access bookkeeping, reputation, connection history, and the
// metadata the eviction policies rank on.
//
//export CachedPeerInfo
type CachedPeer struct {
	Peer             Peer
	CachedAt         time.Time
	LastAccessed     time.Time
	AccessCount      int
	TTL              time.Duration
	Priority         Priority
	Reputation       float64
	Bootstrap        bool
	ConnectionHistory []ConnectionAttempt
	NetworkDistance  uint64
	Tags             map[string]struct{}
	Metadata         map[string]string
}

// Expired reports whether the entry's TTL has elapsed as of now.
func (c *CachedPeer) Expired(now time.Time) bool {
	return now.Sub(c.CachedAt) > c.TTL
}

// Score computes the hybrid LRU_WITH_REPUTATION eviction score: higher is
// more valuable. The four weighted terms are reputation, access frequency,
// access recency, and cache-age-relative-to-TTL, per the documented
// formula.
func (c *CachedPeer) Score(now time.Time) float64 {
	accessTerm := float64(c.AccessCount) / 100
	if accessTerm > 1 {
		accessTerm = 1
	}

	recency := float64(now.Sub(c.LastAccessed)) / float64(24*time.Hour)
	if recency > 1 {
		recency = 1
	}
	if recency < 0 {
		recency = 0
	}

	var ageRatio float64
	if c.TTL > 0 {
		ageRatio = float64(now.Sub(c.CachedAt)) / float64(c.TTL)
	}
	if ageRatio > 1 {
		ageRatio = 1
	}
	if ageRatio < 0 {
		ageRatio = 0
	}

	return 0.30*c.Reputation +
		0.25*accessTerm +
		0.25*(1-recency) +
		0.20*(1-ageRatio)
}

// ClampReputation clamps r into [0,1], the invariant every reputation
// mutation must preserve.
func ClampReputation(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
