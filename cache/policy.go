package cache

import (
	"time"

	"github.com/opd-ai/peercore/peer"
)

// victimRank scores an entry for eviction purposes: the candidate with the
// LOWEST rank under the configured policy is evicted first. Entries are
// pre-filtered to exclude CRITICAL priority before ranking is ever
// consulted, so no policy needs to special-case it.
func victimRank(policy EvictionPolicy, c *peer.CachedPeer, now time.Time) float64 {
	switch policy {
	case PolicyLRU:
		// Older last-access is lower rank (evict first). Invert to a
		// monotonically increasing "staleness" so smaller is worse.
		return -float64(now.Sub(c.LastAccessed))
	case PolicyLFU:
		return float64(c.AccessCount)
	case PolicyTTLSoonest:
		remaining := c.TTL - now.Sub(c.CachedAt)
		return float64(remaining)
	case PolicyLowestReputation:
		return c.Reputation
	case PolicyNetworkDistance:
		// Highest distance first: invert so the farthest peer ranks lowest.
		return -float64(c.NetworkDistance)
	case PolicyLRUWithReputation:
		fallthrough
	default:
		return c.Score(now)
	}
}

// pickVictim returns the peer_id of the worst-ranked non-CRITICAL entry in
// candidates, or "" if every candidate is CRITICAL.
func pickVictim(policy EvictionPolicy, candidates map[string]*peer.CachedPeer, now time.Time) string {
	var victim string
	var worst float64
	found := false

	for id, c := range candidates {
		if c.Priority == peer.PriorityCritical {
			continue
		}
		rank := victimRank(policy, c, now)
		if !found || rank < worst {
			worst = rank
			victim = id
			found = true
		}
	}
	return victim
}
