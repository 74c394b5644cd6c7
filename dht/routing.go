// Package dht implements a Kademlia-style distributed hash table.
// This file implements the routing table: nodeid.Bits k-buckets organized
// by XOR distance, node lifecycle management, and closest-node discovery.
package dht

import (
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/peercore/nodeid"
)

// DefaultBucketSize is k, the standard Kademlia bucket capacity.
const DefaultBucketSize = 20

// KBucket holds up to maxSize nodes whose distance to the local node falls
// in this bucket's range. Nodes are ordered by recency of last successful
// interaction: the tail is most-recently-updated, the head is
// least-recently-updated, which is exactly the order AddNode's eviction
// rule needs.
//
//export PeerKBucket
type KBucket struct {
	nodes   []*Node
	maxSize int
	mu      sync.RWMutex
}

// NewKBucket creates an empty bucket with the given capacity.
func NewKBucket(maxSize int) *KBucket {
	return &KBucket{nodes: make([]*Node, 0, maxSize), maxSize: maxSize}
}

// AddNode implements the k-bucket insertion policy:
//  1. If the node is already present, move it to the tail and refresh it.
//  2. Else if there is room, append it at the tail.
//  3. Else inspect the head (least-recently-updated) entry: if it is dead,
//     evict it and insert the new node at the tail; otherwise reject.
//
// The live-eldest entry is always preserved over a new, unverified node —
// standard Kademlia LRU replacement with a liveness preference.
func (kb *KBucket) AddNode(node *Node) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for i, existing := range kb.nodes {
		if existing.ID.Equal(node.ID) {
			kb.nodes = append(kb.nodes[:i], kb.nodes[i+1:]...)
			kb.nodes = append(kb.nodes, node)
			return true
		}
	}

	if len(kb.nodes) < kb.maxSize {
		kb.nodes = append(kb.nodes, node)
		return true
	}

	if !kb.nodes[0].Alive {
		kb.nodes = append(kb.nodes[1:], node)
		return true
	}

	return false
}

// RemoveNode removes the node with the given ID, if present.
func (kb *KBucket) RemoveNode(id nodeid.ID) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for i, node := range kb.nodes {
		if node.ID.Equal(id) {
			kb.nodes = append(kb.nodes[:i], kb.nodes[i+1:]...)
			return true
		}
	}
	return false
}

// GetNodes returns a copy of the bucket's current contents, oldest first.
func (kb *KBucket) GetNodes() []*Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	result := make([]*Node, len(kb.nodes))
	copy(result, kb.nodes)
	return result
}

// OldestLastSeen returns the last-seen time of the bucket's
// least-recently-updated entry, used to decide whether the bucket is due
// for a refresh. The second return value is false for an empty bucket.
func (kb *KBucket) OldestLastSeen() (time.Time, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	if len(kb.nodes) == 0 {
		return time.Time{}, false
	}
	return kb.nodes[0].LastSeen, true
}

// Len reports the number of nodes currently in the bucket.
func (kb *KBucket) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.nodes)
}

// RoutingTable is the local node's view of the network: nodeid.Bits
// k-buckets, indexed by XOR-distance bit position, never containing the
// local node's own ID.
//
//export PeerRoutingTable
type RoutingTable struct {
	buckets [nodeid.Bits]*KBucket
	selfID  nodeid.ID
	mu      sync.RWMutex
}

// NewRoutingTable creates a routing table for selfID with every bucket
// configured to hold up to bucketSize nodes.
func NewRoutingTable(selfID nodeid.ID, bucketSize int) *RoutingTable {
	rt := &RoutingTable{selfID: selfID}
	for i := range rt.buckets {
		rt.buckets[i] = NewKBucket(bucketSize)
	}
	return rt
}

// bucketIndexFor returns the bucket index for id, and false if id is the
// local node's own ID (which is never stored).
func (rt *RoutingTable) bucketIndexFor(id nodeid.ID) (int, bool) {
	dist := rt.selfID.Distance(id)
	if dist.IsZero() {
		return 0, false
	}
	return dist.BucketIndex(), true
}

// Add inserts node into its k-bucket, refusing the local node's own ID.
// Reports whether the node was accepted.
func (rt *RoutingTable) Add(node *Node) bool {
	idx, ok := rt.bucketIndexFor(node.ID)
	if !ok {
		return false
	}

	rt.mu.RLock()
	bucket := rt.buckets[idx]
	rt.mu.RUnlock()

	return bucket.AddNode(node)
}

// Remove deletes the node with the given ID from the routing table.
// Reports whether a node was removed.
func (rt *RoutingTable) Remove(id nodeid.ID) bool {
	idx, ok := rt.bucketIndexFor(id)
	if !ok {
		return false
	}

	rt.mu.RLock()
	bucket := rt.buckets[idx]
	rt.mu.RUnlock()

	return bucket.RemoveNode(id)
}

// UpdateLastSeen refreshes a known node's liveness. Re-adding a
// already-present node is, by the bucket insertion policy, a
// move-to-tail-and-refresh.
func (rt *RoutingTable) UpdateLastSeen(node *Node) {
	rt.Add(node)
}

// Closest returns up to count nodes ordered by ascending XOR distance to
// key, with ties broken by byte-lexicographic node ID order.
func (rt *RoutingTable) Closest(key nodeid.ID, count int) []*Node {
	all := rt.All()

	sort.Slice(all, func(i, j int) bool {
		return nodeid.Less(all[i].ID, all[j].ID, key)
	})

	if len(all) > count {
		all = all[:count]
	}
	return all
}

// All returns every node currently known to the routing table.
func (rt *RoutingTable) All() []*Node {
	rt.mu.RLock()
	buckets := rt.buckets
	rt.mu.RUnlock()

	all := make([]*Node, 0, DefaultBucketSize)
	for _, bucket := range buckets {
		all = append(all, bucket.GetNodes()...)
	}
	return all
}

// NonEmptyBucketCount reports how many of the table's buckets currently
// hold at least one node.
func (rt *RoutingTable) NonEmptyBucketCount() int {
	rt.mu.RLock()
	buckets := rt.buckets
	rt.mu.RUnlock()

	count := 0
	for _, bucket := range buckets {
		if bucket.Len() > 0 {
			count++
		}
	}
	return count
}

// NeedingRefresh returns the indices of buckets whose oldest entry has not
// been seen within maxAge. Empty buckets are never due for refresh — there
// is nothing a find_node against them would improve.
func (rt *RoutingTable) NeedingRefresh(maxAge time.Duration, now time.Time) []int {
	rt.mu.RLock()
	buckets := rt.buckets
	rt.mu.RUnlock()

	var stale []int
	for i, bucket := range buckets {
		oldest, ok := bucket.OldestLastSeen()
		if !ok {
			continue
		}
		if now.Sub(oldest) > maxAge {
			stale = append(stale, i)
		}
	}
	return stale
}

// Size returns the total number of nodes across all buckets.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	buckets := rt.buckets
	rt.mu.RUnlock()

	total := 0
	for _, bucket := range buckets {
		total += bucket.Len()
	}
	return total
}

// RandomIDInBucket returns an ID whose distance to the local node falls in
// bucket index idx, for use as the synthetic target of a bucket-refresh
// find_node. fill is expected to populate its argument with random bytes
// (e.g. crypto/rand.Read); it is a parameter so callers can substitute a
// deterministic source in tests.
func (rt *RoutingTable) RandomIDInBucket(idx int, fill func([]byte)) nodeid.ID {
	dist := make([]byte, nodeid.Size)
	fill(dist)

	// BucketIndex is Bits-1-LeadingZeroBits(dist), so the highest set bit
	// must land at MSB position Bits-1-idx for the result to land in
	// bucket idx: zero every byte above it, then set that bit within its
	// byte.
	pos := nodeid.Bits - 1 - idx
	bytePos := pos / 8
	bitPos := uint(7 - pos%8)

	for i := 0; i < bytePos; i++ {
		dist[i] = 0
	}
	dist[bytePos] = (dist[bytePos] & ((1 << bitPos) - 1)) | (1 << bitPos)

	var id nodeid.ID
	for i := 0; i < nodeid.Size; i++ {
		id[i] = rt.selfID[i] ^ dist[i]
	}
	return id
}
