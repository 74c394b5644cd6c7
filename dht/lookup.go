package dht

import (
	"context"
	"sort"
	"sync"

	"github.com/opd-ai/peercore/nodeid"
	"github.com/opd-ai/peercore/transport"
	"golang.org/x/sync/errgroup"
)

// iterativeLookup implements the alpha-parallel Kademlia lookup: each round
// queries up to Alpha not-yet-queried nodes drawn from the closest
// BucketSize nodes discovered so far, merges their replies in, and stops
// once every one of those closest nodes has been queried or found
// unreachable. When wantValue is true (a FIND_VALUE lookup), a value
// returned by any queried node ends the lookup once that round's other
// requests have finished.
func (e *Engine) iterativeLookup(ctx context.Context, target nodeid.ID, key string, wantValue bool) (LookupResult, error) {
	shortlist := newCandidateSet(target, e.config.BucketSize, e.routing.Closest(target, e.config.BucketSize))

	for {
		batch := shortlist.next(e.config.Alpha)
		if len(batch) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		var mu sync.Mutex
		var foundValue []byte
		found := false

		for _, candidate := range batch {
			candidate := candidate
			g.Go(func() error {
				msg := e.lookupMessage(target, key, wantValue)
				resp, err := e.request(gctx, candidate, msg)
				shortlist.markQueried(candidate.ID)
				if err != nil {
					shortlist.markUnreachable(candidate.ID)
					return nil // a single unreachable node never fails the lookup
				}

				mu.Lock()
				defer mu.Unlock()
				if wantValue && resp.Found {
					found = true
					foundValue = resp.Value
					return nil
				}
				for _, ni := range resp.Nodes {
					id, err := nodeid.FromHex(ni.NodeID)
					if err != nil {
						continue
					}
					shortlist.offer(&Node{ID: id, Address: transport.NodeAddr(ni), Alive: true})
				}
				return nil
			})
		}
		_ = g.Wait() // per-candidate errors are absorbed above; only ctx cancellation propagates

		if wantValue && found {
			return LookupResult{Value: foundValue, Found: true}, nil
		}
		if ctx.Err() != nil {
			return LookupResult{}, ctx.Err()
		}
	}

	return LookupResult{Nodes: shortlist.closest(e.config.BucketSize)}, nil
}

// lookupMessage builds the outbound FIND_NODE or FIND_VALUE request for one
// round of iterativeLookup.
func (e *Engine) lookupMessage(target nodeid.ID, key string, wantValue bool) *transport.Message {
	op := transport.OpFindNode
	if wantValue {
		op = transport.OpFindValue
	}
	return &transport.Message{
		Op:           op,
		SourceNodeID: e.id.String(),
		TargetNodeID: target.String(),
		Key:          key,
	}
}

// candidateSet tracks the lookup's shortlist: every node seen so far,
// ordered by distance to target, with per-node queried/unreachable state.
// next() only ever offers nodes from within the closest k known — the
// classic Kademlia termination condition is "every one of the k closest
// nodes found has been queried", which keeps the lookup from chasing an
// ever-growing referral graph.
type candidateSet struct {
	mu          sync.Mutex
	target      nodeid.ID
	k           int
	nodes       map[nodeid.ID]*Node
	queried     map[nodeid.ID]bool
	unreachable map[nodeid.ID]bool
}

func newCandidateSet(target nodeid.ID, k int, seed []*Node) *candidateSet {
	cs := &candidateSet{
		target:      target,
		k:           k,
		nodes:       make(map[nodeid.ID]*Node),
		queried:     make(map[nodeid.ID]bool),
		unreachable: make(map[nodeid.ID]bool),
	}
	for _, n := range seed {
		cs.offer(n)
	}
	return cs
}

// offer adds node to the set if it is new.
func (cs *candidateSet) offer(node *Node) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.nodes[node.ID]; ok {
		return
	}
	cs.nodes[node.ID] = node
}

// next returns up to alpha not-yet-queried, reachable candidates drawn
// from the closest k known nodes, closest to target first.
func (cs *candidateSet) next(alpha int) []*Node {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	closest := cs.closestLocked(cs.k)

	var candidates []*Node
	for _, n := range closest {
		if cs.queried[n.ID] || cs.unreachable[n.ID] {
			continue
		}
		candidates = append(candidates, n)
		if len(candidates) == alpha {
			break
		}
	}
	return candidates
}

func (cs *candidateSet) markQueried(id nodeid.ID) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.queried[id] = true
}

func (cs *candidateSet) markUnreachable(id nodeid.ID) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.unreachable[id] = true
}

// closest returns up to count known nodes ordered by distance to target,
// including already-queried ones — a caller asking "who is closest" wants
// the full picture, not just the unqueried remainder.
func (cs *candidateSet) closest(count int) []*Node {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.closestLocked(count)
}

// closestLocked is closest without acquiring cs.mu; callers must already
// hold it.
func (cs *candidateSet) closestLocked(count int) []*Node {
	all := make([]*Node, 0, len(cs.nodes))
	for _, n := range cs.nodes {
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool {
		return nodeid.Less(all[i].ID, all[j].ID, cs.target)
	})
	if len(all) > count {
		all = all[:count]
	}
	return all
}
