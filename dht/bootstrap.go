package dht

import (
	"context"
	"fmt"

	"github.com/opd-ai/peercore/nodeid"
)

// SeedNode is a known-good entry point supplied to Bootstrap: an identity
// paired with a reachable transport.Transport-level address. Address is an
// fmt.Stringer (net.Addr satisfies this) so callers can pass whatever
// addressing concept their Transport expects.
type SeedNode struct {
	ID      nodeid.ID
	Address fmt.Stringer
}

// Bootstrap seeds the routing table with known nodes and issues a
// self-directed find_node to populate buckets beyond the seeds themselves.
// It pings every seed, retrying each up to Config.MaxRetries times, and
// succeeds if at least one seed was reachable; an empty seed list is not an error —
// an already-known routing table may be enough to proceed.
func (e *Engine) Bootstrap(ctx context.Context, seeds []SeedNode) error {
	if len(seeds) == 0 {
		return nil
	}

	reached := 0
	for _, seed := range seeds {
		node := NewNode(seed.ID, stringerAddr{seed.Address}, e.tp)
		e.routing.Add(node)

		if e.pingWithRetries(ctx, node) {
			reached++
		}
	}

	if reached == 0 {
		return fmt.Errorf("dht: bootstrap failed, none of %d seed nodes responded", len(seeds))
	}

	if _, err := e.FindNode(ctx, e.id); err != nil {
		e.log.WithError(err).Debug("self-lookup after bootstrap did not complete cleanly")
	}

	return nil
}

// stringerAddr adapts any fmt.Stringer into a net.Addr, letting Bootstrap
// accept addresses from callers who only have a host:port string rather
// than a concrete net.Addr.
type stringerAddr struct {
	fmt.Stringer
}

func (stringerAddr) Network() string { return "seed" }

// pingWithRetries pings node up to MaxRetries+1 times, returning true on
// the first success.
func (e *Engine) pingWithRetries(ctx context.Context, node *Node) bool {
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if e.Ping(ctx, node) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}
