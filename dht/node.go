package dht

import (
	"net"
	"time"

	"github.com/opd-ai/peercore/nodeid"
)

// TimeProvider abstracts time so maintenance loops and staleness checks are
// deterministically testable.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// systemTimeProvider is the default, real-clock TimeProvider.
type systemTimeProvider struct{}

func (systemTimeProvider) Now() time.Time                  { return time.Now() }
func (systemTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Node is the DHT's view of a peer: an identity, a reachable address, and
// the liveness bookkeeping the routing table needs to decide who to evict.
// Two nodes are equal iff their IDs are equal; Address/LastSeen/Alive are
// mutated in place as the node is observed.
//
//export PeerDHTNode
type Node struct {
	ID       nodeid.ID
	Address  net.Addr
	LastSeen time.Time
	Alive    bool
}

// NewNode creates a node first observed at the current time, optimistically
// marked alive (it was just reached, directly or by reference).
func NewNode(id nodeid.ID, addr net.Addr, tp TimeProvider) *Node {
	if tp == nil {
		tp = systemTimeProvider{}
	}
	return &Node{
		ID:       id,
		Address:  addr,
		LastSeen: tp.Now(),
		Alive:    true,
	}
}

// Touch marks the node as seen now, recording the liveness observed on this
// contact.
func (n *Node) Touch(tp TimeProvider, alive bool) {
	if tp == nil {
		tp = systemTimeProvider{}
	}
	n.LastSeen = tp.Now()
	n.Alive = alive
}

// IPPort splits the node's address into host and port. Non-IP address
// schemes (anything net.SplitHostPort can't parse) return the raw address
// string and port 0 rather than failing, since the DHT engine treats
// addresses opaquely.
func (n *Node) IPPort() (string, uint16) {
	host, portStr, err := net.SplitHostPort(n.Address.String())
	if err != nil {
		return n.Address.String(), 0
	}
	var port int
	for _, c := range portStr {
		if c < '0' || c > '9' {
			return host, 0
		}
		port = port*10 + int(c-'0')
	}
	return host, uint16(port)
}
