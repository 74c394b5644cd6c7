package events

import (
	"time"

	"github.com/opd-ai/peercore/peer"
)

// Kind tags an Event's variant. It is the runtime type tag the spec's
// typed-callback registration filters on, in place of source-language
// reflection.
type Kind int

const (
	KindPeerDiscovered Kind = iota
	KindPeerLost
	KindPeerConnected
	KindPeerDisconnected
	KindPeerStatusChanged
	KindDiscoveryStarted
	KindDiscoveryStopped
	KindDiscoveryError
	KindNetworkPartition
	KindNetworkMerge
	KindDHTOperation
)

func (k Kind) String() string {
	switch k {
	case KindPeerDiscovered:
		return "PeerDiscovered"
	case KindPeerLost:
		return "PeerLost"
	case KindPeerConnected:
		return "PeerConnected"
	case KindPeerDisconnected:
		return "PeerDisconnected"
	case KindPeerStatusChanged:
		return "PeerStatusChanged"
	case KindDiscoveryStarted:
		return "DiscoveryStarted"
	case KindDiscoveryStopped:
		return "DiscoveryStopped"
	case KindDiscoveryError:
		return "DiscoveryError"
	case KindNetworkPartition:
		return "NetworkPartition"
	case KindNetworkMerge:
		return "NetworkMerge"
	case KindDHTOperation:
		return "DHTOperation"
	default:
		return "Unknown"
	}
}

// Severity grades a DiscoveryError.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

// Event is the envelope every variant travels in: a monotonic ID, an
// emission timestamp, the variant tag, and a variant-specific payload.
//
//export PeerEvent
type Event struct {
	ID        uint64
	Timestamp time.Time
	Kind      Kind
	Payload   any
}

// PeerDiscoveredPayload is carried by a KindPeerDiscovered event.
type PeerDiscoveredPayload struct {
	Peer peer.Peer
}

// PeerLostPayload is carried by a KindPeerLost event.
type PeerLostPayload struct {
	PeerID string
}

// PeerConnectedPayload is carried by a KindPeerConnected event.
type PeerConnectedPayload struct {
	PeerID string
}

// PeerDisconnectedPayload is carried by a KindPeerDisconnected event.
type PeerDisconnectedPayload struct {
	PeerID string
}

// PeerStatusChangedPayload is carried by a KindPeerStatusChanged event.
type PeerStatusChangedPayload struct {
	PeerID    string
	Connected bool
}

// DiscoveryStartedPayload is carried by a KindDiscoveryStarted event.
type DiscoveryStartedPayload struct{}

// DiscoveryStoppedPayload is carried by a KindDiscoveryStopped event.
type DiscoveryStoppedPayload struct{}

// DiscoveryErrorPayload is carried by a KindDiscoveryError event.
type DiscoveryErrorPayload struct {
	Message     string
	Cause       error
	Severity    Severity
	Recoverable bool
}

// NetworkPartitionPayload is carried by a KindNetworkPartition event.
type NetworkPartitionPayload struct {
	ObservedPeerCount int
}

// NetworkMergePayload is carried by a KindNetworkMerge event.
type NetworkMergePayload struct {
	MergedPeerCount int
}

// DHTOperationPayload is carried by a KindDHTOperation event.
type DHTOperationPayload struct {
	Op      string
	Target  string
	Success bool
}
