// Package nodeid implements the 160-bit identifiers used to place peers in
// the Kademlia routing space.
//
// An ID is opaque outside of two operations: equality and XOR distance.
// Distance is symmetric and satisfies the triangle inequality under XOR,
// which is what lets the routing table order nodes by longest common
// prefix and lets iterative lookups converge monotonically on a target.
//
// The application-facing peer_id is a deterministic, total, invertible
// encoding of an ID: a lowercase hex rendering of its 20 bytes. PeerID and
// FromPeerID are the two directions of that mapping.
//
// Example:
//
//	id, err := nodeid.Random()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	peerID := id.PeerID()
//	back, err := nodeid.FromPeerID(peerID)
//	// back == id
package nodeid
