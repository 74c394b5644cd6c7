package nodeid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Size is the length of an ID in bytes (160 bits).
const Size = 20

// Bits is the number of bits in an ID, and therefore the number of k-buckets
// a routing table needs to cover the full distance space.
const Bits = Size * 8

// ID is an opaque 160-bit Kademlia node identifier.
//
//export PeerNodeID
type ID [Size]byte

// Zero is the all-zero ID. It is never a valid node identity: dht.New
// treats a zero Config.NodeID as unset and generates a random ID instead.
var Zero ID

// Random generates a new ID using a cryptographically secure source.
//
//export PeerNodeIDRandom
func Random() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generate random node id: %w", err)
	}
	return id, nil
}

// FromHex parses an ID from its 40-character hex representation.
func FromHex(s string) (ID, error) {
	var id ID
	if len(s) != Size*2 {
		return id, fmt.Errorf("node id must be %d hex characters, got %d", Size*2, len(s))
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decode node id: %w", err)
	}
	copy(id[:], data)
	return id, nil
}

// String renders the ID as lowercase hex.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Equal reports whether two IDs are identical.
func (id ID) Equal(other ID) bool {
	return id == other
}

// IsZero reports whether the ID is the all-zero value.
func (id ID) IsZero() bool {
	return id == Zero
}

// PeerID returns the deterministic peer_id string the application layer
// uses to address this node: a hex rendering of its bytes. The mapping is
// total and invertible; see FromPeerID for the reverse direction.
func (id ID) PeerID() string {
	return id.String()
}

// FromPeerID recovers the ID a peer_id was derived from.
func FromPeerID(peerID string) (ID, error) {
	return FromHex(peerID)
}

// Distance is the XOR distance between two IDs: a 160-bit unsigned
// magnitude. It is symmetric (Distance(a,b) == Distance(b,a)) and zero iff
// the two IDs are equal.
type Distance [Size]byte

// Distance computes the XOR distance between id and other.
func (id ID) Distance(other ID) Distance {
	var d Distance
	for i := 0; i < Size; i++ {
		d[i] = id[i] ^ other[i]
	}
	return d
}

// IsZero reports whether the distance is zero, i.e. the two IDs it was
// computed from are equal.
func (d Distance) IsZero() bool {
	return d == Distance{}
}

// Less reports whether d is strictly smaller than other, using
// most-significant-byte-first lexicographic comparison. This both orders
// nodes by closeness and gives RoutingTable.Closest a deterministic tie-break: equal
// distances compare as equal here and callers break remaining ties on the
// node ID itself.
func (d Distance) Less(other Distance) bool {
	for i := 0; i < Size; i++ {
		if d[i] != other[i] {
			return d[i] < other[i]
		}
	}
	return false
}

// LeadingZeroBits returns the number of leading zero bits in the distance,
// scanning from the most significant byte. An all-zero distance reports
// Bits (160), one past the last valid index; callers that use this to
// index a 160-bucket table must clamp.
func (d Distance) LeadingZeroBits() int {
	for i := 0; i < Size; i++ {
		if d[i] == 0 {
			continue
		}
		b := d[i]
		for j := 0; j < 8; j++ {
			if (b>>(7-j))&1 == 1 {
				return i*8 + j
			}
		}
	}
	return Bits
}

// BucketIndex returns the k-bucket index a node at this distance belongs
// in, per §4.1: index = Bits - 1 - leadingZeros(distance), clamped into
// [0, Bits-1]. A zero distance (the local node itself) has no valid bucket;
// callers must check IsZero first.
func (d Distance) BucketIndex() int {
	idx := Bits - 1 - d.LeadingZeroBits()
	if idx < 0 {
		return 0
	}
	if idx > Bits-1 {
		return Bits - 1
	}
	return idx
}

// Less reports whether id is closer to target than other is, i.e.
// Distance(id, target) < Distance(other, target). Ties are broken by
// byte-lexicographic comparison of the IDs themselves, matching the
// deterministic tie-break RoutingTable.Closest requires.
func Less(id, other, target ID) bool {
	di, do := id.Distance(target), other.Distance(target)
	if di == do {
		for i := 0; i < Size; i++ {
			if id[i] != other[i] {
				return id[i] < other[i]
			}
		}
		return false
	}
	return di.Less(do)
}
