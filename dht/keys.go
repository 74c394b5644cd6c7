package dht

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/opd-ai/peercore/nodeid"
)

// hashKey derives the nodeid.ID-space location of an arbitrary STORE/
// FIND_VALUE key by SHA-1'ing it down to nodeid.Size bytes. This keeps
// keys of any length addressable in the same 160-bit space node IDs live
// in, which is what lets Closest(target, ...) pick replication targets for
// a key the same way it does for a node.
func hashKey(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:nodeid.Size])
}
