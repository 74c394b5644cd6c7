package dht

import (
	"testing"
	"time"

	"github.com/opd-ai/peercore/nodeid"
	"github.com/opd-ai/peercore/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idFromByte(b byte) nodeid.ID {
	var id nodeid.ID
	id[nodeid.Size-1] = b
	return id
}

func addrFor(b byte) transport.LoopbackAddr {
	return transport.LoopbackAddr("node:" + string(rune('0'+b)))
}

func TestKBucketAddNodeFillsBeforeEviction(t *testing.T) {
	kb := NewKBucket(2)

	n1 := NewNode(idFromByte(1), addrFor(1), nil)
	n2 := NewNode(idFromByte(2), addrFor(2), nil)
	n3 := NewNode(idFromByte(3), addrFor(3), nil)

	assert.True(t, kb.AddNode(n1))
	assert.True(t, kb.AddNode(n2))
	assert.Equal(t, 2, kb.Len())

	// bucket full and both entries alive: the new node is rejected
	assert.False(t, kb.AddNode(n3))
	assert.Equal(t, 2, kb.Len())
}

func TestKBucketEvictsOnlyDeadHead(t *testing.T) {
	kb := NewKBucket(2)

	n1 := NewNode(idFromByte(1), addrFor(1), nil)
	n2 := NewNode(idFromByte(2), addrFor(2), nil)
	kb.AddNode(n1)
	kb.AddNode(n2)

	n1.Alive = false // head is now dead
	n3 := NewNode(idFromByte(3), addrFor(3), nil)

	assert.True(t, kb.AddNode(n3))
	nodes := kb.GetNodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, n2.ID, nodes[0].ID)
	assert.Equal(t, n3.ID, nodes[1].ID)
}

func TestKBucketReinsertMovesToTail(t *testing.T) {
	kb := NewKBucket(3)
	n1 := NewNode(idFromByte(1), addrFor(1), nil)
	n2 := NewNode(idFromByte(2), addrFor(2), nil)
	kb.AddNode(n1)
	kb.AddNode(n2)

	kb.AddNode(n1) // re-add: moves to tail
	nodes := kb.GetNodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, n2.ID, nodes[0].ID)
	assert.Equal(t, n1.ID, nodes[1].ID)
}

func TestRoutingTableRefusesSelf(t *testing.T) {
	self := idFromByte(1)
	rt := NewRoutingTable(self, DefaultBucketSize)

	n := NewNode(self, addrFor(1), nil)
	assert.False(t, rt.Add(n))
	assert.Equal(t, 0, rt.Size())
}

func TestRoutingTableClosestOrdersByXORDistance(t *testing.T) {
	self := idFromByte(0)
	rt := NewRoutingTable(self, DefaultBucketSize)

	for _, b := range []byte{0x01, 0x02, 0x04, 0x08} {
		rt.Add(NewNode(idFromByte(b), addrFor(b), nil))
	}

	target := idFromByte(0x01)
	closest := rt.Closest(target, 2)
	require.Len(t, closest, 2)
	assert.Equal(t, idFromByte(0x01), closest[0].ID)
}

func TestRoutingTableReobserveKeepsCount(t *testing.T) {
	// insert 0x01, 0x02, 0x04 (each lands in its own bucket) then
	// re-observe 0x01: the table still holds exactly three nodes. The
	// move-to-tail ordering within a bucket is covered by
	// TestKBucketReinsertMovesToTail.
	self := idFromByte(0)
	rt := NewRoutingTable(self, DefaultBucketSize)

	n1 := NewNode(idFromByte(0x01), addrFor(1), nil)
	rt.Add(n1)
	rt.Add(NewNode(idFromByte(0x02), addrFor(2), nil))
	rt.Add(NewNode(idFromByte(0x04), addrFor(4), nil))
	require.Equal(t, 3, rt.Size())

	rt.UpdateLastSeen(n1)
	assert.Equal(t, 3, rt.Size())
}

func TestDistanceProperties(t *testing.T) {
	a := idFromByte(0x05)
	b := idFromByte(0x09)

	// symmetry
	assert.Equal(t, a.Distance(b), b.Distance(a))

	// identity: distance to self is zero
	assert.True(t, a.Distance(a).IsZero())
}

func TestRandomIDInBucketLandsInRequestedBucket(t *testing.T) {
	self := idFromByte(0)
	rt := NewRoutingTable(self, DefaultBucketSize)

	for idx := 0; idx < nodeid.Bits; idx += 37 {
		id := rt.RandomIDInBucket(idx, func(b []byte) {
			for i := range b {
				b[i] = 0xFF
			}
		})
		dist := self.Distance(id)
		assert.Equal(t, idx, dist.BucketIndex())
	}
}

func TestNeedingRefreshReportsStaleBucketsOnly(t *testing.T) {
	self := idFromByte(0)
	rt := NewRoutingTable(self, DefaultBucketSize)

	stale := NewNode(idFromByte(0x01), addrFor(1), nil)
	stale.LastSeen = time.Now().Add(-2 * time.Hour)
	rt.Add(stale)

	fresh := NewNode(idFromByte(0x02), addrFor(2), nil)
	rt.Add(fresh)

	idxs := rt.NeedingRefresh(time.Hour, time.Now())
	assert.Contains(t, idxs, rt.bucketIndexMustFor(t, stale.ID))
	assert.NotContains(t, idxs, rt.bucketIndexMustFor(t, fresh.ID))
}

// bucketIndexMustFor is a tiny test helper exposing the package-private
// bucket index computation without making it part of the public API.
func (rt *RoutingTable) bucketIndexMustFor(t *testing.T, id nodeid.ID) int {
	t.Helper()
	idx, ok := rt.bucketIndexFor(id)
	require.True(t, ok)
	return idx
}
