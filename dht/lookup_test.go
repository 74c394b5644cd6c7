package dht

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupConvergesOnPartialRoutingTable(t *testing.T) {
	// each node only knows its immediate neighbor; a lookup must still
	// reach the rest of the mesh by following referrals.
	nodes, _ := newMesh(t, 5)
	for i, n := range nodes {
		next := nodes[(i+1)%len(nodes)]
		n.engine.AddNode(NewNode(next.id, next.addr, nil))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := nodes[0].engine.FindNode(ctx, nodes[3].id)
	require.NoError(t, err)

	found := false
	for _, n := range result.Nodes {
		if n.ID.Equal(nodes[3].id) {
			found = true
		}
	}
	assert.True(t, found, "lookup should have discovered the target node via referral chain")
}

func TestPartitionAndHeal(t *testing.T) {
	// two disjoint groups never learn of each other until a bridging node
	// is added to both sides, at which point a lookup crossing the
	// partition succeeds.
	nodes, _ := newMesh(t, 4)
	groupA, groupB := nodes[:2], nodes[2:]

	for _, n := range groupA {
		for _, peer := range groupA {
			if n != peer {
				n.engine.AddNode(NewNode(peer.id, peer.addr, nil))
			}
		}
	}
	for _, n := range groupB {
		for _, peer := range groupB {
			if n != peer {
				n.engine.AddNode(NewNode(peer.id, peer.addr, nil))
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result, err := groupA[0].engine.FindNode(ctx, groupB[0].id)
	require.NoError(t, err)
	for _, n := range result.Nodes {
		for _, b := range groupB {
			assert.False(t, n.ID.Equal(b.id), "partitioned groups must not find each other yet")
		}
	}

	// heal: bridge node learns of one member from each side.
	groupA[0].engine.AddNode(NewNode(groupB[0].id, groupB[0].addr, nil))
	groupB[0].engine.AddNode(NewNode(groupA[0].id, groupA[0].addr, nil))

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()

	result, err = groupA[1].engine.FindNode(ctx2, groupB[1].id)
	require.NoError(t, err)

	found := false
	for _, n := range result.Nodes {
		if n.ID.Equal(groupB[1].id) {
			found = true
		}
	}
	assert.True(t, found, "lookup should succeed once the partition is bridged")
}
