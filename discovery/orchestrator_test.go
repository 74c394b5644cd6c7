package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/peercore/cache"
	"github.com/opd-ai/peercore/dht"
	"github.com/opd-ai/peercore/events"
	"github.com/opd-ai/peercore/nodeid"
	"github.com/opd-ai/peercore/peer"
	"github.com/opd-ai/peercore/transport"
	"github.com/stretchr/testify/require"
)

// newTestNode builds an unstarted Engine on its own loopback address within
// a shared network, plus a fresh cache and bus, all ready for an
// Orchestrator.
func newTestNode(t *testing.T, net *transport.LoopbackNetwork, addr transport.LoopbackAddr) (*dht.Engine, *cache.Cache, *events.Bus) {
	t.Helper()

	tr := net.NewTransport(addr)
	cfg := dht.DefaultConfig()
	cfg.PingTimeout = 200 * time.Millisecond
	cfg.BucketRefreshInterval = time.Hour
	cfg.RepublishInterval = time.Hour

	id, err := nodeid.Random()
	require.NoError(t, err)
	cfg.NodeID = id

	engine := dht.New(tr, cfg)

	cacheCfg := cache.DefaultConfig()
	cacheCfg.MaxMemoryCacheSize = 50
	cacheCfg.PersistenceEnabled = false
	c, err := cache.New(cacheCfg)
	require.NoError(t, err)
	t.Cleanup(c.Stop)

	bus := events.New()

	return engine, c, bus
}

func TestOrchestratorStartStopIdempotent(t *testing.T) {
	net := transport.NewLoopbackNetwork()
	engine, c, bus := newTestNode(t, net, "node-a:1")
	o := New(engine, c, bus, DefaultConfig())
	t.Cleanup(func() { bus.Shutdown() })

	require.NoError(t, o.Start(context.Background(), nil))
	require.NoError(t, o.Start(context.Background(), nil)) // idempotent
	o.Stop()
	o.Stop() // idempotent
}

func TestOrchestratorBootstrapAndDiscover(t *testing.T) {
	net := transport.NewLoopbackNetwork()
	engineA, cacheA, busA := newTestNode(t, net, "node-a:1")
	engineB, cacheB, busB := newTestNode(t, net, "node-b:1")

	orchA := New(engineA, cacheA, busA, DefaultConfig())
	orchB := New(engineB, cacheB, busB, DefaultConfig())
	t.Cleanup(func() { busA.Shutdown(); busB.Shutdown() })

	require.NoError(t, orchA.Start(context.Background(), nil))
	t.Cleanup(orchA.Stop)

	seeds := []dht.SeedNode{{ID: engineA.SelfID(), Address: transport.LoopbackAddr("node-a:1")}}
	require.NoError(t, orchB.Start(context.Background(), seeds))
	t.Cleanup(orchB.Stop)

	require.GreaterOrEqual(t, orchB.RoutingTableSize(), 1)

	n, err := orchB.DiscoverPeers(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 0)
}

func TestAddDiscoveredPeerEmitsEventAndCaches(t *testing.T) {
	net := transport.NewLoopbackNetwork()
	engine, c, bus := newTestNode(t, net, "node-a:1")
	o := New(engine, c, bus, DefaultConfig())
	require.NoError(t, o.Start(context.Background(), nil))
	t.Cleanup(func() { o.Stop(); bus.Shutdown() })

	received := make(chan events.Event, 1)
	bus.RegisterTypedCallback(events.KindPeerDiscovered, func(ev events.Event) {
		received <- ev
	}, 0, false)

	p := peer.Peer{ID: "test-peer", Address: "10.0.0.1", Port: 4242}
	o.AddDiscoveredPeer(p)

	select {
	case ev := <-received:
		payload := ev.Payload.(events.PeerDiscoveredPayload)
		require.Equal(t, "test-peer", payload.Peer.ID)
	case <-time.After(time.Second):
		t.Fatal("PeerDiscovered was not emitted")
	}

	cached := o.CachedPeers()
	require.Len(t, cached, 1)
	require.Equal(t, "test-peer", cached[0].ID)
}

func TestMarkConnectedAndDisconnected(t *testing.T) {
	net := transport.NewLoopbackNetwork()
	engine, c, bus := newTestNode(t, net, "node-a:1")
	o := New(engine, c, bus, DefaultConfig())
	require.NoError(t, o.Start(context.Background(), nil))
	t.Cleanup(func() { o.Stop(); bus.Shutdown() })

	o.AddDiscoveredPeer(peer.Peer{ID: "p1"})
	o.MarkPeerConnected("p1")
	require.Equal(t, 1, o.ConnectionCount())

	o.MarkPeerDisconnected("p1")
	require.Equal(t, 0, o.ConnectionCount())
}

func TestRemovePeer(t *testing.T) {
	net := transport.NewLoopbackNetwork()
	engine, c, bus := newTestNode(t, net, "node-a:1")
	o := New(engine, c, bus, DefaultConfig())
	require.NoError(t, o.Start(context.Background(), nil))
	t.Cleanup(func() { o.Stop(); bus.Shutdown() })

	o.AddDiscoveredPeer(peer.Peer{ID: "p1"})
	o.RemovePeer("p1")
	require.Empty(t, o.CachedPeers())
}

func TestMergePeerListsKeepsNewerLastSeen(t *testing.T) {
	now := time.Now()
	older := peer.Peer{ID: "p1", LastSeen: now.Add(-time.Hour)}
	newer := peer.Peer{ID: "p1", LastSeen: now}
	other := peer.Peer{ID: "p2", LastSeen: now.Add(-time.Minute)}

	merged := MergePeerLists([]peer.Peer{older, other}, []peer.Peer{newer})

	require.Len(t, merged, 2)
	require.Equal(t, "p1", merged[0].ID) // most recent LastSeen first
	require.Equal(t, newer.LastSeen, merged[0].LastSeen)
}

func TestExpirySweepRemovesStalePeersButKeepsBootstrapAndConnected(t *testing.T) {
	net := transport.NewLoopbackNetwork()
	engine, c, bus := newTestNode(t, net, "node-a:1")
	cfg := DefaultConfig()
	cfg.PeerCacheExpiryTime = 10 * time.Millisecond
	o := New(engine, c, bus, cfg)
	require.NoError(t, o.Start(context.Background(), nil))
	t.Cleanup(func() { o.Stop(); bus.Shutdown() })

	o.AddDiscoveredPeer(peer.Peer{ID: "stale"})
	o.AddDiscoveredPeer(peer.Peer{ID: "kept-connected"})
	o.MarkPeerConnected("kept-connected")
	o.AddDiscoveredPeer(peer.Peer{ID: "kept-bootstrap"})
	require.True(t, c.MarkBootstrap("kept-bootstrap"))

	time.Sleep(20 * time.Millisecond)
	o.sweepExpiredPeers()

	ids := make(map[string]bool)
	for _, p := range o.CachedPeers() {
		ids[p.ID] = true
	}
	require.False(t, ids["stale"])
	require.True(t, ids["kept-connected"])
	require.True(t, ids["kept-bootstrap"])
}
