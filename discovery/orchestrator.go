package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/peercore/cache"
	"github.com/opd-ai/peercore/dht"
	"github.com/opd-ai/peercore/events"
	"github.com/opd-ai/peercore/nodeid"
	"github.com/opd-ai/peercore/peer"
	"github.com/sirupsen/logrus"
)

// Orchestrator is the DiscoveryOrchestrator described in §4.3: it drives a
// dht.Engine to find peers, records them in a cache.Cache, and publishes
// their lifecycle as events.Bus events.
//
//export PeerDiscoveryOrchestrator
type Orchestrator struct {
	cfg    Config
	engine *dht.Engine
	cache  *cache.Cache
	bus    *events.Bus
	log    *logrus.Entry

	statusMu sync.RWMutex
	status   NetworkStatus

	bootstrapMu    sync.Mutex
	bootstrapSeeds []dht.SeedNode
	bootstrapTries int

	lifecycle sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New constructs an Orchestrator over an already-constructed engine, cache,
// and event bus. Start brings up the bus and engine; Stop stops only the
// engine. The cache's own background loops are started and stopped by its
// owner, not by the Orchestrator.
func New(engine *dht.Engine, c *cache.Cache, bus *events.Bus, cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		engine: engine,
		cache:  c,
		bus:    bus,
		log:    logrus.WithField("component", "discovery"),
		status: StatusStopped,
	}
}

// Status returns the orchestrator's current NetworkStatus.
func (o *Orchestrator) Status() NetworkStatus {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	return o.status
}

func (o *Orchestrator) setStatus(s NetworkStatus) {
	o.statusMu.Lock()
	o.status = s
	o.statusMu.Unlock()
}

// Start brings up the bus and engine (idempotently), bootstraps
// from seeds, and launches the periodic discovery, bootstrap-retry, and
// cache-expiry-sweep loops. Idempotent.
func (o *Orchestrator) Start(ctx context.Context, seeds []dht.SeedNode) error {
	if err := o.cfg.Validate(); err != nil {
		o.setStatus(StatusError)
		return err
	}

	o.lifecycle.Lock()
	if o.running {
		o.lifecycle.Unlock()
		return nil
	}
	o.lifecycle.Unlock()

	o.setStatus(StatusStarting)

	if err := o.bus.Start(); err != nil {
		o.setStatus(StatusError)
		return err
	}
	if err := o.engine.Start(); err != nil {
		o.setStatus(StatusError)
		return err
	}

	o.bootstrapMu.Lock()
	o.bootstrapSeeds = seeds
	o.bootstrapMu.Unlock()

	o.seedBootstrapPeers(seeds)
	if err := o.engine.Bootstrap(ctx, seeds); err != nil {
		o.emitError("bootstrap failed", err, events.SeverityMedium, true)
	}

	o.lifecycle.Lock()
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.running = true
	o.lifecycle.Unlock()

	if o.cfg.EnablePeriodicDiscovery {
		o.wg.Add(1)
		go o.discoveryLoop()
	}
	if o.cfg.EnableBootstrapRetry {
		o.wg.Add(1)
		go o.bootstrapRetryLoop()
	}
	o.wg.Add(1)
	go o.expirySweepLoop()

	o.setStatus(StatusRunning)
	_, _ = o.bus.Emit(events.KindDiscoveryStarted, events.DiscoveryStartedPayload{})

	return nil
}

// Stop cancels the background loops and stops the engine. The cache and
// bus are left running, since callers may share them with other
// components; call their own Stop/Shutdown separately if exclusive.
// Idempotent.
func (o *Orchestrator) Stop() {
	o.lifecycle.Lock()
	if !o.running {
		o.lifecycle.Unlock()
		return
	}
	o.running = false
	o.cancel()
	o.lifecycle.Unlock()

	o.setStatus(StatusStopping)
	o.wg.Wait()

	o.engine.Stop()

	_, _ = o.bus.Emit(events.KindDiscoveryStopped, events.DiscoveryStoppedPayload{})
	o.setStatus(StatusStopped)
}

func (o *Orchestrator) seedBootstrapPeers(seeds []dht.SeedNode) {
	for _, seed := range seeds {
		p := peer.FromNodeID(seed.ID, seed.Address.String(), 0)
		o.cache.Put(p, peer.PriorityHigh, 0, nil, nil)
		o.cache.MarkBootstrap(p.ID)
	}
}

func (o *Orchestrator) emitError(message string, cause error, severity events.Severity, recoverable bool) {
	_, _ = o.bus.Emit(events.KindDiscoveryError, events.DiscoveryErrorPayload{
		Message:     message,
		Cause:       cause,
		Severity:    severity,
		Recoverable: recoverable,
	})
}

// DiscoverPeers runs one discovery round immediately: a random lookup
// target is chosen, find_node is issued, and every returned node is
// recorded via AddDiscoveredPeer, up to max_peers_to_discover.
func (o *Orchestrator) DiscoverPeers(ctx context.Context) (int, error) {
	target, err := nodeid.Random()
	if err != nil {
		return 0, err
	}

	result, err := o.engine.FindNode(ctx, target)
	if err != nil {
		o.emitError("discovery round failed", err, events.SeverityLow, true)
		return 0, err
	}

	added := 0
	for _, node := range result.Nodes {
		if added >= o.cfg.MaxPeersToDiscover {
			break
		}
		host, port := node.IPPort()
		o.AddDiscoveredPeer(peer.FromNodeID(node.ID, host, port))
		added++
	}
	return added, nil
}

// AddDiscoveredPeer records a newly discovered peer in the cache and
// publishes a PeerDiscovered event.
func (o *Orchestrator) AddDiscoveredPeer(p peer.Peer) {
	p.LastSeen = time.Now()
	o.cache.Put(p, peer.PriorityNormal, 0, nil, nil)
	_, _ = o.bus.Emit(events.KindPeerDiscovered, events.PeerDiscoveredPayload{Peer: p})
}

// MarkPeerConnected flags a cached peer as connected and publishes
// PeerConnected.
func (o *Orchestrator) MarkPeerConnected(peerID string) {
	if o.cache.SetConnected(peerID, true) {
		_, _ = o.bus.Emit(events.KindPeerConnected, events.PeerConnectedPayload{PeerID: peerID})
	}
}

// MarkPeerDisconnected flags a cached peer as disconnected and publishes
// PeerDisconnected.
func (o *Orchestrator) MarkPeerDisconnected(peerID string) {
	if o.cache.SetConnected(peerID, false) {
		_, _ = o.bus.Emit(events.KindPeerDisconnected, events.PeerDisconnectedPayload{PeerID: peerID})
	}
}

// RemovePeer deletes a peer from the cache and the DHT routing table.
func (o *Orchestrator) RemovePeer(peerID string) {
	o.cache.Remove(peerID)
	if id, err := nodeid.FromPeerID(peerID); err == nil {
		o.engine.RemoveNode(id)
	}
}

// CachedPeers returns the hot-tier cache snapshot as application-facing
// Peer values.
func (o *Orchestrator) CachedPeers() []peer.Peer {
	entries := o.cache.CachedPeers()
	out := make([]peer.Peer, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Peer)
	}
	return out
}

// ConnectedPeers returns every cached peer currently flagged as connected.
func (o *Orchestrator) ConnectedPeers() []peer.Peer {
	var out []peer.Peer
	for _, e := range o.cache.AllPeers() {
		if e.Peer.Connected {
			out = append(out, e.Peer)
		}
	}
	return out
}

// ConnectionCount reports how many cached peers are currently connected.
func (o *Orchestrator) ConnectionCount() int {
	return len(o.ConnectedPeers())
}

// RoutingTableSize mirrors the underlying engine's routing table size.
func (o *Orchestrator) RoutingTableSize() int {
	return o.engine.RoutingTableSize()
}

// DiscoveredNodes mirrors the underlying engine's known-nodes set.
func (o *Orchestrator) DiscoveredNodes() []*dht.Node {
	return o.engine.DiscoveredNodes()
}

// MergePeerLists merges two peer lists by peer_id, keeping whichever
// entry has the greater LastSeen, and returns the result sorted
// descending by LastSeen for presentation, per §4.3's merge rule.
func MergePeerLists(a, b []peer.Peer) []peer.Peer {
	byID := make(map[string]peer.Peer, len(a)+len(b))
	for _, p := range a {
		byID[p.ID] = p
	}
	for _, p := range b {
		existing, ok := byID[p.ID]
		if !ok || p.LastSeen.After(existing.LastSeen) {
			byID[p.ID] = p
		}
	}

	merged := make([]peer.Peer, 0, len(byID))
	for _, p := range byID {
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].LastSeen.After(merged[j].LastSeen) })
	return merged
}

func (o *Orchestrator) discoveryLoop() {
	defer o.wg.Done()

	delay := o.cfg.DiscoveryInterval
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-timer.C:
			if _, err := o.DiscoverPeers(o.ctx); err != nil {
				delay *= 2
			} else {
				delay = o.cfg.DiscoveryInterval
			}
			timer.Reset(delay)
		}
	}
}

func (o *Orchestrator) bootstrapRetryLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.BootstrapRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.maybeRetryBootstrap()
		}
	}
}

func (o *Orchestrator) maybeRetryBootstrap() {
	if o.engine.RoutingTableSize() >= o.cfg.minViablePeersOrDefault() {
		return
	}

	o.bootstrapMu.Lock()
	if o.bootstrapTries >= o.cfg.MaxBootstrapRetries {
		o.bootstrapMu.Unlock()
		return
	}
	o.bootstrapTries++
	seeds := o.bootstrapSeeds
	o.bootstrapMu.Unlock()

	if len(seeds) == 0 {
		return
	}
	if err := o.engine.Bootstrap(o.ctx, seeds); err != nil {
		o.emitError("bootstrap retry failed", err, events.SeverityMedium, true)
	}
}

func (o *Orchestrator) expirySweepLoop() {
	defer o.wg.Done()

	interval := o.cfg.PeerCacheExpiryTime / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.sweepExpiredPeers()
		}
	}
}

func (o *Orchestrator) sweepExpiredPeers() {
	now := time.Now()
	for _, entry := range o.cache.AllPeers() {
		if entry.Bootstrap || entry.Peer.Connected {
			continue
		}
		if now.Sub(entry.LastAccessed) <= o.cfg.PeerCacheExpiryTime {
			continue
		}

		o.cache.Remove(entry.Peer.ID)
		if id, err := nodeid.FromPeerID(entry.Peer.ID); err == nil {
			o.engine.RemoveNode(id)
		}
		_, _ = o.bus.Emit(events.KindPeerLost, events.PeerLostPayload{PeerID: entry.Peer.ID})
	}
}

func (c Config) minViablePeersOrDefault() int {
	if c.minViablePeers <= 0 {
		return 5
	}
	return c.minViablePeers
}
