package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opd-ai/peercore/peer"
	"github.com/sirupsen/logrus"
)

// defaultReputation is the neutral starting reputation assigned to a peer
// on its first put; record_connection_attempt and update_reputation move
// it from there.
const defaultReputation = 0.5

// latencyRingSize bounds the retrieval-latency sample ring per §4.4.
const latencyRingSize = 100

// Stats is the PeerCache's observable aggregate counters.
type Stats struct {
	HotSize          int
	ColdSize         int
	Hits             uint64
	Misses           uint64
	HitRate          float64
	EvictionCount    uint64
	AvgRetrievalTime time.Duration
	ByPriority       map[peer.Priority]int
}

// Cache is the two-tier PeerCache described in §4.4: a bounded hot tier
// backed by an LRU container, a larger cold tier backed by an embedded
// key/value store, a pluggable eviction policy deciding what moves between
// them, and periodic reputation decay.
//
//export PeerCache
type Cache struct {
	cfg Config
	tp  TimeProvider
	log *logrus.Entry

	mu   sync.Mutex
	hot  *lru.Cache[string, *peer.CachedPeer]
	cold *coldStore

	hits          uint64
	misses        uint64
	evictionCount uint64
	latencies     [latencyRingSize]time.Duration
	latencyCount  int
	latencyNext   int

	lifecycle sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New constructs a Cache. If cfg.PersistenceEnabled, the cold tier is
// backed by a bbolt file at cfg.DiskPath (or an ephemeral temp file when
// DiskPath is empty); otherwise the cold tier still exists (bbolt needs a
// file to back its mmap) but is removed on Stop.
func New(cfg Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hot, err := lru.New[string, *peer.CachedPeer](cfg.MaxMemoryCacheSize)
	if err != nil {
		return nil, err
	}

	path := cfg.DiskPath
	if !cfg.PersistenceEnabled {
		path = ""
	}
	cold, err := openColdStore(path, cfg.CompressionEnabled)
	if err != nil {
		return nil, err
	}

	return &Cache{
		cfg:  cfg,
		tp:   systemTimeProvider{},
		log:  logrus.WithField("component", "cache"),
		hot:  hot,
		cold: cold,
	}, nil
}

// Start launches the background cleanup and reputation-decay loops.
// Idempotent.
func (c *Cache) Start() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.running {
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.running = true

	c.wg.Add(2)
	go c.cleanupLoop()
	go c.decayLoop()

	return nil
}

// Stop cancels the background loops and closes the cold store. Idempotent.
func (c *Cache) Stop() {
	c.lifecycle.Lock()
	wasRunning := c.running
	if wasRunning {
		c.running = false
		c.cancel()
	}
	c.lifecycle.Unlock()

	if wasRunning {
		c.wg.Wait()
	}

	c.mu.Lock()
	_ = c.cold.close()
	c.mu.Unlock()
}

func (c *Cache) cleanupLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *Cache) decayLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.decayReputations()
		}
	}
}

func (c *Cache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.tp.Now()
	for _, id := range c.hot.Keys() {
		entry, ok := c.hot.Peek(id)
		if ok && entry.Expired(now) {
			c.hot.Remove(id)
			c.log.WithField("peer_id", id).Debug("expired hot cache entry")
		}
	}

	cold, err := c.cold.all()
	if err != nil {
		c.log.WithError(err).Warn("cache cleanup sweep failed to list cold tier")
		return
	}
	for id, entry := range cold {
		if entry.Expired(now) {
			if err := c.cold.remove(id); err != nil {
				c.log.WithError(err).WithField("peer_id", id).Warn("failed to remove expired cold entry")
			}
		}
	}
}

func (c *Cache) decayReputations() {
	c.mu.Lock()
	defer c.mu.Unlock()

	factor := 1 - c.cfg.ReputationDecayRate
	for _, id := range c.hot.Keys() {
		entry, ok := c.hot.Peek(id)
		if !ok {
			continue
		}
		entry.Reputation = peer.ClampReputation(entry.Reputation * factor)
		c.hot.Add(id, entry)
	}

	cold, err := c.cold.all()
	if err != nil {
		c.log.WithError(err).Warn("reputation decay failed to list cold tier")
		return
	}
	for id, entry := range cold {
		entry.Reputation = peer.ClampReputation(entry.Reputation * factor)
		if err := c.cold.put(id, entry); err != nil {
			c.log.WithError(err).WithField("peer_id", id).Warn("failed to persist decayed reputation")
		}
	}
}

func (c *Cache) ttlFor(priority peer.Priority, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if priority == peer.PriorityHigh || priority == peer.PriorityCritical {
		return c.cfg.HighPriorityTTL
	}
	return c.cfg.DefaultTTL
}

// Put inserts or updates a peer per §4.4: on update it retains CachedAt,
// refreshes LastAccessed, increments AccessCount, preserves
// reputation/bootstrap/history, and merges any supplied tags and metadata
// into the existing ones.
func (c *Cache) Put(p peer.Peer, priority peer.Priority, ttl time.Duration, tags map[string]struct{}, metadata map[string]string) *peer.CachedPeer {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.tp.Now()

	if existing, ok := c.hot.Get(p.ID); ok {
		existing.Peer = p
		existing.LastAccessed = now
		existing.AccessCount++
		mergeTags(existing, tags)
		mergeMetadata(existing, metadata)
		c.hot.Add(p.ID, existing)
		return existing
	}

	if existing, found, _ := c.cold.get(p.ID); found {
		existing.Peer = p
		existing.LastAccessed = now
		existing.AccessCount++
		mergeTags(existing, tags)
		mergeMetadata(existing, metadata)
		_ = c.cold.remove(p.ID)
		c.promoteIntoHot(p.ID, existing)
		return existing
	}

	entry := &peer.CachedPeer{
		Peer:         p,
		CachedAt:     now,
		LastAccessed: now,
		AccessCount:  1,
		TTL:          c.ttlFor(priority, ttl),
		Priority:     priority,
		Reputation:   defaultReputation,
		Tags:         tags,
		Metadata:     metadata,
	}
	c.promoteIntoHot(p.ID, entry)
	return entry
}

// promoteIntoHot makes room in the hot tier if necessary and inserts id.
// Caller holds c.mu.
func (c *Cache) promoteIntoHot(id string, entry *peer.CachedPeer) {
	c.ensureHotCapacity(id)
	c.hot.Add(id, entry)
}

// ensureHotCapacity evicts worst-ranked non-CRITICAL entries, moving them
// to the cold tier while it has room, until the hot tier has space for one
// more distinct key. Caller holds c.mu.
func (c *Cache) ensureHotCapacity(incomingID string) {
	if _, alreadyPresent := c.hot.Peek(incomingID); alreadyPresent {
		return
	}
	for c.hot.Len() >= c.cfg.MaxMemoryCacheSize {
		candidates := make(map[string]*peer.CachedPeer, c.hot.Len())
		for _, id := range c.hot.Keys() {
			if entry, ok := c.hot.Peek(id); ok {
				candidates[id] = entry
			}
		}

		victim := pickVictim(c.cfg.EvictionPolicy, candidates, c.tp.Now())
		if victim == "" {
			// Every resident entry is CRITICAL. Tolerating the over-capacity
			// condition isn't enough on its own: the underlying lru.Cache is
			// itself sized at MaxMemoryCacheSize and would silently evict its
			// own oldest entry on the next Add. Grow its capacity by one so
			// that Add cannot discard a CRITICAL peer out from under us.
			c.hot.Resize(c.hot.Len() + 1)
			return
		}

		evicted, _ := c.hot.Peek(victim)
		c.hot.Remove(victim)
		c.evictionCount++

		if c.roomInCold() && evicted != nil {
			if err := c.cold.put(victim, evicted); err != nil {
				c.log.WithError(err).WithField("peer_id", victim).Warn("failed to demote evicted entry to cold tier")
			}
		}
	}
}

func (c *Cache) roomInCold() bool {
	if c.cfg.MaxDiskCacheSize <= 0 {
		return true
	}
	n, err := c.cold.size()
	if err != nil {
		return false
	}
	return n < c.cfg.MaxDiskCacheSize
}

func mergeTags(entry *peer.CachedPeer, tags map[string]struct{}) {
	if len(tags) == 0 {
		return
	}
	if entry.Tags == nil {
		entry.Tags = make(map[string]struct{}, len(tags))
	}
	for t := range tags {
		entry.Tags[t] = struct{}{}
	}
}

func mergeMetadata(entry *peer.CachedPeer, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	if entry.Metadata == nil {
		entry.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		entry.Metadata[k] = v
	}
}

// Get retrieves a peer, trying the hot tier first and promoting a cold hit.
// Expired entries are removed and treated as misses.
func (c *Cache) Get(id string) (*peer.CachedPeer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.tp.Now()
	defer func() { c.recordLatency(c.tp.Now().Sub(start)) }()

	if entry, ok := c.hot.Get(id); ok {
		if entry.Expired(start) {
			c.hot.Remove(id)
			c.misses++
			return nil, false
		}
		entry.LastAccessed = start
		entry.AccessCount++
		c.hot.Add(id, entry)
		c.hits++
		return entry, true
	}

	entry, found, err := c.cold.get(id)
	if err != nil {
		c.log.WithError(err).WithField("peer_id", id).Warn("cold tier read failed")
	}
	if !found {
		c.misses++
		return nil, false
	}
	if entry.Expired(start) {
		_ = c.cold.remove(id)
		c.misses++
		return nil, false
	}

	entry.LastAccessed = start
	entry.AccessCount++
	_ = c.cold.remove(id)
	c.promoteIntoHot(id, entry)
	c.hits++
	return entry, true
}

func (c *Cache) recordLatency(d time.Duration) {
	c.latencies[c.latencyNext] = d
	c.latencyNext = (c.latencyNext + 1) % latencyRingSize
	if c.latencyCount < latencyRingSize {
		c.latencyCount++
	}
}

// mutate locates id in either tier and applies fn, writing the result back
// to whichever tier it came from. Reports whether id was found.
func (c *Cache) mutate(id string, fn func(*peer.CachedPeer)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.hot.Get(id); ok {
		fn(entry)
		c.hot.Add(id, entry)
		return true
	}
	entry, found, _ := c.cold.get(id)
	if !found {
		return false
	}
	fn(entry)
	_ = c.cold.put(id, entry)
	return true
}

// UpdateReputation adjusts a peer's reputation by delta, clamped to [0,1].
func (c *Cache) UpdateReputation(id string, delta float64) bool {
	return c.mutate(id, func(entry *peer.CachedPeer) {
		entry.Reputation = peer.ClampReputation(entry.Reputation + delta)
	})
}

// RecordConnectionAttempt appends to the peer's connection history (FIFO,
// capped at connection_history_size) and nudges reputation by +0.1 on
// success or -0.1 on failure, clamped.
func (c *Cache) RecordConnectionAttempt(id string, success bool, latency time.Duration, errMsg, method string) bool {
	historyCap := c.cfg.ConnectionHistorySize
	return c.mutate(id, func(entry *peer.CachedPeer) {
		attempt := peer.ConnectionAttempt{
			Timestamp: c.tp.Now(),
			Success:   success,
			Latency:   latency,
			Err:       errMsg,
			Method:    method,
		}
		entry.ConnectionHistory = append(entry.ConnectionHistory, attempt)
		if len(entry.ConnectionHistory) > historyCap {
			entry.ConnectionHistory = entry.ConnectionHistory[len(entry.ConnectionHistory)-historyCap:]
		}
		delta := -0.1
		if success {
			delta = 0.1
		}
		entry.Reputation = peer.ClampReputation(entry.Reputation + delta)
	})
}

// UpdateNetworkDistance sets the peer's recorded network distance.
func (c *Cache) UpdateNetworkDistance(id string, distance uint64) bool {
	return c.mutate(id, func(entry *peer.CachedPeer) {
		entry.NetworkDistance = distance
	})
}

// SetConnected updates a cached peer's connected flag, as used by the
// discovery orchestrator's mark_peer_connected/mark_peer_disconnected.
func (c *Cache) SetConnected(id string, connected bool) bool {
	return c.mutate(id, func(entry *peer.CachedPeer) {
		entry.Peer.Connected = connected
	})
}

// AllPeers returns every resident entry across both tiers.
func (c *Cache) AllPeers() []*peer.CachedPeer {
	return c.snapshot()
}

// snapshot returns every resident entry across both tiers. Caller holds no
// lock; snapshot acquires it itself.
func (c *Cache) snapshot() []*peer.CachedPeer {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*peer.CachedPeer, 0, c.hot.Len())
	for _, id := range c.hot.Keys() {
		if entry, ok := c.hot.Peek(id); ok {
			out = append(out, entry)
		}
	}
	cold, err := c.cold.all()
	if err != nil {
		c.log.WithError(err).Warn("snapshot failed to list cold tier")
		return out
	}
	for _, entry := range cold {
		out = append(out, entry)
	}
	return out
}

// GetByPriority returns every cached peer at the given priority.
func (c *Cache) GetByPriority(priority peer.Priority) []*peer.CachedPeer {
	var out []*peer.CachedPeer
	for _, entry := range c.snapshot() {
		if entry.Priority == priority {
			out = append(out, entry)
		}
	}
	return out
}

// GetByTags returns every cached peer carrying at least one of the given
// tags.
func (c *Cache) GetByTags(tags ...string) []*peer.CachedPeer {
	var out []*peer.CachedPeer
	for _, entry := range c.snapshot() {
		for _, t := range tags {
			if _, ok := entry.Tags[t]; ok {
				out = append(out, entry)
				break
			}
		}
	}
	return out
}

// BootstrapPeers returns every cached peer flagged as a bootstrap seed.
func (c *Cache) BootstrapPeers() []*peer.CachedPeer {
	var out []*peer.CachedPeer
	for _, entry := range c.snapshot() {
		if entry.Bootstrap {
			out = append(out, entry)
		}
	}
	return out
}

// GetByReputation returns up to limit cached peers, highest reputation
// first. limit <= 0 means unbounded.
func (c *Cache) GetByReputation(limit int) []*peer.CachedPeer {
	all := c.snapshot()
	sort.Slice(all, func(i, j int) bool { return all[i].Reputation > all[j].Reputation })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// WarmCache bulk-inserts peers at HIGH priority, per §4.4's warm_cache.
func (c *Cache) WarmCache(peers []peer.Peer) {
	for _, p := range peers {
		c.Put(p, peer.PriorityHigh, 0, nil, nil)
	}
}

// MarkBootstrap flags an already-cached peer as a bootstrap seed, exempting
// it from cache-expiry-sweep removal regardless of priority.
func (c *Cache) MarkBootstrap(id string) bool {
	return c.mutate(id, func(entry *peer.CachedPeer) {
		entry.Bootstrap = true
	})
}

// Remove deletes a peer from both tiers. Reports whether it was present.
func (c *Cache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, inHot := c.hot.Peek(id)
	if inHot {
		c.hot.Remove(id)
	}
	_, inCold, _ := c.cold.get(id)
	if inCold {
		_ = c.cold.remove(id)
	}
	return inHot || inCold
}

// Clear empties both tiers and resets counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hot.Purge()
	_ = c.cold.clear()
	c.hits, c.misses, c.evictionCount = 0, 0, 0
	c.latencyCount, c.latencyNext = 0, 0
}

// CachedPeers returns a snapshot of the hot tier only, per §4.4's
// cached_peers observable.
func (c *Cache) CachedPeers() []*peer.CachedPeer {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*peer.CachedPeer, 0, c.hot.Len())
	for _, id := range c.hot.Keys() {
		if entry, ok := c.hot.Peek(id); ok {
			out = append(out, entry)
		}
	}
	return out
}

// Statistics returns a snapshot of the cache's aggregate counters.
func (c *Cache) Statistics() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	coldSize, _ := c.cold.size()

	var total time.Duration
	for i := 0; i < c.latencyCount; i++ {
		total += c.latencies[i]
	}
	var avg time.Duration
	if c.latencyCount > 0 {
		avg = total / time.Duration(c.latencyCount)
	}

	var hitRate float64
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	byPriority := make(map[peer.Priority]int)
	for _, id := range c.hot.Keys() {
		if entry, ok := c.hot.Peek(id); ok {
			byPriority[entry.Priority]++
		}
	}

	return Stats{
		HotSize:          c.hot.Len(),
		ColdSize:         coldSize,
		Hits:             c.hits,
		Misses:           c.misses,
		HitRate:          hitRate,
		EvictionCount:    c.evictionCount,
		AvgRetrievalTime: avg,
		ByPriority:       byPriority,
	}
}
