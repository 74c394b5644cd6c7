package dht

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/peercore/nodeid"
	"github.com/opd-ai/peercore/transport"
	"github.com/sirupsen/logrus"
)

// ErrCancelled is returned to callers (and to in-flight waiters) when the
// engine is stopped while a request is outstanding.
var ErrCancelled = errors.New("dht: engine stopped")

// ErrTimeout is returned when an outbound request exceeds PingTimeout.
var ErrTimeout = errors.New("dht: request timed out")

// LookupResult is the outcome of a find_node or find_value lookup.
type LookupResult struct {
	Nodes []*Node
	Value []byte
	Found bool
}

// pendingRequest is the one-shot waiter for a single outstanding request.
// complete is safe to call more than once; only the first call has effect.
type pendingRequest struct {
	once sync.Once
	ch   chan *transport.Message
	sent time.Time
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{ch: make(chan *transport.Message, 1)}
}

func (p *pendingRequest) complete(msg *transport.Message) {
	p.once.Do(func() {
		p.ch <- msg
		close(p.ch)
	})
}

// Engine is the Kademlia DHT core: routing table, local key/value store,
// iterative lookups, and the maintenance loops that keep both healthy.
//
//export PeerDHTEngine
type Engine struct {
	id        nodeid.ID
	transport transport.Transport
	routing   *RoutingTable
	store     *dataStore
	config    Config
	tp        TimeProvider
	stats     statsTracker
	log       *logrus.Entry

	pendingMu sync.Mutex
	pending   map[uint64]*pendingRequest
	nextReqID uint64

	lifecycle sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New constructs an Engine. If cfg.NodeID is the zero value, a random ID is
// generated. New never fails on a bad config; Start does, per §7
// (ConfigInvalid is synchronous and prevents start, but construction itself
// is not a point of failure the caller must handle).
func New(tr transport.Transport, cfg Config) *Engine {
	id := cfg.NodeID
	if id.IsZero() {
		generated, err := nodeid.Random()
		if err != nil {
			// crypto/rand failing is not recoverable; a zero ID would
			// silently collide with every other un-configured node.
			panic(fmt.Sprintf("dht: generate node id: %v", err))
		}
		id = generated
	}

	return &Engine{
		id:        id,
		transport: tr,
		routing:   NewRoutingTable(id, cfg.BucketSize),
		store:     newDataStore(),
		config:    cfg,
		tp:        systemTimeProvider{},
		pending:   make(map[uint64]*pendingRequest),
		log:       logrus.WithField("component", "dht"),
	}
}

// SelfID returns the engine's own node identifier.
func (e *Engine) SelfID() nodeid.ID { return e.id }

// Start registers the transport handler and launches the maintenance
// loops. Start is idempotent and returns a ConfigError without side
// effects if the engine's configuration is invalid.
func (e *Engine) Start() error {
	if err := e.config.Validate(); err != nil {
		return err
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.running {
		return nil
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.transport.RegisterHandler(e.HandleMessage)
	e.running = true

	e.wg.Add(3)
	go e.refreshLoop()
	go e.republishLoop()
	go e.timeoutSweepLoop()

	e.log.WithField("node_id", e.id.String()).Info("dht engine started")
	return nil
}

// Stop cancels the maintenance loops and fails every outstanding request
// waiter with ErrCancelled. Stop is idempotent.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	if !e.running {
		e.lifecycle.Unlock()
		return
	}
	e.running = false
	e.cancel()
	e.lifecycle.Unlock()

	e.wg.Wait()

	e.pendingMu.Lock()
	for id, p := range e.pending {
		p.complete(nil)
		delete(e.pending, id)
	}
	e.pendingMu.Unlock()

	e.log.Info("dht engine stopped")
}

// AddNode inserts node into the routing table.
func (e *Engine) AddNode(node *Node) bool {
	return e.routing.Add(node)
}

// RemoveNode deletes a node from the routing table.
func (e *Engine) RemoveNode(id nodeid.ID) bool {
	return e.routing.Remove(id)
}

// ClosestNodes returns up to count nodes closest to key.
func (e *Engine) ClosestNodes(key nodeid.ID, count int) []*Node {
	return e.routing.Closest(key, count)
}

// RoutingTableSize returns the total number of known nodes.
func (e *Engine) RoutingTableSize() int {
	return e.routing.Size()
}

// DiscoveredNodes returns every node currently in the routing table.
func (e *Engine) DiscoveredNodes() []*Node {
	return e.routing.All()
}

// Statistics returns a snapshot of the engine's aggregate counters.
func (e *Engine) Statistics() Stats {
	sent, timedOut, handled, avg := e.stats.snapshot()
	return Stats{
		RoutingTableSize: e.routing.Size(),
		StoredValues:     e.store.size(),
		RequestsSent:     sent,
		RequestsTimedOut: timedOut,
		ResponsesHandled: handled,
		AverageLatency:   avg,
	}
}

// Ping sends a one-shot PING to node and reports whether it responded
// before PingTimeout. On success the node's last-seen time is refreshed.
func (e *Engine) Ping(ctx context.Context, node *Node) bool {
	msg := &transport.Message{Op: transport.OpPing, SourceNodeID: e.id.String()}

	_, err := e.request(ctx, node, msg)
	if err != nil {
		return false
	}

	node.Touch(e.tp, true)
	e.routing.UpdateLastSeen(node)
	return true
}

// Store writes (key, value) to the local store and attempts to replicate
// it to the BucketSize closest known nodes. The value is held locally
// regardless of whether any remote acknowledges the replication, so Store
// always reports true once the local write succeeds.
func (e *Engine) Store(ctx context.Context, key string, value []byte) bool {
	e.store.put(key, value, e.tp.Now())

	target, err := nodeid.FromHex(hashKey(key))
	if err != nil {
		return true
	}

	for _, node := range e.routing.Closest(target, e.config.BucketSize) {
		msg := &transport.Message{
			Op:           transport.OpStore,
			SourceNodeID: e.id.String(),
			TargetNodeID: target.String(),
			Key:          key,
			Value:        value,
		}
		if _, err := e.request(ctx, node, msg); err != nil {
			e.log.WithError(err).WithField("peer", node.ID.String()).Debug("store replication failed")
		}
	}

	return true
}

// FindValue performs a local lookup first; on a miss it runs an iterative
// lookup that terminates early as soon as any queried node returns a
// value.
func (e *Engine) FindValue(ctx context.Context, key string) (LookupResult, error) {
	if value, ok := e.store.get(key); ok {
		return LookupResult{Value: value, Found: true}, nil
	}

	target, err := nodeid.FromHex(hashKey(key))
	if err != nil {
		return LookupResult{}, fmt.Errorf("derive lookup target: %w", err)
	}

	return e.iterativeLookup(ctx, target, key, true)
}

// FindNode runs an iterative lookup that never short-circuits on a value,
// returning up to BucketSize nodes closest to target.
func (e *Engine) FindNode(ctx context.Context, target nodeid.ID) (LookupResult, error) {
	return e.iterativeLookup(ctx, target, "", false)
}

// request sends msg to node, waits for its correlated response (or ctx
// cancellation, or PingTimeout), and returns the response message.
func (e *Engine) request(ctx context.Context, node *Node, msg *transport.Message) (*transport.Message, error) {
	reqID := atomic.AddUint64(&e.nextReqID, 1)
	msg.RequestID = reqID

	waiter := newPendingRequest()
	waiter.sent = e.tp.Now()
	e.pendingMu.Lock()
	e.pending[reqID] = waiter
	e.pendingMu.Unlock()

	defer func() {
		e.pendingMu.Lock()
		delete(e.pending, reqID)
		e.pendingMu.Unlock()
	}()

	if err := e.transport.Send(msg, node.Address); err != nil {
		waiter.complete(nil)
		return nil, fmt.Errorf("send %s to %s: %w", msg.Op, node.Address, err)
	}
	e.stats.recordSent()

	timer := time.NewTimer(e.config.PingTimeout)
	defer timer.Stop()

	select {
	case resp := <-waiter.ch:
		if resp == nil {
			return nil, ErrCancelled
		}
		e.stats.recordResponse(e.tp.Since(waiter.sent))
		return resp, nil
	case <-timer.C:
		e.stats.recordTimeout()
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.doneChan():
		return nil, ErrCancelled
	}
}

// doneChan returns the engine's shutdown signal, or a nil channel (which
// blocks forever in a select) if the engine was never started — Ping,
// Store, and the lookups reach request() even on an Engine that was never
// started.
func (e *Engine) doneChan() <-chan struct{} {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.ctx == nil {
		return nil
	}
	return e.ctx.Done()
}
