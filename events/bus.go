package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// historyCap is the bounded size of the event history ring; the oldest
// entry is discarded once it is exceeded.
const historyCap = 1000

// replayWindow bounds how many of the most recent matching history events
// a ReplayEvents call delivers.
const replayWindow = 100

// emitQueueSize bounds the channel Emit publishes to. The spec leaves the
// queue unbounded with an optional overflow policy; this bus chooses a
// bounded channel that drops nothing: when it is full, Emit blocks until
// the dispatcher makes room (or the bus shuts down), so a full queue
// signals real backpressure rather than silently growing memory without
// bound.
const emitQueueSize = 4096

// ErrShutdown is returned by Emit after Shutdown has been called.
var ErrShutdown = errors.New("events: bus is shut down")

// Filter decides whether a callback should receive a given event. A nil
// filter accepts everything.
type Filter func(Event) bool

// Callback receives one dispatched event.
type Callback func(Event)

type subscription struct {
	id       uint64
	fn       Callback
	priority int
	filter   Filter
	async    bool
}

// Stats is the bus's observable aggregate counters.
type Stats struct {
	EventsEmitted        uint64
	CallbacksExecuted    uint64
	AverageCallbackLatency time.Duration
	ActiveCallbackCount  int
	HistorySize          int
}

// Bus is the peer-lifecycle event bus described in §4.5: bounded history,
// priority-ordered dispatch, sync/async callbacks, and typed subscriptions.
//
//export PeerEventBus
type Bus struct {
	log *logrus.Entry

	subMu  sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64

	historyMu   sync.Mutex
	history     []Event
	nextEventID uint64

	emitCh chan Event

	lifecycle sync.Mutex
	running   bool
	shutdown  bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	eventsEmitted     uint64
	callbacksExecuted uint64
	latencyMu         sync.Mutex
	totalLatency      time.Duration
	latencySamples    uint64
}

// New constructs a Bus. Start must be called before Emit will deliver to
// callbacks: before Start, Emit records the event to history and returns
// it without error, but that event is never dispatched to callbacks.
func New() *Bus {
	return &Bus{
		subs: make(map[uint64]*subscription),
		log:  logrus.WithField("component", "events"),
	}
}

// Start launches the dispatch loop. Idempotent.
func (b *Bus) Start() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.running {
		return nil
	}
	if b.shutdown {
		return ErrShutdown
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.emitCh = make(chan Event, emitQueueSize)
	b.running = true

	b.wg.Add(1)
	go b.dispatchLoop()

	return nil
}

// Shutdown stops the dispatch loop, rejects further Emit calls, and lets
// any in-flight callback finish. Idempotent.
func (b *Bus) Shutdown() {
	b.lifecycle.Lock()
	if !b.running {
		b.shutdown = true
		b.lifecycle.Unlock()
		return
	}
	b.running = false
	b.shutdown = true
	b.cancel()
	b.lifecycle.Unlock()

	b.wg.Wait()
}

// Emit assigns the event an ID and timestamp, records it to history, and
// queues it for dispatch. It returns ErrShutdown once Shutdown has been
// called.
func (b *Bus) Emit(kind Kind, payload any) (Event, error) {
	b.lifecycle.Lock()
	if b.shutdown {
		b.lifecycle.Unlock()
		return Event{}, ErrShutdown
	}
	running := b.running
	b.lifecycle.Unlock()

	ev := Event{
		ID:        atomic.AddUint64(&b.nextEventID, 1),
		Timestamp: time.Now(),
		Kind:      kind,
		Payload:   payload,
	}

	b.appendHistory(ev)
	atomic.AddUint64(&b.eventsEmitted, 1)

	if !running {
		return ev, nil
	}

	select {
	case b.emitCh <- ev:
	case <-b.ctx.Done():
	}
	return ev, nil
}

func (b *Bus) appendHistory(ev Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	b.history = append(b.history, ev)
	if len(b.history) > historyCap {
		b.history = b.history[len(b.history)-historyCap:]
	}
}

// RegisterCallback subscribes fn to every event whose filter (if non-nil)
// accepts it. Higher priority callbacks run first within a dispatch round.
func (b *Bus) RegisterCallback(fn Callback, priority int, filter Filter, async bool) uint64 {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[id] = &subscription{id: id, fn: fn, priority: priority, filter: filter, async: async}
	return id
}

// RegisterTypedCallback subscribes fn to events of exactly one Kind.
func (b *Bus) RegisterTypedCallback(kind Kind, fn Callback, priority int, async bool) uint64 {
	return b.RegisterCallback(fn, priority, func(ev Event) bool { return ev.Kind == kind }, async)
}

// UnregisterCallback removes a subscription. Unregistering an unknown id
// is a no-op.
func (b *Bus) UnregisterCallback(id uint64) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	delete(b.subs, id)
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-b.emitCh:
			b.dispatch(ev)
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.subMu.RLock()
	ordered := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		ordered = append(ordered, s)
	}
	b.subMu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].priority > ordered[j].priority })

	for _, sub := range ordered {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		if sub.async {
			b.wg.Add(1)
			go func(sub *subscription) {
				defer b.wg.Done()
				b.invoke(sub, ev)
			}(sub)
		} else {
			b.invoke(sub, ev)
		}
	}
}

// invoke calls a single callback, isolating panics per §4.5: a failing
// callback is never unregistered, and its failure is surfaced as a
// LOW-severity DiscoveryError instead of propagating.
func (b *Bus) invoke(sub *subscription, ev Event) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("callback_id", sub.id).WithField("panic", r).Warn("event callback panicked")
			b.emitCallbackFailure(sub.id, fmt.Errorf("callback panic: %v", r))
		}
		atomic.AddUint64(&b.callbacksExecuted, 1)
		b.latencyMu.Lock()
		b.totalLatency += time.Since(start)
		b.latencySamples++
		b.latencyMu.Unlock()
	}()
	sub.fn(ev)
}

func (b *Bus) emitCallbackFailure(callbackID uint64, cause error) {
	_, _ = b.Emit(KindDiscoveryError, DiscoveryErrorPayload{
		Message:     fmt.Sprintf("callback %d failed", callbackID),
		Cause:       cause,
		Severity:    SeverityLow,
		Recoverable: true,
	})
}

// GetEventHistory returns up to limit historical events matching filter
// (nil accepts everything) emitted at or after since (zero time accepts
// everything), oldest first. limit <= 0 means unbounded.
func (b *Bus) GetEventHistory(filter Filter, since time.Time, limit int) []Event {
	b.historyMu.Lock()
	snapshot := make([]Event, len(b.history))
	copy(snapshot, b.history)
	b.historyMu.Unlock()

	var matched []Event
	for _, ev := range snapshot {
		if !since.IsZero() && ev.Timestamp.Before(since) {
			continue
		}
		if filter != nil && !filter(ev) {
			continue
		}
		matched = append(matched, ev)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched
}

// ReplayEvents delivers matching history events directly to the named
// callback, in original order, without re-entering the shared dispatch
// queue — a subscriber that registers late can catch up on the last
// replayWindow events this way before live dispatch resumes.
func (b *Bus) ReplayEvents(callbackID uint64, filter Filter, since time.Time) error {
	b.subMu.RLock()
	sub, ok := b.subs[callbackID]
	b.subMu.RUnlock()
	if !ok {
		return fmt.Errorf("events: no callback registered with id %d", callbackID)
	}

	history := b.GetEventHistory(filter, since, 0)
	if len(history) > replayWindow {
		history = history[len(history)-replayWindow:]
	}
	for _, ev := range history {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		b.invoke(sub, ev)
	}
	return nil
}

// ClearHistory discards all recorded history without affecting live
// dispatch or subscriptions.
func (b *Bus) ClearHistory() {
	b.historyMu.Lock()
	b.history = nil
	b.historyMu.Unlock()
}

// Statistics returns a snapshot of the bus's aggregate counters.
func (b *Bus) Statistics() Stats {
	b.subMu.RLock()
	activeCallbacks := len(b.subs)
	b.subMu.RUnlock()

	b.historyMu.Lock()
	historySize := len(b.history)
	b.historyMu.Unlock()

	b.latencyMu.Lock()
	var avg time.Duration
	if b.latencySamples > 0 {
		avg = b.totalLatency / time.Duration(b.latencySamples)
	}
	b.latencyMu.Unlock()

	return Stats{
		EventsEmitted:          atomic.LoadUint64(&b.eventsEmitted),
		CallbacksExecuted:      atomic.LoadUint64(&b.callbacksExecuted),
		AverageCallbackLatency: avg,
		ActiveCallbackCount:    activeCallbacks,
		HistorySize:            historySize,
	}
}
