package events

import (
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/peercore/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStartedBus(t *testing.T) *Bus {
	t.Helper()
	b := New()
	require.NoError(t, b.Start())
	t.Cleanup(b.Shutdown)
	return b
}

func TestEmitDeliversInOrderToSingleSubscriber(t *testing.T) {
	b := newStartedBus(t)

	var mu sync.Mutex
	var seen []uint64
	done := make(chan struct{})

	b.RegisterCallback(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.ID)
		mu.Unlock()
		if len(seen) == 5 {
			close(done)
		}
	}, 0, nil, false)

	for i := 0; i < 5; i++ {
		_, err := b.Emit(KindPeerDiscovered, PeerDiscoveredPayload{Peer: peer.Peer{ID: "p"}})
		require.NoError(t, err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("did not receive all events")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1], seen[i])
	}
}

func TestHigherPriorityCallbacksRunFirst(t *testing.T) {
	b := newStartedBus(t)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	b.RegisterCallback(func(ev Event) {
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
		close(done)
	}, 0, nil, false)
	b.RegisterCallback(func(ev Event) {
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
	}, 10, nil, false)

	_, err := b.Emit(KindDiscoveryStarted, DiscoveryStartedPayload{})
	require.NoError(t, err)

	<-done
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"high", "low"}, order)
}

func TestTypedCallbackOnlyReceivesItsKind(t *testing.T) {
	b := newStartedBus(t)

	var count int
	var mu sync.Mutex
	done := make(chan struct{})

	b.RegisterTypedCallback(KindPeerLost, func(ev Event) {
		mu.Lock()
		count++
		mu.Unlock()
		close(done)
	}, 0, false)

	_, _ = b.Emit(KindPeerDiscovered, PeerDiscoveredPayload{})
	_, _ = b.Emit(KindPeerLost, PeerLostPayload{PeerID: "x"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("typed callback never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestCallbackPanicDoesNotUnregisterAndEmitsDiscoveryError(t *testing.T) {
	b := newStartedBus(t)

	errCh := make(chan Event, 1)
	b.RegisterTypedCallback(KindDiscoveryError, func(ev Event) { errCh <- ev }, 0, false)

	calls := 0
	id := b.RegisterCallback(func(ev Event) {
		calls++
		panic("boom")
	}, 0, func(ev Event) bool { return ev.Kind == KindPeerDiscovered }, false)

	_, err := b.Emit(KindPeerDiscovered, PeerDiscoveredPayload{})
	require.NoError(t, err)

	select {
	case ev := <-errCh:
		payload, ok := ev.Payload.(DiscoveryErrorPayload)
		require.True(t, ok)
		assert.Equal(t, SeverityLow, payload.Severity)
	case <-time.After(time.Second):
		t.Fatal("panic did not surface as DiscoveryError")
	}

	b.subMu.RLock()
	_, stillRegistered := b.subs[id]
	b.subMu.RUnlock()
	assert.True(t, stillRegistered)
}

func TestReplayDeliversHistoryInOrder(t *testing.T) {
	b := newStartedBus(t)

	for i := 0; i < 10; i++ {
		_, err := b.Emit(KindPeerDiscovered, PeerDiscoveredPayload{Peer: peer.Peer{ID: "p"}})
		require.NoError(t, err)
	}
	time.Sleep(50 * time.Millisecond) // let dispatch drain so replay sees stable history

	var mu sync.Mutex
	var replayed []uint64
	id := b.RegisterCallback(func(ev Event) {
		mu.Lock()
		replayed = append(replayed, ev.ID)
		mu.Unlock()
	}, 0, nil, false)

	require.NoError(t, b.ReplayEvents(id, nil, time.Time{}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, replayed, 10)
	for i := 1; i < len(replayed); i++ {
		assert.Less(t, replayed[i-1], replayed[i])
	}
}

func TestEmitAfterShutdownIsRejected(t *testing.T) {
	b := New()
	require.NoError(t, b.Start())
	b.Shutdown()

	_, err := b.Emit(KindDiscoveryStopped, DiscoveryStoppedPayload{})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestShutdownIdempotent(t *testing.T) {
	b := New()
	require.NoError(t, b.Start())
	b.Shutdown()
	b.Shutdown() // no panic, no error
}

func TestHistoryCapEnforced(t *testing.T) {
	b := newStartedBus(t)

	for i := 0; i < historyCap+10; i++ {
		_, err := b.Emit(KindDiscoveryStarted, DiscoveryStartedPayload{})
		require.NoError(t, err)
	}

	history := b.GetEventHistory(nil, time.Time{}, 0)
	assert.LessOrEqual(t, len(history), historyCap)
}
