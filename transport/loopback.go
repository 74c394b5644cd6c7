package transport

import (
	"fmt"
	"net"
	"sync"
)

// LoopbackAddr identifies a node within a LoopbackNetwork. It implements
// net.Addr so loopback transports are interchangeable with UDPTransport
// from the DHT engine's point of view. Use a "host:port" shaped value
// (e.g. "node-a:1") even though no real port is bound — node addresses
// are split into host/port for the wire format and rejoined on the other
// end, so a value net.SplitHostPort can parse round-trips cleanly.
type LoopbackAddr string

func (a LoopbackAddr) Network() string { return "loopback" }
func (a LoopbackAddr) String() string  { return string(a) }

// LoopbackNetwork is a shared in-process registry of LoopbackTransports. It
// exists so integration tests (and small demos) can mesh several DHT nodes
// together without opening real sockets, while still going through the
// Transport interface rather than re-entering a handler directly.
type LoopbackNetwork struct {
	mu    sync.RWMutex
	peers map[LoopbackAddr]*LoopbackTransport
}

// NewLoopbackNetwork creates an empty registry.
func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{peers: make(map[LoopbackAddr]*LoopbackTransport)}
}

// NewTransport registers and returns a new transport bound to addr within
// this network.
func (n *LoopbackNetwork) NewTransport(addr LoopbackAddr) *LoopbackTransport {
	t := &LoopbackTransport{
		addr:    addr,
		network: n,
		inbox:   make(chan inboundDatagram, 256),
		done:    make(chan struct{}),
	}
	n.mu.Lock()
	n.peers[addr] = t
	n.mu.Unlock()

	go t.deliverLoop()
	return t
}

func (n *LoopbackNetwork) lookup(addr LoopbackAddr) (*LoopbackTransport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.peers[addr]
	return t, ok
}

func (n *LoopbackNetwork) remove(addr LoopbackAddr) {
	n.mu.Lock()
	delete(n.peers, addr)
	n.mu.Unlock()
}

type inboundDatagram struct {
	data []byte
	from LoopbackAddr
}

// LoopbackTransport is a Transport implementation backed by Go channels
// rather than a socket. Delivery order across datagrams is not guaranteed
// (the deliver loop is a single goroutine draining a channel; Send blocks
// only while the recipient's 256-entry inbox is full), matching the
// unreliable/unordered contract real transports must also honor.
//
//export PeerLoopbackTransport
type LoopbackTransport struct {
	addr    LoopbackAddr
	network *LoopbackNetwork
	inbox   chan inboundDatagram
	mu      sync.RWMutex
	handler Handler
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// Send encodes msg and hands it to the recipient's inbox. If the recipient
// is unknown to this network, Send returns an error rather than silently
// dropping the datagram, so tests can distinguish "unreachable" from "lost".
func (t *LoopbackTransport) Send(msg *Message, addr net.Addr) error {
	t.closeMu.Lock()
	closed := t.closed
	t.closeMu.Unlock()
	if closed {
		return fmt.Errorf("loopback transport: %s is closed", t.addr)
	}

	// Accept any net.Addr whose string form names a registered peer, not
	// just the concrete LoopbackAddr type: a node address that arrived
	// over the wire (transport.NodeAddr) carries the same string identity
	// but not the LoopbackAddr type itself.
	dest := LoopbackAddr(addr.String())

	peer, ok := t.network.lookup(dest)
	if !ok {
		return fmt.Errorf("loopback transport: no peer registered at %s", dest)
	}

	data, err := Encode(msg)
	if err != nil {
		return err
	}

	select {
	case peer.inbox <- inboundDatagram{data: data, from: t.addr}:
		return nil
	case <-peer.done:
		return fmt.Errorf("loopback transport: peer %s is closed", dest)
	}
}

// RegisterHandler installs the inbound message handler.
func (t *LoopbackTransport) RegisterHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// LocalAddr returns this transport's address within its network.
func (t *LoopbackTransport) LocalAddr() net.Addr { return t.addr }

// Close unregisters the transport and stops its delivery loop.
func (t *LoopbackTransport) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.closeMu.Unlock()

	t.network.remove(t.addr)
	return nil
}

func (t *LoopbackTransport) deliverLoop() {
	for {
		select {
		case dg := <-t.inbox:
			msg, err := Decode(dg.data)
			if err != nil {
				continue
			}

			t.mu.RLock()
			h := t.handler
			t.mu.RUnlock()

			if h != nil {
				_ = h(msg, dg.from)
			}
		case <-t.done:
			return
		}
	}
}
