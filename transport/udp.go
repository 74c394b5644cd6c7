package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// maxDatagramSize bounds a single inbound read. Messages larger than this
// are truncated by the kernel before they reach us; callers that need
// larger payloads should chunk at a higher layer.
const maxDatagramSize = 8192

// UDPTransport is the reference connectionless Transport implementation.
// It is suitable for most DHT traffic: low latency, no connection setup,
// and a natural fit for the unreliable/unordered delivery model the DHT
// engine already assumes.
//
//export PeerUDPTransport
type UDPTransport struct {
	conn    *net.UDPConn
	handler Handler
	mu      sync.RWMutex
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// NewUDPTransport opens a UDP socket on addr (e.g. ":33445") and starts the
// background read loop that feeds inbound messages to the registered
// handler.
func NewUDPTransport(addr string) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp address %q: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %q: %w", addr, err)
	}

	t := &UDPTransport{conn: conn}
	t.wg.Add(1)
	go t.readLoop()

	return t, nil
}

// Send encodes msg and writes it to addr.
func (t *UDPTransport) Send(msg *Message, addr net.Addr) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return fmt.Errorf("resolve destination %q: %w", addr.String(), err)
		}
		udpAddr = resolved
	}

	if _, err := t.conn.WriteToUDP(data, udpAddr); err != nil {
		return fmt.Errorf("send to %s: %w", addr.String(), err)
	}
	return nil
}

// RegisterHandler installs the inbound message handler.
func (t *UDPTransport) RegisterHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// LocalAddr returns the UDP address this transport is bound to.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close shuts down the socket and waits for the read loop to exit.
func (t *UDPTransport) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeMu.Unlock()

	err := t.conn.Close()
	t.wg.Wait()
	return err
}

func (t *UDPTransport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.closeMu.Lock()
			closed := t.closed
			t.closeMu.Unlock()
			if closed {
				return
			}
			logrus.WithError(err).Warn("udp transport: read failed")
			continue
		}

		msg, err := Decode(buf[:n])
		if err != nil {
			logrus.WithError(err).WithField("remote", addr.String()).Debug("udp transport: dropping malformed datagram")
			continue
		}

		t.mu.RLock()
		h := t.handler
		t.mu.RUnlock()

		if h == nil {
			continue
		}

		if err := h(msg, addr); err != nil {
			logrus.WithError(err).WithField("remote", addr.String()).Debug("udp transport: handler returned error")
		}
	}
}
