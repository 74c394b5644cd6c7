package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	msg := &Message{
		Op:           OpFindNode,
		RequestID:    42,
		SourceNodeID: "abc123",
		Nodes:        []NodeInfo{{NodeID: "dead", Address: "1.2.3.4", Port: 9}},
	}

	data, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg.RequestID, decoded.RequestID)
	assert.Equal(t, msg.Op, decoded.Op)
	assert.Equal(t, msg.Nodes, decoded.Nodes)
}

func TestLoopbackSendToUnknownPeerErrors(t *testing.T) {
	netw := NewLoopbackNetwork()
	a := netw.NewTransport("a:1")
	defer a.Close()

	err := a.Send(&Message{Op: OpPing}, LoopbackAddr("ghost:1"))
	assert.Error(t, err)
}

func TestNodeAddrRoundTripsHostPort(t *testing.T) {
	ni := NodeInfo{NodeID: "x", Address: "node-a", Port: 1}
	addr := NodeAddr(ni)
	assert.Equal(t, "node-a:1", addr.String())
}

func TestWireAddrAcceptedByLoopbackSend(t *testing.T) {
	netw := NewLoopbackNetwork()
	a := netw.NewTransport("a:1")
	b := netw.NewTransport("b:1")
	defer a.Close()
	defer b.Close()

	received := make(chan *Message, 1)
	b.RegisterHandler(func(msg *Message, addr net.Addr) error {
		received <- msg
		return nil
	})

	wireAddr := NodeAddr(NodeInfo{Address: "b", Port: 1})
	err := a.Send(&Message{Op: OpPing}, wireAddr)
	require.NoError(t, err)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}
}
