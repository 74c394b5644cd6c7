package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPTransportSendAndReceive(t *testing.T) {
	a, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	b, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	received := make(chan *Message, 1)
	b.RegisterHandler(func(msg *Message, addr net.Addr) error {
		received <- msg
		return nil
	})

	err = a.Send(&Message{Op: OpPing, RequestID: 7}, b.LocalAddr())
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, uint64(7), msg.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestUDPTransportCloseStopsDelivery(t *testing.T) {
	a, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close()) // idempotent

	err = a.Send(&Message{Op: OpPing}, a.LocalAddr())
	assert.Error(t, err)
}
