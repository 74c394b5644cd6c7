package transport

import "net"

// WireAddr is a net.Addr reconstructed from a NodeInfo's wire-level
// host/port fields. It lets the DHT engine turn a FIND_NODE/FIND_VALUE
// response's Nodes list back into addresses it can Send to, without the
// engine depending on any one Transport's concrete address type.
type WireAddr struct {
	Addr string
}

// NodeAddr renders ni's address and port as a single "host:port" WireAddr.
func NodeAddr(ni NodeInfo) *WireAddr {
	return &WireAddr{Addr: net.JoinHostPort(ni.Address, portString(ni.Port))}
}

func (w *WireAddr) Network() string { return "wire" }
func (w *WireAddr) String() string  { return w.Addr }

func portString(port uint16) string {
	if port == 0 {
		return "0"
	}
	digits := [5]byte{}
	i := len(digits)
	for port > 0 {
		i--
		digits[i] = byte('0' + port%10)
		port /= 10
	}
	return string(digits[i:])
}
