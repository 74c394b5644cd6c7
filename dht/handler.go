package dht

import (
	"net"

	"github.com/opd-ai/peercore/nodeid"
	"github.com/opd-ai/peercore/transport"
	"github.com/sirupsen/logrus"
)

// HandleMessage is the engine's single transport.Handler. Every inbound
// message — request or response — first touches the sender's routing table
// entry, then is dispatched by Op. Responses are routed to their waiter by
// RequestID; requests get a reply sent back through the same transport.
func (e *Engine) HandleMessage(msg *transport.Message, addr net.Addr) error {
	senderID, err := nodeid.FromHex(msg.SourceNodeID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "dht",
			"remote":    addr.String(),
		}).Debug("dropping message with malformed source node id")
		return nil
	}

	if !senderID.Equal(e.id) {
		e.routing.UpdateLastSeen(NewNode(senderID, addr, e.tp))
	}

	if msg.IsResponse {
		e.completeResponse(msg)
		return nil
	}

	return e.dispatchRequest(msg, addr, senderID)
}

// completeResponse hands a response message to its pending waiter, if one
// is still outstanding. A response with no matching waiter (already timed
// out, or a duplicate) is silently dropped.
func (e *Engine) completeResponse(msg *transport.Message) {
	e.pendingMu.Lock()
	waiter, ok := e.pending[msg.RequestID]
	e.pendingMu.Unlock()

	if !ok {
		return
	}
	// the response and its latency are recorded by the waiting request() call
	waiter.complete(msg)
}

// dispatchRequest answers a single inbound PING/FIND_NODE/FIND_VALUE/STORE,
// always replying on the same transport it arrived on.
func (e *Engine) dispatchRequest(msg *transport.Message, addr net.Addr, senderID nodeid.ID) error {
	resp := &transport.Message{
		Op:           msg.Op,
		RequestID:    msg.RequestID,
		SourceNodeID: e.id.String(),
		IsResponse:   true,
	}

	switch msg.Op {
	case transport.OpPing:
		// no extra fields; presence of the response is the pong.

	case transport.OpFindNode:
		target, err := nodeid.FromHex(msg.TargetNodeID)
		if err != nil {
			return e.transport.Send(resp, addr)
		}
		resp.Nodes = e.nodesToWire(e.routing.Closest(target, e.config.BucketSize))

	case transport.OpFindValue:
		if value, ok := e.store.get(msg.Key); ok {
			resp.Found = true
			resp.Value = value
			break
		}
		target, err := nodeid.FromHex(msg.TargetNodeID)
		if err != nil {
			return e.transport.Send(resp, addr)
		}
		resp.Nodes = e.nodesToWire(e.routing.Closest(target, e.config.BucketSize))

	case transport.OpStore:
		e.store.put(msg.Key, msg.Value, e.tp.Now())

	default:
		logrus.WithField("op", msg.Op).Debug("dht: ignoring unknown op")
		return nil
	}

	return e.transport.Send(resp, addr)
}

// nodesToWire converts routing-table nodes into the wire-level NodeInfo
// list carried in a FIND_NODE/FIND_VALUE response.
func (e *Engine) nodesToWire(nodes []*Node) []transport.NodeInfo {
	out := make([]transport.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		host, port := n.IPPort()
		out = append(out, transport.NodeInfo{
			NodeID:  n.ID.String(),
			Address: host,
			Port:    port,
		})
	}
	return out
}
