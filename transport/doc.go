// Package transport defines the network boundary the DHT engine sends and
// receives messages across.
//
// The DHT core never opens a socket itself. It depends on a caller-supplied
// Transport that can deliver a Message to a remote address and hand inbound
// messages back to a single registered handler. Delivery is assumed to be
// unreliable and unordered, and duplicate delivery is possible; every
// operation built on top of Transport is written to tolerate both.
//
// No wire format is mandated. Encode and Decode provide a small self-describing JSON
// encoding good enough for the reference Loopback and UDP transports, but
// any encoding that round-trips a Message's RequestID is conformant.
//
// Example:
//
//	tr, err := transport.NewUDPTransport(":33445")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tr.RegisterHandler(func(msg *transport.Message, addr net.Addr) error {
//	    return engine.HandleMessage(msg, addr)
//	})
package transport
