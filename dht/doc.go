// Package dht implements a Kademlia-style distributed hash table: k-bucket
// routing, iterative alpha-parallel lookups, value replication, and the
// periodic maintenance that keeps a routing table healthy.
//
// The engine never opens a socket itself. It depends on a caller-supplied
// transport.Transport and drives all network traffic through it, which
// keeps the DHT testable against an in-memory transport.LoopbackNetwork and
// reusable against any real one.
//
// Example:
//
//	cfg := dht.DefaultConfig()
//	engine := dht.New(tr, cfg)
//	if err := engine.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//	engine.Bootstrap(context.Background(), seeds)
package dht
