// Package endpoint resolves which dedicated GBXRemote server host a fresh
// connection attempt should dial, and picks one candidate out of a fleet.
//
// A GBXRemote client still drives exactly one TCP connection at a time (see
// the transport package) — this package only decides *which* address that
// one connection targets when the caller uses Client.ConnectViaFleet with a
// fleet of known servers instead of Connect with a literal host:port.
package endpoint

import "fmt"

// Instance describes one dedicated-server control endpoint.
type Instance struct {
	Addr    string // "host:port" for the GBXRemote control port
	Weight  int    // relative traffic share for WeightedRandomBalancer
	Version string // server build, informational only
}

// Resolver discovers the currently live instances for a fleet name.
// Implementations include EtcdResolver (production) and any static/mock
// implementation tests supply.
type Resolver interface {
	// Register adds an instance to the fleet with a TTL lease. The entry is
	// removed automatically if KeepAlive stops (e.g. the dedicated server
	// process crashes without deregistering).
	Register(fleet string, instance Instance, ttlSeconds int64) error

	// Deregister removes an instance from the fleet.
	Deregister(fleet string, addr string) error

	// Discover returns the currently known instances for a fleet.
	Discover(fleet string) ([]Instance, error)

	// Watch returns a channel that emits an updated instance list whenever
	// the fleet's membership changes.
	Watch(fleet string) <-chan []Instance
}

// Balancer picks one instance out of a candidate list for the next connect
// or reconnect attempt.
type Balancer interface {
	Pick(instances []Instance) (*Instance, error)
	Name() string
}

var errNoInstances = fmt.Errorf("endpoint: no instances available")
