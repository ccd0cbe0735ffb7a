package endpoint

import (
	"fmt"
	"hash/crc32"
	"math/rand"
	"sort"
	"sync/atomic"
)

// RoundRobinBalancer distributes connect attempts evenly across all known
// instances using a lock-free atomic counter.
//
// Best for: a fleet of interchangeable dedicated servers.
type RoundRobinBalancer struct {
	counter int64
}

func (b *RoundRobinBalancer) Pick(instances []Instance) (*Instance, error) {
	if len(instances) == 0 {
		return nil, errNoInstances
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobinBalancer) Name() string { return "RoundRobin" }

// WeightedRandomBalancer selects an instance probabilistically based on its
// Weight field — an instance with weight 10 gets roughly 2x the traffic of
// one with weight 5.
//
// Algorithm: sum all weights, draw r in [0, total), subtract weights until
// r goes negative; the instance that makes it negative is selected.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []Instance) (*Instance, error) {
	if len(instances) == 0 {
		return nil, errNoInstances
	}

	total := 0
	for _, inst := range instances {
		total += inst.Weight
	}
	if total <= 0 {
		return &instances[rand.Intn(len(instances))], nil
	}

	r := rand.Intn(total)
	for i := range instances {
		r -= instances[i].Weight
		if r < 0 {
			return &instances[i], nil
		}
	}
	return nil, fmt.Errorf("endpoint: unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string { return "WeightedRandom" }

// ConsistentHashBalancer maps a caller-supplied affinity key to one instance
// on a hash ring, so the same key (e.g. a map/session identifier) keeps
// dialing the same dedicated server across reconnects.
//
// Each instance gets 100 virtual nodes on the ring for a statistically even
// spread.
type ConsistentHashBalancer struct {
	replicas int
	ring     []uint32
	nodes    map[uint32]*Instance
}

// NewConsistentHashBalancer creates an empty hash ring.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*Instance),
	}
}

// Add places an instance onto the ring with its virtual nodes.
func (b *ConsistentHashBalancer) Add(instance *Instance) {
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", instance.Addr, i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// PickForKey finds the instance responsible for the given affinity key.
// ConsistentHashBalancer does not implement Balancer directly since its
// selection is keyed rather than list-based; callers that want ring affinity
// call PickForKey instead of going through the generic Balancer interface.
func (b *ConsistentHashBalancer) PickForKey(key string) (*Instance, error) {
	if len(b.ring) == 0 {
		return nil, errNoInstances
	}
	hash := crc32.ChecksumIEEE([]byte(key))

	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string { return "ConsistentHash" }
