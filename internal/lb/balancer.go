// Package lb implements backend selection: round robin, weighted round
// robin, least connections, and consistent hash, all sharing one healthy
// subset view and per-backend connection counters.
package lb

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/nivisproxy/l4proxy/internal/config"
)

// entry pairs a configured backend with its live connection counter.
type entry struct {
	backend config.Backend
	active  atomic.Int64
}

// Balancer selects a backend under a configurable algorithm, sharing one
// healthy-subset view and per-backend connection counters across calls.
type Balancer struct {
	mu        sync.RWMutex
	entries   []*entry
	algorithm config.Algorithm
	counter   atomic.Uint64
}

// New builds a balancer over backends, selecting under algorithm.
func New(backends []config.Backend, algorithm config.Algorithm) *Balancer {
	b := &Balancer{algorithm: algorithm}
	b.UpdateBackends(backends)
	return b
}

// UpdateBackends replaces the backend set; every connection counter resets
// to zero.
func (b *Balancer) UpdateBackends(backends []config.Backend) {
	entries := make([]*entry, len(backends))
	for i, bk := range backends {
		entries[i] = &entry{backend: bk}
	}
	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()
}

// SetAlgorithm switches the selection strategy used by subsequent Select
// calls.
func (b *Balancer) SetAlgorithm(algorithm config.Algorithm) {
	b.mu.Lock()
	b.algorithm = algorithm
	b.mu.Unlock()
}

// healthySnapshot returns the current healthy subset, preserving configured
// order (required for least_connections' stable tie-break).
func (b *Balancer) healthySnapshot() []*entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	healthy := make([]*entry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.backend.Healthy {
			healthy = append(healthy, e)
		}
	}
	return healthy
}

// Select picks a backend per the configured algorithm. context is the
// consistent-hash key; it is ignored by every other algorithm. Returns
// (Backend{}, false) when no backend is healthy.
func (b *Balancer) Select(context string) (config.Backend, bool) {
	healthy := b.healthySnapshot()
	if len(healthy) == 0 {
		return config.Backend{}, false
	}

	b.mu.RLock()
	algorithm := b.algorithm
	b.mu.RUnlock()

	switch algorithm {
	case config.WeightedRoundRobin:
		return b.selectWeightedRoundRobin(healthy)
	case config.LeastConnections:
		return b.selectLeastConnections(healthy), true
	case config.ConsistentHash:
		if context == "" {
			return b.selectRoundRobin(healthy), true
		}
		return b.selectConsistentHash(healthy, context), true
	default: // RoundRobin and any unrecognized tag fall back to round robin
		return b.selectRoundRobin(healthy), true
	}
}

func (b *Balancer) selectRoundRobin(healthy []*entry) config.Backend {
	idx := int(b.counter.Add(1)-1) % len(healthy)
	return healthy[idx].backend
}

func (b *Balancer) selectLeastConnections(healthy []*entry) config.Backend {
	best := healthy[0]
	for _, e := range healthy[1:] {
		if e.active.Load() < best.active.Load() {
			best = e
		}
	}
	return best.backend
}

func (b *Balancer) selectWeightedRoundRobin(healthy []*entry) (config.Backend, bool) {
	sum := 0
	for _, e := range healthy {
		sum += e.backend.Weight
	}
	if sum == 0 {
		return b.selectRoundRobin(healthy), true
	}
	k := int(b.counter.Add(1)-1) % sum
	cumulative := 0
	for _, e := range healthy {
		cumulative += e.backend.Weight
		if k < cumulative {
			return e.backend, true
		}
	}
	// Unreachable given k < sum, but keep a safe fallback.
	return healthy[len(healthy)-1].backend, true
}

func (b *Balancer) selectConsistentHash(healthy []*entry, context string) config.Backend {
	h := xxhash.Sum64String(context)
	idx := int(h % uint64(len(healthy)))
	return healthy[idx].backend
}

// IncrementConnections bumps addr's live connection counter; silently
// tolerates an address no longer present in the backend set.
func (b *Balancer) IncrementConnections(addr string) {
	if e := b.find(addr); e != nil {
		e.active.Add(1)
	}
}

// DecrementConnections lowers addr's live connection counter; silently
// tolerates an address no longer present in the backend set.
func (b *Balancer) DecrementConnections(addr string) {
	if e := b.find(addr); e != nil {
		e.active.Add(-1)
	}
}

// ActiveConnections reports addr's current connection counter, or 0 if
// addr is not tracked.
func (b *Balancer) ActiveConnections(addr string) int64 {
	if e := b.find(addr); e != nil {
		return e.active.Load()
	}
	return 0
}

func (b *Balancer) find(addr string) *entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, e := range b.entries {
		if e.backend.Address == addr {
			return e
		}
	}
	return nil
}
