// Package metrics collects proxy statistics: atomic counters, a bounded
// latency sample ring, and a per-backend counter map, with a Prometheus
// mirror for external scraping.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// maxLatencySamples bounds the latency ring; the oldest sample is dropped
// once the ring would exceed this size.
const maxLatencySamples = 1000

// BackendStats are the atomic per-backend counters.
type BackendStats struct {
	Connections   atomic.Uint64
	Requests      atomic.Uint64
	Failures      atomic.Uint64
	BytesSent     atomic.Uint64
	BytesReceived atomic.Uint64
}

// LatencyStats is the percentile summary returned by LatencyStats().
type LatencyStats struct {
	P50 float64
	P90 float64
	P99 float64
	Avg float64
}

// Collector is the proxy's thread-safe metrics bag.
type Collector struct {
	TCPConnectionsOpened atomic.Uint64
	TCPConnectionsClosed atomic.Uint64
	TCPConnectionsActive atomic.Int64
	UDPSessionsOpened    atomic.Uint64
	UDPSessionsClosed    atomic.Uint64
	UDPSessionsActive    atomic.Int64
	BytesSent            atomic.Uint64
	BytesReceived        atomic.Uint64
	PacketsSent          atomic.Uint64
	PacketsReceived      atomic.Uint64
	RateLimitAllowed     atomic.Uint64
	RateLimitDenied      atomic.Uint64
	BreakerOpened        atomic.Uint64
	BreakerHalfOpened    atomic.Uint64

	latMu   sync.Mutex
	latency []float64

	backendsMu sync.RWMutex
	backends   map[string]*BackendStats
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{backends: make(map[string]*BackendStats)}
}

// RecordLatency pushes a millisecond sample, dropping the oldest sample
// once the ring exceeds maxLatencySamples.
func (c *Collector) RecordLatency(ms float64) {
	c.latMu.Lock()
	defer c.latMu.Unlock()
	c.latency = append(c.latency, ms)
	if len(c.latency) > maxLatencySamples {
		c.latency = c.latency[len(c.latency)-maxLatencySamples:]
	}
}

// LatencyStats sorts a copy of the current ring and reports p50/p90/p99/avg.
// An empty ring reports all zeros.
func (c *Collector) LatencyStats() LatencyStats {
	c.latMu.Lock()
	samples := make([]float64, len(c.latency))
	copy(samples, c.latency)
	c.latMu.Unlock()

	if len(samples) == 0 {
		return LatencyStats{}
	}
	sort.Float64s(samples)

	percentile := func(p int) float64 {
		idx := len(samples) * p / 100
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		return samples[idx]
	}

	var sum float64
	for _, s := range samples {
		sum += s
	}

	return LatencyStats{
		P50: samples[len(samples)/2],
		P90: percentile(90),
		P99: percentile(99),
		Avg: sum / float64(len(samples)),
	}
}

// Backend returns (creating if absent) the counters for one backend
// address.
func (c *Collector) Backend(addr string) *BackendStats {
	c.backendsMu.RLock()
	s, ok := c.backends[addr]
	c.backendsMu.RUnlock()
	if ok {
		return s
	}

	c.backendsMu.Lock()
	defer c.backendsMu.Unlock()
	if s, ok := c.backends[addr]; ok {
		return s
	}
	s = &BackendStats{}
	c.backends[addr] = s
	return s
}

// BackendAddresses lists every backend currently tracked, for export.
func (c *Collector) BackendAddresses() []string {
	c.backendsMu.RLock()
	defer c.backendsMu.RUnlock()
	addrs := make([]string, 0, len(c.backends))
	for addr := range c.backends {
		addrs = append(addrs, addr)
	}
	return addrs
}
