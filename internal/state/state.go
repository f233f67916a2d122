// Package state owns the proxy's shared, cross-cutting objects: the
// atomic config snapshot, the connection registry, the drain flag, and
// handles to the circuit-breaker manager, rate limiter, load balancer, and
// metrics collector that the TCP/UDP engines and control plane all share.
package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nivisproxy/l4proxy/internal/breaker"
	"github.com/nivisproxy/l4proxy/internal/config"
	"github.com/nivisproxy/l4proxy/internal/lb"
	"github.com/nivisproxy/l4proxy/internal/metrics"
	"github.com/nivisproxy/l4proxy/internal/ratelimit"
)

// admission bundles the two config-dependent objects that update_config
// replaces together, atomically, as one pointer swap — never mutated
// in place.
type admission struct {
	breakers *breaker.Manager
	limiter  *ratelimit.Limiter
}

// State is the shared proxy state every engine and control-plane handler
// reads from and writes to.
type State struct {
	cfg        atomic.Pointer[config.Config]
	adm        atomic.Pointer[admission]
	balancer   *lb.Balancer
	metrics    *metrics.Collector
	nextConnID atomic.Uint64

	mu       sync.Mutex
	registry map[uint64]uuid.UUID
	draining atomic.Bool

	configCh   chan struct{}
	configOnce sync.Once
}

// New creates an unconfigured state. Breakers and RateLimiter are usable
// only after the first UpdateConfig; WaitForConfig blocks until then.
func New() *State {
	return &State{
		balancer: lb.New(nil, config.RoundRobin),
		metrics:  metrics.NewCollector(),
		registry: make(map[uint64]uuid.UUID),
		configCh: make(chan struct{}),
	}
}

// Metrics returns the shared metrics collector.
func (s *State) Metrics() *metrics.Collector { return s.metrics }

// Balancer returns the shared load balancer.
func (s *State) Balancer() *lb.Balancer { return s.balancer }

// UpdateConfig atomically replaces the config snapshot and rebuilds the
// circuit-breaker manager, rate limiter, and load-balancer backend set
// from it. This is an intentional wipe: admission-control parameter
// changes reset breakers and buckets.
func (s *State) UpdateConfig(cfg *config.Config) {
	s.cfg.Store(cfg)

	limiter := ratelimit.New(float64(cfg.Traffic.RateLimit.Burst), cfg.Traffic.RateLimit.RPS)
	s.adm.Store(&admission{
		breakers: breaker.NewManager(breaker.Config{
			Threshold: cfg.CircuitBreaker.Threshold,
			Timeout:   time.Duration(cfg.CircuitBreaker.TimeoutSeconds * float64(time.Second)),
			OnTransition: func(_, to breaker.State) {
				switch to {
				case breaker.Open:
					s.metrics.BreakerOpened.Add(1)
				case breaker.HalfOpen:
					s.metrics.BreakerHalfOpened.Add(1)
				}
			},
		}),
		limiter: limiter,
	})

	s.balancer.UpdateBackends(cfg.Backends)
	s.balancer.SetAlgorithm(cfg.LoadBalancing.Algorithm)

	s.configOnce.Do(func() { close(s.configCh) })
}

// GetConfig returns the current config snapshot, or nil if none has
// arrived yet.
func (s *State) GetConfig() *config.Config { return s.cfg.Load() }

// IsConfigured reports whether UpdateConfig has been called at least once.
func (s *State) IsConfigured() bool { return s.cfg.Load() != nil }

// WaitForConfig blocks until the first config arrives.
func (s *State) WaitForConfig() { <-s.configCh }

// Breakers returns the current circuit-breaker manager.
func (s *State) Breakers() *breaker.Manager { return s.adm.Load().breakers }

// RateLimiter returns the current rate limiter.
func (s *State) RateLimiter() *ratelimit.Limiter { return s.adm.Load().limiter }

// RegisterConnection mints a monotonic ID and an opaque liveness token,
// and records both in the registry.
func (s *State) RegisterConnection() (uint64, uuid.UUID) {
	id := s.nextConnID.Add(1)
	token := uuid.New()
	s.mu.Lock()
	s.registry[id] = token
	s.mu.Unlock()
	return id, token
}

// UnregisterConnection drops id from the registry.
func (s *State) UnregisterConnection(id uint64) {
	s.mu.Lock()
	delete(s.registry, id)
	s.mu.Unlock()
}

// ActiveConnectionCount reports the registry's current size.
func (s *State) ActiveConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}

// IsDraining reports whether drain mode is active.
func (s *State) IsDraining() bool { return s.draining.Load() }

// DrainConnections sets the drain flag, then polls every 100ms until
// ActiveConnectionCount reaches zero. Callers that want an upper bound
// should wrap this call in their own context/timeout.
func (s *State) DrainConnections() {
	s.draining.Store(true)
	for s.ActiveConnectionCount() > 0 {
		time.Sleep(100 * time.Millisecond)
	}
}

// ResetDraining clears the drain flag.
func (s *State) ResetDraining() { s.draining.Store(false) }
