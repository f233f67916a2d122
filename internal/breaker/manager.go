package breaker

import "sync"

// Manager owns one Breaker per backend address, created lazily.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewManager creates a manager that will parameterize every lazily-created
// breaker with cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg.normalized(), breakers: make(map[string]*Breaker)}
}

// AllowRequest creates the breaker for addr if absent, then defers to it.
func (m *Manager) AllowRequest(addr string) bool {
	return m.getOrCreate(addr).AllowRequest()
}

// RecordFailure creates the breaker for addr if absent, then defers to it.
func (m *Manager) RecordFailure(addr string) {
	m.getOrCreate(addr).RecordFailure()
}

// RecordSuccess is a no-op if no breaker exists yet for addr.
func (m *Manager) RecordSuccess(addr string) {
	m.mu.RLock()
	b, ok := m.breakers[addr]
	m.mu.RUnlock()
	if ok {
		b.RecordSuccess()
	}
}

// State reports the state of addr's breaker, or Closed if none exists yet.
func (m *Manager) State(addr string) State {
	m.mu.RLock()
	b, ok := m.breakers[addr]
	m.mu.RUnlock()
	if !ok {
		return Closed
	}
	return b.State()
}

// Reset forces addr's breaker back to Closed; a no-op if none exists.
func (m *Manager) Reset(addr string) {
	m.mu.RLock()
	b, ok := m.breakers[addr]
	m.mu.RUnlock()
	if ok {
		b.Reset()
	}
}

// ResetAll forces every tracked breaker back to Closed.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.breakers {
		b.Reset()
	}
}

func (m *Manager) getOrCreate(addr string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[addr]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[addr]; ok {
		return b
	}
	b = New(m.cfg)
	m.breakers[addr] = b
	return b
}
