package udpproxy

import (
	"net"
	"sync"
	"time"
)

// clientKey identifies a client endpoint in both tables.
type clientKey string

func keyFor(addr *net.UDPAddr) clientKey { return clientKey(addr.String()) }

// session is one NAT mapping between a client endpoint and the backend
// chosen for it. backendAddr is immutable for the session's lifetime.
type session struct {
	backendAddrString string
	backendAddr       *net.UDPAddr
	clientAddr        *net.UDPAddr

	mu              sync.Mutex
	lastActivity    time.Time
	bytesSent       uint64
	bytesReceived   uint64
	packetsSent     uint64
	packetsReceived uint64
}

func (s *session) idleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

func (s *session) recordToBackend(n int) {
	s.mu.Lock()
	s.bytesSent += uint64(n)
	s.packetsSent++
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *session) recordToClient(n int) {
	s.mu.Lock()
	s.bytesReceived += uint64(n)
	s.packetsReceived++
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// sessionTable is the forward (client→session) and reverse
// (backend socket→client key) NAT tables, kept consistent under one lock.
//
// Invariant: for every forward entry there is exactly one reverse entry
// pointing to it; removal deletes forward, then reverse, under the same
// write lock, so readers never see one without the other. The engine
// consults the reverse table before the forward one.
type sessionTable struct {
	mu      sync.RWMutex
	forward map[clientKey]*session
	reverse map[string]clientKey // backend socket addr string -> client key
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		forward: make(map[clientKey]*session),
		reverse: make(map[string]clientKey),
	}
}

// lookupByClient returns the session for a known client endpoint, if any.
func (t *sessionTable) lookupByClient(key clientKey) (*session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.forward[key]
	return s, ok
}

// lookupByBackend reports whether backendAddr is a known NAT'd backend
// socket, and if so returns the owning client's session.
func (t *sessionTable) lookupByBackend(backendAddr string) (*session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key, ok := t.reverse[backendAddr]
	if !ok {
		return nil, false
	}
	s, ok := t.forward[key]
	return s, ok
}

// insert idempotently adds (or overwrites) the forward and reverse entries
// for a new session.
func (t *sessionTable) insert(key clientKey, s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.forward[key] = s
	t.reverse[s.backendAddrString] = key
}

// removeIdle removes every session idle longer than timeout, forward
// entry first, then its reverse entry, and returns how many were removed.
func (t *sessionTable) removeIdle(timeout time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, s := range t.forward {
		if s.idleSince() >= timeout {
			delete(t.forward, key)
			delete(t.reverse, s.backendAddrString)
			removed++
		}
	}
	return removed
}

// size reports the number of live forward sessions.
func (t *sessionTable) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.forward)
}
