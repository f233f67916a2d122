// Package udpproxy implements the UDP NAT/session engine: a single bound
// socket, stateful address translation keyed by client endpoint, and a
// periodic reaper that expires idle sessions.
package udpproxy

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nivisproxy/l4proxy/internal/state"
)

// maxDatagramSize bounds one recv_from read.
const maxDatagramSize = 65536

// sessionTimeout is how long a session may sit idle before the reaper
// removes it.
const sessionTimeout = 60 * time.Second

// reapInterval is how often the reaper sweeps the session table.
const reapInterval = 10 * time.Second

// Engine runs the UDP receive loop, NAT translation, and reaper against a
// shared proxy State.
type Engine struct {
	state   *state.State
	log     *zap.Logger
	table   *sessionTable
	conn    atomic.Pointer[net.UDPConn]
	stopped chan struct{}
}

// New creates a UDP engine.
func New(st *state.State, log *zap.Logger) *Engine {
	return &Engine{
		state:   st,
		log:     log,
		table:   newSessionTable(),
		stopped: make(chan struct{}),
	}
}

// Serve binds the UDP socket and runs the receive loop and reaper until
// the drain flag is observed, or conn is closed. Serving on an empty
// address (UDP disabled) returns nil immediately without binding anything.
func (e *Engine) Serve(addr string) error {
	if addr == "" {
		return nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	e.conn.Store(conn)
	defer conn.Close()

	go e.reapLoop()
	defer close(e.stopped)

	buf := make([]byte, maxDatagramSize)
	for {
		if e.state.IsDraining() {
			return nil
		}

		n, peerAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if e.state.IsDraining() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			e.log.Warn("udp read error", zap.Error(err))
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		go e.handlePacket(packet, peerAddr)
	}
}

// Close closes the bound UDP socket, unblocking a pending ReadFromUDP in
// Serve so it can observe the drain flag and return. A no-op if Serve has
// not bound a socket yet.
func (e *Engine) Close() error {
	conn := e.conn.Load()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (e *Engine) handlePacket(packet []byte, peerAddr *net.UDPAddr) {
	conn := e.conn.Load()
	peerKey := peerAddr.String()

	if sess, ok := e.table.lookupByBackend(peerKey); ok {
		sess.recordToClient(len(packet))
		e.state.Metrics().PacketsSent.Add(1)
		e.state.Metrics().BytesSent.Add(uint64(len(packet)))
		if _, err := conn.WriteToUDP(packet, sess.clientAddr); err != nil {
			e.log.Warn("udp send to client failed", zap.Error(err))
		}
		return
	}

	sess, err := e.getOrCreateSession(peerAddr)
	if err != nil {
		e.log.Warn("udp session creation failed", zap.Error(err))
		return
	}

	sess.recordToBackend(len(packet))
	e.state.Metrics().PacketsReceived.Add(1)
	e.state.Metrics().BytesReceived.Add(uint64(len(packet)))
	if _, err := conn.WriteToUDP(packet, sess.backendAddr); err != nil {
		e.log.Warn("udp send to backend failed", zap.Error(err))
	}
}

func (e *Engine) getOrCreateSession(clientAddr *net.UDPAddr) (*session, error) {
	key := keyFor(clientAddr)
	if sess, ok := e.table.lookupByClient(key); ok {
		return sess, nil
	}

	backend, ok := e.state.Balancer().Select(clientAddr.IP.String())
	if !ok {
		return nil, errNoHealthyBackend
	}

	backendAddr, err := net.ResolveUDPAddr("udp", backend.Address)
	if err != nil {
		return nil, err
	}

	sess := &session{
		backendAddrString: backendAddr.String(),
		backendAddr:       backendAddr,
		clientAddr:        clientAddr,
		lastActivity:      time.Now(),
	}
	e.table.insert(key, sess)
	e.state.Metrics().UDPSessionsOpened.Add(1)
	e.state.Metrics().UDPSessionsActive.Add(1)
	return sess, nil
}

func (e *Engine) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := e.table.removeIdle(sessionTimeout)
			if removed > 0 {
				e.state.Metrics().UDPSessionsClosed.Add(uint64(removed))
				e.state.Metrics().UDPSessionsActive.Add(-int64(removed))
			}
		case <-e.stopped:
			return
		}
	}
}

// errNoHealthyBackend is returned by getOrCreateSession when the load
// balancer has no healthy backend to offer.
var errNoHealthyBackend = udpError("no healthy backend")

type udpError string

func (e udpError) Error() string { return string(e) }
