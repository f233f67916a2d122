// Package tcpproxy implements the TCP accept loop and per-connection
// relay: admission control, backend selection, circuit breaking, and
// bidirectional byte copying with deterministic cleanup.
package tcpproxy

import (
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/nivisproxy/l4proxy/internal/state"
)

// copyBufferSize is the buffer used by each unidirectional copy loop.
const copyBufferSize = 8 * 1024

// Engine runs the TCP accept loop and per-connection relay against a
// shared proxy State.
type Engine struct {
	state *state.State
	log   *zap.Logger
}

// New creates a TCP engine. The listener is bound once by the caller and
// never rebound: later config updates only affect backends, algorithm,
// and admission control, which each new session observes fresh.
func New(st *state.State, log *zap.Logger) *Engine {
	return &Engine{state: st, log: log}
}

// Serve runs the accept loop on the already bound ln until the drain flag
// is observed at an accept boundary, or ln is closed.
func (e *Engine) Serve(ln net.Listener) error {
	for {
		if e.state.IsDraining() {
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			if e.state.IsDraining() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			e.log.Warn("tcp accept error", zap.Error(err))
			continue
		}

		go e.handleConnection(conn)
	}
}

func (e *Engine) handleConnection(conn net.Conn) {
	peerAddr := conn.RemoteAddr().String()
	cfg := e.state.GetConfig()

	if !e.state.RateLimiter().AllowRequest(peerAddr) {
		e.state.Metrics().RateLimitDenied.Add(1)
		e.log.Warn("tcp connection rate limited", zap.String("peer", peerAddr))
		conn.Close()
		return
	}
	e.state.Metrics().RateLimitAllowed.Add(1)

	e.state.Metrics().TCPConnectionsOpened.Add(1)
	e.state.Metrics().TCPConnectionsActive.Add(1)
	connID, _ := e.state.RegisterConnection()
	defer func() {
		e.state.UnregisterConnection(connID)
		e.state.Metrics().TCPConnectionsActive.Add(-1)
	}()

	host, _, _ := net.SplitHostPort(peerAddr)
	backend, ok := e.state.Balancer().Select(host)
	if !ok {
		e.log.Warn("no healthy backend", zap.String("peer", peerAddr))
		conn.Close()
		return
	}

	if !e.state.Breakers().AllowRequest(backend.Address) {
		e.state.Metrics().Backend(backend.Address).Failures.Add(1)
		e.log.Warn("circuit open, rejecting connection",
			zap.String("peer", peerAddr), zap.String("backend", backend.Address))
		conn.Close()
		return
	}

	e.state.Balancer().IncrementConnections(backend.Address)
	defer e.state.Balancer().DecrementConnections(backend.Address)

	connectTimeout := time.Duration(cfg.Traffic.Timeout.ConnectSeconds * float64(time.Second))
	start := time.Now()
	backendConn, err := net.DialTimeout("tcp", backend.Address, connectTimeout)
	if err != nil {
		e.state.Breakers().RecordFailure(backend.Address)
		e.state.Metrics().Backend(backend.Address).Failures.Add(1)
		e.log.Warn("backend connect failed",
			zap.String("backend", backend.Address), zap.Error(err))
		conn.Close()
		return
	}
	defer backendConn.Close()
	defer conn.Close()

	e.state.Metrics().RecordLatency(float64(time.Since(start).Milliseconds()))
	e.state.Breakers().RecordSuccess(backend.Address)
	e.state.Metrics().Backend(backend.Address).Requests.Add(1)
	e.state.Metrics().Backend(backend.Address).Connections.Add(1)

	e.relay(conn, backendConn, backend.Address)
}

// copyResult is one unidirectional copy loop's outcome.
type copyResult struct {
	bytes int64
	err   error
}

// relay runs two unidirectional copy loops and waits for the first to
// finish, then tears the session down and records the outcome on the
// breaker and metrics.
func (e *Engine) relay(client, backend net.Conn, backendAddr string) {
	clientToBackend := make(chan copyResult, 1)
	backendToClient := make(chan copyResult, 1)

	go func() {
		n, err := copyBuffered(backend, client)
		clientToBackend <- copyResult{n, err}
	}()
	go func() {
		n, err := copyBuffered(client, backend)
		backendToClient <- copyResult{n, err}
	}()

	var first copyResult
	var firstWasClientToBackend bool
	select {
	case first = <-clientToBackend:
		firstWasClientToBackend = true
	case first = <-backendToClient:
	}

	// The first direction to finish (EOF or error) cancels the other by
	// closing both sockets — nothing else would unblock its blocking read.
	client.Close()
	backend.Close()

	var clientToBackendN, backendToClientN int64
	if firstWasClientToBackend {
		clientToBackendN = first.bytes
		backendToClientN = (<-backendToClient).bytes
	} else {
		backendToClientN = first.bytes
		clientToBackendN = (<-clientToBackend).bytes
	}

	e.foldBytes(backendAddr, clientToBackendN, backendToClientN)
	e.finish(backendAddr, sessionError(first.err))
}

// sessionError reports whether the terminating copy loop ended in a real
// I/O error as opposed to a clean EOF.
func sessionError(err error) error {
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (e *Engine) foldBytes(backendAddr string, clientToBackendBytes, backendToClientBytes int64) {
	m := e.state.Metrics()
	m.BytesReceived.Add(uint64(clientToBackendBytes))
	m.BytesSent.Add(uint64(backendToClientBytes))

	b := m.Backend(backendAddr)
	b.BytesSent.Add(uint64(clientToBackendBytes))
	b.BytesReceived.Add(uint64(backendToClientBytes))
}

func (e *Engine) finish(backendAddr string, err error) {
	if err != nil {
		e.log.Error("tcp session i/o error",
			zap.String("backend", backendAddr), zap.Error(err))
		e.state.Breakers().RecordFailure(backendAddr)
		e.state.Metrics().Backend(backendAddr).Failures.Add(1)
	} else {
		e.state.Breakers().RecordSuccess(backendAddr)
		e.state.Metrics().TCPConnectionsClosed.Add(1)
	}
}

func copyBuffered(dst, src net.Conn) (int64, error) {
	buf := make([]byte, copyBufferSize)
	return io.CopyBuffer(dst, src, buf)
}
