// Package supervisor wires the shared proxy state to the TCP engine, UDP
// engine, and control plane, and coordinates their startup and graceful
// shutdown.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nivisproxy/l4proxy/internal/config"
	"github.com/nivisproxy/l4proxy/internal/controlplane"
	"github.com/nivisproxy/l4proxy/internal/state"
	"github.com/nivisproxy/l4proxy/internal/tcpproxy"
	"github.com/nivisproxy/l4proxy/internal/udpproxy"
)

// shutdownGrace bounds how long the supervisor waits for in-flight work to
// drain after a shutdown signal before forcing an exit.
const shutdownGrace = 30 * time.Second

// Supervisor owns the lifetime of every data-plane and control-plane
// component built from one proxy State.
type Supervisor struct {
	log   *zap.Logger
	state *state.State

	tcp     *tcpproxy.Engine
	udp     *udpproxy.Engine
	control *controlplane.Server
}

// New builds a supervisor around a freshly created, unconfigured State.
func New(log *zap.Logger, controlAddr string) *Supervisor {
	st := state.New()
	return &Supervisor{
		log:     log,
		state:   st,
		tcp:     tcpproxy.New(st, log),
		udp:     udpproxy.New(st, log),
		control: controlplane.New(st, log, controlAddr),
	}
}

// State exposes the shared proxy state.
func (sv *Supervisor) State() *state.State { return sv.state }

// Run seeds the initial config, starts every component, and blocks until
// either a component fails or the process receives SIGINT/SIGTERM — at
// which point it drains connections and stops everything within
// shutdownGrace before returning.
func (sv *Supervisor) Run(initial *config.Config) error {
	sv.state.UpdateConfig(initial)

	ln, err := net.Listen("tcp", initial.Listen.TCPAddress)
	if err != nil {
		return fmt.Errorf("supervisor: listen tcp %s: %w", initial.Listen.TCPAddress, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sv.log.Info("tcp engine serving", zap.String("addr", initial.Listen.TCPAddress))
		return sv.tcp.Serve(ln)
	})
	g.Go(func() error {
		if initial.Listen.UDPAddress == "" {
			sv.log.Info("udp engine disabled")
			return nil
		}
		sv.log.Info("udp engine serving", zap.String("addr", initial.Listen.UDPAddress))
		return sv.udp.Serve(initial.Listen.UDPAddress)
	})
	g.Go(func() error {
		sv.log.Info("control plane serving", zap.String("addr", sv.control.Addr()))
		return sv.control.ListenAndServe()
	})

	g.Go(func() error {
		<-gctx.Done()
		return sv.shutdown(ln)
	})

	return g.Wait()
}

// shutdown sets the drain flag and waits up to shutdownGrace for active
// connections to finish, then closes the TCP listener (unblocking Accept)
// and the UDP socket and shuts down the control plane — never returning an
// error itself, since a timed-out drain is a logged condition, not a failure.
func (sv *Supervisor) shutdown(ln net.Listener) error {
	sv.log.Info("shutdown signal received, draining")

	drained := make(chan struct{})
	go func() {
		sv.state.DrainConnections()
		close(drained)
	}()

	select {
	case <-drained:
		sv.log.Info("drain complete")
	case <-time.After(shutdownGrace):
		sv.log.Warn("drain timed out, forcing shutdown",
			zap.Int("active_connections", sv.state.ActiveConnectionCount()))
	}

	ln.Close()
	if err := sv.udp.Close(); err != nil {
		sv.log.Warn("udp socket close error", zap.Error(err))
	}
	if err := sv.control.Shutdown(); err != nil {
		sv.log.Warn("control plane shutdown error", zap.Error(err))
	}
	return nil
}
