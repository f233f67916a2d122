package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivisproxy/l4proxy/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Listen.TCPAddress = "127.0.0.1:0"
	cfg.Backends = []config.Backend{{Address: "127.0.0.1:9001", Healthy: true}}
	return &cfg
}

func TestNewStateIsUnconfigured(t *testing.T) {
	s := New()
	assert.False(t, s.IsConfigured())
	assert.Nil(t, s.GetConfig())
}

func TestUpdateConfigMakesAdmissionAvailable(t *testing.T) {
	s := New()
	s.UpdateConfig(testConfig())

	require.True(t, s.IsConfigured())
	require.NotNil(t, s.Breakers())
	require.NotNil(t, s.RateLimiter())

	backend, ok := s.Balancer().Select("")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:9001", backend.Address)
}

func TestUpdateConfigClosesConfigChannelOnce(t *testing.T) {
	s := New()
	done := make(chan struct{})
	go func() {
		s.WaitForConfig()
		close(done)
	}()

	s.UpdateConfig(testConfig())
	s.UpdateConfig(testConfig())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForConfig never returned")
	}
}

func TestConnectionRegistry(t *testing.T) {
	s := New()
	id, token := s.RegisterConnection()
	assert.NotEqual(t, uint64(0), id)
	assert.NotEmpty(t, token.String())
	assert.Equal(t, 1, s.ActiveConnectionCount())

	s.UnregisterConnection(id)
	assert.Equal(t, 0, s.ActiveConnectionCount())
}

func TestDrainConnectionsWaitsForEmptyRegistry(t *testing.T) {
	s := New()
	id, _ := s.RegisterConnection()

	drained := make(chan struct{})
	go func() {
		s.DrainConnections()
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("drain returned before the registry was empty")
	case <-time.After(200 * time.Millisecond):
	}

	s.UnregisterConnection(id)

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("drain did not return after the registry emptied")
	}
	assert.True(t, s.IsDraining())

	s.ResetDraining()
	assert.False(t, s.IsDraining())
}

func TestDrainConnectionsIsNoopOnEmptyRegistry(t *testing.T) {
	s := New()
	done := make(chan struct{})
	go func() {
		s.DrainConnections()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain on an empty registry should return immediately")
	}
}

func TestBreakerTransitionsFeedMetrics(t *testing.T) {
	s := New()
	cfg := testConfig()
	cfg.CircuitBreaker.Threshold = 1
	cfg.CircuitBreaker.TimeoutSeconds = 0.01
	s.UpdateConfig(cfg)

	s.Breakers().RecordFailure("127.0.0.1:9001")
	assert.Equal(t, uint64(1), s.Metrics().BreakerOpened.Load())

	time.Sleep(20 * time.Millisecond)
	require.True(t, s.Breakers().AllowRequest("127.0.0.1:9001"))
	assert.Equal(t, uint64(1), s.Metrics().BreakerHalfOpened.Load())
}
