package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
listen:
  tcp_address: "127.0.0.1:8080"
backends:
  - address: "127.0.0.1:9001"
`))
	require.NoError(t, err)
	assert.Equal(t, RoundRobin, cfg.LoadBalancing.Algorithm)
	assert.Equal(t, 1000.0, cfg.Traffic.RateLimit.RPS)
	assert.Equal(t, 100, cfg.Traffic.RateLimit.Burst)
	assert.Equal(t, 5, cfg.CircuitBreaker.Threshold)
}

func TestParseRejectsMissingListenAddress(t *testing.T) {
	_, err := Parse([]byte(`backends: []`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tcp_address")
}

func TestParseRejectsUnknownAlgorithm(t *testing.T) {
	_, err := Parse([]byte(`
listen:
  tcp_address: "127.0.0.1:8080"
load_balancing:
  algorithm: "magic"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "algorithm")
}

func TestParseRejectsNegativeWeight(t *testing.T) {
	_, err := Parse([]byte(`
listen:
  tcp_address: "127.0.0.1:8080"
backends:
  - address: "127.0.0.1:9001"
    weight: -1
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weight")
}

func TestWithBackendsReplacesOnlyBackends(t *testing.T) {
	cfg := Defaults()
	cfg.Listen.TCPAddress = "127.0.0.1:8080"
	cfg.Backends = []Backend{{Address: "127.0.0.1:9001"}}

	updated := cfg.WithBackends([]Backend{{Address: "127.0.0.1:9002", Weight: 5}})

	assert.Equal(t, "127.0.0.1:9002", updated.Backends[0].Address)
	assert.Equal(t, cfg.Listen.TCPAddress, updated.Listen.TCPAddress)
	assert.Equal(t, "127.0.0.1:9001", cfg.Backends[0].Address, "original config must be untouched")
}
