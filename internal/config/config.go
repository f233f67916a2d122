// Package config loads and validates the proxy's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Algorithm is the load-balancing strategy tag.
type Algorithm string

const (
	RoundRobin         Algorithm = "round_robin"
	WeightedRoundRobin Algorithm = "weighted_round_robin"
	LeastConnections   Algorithm = "least_connections"
	ConsistentHash     Algorithm = "consistent_hash"
)

func (a Algorithm) valid() bool {
	switch a {
	case RoundRobin, WeightedRoundRobin, LeastConnections, ConsistentHash:
		return true
	}
	return false
}

// Backend is one downstream endpoint.
type Backend struct {
	Address string `yaml:"address" json:"address"`
	Weight  int    `yaml:"weight" json:"weight"`
	Healthy bool   `yaml:"healthy" json:"healthy"`
}

// Listen holds the two data-plane socket addresses.
type Listen struct {
	TCPAddress string `yaml:"tcp_address" json:"tcp_address"`
	UDPAddress string `yaml:"udp_address" json:"udp_address"` // empty disables UDP
}

// LoadBalancing selects the backend-selection strategy.
type LoadBalancing struct {
	Algorithm       Algorithm `yaml:"algorithm" json:"algorithm"`
	SessionAffinity bool      `yaml:"session_affinity" json:"session_affinity"`
}

// RateLimit configures the global token bucket.
type RateLimit struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst" json:"burst"`
}

// Timeout groups the data plane's socket timeouts, in seconds.
type Timeout struct {
	ConnectSeconds float64 `yaml:"connect_seconds" json:"connect_seconds"`
	IdleSeconds    float64 `yaml:"idle_seconds" json:"idle_seconds"`
	ReadSeconds    float64 `yaml:"read_seconds" json:"read_seconds"`
}

// Traffic groups the admission-facing knobs.
type Traffic struct {
	RateLimit RateLimit `yaml:"rate_limit" json:"rate_limit"`
	Timeout   Timeout   `yaml:"timeout" json:"timeout"`
}

// CircuitBreaker configures the per-backend breaker.
type CircuitBreaker struct {
	Threshold      int     `yaml:"threshold" json:"threshold"`
	TimeoutSeconds float64 `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Config is the full, immutable proxy configuration snapshot.
//
// A *Config is never mutated after construction — updates replace the
// pointer held by the proxy state, never the fields underneath it.
type Config struct {
	Listen         Listen         `yaml:"listen" json:"listen"`
	Backends       []Backend      `yaml:"backends" json:"backends"`
	LoadBalancing  LoadBalancing  `yaml:"load_balancing" json:"load_balancing"`
	Traffic        Traffic        `yaml:"traffic" json:"traffic"`
	CircuitBreaker CircuitBreaker `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// Defaults are the fallbacks applied to any optional group a config
// document leaves out.
func Defaults() Config {
	return Config{
		LoadBalancing: LoadBalancing{Algorithm: RoundRobin, SessionAffinity: false},
		Traffic: Traffic{
			RateLimit: RateLimit{RPS: 1000, Burst: 100},
			Timeout:   Timeout{ConnectSeconds: 5, IdleSeconds: 60, ReadSeconds: 30},
		},
		CircuitBreaker: CircuitBreaker{Threshold: 5, TimeoutSeconds: 30},
	}
}

// ApplyDefaults fills zero-valued optional groups with Defaults(). Exported
// so the control plane can apply the same fallback rules to a config
// document pushed over the admin API as Load applies to one read from disk.
func ApplyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.LoadBalancing.Algorithm == "" {
		cfg.LoadBalancing.Algorithm = d.LoadBalancing.Algorithm
	}
	if cfg.Traffic.RateLimit.RPS == 0 {
		cfg.Traffic.RateLimit = d.Traffic.RateLimit
	}
	if cfg.Traffic.Timeout == (Timeout{}) {
		cfg.Traffic.Timeout = d.Traffic.Timeout
	}
	if cfg.CircuitBreaker == (CircuitBreaker{}) {
		cfg.CircuitBreaker = d.CircuitBreaker
	}
}

// Validate rejects a config whose required fields are absent or malformed.
func Validate(cfg *Config) error {
	if cfg.Listen.TCPAddress == "" {
		return fmt.Errorf("config: listen.tcp_address is required")
	}
	if !cfg.LoadBalancing.Algorithm.valid() {
		return fmt.Errorf("config: unknown load_balancing.algorithm %q", cfg.LoadBalancing.Algorithm)
	}
	for i, b := range cfg.Backends {
		if b.Address == "" {
			return fmt.Errorf("config: backends[%d].address is required", i)
		}
		if b.Weight < 0 {
			return fmt.Errorf("config: backends[%d].weight must be non-negative", i)
		}
	}
	return nil
}

// Load reads and decodes a YAML config document from path, applies defaults
// for any missing optional group, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML config document from raw bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Config{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WithBackends returns a shallow copy of cfg with Backends replaced —
// used by ReloadBackends, which must not disturb any other field.
func (c *Config) WithBackends(backends []Backend) *Config {
	clone := *c
	clone.Backends = backends
	return &clone
}
