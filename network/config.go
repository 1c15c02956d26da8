package network

import (
	"fmt"
	"time"
)

// RPCConfig holds the connection parameters for a node's JSON-RPC interface.
type RPCConfig struct {
	URL      string `json:"url"`
	User     string `json:"user"`
	Password string `json:"password"`
	Network  string `json:"network"`

	// RateLimit caps requests per second; zero means unlimited.
	RateLimit int `json:"rate_limit"`

	// Timeout bounds each HTTP request; zero means DefaultTimeout.
	Timeout time.Duration `json:"timeout"`
}

// DefaultTimeout is the per-request HTTP timeout.
const DefaultTimeout = 30 * time.Second

// Mainnet reports whether addresses should use mainnet encoding.
func (c RPCConfig) Mainnet() bool {
	return c.Network == "" || c.Network == "mainnet"
}

// NetworkPresets contains default RPC configurations for known networks.
// Mainnet is intentionally omitted to require explicit configuration.
var NetworkPresets = map[string]RPCConfig{
	"regtest": {URL: "http://localhost:18332", User: "stamp", Password: "stamp"},
	"testnet": {URL: "http://localhost:18333", User: "stamp", Password: "stamp"},
}

// ResolveConfig fills the unset fields of explicit from the preset for
// network. Mainnet has no preset, so its URL must be given.
func ResolveConfig(explicit *RPCConfig, network string) (*RPCConfig, error) {
	result := RPCConfig{Network: network}
	if preset, ok := NetworkPresets[network]; ok {
		result = preset
		result.Network = network
	}

	if explicit != nil {
		if explicit.URL != "" {
			result.URL = explicit.URL
		}
		if explicit.User != "" {
			result.User = explicit.User
		}
		if explicit.Password != "" {
			result.Password = explicit.Password
		}
		if explicit.RateLimit != 0 {
			result.RateLimit = explicit.RateLimit
		}
		if explicit.Timeout != 0 {
			result.Timeout = explicit.Timeout
		}
	}

	if result.URL == "" {
		return nil, fmt.Errorf("%w: %s has no preset", ErrNoEndpoint, network)
	}
	return &result, nil
}
