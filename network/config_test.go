package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkPresets(t *testing.T) {
	tests := []struct {
		name    string
		network string
		url     string
		user    string
	}{
		{"regtest defaults", "regtest", "http://localhost:18332", "stamp"},
		{"testnet defaults", "testnet", "http://localhost:18333", "stamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			preset, ok := NetworkPresets[tt.network]
			require.True(t, ok, "preset should exist for %s", tt.network)
			assert.Equal(t, tt.url, preset.URL)
			assert.Equal(t, tt.user, preset.User)
		})
	}
}

func TestMainnetHasNoPreset(t *testing.T) {
	_, ok := NetworkPresets["mainnet"]
	assert.False(t, ok, "mainnet should not have a default preset")
}

func TestResolveConfigFlagsOverrideAll(t *testing.T) {
	flags := &RPCConfig{URL: "http://custom:9999", User: "me", Password: "secret"}
	cfg, err := ResolveConfig(flags, "regtest")
	require.NoError(t, err)
	assert.Equal(t, "http://custom:9999", cfg.URL)
	assert.Equal(t, "me", cfg.User)
	assert.Equal(t, "secret", cfg.Password)
}

func TestResolveConfigPresetFallback(t *testing.T) {
	cfg, err := ResolveConfig(nil, "regtest")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:18332", cfg.URL)
	assert.Equal(t, "stamp", cfg.User)
	assert.Equal(t, "stamp", cfg.Password)
}

func TestResolveConfigMainnetRequiresExplicit(t *testing.T) {
	_, err := ResolveConfig(nil, "mainnet")
	assert.ErrorIs(t, err, ErrNoEndpoint)
	assert.Contains(t, err.Error(), "mainnet")
}

func TestResolveConfigPartialFlags(t *testing.T) {
	flags := &RPCConfig{URL: "http://partial:8332"}
	cfg, err := ResolveConfig(flags, "regtest")
	require.NoError(t, err)
	assert.Equal(t, "http://partial:8332", cfg.URL)
	assert.Equal(t, "stamp", cfg.User)     // from preset
	assert.Equal(t, "stamp", cfg.Password) // from preset
}

func TestResolveConfigLimitsFromFlags(t *testing.T) {
	flags := &RPCConfig{RateLimit: 25, Timeout: 5 * time.Second}
	cfg, err := ResolveConfig(flags, "testnet")
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.RateLimit)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.False(t, cfg.Mainnet())
}

func TestRPCConfigMainnet(t *testing.T) {
	assert.True(t, RPCConfig{}.Mainnet())
	assert.True(t, RPCConfig{Network: "mainnet"}.Mainnet())
	assert.False(t, RPCConfig{Network: "regtest"}.Mainnet())
}
