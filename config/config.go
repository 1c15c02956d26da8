// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads stampctl settings from a YAML file in the data
// directory, overridden by STAMP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/bitfsorg/libstamp-go/network"
	"github.com/bitfsorg/libstamp-go/wallet"
)

// Config keys. Each is also read from the environment as STAMP_<KEY>.
const (
	KeyDataDir      = "datadir"
	KeyNetwork      = "network"
	KeyRelayURL     = "relay_url"
	KeyIndexerURL   = "indexer_url"
	KeyIndexerWSURL = "indexer_ws_url"
	KeyRPCUser      = "rpc_user"
	KeyRPCPassword  = "rpc_password"
	KeyRateLimit    = "rate_limit"
	KeyLogLevel     = "log_level"
	KeyLogJSON      = "log_json"
	KeyLogFile      = "log_file"
	KeyFeePerByte   = "fee_per_byte"
	KeyStampAmount  = "stamp_amount"
	KeyDNSUpstream  = "dns_upstream"
	KeyChangeKeys   = "change_keys"

	envPrefix = "STAMP"

	// DefaultStampAmount is the satoshi value of a message stamp.
	DefaultStampAmount = 1000
)

// Config holds all stampctl settings.
type Config struct {
	DataDir      string `mapstructure:"datadir"`
	Network      string `mapstructure:"network"`
	RelayURL     string `mapstructure:"relay_url"`
	IndexerURL   string `mapstructure:"indexer_url"`
	IndexerWSURL string `mapstructure:"indexer_ws_url"`
	RPCUser      string `mapstructure:"rpc_user"`
	RPCPassword  string `mapstructure:"rpc_password"`
	RateLimit    int    `mapstructure:"rate_limit"`
	LogLevel     string `mapstructure:"log_level"`
	LogJSON      bool   `mapstructure:"log_json"`
	LogFile      string `mapstructure:"log_file"`
	FeePerByte   uint64 `mapstructure:"fee_per_byte"`
	StampAmount  uint64 `mapstructure:"stamp_amount"`
	DNSUpstream  string `mapstructure:"dns_upstream"`
	ChangeKeys   uint32 `mapstructure:"change_keys"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		DataDir:     DefaultDataDir(),
		Network:     "mainnet",
		LogLevel:    "info",
		FeePerByte:  1,
		StampAmount: DefaultStampAmount,
		ChangeKeys:  wallet.DefaultChangeKeyCount,
	}
}

// DefaultDataDir returns ~/.stamp, or .stamp when the home directory is
// unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stamp"
	}
	return filepath.Join(home, ".stamp")
}

// ConfigPath returns the config file path inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// Mainnet reports whether addresses use mainnet encoding.
func (c Config) Mainnet() bool {
	return c.Network == "mainnet"
}

// RPCConfig returns the indexer connection settings. Unset fields fall
// back to the network's preset; mainnet has none.
func (c Config) RPCConfig() (*network.RPCConfig, error) {
	return network.ResolveConfig(&network.RPCConfig{
		URL:       c.IndexerURL,
		User:      c.RPCUser,
		Password:  c.RPCPassword,
		RateLimit: c.RateLimit,
	}, c.Network)
}

// newViper returns a viper instance seeded with DefaultConfig and bound to
// the STAMP_ environment.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setAll(v.SetDefault, DefaultConfig())
	return v
}

func setAll(set func(string, any), cfg Config) {
	set(KeyDataDir, cfg.DataDir)
	set(KeyNetwork, cfg.Network)
	set(KeyRelayURL, cfg.RelayURL)
	set(KeyIndexerURL, cfg.IndexerURL)
	set(KeyIndexerWSURL, cfg.IndexerWSURL)
	set(KeyRPCUser, cfg.RPCUser)
	set(KeyRPCPassword, cfg.RPCPassword)
	set(KeyRateLimit, cfg.RateLimit)
	set(KeyLogLevel, cfg.LogLevel)
	set(KeyLogJSON, cfg.LogJSON)
	set(KeyLogFile, cfg.LogFile)
	set(KeyFeePerByte, cfg.FeePerByte)
	set(KeyStampAmount, cfg.StampAmount)
	set(KeyDNSUpstream, cfg.DNSUpstream)
	set(KeyChangeKeys, cfg.ChangeKeys)
}

// LoadConfig reads the YAML file at path. Unset keys keep their defaults;
// STAMP_* environment variables override both. Unknown keys are ignored.
func LoadConfig(path string) (Config, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var parseErr viper.ConfigParseError
		if errors.As(err, &parseErr) {
			return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfigFile, path, err)
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return decode(v)
}

// LoadEnv returns DefaultConfig overridden by STAMP_* environment
// variables, for running without a config file.
func LoadEnv() (Config, error) {
	return decode(newViper())
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfigFile, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML, creating parent directories. The
// file is written 0600 since it may hold RPC credentials.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigPermissions(0600)
	setAll(v.Set, cfg)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
