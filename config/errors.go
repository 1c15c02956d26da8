// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

var (
	// ErrInvalidNetwork indicates the network name is not recognized.
	ErrInvalidNetwork = errors.New("config: invalid network (must be \"mainnet\", \"testnet\", or \"regtest\")")

	// ErrInvalidURL indicates a relay or indexer endpoint is malformed.
	ErrInvalidURL = errors.New("config: invalid endpoint URL")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrInvalidFee indicates a zero fee rate.
	ErrInvalidFee = errors.New("config: fee per byte must be positive")

	// ErrInvalidChangeKeys indicates a change-key pool size out of range.
	ErrInvalidChangeKeys = errors.New("config: invalid change key count")

	// ErrInvalidUpstream indicates the DNS upstream is not host:port.
	ErrInvalidUpstream = errors.New("config: invalid DNS upstream")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigFile indicates the config file could not be parsed.
	ErrInvalidConfigFile = errors.New("config: invalid configuration file")
)
