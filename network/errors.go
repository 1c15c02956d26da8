package network

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailed indicates the client could not connect to the node.
	ErrConnectionFailed = errors.New("network: connection failed")

	// ErrAuthFailed indicates authentication (e.g., RPC credentials) was rejected.
	ErrAuthFailed = errors.New("network: authentication failed")

	// ErrTxNotFound indicates the requested transaction does not exist.
	ErrTxNotFound = errors.New("network: transaction not found")

	// ErrBroadcastRejected indicates the node rejected the broadcast transaction.
	ErrBroadcastRejected = errors.New("network: broadcast rejected")

	// ErrInvalidResponse indicates the node returned a malformed or unexpected response.
	ErrInvalidResponse = errors.New("network: invalid response")

	// ErrUnavailable indicates the circuit breaker is refusing calls.
	ErrUnavailable = errors.New("network: indexer unavailable")

	// ErrUnsupportedScript indicates a script type the indexer cannot query.
	ErrUnsupportedScript = errors.New("network: unsupported script type")

	// ErrNoEndpoint indicates no RPC URL was configured for the network.
	ErrNoEndpoint = errors.New("network: no rpc endpoint")

	// ErrInvalidParams indicates a malformed argument.
	ErrInvalidParams = errors.New("network: invalid parameters")
)

// RPC error codes returned by bitcoind-compatible nodes.
const (
	rpcCodeInvalidAddressOrKey = -5 // also "No such mempool or blockchain transaction"
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("network: rpc error %d: %s", e.Code, e.Message)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrTxNotFound)
}
