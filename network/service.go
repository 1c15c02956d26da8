// Package network talks to the chain indexer: UTXO and transaction lookups,
// broadcast, outpoint validation, and push notifications of address
// activity.
package network

import (
	"context"
	"fmt"
)

// ScriptType selects the locking-script family for ScriptUtxos.
type ScriptType string

const ScriptP2PKH ScriptType = "p2pkh"

// Indexer is the chain/indexer contract consumed by the relay client.
type Indexer interface {
	// ScriptUtxos returns the unspent outputs locked to pkh.
	ScriptUtxos(ctx context.Context, typ ScriptType, pkh []byte) ([]*UTXO, error)

	// Tx returns the raw transaction bytes for txid.
	Tx(ctx context.Context, txid string) ([]byte, error)

	// BroadcastTx submits a raw transaction hex and returns its txid.
	BroadcastTx(ctx context.Context, rawTxHex string) (string, error)

	// ValidateUtxos reports the state of each outpoint, in order.
	ValidateUtxos(ctx context.Context, outpoints []OutPoint) ([]OutputState, error)
}

// Subscriber delivers address activity pushed by the indexer.
type Subscriber interface {
	// Subscribe adds pkh to the watched set. It is safe to call before or
	// after the connection is up; watched keys survive reconnects.
	Subscribe(ctx context.Context, pkh []byte) error

	// Events returns the delivery channel. It is closed when the
	// subscriber stops.
	Events() <-chan Event
}

// UTXO represents an unspent transaction output.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        uint64 `json:"amount"`
	ScriptPubKey  string `json:"script_pubkey"`
	Address       string `json:"address"`
	Confirmations int64  `json:"confirmations"`
}

// OutPoint identifies a transaction output.
type OutPoint struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Vout)
}

// OutputState is the indexer's view of an outpoint.
type OutputState uint8

const (
	StateUnspent OutputState = iota
	StateSpent
	StateNoSuchTx
	StateNoSuchOutput
)

func (s OutputState) String() string {
	switch s {
	case StateUnspent:
		return "UNSPENT"
	case StateSpent:
		return "SPENT"
	case StateNoSuchTx:
		return "NO_SUCH_TX"
	case StateNoSuchOutput:
		return "NO_SUCH_OUTPUT"
	default:
		return "UNKNOWN"
	}
}

// EventType classifies a pushed event.
type EventType string

const (
	EventAddedToMempool EventType = "AddedToMempool"
	EventConfirmed      EventType = "Confirmed"
	EventError          EventType = "Error"
)

// Event is one push notification. TxID is set for activity events,
// ErrorCode and Msg for EventError.
type Event struct {
	Type      EventType `json:"type"`
	TxID      string    `json:"txid,omitempty"`
	ErrorCode int       `json:"errorCode,omitempty"`
	Msg       string    `json:"msg,omitempty"`
}
