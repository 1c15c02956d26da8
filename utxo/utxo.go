// Package utxo defines the wallet's unspent output record and the store
// contract the transaction builder selects from.
package utxo

import (
	"fmt"
	"iter"
	"strconv"
	"strings"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// Type classifies how a UTXO's key was obtained.
type Type uint8

const (
	TypeP2PKH Type = iota
	TypeStamp
	TypeStealth
)

func (t Type) String() string {
	switch t {
	case TypeP2PKH:
		return "p2pkh"
	case TypeStamp:
		return "stamp"
	case TypeStealth:
		return "stealth"
	default:
		return "unknown"
	}
}

// Utxo is an unspent output owned by the wallet.
type Utxo struct {
	TxID        string         `json:"txid"` // display (big-endian) hex
	OutputIndex uint32         `json:"vout"`
	Satoshis    uint64         `json:"satoshis"`
	Address     string         `json:"address"`
	Type        Type           `json:"type"`
	PrivateKey  *ec.PrivateKey `json:"-"`
	Frozen      bool           `json:"frozen"`
}

// ID returns txid + "_" + output index.
func (u *Utxo) ID() string {
	return MakeID(u.TxID, u.OutputIndex)
}

// Clone returns a shallow copy. The private key pointer is shared.
func (u *Utxo) Clone() *Utxo {
	c := *u
	return &c
}

// MakeID builds a UTXO id.
func MakeID(txid string, vout uint32) string {
	return txid + "_" + strconv.FormatUint(uint64(vout), 10)
}

// ParseID splits a UTXO id into txid and output index.
func ParseID(id string) (string, uint32, error) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	vout, err := strconv.ParseUint(id[i+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q: %w", ErrInvalidID, id, err)
	}
	return id[:i], uint32(vout), nil
}

// Store is the durable UTXO map consumed by the builder and protocol client.
//
// Freeze fails with ErrAlreadyFrozen when the UTXO is already frozen, which
// makes it usable as a reservation primitive. Missing ids yield ErrNotFound.
type Store interface {
	Get(id string) (*Utxo, error)
	Put(u *Utxo) error
	Delete(id string) error
	Freeze(id string) error
	Unfreeze(id string) error

	// Map returns a snapshot of every UTXO keyed by id.
	Map() (map[string]*Utxo, error)

	// All iterates unfrozen UTXOs.
	All() iter.Seq[*Utxo]

	// Frozen iterates frozen UTXOs.
	Frozen() iter.Seq[*Utxo]

	Clear() error
}

// Balance sums the satoshis of unfrozen UTXOs.
func Balance(s Store) uint64 {
	var total uint64
	for u := range s.All() {
		total += u.Satoshis
	}
	return total
}
