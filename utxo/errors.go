package utxo

import "errors"

var (
	// ErrNotFound indicates no UTXO exists for the id.
	ErrNotFound = errors.New("utxo: not found")

	// ErrAlreadyFrozen indicates the UTXO is already reserved by another transaction.
	ErrAlreadyFrozen = errors.New("utxo: already frozen")

	// ErrInvalidID indicates a malformed txid_vout identifier.
	ErrInvalidID = errors.New("utxo: invalid id")

	// ErrNilUtxo indicates a nil record was passed to Put.
	ErrNilUtxo = errors.New("utxo: nil record")
)
