package tx

import "errors"

var (
	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("tx: required parameter is nil")

	// ErrInsufficientFunds indicates the unfrozen UTXO pool cannot cover the
	// requested amount plus fees.
	ErrInsufficientFunds = errors.New("tx: insufficient funds")

	// ErrTransactionTooLarge indicates the input count needed exceeds the
	// maximum transaction size.
	ErrTransactionTooLarge = errors.New("tx: transaction exceeds maximum size")

	// ErrDustOutput indicates a requested output is below the dust limit.
	ErrDustOutput = errors.New("tx: output below dust limit")

	// ErrNoOutputs indicates a payment was requested with no outputs.
	ErrNoOutputs = errors.New("tx: no outputs")

	// ErrSigningFailed indicates transaction signing failed.
	ErrSigningFailed = errors.New("tx: signing failed")

	// ErrScriptBuild indicates script construction failed.
	ErrScriptBuild = errors.New("tx: script build failed")

	// ErrInvalidTxID indicates a txid is not 32 bytes of hex.
	ErrInvalidTxID = errors.New("tx: invalid txid")

	// ErrNoChangeKeys indicates the key source returned no change keys.
	ErrNoChangeKeys = errors.New("tx: no change keys available")

	// ErrReservation indicates a selected UTXO could not be frozen.
	ErrReservation = errors.New("tx: UTXO reservation failed")
)
