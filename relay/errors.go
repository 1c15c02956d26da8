package relay

import "errors"

var (
	// ErrPaymentRequired indicates a 402 the client could not settle.
	ErrPaymentRequired = errors.New("relay: payment required")

	// ErrSendFailed indicates a send attempt failed after funding; the
	// attempt's UTXOs have been released.
	ErrSendFailed = errors.New("relay: send failed")

	// ErrInvalidUtxos indicates staged UTXOs the indexer no longer reports
	// unspent. They are removed from the store before this is returned.
	ErrInvalidUtxos = errors.New("relay: staged utxos no longer valid")

	// ErrNotFound indicates the relay has no such resource.
	ErrNotFound = errors.New("relay: not found")

	// ErrUnexpectedStatus indicates an HTTP status the client does not handle.
	ErrUnexpectedStatus = errors.New("relay: unexpected status")

	// ErrNilParam indicates a required parameter was nil.
	ErrNilParam = errors.New("relay: nil parameter")

	// ErrForeignMessage indicates a message neither sent by nor addressed to
	// this identity.
	ErrForeignMessage = errors.New("relay: message not addressed to this identity")

	// ErrProfileMismatch indicates a profile signed by a key other than the
	// one requested.
	ErrProfileMismatch = errors.New("relay: profile signed by a different key")
)
