// Package storage persists wallet state on disk: UTXOs, messages and
// contacts in a bbolt database, and fetched message payloads in a
// content-addressed file cache.
package storage

// DigestSize is the required length of a payload digest (SHA256).
const DigestSize = 32

// PayloadCache holds encrypted message payloads keyed by sha256(payload).
type PayloadCache interface {
	// Put stores payload under digest. The payload must hash to digest.
	Put(digest []byte, payload []byte) error

	// Get returns the payload for digest, re-verifying it.
	Get(digest []byte) ([]byte, error)

	Has(digest []byte) (bool, error)

	Delete(digest []byte) error

	// List returns every cached digest.
	List() ([][]byte, error)
}
