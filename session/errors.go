package session

import "errors"

var (
	// ErrLocked indicates another process holds the data directory.
	ErrLocked = errors.New("session: data directory in use")

	// ErrNoRelay indicates no relay URL is configured and none was injected.
	ErrNoRelay = errors.New("session: relay not configured")

	// ErrNoIndexer indicates no indexer URL is configured and none was injected.
	ErrNoIndexer = errors.New("session: indexer not configured")

	// ErrClosed indicates the session has been closed.
	ErrClosed = errors.New("session: closed")

	// ErrInvalidSeed indicates an empty seed.
	ErrInvalidSeed = errors.New("session: seed must not be empty")
)
