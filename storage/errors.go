package storage

import "errors"

var (
	// ErrNotFound indicates no payload is cached for the digest.
	ErrNotFound = errors.New("storage: content not found")

	// ErrInvalidDigest indicates the digest is not exactly 32 bytes.
	ErrInvalidDigest = errors.New("storage: digest must be 32 bytes")

	// ErrDigestMismatch indicates content that does not hash to its digest.
	ErrDigestMismatch = errors.New("storage: content does not match digest")

	// ErrIOFailure indicates a file read/write error.
	ErrIOFailure = errors.New("storage: I/O failure")

	// ErrEmptyContent indicates an attempt to store empty content.
	ErrEmptyContent = errors.New("storage: content is empty")

	// ErrInvalidBaseDir indicates the base directory path is invalid.
	ErrInvalidBaseDir = errors.New("storage: invalid base directory")

	// ErrCorruptRecord indicates a database record that does not decode.
	ErrCorruptRecord = errors.New("storage: corrupt record")
)
