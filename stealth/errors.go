package stealth

import "errors"

var (
	// ErrNilPrivateKey indicates a nil private key was provided.
	ErrNilPrivateKey = errors.New("stealth: private key is nil")

	// ErrNilPublicKey indicates a nil public key was provided.
	ErrNilPublicKey = errors.New("stealth: public key is nil")

	// ErrInvalidScalar indicates a hash or digest is zero or not below the
	// curve order and cannot be used as a blinding scalar.
	ErrInvalidScalar = errors.New("stealth: invalid blinding scalar")

	// ErrPointAtInfinity indicates a blinded key collapsed to the identity point.
	ErrPointAtInfinity = errors.New("stealth: resulting point is at infinity")

	// ErrInvalidChainCode indicates the chain code is not 32 bytes.
	ErrInvalidChainCode = errors.New("stealth: chain code must be 32 bytes")

	// ErrDerivationFailed indicates HD child derivation failed.
	ErrDerivationFailed = errors.New("stealth: key derivation failed")

	// ErrNotPrivate indicates a private key was requested from a public-only HD key.
	ErrNotPrivate = errors.New("stealth: HD key has no private component")

	// ErrInvalidCiphertext indicates the ciphertext length or padding is malformed.
	ErrInvalidCiphertext = errors.New("stealth: invalid ciphertext")
)
