// Package stealth implements the key derivation used for one-time payment
// addresses and per-message encryption keys.
//
//	merged     = D·e                                  (ECDH point)
//	shared     = HMAC-SHA256(salt, compressed(merged))
//	stealth    = SHA256(compressed(e·D))·G + D
//	stamp      = digest·G + D
//
// Stealth and stamp keys are expanded into BIP32 trees whose chain code is the
// blinding hash, so both parties can derive the same per-output keys.
package stealth

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// SharedKeyLen is the length of a shared key: a 16-byte IV followed by a
// 16-byte AES key.
const SharedKeyLen = 32

// MergedKey computes the ECDH point pub·priv.
func MergedKey(priv *ec.PrivateKey, pub *ec.PublicKey) (*ec.PublicKey, error) {
	if priv == nil {
		return nil, ErrNilPrivateKey
	}
	if pub == nil {
		return nil, ErrNilPublicKey
	}
	point, err := priv.DeriveSharedSecret(pub)
	if err != nil {
		return nil, fmt.Errorf("stealth: ECDH failed: %w", err)
	}
	return point, nil
}

// SharedKey derives the symmetric key for a message:
// HMAC-SHA256(salt, compressed(MergedKey(priv, pub))).
func SharedKey(priv *ec.PrivateKey, pub *ec.PublicKey, salt []byte) ([]byte, error) {
	merged, err := MergedKey(priv, pub)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, salt)
	mac.Write(merged.Compressed())
	return mac.Sum(nil), nil
}

// mergedHash returns SHA256(compressed(priv·pub)), the stealth blinding hash.
func mergedHash(priv *ec.PrivateKey, pub *ec.PublicKey) ([]byte, error) {
	merged, err := MergedKey(priv, pub)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(merged.Compressed())
	return h[:], nil
}
