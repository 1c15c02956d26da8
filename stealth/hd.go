package stealth

import (
	"fmt"

	bip32 "github.com/bsv-blockchain/go-sdk/compat/bip32"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	chaincfg "github.com/bsv-blockchain/go-sdk/transaction/chaincfg"
)

// CoinType is the first path segment under a stealth or stamp root.
// Every segment is non-hardened so the sender can derive public children.
const CoinType = 145

// HDKey is a stealth or stamp key expanded into a depth-0 BIP32 root.
//
//	root/145/txnIndex/outputIndex
type HDKey struct {
	root *bip32.ExtendedKey
}

var zeroFingerprint = []byte{0, 0, 0, 0}

// NewHDPrivateKey builds a private root from key and chainCode.
func NewHDPrivateKey(key *ec.PrivateKey, chainCode []byte) (*HDKey, error) {
	if key == nil {
		return nil, ErrNilPrivateKey
	}
	if len(chainCode) != 32 {
		return nil, ErrInvalidChainCode
	}
	root := bip32.NewExtendedKey(chaincfg.MainNet.HDPrivateKeyID[:], key.Serialize(),
		chainCode, zeroFingerprint, 0, 0, true)
	return &HDKey{root: root}, nil
}

// NewHDPublicKey builds a public-only root from key and chainCode.
func NewHDPublicKey(key *ec.PublicKey, chainCode []byte) (*HDKey, error) {
	if key == nil {
		return nil, ErrNilPublicKey
	}
	if len(chainCode) != 32 {
		return nil, ErrInvalidChainCode
	}
	root := bip32.NewExtendedKey(chaincfg.MainNet.HDPublicKeyID[:], key.Compressed(),
		chainCode, zeroFingerprint, 0, 0, false)
	return &HDKey{root: root}, nil
}

// IsPrivate reports whether private children can be derived.
func (k *HDKey) IsPrivate() bool {
	return k.root.IsPrivate()
}

func (k *HDKey) child(txnIndex, outputIndex uint32) (*bip32.ExtendedKey, error) {
	key := k.root
	for _, idx := range []uint32{CoinType, txnIndex, outputIndex} {
		next, err := key.Child(idx)
		if err != nil {
			return nil, fmt.Errorf("%w: child %d: %w", ErrDerivationFailed, idx, err)
		}
		key = next
	}
	return key, nil
}

// PublicKey derives the public key for an output.
func (k *HDKey) PublicKey(txnIndex, outputIndex uint32) (*ec.PublicKey, error) {
	child, err := k.child(txnIndex, outputIndex)
	if err != nil {
		return nil, err
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	return pub, nil
}

// PrivateKey derives the private key for an output.
func (k *HDKey) PrivateKey(txnIndex, outputIndex uint32) (*ec.PrivateKey, error) {
	if !k.IsPrivate() {
		return nil, ErrNotPrivate
	}
	child, err := k.child(txnIndex, outputIndex)
	if err != nil {
		return nil, err
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	return priv, nil
}

// StealthHDPublicKey is the sender side of a stealth payment.
func StealthHDPublicKey(ephemeral *ec.PrivateKey, dest *ec.PublicKey) (*HDKey, error) {
	pub, chainCode, err := StealthPublicKey(ephemeral, dest)
	if err != nil {
		return nil, err
	}
	return NewHDPublicKey(pub, chainCode)
}

// StealthHDPrivateKey is the recipient side of a stealth payment.
func StealthHDPrivateKey(ephemeralPub *ec.PublicKey, dest *ec.PrivateKey) (*HDKey, error) {
	priv, chainCode, err := StealthPrivateKey(ephemeralPub, dest)
	if err != nil {
		return nil, err
	}
	return NewHDPrivateKey(priv, chainCode)
}

// StampHDPublicKey is the sender side of a stamp, keyed on the payload digest.
func StampHDPublicKey(digest []byte, dest *ec.PublicKey) (*HDKey, error) {
	pub, err := StampPublicKey(digest, dest)
	if err != nil {
		return nil, err
	}
	return NewHDPublicKey(pub, digest)
}

// StampHDPrivateKey is the recipient side of a stamp.
func StampHDPrivateKey(digest []byte, dest *ec.PrivateKey) (*HDKey, error) {
	priv, err := StampPrivateKey(digest, dest)
	if err != nil {
		return nil, err
	}
	return NewHDPrivateKey(priv, digest)
}
