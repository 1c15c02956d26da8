package wallet

import (
	"fmt"

	bip32 "github.com/bsv-blockchain/go-sdk/compat/bip32"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	chaincfg "github.com/bsv-blockchain/go-sdk/transaction/chaincfg"
)

const (
	// BIP44 path constants.
	PurposeBIP44    = 44
	CoinTypeBSV     = 145
	IdentityAccount = 0

	// Chain indices.
	ExternalChain = 0 // Identity key
	InternalChain = 1 // Change keys

	// DefaultChangeKeyCount is the size of the change-key pool handed to the
	// transaction builder.
	DefaultChangeKeyCount = 8

	// MaxChangeKeyCount bounds the pool so derivation stays non-hardened.
	MaxChangeKeyCount = 1 << 16

	// BIP32 hardened offset.
	Hardened = 0x80000000
)

// Wallet holds the master key and derives the identity and change keys.
//
// Key hierarchy: m/44'/145'/0'/{chain}/{index}. The identity key is
// m/44'/145'/0'/0/0; change keys are m/44'/145'/0'/1/i.
type Wallet struct {
	masterKey   *bip32.ExtendedKey
	network     *NetworkConfig
	changeCount uint32
}

// KeyPair holds a derived public/private key pair.
type KeyPair struct {
	PrivateKey *ec.PrivateKey `json:"-"`
	PublicKey  *ec.PublicKey  `json:"public_key"`
	Path       string         `json:"path"` // Human-readable derivation path
}

// NewWallet creates a new Wallet from a BIP39 seed.
func NewWallet(seed []byte, network *NetworkConfig) (*Wallet, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidSeed
	}
	if network == nil {
		network = &MainNet
	}

	net := &chaincfg.TestNet
	if network.AddressVersion == MainNet.AddressVersion {
		net = &chaincfg.MainNet
	}

	masterKey, err := bip32.NewMaster(seed, net)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}

	return &Wallet{
		masterKey:   masterKey,
		network:     network,
		changeCount: DefaultChangeKeyCount,
	}, nil
}

// Network returns the wallet's network configuration.
func (w *Wallet) Network() *NetworkConfig {
	return w.network
}

// Mainnet reports whether addresses use the mainnet version byte.
func (w *Wallet) Mainnet() bool {
	return w.network.AddressVersion == MainNet.AddressVersion
}

// SetChangeKeyCount resizes the change-key pool.
func (w *Wallet) SetChangeKeyCount(n uint32) error {
	if n == 0 || n > MaxChangeKeyCount {
		return fmt.Errorf("%w: change key count %d", ErrIndexOutOfRange, n)
	}
	w.changeCount = n
	return nil
}

// deriveAccount derives the account-level key: m/44'/145'/account'
func (w *Wallet) deriveAccount(account uint32) (*bip32.ExtendedKey, error) {
	purpose, err := w.masterKey.Child(PurposeBIP44 + Hardened)
	if err != nil {
		return nil, fmt.Errorf("%w: purpose derivation: %w", ErrDerivationFailed, err)
	}

	coinType, err := purpose.Child(CoinTypeBSV + Hardened)
	if err != nil {
		return nil, fmt.Errorf("%w: coin type derivation: %w", ErrDerivationFailed, err)
	}

	accountKey, err := coinType.Child(account + Hardened)
	if err != nil {
		return nil, fmt.Errorf("%w: account derivation: %w", ErrDerivationFailed, err)
	}

	return accountKey, nil
}

// DeriveKey derives m/44'/145'/0'/chain/index.
func (w *Wallet) DeriveKey(chain, index uint32) (*KeyPair, error) {
	if chain >= Hardened || index >= Hardened {
		return nil, fmt.Errorf("%w: %d/%d", ErrIndexOutOfRange, chain, index)
	}
	accountKey, err := w.deriveAccount(IdentityAccount)
	if err != nil {
		return nil, err
	}

	chainKey, err := accountKey.Child(chain)
	if err != nil {
		return nil, fmt.Errorf("%w: chain derivation: %w", ErrDerivationFailed, err)
	}

	childKey, err := chainKey.Child(index)
	if err != nil {
		return nil, fmt.Errorf("%w: index derivation: %w", ErrDerivationFailed, err)
	}

	return extKeyToKeyPair(childKey, fmt.Sprintf("m/44'/145'/%d'/%d/%d", IdentityAccount, chain, index))
}

// IdentityKey returns the key that addresses this wallet on the relay and
// anchors every ECDH exchange.
func (w *Wallet) IdentityKey() (*KeyPair, error) {
	return w.DeriveKey(ExternalChain, 0)
}

// ChangeKeys derives the change-key pool in index order.
func (w *Wallet) ChangeKeys() ([]*ec.PrivateKey, error) {
	keys := make([]*ec.PrivateKey, 0, w.changeCount)
	for i := uint32(0); i < w.changeCount; i++ {
		kp, err := w.DeriveKey(InternalChain, i)
		if err != nil {
			return nil, err
		}
		keys = append(keys, kp.PrivateKey)
	}
	return keys, nil
}

// extKeyToKeyPair converts a BIP32 extended key to a KeyPair.
func extKeyToKeyPair(extKey *bip32.ExtendedKey, path string) (*KeyPair, error) {
	privKey, err := extKey.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to extract EC private key: %w", ErrDerivationFailed, err)
	}

	pubKey := privKey.PubKey()
	if pubKey == nil {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrDerivationFailed)
	}

	return &KeyPair{
		PrivateKey: privKey,
		PublicKey:  pubKey,
		Path:       path,
	}, nil
}
