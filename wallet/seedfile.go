// Package wallet holds the key material behind a chat identity: a BIP39
// mnemonic, its password-encrypted seed, and the BIP32 identity and
// change keys derived from it.
package wallet

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bsv-blockchain/go-sdk/compat/bip39"
	"golang.org/x/crypto/argon2"
)

const (
	// Mnemonic entropy sizes in bits.
	Mnemonic12Words = 128
	Mnemonic24Words = 256

	// SeedFileName is the encrypted seed's file name inside the data directory.
	SeedFileName = "wallet.enc"

	// SeedFileVersion is the only seed file layout this package writes.
	SeedFileVersion = 1

	// Seed file field sizes.
	SaltLen  = 16
	NonceLen = 12
	tagLen   = 16
)

// seedMagic opens every seed file so a wrong file is rejected before any
// key stretching.
var seedMagic = [4]byte{'S', 'T', 'S', 'D'}

// headerLen covers magic, version and salt. The header is authenticated as
// GCM additional data.
const headerLen = len(seedMagic) + 1 + SaltLen

// Argon2id cost for the seed file key.
const (
	kdfTime    = 3
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32
)

// GenerateMnemonic returns a fresh mnemonic of 12 or 24 words, selected
// by entropyBits.
func GenerateMnemonic(entropyBits int) (string, error) {
	if entropyBits != Mnemonic12Words && entropyBits != Mnemonic24Words {
		return "", ErrInvalidEntropy
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", fmt.Errorf("wallet: entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("wallet: mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic reports whether mnemonic is a valid BIP39 phrase.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// SeedFromMnemonic derives the 64-byte BIP39 seed. An empty passphrase is
// still part of the derivation.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("wallet: derive seed: %w", err)
	}
	return seed, nil
}

// EncryptSeed seals seed under password in the seed file layout:
//
//	"STSD" | version(1) | salt(16) | nonce(12) | AES-256-GCM(seed)
//
// The key is argon2id(password, salt). Magic, version and salt are bound
// to the ciphertext as additional data.
func EncryptSeed(seed []byte, password string) ([]byte, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidSeed
	}

	header := make([]byte, headerLen)
	copy(header, seedMagic[:])
	header[len(seedMagic)] = SeedFileVersion
	salt := header[len(seedMagic)+1:]
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("wallet: salt: %w", err)
	}
	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("wallet: nonce: %w", err)
	}

	aead, err := seedCipher(password, salt)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, headerLen+NonceLen+len(seed)+tagLen)
	out = append(out, header...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, seed, header), nil
}

// DecryptSeed opens data written by EncryptSeed. A foreign or truncated
// file yields ErrSeedFileFormat; a wrong password or any tampering yields
// ErrDecryptionFailed.
func DecryptSeed(data []byte, password string) ([]byte, error) {
	if len(data) < headerLen+NonceLen+tagLen || !bytes.Equal(data[:len(seedMagic)], seedMagic[:]) {
		return nil, ErrSeedFileFormat
	}
	if v := data[len(seedMagic)]; v != SeedFileVersion {
		return nil, fmt.Errorf("%w: version %d", ErrSeedFileFormat, v)
	}

	aead, err := seedCipher(password, data[len(seedMagic)+1:headerLen])
	if err != nil {
		return nil, err
	}
	nonce := data[headerLen : headerLen+NonceLen]
	seed, err := aead.Open(nil, nonce, data[headerLen+NonceLen:], data[:headerLen])
	if err != nil || len(seed) == 0 {
		return nil, ErrDecryptionFailed
	}
	return seed, nil
}

func seedCipher(password string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(password), salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("wallet: seed cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("wallet: seed cipher: %w", err)
	}
	return aead, nil
}

// WriteSeedFile encrypts seed under password and writes it to path
// atomically with owner-only permissions.
func WriteSeedFile(path string, seed []byte, password string) error {
	encrypted, err := EncryptSeed(seed, password)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("wallet: create seed dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encrypted, 0600); err != nil {
		return fmt.Errorf("wallet: write seed file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("wallet: write seed file: %w", err)
	}
	return nil
}

// ReadSeedFile reads and decrypts the seed stored at path.
func ReadSeedFile(path, password string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSeedFileNotFound, path)
		}
		return nil, fmt.Errorf("wallet: read seed file: %w", err)
	}
	return DecryptSeed(data, password)
}
