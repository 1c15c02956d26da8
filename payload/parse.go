package payload

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libstamp-go/stealth"
)

// DigestSize is the length of a payload digest and payload HMAC.
const DigestSize = sha256.Size

// ParsedMessage is a validated Message with its keys decoded.
type ParsedMessage struct {
	Message     *Message
	Source      *ec.PublicKey
	Destination *ec.PublicKey
	Digest      []byte
}

// Parse validates msg and decodes its keys.
//
// The HMAC must be 32 bytes. A present payload must match the reported size
// and, when a 32-byte digest is declared, hash to it. An empty digest means
// the payload's own hash is used.
func Parse(msg *Message) (*ParsedMessage, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: message", ErrNilParam)
	}
	if len(msg.PayloadHMAC) != DigestSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrHMACLength, len(msg.PayloadHMAC))
	}
	if len(msg.Payload) > 0 && msg.PayloadSize != 0 && msg.PayloadSize != uint64(len(msg.Payload)) {
		return nil, fmt.Errorf("%w: reported %d, actual %d", ErrPayloadSize, msg.PayloadSize, len(msg.Payload))
	}

	digest, err := Digest(msg)
	if err != nil {
		return nil, err
	}

	src, err := ec.PublicKeyFromBytes(msg.SourcePublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: source: %w", ErrInvalidPublicKey, err)
	}
	dst, err := ec.PublicKeyFromBytes(msg.DestinationPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: destination: %w", ErrInvalidPublicKey, err)
	}

	return &ParsedMessage{
		Message:     msg,
		Source:      src,
		Destination: dst,
		Digest:      digest,
	}, nil
}

// Digest returns the message's payload digest, validating it against the
// payload when both are present.
func Digest(msg *Message) ([]byte, error) {
	switch len(msg.PayloadDigest) {
	case 0:
		if len(msg.Payload) == 0 {
			return nil, ErrNoPayload
		}
		sum := sha256.Sum256(msg.Payload)
		return sum[:], nil
	case DigestSize:
		if len(msg.Payload) > 0 {
			sum := sha256.Sum256(msg.Payload)
			if !hmac.Equal(sum[:], msg.PayloadDigest) {
				return nil, ErrDigestMismatch
			}
		}
		return append([]byte(nil), msg.PayloadDigest...), nil
	default:
		return nil, fmt.Errorf("%w: got %d bytes", ErrDigestLength, len(msg.PayloadDigest))
	}
}

// SetPayload attaches separately fetched payload bytes after checking them
// against the digest.
func (pm *ParsedMessage) SetPayload(b []byte) error {
	sum := sha256.Sum256(b)
	if !hmac.Equal(sum[:], pm.Digest) {
		return ErrDigestMismatch
	}
	if pm.Message.PayloadSize != 0 && pm.Message.PayloadSize != uint64(len(b)) {
		return fmt.Errorf("%w: reported %d, actual %d", ErrPayloadSize, pm.Message.PayloadSize, len(b))
	}
	pm.Message.Payload = append([]byte(nil), b...)
	return nil
}

// Open decrypts a message addressed to priv.
func (pm *ParsedMessage) Open(priv *ec.PrivateKey) ([]byte, error) {
	return pm.open(priv, pm.Source)
}

// OpenSelf decrypts a message priv sent, using the destination key as the
// ECDH counterparty.
func (pm *ParsedMessage) OpenSelf(priv *ec.PrivateKey) ([]byte, error) {
	return pm.open(priv, pm.Destination)
}

func (pm *ParsedMessage) open(priv *ec.PrivateKey, counterparty *ec.PublicKey) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: private key", ErrNilParam)
	}
	if pm.Message.Scheme != SchemeEphemeralDH {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedScheme, pm.Message.Scheme)
	}
	if len(pm.Message.Payload) == 0 {
		return nil, ErrPayloadMissing
	}

	sharedKey, err := stealth.SharedKey(priv, counterparty, pm.Message.Salt)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(stealth.PayloadHMAC(sharedKey, pm.Digest), pm.Message.PayloadHMAC) {
		return nil, ErrAuthentication
	}
	plain, err := stealth.Decrypt(sharedKey, pm.Message.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return plain, nil
}
