// Package contact resolves user-facing handles to identity keys and keeps
// the local contact book.
//
// A handle is either a paymail (alias@domain), resolved through the
// bsvalias capability document and its PKI endpoint, or a hex compressed
// public key used as-is.
package contact

import (
	"encoding/hex"
	"fmt"
	"strings"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// HandleType is the addressing mode of a handle.
type HandleType int

const (
	HandlePaymail HandleType = iota
	HandlePubKey
)

func (h HandleType) String() string {
	switch h {
	case HandlePaymail:
		return "paymail"
	case HandlePubKey:
		return "pubkey"
	default:
		return "unknown"
	}
}

// Handle is a parsed handle.
type Handle struct {
	Type   HandleType
	Alias  string
	Domain string
	PubKey []byte // only for HandlePubKey
	Raw    string
}

// compressedPubKeyHexLen is the hex length of a 33-byte compressed key.
const compressedPubKeyHexLen = 66

// ParseHandle classifies s. A leading "$" or "stamp:" prefix is accepted and
// stripped. Paymail aliases and domains are lower-cased.
func ParseHandle(s string) (*Handle, error) {
	raw := s
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "stamp:")
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidHandle)
	}

	if isPubKeyHex(s) {
		pub, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidHandle, err)
		}
		if err := validateCompressedPubKey(pub); err != nil {
			return nil, err
		}
		return &Handle{Type: HandlePubKey, PubKey: pub, Raw: raw}, nil
	}

	alias, domain, ok := strings.Cut(s, "@")
	if !ok || alias == "" || domain == "" || strings.ContainsAny(domain, "@/ ") || !strings.Contains(domain, ".") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHandle, raw)
	}
	return &Handle{
		Type:   HandlePaymail,
		Alias:  strings.ToLower(alias),
		Domain: strings.ToLower(strings.TrimSuffix(domain, ".")),
		Raw:    raw,
	}, nil
}

// String returns the canonical form: alias@domain or the key hex.
func (h *Handle) String() string {
	if h.Type == HandlePubKey {
		return hex.EncodeToString(h.PubKey)
	}
	return h.Alias + "@" + h.Domain
}

func isPubKeyHex(s string) bool {
	if len(s) != compressedPubKeyHexLen {
		return false
	}
	if !strings.HasPrefix(s, "02") && !strings.HasPrefix(s, "03") {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// validateCompressedPubKey checks pub is a 33-byte compressed point on the
// curve.
func validateCompressedPubKey(pub []byte) error {
	if len(pub) != 33 {
		return fmt.Errorf("%w: expected 33 bytes, got %d", ErrInvalidPubKey, len(pub))
	}
	if pub[0] != 0x02 && pub[0] != 0x03 {
		return fmt.Errorf("%w: invalid prefix byte 0x%02x", ErrInvalidPubKey, pub[0])
	}
	if _, err := ec.PublicKeyFromBytes(pub); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPubKey, err)
	}
	return nil
}
