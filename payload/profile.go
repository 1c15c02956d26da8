package payload

import (
	"crypto/sha256"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"google.golang.org/protobuf/encoding/protowire"
)

// SignatureScheme identifies an AuthWrapper signature algorithm.
type SignatureScheme uint32

const (
	SignatureSchnorr SignatureScheme = 0
	SignatureECDSA   SignatureScheme = 1
)

// Profile is the metadata a user publishes at /profiles/{address}.
type Profile struct {
	Timestamp int64 // milliseconds
	TTL       int64 // milliseconds
	Entries   []Entry
}

// AuthWrapper carries a payload signed by PublicKey over sha256(Payload).
type AuthWrapper struct {
	PublicKey     []byte
	Signature     []byte
	Scheme        SignatureScheme
	Payload       []byte
	PayloadDigest []byte
}

// Marshal encodes the profile in wire format.
func (p *Profile) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(p.Timestamp))
	b = appendVarintField(b, 2, uint64(p.TTL))
	for i := range p.Entries {
		b = appendMessageField(b, 3, p.Entries[i].Marshal())
	}
	return b
}

// UnmarshalProfile decodes a wire-format profile.
func UnmarshalProfile(b []byte) (*Profile, error) {
	p := &Profile{}
	err := walk(b, func(f field) error {
		switch {
		case f.is(1, protowire.VarintType):
			p.Timestamp = int64(f.x)
		case f.is(2, protowire.VarintType):
			p.TTL = int64(f.x)
		case f.is(3, protowire.BytesType):
			e, err := unmarshalEntry(f.v)
			if err != nil {
				return err
			}
			p.Entries = append(p.Entries, *e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Marshal encodes the wrapper in wire format.
func (w *AuthWrapper) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, w.PublicKey)
	b = appendBytesField(b, 2, w.Signature)
	b = appendVarintField(b, 3, uint64(w.Scheme))
	b = appendBytesField(b, 4, w.Payload)
	b = appendBytesField(b, 5, w.PayloadDigest)
	return b
}

// UnmarshalAuthWrapper decodes a wire-format auth wrapper.
func UnmarshalAuthWrapper(b []byte) (*AuthWrapper, error) {
	w := &AuthWrapper{}
	err := walk(b, func(f field) error {
		switch {
		case f.is(1, protowire.BytesType):
			w.PublicKey = f.bytes()
		case f.is(2, protowire.BytesType):
			w.Signature = f.bytes()
		case f.is(3, protowire.VarintType):
			w.Scheme = SignatureScheme(f.x)
		case f.is(4, protowire.BytesType):
			w.Payload = f.bytes()
		case f.is(5, protowire.BytesType):
			w.PayloadDigest = f.bytes()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// SignProfile wraps p in an ECDSA-signed AuthWrapper.
func SignProfile(p *Profile, priv *ec.PrivateKey) (*AuthWrapper, error) {
	if p == nil || priv == nil {
		return nil, fmt.Errorf("%w: profile or key", ErrNilParam)
	}
	body := p.Marshal()
	digest := sha256.Sum256(body)
	sig := ecdsa.Sign(secp256k1.PrivKeyFromBytes(priv.Serialize()), digest[:])
	return &AuthWrapper{
		PublicKey:     priv.PubKey().Compressed(),
		Signature:     sig.Serialize(),
		Scheme:        SignatureECDSA,
		Payload:       body,
		PayloadDigest: digest[:],
	}, nil
}

// VerifyProfile checks the wrapper's signature and decodes the profile.
func VerifyProfile(w *AuthWrapper) (*Profile, *ec.PublicKey, error) {
	if w == nil {
		return nil, nil, fmt.Errorf("%w: wrapper", ErrNilParam)
	}
	if w.Scheme != SignatureECDSA {
		return nil, nil, fmt.Errorf("%w: signature scheme %d", ErrUnsupportedScheme, w.Scheme)
	}
	digest := sha256.Sum256(w.Payload)
	if len(w.PayloadDigest) != 0 && string(w.PayloadDigest) != string(digest[:]) {
		return nil, nil, ErrDigestMismatch
	}

	pub, err := secp256k1.ParsePubKey(w.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	sig, err := ecdsa.ParseDERSignature(w.Signature)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if !sig.Verify(digest[:], pub) {
		return nil, nil, ErrInvalidSignature
	}

	p, err := UnmarshalProfile(w.Payload)
	if err != nil {
		return nil, nil, err
	}
	signer, err := ec.PublicKeyFromBytes(w.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	return p, signer, nil
}
