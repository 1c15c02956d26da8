package stealth

import (
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// StealthPublicKey computes SHA256(e·D)·G + D for an ephemeral private key e
// and destination public key D. The blinding hash is returned alongside the
// key because it doubles as the HD chain code.
func StealthPublicKey(ephemeral *ec.PrivateKey, dest *ec.PublicKey) (*ec.PublicKey, []byte, error) {
	h, err := mergedHash(ephemeral, dest)
	if err != nil {
		return nil, nil, err
	}
	pub, err := blindPublic(h, dest)
	if err != nil {
		return nil, nil, err
	}
	return pub, h, nil
}

// StealthPrivateKey computes SHA256(d·E) + d mod n. Its public key equals
// StealthPublicKey(e, D) whenever E = e·G and D = d·G.
func StealthPrivateKey(ephemeralPub *ec.PublicKey, dest *ec.PrivateKey) (*ec.PrivateKey, []byte, error) {
	h, err := mergedHash(dest, ephemeralPub)
	if err != nil {
		return nil, nil, err
	}
	priv, err := blindPrivate(h, dest)
	if err != nil {
		return nil, nil, err
	}
	return priv, h, nil
}

// StampPublicKey computes digest·G + D.
func StampPublicKey(digest []byte, dest *ec.PublicKey) (*ec.PublicKey, error) {
	if dest == nil {
		return nil, ErrNilPublicKey
	}
	return blindPublic(digest, dest)
}

// StampPrivateKey computes digest + d mod n.
func StampPrivateKey(digest []byte, dest *ec.PrivateKey) (*ec.PrivateKey, error) {
	if dest == nil {
		return nil, ErrNilPrivateKey
	}
	return blindPrivate(digest, dest)
}

func scalarFromHash(h []byte) (*secp256k1.ModNScalar, error) {
	if len(h) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidScalar, len(h))
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(h); overflow || s.IsZero() {
		return nil, ErrInvalidScalar
	}
	return &s, nil
}

// blindPublic returns h·G + pub.
func blindPublic(h []byte, pub *ec.PublicKey) (*ec.PublicKey, error) {
	s, err := scalarFromHash(h)
	if err != nil {
		return nil, err
	}
	dest, err := secp256k1.ParsePubKey(pub.Compressed())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNilPublicKey, err)
	}

	var hG, d, sum secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s, &hG)
	dest.AsJacobian(&d)
	secp256k1.AddNonConst(&hG, &d, &sum)
	if (sum.X.IsZero() && sum.Y.IsZero()) || sum.Z.IsZero() {
		return nil, ErrPointAtInfinity
	}
	sum.ToAffine()

	blinded := secp256k1.NewPublicKey(&sum.X, &sum.Y)
	out, err := ec.PublicKeyFromBytes(blinded.SerializeCompressed())
	if err != nil {
		return nil, fmt.Errorf("stealth: convert public key: %w", err)
	}
	return out, nil
}

// blindPrivate returns h + priv mod n.
func blindPrivate(h []byte, priv *ec.PrivateKey) (*ec.PrivateKey, error) {
	s, err := scalarFromHash(h)
	if err != nil {
		return nil, err
	}
	var d secp256k1.ModNScalar
	d.SetByteSlice(priv.Serialize())
	s.Add(&d)
	if s.IsZero() {
		return nil, ErrPointAtInfinity
	}
	b := s.Bytes()
	out, _ := ec.PrivateKeyFromBytes(b[:])
	return out, nil
}
