package stealth

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKeyPair(t *testing.T) (*ec.PrivateKey, *ec.PublicKey) {
	t.Helper()
	priv, err := ec.NewPrivateKey()
	require.NoError(t, err)
	return priv, priv.PubKey()
}

func randomDigest(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// --- ECDH ---

func TestMergedKey_Symmetric(t *testing.T) {
	a, aPub := generateKeyPair(t)
	b, bPub := generateKeyPair(t)

	ab, err := MergedKey(a, bPub)
	require.NoError(t, err)
	ba, err := MergedKey(b, aPub)
	require.NoError(t, err)

	assert.Equal(t, ab.Compressed(), ba.Compressed())
}

func TestMergedKey_NilKeys(t *testing.T) {
	priv, pub := generateKeyPair(t)

	_, err := MergedKey(nil, pub)
	assert.ErrorIs(t, err, ErrNilPrivateKey)

	_, err = MergedKey(priv, nil)
	assert.ErrorIs(t, err, ErrNilPublicKey)
}

func TestSharedKey_MatchesDefinition(t *testing.T) {
	a, _ := generateKeyPair(t)
	_, bPub := generateKeyPair(t)
	salt := []byte("salt")

	got, err := SharedKey(a, bPub, salt)
	require.NoError(t, err)
	assert.Len(t, got, SharedKeyLen)

	merged, err := MergedKey(a, bPub)
	require.NoError(t, err)
	mac := hmac.New(sha256.New, salt)
	mac.Write(merged.Compressed())
	assert.Equal(t, mac.Sum(nil), got)
}

func TestSharedKey_BothSidesAgree(t *testing.T) {
	a, aPub := generateKeyPair(t)
	b, bPub := generateKeyPair(t)
	salt := randomDigest(t)

	k1, err := SharedKey(a, bPub, salt)
	require.NoError(t, err)
	k2, err := SharedKey(b, aPub, salt)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

// --- Stealth and stamp keys ---

func TestStealthKeySymmetry(t *testing.T) {
	for i := 0; i < 20; i++ {
		e, ePub := generateKeyPair(t)
		d, dPub := generateKeyPair(t)

		pub, h1, err := StealthPublicKey(e, dPub)
		require.NoError(t, err)
		priv, h2, err := StealthPrivateKey(ePub, d)
		require.NoError(t, err)

		assert.Equal(t, h1, h2, "blinding hash")
		assert.Equal(t, pub.Compressed(), priv.PubKey().Compressed())
	}
}

func TestStampKeySymmetry(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := randomDigest(t)
		d, dPub := generateKeyPair(t)

		pub, err := StampPublicKey(h, dPub)
		require.NoError(t, err)
		priv, err := StampPrivateKey(h, d)
		require.NoError(t, err)

		assert.Equal(t, pub.Compressed(), priv.PubKey().Compressed())
	}
}

func TestStampKey_DiffersFromDestination(t *testing.T) {
	_, dPub := generateKeyPair(t)
	pub, err := StampPublicKey(randomDigest(t), dPub)
	require.NoError(t, err)
	assert.NotEqual(t, dPub.Compressed(), pub.Compressed())
}

func TestStampKey_InvalidDigest(t *testing.T) {
	d, dPub := generateKeyPair(t)

	_, err := StampPublicKey(make([]byte, 32), dPub)
	assert.ErrorIs(t, err, ErrInvalidScalar, "zero digest")

	_, err = StampPrivateKey(bytes.Repeat([]byte{0xff}, 32), d)
	assert.ErrorIs(t, err, ErrInvalidScalar, "digest above curve order")

	_, err = StampPublicKey([]byte{1, 2, 3}, dPub)
	assert.ErrorIs(t, err, ErrInvalidScalar, "short digest")
}

// --- HD expansion ---

func TestStealthHD_SenderAndRecipientAgree(t *testing.T) {
	e, ePub := generateKeyPair(t)
	d, dPub := generateKeyPair(t)

	sender, err := StealthHDPublicKey(e, dPub)
	require.NoError(t, err)
	assert.False(t, sender.IsPrivate())

	recipient, err := StealthHDPrivateKey(ePub, d)
	require.NoError(t, err)
	assert.True(t, recipient.IsPrivate())

	for txn := uint32(0); txn < 3; txn++ {
		for out := uint32(0); out < 2; out++ {
			pub, err := sender.PublicKey(txn, out)
			require.NoError(t, err)
			priv, err := recipient.PrivateKey(txn, out)
			require.NoError(t, err)
			assert.Equal(t, pub.Compressed(), priv.PubKey().Compressed(), "txn %d out %d", txn, out)
		}
	}
}

func TestStampHD_SenderAndRecipientAgree(t *testing.T) {
	digest := randomDigest(t)
	d, dPub := generateKeyPair(t)

	sender, err := StampHDPublicKey(digest, dPub)
	require.NoError(t, err)
	recipient, err := StampHDPrivateKey(digest, d)
	require.NoError(t, err)

	pub, err := sender.PublicKey(0, 0)
	require.NoError(t, err)
	priv, err := recipient.PrivateKey(0, 0)
	require.NoError(t, err)
	assert.Equal(t, pub.Compressed(), priv.PubKey().Compressed())

	other, err := sender.PublicKey(1, 0)
	require.NoError(t, err)
	assert.NotEqual(t, pub.Compressed(), other.Compressed())
}

func TestHD_PublicOnlyRefusesPrivate(t *testing.T) {
	_, pub := generateKeyPair(t)
	hd, err := NewHDPublicKey(pub, randomDigest(t))
	require.NoError(t, err)

	_, err = hd.PrivateKey(0, 0)
	assert.ErrorIs(t, err, ErrNotPrivate)
}

func TestHD_BadChainCode(t *testing.T) {
	priv, pub := generateKeyPair(t)

	_, err := NewHDPrivateKey(priv, []byte{1})
	assert.ErrorIs(t, err, ErrInvalidChainCode)

	_, err = NewHDPublicKey(pub, nil)
	assert.ErrorIs(t, err, ErrInvalidChainCode)
}

// --- Cipher ---

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := randomDigest(t)
	tests := [][]byte{
		[]byte("a"),
		[]byte("hello, stamp"),
		bytes.Repeat([]byte{0x42}, 16),
		bytes.Repeat([]byte{0x00}, 1000),
	}
	for _, plain := range tests {
		ct := Encrypt(key, plain)
		assert.Zero(t, len(ct)%16)
		assert.Greater(t, len(ct), len(plain))

		got, err := Decrypt(key, ct)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestEncrypt_UsesKeyHalves(t *testing.T) {
	key := randomDigest(t)
	other := append([]byte{}, key...)
	other[0] ^= 0x01 // IV only

	plain := []byte("same plaintext, different iv")
	assert.NotEqual(t, Encrypt(key, plain), Encrypt(other, plain))
}

func TestDecrypt_Malformed(t *testing.T) {
	key := randomDigest(t)

	_, err := Decrypt(key, nil)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = Decrypt(key, []byte("not a block multiple"))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestEncrypt_PanicsOnBadKeyLength(t *testing.T) {
	assert.Panics(t, func() { Encrypt([]byte("short"), []byte("x")) })
	assert.Panics(t, func() { _, _ = Decrypt(make([]byte, 31), make([]byte, 16)) })
}

func TestPayloadHMAC(t *testing.T) {
	key := randomDigest(t)
	digest := randomDigest(t)

	mac := PayloadHMAC(key, digest)
	assert.Len(t, mac, 32)

	h := hmac.New(sha256.New, key)
	h.Write(digest)
	assert.Equal(t, h.Sum(nil), mac)

	digest[0] ^= 0xff
	assert.NotEqual(t, mac, PayloadHMAC(key, digest))
}
