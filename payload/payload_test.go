package payload

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	mrand "math/rand/v2"
	"testing"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libstamp-go/tx"
	"github.com/bitfsorg/libstamp-go/utxo"
)

// --- Helpers ---

func generateKeyPair(t *testing.T) (*ec.PrivateKey, *ec.PublicKey) {
	t.Helper()
	priv, err := ec.NewPrivateKey()
	require.NoError(t, err)
	return priv, priv.PubKey()
}

type staticKeys []*ec.PrivateKey

func (k staticKeys) ChangeKeys() ([]*ec.PrivateKey, error) { return k, nil }

// fundedCodec returns a codec for a fresh identity whose store holds one
// UTXO per amount.
func fundedCodec(t *testing.T, amounts ...uint64) (*Codec, *ec.PrivateKey, utxo.Store) {
	t.Helper()
	identity, _ := generateKeyPair(t)
	store := utxo.NewMemoryStore()
	for _, amt := range amounts {
		priv, pub := generateKeyPair(t)
		addr, err := tx.Address(pub, true)
		require.NoError(t, err)
		txid := make([]byte, 32)
		_, err = rand.Read(txid)
		require.NoError(t, err)
		require.NoError(t, store.Put(&utxo.Utxo{
			TxID:       hex.EncodeToString(txid),
			Satoshis:   amt,
			Address:    addr,
			PrivateKey: priv,
		}))
	}
	change := make(staticKeys, 4)
	for i := range change {
		change[i], _ = generateKeyPair(t)
	}
	b := tx.NewBuilder(store, change, tx.WithRand(mrand.New(mrand.NewPCG(3, 4))))
	return NewCodec(b, identity, true), identity, store
}

func decodeOnlyCodec(t *testing.T) (*Codec, *ec.PrivateKey) {
	t.Helper()
	priv, _ := generateKeyPair(t)
	return NewCodec(nil, priv, true), priv
}

func testPayload() *Payload {
	return &Payload{
		Timestamp: 1_700_000_000_000,
		Entries: []Entry{
			{Kind: KindText, Data: []byte("hello")},
			{Kind: KindImage, Headers: []Header{{Name: HeaderMimeType, Value: []byte("image/png")}}, Data: []byte{0x89, 'P', 'N', 'G'}},
		},
	}
}

// --- Wire format ---

func TestMessage_WireRoundTrip(t *testing.T) {
	_, src := generateKeyPair(t)
	_, dst := generateKeyPair(t)
	msg := &Message{
		SourcePublicKey:      src.Compressed(),
		DestinationPublicKey: dst.Compressed(),
		ReceivedTime:         1234,
		PayloadDigest:        make([]byte, 32),
		Stamp: &Stamp{Type: StampMessageCommitment, Outpoints: []Outpoints{
			{Transaction: []byte{1, 2, 3}, Vouts: []uint32{0, 2, 300}},
		}},
		Scheme:      SchemeEphemeralDH,
		Salt:        []byte("salt"),
		PayloadHMAC: make([]byte, 32),
		PayloadSize: 5,
		Payload:     []byte("12345"),
	}

	got, err := UnmarshalMessage(msg.Marshal())
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	p := testPayload()
	b := p.Marshal()
	// field 15, varint 7
	b = append(b, 15<<3|0, 7)

	got, err := UnmarshalPayload(b)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestUnmarshal_Malformed(t *testing.T) {
	_, err := UnmarshalMessage([]byte{0x0a, 0x05, 0x01})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = UnmarshalPayload([]byte{0xff})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestOutpoints_AcceptsUnpackedVouts(t *testing.T) {
	// field 2 as three separate varints
	b := []byte{0x10, 0x01, 0x10, 0x02, 0x10, 0x03}
	op, err := UnmarshalOutpoints(b)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, op.Vouts)
}

func TestMessagePage_RoundTrip(t *testing.T) {
	page := &MessagePage{
		Messages:  []*Message{{Payload: []byte("a")}, {Payload: []byte("b")}},
		StartTime: 10,
		EndTime:   20,
	}
	got, err := UnmarshalMessagePage(page.Marshal())
	require.NoError(t, err)
	assert.Equal(t, page, got)
}

// --- Parse ---

func validMessage(t *testing.T) *Message {
	t.Helper()
	c, src := decodeOnlyCodec(t)
	_, dst := generateKeyPair(t)
	out, err := c.ConstructMessage(testPayload().Marshal(), src, dst, 0)
	require.NoError(t, err)
	return out.Message
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Message)
		err    error
	}{
		{"short hmac", func(m *Message) { m.PayloadHMAC = m.PayloadHMAC[:31] }, ErrHMACLength},
		{"size mismatch", func(m *Message) { m.PayloadSize++ }, ErrPayloadSize},
		{"digest mismatch", func(m *Message) { m.PayloadDigest[0] ^= 1 }, ErrDigestMismatch},
		{"payload flipped", func(m *Message) { m.Payload[3] ^= 0x80 }, ErrDigestMismatch},
		{"digest length", func(m *Message) { m.PayloadDigest = m.PayloadDigest[:16] }, ErrDigestLength},
		{"nothing", func(m *Message) { m.PayloadDigest, m.Payload, m.PayloadSize = nil, nil, 0 }, ErrNoPayload},
		{"bad source", func(m *Message) { m.SourcePublicKey = []byte{2, 3} }, ErrInvalidPublicKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMessage(t)
			tt.mutate(m)
			_, err := Parse(m)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestParse_EmptyDigestTrustsPayload(t *testing.T) {
	m := validMessage(t)
	want := sha256.Sum256(m.Payload)
	m.PayloadDigest = nil

	pm, err := Parse(m)
	require.NoError(t, err)
	assert.Equal(t, want[:], pm.Digest)
}

func TestSetPayload(t *testing.T) {
	m := validMessage(t)
	body := m.Payload
	m.Payload = nil

	pm, err := Parse(m)
	require.NoError(t, err)

	_, err = pm.Open(nil)
	assert.ErrorIs(t, err, ErrNilParam)

	tampered := append([]byte(nil), body...)
	tampered[0] ^= 1
	assert.ErrorIs(t, pm.SetPayload(tampered), ErrDigestMismatch)
	require.NoError(t, pm.SetPayload(body))
	assert.Equal(t, body, pm.Message.Payload)
}

// --- Envelope ---

func TestConstructMessage_RoundTrip(t *testing.T) {
	sender, srcPriv := decodeOnlyCodec(t)
	dstPriv, dstPub := generateKeyPair(t)

	plain := testPayload().Marshal()
	out, err := sender.ConstructMessage(plain, srcPriv, dstPub, 0)
	require.NoError(t, err)
	assert.Nil(t, out.Message.Stamp)
	assert.Empty(t, out.Bundles)

	wire, err := UnmarshalMessage(out.Message.Marshal())
	require.NoError(t, err)
	pm, err := Parse(wire)
	require.NoError(t, err)
	assert.Equal(t, out.PayloadDigest, pm.Digest)

	got, err := pm.Open(dstPriv)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	self, err := pm.OpenSelf(srcPriv)
	require.NoError(t, err)
	assert.Equal(t, plain, self)
}

func TestConstructMessage_SaltIsDeterministic(t *testing.T) {
	c, src := decodeOnlyCodec(t)
	_, dst := generateKeyPair(t)

	a, err := c.ConstructMessage([]byte("same"), src, dst, 0)
	require.NoError(t, err)
	b, err := c.ConstructMessage([]byte("same"), src, dst, 0)
	require.NoError(t, err)
	assert.Equal(t, a.Message.Salt, b.Message.Salt)
	assert.Len(t, a.Message.Salt, 32)

	d, err := c.ConstructMessage([]byte("different"), src, dst, 0)
	require.NoError(t, err)
	assert.NotEqual(t, a.Message.Salt, d.Message.Salt)
}

func TestOpen_TamperDetection(t *testing.T) {
	c, src := decodeOnlyCodec(t)
	dstPriv, dst := generateKeyPair(t)
	out, err := c.ConstructMessage([]byte("attack at dawn"), src, dst, 0)
	require.NoError(t, err)

	t.Run("hmac", func(t *testing.T) {
		m := out.Message.Clone()
		m.PayloadHMAC[5] ^= 1
		pm, err := Parse(m)
		require.NoError(t, err)
		_, err = pm.Open(dstPriv)
		assert.ErrorIs(t, err, ErrAuthentication)
		assert.EqualError(t, ErrAuthentication, "Failed to authenticate message")
	})

	t.Run("payload without digest", func(t *testing.T) {
		for bit := 0; bit < len(out.Message.Payload)*8; bit += 13 {
			m := out.Message.Clone()
			m.PayloadDigest = nil
			m.Payload[bit/8] ^= 1 << (bit % 8)
			pm, err := Parse(m)
			require.NoError(t, err)
			_, err = pm.Open(dstPriv)
			assert.ErrorIs(t, err, ErrAuthentication, "bit %d", bit)
		}
	})

	t.Run("salt", func(t *testing.T) {
		m := out.Message.Clone()
		m.Salt[0] ^= 1
		pm, err := Parse(m)
		require.NoError(t, err)
		_, err = pm.Open(dstPriv)
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, _ := generateKeyPair(t)
		pm, err := Parse(out.Message.Clone())
		require.NoError(t, err)
		_, err = pm.Open(other)
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("scheme", func(t *testing.T) {
		m := out.Message.Clone()
		m.Scheme = SchemeNone
		pm, err := Parse(m)
		require.NoError(t, err)
		_, err = pm.Open(dstPriv)
		assert.ErrorIs(t, err, ErrUnsupportedScheme)
	})
}

func TestConstructMessage_Errors(t *testing.T) {
	c, src := decodeOnlyCodec(t)
	_, dst := generateKeyPair(t)

	_, err := c.ConstructMessage(nil, src, dst, 0)
	var ce *ConstructError
	require.ErrorAs(t, err, &ce)
	assert.Empty(t, ce.PayloadDigest)

	// Stamping needs a builder; the digest is already known.
	_, err = c.ConstructMessage([]byte("x"), src, dst, 1000)
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.PayloadDigest, 32)
	assert.ErrorIs(t, err, ErrNilParam)
}

func TestConstructMessage_InsufficientFundsCarriesDigest(t *testing.T) {
	c, src, store := fundedCodec(t, 600)
	_, dst := generateKeyPair(t)

	_, err := c.ConstructMessage([]byte("hi"), src, dst, 1000)
	var ce *ConstructError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.PayloadDigest, 32)
	assert.ErrorIs(t, err, tx.ErrInsufficientFunds)

	for u := range store.Frozen() {
		t.Fatalf("utxo %s left frozen", u.ID())
	}
}

// --- Stamps ---

func TestStamp_RecoveredByRecipient(t *testing.T) {
	sender, srcPriv, store := fundedCodec(t, 100_000)
	dstPriv, dstPub := generateKeyPair(t)

	out, err := sender.ConstructMessage([]byte("stamped"), srcPriv, dstPub, 1000)
	require.NoError(t, err)
	require.NotNil(t, out.Message.Stamp)
	require.NotEmpty(t, out.Bundles)

	var frozen int
	for range store.Frozen() {
		frozen++
	}
	assert.Equal(t, 1, frozen)

	wire, err := UnmarshalMessage(out.Message.Marshal())
	require.NoError(t, err)
	pm, err := Parse(wire)
	require.NoError(t, err)

	recipient := NewCodec(nil, dstPriv, true)
	utxos, err := recipient.RecoverStamp(pm)
	require.NoError(t, err)
	require.NotEmpty(t, utxos)

	var total uint64
	for _, u := range utxos {
		total += u.Satoshis
		assert.Equal(t, utxo.TypeStamp, u.Type)
		addr, err := tx.Address(u.PrivateKey.PubKey(), true)
		require.NoError(t, err)
		assert.Equal(t, addr, u.Address)
	}
	assert.Equal(t, uint64(1000), total)

	// Funding transactions are the ones the sender built.
	assert.Equal(t, out.Bundles[0].TxID(), utxos[0].TxID)
}

func TestStamp_WrongKeyMismatches(t *testing.T) {
	sender, srcPriv, _ := fundedCodec(t, 100_000)
	_, dstPub := generateKeyPair(t)

	out, err := sender.ConstructMessage([]byte("stamped"), srcPriv, dstPub, 1000)
	require.NoError(t, err)
	pm, err := Parse(out.Message)
	require.NoError(t, err)

	_, err = RecoverStamp(pm, srcPriv, true)
	assert.ErrorIs(t, err, ErrStampMismatch)
}

func TestStamp_NoneIsEmpty(t *testing.T) {
	pm, err := Parse(validMessage(t))
	require.NoError(t, err)
	priv, _ := generateKeyPair(t)
	utxos, err := RecoverStamp(pm, priv, true)
	require.NoError(t, err)
	assert.Empty(t, utxos)
}

// --- Entries ---

func TestEncodeDecode_SimpleKinds(t *testing.T) {
	c, _ := decodeOnlyCodec(t)
	digest := sha256.Sum256([]byte("earlier"))

	items := []Item{
		TextItem{Text: "héllo"},
		ReplyItem{PayloadDigest: digest[:]},
		ImageItem{Image: []byte{1, 2, 3}, MimeType: "image/jpeg"},
		ForwardItem{SourcePublicKey: []byte{2, 1}, Payload: testPayload()},
	}
	for _, item := range items {
		t.Run(item.Kind(), func(t *testing.T) {
			enc, err := c.EncodeEntry(item, nil)
			require.NoError(t, err)
			assert.Equal(t, item.Kind(), enc.Entry.Kind)
			assert.Empty(t, enc.Bundles)

			// through the payload wire format
			p, err := UnmarshalPayload((&Payload{Entries: []Entry{enc.Entry}}).Marshal())
			require.NoError(t, err)

			got, utxos, err := c.DecodeEntry(p.Entries[0], false)
			require.NoError(t, err)
			assert.Empty(t, utxos)
			assert.Equal(t, item, got)
		})
	}
}

func TestDecodeEntry_Rejects(t *testing.T) {
	c, _ := decodeOnlyCodec(t)

	_, _, err := c.DecodeEntry(Entry{Kind: KindText, Data: []byte{0xff, 0xfe}}, false)
	assert.ErrorIs(t, err, ErrMalformed)

	_, _, err = c.DecodeEntry(Entry{Kind: KindReply, Data: []byte{1}}, false)
	assert.ErrorIs(t, err, ErrDigestLength)

	_, _, err = c.DecodeEntry(Entry{Kind: "sticker"}, false)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = c.EncodeEntry(StealthItem{Amount: 5000}, nil)
	assert.ErrorIs(t, err, ErrNilParam)
}

func TestStealthPayment_50000(t *testing.T) {
	sender, _, store := fundedCodec(t, 100_000)
	recipient, bPriv := decodeOnlyCodec(t)

	enc, err := sender.EncodeEntry(StealthItem{Amount: 50_000}, bPriv.PubKey())
	require.NoError(t, err)
	require.NotEmpty(t, enc.Bundles)
	assert.Len(t, enc.Transactions(), len(enc.Bundles))
	for _, u := range enc.StagedUtxos() {
		got, err := store.Get(u.ID())
		require.NoError(t, err)
		assert.True(t, got.Frozen)
	}

	var paid uint64
	for _, o := range enc.Outputs {
		paid += o.Satoshis
	}
	assert.Equal(t, uint64(50_000), paid)

	item, utxos, err := recipient.DecodeEntry(enc.Entry, false)
	require.NoError(t, err)
	require.Len(t, utxos, len(enc.Outputs))
	assert.Equal(t, uint64(50_000), item.(StealthItem).Amount)

	for i, u := range utxos {
		assert.Equal(t, utxo.TypeStealth, u.Type)
		assert.Equal(t, enc.Outputs[i].Address, u.Address, "recipient derives the paid address")
		assert.Equal(t, enc.Outputs[i].TxID, u.TxID)
		assert.Equal(t, enc.Outputs[i].Vout, u.OutputIndex)
	}
}

func TestStealthPayment_OutboundTrusted(t *testing.T) {
	sender, _, _ := fundedCodec(t, 100_000)
	_, bPub := generateKeyPair(t)

	enc, err := sender.EncodeEntry(StealthItem{Amount: 20_000}, bPub)
	require.NoError(t, err)

	item, utxos, err := sender.DecodeEntry(enc.Entry, true)
	require.NoError(t, err)
	assert.Empty(t, utxos, "payer never stores the payee's outputs")
	assert.Equal(t, uint64(20_000), item.(StealthItem).Amount)
	assert.Len(t, item.(StealthItem).TxIDs, len(enc.Bundles))
}

func TestStealthPayment_RejectsMismatchedAddress(t *testing.T) {
	sender, _, _ := fundedCodec(t, 100_000)
	recipient, bPriv := decodeOnlyCodec(t)

	enc, err := sender.EncodeEntry(StealthItem{Amount: 50_000}, bPriv.PubKey())
	require.NoError(t, err)
	body, err := UnmarshalStealthPaymentEntry(enc.Entry.Data)
	require.NoError(t, err)

	sdkTx, err := transaction.NewTransactionFromBytes(body.Outpoints[0].Transaction)
	require.NoError(t, err)
	require.Greater(t, len(sdkTx.Outputs), 1, "expected change output")
	primary := body.Outpoints[0].Vouts[0]
	body.Outpoints[0].Vouts[0] = (primary + 1) % uint32(len(sdkTx.Outputs))

	item, utxos, err := recipient.DecodeEntry(Entry{Kind: KindStealth, Data: body.Marshal()}, false)
	assert.ErrorIs(t, err, ErrStealthMismatch)
	assert.Nil(t, item)
	assert.Empty(t, utxos)

	// A third party cannot claim the payment either.
	stranger, _ := decodeOnlyCodec(t)
	_, _, err = stranger.DecodeEntry(enc.Entry, false)
	assert.ErrorIs(t, err, ErrStealthMismatch)
}

func TestP2PKH_PayeeRecoversOutput(t *testing.T) {
	sender, _, _ := fundedCodec(t, 100_000)
	recipient, bPriv := decodeOnlyCodec(t)
	addr, err := tx.Address(bPriv.PubKey(), true)
	require.NoError(t, err)

	enc, err := sender.EncodeEntry(P2PKHItem{Address: addr, Amount: 12_345}, nil)
	require.NoError(t, err)
	require.Len(t, enc.Bundles, 1)

	item, utxos, err := recipient.DecodeEntry(enc.Entry, false)
	require.NoError(t, err)
	p := item.(P2PKHItem)
	assert.Equal(t, addr, p.Address)
	assert.Equal(t, uint64(12_345), p.Amount)
	assert.Equal(t, enc.Bundles[0].TxID(), p.TxID)

	require.Len(t, utxos, 1)
	assert.Equal(t, uint64(12_345), utxos[0].Satoshis)
	assert.Same(t, bPriv, utxos[0].PrivateKey)

	_, utxos, err = sender.DecodeEntry(enc.Entry, true)
	require.NoError(t, err)
	assert.Empty(t, utxos)
}

// --- Profiles ---

func TestProfile_SignVerify(t *testing.T) {
	priv, pub := generateKeyPair(t)
	p := &Profile{
		Timestamp: 1_700_000_000_000,
		TTL:       int64(24 * time.Hour / time.Millisecond),
		Entries:   []Entry{{Kind: "name", Data: []byte("alice")}},
	}

	w, err := SignProfile(p, priv)
	require.NoError(t, err)

	wire, err := UnmarshalAuthWrapper(w.Marshal())
	require.NoError(t, err)
	got, signer, err := VerifyProfile(wire)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Equal(t, pub.Compressed(), signer.Compressed())

	tampered := *wire
	tampered.Payload = append([]byte(nil), wire.Payload...)
	tampered.Payload[len(tampered.Payload)-1] ^= 1
	tampered.PayloadDigest = nil
	_, _, err = VerifyProfile(&tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, other := generateKeyPair(t)
	forged := *wire
	forged.PublicKey = other.Compressed()
	_, _, err = VerifyProfile(&forged)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

// --- Message store ---

func TestMemoryMessageStore(t *testing.T) {
	s := NewMemoryMessageStore()
	d1 := sha256.Sum256([]byte("1"))
	d2 := sha256.Sum256([]byte("2"))
	now := time.Now()

	require.NoError(t, s.Put(&StoredMessage{Digest: d2[:], ReceivedAt: now.Add(time.Second)}))
	require.NoError(t, s.Put(&StoredMessage{Digest: d1[:], ReceivedAt: now, Status: StatusSent}))

	has, err := s.Has(d1[:])
	require.NoError(t, err)
	assert.True(t, has)

	m, err := s.Get(d1[:])
	require.NoError(t, err)
	assert.Equal(t, StatusSent, m.Status)

	var order [][]byte
	for m := range s.Messages() {
		order = append(order, m.Digest)
	}
	assert.Equal(t, [][]byte{d1[:], d2[:]}, order)

	require.NoError(t, s.Delete(d1[:]))
	assert.ErrorIs(t, s.Delete(d1[:]), ErrMessageNotFound)
	_, err = s.Get(d1[:])
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.ErrorIs(t, s.Put(&StoredMessage{}), ErrNilParam)
}
