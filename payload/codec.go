package payload

import (
	"crypto/sha256"
	"fmt"
	"unicode/utf8"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/transaction"

	"github.com/bitfsorg/libstamp-go/log"
	"github.com/bitfsorg/libstamp-go/stealth"
	"github.com/bitfsorg/libstamp-go/tx"
	"github.com/bitfsorg/libstamp-go/utxo"
)

// HeaderMimeType names an image entry's media type.
const HeaderMimeType = "mime-type"

// Item is a decoded payload entry.
type Item interface {
	Kind() string
}

type TextItem struct{ Text string }

// ReplyItem references the payload digest of the message replied to.
type ReplyItem struct{ PayloadDigest []byte }

type ImageItem struct {
	Image    []byte
	MimeType string
}

// StealthItem pays Amount to one-time keys derived from the recipient's
// identity key.
type StealthItem struct {
	Amount uint64
	TxIDs  []string // set on decode
}

// P2PKHItem pays Amount to an ordinary address.
type P2PKHItem struct {
	Address string
	Amount  uint64
	TxID    string // set on decode
}

// ForwardItem re-sends a payload originally received from SourcePublicKey.
type ForwardItem struct {
	SourcePublicKey []byte
	Payload         *Payload
}

func (TextItem) Kind() string    { return KindText }
func (ReplyItem) Kind() string   { return KindReply }
func (ImageItem) Kind() string   { return KindImage }
func (StealthItem) Kind() string { return KindStealth }
func (P2PKHItem) Kind() string   { return KindP2PKH }
func (ForwardItem) Kind() string { return KindForward }

// Output is a paid output worth showing to the user.
type Output struct {
	TxID     string
	Vout     uint32
	Satoshis uint64
	Address  string
}

// Encoded is the result of encoding one item.
type Encoded struct {
	Entry   Entry
	Bundles []*tx.Bundle
	Outputs []Output
}

// Transactions returns every transaction that must be broadcast.
func (e *Encoded) Transactions() []*transaction.Transaction {
	txs := make([]*transaction.Transaction, len(e.Bundles))
	for i, b := range e.Bundles {
		txs[i] = b.Transaction
	}
	return txs
}

// StagedUtxos returns every UTXO frozen while encoding.
func (e *Encoded) StagedUtxos() []*utxo.Utxo {
	var us []*utxo.Utxo
	for _, b := range e.Bundles {
		us = append(us, b.UsedUtxos...)
	}
	return us
}

// Codec encodes and decodes entries for one identity.
type Codec struct {
	builder  *tx.Builder
	identity *ec.PrivateKey
	mainnet  bool
}

// NewCodec creates a codec. builder may be nil for a decode-only codec.
func NewCodec(builder *tx.Builder, identity *ec.PrivateKey, mainnet bool) *Codec {
	return &Codec{builder: builder, identity: identity, mainnet: mainnet}
}

// EncodeEntry turns item into a payload entry. Payment items build and
// freeze their funding transactions; the caller must commit or release the
// returned bundles.
func (c *Codec) EncodeEntry(item Item, dest *ec.PublicKey) (*Encoded, error) {
	switch it := item.(type) {
	case TextItem:
		return &Encoded{Entry: Entry{Kind: KindText, Data: []byte(it.Text)}}, nil

	case ReplyItem:
		if len(it.PayloadDigest) != DigestSize {
			return nil, fmt.Errorf("%w: reply digest", ErrDigestLength)
		}
		return &Encoded{Entry: Entry{Kind: KindReply, Data: append([]byte(nil), it.PayloadDigest...)}}, nil

	case ImageItem:
		e := Entry{Kind: KindImage, Data: it.Image}
		if it.MimeType != "" {
			e.Headers = []Header{{Name: HeaderMimeType, Value: []byte(it.MimeType)}}
		}
		return &Encoded{Entry: e}, nil

	case StealthItem:
		return c.encodeStealth(it, dest)

	case P2PKHItem:
		return c.encodeP2PKH(it)

	case ForwardItem:
		if it.Payload == nil {
			return nil, fmt.Errorf("%w: forwarded payload", ErrNilParam)
		}
		body := &ForwardEntry{SourcePublicKey: it.SourcePublicKey, Payload: it.Payload.Marshal()}
		return &Encoded{Entry: Entry{Kind: KindForward, Data: body.Marshal()}}, nil

	case nil:
		return nil, fmt.Errorf("%w: item", ErrNilParam)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, item.Kind())
	}
}

func (c *Codec) encodeStealth(it StealthItem, dest *ec.PublicKey) (*Encoded, error) {
	if c.builder == nil {
		return nil, fmt.Errorf("%w: builder", ErrNilParam)
	}
	if dest == nil {
		return nil, fmt.Errorf("%w: destination", ErrNilParam)
	}
	ephemeral, err := ec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("payload: ephemeral key: %w", err)
	}
	hd, err := stealth.StealthHDPublicKey(ephemeral, dest)
	if err != nil {
		return nil, err
	}

	bundles, err := c.builder.ConstructTransactionSet(it.Amount, hdGenerator(hd))
	if err != nil {
		return nil, err
	}

	body := &StealthPaymentEntry{
		EphemeralPublicKey: ephemeral.PubKey().Compressed(),
		Outpoints:          outpointsOf(bundles),
	}
	return &Encoded{
		Entry:   Entry{Kind: KindStealth, Data: body.Marshal()},
		Bundles: bundles,
		Outputs: c.outputsOf(bundles),
	}, nil
}

func (c *Codec) encodeP2PKH(it P2PKHItem) (*Encoded, error) {
	if c.builder == nil {
		return nil, fmt.Errorf("%w: builder", ErrNilParam)
	}
	out, err := tx.BuildP2PKHOutputToAddress(it.Address, it.Amount)
	if err != nil {
		return nil, err
	}
	bundle, err := c.builder.ConstructTransaction([]*transaction.TransactionOutput{out})
	if err != nil {
		return nil, err
	}

	bundles := []*tx.Bundle{bundle}
	body := &P2PKHEntry{Transaction: bundle.Transaction.Bytes(), Vouts: bundle.OutputVoutIndices}
	return &Encoded{
		Entry:   Entry{Kind: KindP2PKH, Data: body.Marshal()},
		Bundles: bundles,
		Outputs: c.outputsOf(bundles),
	}, nil
}

// DecodeEntry is the inverse of EncodeEntry. For inbound entries it returns
// the UTXOs the entry pays to this identity; outbound entries never yield
// UTXOs since their outputs belong to the counterparty.
func (c *Codec) DecodeEntry(e Entry, outbound bool) (Item, []*utxo.Utxo, error) {
	switch e.Kind {
	case KindText:
		if !utf8.Valid(e.Data) {
			return nil, nil, fmt.Errorf("%w: text is not utf-8", ErrMalformed)
		}
		return TextItem{Text: string(e.Data)}, nil, nil

	case KindReply:
		if len(e.Data) != DigestSize {
			return nil, nil, fmt.Errorf("%w: reply digest", ErrDigestLength)
		}
		return ReplyItem{PayloadDigest: append([]byte(nil), e.Data...)}, nil, nil

	case KindImage:
		mime, _ := e.Header(HeaderMimeType)
		return ImageItem{Image: append([]byte(nil), e.Data...), MimeType: string(mime)}, nil, nil

	case KindStealth:
		return c.decodeStealth(e, outbound)

	case KindP2PKH:
		return c.decodeP2PKH(e, outbound)

	case KindForward:
		body, err := UnmarshalForwardEntry(e.Data)
		if err != nil {
			return nil, nil, err
		}
		p, err := UnmarshalPayload(body.Payload)
		if err != nil {
			return nil, nil, err
		}
		return ForwardItem{SourcePublicKey: body.SourcePublicKey, Payload: p}, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}

func (c *Codec) decodeStealth(e Entry, outbound bool) (Item, []*utxo.Utxo, error) {
	body, err := UnmarshalStealthPaymentEntry(e.Data)
	if err != nil {
		return nil, nil, err
	}

	if outbound {
		item := StealthItem{}
		for _, op := range body.Outpoints {
			sdkTx, err := transaction.NewTransactionFromBytes(op.Transaction)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: stealth transaction: %w", ErrMalformed, err)
			}
			for _, vout := range op.Vouts {
				if int(vout) >= len(sdkTx.Outputs) {
					return nil, nil, fmt.Errorf("%w: vout %d", ErrBadOutpoint, vout)
				}
				item.Amount += sdkTx.Outputs[vout].Satoshis
			}
			item.TxIDs = append(item.TxIDs, sdkTx.TxID().String())
		}
		return item, nil, nil
	}

	ephemeral, err := ec.PublicKeyFromBytes(body.EphemeralPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ephemeral: %w", ErrInvalidPublicKey, err)
	}
	hd, err := stealth.StealthHDPrivateKey(ephemeral, c.identity)
	if err != nil {
		return nil, nil, err
	}
	utxos, err := recoverOutputs(body.Outpoints, hd, utxo.TypeStealth, c.mainnet, ErrStealthMismatch)
	if err != nil {
		log.Codec.Warn().Err(err).Msg("dropping stealth payment entry")
		return nil, nil, err
	}

	item := StealthItem{}
	seen := map[string]bool{}
	for _, u := range utxos {
		item.Amount += u.Satoshis
		if !seen[u.TxID] {
			seen[u.TxID] = true
			item.TxIDs = append(item.TxIDs, u.TxID)
		}
	}
	return item, utxos, nil
}

func (c *Codec) decodeP2PKH(e Entry, outbound bool) (Item, []*utxo.Utxo, error) {
	body, err := UnmarshalP2PKHEntry(e.Data)
	if err != nil {
		return nil, nil, err
	}
	sdkTx, err := transaction.NewTransactionFromBytes(body.Transaction)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: p2pkh transaction: %w", ErrMalformed, err)
	}
	txid := sdkTx.TxID().String()

	var own string
	if !outbound && c.identity != nil {
		if own, err = tx.Address(c.identity.PubKey(), c.mainnet); err != nil {
			return nil, nil, err
		}
	}

	item := P2PKHItem{TxID: txid}
	var utxos []*utxo.Utxo
	for _, vout := range body.Vouts {
		if int(vout) >= len(sdkTx.Outputs) {
			return nil, nil, fmt.Errorf("%w: vout %d", ErrBadOutpoint, vout)
		}
		out := sdkTx.Outputs[vout]
		addr := tx.OutputAddress(out, c.mainnet)
		if item.Address == "" {
			item.Address = addr
		}
		item.Amount += out.Satoshis

		if own != "" && addr == own {
			utxos = append(utxos, &utxo.Utxo{
				TxID:        txid,
				OutputIndex: vout,
				Satoshis:    out.Satoshis,
				Address:     addr,
				Type:        utxo.TypeP2PKH,
				PrivateKey:  c.identity,
			})
		}
	}
	return item, utxos, nil
}

// hdGenerator adapts an HD key to the builder's address generator.
func hdGenerator(hd *stealth.HDKey) tx.AddressGenerator {
	return func(txnIndex uint32) func(uint32) (*ec.PublicKey, error) {
		return func(outputIndex uint32) (*ec.PublicKey, error) {
			return hd.PublicKey(txnIndex, outputIndex)
		}
	}
}

func outpointsOf(bundles []*tx.Bundle) []Outpoints {
	ops := make([]Outpoints, len(bundles))
	for i, b := range bundles {
		ops[i] = Outpoints{
			Transaction: b.Transaction.Bytes(),
			Vouts:       append([]uint32(nil), b.OutputVoutIndices...),
		}
	}
	return ops
}

func (c *Codec) outputsOf(bundles []*tx.Bundle) []Output {
	var outs []Output
	for _, b := range bundles {
		txid := b.TxID()
		for _, vout := range b.OutputVoutIndices {
			o := b.Transaction.Outputs[vout]
			outs = append(outs, Output{
				TxID:     txid,
				Vout:     vout,
				Satoshis: o.Satoshis,
				Address:  tx.OutputAddress(o, c.mainnet),
			})
		}
	}
	return outs
}

// recoverOutputs derives the private key for every listed output, checking
// each against the address it actually pays.
func recoverOutputs(outpoints []Outpoints, hd *stealth.HDKey, typ utxo.Type, mainnet bool, mismatch error) ([]*utxo.Utxo, error) {
	var utxos []*utxo.Utxo
	for i, op := range outpoints {
		sdkTx, err := transaction.NewTransactionFromBytes(op.Transaction)
		if err != nil {
			return nil, fmt.Errorf("%w: transaction %d: %w", ErrMalformed, i, err)
		}
		txid := sdkTx.TxID().String()

		for j, vout := range op.Vouts {
			if int(vout) >= len(sdkTx.Outputs) {
				return nil, fmt.Errorf("%w: %s:%d", ErrBadOutpoint, txid, vout)
			}
			key, err := hd.PrivateKey(uint32(i), uint32(j))
			if err != nil {
				return nil, err
			}
			want, err := tx.Address(key.PubKey(), mainnet)
			if err != nil {
				return nil, err
			}
			out := sdkTx.Outputs[vout]
			if got := tx.OutputAddress(out, mainnet); got != want {
				return nil, fmt.Errorf("%w: %s:%d pays %q, derived %q", mismatch, txid, vout, got, want)
			}
			utxos = append(utxos, &utxo.Utxo{
				TxID:        txid,
				OutputIndex: vout,
				Satoshis:    out.Satoshis,
				Address:     want,
				Type:        typ,
				PrivateKey:  key,
			})
		}
	}
	return utxos, nil
}

// salt binds the shared key to both the plaintext and the sender.
func salt(plain []byte, sourcePriv *ec.PrivateKey) []byte {
	sum := sha256.Sum256(plain)
	return hmacSHA256(sum[:], sourcePriv.Serialize())
}
