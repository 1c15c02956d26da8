// Package relay is the wallet's messaging client: it funds, encrypts,
// broadcasts and pushes outgoing messages, and fetches, decrypts and stores
// incoming ones.
package relay

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsv-blockchain/go-sdk/transaction"
	"golang.org/x/sync/errgroup"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libstamp-go/log"
	"github.com/bitfsorg/libstamp-go/network"
	"github.com/bitfsorg/libstamp-go/payload"
	"github.com/bitfsorg/libstamp-go/storage"
	"github.com/bitfsorg/libstamp-go/tx"
	"github.com/bitfsorg/libstamp-go/utxo"
)

const (
	// MaxSendAttempts bounds how many times one message is rebuilt and
	// resent before a send error is reported.
	MaxSendAttempts = 3

	// maxConcurrentFetches bounds parallel payload fetches during Refresh.
	maxConcurrentFetches = 20
)

// Config wires a Client. Payloads is optional.
type Config struct {
	Identity    *ec.PrivateKey
	Builder     *tx.Builder
	Messages    payload.MessageStore
	Payloads    storage.PayloadCache
	Indexer     network.Indexer
	Relay       Relay
	StampAmount uint64
	MaxAttempts int
	Mainnet     bool
	Now         func() time.Time
}

// Client sends and receives stamped, encrypted messages for one identity.
type Client struct {
	identity    *ec.PrivateKey
	address     string
	mainnet     bool
	codec       *payload.Codec
	builder     *tx.Builder
	utxos       utxo.Store
	messages    payload.MessageStore
	payloads    storage.PayloadCache
	indexer     network.Indexer
	relay       Relay
	stampAmount uint64
	maxAttempts int
	now         func() time.Time

	events events

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewClient validates cfg and creates a Client.
func NewClient(cfg Config) (*Client, error) {
	switch {
	case cfg.Identity == nil:
		return nil, fmt.Errorf("%w: identity", ErrNilParam)
	case cfg.Builder == nil:
		return nil, fmt.Errorf("%w: builder", ErrNilParam)
	case cfg.Messages == nil:
		return nil, fmt.Errorf("%w: message store", ErrNilParam)
	case cfg.Indexer == nil:
		return nil, fmt.Errorf("%w: indexer", ErrNilParam)
	case cfg.Relay == nil:
		return nil, fmt.Errorf("%w: relay", ErrNilParam)
	}
	address, err := tx.Address(cfg.Identity.PubKey(), cfg.Mainnet)
	if err != nil {
		return nil, err
	}
	c := &Client{
		identity:    cfg.Identity,
		address:     address,
		mainnet:     cfg.Mainnet,
		codec:       payload.NewCodec(cfg.Builder, cfg.Identity, cfg.Mainnet),
		builder:     cfg.Builder,
		utxos:       cfg.Builder.Store(),
		messages:    cfg.Messages,
		payloads:    cfg.Payloads,
		indexer:     cfg.Indexer,
		relay:       cfg.Relay,
		stampAmount: cfg.StampAmount,
		maxAttempts: cfg.MaxAttempts,
		now:         cfg.Now,
		inflight:    make(map[string]struct{}),
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = MaxSendAttempts
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Address returns the identity's mailbox address.
func (c *Client) Address() string { return c.address }

// Identity returns the identity public key.
func (c *Client) Identity() *ec.PublicKey { return c.identity.PubKey() }

// Send encrypts items to dest, funds and broadcasts their payments and
// stamp, and pushes the envelope to dest's mailbox. A nil dest sends to
// self. It returns the digest of the attempt that succeeded.
//
// An attempt that fails before all of its transactions are broadcast
// releases the unbroadcast UTXOs and is rebuilt, the new attempt
// superseding the previous digest. Once every transaction is on chain only
// the relay push of that same envelope is retried. Once retries run out
// exactly one SendErrorEvent is emitted.
func (c *Client) Send(ctx context.Context, dest *ec.PublicKey, items []payload.Item) ([]byte, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: items", ErrNilParam)
	}
	if dest == nil {
		dest = c.identity.PubKey()
	}

	var prev []byte
	var pending *pendingPush
	var attempts int
	var err error
	for attempts = 1; attempts <= c.maxAttempts; attempts++ {
		var digest []byte
		var retry bool
		if pending != nil {
			digest = pending.digest
			err = c.push(ctx, pending, attempts)
			retry = ctx.Err() == nil
		} else {
			digest, pending, retry, err = c.attempt(ctx, dest, items, prev, attempts)
		}
		if err == nil {
			return digest, nil
		}
		if digest != nil {
			prev = digest
		}
		log.Relay.Warn().Err(err).Int("attempt", attempts).Hex("digest", digest).Msg("send attempt failed")
		if !retry {
			break
		}
	}
	attempts = min(attempts, c.maxAttempts)

	if prev != nil {
		c.events.sendError.emit(SendErrorEvent{Digest: prev, Attempts: attempts, Err: err})
	}
	return prev, fmt.Errorf("%w after %d attempt(s): %w", ErrSendFailed, attempts, err)
}

// pendingPush is a message whose transactions are all on chain but whose
// envelope the relay has not accepted yet.
type pendingPush struct {
	digest   []byte
	destAddr string
	msg      *payload.Message
	stored   *payload.StoredMessage
	txids    []string
}

// attempt runs one pass of the send pipeline. digest is nil if the failure
// came before encryption. A non-nil pending means everything was broadcast
// and committed and only the push failed.
func (c *Client) attempt(ctx context.Context, dest *ec.PublicKey, items []payload.Item, prev []byte, n int) (digest []byte, pending *pendingPush, retry bool, err error) {
	var bundles []*tx.Bundle
	releaseAll := func() {
		for _, b := range bundles {
			c.builder.Release(b)
		}
	}

	p := &payload.Payload{Timestamp: c.now().UnixMilli()}
	var outputs []payload.Output
	for i, it := range items {
		enc, err := c.codec.EncodeEntry(it, dest)
		if err != nil {
			releaseAll()
			return nil, nil, false, fmt.Errorf("encode item %d: %w", i, err)
		}
		p.Entries = append(p.Entries, enc.Entry)
		bundles = append(bundles, enc.Bundles...)
		outputs = append(outputs, enc.Outputs...)
	}

	plain := p.Marshal()
	built, err := c.codec.ConstructMessage(plain, c.identity, dest, c.stampAmount)
	if err != nil {
		releaseAll()
		var ce *payload.ConstructError
		if errors.As(err, &ce) {
			digest = ce.PayloadDigest
		}
		return digest, nil, false, err
	}
	bundles = append(bundles, built.Bundles...)
	digest = built.PayloadDigest

	stored := &payload.StoredMessage{
		Digest:         digest,
		Counterparty:   dest.Compressed(),
		Outbound:       true,
		Status:         payload.StatusPending,
		Envelope:       built.Message.Marshal(),
		Plaintext:      plain,
		ReceivedAt:     c.now(),
		PreviousDigest: prev,
		Attempts:       n,
	}
	c.store(stored)
	if prev != nil && !bytes.Equal(prev, digest) {
		if err := c.messages.Delete(prev); err != nil && !errors.Is(err, payload.ErrMessageNotFound) {
			log.Relay.Warn().Err(err).Hex("digest", prev).Msg("drop superseded attempt")
		}
	}
	c.events.sending.emit(SendingEvent{
		Digest:         digest,
		PreviousDigest: prev,
		Destination:    dest,
		Items:          items,
		Outputs:        outputs,
		Attempt:        n,
	})

	// Bundles already on chain are committed even when a later step fails;
	// the rest go back to the pool.
	broadcast := 0
	fail := func(err error) ([]byte, *pendingPush, bool, error) {
		for i, b := range bundles {
			if i < broadcast {
				if cerr := c.builder.Commit(b); cerr != nil {
					log.Relay.Error().Err(cerr).Str("txid", b.TxID()).Msg("commit broadcast bundle")
				}
				continue
			}
			c.builder.Release(b)
		}
		stored.Status = payload.StatusFailed
		c.store(stored)
		return digest, nil, ctx.Err() == nil, err
	}

	destAddr, err := tx.Address(dest, c.mainnet)
	if err != nil {
		return fail(err)
	}
	if err := c.checkAndFixUtxos(ctx, bundles); err != nil {
		return fail(err)
	}

	txids := make([]string, 0, len(bundles))
	for _, b := range bundles {
		txid, err := c.indexer.BroadcastTx(ctx, hex.EncodeToString(b.Transaction.Bytes()))
		if err != nil {
			return fail(fmt.Errorf("broadcast %s: %w", b.TxID(), err))
		}
		broadcast++
		txids = append(txids, txid)
	}

	for _, b := range bundles {
		if err := c.builder.Commit(b); err != nil {
			log.Relay.Error().Err(err).Str("txid", b.TxID()).Msg("commit bundle")
		}
	}

	pending = &pendingPush{digest: digest, destAddr: destAddr, msg: built.Message, stored: stored, txids: txids}
	if err := c.push(ctx, pending, n); err != nil {
		return digest, pending, ctx.Err() == nil, err
	}
	return digest, nil, false, nil
}

// push hands a funded envelope to the relay and records the outcome.
func (c *Client) push(ctx context.Context, pp *pendingPush, n int) error {
	pp.stored.Attempts = n
	if err := c.relay.PutMessage(ctx, pp.destAddr, pp.msg); err != nil {
		pp.stored.Status = payload.StatusFailed
		c.store(pp.stored)
		return fmt.Errorf("push message: %w", err)
	}
	pp.stored.Status = payload.StatusSent
	c.store(pp.stored)
	c.events.sent.emit(SentEvent{Digest: pp.digest, TxIDs: pp.txids})
	log.Relay.Info().Hex("digest", pp.digest).Int("transactions", len(pp.txids)).Int("attempt", n).Msg("message sent")
	return nil
}

// checkAndFixUtxos asks the indexer whether every staged input is still
// unspent. Inputs that are not are deleted from the store, and the attempt
// fails with ErrInvalidUtxos so the next one selects around them.
func (c *Client) checkAndFixUtxos(ctx context.Context, bundles []*tx.Bundle) error {
	var staged []*utxo.Utxo
	for _, b := range bundles {
		staged = append(staged, b.UsedUtxos...)
	}
	if len(staged) == 0 {
		return nil
	}
	ops := make([]network.OutPoint, len(staged))
	for i, u := range staged {
		ops[i] = network.OutPoint{TxID: u.TxID, Vout: u.OutputIndex}
	}

	states, err := c.indexer.ValidateUtxos(ctx, ops)
	if err != nil {
		return fmt.Errorf("validate utxos: %w", err)
	}
	if len(states) != len(ops) {
		return fmt.Errorf("validate utxos: %d states for %d outpoints", len(states), len(ops))
	}

	var invalid int
	for i, st := range states {
		if st == network.StateUnspent {
			continue
		}
		invalid++
		log.Relay.Warn().Str("utxo", staged[i].ID()).Stringer("state", st).Msg("dropping invalid utxo")
		if err := c.utxos.Delete(staged[i].ID()); err != nil && !errors.Is(err, utxo.ErrNotFound) {
			return err
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidUtxos, invalid, len(staged))
	}
	return nil
}

// Receive processes one envelope. It returns nil without error when the
// message is already stored or is a self-send, which only reconciles the
// inputs its transactions spent.
func (c *Client) Receive(ctx context.Context, msg *payload.Message) (*payload.StoredMessage, error) {
	pm, err := payload.Parse(msg)
	if err != nil {
		return nil, err
	}

	self := c.identity.PubKey().Compressed()
	outbound := bytes.Equal(pm.Source.Compressed(), self)
	inbound := bytes.Equal(pm.Destination.Compressed(), self)
	switch {
	case outbound && inbound:
		c.reconcile(pm)
		return nil, nil
	case !outbound && !inbound:
		return nil, ErrForeignMessage
	}

	key := hex.EncodeToString(pm.Digest)
	if !c.claim(key) {
		return nil, nil
	}
	defer c.unclaim(key)

	if has, err := c.messages.Has(pm.Digest); err != nil {
		return nil, err
	} else if has {
		return nil, nil
	}

	if err := c.ensurePayload(ctx, pm); err != nil {
		return nil, err
	}
	var plain []byte
	if outbound {
		plain, err = pm.OpenSelf(c.identity)
	} else {
		plain, err = pm.Open(c.identity)
	}
	if err != nil {
		return nil, err
	}
	p, err := payload.UnmarshalPayload(plain)
	if err != nil {
		return nil, err
	}

	var owned []*utxo.Utxo
	if outbound {
		c.reconcile(pm)
	} else {
		stamps, err := c.codec.RecoverStamp(pm)
		if err != nil {
			log.Relay.Warn().Err(err).Hex("digest", pm.Digest).Msg("stamp not recoverable")
		}
		owned = append(owned, stamps...)
	}

	items := make([]payload.Item, 0, len(p.Entries))
	for i, e := range p.Entries {
		item, us, err := c.codec.DecodeEntry(e, outbound)
		if err != nil {
			log.Relay.Warn().Err(err).Int("entry", i).Str("kind", e.Kind).Msg("skipping entry")
			continue
		}
		items = append(items, item)
		owned = append(owned, us...)
	}
	c.adopt(owned)

	counterparty := pm.Source
	status := payload.StatusReceived
	if outbound {
		counterparty = pm.Destination
		status = payload.StatusSent
	}
	receivedAt := c.now()
	if msg.ReceivedTime > 0 {
		receivedAt = time.UnixMilli(msg.ReceivedTime)
	}
	stored := &payload.StoredMessage{
		Digest:       pm.Digest,
		Counterparty: counterparty.Compressed(),
		Outbound:     outbound,
		Status:       status,
		Envelope:     msg.Marshal(),
		Plaintext:    plain,
		ReceivedAt:   receivedAt,
	}
	if err := c.messages.Put(stored); err != nil {
		return nil, err
	}
	c.events.received.emit(ReceivedEvent{Message: stored, Items: items})
	log.Relay.Debug().Hex("digest", pm.Digest).Bool("outbound", outbound).Int("utxos", len(owned)).Msg("message received")
	return stored, nil
}

func (c *Client) ensurePayload(ctx context.Context, pm *payload.ParsedMessage) error {
	if len(pm.Message.Payload) > 0 {
		return nil
	}
	var body []byte
	if c.payloads != nil {
		if cached, err := c.payloads.Get(pm.Digest); err == nil {
			body = cached
		}
	}
	fetched := body == nil
	if fetched {
		var err error
		body, err = c.relay.GetPayload(ctx, c.address, pm.Digest)
		if err != nil {
			return fmt.Errorf("fetch payload: %w", err)
		}
	}
	if err := pm.SetPayload(body); err != nil {
		return err
	}
	if fetched && c.payloads != nil {
		if err := c.payloads.Put(pm.Digest, body); err != nil {
			log.Relay.Warn().Err(err).Hex("digest", pm.Digest).Msg("cache payload")
		}
	}
	return nil
}

// reconcile deletes store entries for every input spent by the message's
// stamp transactions.
func (c *Client) reconcile(pm *payload.ParsedMessage) {
	if pm.Message.Stamp == nil {
		return
	}
	for _, op := range pm.Message.Stamp.Outpoints {
		sdkTx, err := transaction.NewTransactionFromBytes(op.Transaction)
		if err != nil {
			log.Relay.Warn().Err(err).Msg("reconcile: bad stamp transaction")
			continue
		}
		for _, in := range sdkTx.Inputs {
			id := utxo.MakeID(in.SourceTXID.String(), in.SourceTxOutIndex)
			if err := c.utxos.Delete(id); err == nil {
				log.Relay.Debug().Str("utxo", id).Msg("reconciled spent input")
			}
		}
	}
}

// adopt stores newly owned outputs, leaving existing records untouched.
func (c *Client) adopt(us []*utxo.Utxo) {
	for _, u := range us {
		if _, err := c.utxos.Get(u.ID()); err == nil {
			continue
		}
		if err := c.utxos.Put(u); err != nil {
			log.Relay.Error().Err(err).Str("utxo", u.ID()).Msg("store received utxo")
		}
	}
}

func (c *Client) store(m *payload.StoredMessage) {
	if err := c.messages.Put(m); err != nil {
		log.Relay.Error().Err(err).Hex("digest", m.Digest).Msg("store message")
	}
}

func (c *Client) claim(key string) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return false
	}
	c.inflight[key] = struct{}{}
	return true
}

func (c *Client) unclaim(key string) {
	c.inflightMu.Lock()
	delete(c.inflight, key)
	c.inflightMu.Unlock()
}

// Refresh lists the mailbox between start and end and receives every
// message, fetching payloads in parallel. Messages that fail to parse or
// decrypt are logged and skipped. It returns how many were newly stored.
func (c *Client) Refresh(ctx context.Context, start, end time.Time) (int, error) {
	page, err := c.relay.GetMessages(ctx, c.address, start, end)
	if err != nil {
		return 0, err
	}

	var received atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for _, m := range page.Messages {
		g.Go(func() error {
			stored, err := c.Receive(gctx, m)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Relay.Warn().Err(err).Msg("refresh: skipping message")
				return nil
			}
			if stored != nil {
				received.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(received.Load()), err
}

// Listen receives messages pushed over stream until ctx is done.
func (c *Client) Listen(ctx context.Context, stream *Stream) error {
	return stream.Run(ctx, func(m *payload.Message) {
		if _, err := c.Receive(ctx, m); err != nil {
			log.Relay.Warn().Err(err).Msg("stream: skipping message")
		}
	})
}

// DeleteMessage removes a message from the mailbox and the local stores.
func (c *Client) DeleteMessage(ctx context.Context, digest []byte) error {
	if err := c.relay.DeleteMessage(ctx, c.address, digest); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := c.messages.Delete(digest); err != nil && !errors.Is(err, payload.ErrMessageNotFound) {
		return err
	}
	if c.payloads != nil {
		if err := c.payloads.Delete(digest); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Relay.Warn().Err(err).Hex("digest", digest).Msg("evict cached payload")
		}
	}
	return nil
}

// PrunePayloads evicts cached payloads that no stored message refers to and
// returns how many were removed.
func (c *Client) PrunePayloads() (int, error) {
	if c.payloads == nil {
		return 0, nil
	}
	digests, err := c.payloads.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range digests {
		ok, err := c.messages.Has(d)
		if err != nil {
			return n, err
		}
		if ok {
			continue
		}
		if err := c.payloads.Delete(d); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return n, err
		}
		n++
	}
	if n > 0 {
		log.Relay.Debug().Int("evicted", n).Msg("payload cache pruned")
	}
	return n, nil
}

// Conversation returns the stored messages exchanged with counterparty, in
// time order.
func (c *Client) Conversation(counterparty *ec.PublicKey) []*payload.StoredMessage {
	want := counterparty.Compressed()
	var out []*payload.StoredMessage
	for m := range c.messages.Messages() {
		if bytes.Equal(m.Counterparty, want) {
			out = append(out, m)
		}
	}
	return out
}

// PublishProfile signs p and uploads it to the identity's profile slot.
func (c *Client) PublishProfile(ctx context.Context, p *payload.Profile) error {
	w, err := payload.SignProfile(p, c.identity)
	if err != nil {
		return err
	}
	return c.relay.PutProfile(ctx, c.address, w)
}

// FetchProfile downloads and verifies the profile published by pub.
func (c *Client) FetchProfile(ctx context.Context, pub *ec.PublicKey) (*payload.Profile, error) {
	addr, err := tx.Address(pub, c.mainnet)
	if err != nil {
		return nil, err
	}
	w, err := c.relay.GetProfile(ctx, addr)
	if err != nil {
		return nil, err
	}
	p, signer, err := payload.VerifyProfile(w)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(signer.Compressed(), pub.Compressed()) {
		return nil, ErrProfileMismatch
	}
	return p, nil
}
