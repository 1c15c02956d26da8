// Package session wires a wallet seed and a config.Config into a running
// messaging client: key derivation, on-disk stores, the indexer, the relay,
// the contact book and the background watchers. A Session is the only
// owner of those resources; Close releases them on logout or seed change.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libstamp-go/config"
	"github.com/bitfsorg/libstamp-go/contact"
	"github.com/bitfsorg/libstamp-go/log"
	"github.com/bitfsorg/libstamp-go/network"
	"github.com/bitfsorg/libstamp-go/payload"
	"github.com/bitfsorg/libstamp-go/relay"
	"github.com/bitfsorg/libstamp-go/storage"
	"github.com/bitfsorg/libstamp-go/tx"
	"github.com/bitfsorg/libstamp-go/utxo"
	"github.com/bitfsorg/libstamp-go/wallet"
	"github.com/bitfsorg/libstamp-go/x402"
)

// Files inside the data directory.
const (
	dbFile     = "stamp.db"
	payloadDir = "payloads"
	lockFile   = "session.lock"
)

// Session holds every long-lived component for one identity.
type Session struct {
	Config   config.Config
	Wallet   *wallet.Wallet
	Builder  *tx.Builder
	Indexer  network.Indexer
	Relay    relay.Relay
	Client   *relay.Client
	Contacts *contact.Book
	Payloads *storage.FileStore

	db         *storage.DB
	lock       *os.File
	http       *relay.HTTPClient // nil when Relay was injected
	subscriber network.Subscriber
	watcher    *relay.Watcher

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

type options struct {
	indexer    network.Indexer
	subscriber network.Subscriber
	relay      relay.Relay
	httpClient *http.Client
	dns        contact.DNSResolver
}

// Option replaces a component Open would otherwise build from config.
type Option func(*options)

// WithIndexer uses idx instead of a JSON-RPC client.
func WithIndexer(idx network.Indexer) Option {
	return func(o *options) { o.indexer = idx }
}

// WithSubscriber uses sub for address activity instead of dialing
// IndexerWSURL.
func WithSubscriber(sub network.Subscriber) Option {
	return func(o *options) { o.subscriber = sub }
}

// WithRelay uses r instead of an HTTP relay client. The relay message
// stream is not started for injected relays.
func WithRelay(r relay.Relay) Option {
	return func(o *options) { o.relay = r }
}

// WithHTTPClient sets the client for relay, payment and paymail requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithDNSResolver sets the SRV resolver used for paymail discovery.
func WithDNSResolver(r contact.DNSResolver) Option {
	return func(o *options) { o.dns = r }
}

// Open validates cfg, locks cfg.DataDir and builds a session for seed.
func Open(cfg config.Config, seed []byte, opts ...Option) (_ *Session, err error) {
	if len(seed) == 0 {
		return nil, ErrInvalidSeed
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: network.DefaultTimeout}
	}

	netCfg, err := wallet.GetNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}
	w, err := wallet.NewWallet(seed, netCfg)
	if err != nil {
		return nil, fmt.Errorf("session: wallet: %w", err)
	}
	if err := w.SetChangeKeyCount(cfg.ChangeKeys); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("session: create data dir: %w", err)
	}
	lock, err := lockDir(filepath.Join(cfg.DataDir, lockFile))
	if err != nil {
		return nil, err
	}
	s := &Session{Config: cfg, Wallet: w, lock: lock}
	defer func() {
		if err != nil {
			_ = s.release()
		}
	}()

	s.db, err = storage.OpenDB(filepath.Join(cfg.DataDir, dbFile))
	if err != nil {
		return nil, err
	}
	s.Payloads, err = storage.NewFileStore(filepath.Join(cfg.DataDir, payloadDir))
	if err != nil {
		return nil, fmt.Errorf("session: payload cache: %w", err)
	}

	policy := tx.DefaultPolicy()
	policy.MinFeePerByte = cfg.FeePerByte
	policy.MaxFeePerByte = max(policy.MaxFeePerByte, 2*cfg.FeePerByte)
	s.Builder = tx.NewBuilder(s.db.Utxos(), w, tx.WithPolicy(policy), tx.WithMainnet(w.Mainnet()))

	s.Indexer = o.indexer
	if s.Indexer == nil {
		rpc, err := cfg.RPCConfig()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoIndexer, err)
		}
		s.Indexer = network.NewRPCClient(*rpc)
	}

	s.Relay = o.relay
	if s.Relay == nil {
		if cfg.RelayURL == "" {
			return nil, ErrNoRelay
		}
		settler := x402.NewSettler(o.httpClient, s.Builder, paymentNetwork(w.Mainnet()))
		s.http = relay.NewHTTPClient(cfg.RelayURL, o.httpClient, settler)
		s.Relay = s.http
	}

	identity, err := w.IdentityKey()
	if err != nil {
		return nil, fmt.Errorf("session: identity key: %w", err)
	}
	s.Client, err = relay.NewClient(relay.Config{
		Identity:    identity.PrivateKey,
		Builder:     s.Builder,
		Messages:    s.db.Messages(),
		Payloads:    s.Payloads,
		Indexer:     s.Indexer,
		Relay:       s.Relay,
		StampAmount: cfg.StampAmount,
		Mainnet:     w.Mainnet(),
	})
	if err != nil {
		return nil, err
	}

	dnsResolver := o.dns
	if dnsResolver == nil {
		dnsResolver = contact.NewDNSSECResolver(cfg.DNSUpstream)
	}
	resolver := contact.NewResolver(dnsResolver)
	resolver.HTTP = o.httpClient
	s.Contacts, err = contact.NewBook(resolver, s.db.Contacts(), w.Mainnet())
	if err != nil {
		return nil, err
	}

	s.subscriber = o.subscriber
	if s.subscriber == nil && cfg.IndexerWSURL != "" {
		s.subscriber = network.NewWSSubscriber(cfg.IndexerWSURL, network.DefaultReconnectDelay)
	}
	if s.subscriber != nil {
		keys, err := s.walletKeys()
		if err != nil {
			return nil, err
		}
		s.watcher, err = relay.NewWatcher(s.subscriber, s.Indexer, s.Builder.Store(), keys, w.Mainnet())
		if err != nil {
			return nil, err
		}
	}

	log.Session.Info().Str("address", s.Client.Address()).Str("network", cfg.Network).Msg("session opened")
	return s, nil
}

func paymentNetwork(mainnet bool) string {
	if mainnet {
		return x402.NetworkMain
	}
	return x402.NetworkTest
}

// walletKeys returns the identity key followed by the change-key pool.
func (s *Session) walletKeys() ([]*ec.PrivateKey, error) {
	identity, err := s.Wallet.IdentityKey()
	if err != nil {
		return nil, err
	}
	change, err := s.Wallet.ChangeKeys()
	if err != nil {
		return nil, err
	}
	return append([]*ec.PrivateKey{identity.PrivateKey}, change...), nil
}

// Address returns the identity's mailbox address.
func (s *Session) Address() string { return s.Client.Address() }

// Run starts the background tasks and blocks until ctx is done or Close is
// called: the indexer subscription and payment watcher when a subscriber is
// configured, and the relay message stream for HTTP relays.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("session: already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()
	defer close(s.done)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	if r, ok := s.subscriber.(interface{ Run(context.Context) error }); ok {
		g.Go(func() error { return r.Run(ctx) })
	}
	if s.watcher != nil {
		g.Go(func() error { return s.watcher.Run(ctx) })
	}
	if s.http != nil {
		stream := relay.NewStream(func() string { return s.http.StreamURL(s.Client.Address()) }, relay.DefaultReconnectDelay)
		g.Go(func() error { return s.Client.Listen(ctx, stream) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Sync asks the indexer for unspent outputs paying any wallet key and adds
// the ones the store lacks. It returns how many were added.
func (s *Session) Sync(ctx context.Context) (int, error) {
	keys, err := s.walletKeys()
	if err != nil {
		return 0, err
	}
	importer, canImport := s.Indexer.(interface {
		ImportAddress(ctx context.Context, pkh []byte) error
	})

	store := s.Builder.Store()
	added := 0
	for _, k := range keys {
		lock, err := tx.BuildP2PKHScript(k.PubKey())
		if err != nil {
			return added, err
		}
		pkh := lock[3:23]
		if canImport {
			if err := importer.ImportAddress(ctx, pkh); err != nil {
				return added, fmt.Errorf("session: import address: %w", err)
			}
		}
		found, err := s.Indexer.ScriptUtxos(ctx, network.ScriptP2PKH, pkh)
		if err != nil {
			return added, fmt.Errorf("session: script utxos: %w", err)
		}
		addr, err := tx.Address(k.PubKey(), s.Wallet.Mainnet())
		if err != nil {
			return added, err
		}
		for _, f := range found {
			if _, err := store.Get(utxo.MakeID(f.TxID, f.Vout)); err == nil {
				continue
			} else if !errors.Is(err, utxo.ErrNotFound) {
				return added, err
			}
			if err := store.Put(&utxo.Utxo{
				TxID:        f.TxID,
				OutputIndex: f.Vout,
				Satoshis:    f.Amount,
				Address:     addr,
				Type:        utxo.TypeP2PKH,
				PrivateKey:  k,
			}); err != nil {
				return added, err
			}
			added++
		}
	}
	log.Session.Debug().Int("added", added).Msg("wallet synced")
	return added, nil
}

// Balance returns the spendable and frozen satoshi totals.
func (s *Session) Balance() (spendable, frozen uint64) {
	store := s.Builder.Store()
	for u := range store.Frozen() {
		frozen += u.Satoshis
	}
	return utxo.Balance(store), frozen
}

// SendTo resolves handle through the contact book and sends items to it.
func (s *Session) SendTo(ctx context.Context, handle string, items []payload.Item) ([]byte, error) {
	c, err := s.Contacts.Resolve(ctx, handle)
	if err != nil {
		return nil, err
	}
	if c.RelayURL != "" && c.RelayURL != s.Config.RelayURL {
		log.Session.Warn().Str("handle", c.Handle).Str("relay", c.RelayURL).
			Msg("contact advertises another relay; delivering through ours")
	}
	return s.Client.Send(ctx, c.PubKey, items)
}

// Close stops Run, closes the database and releases the data directory.
// It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	err := s.release()
	log.Session.Info().Msg("session closed")
	return err
}

func (s *Session) release() error {
	var err error
	if s.db != nil {
		err = s.db.Close()
		s.db = nil
	}
	unlockDir(s.lock)
	s.lock = nil
	return err
}
