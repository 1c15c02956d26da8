package contact

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libstamp-go/log"
	"github.com/bitfsorg/libstamp-go/tx"
)

// State is a contact book lookup result.
type State uint8

const (
	StateUnknown State = iota
	StatePending       // resolution in flight
	StateKnown
)

func (s State) String() string {
	switch s {
	case StateKnown:
		return "known"
	case StatePending:
		return "pending"
	default:
		return "unknown"
	}
}

// Contact is a saved counterparty.
type Contact struct {
	Handle   string // canonical handle
	Name     string
	PubKey   *ec.PublicKey
	Address  string
	RelayURL string
	AddedAt  time.Time
}

// Lookup is the result of Book.Lookup. Contact is set only for StateKnown.
type Lookup struct {
	State   State
	Contact *Contact
}

// Store persists contacts. storage.BoltContactStore implements it.
type Store interface {
	Put(c *Contact) error
	Delete(handle string) error
	All() ([]*Contact, error)
}

// HandleResolver turns a handle into an identity. *Resolver implements it.
type HandleResolver interface {
	Resolve(ctx context.Context, handle string) (*Identity, error)
}

// Book is the contact book. Concurrent Resolve calls for one handle share a
// single network resolution.
type Book struct {
	resolver HandleResolver
	store    Store
	mainnet  bool
	now      func() time.Time

	mu        sync.Mutex
	byHandle  map[string]*Contact
	byAddress map[string]*Contact
	pending   map[string]chan struct{}
}

// NewBook creates a book and loads store, which may be nil.
func NewBook(resolver HandleResolver, store Store, mainnet bool) (*Book, error) {
	b := &Book{
		resolver:  resolver,
		store:     store,
		mainnet:   mainnet,
		now:       time.Now,
		byHandle:  make(map[string]*Contact),
		byAddress: make(map[string]*Contact),
		pending:   make(map[string]chan struct{}),
	}
	if store != nil {
		all, err := store.All()
		if err != nil {
			return nil, fmt.Errorf("contact: load book: %w", err)
		}
		for _, c := range all {
			b.index(c)
		}
	}
	return b, nil
}

// Lookup classifies key, which may be a handle or a P2PKH address.
func (b *Book) Lookup(key string) Lookup {
	canon := canonical(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.byHandle[canon]; ok {
		return Lookup{State: StateKnown, Contact: c}
	}
	if c, ok := b.byAddress[key]; ok {
		return Lookup{State: StateKnown, Contact: c}
	}
	if _, ok := b.pending[canon]; ok {
		return Lookup{State: StatePending}
	}
	return Lookup{State: StateUnknown}
}

// ByPubKey returns the contact for pub, if saved.
func (b *Book) ByPubKey(pub *ec.PublicKey) (*Contact, bool) {
	addr, err := tx.Address(pub, b.mainnet)
	if err != nil {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.byAddress[addr]
	return c, ok
}

// Resolve returns the saved contact for handle, resolving and saving it
// first if needed.
func (b *Book) Resolve(ctx context.Context, handle string) (*Contact, error) {
	h, err := ParseHandle(handle)
	if err != nil {
		return nil, err
	}
	key := h.String()

	for {
		b.mu.Lock()
		if c, ok := b.byHandle[key]; ok {
			b.mu.Unlock()
			return c, nil
		}
		wait, inFlight := b.pending[key]
		if !inFlight {
			done := make(chan struct{})
			b.pending[key] = done
			b.mu.Unlock()
			return b.resolve(ctx, key, done)
		}
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *Book) resolve(ctx context.Context, key string, done chan struct{}) (*Contact, error) {
	defer func() {
		b.mu.Lock()
		delete(b.pending, key)
		b.mu.Unlock()
		close(done)
	}()

	if b.resolver == nil {
		return nil, fmt.Errorf("%w: resolver", ErrNilParam)
	}
	id, err := b.resolver.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	return b.Add(id, "")
}

// Add saves id under name, replacing any contact with the same handle.
func (b *Book) Add(id *Identity, name string) (*Contact, error) {
	if id == nil || id.PubKey == nil {
		return nil, fmt.Errorf("%w: identity", ErrNilParam)
	}
	addr, err := tx.Address(id.PubKey, b.mainnet)
	if err != nil {
		return nil, err
	}
	c := &Contact{
		Handle:   canonical(id.Handle),
		Name:     name,
		PubKey:   id.PubKey,
		Address:  addr,
		RelayURL: id.RelayURL,
		AddedAt:  b.now(),
	}
	if b.store != nil {
		if err := b.store.Put(c); err != nil {
			return nil, err
		}
	}
	b.mu.Lock()
	b.index(c)
	b.mu.Unlock()
	log.Contact.Debug().Str("handle", c.Handle).Str("address", addr).Msg("contact saved")
	return c, nil
}

// Remove deletes the contact saved under handle.
func (b *Book) Remove(handle string) error {
	key := canonical(handle)
	if b.store != nil {
		if err := b.store.Delete(key); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.byHandle[key]; ok {
		delete(b.byAddress, c.Address)
		delete(b.byHandle, key)
	}
	return nil
}

// Contacts returns every saved contact ordered by name, then handle.
func (b *Book) Contacts() []*Contact {
	b.mu.Lock()
	out := make([]*Contact, 0, len(b.byHandle))
	for _, c := range b.byHandle {
		out = append(out, c)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}

// index must be called with mu held, or before b is shared.
func (b *Book) index(c *Contact) {
	if old, ok := b.byHandle[c.Handle]; ok {
		delete(b.byAddress, old.Address)
	}
	b.byHandle[c.Handle] = c
	b.byAddress[c.Address] = c
}

// canonical normalizes a handle, or returns key unchanged if it does not
// parse as one.
func canonical(key string) string {
	h, err := ParseHandle(key)
	if err != nil {
		return key
	}
	return h.String()
}
