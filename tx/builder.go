// Package tx builds and signs the wallet's P2PKH transactions: coin
// selection over the UTXO store, fee accounting, and decoy change.
package tx

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-sdk/transaction"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libstamp-go/log"
	"github.com/bitfsorg/libstamp-go/utxo"
)

// ChangeKeySource supplies wallet-owned keys for change outputs.
type ChangeKeySource interface {
	ChangeKeys() ([]*ec.PrivateKey, error)
}

// AddressGenerator returns the destination key for output outputIndex of
// transaction txnIndex in a transaction set.
type AddressGenerator func(txnIndex uint32) func(outputIndex uint32) (*ec.PublicKey, error)

// Bundle is the result of one coin-selection pass.
type Bundle struct {
	Transaction *transaction.Transaction

	// OutputVoutIndices are the final positions of the requested outputs,
	// in request order, after change has been shuffled in.
	OutputVoutIndices []uint32

	// UsedUtxos are frozen on return and must be committed or released.
	UsedUtxos []*utxo.Utxo

	// ChangeUtxos are wallet-owned outputs of Transaction.
	ChangeUtxos []*utxo.Utxo
}

// TxID returns the display-order hex txid.
func (b *Bundle) TxID() string {
	return b.Transaction.TxID().String()
}

// Builder selects coins from a UTXO store and builds signed transactions.
//
// A single mutex spans selection and freezing, so concurrent builds never
// pick the same UTXO. Store.Freeze failing on a frozen UTXO covers builders
// that share a store but not a Builder.
type Builder struct {
	mu      sync.Mutex
	store   utxo.Store
	keys    ChangeKeySource
	policy  Policy
	rng     *rand.Rand
	mainnet bool
}

// Option configures a Builder.
type Option func(*Builder)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(b *Builder) { b.policy = p }
}

// WithRand sets the randomness source for change carving and shuffling.
func WithRand(r *rand.Rand) Option {
	return func(b *Builder) { b.rng = r }
}

// WithMainnet selects address encoding for change records.
func WithMainnet(mainnet bool) Option {
	return func(b *Builder) { b.mainnet = mainnet }
}

// NewBuilder creates a Builder over store.
func NewBuilder(store utxo.Store, keys ChangeKeySource, opts ...Option) *Builder {
	now := uint64(time.Now().UnixNano())
	b := &Builder{
		store:   store,
		keys:    keys,
		policy:  DefaultPolicy(),
		rng:     rand.New(rand.NewPCG(now, now>>17|1)),
		mainnet: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Policy returns the builder's fee policy.
func (b *Builder) Policy() Policy {
	return b.policy
}

// Store returns the UTXO store the builder selects from.
func (b *Builder) Store() utxo.Store {
	return b.store
}

// Commit records a successful broadcast: spent inputs are deleted and change
// outputs stored. Missing inputs are logged and ignored.
func (b *Builder) Commit(bundle *Bundle) error {
	for _, u := range bundle.UsedUtxos {
		if err := b.store.Delete(u.ID()); err != nil {
			if errors.Is(err, utxo.ErrNotFound) {
				log.Builder.Warn().Str("utxo", u.ID()).Msg("spent utxo already removed")
				continue
			}
			return err
		}
	}
	for _, c := range bundle.ChangeUtxos {
		if err := b.store.Put(c); err != nil {
			return err
		}
	}
	return nil
}

// Release unfreezes a bundle's inputs after a failed broadcast.
func (b *Builder) Release(bundle *Bundle) {
	for _, u := range bundle.UsedUtxos {
		if err := b.store.Unfreeze(u.ID()); err != nil {
			log.Builder.Warn().Err(err).Str("utxo", u.ID()).Msg("release: unfreeze failed")
		}
	}
}

// available snapshots unfrozen, signable UTXOs in ascending value order.
func (b *Builder) available() []*utxo.Utxo {
	var pool []*utxo.Utxo
	for u := range b.store.All() {
		if u.Frozen || u.PrivateKey == nil {
			continue
		}
		pool = append(pool, u)
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Satoshis != pool[j].Satoshis {
			return pool[i].Satoshis < pool[j].Satoshis
		}
		return pool[i].ID() < pool[j].ID()
	})
	return pool
}

// reserve freezes every input of every bundle. On failure, anything frozen
// so far is released.
func (b *Builder) reserve(bundles []*Bundle) error {
	var frozen []string
	for _, bundle := range bundles {
		for _, u := range bundle.UsedUtxos {
			if err := b.store.Freeze(u.ID()); err != nil {
				for _, id := range frozen {
					_ = b.store.Unfreeze(id)
				}
				return fmt.Errorf("%w: %s: %w", ErrReservation, u.ID(), err)
			}
			u.Frozen = true
			frozen = append(frozen, u.ID())
		}
	}
	return nil
}

func (b *Builder) changeKeys() ([]*ec.PrivateKey, error) {
	if b.keys == nil {
		return nil, ErrNoChangeKeys
	}
	keys, err := b.keys.ChangeKeys()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoChangeKeys, err)
	}
	if len(keys) == 0 {
		return nil, ErrNoChangeKeys
	}
	shuffled := append([]*ec.PrivateKey(nil), keys...)
	b.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled, nil
}
