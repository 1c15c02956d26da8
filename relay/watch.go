package relay

import (
	"context"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/transaction"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libstamp-go/log"
	"github.com/bitfsorg/libstamp-go/network"
	"github.com/bitfsorg/libstamp-go/tx"
	"github.com/bitfsorg/libstamp-go/utxo"
)

// Watcher adds on-chain payments to wallet keys to the UTXO store as the
// indexer reports them.
type Watcher struct {
	sub     network.Subscriber
	indexer network.Indexer
	store   utxo.Store
	mainnet bool
	keys    map[string]*ec.PrivateKey // by locking script
}

// NewWatcher creates a watcher for keys. Call Run to start.
func NewWatcher(sub network.Subscriber, indexer network.Indexer, store utxo.Store, keys []*ec.PrivateKey, mainnet bool) (*Watcher, error) {
	if sub == nil || indexer == nil || store == nil {
		return nil, fmt.Errorf("%w: watcher dependencies", ErrNilParam)
	}
	w := &Watcher{
		sub:     sub,
		indexer: indexer,
		store:   store,
		mainnet: mainnet,
		keys:    make(map[string]*ec.PrivateKey, len(keys)),
	}
	for _, k := range keys {
		lock, err := tx.BuildP2PKHScript(k.PubKey())
		if err != nil {
			return nil, err
		}
		w.keys[string(lock)] = k
	}
	return w, nil
}

// Run subscribes every key and processes events until ctx is done or the
// subscriber closes its channel.
func (w *Watcher) Run(ctx context.Context) error {
	for lock := range w.keys {
		// P2PKH: OP_DUP OP_HASH160 <20> pkh OP_EQUALVERIFY OP_CHECKSIG
		pkh := []byte(lock)[3:23]
		if err := w.sub.Subscribe(ctx, pkh); err != nil {
			return err
		}
	}

	events := w.sub.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == network.EventError {
				log.Relay.Warn().Int("code", ev.ErrorCode).Str("msg", ev.Msg).Msg("indexer reported error")
				continue
			}
			if _, err := w.Ingest(ctx, ev.TxID); err != nil {
				log.Relay.Warn().Err(err).Str("txid", ev.TxID).Msg("watch: ingest failed")
			}
		}
	}
}

// Ingest fetches txid and stores each output paying a watched key that the
// store does not already hold. It returns the UTXOs added.
func (w *Watcher) Ingest(ctx context.Context, txid string) ([]*utxo.Utxo, error) {
	raw, err := w.indexer.Tx(ctx, txid)
	if err != nil {
		return nil, err
	}
	sdkTx, err := transaction.NewTransactionFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", txid, err)
	}
	id := sdkTx.TxID().String()

	var added []*utxo.Utxo
	for vout, out := range sdkTx.Outputs {
		if out.LockingScript == nil {
			continue
		}
		key, ok := w.keys[string(out.LockingScript.Bytes())]
		if !ok {
			continue
		}
		u := &utxo.Utxo{
			TxID:        id,
			OutputIndex: uint32(vout),
			Satoshis:    out.Satoshis,
			Address:     tx.OutputAddress(out, w.mainnet),
			Type:        utxo.TypeP2PKH,
			PrivateKey:  key,
		}
		if _, err := w.store.Get(u.ID()); err == nil {
			continue
		}
		if err := w.store.Put(u); err != nil {
			return added, err
		}
		added = append(added, u)
	}
	if len(added) > 0 {
		log.Relay.Info().Str("txid", id).Int("outputs", len(added)).Msg("incoming payment")
	}
	return added, nil
}
