package storage

import (
	"fmt"
	"iter"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libstamp-go/utxo"
)

// utxoRecord is the on-disk form of a utxo.Utxo.
type utxoRecord struct {
	TxID        string
	OutputIndex uint32
	Satoshis    uint64
	Address     string
	Type        uint8
	PrivateKey  []byte
	Frozen      bool
}

func toRecord(u *utxo.Utxo) utxoRecord {
	r := utxoRecord{
		TxID:        u.TxID,
		OutputIndex: u.OutputIndex,
		Satoshis:    u.Satoshis,
		Address:     u.Address,
		Type:        uint8(u.Type),
		Frozen:      u.Frozen,
	}
	if u.PrivateKey != nil {
		r.PrivateKey = u.PrivateKey.Serialize()
	}
	return r
}

func (r utxoRecord) toUtxo() *utxo.Utxo {
	u := &utxo.Utxo{
		TxID:        r.TxID,
		OutputIndex: r.OutputIndex,
		Satoshis:    r.Satoshis,
		Address:     r.Address,
		Type:        utxo.Type(r.Type),
		Frozen:      r.Frozen,
	}
	if len(r.PrivateKey) > 0 {
		u.PrivateKey, _ = ec.PrivateKeyFromBytes(r.PrivateKey)
	}
	return u
}

// BoltUtxoStore persists UTXOs in bbolt, keyed by utxo id.
type BoltUtxoStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ utxo.Store = (*BoltUtxoStore)(nil)

func (s *BoltUtxoStore) Get(id string) (*utxo.Utxo, error) {
	var rec utxoRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUtxos).Get([]byte(id))
		if data == nil {
			return utxo.ErrNotFound
		}
		return decodeGob(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return rec.toUtxo(), nil
}

func (s *BoltUtxoStore) Put(u *utxo.Utxo) error {
	if u == nil {
		return utxo.ErrNilUtxo
	}
	data, err := encodeGob(toRecord(u))
	if err != nil {
		return fmt.Errorf("storage: encode utxo: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUtxos).Put([]byte(u.ID()), data)
	})
}

func (s *BoltUtxoStore) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUtxos)
		if b.Get([]byte(id)) == nil {
			return utxo.ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// Freeze marks a UTXO frozen in one read-modify-write transaction, failing
// with utxo.ErrAlreadyFrozen if it already is.
func (s *BoltUtxoStore) Freeze(id string) error {
	return s.setFrozen(id, true)
}

func (s *BoltUtxoStore) Unfreeze(id string) error {
	return s.setFrozen(id, false)
}

func (s *BoltUtxoStore) setFrozen(id string, frozen bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUtxos)
		data := b.Get([]byte(id))
		if data == nil {
			return utxo.ErrNotFound
		}
		var rec utxoRecord
		if err := decodeGob(data, &rec); err != nil {
			return err
		}
		if frozen && rec.Frozen {
			return utxo.ErrAlreadyFrozen
		}
		rec.Frozen = frozen
		out, err := encodeGob(rec)
		if err != nil {
			return fmt.Errorf("storage: encode utxo: %w", err)
		}
		return b.Put([]byte(id), out)
	})
}

func (s *BoltUtxoStore) Map() (map[string]*utxo.Utxo, error) {
	all, err := s.snapshot(func(utxoRecord) bool { return true })
	if err != nil {
		return nil, err
	}
	m := make(map[string]*utxo.Utxo, len(all))
	for _, u := range all {
		m[u.ID()] = u
	}
	return m, nil
}

// All iterates unfrozen UTXOs in key order. Read errors end iteration early
// and are logged.
func (s *BoltUtxoStore) All() iter.Seq[*utxo.Utxo] {
	return s.iterate(false)
}

// Frozen iterates frozen UTXOs in key order.
func (s *BoltUtxoStore) Frozen() iter.Seq[*utxo.Utxo] {
	return s.iterate(true)
}

func (s *BoltUtxoStore) iterate(frozen bool) iter.Seq[*utxo.Utxo] {
	return func(yield func(*utxo.Utxo) bool) {
		snap, err := s.snapshot(func(r utxoRecord) bool { return r.Frozen == frozen })
		if err != nil {
			logStorageErr(err, "utxo iteration")
			return
		}
		for _, u := range snap {
			if !yield(u) {
				return
			}
		}
	}
}

func (s *BoltUtxoStore) snapshot(keep func(utxoRecord) bool) ([]*utxo.Utxo, error) {
	var out []*utxo.Utxo
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUtxos).ForEach(func(_, v []byte) error {
			var rec utxoRecord
			if err := decodeGob(v, &rec); err != nil {
				return err
			}
			if keep(rec) {
				out = append(out, rec.toUtxo())
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltUtxoStore) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketUtxos); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketUtxos)
		return err
	})
}
