package storage

import (
	"fmt"
	"iter"

	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libstamp-go/log"
	"github.com/bitfsorg/libstamp-go/payload"
)

// BoltMessageStore persists messages in bbolt, keyed by payload digest.
type BoltMessageStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ payload.MessageStore = (*BoltMessageStore)(nil)

func (s *BoltMessageStore) Get(digest []byte) (*payload.StoredMessage, error) {
	var m payload.StoredMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMessages).Get(digest)
		if data == nil {
			return payload.ErrMessageNotFound
		}
		return decodeGob(data, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *BoltMessageStore) Put(m *payload.StoredMessage) error {
	if m == nil || len(m.Digest) == 0 {
		return payload.ErrNilParam
	}
	data, err := encodeGob(m)
	if err != nil {
		return fmt.Errorf("storage: encode message: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMessages).Put(m.Digest, data)
	})
}

func (s *BoltMessageStore) Delete(digest []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		if b.Get(digest) == nil {
			return payload.ErrMessageNotFound
		}
		return b.Delete(digest)
	})
}

func (s *BoltMessageStore) Has(digest []byte) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketMessages).Get(digest) != nil
		return nil
	})
	return found, err
}

// Messages iterates stored messages in ReceivedAt order.
func (s *BoltMessageStore) Messages() iter.Seq[*payload.StoredMessage] {
	return func(yield func(*payload.StoredMessage) bool) {
		var snap []*payload.StoredMessage
		err := s.db.View(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketMessages).ForEach(func(_, v []byte) error {
				var m payload.StoredMessage
				if err := decodeGob(v, &m); err != nil {
					return err
				}
				snap = append(snap, &m)
				return nil
			})
		})
		if err != nil {
			logStorageErr(err, "message iteration")
			return
		}
		payload.SortByTime(snap)
		for _, m := range snap {
			if !yield(m) {
				return
			}
		}
	}
}

func logStorageErr(err error, op string) {
	log.Storage.Error().Err(err).Str("op", op).Msg("storage read failed")
}
