package storage

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libstamp-go/contact"
)

// contactRecord is the gob form of contact.Contact.
type contactRecord struct {
	Handle   string
	Name     string
	PubKey   []byte
	Address  string
	RelayURL string
	AddedAt  time.Time
}

// BoltContactStore persists the contact book, keyed by handle.
type BoltContactStore struct {
	db *bbolt.DB
}

var _ contact.Store = (*BoltContactStore)(nil)

func (s *BoltContactStore) Put(c *contact.Contact) error {
	if c == nil || c.PubKey == nil || c.Handle == "" {
		return fmt.Errorf("%w: contact", contact.ErrNilParam)
	}
	data, err := encodeGob(contactRecord{
		Handle:   c.Handle,
		Name:     c.Name,
		PubKey:   c.PubKey.Compressed(),
		Address:  c.Address,
		RelayURL: c.RelayURL,
		AddedAt:  c.AddedAt,
	})
	if err != nil {
		return fmt.Errorf("storage: encode contact: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketContacts).Put([]byte(c.Handle), data)
	})
}

func (s *BoltContactStore) Delete(handle string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketContacts).Delete([]byte(handle))
	})
}

func (s *BoltContactStore) All() ([]*contact.Contact, error) {
	var out []*contact.Contact
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketContacts).ForEach(func(_, v []byte) error {
			var r contactRecord
			if err := decodeGob(v, &r); err != nil {
				return err
			}
			pub, err := ec.PublicKeyFromBytes(r.PubKey)
			if err != nil {
				return fmt.Errorf("%w: contact %s: %w", ErrCorruptRecord, r.Handle, err)
			}
			out = append(out, &contact.Contact{
				Handle:   r.Handle,
				Name:     r.Name,
				PubKey:   pub,
				Address:  r.Address,
				RelayURL: r.RelayURL,
				AddedAt:  r.AddedAt,
			})
			return nil
		})
	})
	return out, err
}
