package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	bucketUtxos    = []byte("utxos")
	bucketMessages = []byte("messages")
	bucketContacts = []byte("contacts")
)

// DB wraps the wallet's bbolt database.
type DB struct {
	db *bbolt.DB
}

// OpenDB opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenDB(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("storage: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUtxos, bucketMessages, bucketContacts} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: create buckets: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }

// Utxos returns a utxo.Store backed by this database.
func (d *DB) Utxos() *BoltUtxoStore { return &BoltUtxoStore{db: d.db} }

// Messages returns a payload.MessageStore backed by this database.
func (d *DB) Messages() *BoltMessageStore { return &BoltMessageStore{db: d.db} }

// Contacts returns a contact.Store backed by this database.
func (d *DB) Contacts() *BoltContactStore { return &BoltContactStore{db: d.db} }

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return nil
}
