package payload

import (
	"encoding/hex"
	"iter"
	"sort"
	"sync"
	"time"
)

// Status tracks a stored message through sending and receipt.
type Status uint8

const (
	StatusPending Status = iota
	StatusSent
	StatusFailed
	StatusReceived
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	case StatusReceived:
		return "received"
	default:
		return "unknown"
	}
}

// StoredMessage is the local record of a sent or received message.
type StoredMessage struct {
	Digest         []byte
	Counterparty   []byte // compressed public key
	Outbound       bool
	Status         Status
	Envelope       []byte // wire-format Message
	Plaintext      []byte // wire-format Payload
	ReceivedAt     time.Time
	PreviousDigest []byte // the attempt this one supersedes
	Attempts       int
}

// Key returns the hex digest used as the store key.
func (m *StoredMessage) Key() string {
	return hex.EncodeToString(m.Digest)
}

// Payload decodes the stored plaintext.
func (m *StoredMessage) Payload() (*Payload, error) {
	return UnmarshalPayload(m.Plaintext)
}

// MessageStore is the durable message map, keyed by payload digest.
type MessageStore interface {
	Get(digest []byte) (*StoredMessage, error)
	Put(m *StoredMessage) error
	Delete(digest []byte) error
	Has(digest []byte) (bool, error)
	// Messages iterates in ReceivedAt order.
	Messages() iter.Seq[*StoredMessage]
}

// MemoryMessageStore is an in-memory MessageStore.
type MemoryMessageStore struct {
	mu   sync.RWMutex
	msgs map[string]*StoredMessage
}

var _ MessageStore = (*MemoryMessageStore)(nil)

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{msgs: make(map[string]*StoredMessage)}
}

func (s *MemoryMessageStore) Get(digest []byte) (*StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.msgs[hex.EncodeToString(digest)]
	if !ok {
		return nil, ErrMessageNotFound
	}
	c := *m
	return &c, nil
}

func (s *MemoryMessageStore) Put(m *StoredMessage) error {
	if m == nil || len(m.Digest) == 0 {
		return ErrNilParam
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *m
	s.msgs[m.Key()] = &c
	return nil
}

func (s *MemoryMessageStore) Delete(digest []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := hex.EncodeToString(digest)
	if _, ok := s.msgs[key]; !ok {
		return ErrMessageNotFound
	}
	delete(s.msgs, key)
	return nil
}

func (s *MemoryMessageStore) Has(digest []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.msgs[hex.EncodeToString(digest)]
	return ok, nil
}

func (s *MemoryMessageStore) Messages() iter.Seq[*StoredMessage] {
	s.mu.RLock()
	snap := make([]*StoredMessage, 0, len(s.msgs))
	for _, m := range s.msgs {
		c := *m
		snap = append(snap, &c)
	}
	s.mu.RUnlock()
	SortByTime(snap)

	return func(yield func(*StoredMessage) bool) {
		for _, m := range snap {
			if !yield(m) {
				return
			}
		}
	}
}

// SortByTime orders messages by ReceivedAt, then digest.
func SortByTime(ms []*StoredMessage) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].ReceivedAt.Equal(ms[j].ReceivedAt) {
			return ms[i].ReceivedAt.Before(ms[j].ReceivedAt)
		}
		return ms[i].Key() < ms[j].Key()
	})
}
