package utxo

import (
	"iter"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	utxos map[string]*Utxo
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{utxos: make(map[string]*Utxo)}
}

func (m *MemoryStore) Get(id string) (*Utxo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.utxos[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (m *MemoryStore) Put(u *Utxo) error {
	if u == nil {
		return ErrNilUtxo
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utxos[u.ID()] = u.Clone()
	return nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.utxos[id]; !ok {
		return ErrNotFound
	}
	delete(m.utxos, id)
	return nil
}

func (m *MemoryStore) Freeze(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.utxos[id]
	if !ok {
		return ErrNotFound
	}
	if u.Frozen {
		return ErrAlreadyFrozen
	}
	u.Frozen = true
	return nil
}

func (m *MemoryStore) Unfreeze(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.utxos[id]
	if !ok {
		return ErrNotFound
	}
	u.Frozen = false
	return nil
}

func (m *MemoryStore) Map() (map[string]*Utxo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Utxo, len(m.utxos))
	for id, u := range m.utxos {
		out[id] = u.Clone()
	}
	return out, nil
}

func (m *MemoryStore) All() iter.Seq[*Utxo] {
	return m.filtered(false)
}

func (m *MemoryStore) Frozen() iter.Seq[*Utxo] {
	return m.filtered(true)
}

// filtered snapshots under the lock so callers may mutate the store while
// ranging. Iteration order is by id.
func (m *MemoryStore) filtered(frozen bool) iter.Seq[*Utxo] {
	m.mu.RLock()
	var snap []*Utxo
	for _, u := range m.utxos {
		if u.Frozen == frozen {
			snap = append(snap, u.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(snap, func(i, j int) bool { return snap[i].ID() < snap[j].ID() })

	return func(yield func(*Utxo) bool) {
		for _, u := range snap {
			if !yield(u) {
				return
			}
		}
	}
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utxos = make(map[string]*Utxo)
	return nil
}
