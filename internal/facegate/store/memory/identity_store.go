package memory

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"

	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
)

// IdentityStore keeps identities in an insertion-ordered map. It is used
// in tests and dev environments.
type IdentityStore struct {
	mu   sync.RWMutex
	recs *linkedhashmap.Map // name -> store.IdentityRecord
}

func NewIdentityStore() *IdentityStore {
	return &IdentityStore{recs: linkedhashmap.New()}
}

func (s *IdentityStore) List(_ context.Context) ([]store.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.IdentityRecord, 0, s.recs.Size())
	it := s.recs.Iterator()
	for it.Next() {
		out = append(out, it.Value().(store.IdentityRecord).Clone())
	}
	return out, nil
}

func (s *IdentityStore) Get(_ context.Context, name string) (store.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.recs.Get(name)
	if !ok {
		return store.IdentityRecord{}, store.ErrNotFound
	}
	return v.(store.IdentityRecord).Clone(), nil
}

func (s *IdentityStore) Insert(_ context.Context, rec store.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recs.Get(rec.Name); ok {
		return store.ErrNameExists
	}
	s.recs.Put(rec.Name, rec.Clone())
	return nil
}

func (s *IdentityStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recs.Get(name); !ok {
		return store.ErrNotFound
	}
	s.recs.Remove(name)
	return nil
}

func (s *IdentityStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recs.Size(), nil
}
