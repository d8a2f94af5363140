package storage

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

type memItem struct {
	key, value []byte
}

func (i *memItem) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*memItem).key) < 0
}

// MemStore is an in-memory Store backed by a B-tree.
type MemStore struct {
	mu     sync.RWMutex
	tree   *btree.BTree
	closed bool
}

var _ Store = &MemStore{}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{tree: btree.New(32)}
}

func (s *MemStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storageError(errClosed, "get")
	}
	item := s.tree.Get(&memItem{key: key})
	if item == nil {
		return nil, ErrNotFound
	}
	return bytes.Clone(item.(*memItem).value), nil
}

func (s *MemStore) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageError(errClosed, "put")
	}
	s.tree.ReplaceOrInsert(&memItem{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

func (s *MemStore) DeleteRange(prefix []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageError(errClosed, "delete range")
	}
	var doomed []btree.Item
	s.ascend(prefix, func(i *memItem) { doomed = append(doomed, i) })
	for _, i := range doomed {
		s.tree.Delete(i)
	}
	return nil
}

func (s *MemStore) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return storageError(errClosed, "iterate")
	}
	var items []*memItem
	s.ascend(prefix, func(i *memItem) { items = append(items, i) })
	s.mu.RUnlock()

	for _, i := range items {
		if err := fn(i.key, bytes.Clone(i.value)); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) ascend(prefix []byte, fn func(*memItem)) {
	s.tree.AscendGreaterOrEqual(&memItem{key: prefix}, func(item btree.Item) bool {
		i := item.(*memItem)
		if !bytes.HasPrefix(i.key, prefix) {
			return false
		}
		fn(i)
		return true
	})
}

// Len returns the number of keys in the store.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
