package storage

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

var errClosed = errors.New("store is closed")

// PebbleStore is a Store on top of a Pebble LSM database.
type PebbleStore struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
}

var _ Store = &PebbleStore{}

// OpenPebble opens a Pebble database in dir. An empty dir opens an in-memory database.
func OpenPebble(dir string, syncWrites bool) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, storageError(err, "open pebble database %q", dir)
	}
	writeOpts := pebble.NoSync
	if syncWrites {
		writeOpts = pebble.Sync
	}
	return &PebbleStore{db: db, writeOpts: writeOpts}, nil
}

func (s *PebbleStore) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError(err, "get %x", key)
	}
	defer closer.Close()
	return bytes.Clone(value), nil
}

func (s *PebbleStore) Put(key, value []byte) error {
	return storageError(s.db.Set(key, value, s.writeOpts), "put %x", key)
}

func (s *PebbleStore) DeleteRange(prefix []byte) error {
	end := PrefixEnd(prefix)
	if end == nil {
		// the prefix is all 0xff bytes: delete keys one by one
		return s.Iterate(prefix, func(key, _ []byte) error {
			return storageError(s.db.Delete(key, s.writeOpts), "delete %x", key)
		})
	}
	return storageError(s.db.DeleteRange(prefix, end, s.writeOpts), "delete range %x", prefix)
}

func (s *PebbleStore) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: PrefixEnd(prefix)})
	if err != nil {
		return storageError(err, "iterate %x", prefix)
	}

	// Collect first so that fn may write to the store.
	type kv struct{ key, value []byte }
	var kvs []kv
	for iter.First(); iter.Valid(); iter.Next() {
		kvs = append(kvs, kv{bytes.Clone(iter.Key()), bytes.Clone(iter.Value())})
	}
	if err := errors.CombineErrors(iter.Error(), iter.Close()); err != nil {
		return storageError(err, "iterate %x", prefix)
	}

	for _, e := range kvs {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *PebbleStore) Close() error {
	return storageError(s.db.Close(), "close pebble database")
}
