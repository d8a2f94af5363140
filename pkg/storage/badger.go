package storage

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"
)

// badgerLogger adapts a logr.Logger to Badger's logger interface.
type badgerLogger struct {
	log logr.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(nil, fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.V(2).Info(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.V(4).Info(fmt.Sprintf(format, args...))
}

// BadgerStore is a Store on top of a Badger database.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = &BadgerStore{}

// OpenBadger opens a Badger database in dir. An empty dir opens an in-memory database.
func OpenBadger(dir string, syncWrites bool, log logr.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, storageError(err, "create database directory %s", dir)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithSyncWrites(syncWrites).WithNumVersionsToKeep(1)
	if log.GetSink() != nil {
		opts = opts.WithLogger(badgerLogger{log: log.WithName("badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storageError(err, "open badger database %q", dir)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError(err, "get %x", key)
	}
	return value, nil
}

func (s *BadgerStore) Put(key, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	return storageError(err, "put %x", key)
}

func (s *BadgerStore) DeleteRange(prefix []byte) error {
	if len(prefix) == 0 {
		return storageError(s.db.DropAll(), "drop all")
	}
	return storageError(s.db.DropPrefix(prefix), "drop prefix %x", prefix)
}

func (s *BadgerStore) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	type kv struct{ key, value []byte }
	var kvs []kv
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			kvs = append(kvs, kv{item.KeyCopy(nil), value})
		}
		return nil
	})
	if err != nil {
		return storageError(err, "iterate %x", prefix)
	}

	for _, e := range kvs {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return storageError(s.db.Close(), "close badger database")
}
