// Package storage provides the ordered key/value stores used to checkpoint circuit state.
package storage

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"

	"github.com/l7mp/dbsp/pkg/config"
)

var (
	// ErrNotFound is returned by Get for missing keys.
	ErrNotFound = errors.New("key not found")
	// ErrStorage marks I/O failures of a backend.
	ErrStorage = errors.New("storage failure")
)

// Store is an ordered key/value store.
type Store interface {
	// Get returns a copy of the value stored under key, or ErrNotFound.
	Get(key []byte) ([]byte, error)
	// Put stores a value under key.
	Put(key, value []byte) error
	// DeleteRange removes every key starting with prefix.
	DeleteRange(prefix []byte) error
	// Iterate calls fn for every key starting with prefix in ascending key order. Iteration
	// stops at the first error returned by fn. The store may be modified from fn.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	// Close releases the store.
	Close() error
}

// Open creates a store for the given configuration.
func Open(cfg config.Storage, log logr.Logger) (Store, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return NewMemStore(), nil
	case config.BackendPebble:
		return OpenPebble(cfg.Path, cfg.SyncWrites)
	case config.BackendBadger:
		return OpenBadger(cfg.Path, cfg.SyncWrites, log)
	default:
		return nil, errors.Newf("unknown storage backend %q", cfg.Backend)
	}
}

func storageError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrStorage)
}

// PrefixEnd returns the smallest key that is larger than every key with the given prefix,
// or nil if there is no such key.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

const (
	operatorTag byte = 'o'
	batchTag    byte = 'b'
	metaTag     byte = 'm'
)

// OperatorPrefix is the prefix of all keys owned by an operator. The id is length-prefixed
// so that no operator prefix is a prefix of another.
func OperatorPrefix(id string) []byte {
	buf := []byte{operatorTag}
	buf = binary.AppendUvarint(buf, uint64(len(id)))
	return append(buf, id...)
}

// BatchPrefix is the prefix of the batch keys of an operator.
func BatchPrefix(id string) []byte {
	return append(OperatorPrefix(id), batchTag)
}

// BatchKey is the key of a batch of an operator. Keys of one operator sort by generation.
func BatchKey(id string, generation uint64) []byte {
	return binary.BigEndian.AppendUint64(BatchPrefix(id), generation)
}

// BatchGeneration decodes the generation from a batch key.
func BatchGeneration(key []byte) (uint64, error) {
	if len(key) < 8 {
		return 0, errors.Newf("batch key too short: %x", key)
	}
	return binary.BigEndian.Uint64(key[len(key)-8:]), nil
}

// MetaKey is the key of an operator's metadata record.
func MetaKey(id string) []byte {
	return append(OperatorPrefix(id), metaTag)
}
