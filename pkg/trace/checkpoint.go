package trace

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/l7mp/dbsp/pkg/storage"
)

// Checkpoint writes the spine to a store under the given operator id, replacing any earlier
// checkpoint of the same id. Batch i is written as generation i.
func (s *Spine) Checkpoint(ctx context.Context, store storage.Store, id string) error {
	if err := store.DeleteRange(storage.OperatorPrefix(id)); err != nil {
		return err
	}
	for i, b := range s.batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := store.Put(storage.BatchKey(id, uint64(i)), EncodeBatch(b)); err != nil {
			return err
		}
	}
	meta := binary.AppendUvarint(nil, s.frontier)
	meta = binary.AppendUvarint(meta, uint64(len(s.batches)))
	// the metadata record is written last and marks the checkpoint complete
	return store.Put(storage.MetaKey(id), meta)
}

// Restore replaces the contents of the spine with a checkpoint. The restored spine answers
// every lookup like the checkpointed one, batch boundaries may differ.
func (s *Spine) Restore(ctx context.Context, store storage.Store, id string) error {
	meta, err := store.Get(storage.MetaKey(id))
	if err != nil {
		return errors.Wrapf(err, "checkpoint metadata of %q", id)
	}
	frontier, n := binary.Uvarint(meta)
	if n <= 0 {
		return corrupt("invalid checkpoint metadata of %q", id)
	}
	count, m := binary.Uvarint(meta[n:])
	if m <= 0 {
		return corrupt("invalid checkpoint metadata of %q", id)
	}

	var batches []*Batch
	next := uint64(0)
	err = store.Iterate(storage.BatchPrefix(id), func(key, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		gen, err := storage.BatchGeneration(key)
		if err != nil {
			return err
		}
		if gen != next {
			return corrupt("missing batch generation %d of %q", next, id)
		}
		next++
		b, err := DecodeBatch(value)
		if err != nil {
			return errors.Wrapf(err, "batch %d of %q", gen, id)
		}
		batches = append(batches, b)
		return nil
	})
	if err != nil {
		return err
	}
	if uint64(len(batches)) != count {
		return corrupt("checkpoint of %q has %d batches, expected %d", id, len(batches), count)
	}

	s.Clear()
	s.frontier = frontier
	for _, b := range batches {
		s.Insert(b)
	}
	return nil
}
