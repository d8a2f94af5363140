package dbsp

import (
	"context"

	"github.com/l7mp/dbsp/pkg/storage"
	"github.com/l7mp/dbsp/pkg/trace"
	"github.com/l7mp/dbsp/pkg/zset"
)

// traced operators expose their spines for monitoring.
type traced interface {
	spines() []*trace.Spine
}

// indexedTrace is the trace of a stream indexed by a set of key columns. Updates of a tick are
// staged in a builder and appended to the spine as a single batch on commit.
type indexedTrace struct {
	keyCols   []int
	spine     *trace.Spine
	staged    *trace.Builder
	retention trace.Time
}

func newIndexedTrace(keyCols []int) *indexedTrace {
	return &indexedTrace{keyCols: keyCols, spine: trace.NewSpine(trace.Options{})}
}

func (t *indexedTrace) init(opts StateOptions) {
	t.spine = trace.NewSpine(opts.Trace)
	t.retention = opts.Retention
}

// key extracts the index key of a row.
func (t *indexedTrace) key(row zset.Tuple) (zset.Tuple, error) {
	if len(t.keyCols) == 0 {
		return zset.Tuple{}, nil
	}
	return row.Project(t.keyCols)
}

// stage records an update of the tick now.
func (t *indexedTrace) stage(now trace.Time, key, row zset.Tuple, w zset.Weight) {
	if t.staged == nil {
		t.staged = trace.NewBuilder(now, now+1)
	}
	t.staged.Push(key, row, now, w)
}

// rows returns the committed rows under key.
func (t *indexedTrace) rows(key zset.Tuple) []zset.Entry {
	recs := t.spine.Values(key)
	ret := make([]zset.Entry, len(recs))
	for i, r := range recs {
		ret[i] = zset.Entry{Tuple: r.Val, Weight: r.Weight}
	}
	return ret
}

func (t *indexedTrace) commit(now trace.Time) {
	if t.staged != nil {
		t.spine.Insert(t.staged.Seal())
		t.staged = nil
	}
	if now+1 > t.retention {
		t.spine.AdvanceTime(now + 1 - t.retention)
	}
}

func (t *indexedTrace) abort() { t.staged = nil }

func (t *indexedTrace) reset() {
	t.staged = nil
	t.spine.Clear()
}

// checkpoint compacts the history below the frontier into one batch and writes the spine.
func (t *indexedTrace) checkpoint(ctx context.Context, store storage.Store, id string) error {
	t.spine.CompactBefore(t.spine.Frontier())
	return t.spine.Checkpoint(ctx, store, id)
}

func (t *indexedTrace) restore(ctx context.Context, store storage.Store, id string) error {
	t.staged = nil
	return t.spine.Restore(ctx, store, id)
}

// saveZSet checkpoints a Z-set as a single-batch trace.
func saveZSet(ctx context.Context, store storage.Store, id string, z *zset.ZSet) error {
	s := trace.NewSpine(trace.Options{})
	b, err := trace.FromZSet(z, nil, 0)
	if err != nil {
		return err
	}
	s.Insert(b)
	return s.Checkpoint(ctx, store, id)
}

// loadZSet restores a Z-set written by saveZSet.
func loadZSet(ctx context.Context, store storage.Store, id string) (*zset.ZSet, error) {
	s := trace.NewSpine(trace.Options{})
	if err := s.Restore(ctx, store, id); err != nil {
		return nil, err
	}
	return s.ToZSet(), nil
}
